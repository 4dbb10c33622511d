// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/models"
	"github.com/shopspring/decimal"
)

// maxFailuresListed caps the failure lines in a single report.
const maxFailuresListed = 10

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// FloorStore is the floor management surface exposed to the chat.
type FloorStore interface {
	AllFloors() (map[string]models.Price, error)
	SetFloor(hashName string, price models.Price) error
	RemoveFloor(hashName string) (bool, error)
}

// BalanceFetcher answers /balance.
type BalanceFetcher interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// StatsSource answers /stats with the last completed cycle.
type StatsSource interface {
	Last() (models.RunStats, bool)
}

// Commands holds what bot commands operate on. Nil fields disable the
// matching commands.
type Commands struct {
	Floors  FloorStore
	Balance BalanceFetcher
	Stats   StatsSource
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// Only messages from the configured chat are answered.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, cmds Commands) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg := update.Message
				if msg == nil || !msg.IsCommand() {
					continue
				}
				if msg.Chat.ID != c.chatID {
					logger.Warn("Ignoring /%s from unknown chat %d", msg.Command(), msg.Chat.ID)
					continue
				}
				text := handleCommand(ctx, msg.Command(), msg.CommandArguments(), cmds)
				if text == "" {
					continue
				}
				reply := tgbotapi.NewMessage(msg.Chat.ID, text)
				if _, err := c.bot.Send(reply); err != nil {
					logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
				}
			}
		}
	}()
}

// handleCommand returns the plain-text reply for a command, or "" to stay silent.
func handleCommand(ctx context.Context, command, args string, cmds Commands) string {
	args = strings.TrimSpace(args)

	switch command {
	case "ping":
		return "Pong"

	case "floors":
		if cmds.Floors == nil {
			return "Floor store unavailable"
		}
		floors, err := cmds.Floors.AllFloors()
		if err != nil {
			return fmt.Sprintf("Failed to read floors: %v", err)
		}
		return formatFloors(floors)

	case "setfloor":
		if cmds.Floors == nil {
			return "Floor store unavailable"
		}
		priceArg, name, found := strings.Cut(args, " ")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return "Usage: /setfloor <price> <market hash name>"
		}
		price, err := models.ParsePrice(priceArg)
		if err != nil {
			return fmt.Sprintf("Invalid price %q", priceArg)
		}
		if err := cmds.Floors.SetFloor(name, price); err != nil {
			return fmt.Sprintf("Failed to set floor: %v", err)
		}
		logger.Info("Floor for %s set to %s via Telegram", name, price)
		return fmt.Sprintf("Floor for %s set to %s", name, price)

	case "rmfloor":
		if cmds.Floors == nil {
			return "Floor store unavailable"
		}
		if args == "" {
			return "Usage: /rmfloor <market hash name>"
		}
		removed, err := cmds.Floors.RemoveFloor(args)
		if err != nil {
			return fmt.Sprintf("Failed to remove floor: %v", err)
		}
		if !removed {
			return fmt.Sprintf("No floor set for %s", args)
		}
		logger.Info("Floor for %s removed via Telegram", args)
		return fmt.Sprintf("Floor for %s removed", args)

	case "balance":
		if cmds.Balance == nil {
			return "Balance unavailable"
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		balance, err := cmds.Balance.Balance(ctx)
		if err != nil {
			return fmt.Sprintf("Failed to fetch balance: %v", err)
		}
		return fmt.Sprintf("Balance: $%s", balance.StringFixed(2))

	case "stats":
		if cmds.Stats == nil {
			return "Stats unavailable"
		}
		stats, ok := cmds.Stats.Last()
		if !ok {
			return "No completed cycle yet"
		}
		return formatStatsPlain(stats)
	}

	return ""
}

func formatFloors(floors map[string]models.Price) string {
	if len(floors) == 0 {
		return "No floors configured"
	}
	names := make([]string, 0, len(floors))
	for name := range floors {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Floors:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\n", name, floors[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStatsPlain(s models.RunStats) string {
	return fmt.Sprintf("Last cycle %s (%s)\ntotal=%d first=%d updated=%d skipped=%d below_min=%d failed=%d cancelled=%d",
		s.StartedAt.Format("2006-01-02 15:04:05"), s.Duration.Round(time.Millisecond),
		s.Total, s.FirstPosition, s.Updated, s.Skipped, s.BelowMin, s.Failed, s.Cancelled)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a repricing error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Repricing error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Repricing recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendReport sends the summary of a cycle that changed or failed something.
func (c *Client) SendReport(stats models.RunStats) error {
	return c.sendMarkdownV2(formatReport(stats))
}

// formatReport formats cycle stats into a Telegram MarkdownV2 message.
func formatReport(s models.RunStats) string {
	var b strings.Builder
	b.WriteString("💹 *Repricing cycle*\n")
	fmt.Fprintf(&b, "📅 %s \\(%s\\)\n\n",
		escapeMarkdownV2(s.StartedAt.Format("2006-01-02 15:04:05")),
		escapeMarkdownV2(s.Duration.Round(time.Millisecond).String()))

	fmt.Fprintf(&b, "Total: %d\n", s.Total)
	fmt.Fprintf(&b, "🥇 First position: %d\n", s.FirstPosition)
	fmt.Fprintf(&b, "📉 Updated: %d\n", s.Updated)
	fmt.Fprintf(&b, "⏭ Skipped: %d\n", s.Skipped)
	fmt.Fprintf(&b, "🛑 Below floor: %d\n", s.BelowMin)
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, "✋ Cancelled: %d\n", s.Cancelled)
	}
	fmt.Fprintf(&b, "❌ Failed: %d\n", s.Failed)

	if len(s.Failures) > 0 {
		b.WriteString("\n*Failures*\n")
		for i, f := range s.Failures {
			if i == maxFailuresListed {
				fmt.Fprintf(&b, "…and %d more\n", len(s.Failures)-maxFailuresListed)
				break
			}
			fmt.Fprintf(&b, "%d\\. %s at %s\n", i+1, escapeMarkdownV2(f.MarketHashName), escapeMarkdownV2(f.AttemptedPrice.String()))
			detail := fmt.Sprintf("%v", f.Err)
			if f.Raw != "" {
				detail = f.Raw
			}
			fmt.Fprintf(&b, "   `%s`\n", escapeMarkdownV2(detail))
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
