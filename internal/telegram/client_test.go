package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/repricer/internal/models"
	"github.com/shopspring/decimal"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"AK-47 | Redline (Field-Tested)", "AK\\-47 \\| Redline \\(Field\\-Tested\\)"},
		{"`code`", "\\`code\\`"},
		{"back\\slash", "back\\\\slash"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// chat ID is parsed before the bot token is checked against the API
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestFormatReport(t *testing.T) {
	stats := models.RunStats{
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Total:     3, FirstPosition: 1, Updated: 1, Skipped: 2, BelowMin: 1, Failed: 1,
		Failures: []models.Failure{{
			MarketHashName: "AK-47 | Redline (Field-Tested)",
			AttemptedPrice: 9490,
			Attempts:       3,
			Err:            errors.New("set-price: api error"),
			Raw:            `{"success":false,"error":"too_often"}`,
		}},
	}

	msg := formatReport(stats)
	for _, want := range []string{
		"2024\\-05\\-01 12:00:00",
		"Updated: 1",
		"Below floor: 1",
		"AK\\-47 \\| Redline \\(Field\\-Tested\\) at $9\\.490",
		`too\_often`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("report missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "Cancelled") {
		t.Errorf("zero cancelled should be omitted:\n%s", msg)
	}
}

func TestFormatReport_CapsFailures(t *testing.T) {
	var stats models.RunStats
	for i := 0; i < maxFailuresListed+3; i++ {
		stats.Failures = append(stats.Failures, models.Failure{MarketHashName: "x", Err: errors.New("e")})
	}
	if msg := formatReport(stats); !strings.Contains(msg, "and 3 more") {
		t.Errorf("expected truncation note:\n%s", msg)
	}
}

type memFloors map[string]models.Price

func (m memFloors) AllFloors() (map[string]models.Price, error) { return m, nil }

func (m memFloors) SetFloor(name string, p models.Price) error {
	if p <= 0 {
		return errors.New("invalid floor")
	}
	m[name] = p
	return nil
}

func (m memFloors) RemoveFloor(name string) (bool, error) {
	_, ok := m[name]
	delete(m, name)
	return ok, nil
}

type fixedBalance struct {
	v   decimal.Decimal
	err error
}

func (f fixedBalance) Balance(ctx context.Context) (decimal.Decimal, error) { return f.v, f.err }

type fixedStats struct {
	s  models.RunStats
	ok bool
}

func (f fixedStats) Last() (models.RunStats, bool) { return f.s, f.ok }

func TestHandleCommand(t *testing.T) {
	floors := memFloors{"Sticker | Crown (Foil)": 800000}
	cmds := Commands{
		Floors:  floors,
		Balance: fixedBalance{v: decimal.RequireFromString("12.345")},
		Stats:   fixedStats{s: models.RunStats{Total: 4, Updated: 2}, ok: true},
	}

	tests := []struct {
		command string
		args    string
		want    string
	}{
		{"ping", "", "Pong"},
		{"floors", "", "Sticker | Crown (Foil): $800.000"},
		{"setfloor", "9.50 AK-47 | Redline (Field-Tested)", "Floor for AK-47 | Redline (Field-Tested) set to $9.500"},
		{"setfloor", "9.50", "Usage: /setfloor"},
		{"setfloor", "cheap AK-47", "Invalid price"},
		{"setfloor", "0 AK-47", "Failed to set floor"},
		{"rmfloor", "Sticker | Crown (Foil)", "removed"},
		{"rmfloor", "Sticker | Crown (Foil)", "No floor set"},
		{"rmfloor", "", "Usage: /rmfloor"},
		{"balance", "", "Balance: $12.35"},
		{"stats", "", "total=4 first=0 updated=2"},
		{"unknown", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.command+" "+tt.args, func(t *testing.T) {
			got := handleCommand(context.Background(), tt.command, tt.args, cmds)
			if tt.want == "" {
				if got != "" {
					t.Errorf("expected silence, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("handleCommand(%s %q) = %q, want it to contain %q", tt.command, tt.args, got, tt.want)
			}
		})
	}

	if floors["AK-47 | Redline (Field-Tested)"] != 9500 {
		t.Errorf("setfloor did not persist: %v", floors)
	}
}

func TestHandleCommand_Unavailable(t *testing.T) {
	if got := handleCommand(context.Background(), "stats", "", Commands{Stats: fixedStats{}}); got != "No completed cycle yet" {
		t.Errorf("got %q", got)
	}
	if got := handleCommand(context.Background(), "floors", "", Commands{}); got != "Floor store unavailable" {
		t.Errorf("got %q", got)
	}
	if got := handleCommand(context.Background(), "balance", "", Commands{Balance: fixedBalance{err: errors.New("down")}}); !strings.Contains(got, "down") {
		t.Errorf("got %q", got)
	}
}
