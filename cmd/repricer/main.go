package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/awnumar/memguard"
	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/repricer/internal/config"
	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/market"
	"github.com/rewired-gh/repricer/internal/metrics"
	"github.com/rewired-gh/repricer/internal/models"
	"github.com/rewired-gh/repricer/internal/notify"
	"github.com/rewired-gh/repricer/internal/ratelimit"
	"github.com/rewired-gh/repricer/internal/repricer"
	"github.com/rewired-gh/repricer/internal/storage"
	"github.com/rewired-gh/repricer/internal/telegram"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	autoConfirm = flag.Bool("auto-confirm", false, "Apply price changes without asking (overrides repricer.auto_confirm)")
)

const usage = `Usage: repricer [flags] [command]

Commands:
  run                          reprice on every check interval (default)
  once                         run a single repricing cycle
  items                        show listings with best offer and position
  inventory                    show items available for listing
  balance                      show account balance
  floors                       show configured price floors
  floor-set <price> <name>     set the floor for a market hash name
  floor-rm <name>              remove the floor for a market hash name

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer memguard.Purge()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "auto-confirm" {
			cfg.Repricer.AutoConfirm = *autoConfirm
		}
	})

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}
	if !knownCommands[command] {
		flag.Usage()
		memguard.SafeExit(2)
	}

	var args []string
	if flag.NArg() > 1 {
		args = flag.Args()[1:]
	}
	if err := execute(cfg, command, args); err != nil {
		logger.Error("%s failed: %v", command, err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		memguard.SafeExit(1)
	}
}

var knownCommands = map[string]bool{
	"run": true, "once": true, "items": true, "inventory": true,
	"balance": true, "floors": true, "floor-set": true, "floor-rm": true,
}

// execute opens the shared resources and runs command. Every resource it
// opens is released before it returns.
func execute(cfg *config.Config, command string, args []string) error {
	floors, err := cfg.Floors()
	if err != nil {
		return fmt.Errorf("invalid floors: %w", err)
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	n, err := store.SeedFloors(floors)
	if err != nil {
		return fmt.Errorf("failed to seed floors: %w", err)
	}
	if n > 0 {
		logger.Info("Seeded %d price floors from configuration", n)
	}

	var limiter market.Limiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		lim := ratelimit.New(rdb, cfg.Redis.Key, cfg.Redis.Rate, float64(cfg.Redis.Burst))
		lim.SetCost("set-price", cfg.Redis.SetPriceCost)
		limiter = lim
		logger.Info("Shared rate limiter enabled (%s, %.1f req/s)", cfg.Redis.Key, cfg.Redis.Rate)
	}

	client := market.NewClient(cfg.Market.BaseURL, cfg.Market.APIKey, market.ClientConfig{
		Timeout:    cfg.Market.Timeout,
		MaxRetries: cfg.Market.MaxRetries,
		RetryDelay: cfg.Market.RetryDelay,
		Limiter:    limiter,
	})
	cfg.Market.APIKey = ""

	engine := repricer.New(client, store, repricer.Config{
		Currency:          cfg.Market.Currency,
		RequestPause:      cfg.Market.RequestPause,
		SubmitMaxAttempts: cfg.Repricer.SubmitMaxAttempts,
		SubmitRetryDelay:  cfg.Repricer.SubmitRetryDelay,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The confirmer gets the signal context while cycles run detached, so
	// Ctrl+C declines pending prompts but never interrupts a submission.
	if !cfg.Repricer.AutoConfirm {
		engine.SetConfirmer(newStdinConfirmer(ctx, os.Stdin, os.Stdout))
	}

	switch command {
	case "run", "once":
		return run(ctx, cfg, client, engine, store, command == "once")
	case "items":
		return printItems(ctx, engine)
	case "inventory":
		return printInventory(ctx, client)
	case "balance":
		return printBalance(ctx, client, cfg.Market.Currency)
	case "floors":
		return printFloors(store)
	case "floor-set":
		return setFloor(store, args)
	case "floor-rm":
		return removeFloor(store, args)
	}
	return fmt.Errorf("unknown command %q", command)
}

func run(ctx context.Context, cfg *config.Config, client *market.Client, engine *repricer.Engine, store *storage.Storage, once bool) error {
	balance, err := client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch balance, check market.api_key: %w", err)
	}
	logger.Info("Connected, balance: %s %s", balance.StringFixed(2), cfg.Market.Currency)

	var notifiers notify.Multi
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifiers = append(notifiers, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	if cfg.Email.Enabled {
		notifiers = append(notifiers, notify.NewEmailNotifier(notify.EmailConfig{
			SMTPHost: cfg.Email.SMTPHost,
			SMTPPort: cfg.Email.SMTPPort,
			SMTPUser: cfg.Email.SMTPUser,
			SMTPPass: cfg.Email.SMTPPass,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}))
		logger.Info("Email notifications enabled")
	}
	tracker := notify.NewTracker(notifiers)

	loop := repricer.NewLoop(engine, repricer.LoopConfig{
		Interval:    cfg.Interval(),
		AutoConfirm: cfg.Repricer.AutoConfirm,
	})
	loop.OnCycle(tracker.HandleCycle)
	if cfg.Repricer.KeepAlive {
		loop.SetPinger(client)
	}

	if once {
		_, err := loop.RunOnce(ctx)
		return err
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, telegram.Commands{
			Floors:  store,
			Balance: client,
			Stats:   tracker,
		})
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}
	logger.Info("Service stopped")
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func printItems(ctx context.Context, engine *repricer.Engine) error {
	listings, err := engine.EvaluateListings(ctx)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Println("No listings on sale")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPRICE\tBEST\tPOSITION\tFLOOR\tDECISION")
	for _, l := range listings {
		d, err := engine.Decide(l)
		if err != nil {
			return err
		}
		floor := "-"
		if d.HasFloor {
			floor = d.Floor.String()
		}
		decision := d.Kind.String()
		if d.Kind == repricer.Update {
			decision += " " + d.NewPrice.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t~%d\t%s\t%s\n", l.MarketHashName, l.CurrentPrice, l.BestPrice, l.Position, floor, decision)
	}
	return w.Flush()
}

func printInventory(ctx context.Context, client *market.Client) error {
	items, err := client.FetchInventory(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Inventory is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMARKET PRICE\tTRADABLE")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", it.ID, it.MarketHashName, it.MarketPrice, it.Tradable)
	}
	return w.Flush()
}

func printBalance(ctx context.Context, client *market.Client, currency string) error {
	balance, err := client.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", balance.StringFixed(2), currency)
	return nil
}

func printFloors(store *storage.Storage) error {
	floors, err := store.AllFloors()
	if err != nil {
		return err
	}
	if len(floors) == 0 {
		fmt.Println("No floors configured")
		return nil
	}

	names := make([]string, 0, len(floors))
	for name := range floors {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFLOOR")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, floors[name])
	}
	return w.Flush()
}

func setFloor(store *storage.Storage, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: floor-set <price> <market hash name>")
	}
	price, err := models.ParsePrice(args[0])
	if err != nil {
		return err
	}
	name := joinArgs(args[1:])
	if err := store.SetFloor(name, price); err != nil {
		return err
	}
	fmt.Printf("Floor for %s set to %s\n", name, price)
	return nil
}

func removeFloor(store *storage.Storage, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: floor-rm <market hash name>")
	}
	name := joinArgs(args)
	removed, err := store.RemoveFloor(name)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("No floor set for %s\n", name)
		return nil
	}
	fmt.Printf("Floor for %s removed\n", name)
	return nil
}

// joinArgs lets a hash name span several shell arguments.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
