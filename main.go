package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"xau-engine/internal/api"
	"xau-engine/internal/backtest"
	"xau-engine/internal/bot"
	"xau-engine/internal/events"
	"xau-engine/internal/marketdata"
	"xau-engine/internal/notify"
	"xau-engine/internal/provider"
	"xau-engine/internal/strategy"
	"xau-engine/pkg/config"
	"xau-engine/pkg/db"
	"xau-engine/pkg/mail"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting xau-engine on port %s (provider=%s)", cfg.Port, cfg.ProviderType)

	// Store
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}
	log.Printf("store ready at %s", cfg.DBPath)

	// Strategy defaults (built-in, optionally overridden from YAML)
	defaults, err := strategy.LoadDefaults(cfg.StrategyConfigPath)
	if err != nil {
		log.Printf("strategy config load failed, using built-in defaults: %v", err)
		defaults = strategy.DefaultParams()
	}

	// Market data with the process-wide spot cache
	marketClient := marketdata.NewClient(cfg.MarketAPIKey, cfg.MarketBaseURL)
	spotCache := marketdata.NewSpotCache(marketClient)
	market := &marketSource{client: marketClient, cache: spotCache}

	// Core services
	bus := events.NewBus()
	mailer := mail.New(cfg.SendGridAPIKey, cfg.FromEmail, cfg.NotifyEmail)
	if !mailer.Enabled() {
		log.Println("email notifications disabled (SendGrid not configured)")
	}
	notifier := notify.NewService(database, mailer, bus)

	// Execution provider (falls back to simulated when bridge config is incomplete)
	prov := provider.FromConfig(cfg, database, spotCache)
	log.Printf("execution provider: %s", prov.Name())

	runner := bot.NewRunner(database, market, prov, notifier, bus, defaults, cfg.Symbol)
	backtester := backtest.NewEngine(database, notifier, bus)

	// API
	server := api.NewServer(cfg, database, market, prov, runner, backtester, bus, defaults)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// marketSource adapts the client+cache pair to the runner's MarketData view.
type marketSource struct {
	client *marketdata.Client
	cache  *marketdata.SpotCache
}

func (m *marketSource) Spot(ctx context.Context) (float64, error) {
	return m.cache.Spot(ctx)
}

func (m *marketSource) History(ctx context.Context, interval, outputsize string) ([]db.Candle, error) {
	return m.client.FetchHistorical(ctx, interval, outputsize)
}
