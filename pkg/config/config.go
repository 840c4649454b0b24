package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Provider type values accepted in TRADE_PROVIDER_TYPE.
const (
	ProviderSimulated  = "SIMULATED"
	ProviderMetaTrader = "METATRADER"
)

// Config holds environment-driven settings for the trading engine.
type Config struct {
	Port string

	// Store
	DBPath string

	// Market data
	MarketAPIKey  string
	MarketBaseURL string

	// Execution
	ProviderType   string // SIMULATED or METATRADER
	BridgeURL      string
	BridgeAPIKey   string
	DefaultBalance float64 // simulated account fallback balance

	// Email (optional; skipped when unset)
	SendGridAPIKey string
	FromEmail      string
	NotifyEmail    string

	// Admin actions
	AdminJWTSecret string

	// Strategy defaults
	StrategyConfigPath string

	// Instrument
	Symbol string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             os.Getenv("DB_PATH"),
		MarketAPIKey:       os.Getenv("MARKET_API_KEY"),
		MarketBaseURL:      getEnv("MARKET_API_BASE_URL", "https://www.alphavantage.co"),
		ProviderType:       strings.ToUpper(getEnv("TRADE_PROVIDER_TYPE", ProviderSimulated)),
		BridgeURL:          strings.TrimRight(os.Getenv("MT_BRIDGE_URL"), "/"),
		BridgeAPIKey:       os.Getenv("MT_BRIDGE_API_KEY"),
		DefaultBalance:     getEnvFloat("DEFAULT_ACCOUNT_BALANCE", 10000.0),
		SendGridAPIKey:     os.Getenv("SENDGRID_API_KEY"),
		FromEmail:          os.Getenv("FROM_EMAIL"),
		NotifyEmail:        os.Getenv("NOTIFICATION_EMAIL_RECIPIENT"),
		AdminJWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG_PATH", "strategies.yaml"),
		Symbol:             getEnv("TRADE_SYMBOL", "XAUUSD"),
	}

	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if cfg.MarketAPIKey == "" {
		return nil, errors.New("MARKET_API_KEY is required")
	}
	return cfg, nil
}

// EmailEnabled reports whether outbound email is fully configured.
func (c *Config) EmailEnabled() bool {
	return c.SendGridAPIKey != "" && c.FromEmail != "" && c.NotifyEmail != ""
}

// BridgeConfigured reports whether the MetaTrader bridge can be used.
func (c *Config) BridgeConfigured() bool {
	return c.BridgeURL != "" && c.BridgeAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
