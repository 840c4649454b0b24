package provider

import (
	"log"

	"xau-engine/internal/marketdata"
	"xau-engine/pkg/config"
	"xau-engine/pkg/db"
)

// FromConfig selects the execution provider. METATRADER with an incomplete
// bridge configuration falls back to the simulator with a warning.
func FromConfig(cfg *config.Config, database *db.Database, spot *marketdata.SpotCache) Provider {
	if cfg.ProviderType == config.ProviderMetaTrader {
		if cfg.BridgeConfigured() {
			return NewBridge(cfg.BridgeURL, cfg.BridgeAPIKey)
		}
		log.Printf("provider: TRADE_PROVIDER_TYPE=METATRADER but MT_BRIDGE_URL/MT_BRIDGE_API_KEY incomplete, falling back to simulated")
	}
	return NewSimulated(database, spot, cfg.DefaultBalance)
}
