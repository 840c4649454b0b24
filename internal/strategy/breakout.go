package strategy

import "xau-engine/pkg/db"

// Breakout is the reserved BREAKOUT_ONLY slot. It never signals; the mode is
// accepted so sessions configured with it run without trading.
type Breakout struct{}

func (Breakout) Name() string { return "breakout" }

func (Breakout) Decide(history []db.Candle, decisionPrice float64, p Params, atr float64) *Signal {
	return nil
}
