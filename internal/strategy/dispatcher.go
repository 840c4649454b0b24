package strategy

import (
	"fmt"

	"xau-engine/internal/indicators"
	"xau-engine/pkg/db"
)

// Dispatcher routes a decision to the strategy matching the configured mode.
// In ADAPTIVE mode the ADX at the signal candle picks the regime: trending
// markets go to the SMA crossover, ranging markets to mean reversion, and the
// band between the thresholds produces no signal.
type Dispatcher struct {
	Mode string

	smaCross      SMACross
	meanReversion MeanReversion
	breakout      Breakout
}

// NewDispatcher builds a dispatcher for a strategy mode.
func NewDispatcher(mode string) (*Dispatcher, error) {
	switch mode {
	case ModeAdaptive, ModeSMAOnly, ModeMeanReversionOnly, ModeBreakoutOnly:
		return &Dispatcher{Mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}

func (d *Dispatcher) Name() string { return "dispatcher:" + d.Mode }

func (d *Dispatcher) Decide(history []db.Candle, decisionPrice float64, p Params, atr float64) *Signal {
	if len(history) < MinBars(p) {
		return nil
	}

	switch d.Mode {
	case ModeSMAOnly:
		return d.smaCross.Decide(history, decisionPrice, p, atr)
	case ModeMeanReversionOnly:
		return d.meanReversion.Decide(history, decisionPrice, p, atr)
	case ModeBreakoutOnly:
		return d.breakout.Decide(history, decisionPrice, p, atr)
	}

	adx := indicators.ADX(history, p.ADXPeriod).ADX[len(history)-1]
	if !indicators.Valid(adx) {
		return nil
	}
	switch {
	case adx > p.ADXTrendThreshold:
		return d.smaCross.Decide(history, decisionPrice, p, atr)
	case adx < p.ADXRangeThreshold:
		return d.meanReversion.Decide(history, decisionPrice, p, atr)
	default:
		// Between regimes: stand aside.
		return nil
	}
}
