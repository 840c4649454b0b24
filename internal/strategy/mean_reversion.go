package strategy

import (
	"fmt"

	"xau-engine/internal/indicators"
	"xau-engine/pkg/db"
)

// MeanReversion fades Bollinger band touches confirmed by an RSI turn: BUY
// when the signal close sits at or below the lower band with RSI oversold and
// turning up; SELL at the upper band with RSI overbought and turning down.
type MeanReversion struct{}

func (MeanReversion) Name() string { return "mean_reversion" }

func (MeanReversion) Decide(history []db.Candle, decisionPrice float64, p Params, atr float64) *Signal {
	n := len(history)
	if n < 2 || !indicators.Valid(atr) {
		return nil
	}

	bands := indicators.Bollinger(history, p.BBPeriod, p.BBStdDev)
	rsi := indicators.RSI(history, p.RSIPeriod)
	if !indicators.Valid(bands.Upper[n-1]) || !indicators.Valid(rsi[n-1]) || !indicators.Valid(rsi[n-2]) {
		return nil
	}

	close := history[n-1].Close
	rsiNow, rsiPrev := rsi[n-1], rsi[n-2]

	var side string
	switch {
	case close <= bands.Lower[n-1] && rsiNow < p.RSIOversold && rsiNow > rsiPrev:
		side = db.SideBuy
	case close >= bands.Upper[n-1] && rsiNow > p.RSIOverbought && rsiNow < rsiPrev:
		side = db.SideSell
	default:
		return nil
	}

	stop, take := levels(side, decisionPrice, p, atr)
	return &Signal{
		Side: side,
		Stop: stop,
		Take: take,
		Note: fmt.Sprintf("band touch, rsi %.1f (prev %.1f)", rsiNow, rsiPrev),
	}
}
