package strategy

import (
	"fmt"

	"xau-engine/internal/indicators"
	"xau-engine/pkg/db"
)

// SMACross trades moving-average crossovers: BUY on an up-cross of the short
// SMA over the long SMA at the signal candle, SELL on a down-cross.
type SMACross struct{}

func (SMACross) Name() string { return "sma_cross" }

func (SMACross) Decide(history []db.Candle, decisionPrice float64, p Params, atr float64) *Signal {
	n := len(history)
	if n < 2 || !indicators.Valid(atr) {
		return nil
	}

	short := indicators.SMA(history, p.SMAShort)
	long := indicators.SMA(history, p.SMALong)
	if !indicators.Valid(short[n-1]) || !indicators.Valid(long[n-1]) ||
		!indicators.Valid(short[n-2]) || !indicators.Valid(long[n-2]) {
		return nil
	}

	prevShort, prevLong := short[n-2], long[n-2]
	curShort, curLong := short[n-1], long[n-1]

	var side string
	switch {
	case prevShort <= prevLong && curShort > curLong:
		side = db.SideBuy
	case prevShort >= prevLong && curShort < curLong:
		side = db.SideSell
	default:
		return nil
	}

	stop, take := levels(side, decisionPrice, p, atr)
	return &Signal{
		Side: side,
		Stop: stop,
		Take: take,
		Note: fmt.Sprintf("sma cross %d/%d: %.2f vs %.2f", p.SMAShort, p.SMALong, curShort, curLong),
	}
}
