package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xau-engine/pkg/db"
)

func testParams() Params {
	p := DefaultParams()
	p.SMAShort = 2
	p.SMALong = 3
	p.BBPeriod = 5
	p.BBStdDev = 0.5
	p.RSIPeriod = 3
	p.ATRPeriod = 5
	p.ATRMultSL = 1
	p.ATRMultTP = 2
	p.ADXPeriod = 5
	return p
}

func candlesFromCloses(closes []float64) []db.Candle {
	out := make([]db.Candle, len(closes))
	for i, c := range closes {
		out[i] = db.Candle{Open: c, High: c + 2, Low: c - 2, Close: c}
	}
	return out
}

// crossFixture ends in a dip-then-pop so the short SMA freshly crosses above
// the long SMA at the signal candle.
func crossFixture() []db.Candle {
	closes := make([]float64, 0, 30)
	for i := 0; i < 26; i++ {
		if i%2 == 0 {
			closes = append(closes, 2004)
		} else {
			closes = append(closes, 2006)
		}
	}
	closes = append(closes, 2010, 2000, 1990, 2012)
	return candlesFromCloses(closes)
}

func TestSMACrossBuySignal(t *testing.T) {
	p := testParams()
	history := crossFixture()

	sig := SMACross{}.Decide(history, 2015, p, 5)
	require.NotNil(t, sig)
	assert.Equal(t, db.SideBuy, sig.Side)
	assert.InDelta(t, 2010.0, sig.Stop, 1e-9)
	assert.InDelta(t, 2025.0, sig.Take, 1e-9)
}

func TestSMACrossNoSignalWithoutCross(t *testing.T) {
	p := testParams()
	// Monotonic rise: short SMA already above long, no fresh cross.
	history := candlesFromCloses([]float64{2000, 2005, 2010, 2015, 2020, 2025})
	assert.Nil(t, SMACross{}.Decide(history, 2030, p, 5))
}

func TestMeanReversionSellSignal(t *testing.T) {
	p := testParams()
	p.ATRMultSL = 1.5
	p.ATRMultTP = 3
	// Rally into the upper band with RSI rolling over from overbought.
	closes := []float64{2000, 2000, 2000, 2000, 2000, 2010, 2025, 2045, 2060, 2052}
	history := candlesFromCloses(closes)

	sig := MeanReversion{}.Decide(history, 2055, p, 4)
	require.NotNil(t, sig)
	assert.Equal(t, db.SideSell, sig.Side)
	assert.InDelta(t, 2061.0, sig.Stop, 1e-9)
	assert.InDelta(t, 2043.0, sig.Take, 1e-9)
}

func TestMeanReversionBuyNeedsRSITurn(t *testing.T) {
	p := testParams()
	// Falling knife: close below the lower band but RSI pinned at 0, no upturn.
	closes := []float64{2100, 2100, 2100, 2100, 2100, 2080, 2050, 2020, 1990, 1960}
	history := candlesFromCloses(closes)
	assert.Nil(t, MeanReversion{}.Decide(history, 1955, p, 4))
}

func TestBreakoutNeverSignals(t *testing.T) {
	p := testParams()
	assert.Nil(t, Breakout{}.Decide(crossFixture(), 2015, p, 5))
}

func TestDispatcherModeValidation(t *testing.T) {
	for _, mode := range []string{ModeAdaptive, ModeSMAOnly, ModeMeanReversionOnly, ModeBreakoutOnly} {
		_, err := NewDispatcher(mode)
		assert.NoError(t, err, mode)
	}
	_, err := NewDispatcher("SCALPING")
	assert.Error(t, err)
}

func TestDispatcherTrendRegimeMatchesSMACross(t *testing.T) {
	p := testParams()
	p.ADXTrendThreshold = 1 // any measurable trend routes to the crossover
	p.ADXRangeThreshold = 0.5
	history := crossFixture()

	d, err := NewDispatcher(ModeAdaptive)
	require.NoError(t, err)
	got := d.Decide(history, 2015, p, 5)
	want := SMACross{}.Decide(history, 2015, p, 5)
	require.NotNil(t, want)
	assert.Equal(t, want, got)
}

func TestDispatcherRangeRegimeMatchesMeanReversion(t *testing.T) {
	p := testParams()
	p.ADXTrendThreshold = 99
	p.ADXRangeThreshold = 99 // everything below reads as ranging
	history := crossFixture()

	d, err := NewDispatcher(ModeAdaptive)
	require.NoError(t, err)
	got := d.Decide(history, 2015, p, 5)
	want := MeanReversion{}.Decide(history, 2015, p, 5)
	assert.Equal(t, want, got)
}

func TestDispatcherBetweenThresholdsNoSignal(t *testing.T) {
	p := testParams()
	p.ADXTrendThreshold = 1000
	p.ADXRangeThreshold = 0.0001
	history := crossFixture()

	d, err := NewDispatcher(ModeAdaptive)
	require.NoError(t, err)
	assert.Nil(t, d.Decide(history, 2015, p, 5))
}

func TestDispatcherExplicitModeBypassesRegime(t *testing.T) {
	p := testParams()
	p.ADXTrendThreshold = 1000 // adaptive would stand aside
	p.ADXRangeThreshold = 0.0001
	history := crossFixture()

	d, err := NewDispatcher(ModeSMAOnly)
	require.NoError(t, err)
	sig := d.Decide(history, 2015, p, 5)
	require.NotNil(t, sig)
	assert.Equal(t, db.SideBuy, sig.Side)
}

func TestDispatcherMinBarsGate(t *testing.T) {
	p := testParams()
	d, err := NewDispatcher(ModeSMAOnly)
	require.NoError(t, err)
	short := crossFixture()[:MinBars(p)-1]
	assert.Nil(t, d.Decide(short, 2015, p, 5))
}

func TestMinBars(t *testing.T) {
	p := DefaultParams()
	// max(30, 20, 14, 15, 27) with the built-in defaults.
	assert.Equal(t, 30, MinBars(p))

	p.ADXPeriod = 20
	assert.Equal(t, 39, MinBars(p))
}

func TestParseParamsOverlay(t *testing.T) {
	base := DefaultParams()
	p, err := ParseParams(base, `{"sma_short": 5, "atr_mult_tp": 4}`)
	require.NoError(t, err)
	assert.Equal(t, 5, p.SMAShort)
	assert.Equal(t, 4.0, p.ATRMultTP)
	assert.Equal(t, base.SMALong, p.SMALong)

	_, err = ParseParams(base, `{"sma_short": -1}`)
	assert.Error(t, err)

	p, err = ParseParams(base, "")
	require.NoError(t, err)
	assert.Equal(t, base, p)
}
