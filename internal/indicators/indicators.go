// Package indicators provides deterministic technical indicators over OHLC
// slices. Every function returns a slice whose length equals the input; the
// value at index i is computed from candles [0..i], and positions without
// enough data hold NaN.
package indicators

import (
	"math"

	"xau-engine/pkg/db"
)

// Valid reports whether an indicator value at an index is available.
func Valid(v float64) bool {
	return !math.IsNaN(v)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA computes the simple moving average of closes over period.
func SMA(candles []db.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	sum := 0.0
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev computes the population standard deviation of the last period closes
// around the SMA at the same index.
func StdDev(candles []db.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	sma := SMA(candles, period)
	for i := period - 1; i < len(candles); i++ {
		mean := sma[i]
		sumSq := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := candles[j].Close - mean
			sumSq += d * d
		}
		out[i] = math.Sqrt(sumSq / float64(period))
	}
	return out
}

// Bands holds aligned Bollinger band series.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes middle/upper/lower bands with multiplier k.
func Bollinger(candles []db.Candle, period int, k float64) Bands {
	middle := SMA(candles, period)
	sd := StdDev(candles, period)
	upper := nanSlice(len(candles))
	lower := nanSlice(len(candles))
	for i := range candles {
		if Valid(middle[i]) && Valid(sd[i]) {
			upper[i] = middle[i] + k*sd[i]
			lower[i] = middle[i] - k*sd[i]
		}
	}
	return Bands{Middle: middle, Upper: upper, Lower: lower}
}

// TrueRange computes the true range series; index 0 is NaN.
func TrueRange(candles []db.Candle) []float64 {
	out := nanSlice(len(candles))
	for i := 1; i < len(candles); i++ {
		out[i] = trueRange(candles[i], candles[i-1])
	}
	return out
}

func trueRange(c, prev db.Candle) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prev.Close)
	lc := math.Abs(c.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR computes the Average True Range. The first value, at index period, is
// the arithmetic mean of TR[1..period]; later values use Wilder smoothing.
func ATR(candles []db.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}
	tr := TrueRange(candles)

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// RSI computes Wilder's Relative Strength Index. The first value appears at
// index period. When the smoothed loss is zero, RSI is 100.
func RSI(candles []db.Candle, period int) []float64 {
	out := nanSlice(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Directional holds aligned ADX, +DI and -DI series.
type Directional struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX computes Wilder's Average Directional Index. ±DI first appear at index
// period; ADX first appears at index 2*period-1 (the mean of the first period
// DX values, Wilder-smoothed afterwards).
func ADX(candles []db.Candle, period int) Directional {
	n := len(candles)
	d := Directional{ADX: nanSlice(n), PlusDI: nanSlice(n), MinusDI: nanSlice(n)}
	if period <= 0 || n < period+1 {
		return d
	}

	tr := make([]float64, n)
	pdm := make([]float64, n)
	ndm := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			pdm[i] = up
		}
		if down > up && down > 0 {
			ndm[i] = down
		}
	}

	// Seed the smoothed sums with the first period samples.
	var smTR, smPDM, smNDM float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPDM += pdm[i]
		smNDM += ndm[i]
	}

	dx := nanSlice(n)
	for i := period; i < n; i++ {
		if i > period {
			smTR = smTR - smTR/float64(period) + tr[i]
			smPDM = smPDM - smPDM/float64(period) + pdm[i]
			smNDM = smNDM - smNDM/float64(period) + ndm[i]
		}
		if smTR == 0 {
			d.PlusDI[i] = 0
			d.MinusDI[i] = 0
			dx[i] = 0
			continue
		}
		plus := 100 * smPDM / smTR
		minus := 100 * smNDM / smTR
		d.PlusDI[i] = plus
		d.MinusDI[i] = minus
		if sum := plus + minus; sum == 0 {
			dx[i] = 0
		} else {
			dx[i] = 100 * math.Abs(plus-minus) / sum
		}
	}

	// ADX seeds as the mean of the first period DX values.
	if n < 2*period {
		return d
	}
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx := sum / float64(period)
	d.ADX[2*period-1] = adx
	for i := 2 * period; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		d.ADX[i] = adx
	}
	return d
}
