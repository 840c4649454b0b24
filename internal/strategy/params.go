package strategy

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params bundles every tunable the strategies and dispatcher read.
type Params struct {
	SMAShort int `json:"sma_short" yaml:"sma_short"`
	SMALong  int `json:"sma_long" yaml:"sma_long"`

	BBPeriod int     `json:"bb_period" yaml:"bb_period"`
	BBStdDev float64 `json:"bb_std_dev" yaml:"bb_std_dev"`

	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`

	ATRPeriod int     `json:"atr_period" yaml:"atr_period"`
	ATRMultSL float64 `json:"atr_mult_sl" yaml:"atr_mult_sl"`
	ATRMultTP float64 `json:"atr_mult_tp" yaml:"atr_mult_tp"`

	ADXPeriod         int     `json:"adx_period" yaml:"adx_period"`
	ADXTrendThreshold float64 `json:"adx_trend_threshold" yaml:"adx_trend_threshold"`
	ADXRangeThreshold float64 `json:"adx_range_threshold" yaml:"adx_range_threshold"`
}

// DefaultParams returns the built-in parameter set.
func DefaultParams() Params {
	return Params{
		SMAShort:          10,
		SMALong:           30,
		BBPeriod:          20,
		BBStdDev:          2.0,
		RSIPeriod:         14,
		RSIOversold:       30,
		RSIOverbought:     70,
		ATRPeriod:         14,
		ATRMultSL:         1.5,
		ATRMultTP:         3.0,
		ADXPeriod:         14,
		ADXTrendThreshold: 25,
		ADXRangeThreshold: 20,
	}
}

// Validate rejects parameter sets the strategies cannot evaluate.
func (p Params) Validate() error {
	if p.SMAShort <= 0 || p.SMALong <= 0 || p.SMAShort >= p.SMALong {
		return fmt.Errorf("sma_short/sma_long must be >0 with short < long")
	}
	if p.BBPeriod <= 0 || p.BBStdDev <= 0 {
		return fmt.Errorf("bb_period and bb_std_dev must be > 0")
	}
	if p.RSIPeriod <= 0 || p.RSIOversold <= 0 || p.RSIOverbought <= 0 || p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("rsi thresholds must be >0 with oversold < overbought")
	}
	if p.ATRPeriod <= 0 || p.ATRMultSL <= 0 || p.ATRMultTP <= 0 {
		return fmt.Errorf("atr_period and multipliers must be > 0")
	}
	if p.ADXPeriod <= 0 || p.ADXRangeThreshold <= 0 || p.ADXTrendThreshold < p.ADXRangeThreshold {
		return fmt.Errorf("adx thresholds must be >0 with range <= trend")
	}
	return nil
}

// ParseParams overlays a JSON fragment (e.g. a session's strategy_params
// column) onto the defaults. An empty fragment returns base unchanged.
func ParseParams(base Params, raw string) (Params, error) {
	if raw == "" {
		return base, nil
	}
	p := base
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return base, fmt.Errorf("parse strategy params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return base, err
	}
	return p, nil
}

type configFile struct {
	Defaults *Params `yaml:"defaults"`
}

// LoadDefaults reads parameter overrides from a YAML file. A missing file is
// not an error; the built-in defaults are returned.
func LoadDefaults(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("read strategy config: %w", err)
	}

	// Overlay onto the defaults so partial files stay valid.
	file := configFile{Defaults: &p}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return DefaultParams(), fmt.Errorf("parse strategy config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return DefaultParams(), err
	}
	return p, nil
}
