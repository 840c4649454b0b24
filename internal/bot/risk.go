package bot

import "fmt"

// RiskTier maps a session risk level to its lot size and stop distance.
type RiskTier struct {
	MaxLotSize   float64
	StopLossPips int
}

var riskTable = map[string]RiskTier{
	"conservative": {MaxLotSize: 0.01, StopLossPips: 200},
	"medium":       {MaxLotSize: 0.05, StopLossPips: 300},
	"risky":        {MaxLotSize: 0.10, StopLossPips: 500},
}

// ResolveRisk returns the tier for a session risk level.
func ResolveRisk(level string) (RiskTier, error) {
	tier, ok := riskTable[level]
	if !ok {
		return RiskTier{}, fmt.Errorf("unknown risk level %q", level)
	}
	return tier, nil
}
