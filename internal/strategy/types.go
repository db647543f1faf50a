package strategy

import (
	"signal-core/internal/signal"
)

// Strategy is a long-lived trading strategy definition, loaded from
// configuration and never created per signal.
type Strategy struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
	Config  Config `yaml:"config"`
}

// Config holds a strategy's routing preferences and sizing setup.
type Config struct {
	TimeframePreferences []signal.Timeframe `yaml:"timeframe_preferences"` // empty = any
	AllowedSymbols       []string           `yaml:"allowed_symbols"`       // empty = any
	DeniedSymbols        []string           `yaml:"denied_symbols"`
	RiskTolerance        float64            `yaml:"risk_tolerance"` // [0, 1]
	AllowHighRisk        bool               `yaml:"allow_high_risk"`

	MaxPositions     int     `yaml:"max_positions"`
	MaxCapital       float64 `yaml:"max_capital"`
	MaxActiveSignals int     `yaml:"max_active_signals"`

	SizingMethod string             `yaml:"sizing_method"`
	SizingParams map[string]float64 `yaml:"sizing_params"`
}

// Capacity tracks one strategy's live utilization and rolling performance.
// Owned by the Router; mutated through assignment and UpdateCapacity only.
type Capacity struct {
	CurrentPositions int
	AllocatedCapital float64
	ActiveSignals    int

	TradeCount int
	WinRate    float64
	AvgReturn  float64
	Sharpe     float64

	returns []float64
}

// Assignment binds a signal to the strategy that will carry it.
type Assignment struct {
	Signal     *signal.TradingSignal
	StrategyID string
	Score      float64
}

// riskNumeric maps risk levels onto the same [0,1] axis as risk tolerance.
func riskNumeric(r signal.RiskLevel) float64 {
	switch r {
	case signal.RiskLow:
		return 0.25
	case signal.RiskMedium:
		return 0.5
	case signal.RiskHigh:
		return 0.75
	case signal.RiskCritical:
		return 1.0
	default:
		return 0.5
	}
}
