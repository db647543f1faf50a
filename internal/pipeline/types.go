package pipeline

import (
	"time"

	"signal-core/internal/execution"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
)

// Failure categories for one processSentiment pass. "filtered" covers the
// expected drops; only "exception" marks an unexpected error.
const (
	CategoryFiltered        = "filtered"
	CategoryNoStrategy      = "no_strategy"
	CategoryPositionSize    = "position_size"
	CategoryExecutionFailed = "execution_failed"
	CategoryException       = "exception"
)

// Config holds pipeline orchestration tunables.
type Config struct {
	TickInterval    config.Duration `yaml:"tick_interval"`
	MetricsInterval config.Duration `yaml:"metrics_interval"`
	QueueSize       int             `yaml:"queue_size"`

	// Pre-routing filter gates, applied after generation.
	MinStrength          float64  `yaml:"min_strength"`
	AllowedSymbols       []string `yaml:"allowed_symbols"` // empty = any
	DeniedSymbols        []string `yaml:"denied_symbols"`
	MaxConcurrentSignals int      `yaml:"max_concurrent_signals"`

	// Simulate skips the execution step entirely.
	Simulate bool `yaml:"simulate"`

	// Alert thresholds evaluated on each metrics tick.
	MinSuccessRate float64 `yaml:"min_success_rate"`
	MaxAvgSlippage float64 `yaml:"max_avg_slippage"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         config.Duration(5 * time.Second),
		MetricsInterval:      config.Duration(60 * time.Second),
		QueueSize:            256,
		MinStrength:          0.3,
		MaxConcurrentSignals: 10,
		MinSuccessRate:       0.5,
		MaxAvgSlippage:       0.01,
	}
}

// Outcome reports how far one sentiment update travelled down the chain.
// Category is empty on full success.
type Outcome struct {
	Category string
	Reason   string
	Signal   *signal.TradingSignal
	Size     *sizing.PositionSize
	Result   *execution.Result
}

// Metrics is the pipeline counter snapshot.
type Metrics struct {
	Running         bool              `json:"running"`
	QueueDepth      int               `json:"queue_depth"`
	Processed       int               `json:"processed"`
	SignalsGenerated int              `json:"signals_generated"`
	Executed        int               `json:"executed"`
	Failures        map[string]int    `json:"failures"`
	Execution       execution.Metrics `json:"execution"`
}

// StageObserver is invoked synchronously at each stage transition of
// processSentiment. Implementations must be fast and non-blocking.
type StageObserver interface {
	OnSignal(sig *signal.TradingSignal)
	OnFiltered(symbol, category, reason string)
	OnRouted(a *strategy.Assignment)
	OnSized(sig *signal.TradingSignal, size *sizing.PositionSize)
	OnExecuted(sig *signal.TradingSignal, res execution.Result)
}
