package events

import "time"

// Event enumerates high-level topics inside the signal core.
type Event string

const (
	EventSentiment       Event = "sentiment.update"
	EventSignalGenerated Event = "signal.generated"
	EventSignalFiltered  Event = "signal.filtered"
	EventSignalRouted    Event = "signal.routed"
	EventOrderExecuted   Event = "order.executed"
	EventExecutionFailed Event = "order.failed"
	EventRiskAlert       Event = "risk.alert"
	EventBreakerState    Event = "breaker.state"
	EventEmergencyStop   Event = "safety.emergency_stop"
	EventPipelineMetrics Event = "pipeline.metrics"
)

// SignalFiltered reports why a generated signal was dropped before routing.
type SignalFiltered struct {
	Symbol string
	Reason string
	At     time.Time
}

// SignalRouted reports a signal to strategy assignment.
type SignalRouted struct {
	SignalID   string
	Symbol     string
	StrategyID string
	Score      float64
	At         time.Time
}

// RiskAlert is published by the breaker, safety manager and pipeline monitor.
type RiskAlert struct {
	Level   string // info, warning, critical
	Source  string
	Message string
	At      time.Time
}

// BreakerState reports a circuit breaker transition.
type BreakerState struct {
	From   string
	To     string
	Reason string
	At     time.Time
}
