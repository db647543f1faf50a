package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the signal core. Scraped via GET /metrics and
// intended for Grafana dashboards plus Alertmanager rules.

var signalsGenerated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "pipeline",
		Name:      "signals_generated_total",
		Help:      "Trading signals produced by the generator",
	},
	[]string{"symbol", "action"},
)

var signalsFiltered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "pipeline",
		Name:      "signals_filtered_total",
		Help:      "Sentiment updates dropped before routing",
	},
)

var signalsRouted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "pipeline",
		Name:      "signals_routed_total",
		Help:      "Signals assigned to a strategy",
	},
	[]string{"strategy"},
)

var executionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Execution attempts by final status",
	},
	[]string{"symbol", "status"},
)

var executionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "signalcore",
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "Wall time of one execution attempt including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
)

var slippageObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "signalcore",
		Subsystem: "execution",
		Name:      "slippage_percent",
		Help:      "Signed fill slippage in percent, positive is adverse",
		Buckets:   []float64{-1, -0.5, -0.1, 0, 0.05, 0.1, 0.25, 0.5, 1, 2},
	},
	[]string{"symbol"},
)

var breakerState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	},
)

var breakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions",
	},
	[]string{"to"},
)

var riskAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "risk",
		Name:      "alerts_total",
		Help:      "Risk alerts by level and source",
	},
	[]string{"level", "source"},
)

var emergencyStops = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "risk",
		Name:      "emergency_stops_total",
		Help:      "Manual or automatic emergency stop activations",
	},
)

var queueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Sentiment updates waiting for the next tick",
	},
)

var busDropped = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Events lost to full subscriber buffers, by topic",
	},
	[]string{"topic"},
)

var failuresByCategory = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "pipeline",
		Name:      "failures",
		Help:      "Cumulative pipeline failures by category",
	},
	[]string{"category"},
)

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}
