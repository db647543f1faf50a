package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
	"signal-core/internal/execution"
	"signal-core/internal/pipeline"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
)

var monitoredTopics = []events.Event{
	events.EventSignalGenerated,
	events.EventSignalFiltered,
	events.EventSignalRouted,
	events.EventOrderExecuted,
	events.EventExecutionFailed,
	events.EventRiskAlert,
	events.EventBreakerState,
	events.EventEmergencyStop,
	events.EventPipelineMetrics,
}

// Monitor bridges bus events into Prometheus metrics and persists risk
// alerts. It is a passive observer; losing an event never affects trading.
type Monitor struct {
	bus *events.Bus
	db  *db.Database
	log zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a monitor. db may be nil to disable alert persistence.
func New(bus *events.Bus, database *db.Database, log zerolog.Logger) *Monitor {
	return &Monitor{
		bus: bus,
		db:  database,
		log: log.With().Str("component", "monitor").Logger(),
	}
}

// Start subscribes to the bus topics and consumes them until Stop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, topic := range monitoredTopics {
		ch, unsub := m.bus.Subscribe(topic, 64)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					m.handle(payload)
				}
			}
		}()
	}
	m.log.Info().Msg("monitor started")
}

// Stop unsubscribes and waits for the consumers to drain.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.log.Info().Msg("monitor stopped")
}

func (m *Monitor) handle(payload any) {
	switch v := payload.(type) {
	case *signal.TradingSignal:
		signalsGenerated.WithLabelValues(v.Symbol, string(v.Action)).Inc()

	case events.SignalFiltered:
		signalsFiltered.Inc()

	case events.SignalRouted:
		signalsRouted.WithLabelValues(v.StrategyID).Inc()

	case execution.Result:
		executionsTotal.WithLabelValues(v.Symbol, v.Status).Inc()
		executionDuration.Observe(v.ExecutionTime.Seconds())
		if v.FilledAmount > 0 {
			slippageObserved.WithLabelValues(v.Symbol).Observe(v.Slippage * 100)
		}

	case events.RiskAlert:
		riskAlerts.WithLabelValues(v.Level, v.Source).Inc()
		if v.Source == "safety_manager" {
			emergencyStops.Inc()
		}
		m.persistAlert(v.Level, v.Source, v.Message, v.At)

	case events.BreakerState:
		breakerState.Set(stateValue(v.To))
		breakerTransitions.WithLabelValues(v.To).Inc()
		level := "info"
		if v.To == "OPEN" {
			level = "critical"
		}
		m.persistAlert(level, "circuit_breaker", v.Reason, v.At)

	case pipeline.Metrics:
		queueDepth.Set(float64(v.QueueDepth))
		for category, count := range v.Failures {
			failuresByCategory.WithLabelValues(category).Set(float64(count))
		}
		for _, topic := range monitoredTopics {
			busDropped.WithLabelValues(string(topic)).Set(float64(m.bus.Dropped(topic)))
		}
	}
}

func (m *Monitor) persistAlert(level, source, message string, at time.Time) {
	if m.db == nil {
		return
	}
	err := m.db.InsertAlert(context.Background(), db.AlertRecord{
		Level:     level,
		Source:    source,
		Message:   message,
		CreatedAt: at,
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("persist alert")
	}
}
