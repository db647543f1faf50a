package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
	"signal-core/pkg/config"
)

// State is the circuit position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Failure classifications.
const (
	FailureAPIError          = "api_error"
	FailureTradeLoss         = "trade_loss"
	FailureDrawdown          = "drawdown"
	FailureConsecutiveLosses = "consecutive_losses"
)

// Halt reasons for metric-driven opens.
const (
	ReasonConsecutiveLosses = "Maximum consecutive losses exceeded"
	ReasonDailyLoss         = "Daily loss limit exceeded"
	ReasonDrawdown          = "Maximum drawdown exceeded"
)

// ErrOpen is returned when an operation is attempted while the circuit
// blocks execution.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds and timings.
type Config struct {
	FailureThreshold     int             `yaml:"failure_threshold"`
	MonitoringWindow     config.Duration `yaml:"monitoring_window"`
	ResetTimeout         config.Duration `yaml:"reset_timeout"`
	MonitoringPeriod     config.Duration `yaml:"monitoring_period"` // HALF_OPEN probation length
	MaxDailyLoss         float64         `yaml:"max_daily_loss"`    // fraction of portfolio
	MaxDrawdown          float64         `yaml:"max_drawdown"`
	MaxConsecutiveLosses int             `yaml:"max_consecutive_losses"`
	AutoHalt             bool            `yaml:"auto_halt"`
	FailureRetention     config.Duration `yaml:"failure_retention"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		MonitoringWindow:     config.Duration(10 * time.Minute),
		ResetTimeout:         config.Duration(5 * time.Minute),
		MonitoringPeriod:     config.Duration(10 * time.Minute),
		MaxDailyLoss:         0.05,
		MaxDrawdown:          0.15,
		MaxConsecutiveLosses: 3,
		AutoHalt:             true,
		FailureRetention:     config.Duration(24 * time.Hour),
	}
}

type failure struct {
	kind string
	at   time.Time
}

// Status is a point-in-time breaker snapshot.
type Status struct {
	State             State     `json:"state"`
	Reason            string    `json:"reason,omitempty"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
	RecentFailures    int       `json:"recent_failures"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	EmergencyStopped  bool      `json:"emergency_stopped"`
}

// Breaker is a three-state circuit protecting the execution path. The
// state machine is independent of the pipeline's running flag.
type Breaker struct {
	cfg Config
	bus *events.Bus
	log zerolog.Logger

	mu                sync.Mutex
	state             State
	reason            string
	openedAt          time.Time
	failures          []failure
	consecutiveLosses int
	probeUsed         bool
	emergencyStopped  bool

	resetTimer *time.Timer
	probeTimer *time.Timer

	now func() time.Time
}

// New builds a breaker in the CLOSED state.
func New(cfg Config, bus *events.Bus, log zerolog.Logger) *Breaker {
	return &Breaker{
		cfg:   cfg,
		bus:   bus,
		log:   log.With().Str("component", "circuit_breaker").Logger(),
		state: StateClosed,
		now:   time.Now,
	}
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStatus returns a snapshot.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:             b.state,
		Reason:            b.reason,
		OpenedAt:          b.openedAt,
		RecentFailures:    b.recentFailuresLocked(),
		ConsecutiveLosses: b.consecutiveLosses,
		EmergencyStopped:  b.emergencyStopped,
	}
}

// Execute runs op through the circuit. While OPEN it fails fast with
// ErrOpen; HALF_OPEN lets exactly one probe through. op errors are
// classified under kind and counted toward opening.
func (b *Breaker) Execute(kind string, op func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.probeUsed {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probeUsed = true
	}
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked(kind)
		return err
	}
	if b.state == StateHalfOpen {
		b.closeLocked("probe succeeded")
	}
	return nil
}

// RecordFailure counts an out-of-band failure toward opening the circuit.
func (b *Breaker) RecordFailure(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailureLocked(kind)
}

func (b *Breaker) recordFailureLocked(kind string) {
	now := b.now()
	b.failures = append(b.failures, failure{kind: kind, at: now})
	b.pruneLocked(now)

	if b.state == StateHalfOpen {
		b.openLocked("probe failed: " + kind)
		return
	}
	if b.state == StateClosed && b.recentFailuresLocked() >= b.cfg.FailureThreshold {
		b.openLocked("failure threshold exceeded")
	}
}

func (b *Breaker) recentFailuresLocked() int {
	cutoff := b.now().Add(-b.cfg.MonitoringWindow.Std())
	n := 0
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops failures past the retention horizon.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureRetention.Std())
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

// RecordTradeResult feeds a realized PnL into the loss-streak counter.
func (b *Breaker) RecordTradeResult(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pnl < 0 {
		b.consecutiveLosses++
		b.failures = append(b.failures, failure{kind: FailureTradeLoss, at: b.now()})
		if b.cfg.AutoHalt && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses && b.state == StateClosed {
			b.failures = append(b.failures, failure{kind: FailureConsecutiveLosses, at: b.now()})
			b.openLocked(ReasonConsecutiveLosses)
		}
		return
	}
	b.consecutiveLosses = 0
}

// CheckMetrics evaluates portfolio-level halting conditions. dailyLossPct
// and drawdown are positive fractions of portfolio value.
func (b *Breaker) CheckMetrics(dailyLossPct, drawdown float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.AutoHalt || b.state != StateClosed {
		return
	}
	if dailyLossPct >= b.cfg.MaxDailyLoss {
		b.failures = append(b.failures, failure{kind: FailureTradeLoss, at: b.now()})
		b.openLocked(ReasonDailyLoss)
		return
	}
	if drawdown >= b.cfg.MaxDrawdown {
		b.failures = append(b.failures, failure{kind: FailureDrawdown, at: b.now()})
		b.openLocked(ReasonDrawdown)
	}
}

// ForceOpen is a manual halt.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		b.openLocked(reason)
	}
}

// ForceClose is a manual resume. It clears pending timers and the
// emergency flag.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emergencyStopped = false
	b.closeLocked("manually closed")
}

// EmergencyStop opens the circuit hard: no automatic HALF_OPEN recovery
// until ForceClose.
func (b *Breaker) EmergencyStop(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emergencyStopped = true
	b.openLocked(reason)
	b.stopTimersLocked()
}

func (b *Breaker) openLocked(reason string) {
	from := b.state
	b.state = StateOpen
	b.reason = reason
	b.openedAt = b.now()
	b.consecutiveLosses = 0
	b.stopTimersLocked()

	if !b.emergencyStopped {
		b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout.Std(), b.enterHalfOpen)
	}
	b.transitionLocked(from, StateOpen, reason)
}

// enterHalfOpen begins probation after the reset timeout.
func (b *Breaker) enterHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen || b.emergencyStopped {
		return
	}
	from := b.state
	b.state = StateHalfOpen
	b.probeUsed = false
	b.transitionLocked(from, StateHalfOpen, "reset timeout elapsed")

	// Quiet probation with no operation at all counts as safe to resume.
	b.probeTimer = time.AfterFunc(b.cfg.MonitoringPeriod.Std(), func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state == StateHalfOpen && !b.probeUsed {
			b.closeLocked("probation elapsed without failures")
		}
	})
}

func (b *Breaker) closeLocked(reason string) {
	from := b.state
	b.state = StateClosed
	b.reason = ""
	b.probeUsed = false
	b.stopTimersLocked()
	b.transitionLocked(from, StateClosed, reason)
}

func (b *Breaker) stopTimersLocked() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
	if b.probeTimer != nil {
		b.probeTimer.Stop()
		b.probeTimer = nil
	}
}

func (b *Breaker) transitionLocked(from, to State, reason string) {
	if from == to {
		return
	}
	b.log.Warn().Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("breaker transition")
	if b.bus != nil {
		b.bus.Publish(events.EventBreakerState, events.BreakerState{
			From:   string(from),
			To:     string(to),
			Reason: reason,
			At:     b.now(),
		})
	}
}
