package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/pkg/config"
)

func fastBreakerConfig() Config {
	cfg := DefaultConfig()
	cfg.ResetTimeout = config.Duration(20 * time.Millisecond)
	cfg.MonitoringPeriod = config.Duration(20 * time.Millisecond)
	return cfg
}

func TestConsecutiveLossesOpenCircuit(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())

	b.RecordTradeResult(-100)
	b.RecordTradeResult(-50)
	if b.State() != StateClosed {
		t.Fatal("two losses must not open the circuit")
	}
	b.RecordTradeResult(-25)

	if b.State() != StateOpen {
		t.Fatalf("state=%s, expected OPEN after 3 losses", b.State())
	}
	if got := b.GetStatus().Reason; got != ReasonConsecutiveLosses {
		t.Errorf("reason=%q, expected %q", got, ReasonConsecutiveLosses)
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())

	b.RecordTradeResult(-100)
	b.RecordTradeResult(-50)
	b.RecordTradeResult(200)
	b.RecordTradeResult(-25)
	b.RecordTradeResult(-25)

	if b.State() != StateClosed {
		t.Fatalf("state=%s, streak was broken by a win", b.State())
	}
}

func TestDailyLossBreachOpens(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())

	b.CheckMetrics(0.06, 0.02) // 6% daily loss > 5% limit
	if b.State() != StateOpen {
		t.Fatalf("state=%s, expected OPEN on daily loss breach", b.State())
	}
	if got := b.GetStatus().Reason; got != ReasonDailyLoss {
		t.Errorf("reason=%q, expected %q", got, ReasonDailyLoss)
	}
}

func TestFailureThresholdOpens(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		b.RecordFailure(FailureAPIError)
	}
	if b.State() != StateOpen {
		t.Fatalf("state=%s, expected OPEN after 5 failures in window", b.State())
	}
}

func TestOpenNeverSkipsHalfOpen(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())
	b.ForceOpen("test halt")

	if err := b.Execute(FailureAPIError, func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err=%v, OPEN must fail fast", err)
	}

	// Wait past the reset timeout; the automatic transition lands on
	// HALF_OPEN, never directly on CLOSED.
	deadline := time.Now().Add(time.Second)
	for b.State() == StateOpen && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state=%s, expected HALF_OPEN after reset timeout", got)
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	cfg := fastBreakerConfig()
	cfg.MonitoringPeriod = config.Duration(time.Minute) // keep the auto-close timer out of the way
	b := New(cfg, nil, zerolog.Nop())
	b.ForceOpen("test halt")

	deadline := time.Now().Add(time.Second)
	for b.State() != StateHalfOpen && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	if err := b.Execute(FailureAPIError, func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state=%s, expected CLOSED after successful probe", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := fastBreakerConfig()
	cfg.MonitoringPeriod = config.Duration(time.Minute)
	b := New(cfg, nil, zerolog.Nop())
	b.ForceOpen("test halt")

	deadline := time.Now().Add(time.Second)
	for b.State() != StateHalfOpen && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	_ = b.Execute(FailureAPIError, func() error { return errors.New("probe boom") })
	if got := b.State(); got != StateOpen {
		t.Errorf("state=%s, expected OPEN after failed probe", got)
	}
}

func TestHalfOpenQuietProbationCloses(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())
	b.ForceOpen("test halt")

	// Reset timeout then a full quiet monitoring period.
	deadline := time.Now().Add(time.Second)
	for b.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state=%s, expected CLOSED after quiet probation", got)
	}
}

func TestEmergencyStopBlocksAutoRecovery(t *testing.T) {
	b := New(fastBreakerConfig(), nil, zerolog.Nop())
	b.EmergencyStop("manual kill")

	time.Sleep(60 * time.Millisecond)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state=%s, emergency stop must stay OPEN", got)
	}
	if !b.GetStatus().EmergencyStopped {
		t.Error("status must report emergency stop")
	}

	b.ForceClose()
	if got := b.State(); got != StateClosed {
		t.Errorf("state=%s, expected CLOSED after manual reset", got)
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	cfg := fastBreakerConfig()
	cfg.MonitoringPeriod = config.Duration(time.Minute)
	b := New(cfg, nil, zerolog.Nop())
	b.ForceOpen("test halt")

	deadline := time.Now().Add(time.Second)
	for b.State() != StateHalfOpen && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(FailureAPIError, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Second operation during the in-flight probe must be rejected.
	if err := b.Execute(FailureAPIError, func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("err=%v, second HALF_OPEN operation must fail fast", err)
	}
	close(release)
}
