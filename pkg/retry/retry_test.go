package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")

	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	}, fastConfig(4))

	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v, expected %v", err, wantErr)
	}
	if calls != 4 {
		t.Fatalf("calls=%d, expected 4", calls)
	}
}

func TestDoReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, expected 3", calls)
	}
}

func TestPermanentErrorShortCircuits(t *testing.T) {
	calls := 0
	cfg := fastConfig(5)
	cfg.RetryIf = IsRetryable

	err := Do(context.Background(), func() error {
		calls++
		return Permanent(errors.New("rejected"))
	}, cfg)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d, expected 1", calls)
	}
}

func TestDoWithResultReturnsValue(t *testing.T) {
	got, err := DoWithResult(context.Background(), func() (int, error) {
		return 42, nil
	}, fastConfig(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got=%d, expected 42", got)
	}
}

func TestContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return errors.New("never retried")
	}, fastConfig(5))

	if err == nil {
		t.Fatal("expected error")
	}
	if calls > 1 {
		t.Fatalf("calls=%d, expected at most 1", calls)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), func() error { return errors.New("x") }, cfg)

	if len(attempts) != 2 {
		t.Fatalf("OnRetry fired %d times, expected 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("attempts=%v, expected [1 2]", attempts)
	}
}
