package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
	"signal-core/pkg/db"
)

func newTestMonitor(t *testing.T) (*Monitor, *events.Bus, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	bus := events.NewBus()
	return New(bus, database, zerolog.Nop()), bus, database
}

func waitForAlerts(t *testing.T, database *db.Database, want int) []db.AlertRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alerts, err := database.ListRecentAlerts(context.Background(), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) >= want {
			return alerts
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("alerts did not reach %d in time", want)
	return nil
}

func TestMonitorPersistsRiskAlerts(t *testing.T) {
	m, bus, database := newTestMonitor(t)
	m.Start()
	defer m.Stop()

	bus.Publish(events.EventRiskAlert, events.RiskAlert{
		Level:   "warning",
		Source:  "pipeline",
		Message: "slippage above threshold",
		At:      time.Now(),
	})

	alerts := waitForAlerts(t, database, 1)
	if alerts[0].Source != "pipeline" || alerts[0].Level != "warning" {
		t.Errorf("persisted alert = %+v", alerts[0])
	}
}

func TestMonitorPersistsBreakerTransitions(t *testing.T) {
	m, bus, database := newTestMonitor(t)
	m.Start()
	defer m.Stop()

	bus.Publish(events.EventBreakerState, events.BreakerState{
		From:   "CLOSED",
		To:     "OPEN",
		Reason: "failure threshold exceeded",
		At:     time.Now(),
	})

	alerts := waitForAlerts(t, database, 1)
	if alerts[0].Source != "circuit_breaker" {
		t.Errorf("source=%q, expected circuit_breaker", alerts[0].Source)
	}
	if alerts[0].Level != "critical" {
		t.Errorf("level=%q, breaker OPEN must alert critical", alerts[0].Level)
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	m.Start()
	m.Stop()
	m.Stop()

	var fresh Monitor
	fresh.Stop() // never started
}
