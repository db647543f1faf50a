package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/signal"
)

func testSignal(symbol string, risk signal.RiskLevel, prio int) *signal.TradingSignal {
	now := time.Now()
	return &signal.TradingSignal{
		ID:         "sig-" + symbol,
		Symbol:     symbol,
		Action:     signal.ActionBuy,
		Strength:   0.7,
		Confidence: 0.8,
		Timeframe:  signal.Timeframe15m,
		RiskLevel:  risk,
		Priority:   prio,
		CreatedAt:  now,
		ExpiresAt:  now.Add(5 * time.Minute),
	}
}

func testStrategy(id string) Strategy {
	return Strategy{
		ID:      id,
		Name:    id,
		Type:    "momentum",
		Enabled: true,
		Config: Config{
			RiskTolerance:    0.5,
			MaxPositions:     5,
			MaxCapital:       50000,
			MaxActiveSignals: 10,
			SizingMethod:     "percentage",
		},
	}
}

func TestRouteToStrategyBasic(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("momentum-1")

	a, reason := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskMedium, 7), []Strategy{st})
	if a == nil {
		t.Fatalf("expected assignment, dropped: %s", reason)
	}
	if a.StrategyID != "momentum-1" {
		t.Errorf("strategy=%s, expected momentum-1", a.StrategyID)
	}
	if got := r.Capacity("momentum-1").ActiveSignals; got != 1 {
		t.Errorf("active signals=%d, expected 1", got)
	}
}

func TestRouteDisabledStrategyIneligible(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("s1")
	st.Enabled = false

	a, reason := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st})
	if a != nil {
		t.Fatal("disabled strategy must not receive signals")
	}
	if reason != DropNoEligible {
		t.Errorf("reason=%s, expected %s", reason, DropNoEligible)
	}
}

func TestRouteHighRiskRequiresOptIn(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	conservative := testStrategy("conservative")
	aggressive := testStrategy("aggressive")
	aggressive.Config.AllowHighRisk = true

	a, _ := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskHigh, 5), []Strategy{conservative, aggressive})
	if a == nil {
		t.Fatal("expected assignment to opted-in strategy")
	}
	if a.StrategyID != "aggressive" {
		t.Errorf("strategy=%s, expected aggressive", a.StrategyID)
	}
}

func TestRouteSymbolFilters(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("s1")
	st.Config.AllowedSymbols = []string{"ETH/USDT"}

	if a, _ := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st}); a != nil {
		t.Fatal("symbol outside allow list must not route")
	}

	st.Config.AllowedSymbols = nil
	st.Config.DeniedSymbols = []string{"BTC/USDT"}
	if a, _ := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st}); a != nil {
		t.Fatal("denied symbol must not route")
	}
}

func TestRouteNoCapacity(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("s1")
	st.Config.MaxActiveSignals = 1

	if a, _ := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st}); a == nil {
		t.Fatal("first signal should route")
	}
	a, reason := r.RouteToStrategy(testSignal("ETH/USDT", signal.RiskLow, 5), []Strategy{st})
	if a != nil {
		t.Fatal("second signal must hit the active-signal cap")
	}
	if reason != DropNoCapacity {
		t.Errorf("reason=%s, expected %s", reason, DropNoCapacity)
	}
}

func TestRouteCapitalCeiling(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("s1")

	r.UpdateCapacity("s1", TradeOutcome{CapitalDelta: 48000}) // > 95% of 50k

	a, reason := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st})
	if a != nil {
		t.Fatal("capital above ceiling must block routing")
	}
	if reason != DropNoCapacity {
		t.Errorf("reason=%s, expected %s", reason, DropNoCapacity)
	}
}

func TestPerformanceFloorAfterHistory(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())
	st := testStrategy("loser")

	// Ten straight losses cross the judgment threshold with a bad record.
	for i := 0; i < 10; i++ {
		r.UpdateCapacity("loser", TradeOutcome{Closed: true, Return: -0.02})
	}

	a, reason := r.RouteToStrategy(testSignal("BTC/USDT", signal.RiskLow, 5), []Strategy{st})
	if a != nil {
		t.Fatal("strategy below the performance floor must be ineligible")
	}
	if reason != DropNoEligible {
		t.Errorf("reason=%s, expected %s", reason, DropNoEligible)
	}
}

func TestBalanceLoadSpreadsByPriority(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.MaxSignalsPerStrategy = 1
	r := NewRouter(cfg, zerolog.Nop())

	s1, s2 := testStrategy("s1"), testStrategy("s2")
	sigs := []*signal.TradingSignal{
		testSignal("BTC/USDT", signal.RiskLow, 3),
		testSignal("ETH/USDT", signal.RiskLow, 9),
		testSignal("SOL/USDT", signal.RiskLow, 6),
	}

	out := r.BalanceLoad(sigs, []Strategy{s1, s2})
	if len(out) != 2 {
		t.Fatalf("got %d assignments, expected 2 with per-strategy cap 1", len(out))
	}
	if out[0].Signal.Priority != 9 {
		t.Errorf("first assignment priority=%d, expected highest first", out[0].Signal.Priority)
	}
	if out[0].StrategyID == out[1].StrategyID {
		t.Error("batch cap must spread signals across strategies")
	}
}

func TestUpdateCapacityRollsPerformance(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(), zerolog.Nop())

	r.UpdateCapacity("s1", TradeOutcome{Closed: true, Return: 0.05})
	r.UpdateCapacity("s1", TradeOutcome{Closed: true, Return: -0.02})
	r.UpdateCapacity("s1", TradeOutcome{Closed: true, Return: 0.03})

	c := r.Capacity("s1")
	if c.TradeCount != 3 {
		t.Errorf("trade count=%d, expected 3", c.TradeCount)
	}
	if c.WinRate < 0.66 || c.WinRate > 0.67 {
		t.Errorf("win rate=%f, expected 2/3", c.WinRate)
	}
}

func TestLoadStrategiesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	data := `
strategies:
  - id: momentum-1
    name: Momentum
    type: momentum
    enabled: true
    config:
      timeframe_preferences: ["5m", "15m"]
      risk_tolerance: 0.5
      max_positions: 5
      max_capital: 50000
      max_active_signals: 10
      sizing_method: percentage
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadStrategies(path)
	if err != nil {
		t.Fatalf("LoadStrategies: %v", err)
	}
	if len(got) != 1 || got[0].ID != "momentum-1" {
		t.Fatalf("unexpected strategies: %+v", got)
	}
	if got[0].Config.SizingMethod != "percentage" {
		t.Errorf("sizing method=%s, expected percentage", got[0].Config.SizingMethod)
	}
}

func TestLoadStrategiesRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	data := `
strategies:
  - id: a
    enabled: true
    config: {risk_tolerance: 0.5}
  - id: a
    enabled: true
    config: {risk_tolerance: 0.5}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStrategies(path); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
