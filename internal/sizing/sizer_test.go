package sizing

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/market"
	"signal-core/internal/signal"
)

func sizerSignal(symbol string, conf, strength, vol float64, risk signal.RiskLevel) *signal.TradingSignal {
	now := time.Now()
	return &signal.TradingSignal{
		ID:         "sig-1",
		Symbol:     symbol,
		Action:     signal.ActionBuy,
		Strength:   strength,
		Confidence: conf,
		Timeframe:  signal.Timeframe1h,
		RiskLevel:  risk,
		Market: market.Data{
			Symbol:     symbol,
			Price:      50000,
			Volume24h:  2_000_000,
			Volatility: vol,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
		Priority:  7,
	}
}

func testPortfolio(total float64) *Portfolio {
	return &Portfolio{
		TotalValue:       total,
		AvailableBalance: total,
		Positions:        map[string]Position{},
	}
}

func TestFixedSizing(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, reason := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatalf("expected size, dropped: %s", reason)
	}
	if ps.BaseAmount != 5000 {
		t.Errorf("baseAmount=%f, expected 5000", ps.BaseAmount)
	}
	if ps.QuoteAmount != 0.1 {
		t.Errorf("quoteAmount=%f, expected 0.1", ps.QuoteAmount)
	}
	if ps.Percentage != 0.05 {
		t.Errorf("percentage=%f, expected 0.05", ps.Percentage)
	}
}

func TestPercentageSizing(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, reason := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodPercentage)
	if ps == nil {
		t.Fatalf("expected size, dropped: %s", reason)
	}
	if ps.BaseAmount != 10000 {
		t.Errorf("baseAmount=%f, expected 10%% of portfolio", ps.BaseAmount)
	}
}

func TestMaxPositionCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FixedAmount = 50000
	s := NewSizer(cfg, zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, _ := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatal("expected size")
	}
	if ps.BaseAmount != 20000 {
		t.Errorf("baseAmount=%f, expected cap at 20%% of portfolio", ps.BaseAmount)
	}
	if len(ps.Adjustments) == 0 {
		t.Error("cap must be recorded in adjustments")
	}
}

func TestCriticalRiskHalves(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.9, 0.15, signal.RiskCritical)

	ps, _ := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatal("expected size")
	}
	if ps.BaseAmount != 2500 {
		t.Errorf("baseAmount=%f, expected 5000 halved", ps.BaseAmount)
	}
}

func TestConfidenceMultiplier(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.35, 0.6, 0.15, signal.RiskLow)

	ps, _ := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatal("expected size")
	}
	want := 5000 * 0.35 / 0.7
	if math.Abs(ps.BaseAmount-want) > 1e-9 {
		t.Errorf("baseAmount=%f, expected %f", ps.BaseAmount, want)
	}
}

func TestBelowMinimumDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FixedAmount = 5
	s := NewSizer(cfg, zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, reason := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps != nil {
		t.Fatalf("expected drop, got %+v", ps)
	}
	if reason != DropBelowMinimum {
		t.Errorf("reason=%s, expected %s", reason, DropBelowMinimum)
	}
}

func TestKellyUsesConfidenceWithoutHistory(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, reason := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodKelly)
	if ps == nil {
		t.Fatalf("expected size, dropped: %s", reason)
	}
	// p=0.8, b=2: f = (0.8*2 - 0.2)/2 = 0.7; 25% safety => 17.5% of portfolio.
	want := 0.7 * 0.25 * 100000
	if math.Abs(ps.BaseAmount-want) > 1e-6 {
		t.Errorf("baseAmount=%f, expected %f", ps.BaseAmount, want)
	}
}

func TestKellyBlendsHistoricalWinRate(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	for i := 0; i < 10; i++ {
		s.RecordOutcome("BTC/USDT", i < 4) // 40% win rate
	}
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, _ := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodKelly)
	if ps == nil {
		t.Fatal("expected size")
	}
	// p = 0.5*0.8 + 0.5*0.4 = 0.6: f = (1.2-0.4)/2 = 0.4; 25% => 10%.
	want := 0.4 * 0.25 * 100000
	if math.Abs(ps.BaseAmount-want) > 1e-6 {
		t.Errorf("baseAmount=%f, expected %f", ps.BaseAmount, want)
	}
}

func TestVolatilityAdjustedCapsAtTwoTimes(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	calm := sizerSignal("BTC/USDT", 0.8, 0.6, 0.03, signal.RiskLow)

	ps, _ := s.CalculatePositionSize(calm, 50000, testPortfolio(100000), MethodVolatilityAdjusted)
	if ps == nil {
		t.Fatal("expected size")
	}
	// 0.15/0.03 = 5x, capped at 2x of the 10% base => 20% => also the max
	// position cap boundary.
	if ps.BaseAmount != 20000 {
		t.Errorf("baseAmount=%f, expected 20000", ps.BaseAmount)
	}
}

func TestRiskParityCorrelationPenalty(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.2, signal.RiskLow)

	free, _ := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodRiskParity)
	if free == nil {
		t.Fatal("expected size")
	}

	held := testPortfolio(100000)
	held.Positions["BTC/USDT"] = Position{Symbol: "BTC/USDT", Quantity: 0.2, Value: 10000}
	penalized, _ := s.CalculatePositionSize(sig, 50000, held, MethodRiskParity)
	if penalized == nil {
		t.Fatal("expected size")
	}

	if penalized.BaseAmount*2 != free.BaseAmount {
		t.Errorf("perfect correlation must halve the size: free=%f penalized=%f", free.BaseAmount, penalized.BaseAmount)
	}
}

func TestRiskBudgetUsesStopDistance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionSize = 0.4
	cfg.FixedAmount = 40000
	s := NewSizer(cfg, zerolog.Nop())

	// Wide stop: vol 0.45 on a 1d timeframe clamps the distance at 50%,
	// so 40k at risk 20k must shrink to the 10k budget.
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.45, signal.RiskLow)
	sig.Timeframe = signal.Timeframe1d

	ps, reason := s.CalculatePositionSize(sig, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatalf("expected size, dropped: %s", reason)
	}
	if math.Abs(ps.BaseAmount-20000) > 1e-6 {
		t.Errorf("baseAmount=%f, expected 20000 after risk shrink", ps.BaseAmount)
	}
	if ps.RiskAmount > cfg.MaxPortfolioRisk*100000+1e-6 {
		t.Errorf("riskAmount=%f exceeds the 10%% portfolio budget", ps.RiskAmount)
	}
	if len(ps.Adjustments) == 0 {
		t.Error("risk shrink must be recorded in adjustments")
	}
}

func TestRiskBudgetAccountsForOpenPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionSize = 0.4
	cfg.FixedAmount = 40000
	s := NewSizer(cfg, zerolog.Nop())

	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.45, signal.RiskLow)
	sig.Timeframe = signal.Timeframe1d

	held := testPortfolio(100000)
	held.Positions["ETH/USDT"] = Position{Symbol: "ETH/USDT", Quantity: 2, Value: 8000, RiskAmount: 6000}

	ps, reason := s.CalculatePositionSize(sig, 50000, held, MethodFixed)
	if ps == nil {
		t.Fatalf("expected size, dropped: %s", reason)
	}
	// 10k budget minus 6k committed leaves 4k; at 50% stop distance that
	// bounds the position at 8k.
	if math.Abs(ps.BaseAmount-8000) > 1e-6 {
		t.Errorf("baseAmount=%f, expected 8000 against the remaining budget", ps.BaseAmount)
	}
	if math.Abs(ps.RiskAmount-4000) > 1e-6 {
		t.Errorf("riskAmount=%f, expected 4000", ps.RiskAmount)
	}
}

func TestRiskBudgetExhaustedDropsSignal(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	sig := sizerSignal("BTC/USDT", 0.8, 0.6, 0.45, signal.RiskLow)

	held := testPortfolio(100000)
	held.Positions["ETH/USDT"] = Position{Symbol: "ETH/USDT", Quantity: 2, Value: 8000, RiskAmount: 10000}

	ps, reason := s.CalculatePositionSize(sig, 50000, held, MethodFixed)
	if ps != nil {
		t.Fatalf("expected drop with no budget left, got %+v", ps)
	}
	if reason != DropBelowMinimum {
		t.Errorf("reason=%s, expected %s", reason, DropBelowMinimum)
	}
}

func TestStopsRewardRiskRatio(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())
	buy := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)

	ps, _ := s.CalculatePositionSize(buy, 50000, testPortfolio(100000), MethodFixed)
	if ps == nil {
		t.Fatal("expected size")
	}
	if ps.StopLoss >= 50000 {
		t.Errorf("BUY stop=%f, expected below price", ps.StopLoss)
	}
	if ps.TakeProfit <= 50000 {
		t.Errorf("BUY take-profit=%f, expected above price", ps.TakeProfit)
	}
	stopDist := 50000 - ps.StopLoss
	tpDist := ps.TakeProfit - 50000
	if math.Abs(tpDist-2*stopDist) > 1e-6 {
		t.Errorf("reward:risk = %f:%f, expected 2:1", tpDist, stopDist)
	}

	sell := sizerSignal("BTC/USDT", 0.8, 0.6, 0.15, signal.RiskLow)
	sell.Action = signal.ActionSell
	ps2, _ := s.CalculatePositionSize(sell, 50000, testPortfolio(100000), MethodFixed)
	if ps2.StopLoss <= 50000 || ps2.TakeProfit >= 50000 {
		t.Errorf("SELL stops inverted: stop=%f tp=%f", ps2.StopLoss, ps2.TakeProfit)
	}
}

func TestSizeBoundsProperty(t *testing.T) {
	cfg := DefaultConfig()
	s := NewSizer(cfg, zerolog.Nop())
	portfolio := testPortfolio(100000)

	methods := []string{MethodFixed, MethodPercentage, MethodKelly, MethodRiskParity, MethodVolatilityAdjusted}
	risks := []signal.RiskLevel{signal.RiskLow, signal.RiskMedium, signal.RiskHigh, signal.RiskCritical}
	for _, m := range methods {
		for _, risk := range risks {
			sig := sizerSignal("BTC/USDT", 0.75, 0.6, 0.25, risk)
			ps, _ := s.CalculatePositionSize(sig, 50000, portfolio, m)
			if ps == nil {
				continue
			}
			if ps.BaseAmount > cfg.MaxPositionSize*portfolio.TotalValue+1e-9 {
				t.Errorf("%s/%s: baseAmount=%f exceeds max position size", m, risk, ps.BaseAmount)
			}
			if ps.BaseAmount < cfg.MinPositionSize {
				t.Errorf("%s/%s: baseAmount=%f below minimum", m, risk, ps.BaseAmount)
			}
		}
	}
}

func TestAutoSelectMethod(t *testing.T) {
	s := NewSizer(DefaultConfig(), zerolog.Nop())

	kelly := sizerSignal("BTC/USDT", 0.9, 0.6, 0.1, signal.RiskLow)
	ps, _ := s.CalculatePositionSize(kelly, 50000, testPortfolio(100000), "")
	if ps == nil || ps.Method != MethodKelly {
		t.Errorf("high confidence + low risk should auto-select kelly, got %+v", ps)
	}

	volatile := sizerSignal("BTC/USDT", 0.6, 0.6, 0.7, signal.RiskMedium)
	ps, _ = s.CalculatePositionSize(volatile, 50000, testPortfolio(100000), "")
	if ps == nil || ps.Method != MethodVolatilityAdjusted {
		t.Errorf("high volatility should auto-select volatility_adjusted, got %+v", ps)
	}

	plain := sizerSignal("BTC/USDT", 0.6, 0.6, 0.2, signal.RiskMedium)
	ps, _ = s.CalculatePositionSize(plain, 50000, testPortfolio(100000), "")
	if ps == nil || ps.Method != MethodPercentage {
		t.Errorf("default should auto-select percentage, got %+v", ps)
	}
}
