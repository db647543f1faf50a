package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/breaker"
	"signal-core/internal/events"
	"signal-core/internal/execution"
	"signal-core/internal/market"
	"signal-core/internal/safety"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/exchange"
)

type pipelineHarness struct {
	p     *Pipeline
	paper *exchange.Paper
	brk   *breaker.Breaker
	pf    *sizing.Portfolio
}

func newHarness(t *testing.T, simulate bool) *pipelineHarness {
	t.Helper()
	log := zerolog.Nop()
	bus := events.NewBus()

	paper := exchange.NewPaper(exchange.PaperConfig{})
	paper.SetPrice("BTC/USDT", 50000)

	pf := &sizing.Portfolio{
		TotalValue:       100000,
		AvailableBalance: 100000,
		Positions:        map[string]sizing.Position{},
	}

	brk := breaker.New(breaker.DefaultConfig(), bus, log)
	guard := safety.NewManager(safety.DefaultLimits(), paper, func() *sizing.Portfolio { return pf }, "dev", "", bus, log)

	strategies := []strategy.Strategy{{
		ID:      "momentum-1",
		Name:    "Momentum",
		Type:    "momentum",
		Enabled: true,
		Config: strategy.Config{
			RiskTolerance:    0.5,
			MaxPositions:     5,
			MaxCapital:       50000,
			MaxActiveSignals: 10,
			SizingMethod:     sizing.MethodPercentage,
		},
	}}

	cfg := DefaultConfig()
	cfg.TickInterval = config.Duration(10 * time.Millisecond)
	cfg.MetricsInterval = config.Duration(50 * time.Millisecond)
	cfg.Simulate = simulate

	p := New(cfg,
		signal.NewGenerator(signal.DefaultConfig(), log),
		strategy.NewRouter(strategy.DefaultRouterConfig(), log),
		sizing.NewSizer(sizing.DefaultConfig(), log),
		execution.NewManager(execution.DefaultConfig(), paper, bus, log),
		brk, guard, strategies, bus, log)

	return &pipelineHarness{p: p, paper: paper, brk: brk, pf: pf}
}

func bullishUpdate(score float64, at time.Time) market.Update {
	return market.Update{
		Sentiment: market.SentimentScore{
			Symbol:     "BTC/USDT",
			Score:      score,
			Confidence: 0.85,
			Timestamp:  at,
		},
		Market: market.Data{
			Symbol:     "BTC/USDT",
			Price:      50000,
			Volume24h:  2_000_000,
			Change24h:  0.01,
			Volatility: 0.15,
			Bid:        49990,
			Ask:        50010,
			Timestamp:  at,
		},
	}
}

func TestStartRejectsDoubleStart(t *testing.T) {
	h := newHarness(t, true)
	if err := h.p.Start(h.pf); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.p.Stop()

	if err := h.p.Start(h.pf); err != ErrAlreadyRunning {
		t.Fatalf("err=%v, expected ErrAlreadyRunning", err)
	}
}

func TestQueueSentimentNoOpWhenStopped(t *testing.T) {
	h := newHarness(t, true)

	h.p.QueueSentiment(bullishUpdate(0.7, time.Now()))
	if got := h.p.GetMetrics().QueueDepth; got != 0 {
		t.Errorf("queue depth=%d, stopped pipeline must drop silently", got)
	}
}

func TestProcessSentimentNeutralFiltered(t *testing.T) {
	h := newHarness(t, true)

	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.1, time.Now()))
	if out.Category != CategoryFiltered {
		t.Fatalf("category=%s, expected filtered", out.Category)
	}
	if got := h.p.GetMetrics().Failures[CategoryFiltered]; got != 1 {
		t.Errorf("filtered count=%d, expected 1", got)
	}
}

func TestProcessSentimentSimulateSkipsExecution(t *testing.T) {
	h := newHarness(t, true)
	now := time.Now()

	h.p.ProcessSentiment(context.Background(), bullishUpdate(0.6, now))
	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.75, now.Add(time.Second)))

	if out.Category != "" {
		t.Fatalf("category=%s (%s), expected success", out.Category, out.Reason)
	}
	if out.Signal == nil || out.Size == nil {
		t.Fatal("success outcome must carry signal and size")
	}
	if out.Result != nil {
		t.Error("simulate mode must not execute")
	}

	m := h.p.GetMetrics()
	if m.Executed != 1 {
		t.Errorf("executed=%d, expected 1", m.Executed)
	}
	if m.Execution.Total != 0 {
		t.Errorf("exchange executions=%d, simulate must not place orders", m.Execution.Total)
	}
}

func TestProcessSentimentExecutesAgainstVenue(t *testing.T) {
	h := newHarness(t, false)
	now := time.Now()

	h.p.ProcessSentiment(context.Background(), bullishUpdate(0.6, now))
	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.75, now.Add(time.Second)))

	if out.Category != "" {
		t.Fatalf("category=%s (%s), expected success", out.Category, out.Reason)
	}
	if out.Result == nil {
		t.Fatal("expected execution result")
	}
	if out.Result.Status != execution.StatusSuccess {
		t.Errorf("status=%s, expected success (errors: %v)", out.Result.Status, out.Result.Errors)
	}
	if out.Result.FilledAmount <= 0 {
		t.Error("expected a fill on the paper venue")
	}
}

func TestProcessSentimentNoStrategy(t *testing.T) {
	h := newHarness(t, true)
	h.p.UpdateStrategies(nil)
	now := time.Now()

	h.p.ProcessSentiment(context.Background(), bullishUpdate(0.6, now))
	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.75, now.Add(time.Second)))

	if out.Category != CategoryNoStrategy {
		t.Fatalf("category=%s, expected no_strategy", out.Category)
	}
}

func TestProcessSentimentBreakerOpenBlocksExecution(t *testing.T) {
	h := newHarness(t, false)
	h.brk.ForceOpen("test halt")
	now := time.Now()

	h.p.ProcessSentiment(context.Background(), bullishUpdate(0.6, now))
	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.75, now.Add(time.Second)))

	if out.Category != CategoryExecutionFailed {
		t.Fatalf("category=%s, expected execution_failed", out.Category)
	}
	if out.Reason != "circuit breaker open" {
		t.Errorf("reason=%q, expected circuit breaker open", out.Reason)
	}
}

type panickyObserver struct{}

func (panickyObserver) OnSignal(*signal.TradingSignal)                      { panic("observer boom") }
func (panickyObserver) OnFiltered(string, string, string)                   {}
func (panickyObserver) OnRouted(*strategy.Assignment)                       {}
func (panickyObserver) OnSized(*signal.TradingSignal, *sizing.PositionSize) {}
func (panickyObserver) OnExecuted(*signal.TradingSignal, execution.Result)  {}

func TestProcessSentimentRecoversPanics(t *testing.T) {
	h := newHarness(t, true)
	h.p.AddObserver(panickyObserver{})
	now := time.Now()

	h.p.ProcessSentiment(context.Background(), bullishUpdate(0.6, now))
	out := h.p.ProcessSentiment(context.Background(), bullishUpdate(0.75, now.Add(time.Second)))

	if out.Category != CategoryException {
		t.Fatalf("category=%s, expected exception", out.Category)
	}
}

func TestQueueDrainsOnTick(t *testing.T) {
	h := newHarness(t, true)
	if err := h.p.Start(h.pf); err != nil {
		t.Fatal(err)
	}
	defer h.p.Stop()

	h.p.QueueSentiment(bullishUpdate(0.6, time.Now()))

	deadline := time.Now().Add(time.Second)
	for h.p.GetMetrics().Processed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.p.GetMetrics().Processed; got != 1 {
		t.Errorf("processed=%d, expected queued update to drain", got)
	}
}

func TestRecordTradeResultFeedsBreakerAndPortfolio(t *testing.T) {
	h := newHarness(t, true)
	if err := h.p.Start(h.pf); err != nil {
		t.Fatal(err)
	}
	defer h.p.Stop()

	for i := 0; i < 3; i++ {
		h.p.RecordTradeResult("momentum-1", -100)
	}

	if got := h.brk.State(); got != breaker.StateOpen {
		t.Errorf("breaker state=%s, three consecutive losses must open it", got)
	}
	if h.pf.DailyPnL != -300 {
		t.Errorf("daily pnl=%f, expected -300", h.pf.DailyPnL)
	}
	if h.pf.TotalValue != 99700 {
		t.Errorf("total value=%f, expected 99700", h.pf.TotalValue)
	}
}

func TestLoadSettingsDefaultsWhenMissing(t *testing.T) {
	s, err := LoadSettings("/nonexistent/settings.yaml")
	if err != nil {
		t.Fatalf("missing file must fall back to defaults: %v", err)
	}
	if s.Pipeline.QueueSize != 256 {
		t.Errorf("queue size=%d, expected default 256", s.Pipeline.QueueSize)
	}
	if s.Breaker.MaxConsecutiveLosses != 3 {
		t.Errorf("max consecutive losses=%d, expected default 3", s.Breaker.MaxConsecutiveLosses)
	}
}
