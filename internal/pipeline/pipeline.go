package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
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
)

// ErrAlreadyRunning is returned by Start when the pipeline is active.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Pipeline drives sentiment updates through generate, filter, route, size
// and execute. All collaborators are constructor-injected; there is no
// ambient shared state.
type Pipeline struct {
	gen    *signal.Generator
	router *strategy.Router
	sizer  *sizing.Sizer
	exec   *execution.Manager
	brk    *breaker.Breaker
	guard  *safety.Manager
	bus    *events.Bus
	log    zerolog.Logger

	mu         sync.Mutex
	cfg        Config
	strategies []strategy.Strategy
	observers  []StageObserver
	portfolio  *sizing.Portfolio
	peakValue  float64

	running  bool
	queue    []market.Update
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight int

	processed int
	generated int
	executed  int
	failures  map[string]int
}

// New builds a pipeline around its collaborators.
func New(cfg Config, gen *signal.Generator, router *strategy.Router, sizer *sizing.Sizer,
	exec *execution.Manager, brk *breaker.Breaker, guard *safety.Manager,
	strategies []strategy.Strategy, bus *events.Bus, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		gen:        gen,
		router:     router,
		sizer:      sizer,
		exec:       exec,
		brk:        brk,
		guard:      guard,
		bus:        bus,
		log:        log.With().Str("component", "pipeline").Logger(),
		cfg:        cfg,
		strategies: strategies,
		failures:   make(map[string]int),
	}
}

// AddObserver registers a synchronous per-stage observer.
func (p *Pipeline) AddObserver(o StageObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Start begins the queue-drain and metrics ticks. It rejects a second
// start while running.
func (p *Pipeline) Start(portfolio *sizing.Portfolio) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.portfolio = portfolio
	p.peakValue = portfolio.TotalValue

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(2)
	go p.drainLoop(ctx)
	go p.metricsLoop(ctx)

	p.log.Info().
		Dur("tick", p.cfg.TickInterval.Std()).
		Int("queue_size", p.cfg.QueueSize).
		Bool("simulate", p.cfg.Simulate).
		Msg("pipeline started")
	return nil
}

// Stop halts the ticks and drops any queued work.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.queue = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.log.Info().Msg("pipeline stopped")
}

// QueueSentiment enqueues one update for the next tick. It is a silent
// no-op while the pipeline is stopped, and drops when the queue is full.
func (p *Pipeline) QueueSentiment(update market.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if len(p.queue) >= p.cfg.QueueSize {
		p.log.Warn().Str("symbol", update.Sentiment.Symbol).Msg("queue full, update dropped")
		return
	}
	p.queue = append(p.queue, update)
}

func (p *Pipeline) drainLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, u := range p.takeQueue() {
				p.ProcessSentiment(ctx, u)
			}
		}
	}
}

// takeQueue swaps out the pending updates in FIFO order.
func (p *Pipeline) takeQueue() []market.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queue
	p.queue = nil
	return q
}

// ProcessSentiment runs the full chain for one update. It never panics or
// returns an error: every failure is categorized in the Outcome.
func (p *Pipeline) ProcessSentiment(ctx context.Context, update market.Update) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = p.fail(update.Sentiment.Symbol, CategoryException, fmt.Sprintf("panic: %v", r))
		}
	}()

	p.mu.Lock()
	p.processed++
	cfg := p.cfg
	strategies := p.strategies
	portfolio := p.portfolio
	p.mu.Unlock()

	sig, dropReason := p.gen.Generate(update)
	if sig == nil {
		return p.fail(update.Sentiment.Symbol, CategoryFiltered, dropReason)
	}

	p.mu.Lock()
	p.generated++
	p.mu.Unlock()
	p.notify(func(o StageObserver) { o.OnSignal(sig) })
	p.bus.Publish(events.EventSignalGenerated, sig)

	if reason := p.filterSignal(sig, cfg); reason != "" {
		return p.fail(sig.Symbol, CategoryFiltered, reason)
	}

	assignment, dropReason := p.router.RouteToStrategy(sig, strategies)
	if assignment == nil {
		return p.fail(sig.Symbol, CategoryNoStrategy, dropReason)
	}
	p.notify(func(o StageObserver) { o.OnRouted(assignment) })
	p.bus.Publish(events.EventSignalRouted, events.SignalRouted{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		StrategyID: assignment.StrategyID,
		Score:      assignment.Score,
		At:         time.Now(),
	})

	size, dropReason := p.sizer.CalculatePositionSize(sig, sig.Market.Price, portfolio, p.sizingMethod(assignment.StrategyID, strategies))
	if size == nil {
		p.releaseSignal(assignment.StrategyID)
		return p.failSignal(sig, CategoryPositionSize, dropReason)
	}
	p.notify(func(o StageObserver) { o.OnSized(sig, size) })

	out = Outcome{Signal: sig, Size: size}
	if cfg.Simulate {
		p.releaseSignal(assignment.StrategyID)
		p.mu.Lock()
		p.executed++
		p.mu.Unlock()
		p.log.Debug().Str("signal", sig.ID).Msg("simulate mode, execution skipped")
		return out
	}

	check := p.guard.ValidateTrade(ctx, sig.Symbol, string(sig.Action), size.QuoteAmount, sig.Market.Price)
	if !check.Valid {
		p.releaseSignal(assignment.StrategyID)
		return p.failSignal(sig, CategoryExecutionFailed, strings.Join(check.Errors, "; "))
	}
	if check.AdjustedQuantity > 0 && check.AdjustedQuantity < size.QuoteAmount {
		size.QuoteAmount = check.AdjustedQuantity
		size.BaseAmount = check.AdjustedQuantity * sig.Market.Price
		size.Adjustments = append(size.Adjustments, check.Warnings...)
	}

	p.mu.Lock()
	if p.inFlight >= cfg.MaxConcurrentSignals {
		p.mu.Unlock()
		p.releaseSignal(assignment.StrategyID)
		return p.failSignal(sig, CategoryFiltered, "concurrency cap reached")
	}
	p.inFlight++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	var res execution.Result
	err := p.brk.Execute(breaker.FailureAPIError, func() error {
		res = p.exec.ExecuteSignal(ctx, sig, size)
		if res.Status == execution.StatusFailed {
			return fmt.Errorf("execution failed: %s", strings.Join(res.Errors, "; "))
		}
		return nil
	})

	filled := res.FilledAmount > 0
	p.router.UpdateCapacity(assignment.StrategyID, strategy.TradeOutcome{
		PositionsDelta: boolToInt(filled),
		CapitalDelta:   res.AvgFillPrice * res.FilledAmount,
		SignalDone:     true,
	})

	if errors.Is(err, breaker.ErrOpen) {
		return p.failSignal(sig, CategoryExecutionFailed, "circuit breaker open")
	}

	out.Result = &res
	p.notify(func(o StageObserver) { o.OnExecuted(sig, res) })

	if err != nil || res.Status == execution.StatusFailed {
		out.Category = CategoryExecutionFailed
		out.Reason = strings.Join(res.Errors, "; ")
		p.countFailure(CategoryExecutionFailed)
		return out
	}

	p.mu.Lock()
	p.executed++
	p.mu.Unlock()
	return out
}

// filterSignal applies the pre-routing gates; empty means pass.
func (p *Pipeline) filterSignal(sig *signal.TradingSignal, cfg Config) string {
	if sig.Strength < cfg.MinStrength {
		return "strength below pipeline minimum"
	}
	for _, denied := range cfg.DeniedSymbols {
		if denied == sig.Symbol {
			return "symbol denied"
		}
	}
	if len(cfg.AllowedSymbols) > 0 {
		found := false
		for _, s := range cfg.AllowedSymbols {
			if s == sig.Symbol {
				found = true
				break
			}
		}
		if !found {
			return "symbol not in allow list"
		}
	}
	return ""
}

func (p *Pipeline) sizingMethod(strategyID string, strategies []strategy.Strategy) string {
	for _, st := range strategies {
		if st.ID == strategyID {
			return st.Config.SizingMethod
		}
	}
	return ""
}

// releaseSignal returns an active-signal slot after a mid-chain drop.
func (p *Pipeline) releaseSignal(strategyID string) {
	p.router.UpdateCapacity(strategyID, strategy.TradeOutcome{SignalDone: true})
}

func (p *Pipeline) fail(symbol, category, reason string) Outcome {
	p.countFailure(category)
	p.notify(func(o StageObserver) { o.OnFiltered(symbol, category, reason) })
	p.bus.Publish(events.EventSignalFiltered, events.SignalFiltered{
		Symbol: symbol,
		Reason: reason,
		At:     time.Now(),
	})
	return Outcome{Category: category, Reason: reason}
}

func (p *Pipeline) failSignal(sig *signal.TradingSignal, category, reason string) Outcome {
	out := p.fail(sig.Symbol, category, reason)
	out.Signal = sig
	return out
}

func (p *Pipeline) countFailure(category string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[category]++
}

func (p *Pipeline) notify(fn func(StageObserver)) {
	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}

func (p *Pipeline) metricsLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MetricsInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAlerts()
		}
	}
}

// checkAlerts compares live execution quality against thresholds and feeds
// portfolio metrics to the breaker.
func (p *Pipeline) checkAlerts() {
	p.mu.Lock()
	cfg := p.cfg
	portfolio := p.portfolio
	if portfolio != nil && portfolio.TotalValue > p.peakValue {
		p.peakValue = portfolio.TotalValue
	}
	peak := p.peakValue
	p.mu.Unlock()

	m := p.exec.GetMetrics()
	if m.Total >= 5 && m.SuccessRate < cfg.MinSuccessRate {
		p.alert("warning", fmt.Sprintf("execution success rate %.0f%% below threshold", m.SuccessRate*100))
	}
	if m.AvgSlippage > cfg.MaxAvgSlippage {
		p.alert("warning", fmt.Sprintf("average slippage %.2f%% above threshold", m.AvgSlippage*100))
	}

	if portfolio != nil && portfolio.TotalValue > 0 {
		dailyLoss := 0.0
		if portfolio.DailyPnL < 0 {
			dailyLoss = -portfolio.DailyPnL / portfolio.TotalValue
		}
		drawdown := 0.0
		if peak > 0 && portfolio.TotalValue < peak {
			drawdown = (peak - portfolio.TotalValue) / peak
		}
		p.brk.CheckMetrics(dailyLoss, drawdown)
	}

	p.bus.Publish(events.EventPipelineMetrics, p.GetMetrics())
}

func (p *Pipeline) alert(level, message string) {
	p.log.Warn().Str("level", level).Msg(message)
	p.bus.Publish(events.EventRiskAlert, events.RiskAlert{
		Level:   level,
		Source:  "pipeline",
		Message: message,
		At:      time.Now(),
	})
}

// GetMetrics returns the pipeline counter snapshot.
func (p *Pipeline) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	failures := make(map[string]int, len(p.failures))
	for k, v := range p.failures {
		failures[k] = v
	}
	return Metrics{
		Running:          p.running,
		QueueDepth:       len(p.queue),
		Processed:        p.processed,
		SignalsGenerated: p.generated,
		Executed:         p.executed,
		Failures:         failures,
		Execution:        p.exec.GetMetrics(),
	}
}

// RecordTradeResult feeds one closed trade back into the loss tracking:
// portfolio PnL, the strategy's rolling performance and the breaker's
// consecutive-loss counter.
func (p *Pipeline) RecordTradeResult(strategyID string, pnl float64) {
	p.mu.Lock()
	var returnFrac float64
	if p.portfolio != nil {
		if p.portfolio.TotalValue > 0 {
			returnFrac = pnl / p.portfolio.TotalValue
		}
		p.portfolio.DailyPnL += pnl
		p.portfolio.TotalValue += pnl
		p.portfolio.AvailableBalance += pnl
	}
	p.mu.Unlock()

	if strategyID != "" {
		p.router.UpdateCapacity(strategyID, strategy.TradeOutcome{
			PositionsDelta: -1,
			Closed:         true,
			Return:         returnFrac,
		})
	}
	p.brk.RecordTradeResult(pnl)
}

// GetConfig returns the current pipeline tunables.
func (p *Pipeline) GetConfig() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateConfig swaps the pipeline tunables. Tick intervals apply on the
// next Start.
func (p *Pipeline) UpdateConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// UpdateStrategies replaces the routable strategy set.
func (p *Pipeline) UpdateStrategies(strategies []strategy.Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies = strategies
}

// Running reports the pipeline state.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
