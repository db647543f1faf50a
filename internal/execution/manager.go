package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/pkg/config"
	"signal-core/pkg/exchange"
	"signal-core/pkg/retry"
)

// Config holds execution tunables.
type Config struct {
	UrgencyThreshold  float64         `yaml:"urgency_threshold"` // strength at or above places market orders
	LimitOffset       float64         `yaml:"limit_offset"`      // 0.0005 = 5 bps through the touch
	MaxRetries        int             `yaml:"max_retries"`
	RetryDelay        config.Duration `yaml:"retry_delay"`
	MarketTimeout     config.Duration `yaml:"market_timeout"`
	LimitTimeout      config.Duration `yaml:"limit_timeout"`
	PollInterval      config.Duration `yaml:"poll_interval"`
	SlippageTolerance float64         `yaml:"slippage_tolerance"` // adverse move that cancels a resting limit
	PartialFillPolicy string          `yaml:"partial_fill_policy"`
	HistorySize       int             `yaml:"history_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UrgencyThreshold:  0.8,
		LimitOffset:       0.0005,
		MaxRetries:        3,
		RetryDelay:        config.Duration(500 * time.Millisecond),
		MarketTimeout:     config.Duration(10 * time.Second),
		LimitTimeout:      config.Duration(60 * time.Second),
		PollInterval:      config.Duration(2 * time.Second),
		SlippageTolerance: 0.005,
		PartialFillPolicy: PartialComplete,
		HistorySize:       500,
	}
}

// Manager places and supervises orders for routed, sized signals. It never
// returns an error: every outcome is expressed in the Result status.
type Manager struct {
	cfg Config
	ex  exchange.Exchange
	bus *events.Bus
	log zerolog.Logger

	mu      sync.Mutex
	history []Result
	totals  Metrics
	slipSum float64
	durSum  time.Duration
}

// NewManager builds an execution manager on top of an exchange client.
func NewManager(cfg Config, ex exchange.Exchange, bus *events.Bus, log zerolog.Logger) *Manager {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	return &Manager{
		cfg: cfg,
		ex:  ex,
		bus: bus,
		log: log.With().Str("component", "execution_manager").Logger(),
	}
}

// ExecuteSignal runs one signal to completion: order-type decision,
// placement with retries, fill supervision and partial-fill handling.
func (m *Manager) ExecuteSignal(ctx context.Context, sig *signal.TradingSignal, size *sizing.PositionSize) Result {
	start := time.Now()
	res := Result{
		SignalID:     sig.ID,
		Symbol:       sig.Symbol,
		Side:         string(sig.Action),
		RequestedQty: size.QuoteAmount,
		Timestamp:    start,
	}

	side := exchange.SideBuy
	if sig.Action == signal.ActionSell {
		side = exchange.SideSell
	}

	orderType, limitPrice, refPrice, err := m.planOrder(ctx, sig, side)
	if err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, err.Error())
		return m.finish(ctx, res, start)
	}
	res.OrderType = string(orderType)

	req := exchange.OrderRequest{
		Symbol:      sig.Symbol,
		Type:        orderType,
		Side:        side,
		Amount:      size.QuoteAmount,
		Price:       limitPrice,
		TimeInForce: timeInForce(orderType, sig.Timeframe),
	}

	order, retries, err := m.placeOrderWithRetry(ctx, req)
	res.RetryCount = retries
	if err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, err.Error())
		return m.finish(ctx, res, start)
	}
	res.OrderID = order.ID

	order, waitErrs := m.waitForFill(ctx, order, refPrice, side)
	res.Errors = append(res.Errors, waitErrs...)

	if m.cfg.PartialFillPolicy == PartialComplete && order.Filled > 0 && order.Remaining() > 0 {
		order = m.completeRemainder(ctx, order, &res)
	}

	m.settle(&res, order, refPrice, side)
	return m.finish(ctx, res, start)
}

// planOrder decides market vs limit and computes the limit and reference
// prices from the live book. Urgent signals (strength at or above the
// threshold, or a critical-risk exit) cross the spread immediately.
func (m *Manager) planOrder(ctx context.Context, sig *signal.TradingSignal, side exchange.Side) (exchange.OrderType, float64, float64, error) {
	urgent := sig.Strength >= m.cfg.UrgencyThreshold ||
		(sig.RiskLevel == signal.RiskCritical && sig.Action == signal.ActionSell)

	book, err := m.ex.FetchOrderBook(ctx, sig.Symbol)
	if err != nil {
		return "", 0, 0, fmt.Errorf("fetch order book: %w", err)
	}
	bid, ask := book.BestBid(), book.BestAsk()
	if bid <= 0 || ask <= 0 {
		return "", 0, 0, fmt.Errorf("empty order book for %s", sig.Symbol)
	}

	if urgent {
		ref := ask
		if side == exchange.SideSell {
			ref = bid
		}
		return exchange.OrderTypeMarket, 0, ref, nil
	}

	// Passive entry slightly through the touch to improve queue position.
	var price float64
	if side == exchange.SideBuy {
		price = bid * (1 + m.cfg.LimitOffset)
	} else {
		price = ask * (1 - m.cfg.LimitOffset)
	}
	return exchange.OrderTypeLimit, price, price, nil
}

// timeInForce picks the order lifetime. Market orders and short-horizon
// signals never rest on the book.
func timeInForce(orderType exchange.OrderType, tf signal.Timeframe) exchange.TimeInForce {
	if orderType == exchange.OrderTypeMarket {
		return exchange.TIFIOC
	}
	if tf == signal.Timeframe1m || tf == signal.Timeframe5m {
		return exchange.TIFIOC
	}
	return exchange.TIFGTC
}

// placeOrderWithRetry submits the order with bounded exponential backoff.
// The placement call runs at most MaxRetries+1 times.
func (m *Manager) placeOrderWithRetry(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, int, error) {
	retries := 0
	cfg := retry.Config{
		MaxAttempts:  m.cfg.MaxRetries + 1,
		InitialDelay: m.cfg.RetryDelay.Std(),
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		RetryIf:      retry.IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = attempt
			m.log.Warn().Err(err).Int("attempt", attempt).Dur("next_in", delay).
				Str("symbol", req.Symbol).Msg("order placement retry")
		},
	}

	order, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
		return m.ex.CreateOrder(ctx, req)
	}, cfg)
	if err != nil {
		return nil, retries, fmt.Errorf("place order: %w", err)
	}
	return order, retries, nil
}

// waitForFill polls the order until it closes or the timeout expires. A
// resting limit order is cancelled early when the market moves adversely
// past the slippage tolerance.
func (m *Manager) waitForFill(ctx context.Context, order *exchange.Order, refPrice float64, side exchange.Side) (*exchange.Order, []string) {
	var errs []string
	timeout := m.cfg.MarketTimeout.Std()
	if order.Type == exchange.OrderTypeLimit {
		timeout = m.cfg.LimitTimeout.Std()
	}
	deadline := time.Now().Add(timeout)

	for {
		if order.Closed() {
			return order, errs
		}
		if time.Now().After(deadline) {
			errs = append(errs, "fill wait timed out")
			order = m.refresh(ctx, order)
			// Under the complete policy a partial fill keeps its
			// remainder alive: completeRemainder cancels before chasing.
			if m.cfg.PartialFillPolicy == PartialComplete && order.Filled > 0 && order.Remaining() > 0 {
				return order, errs
			}
			if err := m.ex.CancelOrder(ctx, order.ID); err != nil {
				errs = append(errs, fmt.Sprintf("cancel after timeout: %v", err))
			}
			return m.refresh(ctx, order), errs
		}

		if order.Type == exchange.OrderTypeLimit && refPrice > 0 {
			if ticker, err := m.ex.FetchTicker(ctx, order.Symbol); err == nil {
				adverse := (ticker.Last - refPrice) / refPrice
				if side == exchange.SideSell {
					adverse = -adverse
				}
				if adverse > m.cfg.SlippageTolerance {
					errs = append(errs, "cancelled on adverse price move")
					if err := m.ex.CancelOrder(ctx, order.ID); err != nil {
						errs = append(errs, fmt.Sprintf("cancel on adverse move: %v", err))
					}
					return m.refresh(ctx, order), errs
				}
			}
		}

		select {
		case <-ctx.Done():
			errs = append(errs, ctx.Err().Error())
			return m.refresh(ctx, order), errs
		case <-time.After(m.cfg.PollInterval.Std()):
		}

		updated, err := m.ex.GetOrder(ctx, order.ID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("poll order: %v", err))
			continue
		}
		order = updated
	}
}

// refresh fetches the final order state, falling back to the last known
// snapshot when the venue is unreachable.
func (m *Manager) refresh(ctx context.Context, order *exchange.Order) *exchange.Order {
	if updated, err := m.ex.GetOrder(ctx, order.ID); err == nil {
		return updated
	}
	return order
}

// completeRemainder chases the unfilled remainder with a market order. The
// chase shares the parent's retry budget rather than getting a fresh one.
func (m *Manager) completeRemainder(ctx context.Context, order *exchange.Order, res *Result) *exchange.Order {
	remaining := order.Remaining()
	if remaining <= 0 {
		return order
	}
	if !order.Closed() {
		if err := m.ex.CancelOrder(ctx, order.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cancel before completion: %v", err))
		}
	}

	budget := m.cfg.MaxRetries - res.RetryCount
	if budget < 0 {
		budget = 0
	}
	retries := 0
	cfg := retry.Config{
		MaxAttempts:  budget + 1,
		InitialDelay: m.cfg.RetryDelay.Std(),
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		RetryIf:      retry.IsRetryable,
		OnRetry:      func(attempt int, err error, delay time.Duration) { retries = attempt },
	}
	chase, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
		return m.ex.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:      order.Symbol,
			Type:        exchange.OrderTypeMarket,
			Side:        order.Side,
			Amount:      remaining,
			TimeInForce: exchange.TIFIOC,
		})
	}, cfg)
	res.RetryCount += retries
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("complete remainder: %v", err))
		return order
	}

	chase, waitErrs := m.waitForFill(ctx, chase, 0, order.Side)
	res.Errors = append(res.Errors, waitErrs...)
	if !chase.Closed() {
		if err := m.ex.CancelOrder(ctx, chase.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cancel chase: %v", err))
		}
	}

	// Merge both legs into one synthetic fill view.
	merged := *order
	total := order.Filled + chase.Filled
	if total > 0 {
		merged.AvgFillPrice = (order.AvgFillPrice*order.Filled + chase.AvgFillPrice*chase.Filled) / total
	}
	merged.Filled = total
	merged.Fee = order.Fee + chase.Fee
	if merged.Remaining() <= 1e-12 {
		merged.Status = exchange.StatusFilled
	} else {
		merged.Status = exchange.StatusPartial
	}
	return &merged
}

// settle maps the final order state onto the result and computes signed
// slippage: positive when the fill is worse than the reference.
func (m *Manager) settle(res *Result, order *exchange.Order, refPrice float64, side exchange.Side) {
	res.FilledAmount = order.Filled
	res.AvgFillPrice = order.AvgFillPrice
	res.TotalCost = order.AvgFillPrice * order.Filled
	res.Fees = order.Fee

	if order.Filled > 0 && refPrice > 0 {
		res.Slippage = Slippage(side, refPrice, order.AvgFillPrice)
	}

	switch {
	case order.Status == exchange.StatusFilled:
		res.Status = StatusSuccess
	case order.Filled > 0:
		if order.Status == exchange.StatusCancelled && m.cfg.PartialFillPolicy == PartialCancel {
			res.Status = StatusCancelled
		} else {
			res.Status = StatusPartial
		}
	case order.Status == exchange.StatusCancelled:
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
	}
}

// Slippage computes the signed fill-quality measure. A BUY above reference
// or a SELL below reference is positive (adverse).
func Slippage(side exchange.Side, ref, fill float64) float64 {
	if ref <= 0 {
		return 0
	}
	if side == exchange.SideBuy {
		return (fill - ref) / ref
	}
	return (ref - fill) / ref
}

// finish stamps timing, records history/metrics and publishes the outcome.
func (m *Manager) finish(ctx context.Context, res Result, start time.Time) Result {
	res.ExecutionTime = time.Since(start)

	m.mu.Lock()
	m.history = append(m.history, res)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.totals.Total++
	switch res.Status {
	case StatusSuccess:
		m.totals.Succeeded++
	case StatusPartial:
		m.totals.Partial++
	case StatusCancelled:
		m.totals.Cancelled++
	default:
		m.totals.Failed++
	}
	if res.FilledAmount > 0 {
		m.slipSum += math.Abs(res.Slippage)
	}
	m.durSum += res.ExecutionTime
	m.mu.Unlock()

	event := events.EventOrderExecuted
	if res.Status == StatusFailed {
		event = events.EventExecutionFailed
	}
	if m.bus != nil {
		m.bus.Publish(event, res)
	}

	m.log.Info().
		Str("signal", res.SignalID).
		Str("symbol", res.Symbol).
		Str("status", res.Status).
		Float64("filled", res.FilledAmount).
		Float64("slippage", res.Slippage).
		Int("retries", res.RetryCount).
		Dur("took", res.ExecutionTime).
		Msg("execution settled")

	return res
}

// GetMetrics returns aggregate execution statistics.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.totals
	if out.Total > 0 {
		out.SuccessRate = float64(out.Succeeded+out.Partial) / float64(out.Total)
		out.AvgDuration = m.durSum / time.Duration(out.Total)
	}
	filled := out.Succeeded + out.Partial
	if filled > 0 {
		out.AvgSlippage = m.slipSum / float64(filled)
	}
	return out
}

// GetHistory returns up to limit most recent results, newest first.
func (m *Manager) GetHistory(limit int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]Result, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.history[len(m.history)-1-i]
	}
	return out
}
