package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled wraps an Exchange with a token-bucket rate limiter so the
// pipeline cannot exceed the venue's request budget. Every call waits for
// a token (respecting ctx) before delegating.
type Throttled struct {
	inner   Exchange
	limiter *rate.Limiter
}

// NewThrottled builds a rate-limited wrapper allowing rps requests per
// second with the given burst.
func NewThrottled(inner Exchange, rps float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *Throttled) FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.FetchOrderBook(ctx, symbol)
}

func (t *Throttled) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.FetchTicker(ctx, symbol)
}

func (t *Throttled) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.CreateOrder(ctx, req)
}

func (t *Throttled) GetOrder(ctx context.Context, id string) (*Order, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetOrder(ctx, id)
}

func (t *Throttled) CancelOrder(ctx context.Context, id string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.CancelOrder(ctx, id)
}

func (t *Throttled) CancelAllOrders(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.CancelAllOrders(ctx)
}
