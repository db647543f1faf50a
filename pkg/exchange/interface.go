package exchange

import "context"

// Exchange abstracts the trading venue the pipeline executes against.
// The core consumes this interface only; concrete venue clients live
// outside this module.
type Exchange interface {
	FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context) error
}
