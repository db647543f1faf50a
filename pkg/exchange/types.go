package exchange

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the pipeline places.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures order lifetime semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
)

// OrderStatus normalizes venue status into a small set.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// PriceLevel is one order book level.
type PriceLevel struct {
	Price  float64
	Amount float64
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel // descending by price
	Asks      []PriceLevel // ascending by price
	Timestamp time.Time
}

// BestBid returns the top bid price, or 0 when the book is empty.
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the book is empty.
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Ticker is a lightweight market snapshot.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// OrderRequest captures an order intent.
type OrderRequest struct {
	Symbol      string
	Type        OrderType
	Side        Side
	Amount      float64 // asset quantity
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	ClientID    string
}

// Order is the venue's view of a placed order.
type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Type         OrderType
	Side         Side
	Amount       float64
	Price        float64
	Filled       float64
	AvgFillPrice float64
	Fee          float64
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	r := o.Amount - o.Filled
	if r < 0 {
		return 0
	}
	return r
}

// Closed reports whether the order can no longer fill.
func (o *Order) Closed() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}
