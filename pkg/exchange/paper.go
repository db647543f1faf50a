package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperConfig tunes simulated execution quality.
type PaperConfig struct {
	FeeRate          float64 // decimal, e.g. 0.001 = 10 bps per fill
	SlippageBps      float64 // random adverse slippage applied to market fills
	SpreadBps        float64 // synthetic half-spread around the mid price
	PartialFillRatio float64 // 0 disables; 0.5 fills half of each marketable order
	BookDepth        int     // levels per side in synthetic books
}

// Paper is an in-process venue used in simulate mode and tests. It keeps a
// mid price per symbol (driven by SetPrice), synthesizes books and tickers
// around it, and fills orders against that price.
type Paper struct {
	cfg PaperConfig

	mu     sync.RWMutex
	mids   map[string]float64
	orders map[string]*Order
	rng    *rand.Rand
}

// NewPaper creates a paper venue.
func NewPaper(cfg PaperConfig) *Paper {
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 2
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 10
	}
	return &Paper{
		cfg:    cfg,
		mids:   make(map[string]float64),
		orders: make(map[string]*Order),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPrice moves the simulated mid price and fills any resting limit
// orders that the new price crosses.
func (p *Paper) SetPrice(symbol string, mid float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mids[symbol] = mid

	for _, o := range p.orders {
		if o.Symbol != symbol || o.Closed() || o.Type != OrderTypeLimit {
			continue
		}
		if (o.Side == SideBuy && mid <= o.Price) || (o.Side == SideSell && mid >= o.Price) {
			p.fillLocked(o, o.Price)
		}
	}
}

func (p *Paper) mid(symbol string) (float64, error) {
	m, ok := p.mids[symbol]
	if !ok || m <= 0 {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	return m, nil
}

func (p *Paper) FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mid, err := p.mid(symbol)
	if err != nil {
		return nil, err
	}

	half := mid * p.cfg.SpreadBps / 10000
	book := &OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for i := 0; i < p.cfg.BookDepth; i++ {
		step := half * float64(i+1)
		book.Bids = append(book.Bids, PriceLevel{Price: mid - step, Amount: 1 + float64(i)})
		book.Asks = append(book.Asks, PriceLevel{Price: mid + step, Amount: 1 + float64(i)})
	}
	return book, nil
}

func (p *Paper) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mid, err := p.mid(symbol)
	if err != nil {
		return nil, err
	}
	half := mid * p.cfg.SpreadBps / 10000
	return &Ticker{
		Symbol:    symbol,
		Last:      mid,
		Bid:       mid - half,
		Ask:       mid + half,
		Volume:    1_000_000,
		Timestamp: time.Now(),
	}, nil
}

func (p *Paper) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("paper: non-positive amount %f", req.Amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	mid, err := p.mid(req.Symbol)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:          uuid.NewString(),
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		Type:        req.Type,
		Side:        req.Side,
		Amount:      req.Amount,
		Price:       req.Price,
		Status:      StatusOpen,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	p.orders[o.ID] = o

	switch req.Type {
	case OrderTypeMarket:
		p.fillLocked(o, p.slip(mid, req.Side))
	case OrderTypeLimit:
		marketable := (req.Side == SideBuy && req.Price >= mid) ||
			(req.Side == SideSell && req.Price <= mid)
		if marketable {
			p.fillLocked(o, mid)
		} else if req.TimeInForce == TIFIOC {
			o.Status = StatusCancelled
		}
	default:
		o.Status = StatusRejected
		return nil, fmt.Errorf("paper: unsupported order type %s", req.Type)
	}

	cp := *o
	return &cp, nil
}

// slip applies adverse random slippage to a market fill.
func (p *Paper) slip(mid float64, side Side) float64 {
	if p.cfg.SlippageBps <= 0 {
		return mid
	}
	noise := p.rng.Float64() * p.cfg.SlippageBps / 10000
	if side == SideBuy {
		return mid * (1 + noise)
	}
	return mid * (1 - noise)
}

func (p *Paper) fillLocked(o *Order, price float64) {
	qty := o.Remaining()
	if p.cfg.PartialFillRatio > 0 && p.cfg.PartialFillRatio < 1 && o.Filled == 0 {
		qty *= p.cfg.PartialFillRatio
	}

	prevNotional := o.AvgFillPrice * o.Filled
	o.Filled += qty
	o.AvgFillPrice = (prevNotional + price*qty) / o.Filled
	o.Fee += price * qty * p.cfg.FeeRate
	o.UpdatedAt = time.Now()

	if o.Remaining() <= 1e-12 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
}

func (p *Paper) GetOrder(ctx context.Context, id string) (*Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", id)
	}
	cp := *o
	return &cp, nil
}

func (p *Paper) CancelOrder(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", id)
	}
	if o.Closed() {
		return nil
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

func (p *Paper) CancelAllOrders(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if !o.Closed() {
			o.Status = StatusCancelled
			o.UpdatedAt = time.Now()
		}
	}
	return nil
}
