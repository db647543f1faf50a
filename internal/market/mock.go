package market

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"signal-core/internal/events"
)

// MockFeed synthesizes sentiment updates with a random-walk price and a
// slowly drifting sentiment score. Used in dev mode and demos when no
// external scoring service is configured.
type MockFeed struct {
	symbols  []string
	interval time.Duration
	bus      *events.Bus
	log      zerolog.Logger

	rng       *rand.Rand
	prices    map[string]float64
	sentiment map[string]float64
}

// NewMockFeed builds a mock feed for the given symbols.
func NewMockFeed(symbols []string, interval time.Duration, bus *events.Bus, log zerolog.Logger) *MockFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &MockFeed{
		symbols:   symbols,
		interval:  interval,
		bus:       bus,
		log:       log.With().Str("component", "mock_feed").Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:    make(map[string]float64),
		sentiment: make(map[string]float64),
	}
	for _, s := range symbols {
		m.prices[s] = 1000 + m.rng.Float64()*50000
		m.sentiment[s] = m.rng.Float64()*0.4 - 0.2
	}
	return m
}

// Run emits one update per symbol per interval until ctx is cancelled.
func (m *MockFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Strs("symbols", m.symbols).Dur("interval", m.interval).Msg("mock feed started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range m.symbols {
				m.bus.Publish(events.EventSentiment, m.next(sym))
			}
		}
	}
}

// next advances one symbol's random walk and builds the update.
func (m *MockFeed) next(sym string) Update {
	price := m.prices[sym] * (1 + m.rng.NormFloat64()*0.002)
	m.prices[sym] = price

	// Mean-reverting sentiment drift, clamped to [-1, 1].
	s := m.sentiment[sym]*0.9 + m.rng.NormFloat64()*0.15
	s = math.Max(-1, math.Min(1, s))
	m.sentiment[sym] = s

	vol := 0.05 + m.rng.Float64()*0.3
	spread := price * 0.0002
	now := time.Now()

	return Update{
		Sentiment: SentimentScore{
			Symbol:     sym,
			Score:      s,
			Confidence: 0.5 + m.rng.Float64()*0.5,
			Magnitude:  math.Abs(s),
			Timestamp:  now,
		},
		Market: Data{
			Symbol:     sym,
			Price:      price,
			Volume24h:  500_000 + m.rng.Float64()*5_000_000,
			Change24h:  m.rng.NormFloat64() * 0.03,
			Volatility: vol,
			Bid:        price - spread,
			Ask:        price + spread,
			Timestamp:  now,
		},
	}
}
