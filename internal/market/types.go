package market

import "time"

// Data is an immutable market snapshot for one symbol, replaced each fetch.
type Data struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume24h  float64   `json:"volume_24h"`
	Change24h  float64   `json:"change_24h"` // decimal, -0.05 = down 5%
	Volatility float64   `json:"volatility"` // annualized decimal
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Timestamp  time.Time `json:"timestamp"`
}

// SentimentScore is an externally produced, read-only sentiment input.
type SentimentScore struct {
	Symbol     string             `json:"symbol"`
	Score      float64            `json:"score"`      // [-1, 1]
	Confidence float64            `json:"confidence"` // [0, 1]
	Magnitude  float64            `json:"magnitude"`
	Keywords   []string           `json:"keywords,omitempty"`
	Mentions   map[string]int     `json:"mentions,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// CrossPlatformSignal corroborates sentiment across independent sources.
type CrossPlatformSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"` // bullish or bearish
	Confidence float64   `json:"confidence"`
	Sources    int       `json:"sources"`
	RiskFlag   string    `json:"risk_flag,omitempty"` // "", high, critical
	Timestamp  time.Time `json:"timestamp"`
}

// Update bundles one feed emission: sentiment plus the market snapshot it
// was observed against, and optional corroboration.
type Update struct {
	Sentiment SentimentScore
	Market    Data
	Cross     *CrossPlatformSignal
}
