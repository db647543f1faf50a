package signal

import (
	"time"

	"signal-core/internal/market"
)

// Action is the trade direction a signal recommends.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// RiskLevel grades how dangerous acting on a signal is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Timeframe is the holding-period bucket a signal targets. Higher market
// stress maps to shorter buckets.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Multiplier scales risk distances by holding period: longer timeframes
// tolerate wider stops.
func (t Timeframe) Multiplier() float64 {
	switch t {
	case Timeframe1m:
		return 0.4
	case Timeframe5m:
		return 0.55
	case Timeframe15m:
		return 0.7
	case Timeframe1h:
		return 1.0
	case Timeframe4h:
		return 1.3
	case Timeframe1d:
		return 1.6
	default:
		return 1.0
	}
}

// TradingSignal is an immutable trade recommendation. Re-validation never
// mutates it; adjustments produce a derived copy.
type TradingSignal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Strength   float64   `json:"strength"`   // [0, 1]
	Confidence float64   `json:"confidence"` // [0, 1]
	Timeframe  Timeframe `json:"timeframe"`

	Sentiment market.SentimentScore       `json:"sentiment"`
	Market    market.Data                 `json:"market"`
	Cross     *market.CrossPlatformSignal `json:"cross,omitempty"`

	RiskLevel         RiskLevel `json:"risk_level"`
	CorrelatedSymbols []string  `json:"correlated_symbols,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Priority  int       `json:"priority"` // [1, 10]
}

// Expired reports whether the signal is past its TTL.
func (s *TradingSignal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ValidationResult is the outcome of re-checking a signal against fresher
// market data. Adjusted, when set, is a derived copy with recomputed
// confidence/timeframe; the original signal is untouched.
type ValidationResult struct {
	IsValid  bool
	Reasons  []string
	Adjusted *TradingSignal
}
