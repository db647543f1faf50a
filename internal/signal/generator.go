package signal

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/market"
	"signal-core/pkg/config"
)

// Drop reasons returned by Generate when no signal is produced. These are
// expected outcomes, not errors.
const (
	DropNeutral       = "neutral"
	DropLowConfidence = "low_confidence"
	DropCriticalRisk  = "critical_risk"
)

// Config holds the generator thresholds.
type Config struct {
	BullishThreshold float64 `yaml:"bullish_threshold"`
	BearishThreshold float64 `yaml:"bearish_threshold"`
	VelocityEpsilon  float64 `yaml:"velocity_epsilon"` // per minute

	// Reversal rule: moderate sentiment with strong velocity against the
	// 24h price move.
	ReversalScore    float64 `yaml:"reversal_score"`
	ReversalVelocity float64 `yaml:"reversal_velocity"`

	MinConfidence float64         `yaml:"min_confidence"`
	SignalTTL     config.Duration `yaml:"signal_ttl"`

	VelocityWindow    config.Duration `yaml:"velocity_window"`
	MaxHistorySamples int             `yaml:"max_history_samples"`

	HighVolumeThreshold    float64 `yaml:"high_volume_threshold"`
	LowVolatilityThreshold float64 `yaml:"low_volatility_threshold"`
	MinCrossSources        int     `yaml:"min_cross_sources"`

	RiskyKeywords []string `yaml:"risky_keywords"`

	// RecentWindow bounds the disagreement check during re-validation.
	RecentWindow config.Duration `yaml:"recent_window"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BullishThreshold:       0.3,
		BearishThreshold:       -0.3,
		VelocityEpsilon:        0.02,
		ReversalScore:          0.2,
		ReversalVelocity:       0.15,
		MinConfidence:          0.6,
		SignalTTL:              config.Duration(5 * time.Minute),
		VelocityWindow:         config.Duration(30 * time.Minute),
		MaxHistorySamples:      100,
		HighVolumeThreshold:    1_000_000,
		LowVolatilityThreshold: 0.2,
		MinCrossSources:        3,
		RiskyKeywords:          []string{"hack", "exploit", "rug", "lawsuit", "delist", "insolvency"},
		RecentWindow:           config.Duration(10 * time.Minute),
	}
}

// Generator turns sentiment updates into trading signals.
type Generator struct {
	cfg     Config
	history *History
	log     zerolog.Logger

	mu     sync.Mutex
	recent map[string][]*TradingSignal
}

// NewGenerator builds a generator with its own sentiment history.
func NewGenerator(cfg Config, log zerolog.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		history: NewHistory(cfg.VelocityWindow.Std(), cfg.MaxHistorySamples),
		log:     log.With().Str("component", "signal_generator").Logger(),
		recent:  make(map[string][]*TradingSignal),
	}
}

// Generate evaluates one sentiment update. It returns either a signal or a
// drop reason; both nil signal and empty reason never occur together.
func (g *Generator) Generate(update market.Update) (*TradingSignal, string) {
	sent, md := update.Sentiment, update.Market
	now := sent.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	g.history.Add(sent.Symbol, sent.Score, now)
	velocity, _ := g.history.Velocity(sent.Symbol, now)

	crossCritical := update.Cross != nil && update.Cross.RiskFlag == "critical"

	action, ok := g.chooseAction(sent.Score, velocity, md.Change24h, crossCritical)
	if !ok {
		return nil, DropNeutral
	}

	strength := g.strength(sent.Score, velocity, update.Cross)
	if crossCritical && strength < 0.9 {
		strength = 0.9 // exit path must execute with urgency
	}

	confidence := g.confidence(sent, md, update.Cross)
	if confidence < g.cfg.MinConfidence {
		return nil, DropLowConfidence
	}

	risk := g.riskLevel(sent, md, update.Cross)
	if risk == RiskCritical && !crossCritical {
		return nil, DropCriticalRisk
	}

	tf := g.timeframe(velocity, md.Volatility)

	sig := &TradingSignal{
		ID:         uuid.NewString(),
		Symbol:     sent.Symbol,
		Action:     action,
		Strength:   strength,
		Confidence: confidence,
		Timeframe:  tf,
		Sentiment:  sent,
		Market:     md,
		Cross:      update.Cross,
		RiskLevel:  risk,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.cfg.SignalTTL.Std()),
	}
	sig.Priority = priority(strength, confidence, risk)

	g.remember(sig)

	g.log.Debug().
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Float64("strength", sig.Strength).
		Float64("confidence", sig.Confidence).
		Str("risk", string(sig.RiskLevel)).
		Int("priority", sig.Priority).
		Msg("signal generated")

	return sig, ""
}

// chooseAction applies the threshold and reversal rules. A critical
// cross-platform flag forces an exit regardless of direction rules.
func (g *Generator) chooseAction(score, velocity, change24h float64, crossCritical bool) (Action, bool) {
	if crossCritical {
		return ActionSell, true
	}
	switch {
	case score > g.cfg.BullishThreshold && velocity > g.cfg.VelocityEpsilon:
		return ActionBuy, true
	case score < g.cfg.BearishThreshold && velocity < -g.cfg.VelocityEpsilon:
		return ActionSell, true
	// Sentiment recovering ahead of price.
	case score >= g.cfg.ReversalScore && velocity >= g.cfg.ReversalVelocity && change24h < 0:
		return ActionBuy, true
	case score <= -g.cfg.ReversalScore && velocity <= -g.cfg.ReversalVelocity && change24h > 0:
		return ActionSell, true
	}
	return "", false
}

// strength weighs sentiment magnitude 40%, velocity 30% and cross-platform
// confirmation 30%.
func (g *Generator) strength(score, velocity float64, cross *market.CrossPlatformSignal) float64 {
	s := 0.4*math.Abs(score) + 0.3*clamp01(math.Abs(velocity))
	if cross != nil {
		s += 0.3 * clamp01(cross.Confidence)
	}
	return clamp01(s)
}

// confidence starts from the feed confidence and compounds boosts for
// high volume, calm markets and multi-source corroboration.
func (g *Generator) confidence(sent market.SentimentScore, md market.Data, cross *market.CrossPlatformSignal) float64 {
	c := sent.Confidence
	if md.Volume24h > g.cfg.HighVolumeThreshold {
		c *= 1.1
	}
	if md.Volatility > 0 && md.Volatility < g.cfg.LowVolatilityThreshold {
		c *= 1.1
	}
	if cross != nil && cross.Sources >= g.cfg.MinCrossSources {
		c *= 1.1
	}
	return clamp01(c)
}

// riskLevel maps the worst of keyword risk, volatility and cross-platform
// flags to a level. A critical cross flag short-circuits.
func (g *Generator) riskLevel(sent market.SentimentScore, md market.Data, cross *market.CrossPlatformSignal) RiskLevel {
	if cross != nil && cross.RiskFlag == "critical" {
		return RiskCritical
	}

	score := clamp01(md.Volatility)
	if g.hasRiskyKeyword(sent.Keywords) && score < 0.7 {
		score = 0.7
	}
	if cross != nil && cross.RiskFlag == "high" && score < 0.7 {
		score = 0.7
	}

	switch {
	case score < 0.25:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func (g *Generator) hasRiskyKeyword(keywords []string) bool {
	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		for _, risky := range g.cfg.RiskyKeywords {
			if strings.Contains(lower, risky) {
				return true
			}
		}
	}
	return false
}

// timeframe shortens the holding bucket as market stress rises.
func (g *Generator) timeframe(velocity, volatility float64) Timeframe {
	stress := 0.5*clamp01(math.Abs(velocity)) + 0.5*clamp01(volatility)
	switch {
	case stress >= 0.8:
		return Timeframe1m
	case stress >= 0.6:
		return Timeframe5m
	case stress >= 0.4:
		return Timeframe15m
	case stress >= 0.25:
		return Timeframe1h
	case stress >= 0.1:
		return Timeframe4h
	default:
		return Timeframe1d
	}
}

// priority maps strength+confidence to [1,10], discounted for risk.
func priority(strength, confidence float64, risk RiskLevel) int {
	p := int(math.Round((strength + confidence) / 2 * 10))
	switch risk {
	case RiskHigh:
		p -= 2
	case RiskCritical:
		p -= 4
	}
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

func (g *Generator) remember(sig *TradingSignal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := sig.CreatedAt.Add(-g.cfg.RecentWindow.Std())
	kept := g.recent[sig.Symbol][:0]
	for _, s := range g.recent[sig.Symbol] {
		if s.CreatedAt.After(cutoff) {
			kept = append(kept, s)
		}
	}
	g.recent[sig.Symbol] = append(kept, sig)
}

// recentDisagreement reports whether a newer signal for the same symbol
// points the opposite way inside the recent window.
func (g *Generator) recentDisagreement(sig *TradingSignal, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.cfg.RecentWindow.Std())
	for _, s := range g.recent[sig.Symbol] {
		if s.ID == sig.ID || s.CreatedAt.Before(cutoff) {
			continue
		}
		if s.CreatedAt.After(sig.CreatedAt) && s.Action != sig.Action {
			return true
		}
	}
	return false
}

// ValidateSignal re-checks a signal against fresher market data. The input
// signal is never mutated; adjustments produce a derived copy.
func (g *Generator) ValidateSignal(sig *TradingSignal, current *market.Data) ValidationResult {
	now := time.Now()
	if current != nil && !current.Timestamp.IsZero() {
		now = current.Timestamp
	}

	if sig.Expired(now) {
		return ValidationResult{IsValid: false, Reasons: []string{"expired"}}
	}

	adjusted := *sig
	var reasons []string

	if current != nil {
		if sig.Market.Price > 0 {
			drift := math.Abs(current.Price-sig.Market.Price) / sig.Market.Price
			if drift > 0.02 {
				adjusted.Confidence *= 0.85
				reasons = append(reasons, "price_drift")
			}
		}
		if sig.Market.Volume24h > 0 && current.Volume24h < 0.5*sig.Market.Volume24h {
			adjusted.Confidence *= 0.9
			reasons = append(reasons, "volume_drop")
		}
		if sig.Market.Volatility > 0 && current.Volatility > 1.5*sig.Market.Volatility {
			adjusted.Confidence *= 0.85
			adjusted.Timeframe = g.timeframe(0, current.Volatility)
			reasons = append(reasons, "volatility_spike")
		}
	}

	if g.recentDisagreement(sig, now) {
		adjusted.Confidence *= 0.8
		reasons = append(reasons, "direction_disagreement")
	}

	if len(reasons) == 0 {
		return ValidationResult{IsValid: true}
	}
	valid := adjusted.Confidence >= g.cfg.MinConfidence
	res := ValidationResult{IsValid: valid, Reasons: reasons}
	if valid {
		res.Adjusted = &adjusted
	}
	return res
}

// PrioritizeSignals filters out expired signals and stable-sorts by
// priority, confidence, strength, then recency.
func (g *Generator) PrioritizeSignals(signals []*TradingSignal, now time.Time) []*TradingSignal {
	out := make([]*TradingSignal, 0, len(signals))
	for _, s := range signals {
		if s != nil && !s.Expired(now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
