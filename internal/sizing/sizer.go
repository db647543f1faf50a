package sizing

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"signal-core/internal/signal"
)

// Sizing drop reasons.
const (
	DropBelowMinimum  = "below_minimum"
	DropZeroSize      = "zero_size"
	DropInvalidInput  = "invalid_input"
	DropUnknownMethod = "unknown_method"
)

// Config holds the sizing parameters.
type Config struct {
	FixedAmount        float64 `yaml:"fixed_amount"`
	PortfolioPercent   float64 `yaml:"portfolio_percent"`
	KellyWinLossRatio  float64 `yaml:"kelly_win_loss_ratio"`
	KellySafetyFactor  float64 `yaml:"kelly_safety_factor"`
	KellyMinSamples    int     `yaml:"kelly_min_samples"`
	RiskParityTarget   float64 `yaml:"risk_parity_target"` // target risk contribution, fraction of portfolio
	TargetVolatility   float64 `yaml:"target_volatility"`
	VolAdjustCap       float64 `yaml:"vol_adjust_cap"`
	MaxPositionSize    float64 `yaml:"max_position_size"` // fraction of portfolio
	MinPositionSize    float64 `yaml:"min_position_size"` // absolute USD
	MaxPortfolioRisk   float64 `yaml:"max_portfolio_risk"`
	MaxLeverage        float64 `yaml:"max_leverage"`
	ConfidenceFloor    float64 `yaml:"confidence_floor"`    // below this, scale size down
	HighVolatility     float64 `yaml:"high_volatility"`     // above this, reduce 30%
	LowLiquidityVolume float64 `yaml:"low_liquidity_volume"` // below this 24h volume, reduce 20%
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FixedAmount:        5000,
		PortfolioPercent:   0.10,
		KellyWinLossRatio:  2.0,
		KellySafetyFactor:  0.25,
		KellyMinSamples:    10,
		RiskParityTarget:   0.02,
		TargetVolatility:   0.15,
		VolAdjustCap:       2.0,
		MaxPositionSize:    0.20,
		MinPositionSize:    10,
		MaxPortfolioRisk:   0.10,
		MaxLeverage:        3.0,
		ConfidenceFloor:    0.7,
		HighVolatility:     0.5,
		LowLiquidityVolume: 100_000,
	}
}

// Sizer converts signals into position sizes. It keeps per-symbol trade
// history so Kelly can blend signal confidence with realized win rates.
type Sizer struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	stats map[string]*symbolStats
}

type symbolStats struct {
	trades int
	wins   int
}

func (s *symbolStats) winRate() float64 {
	if s.trades == 0 {
		return 0.5
	}
	return float64(s.wins) / float64(s.trades)
}

// NewSizer builds a sizer.
func NewSizer(cfg Config, log zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:   cfg,
		log:   log.With().Str("component", "position_sizer").Logger(),
		stats: make(map[string]*symbolStats),
	}
}

// RecordOutcome feeds one closed trade back into the per-symbol history.
func (s *Sizer) RecordOutcome(symbol string, win bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[symbol]
	if !ok {
		st = &symbolStats{}
		s.stats[symbol] = st
	}
	st.trades++
	if win {
		st.wins++
	}
}

// CalculatePositionSize sizes one signal. method may be empty, in which
// case it is auto-selected from the signal's characteristics. A nil result
// comes with a drop reason.
func (s *Sizer) CalculatePositionSize(sig *signal.TradingSignal, price float64, portfolio *Portfolio, method string) (*PositionSize, string) {
	if sig == nil || price <= 0 || portfolio == nil || portfolio.TotalValue <= 0 {
		return nil, DropInvalidInput
	}

	if method == "" {
		method = s.selectMethod(sig)
	}

	base, err := s.baseAmount(sig, portfolio, method)
	if err != nil {
		return nil, DropUnknownMethod
	}
	if base <= 0 {
		return nil, DropZeroSize
	}

	ps := &PositionSize{
		Symbol:   sig.Symbol,
		Method:   method,
		Leverage: 1,
	}
	dist := s.stopDistance(sig)
	base = s.applyAdjustments(ps, sig, portfolio, base, dist)
	if base < s.cfg.MinPositionSize {
		return nil, DropBelowMinimum
	}

	ps.BaseAmount = base
	ps.QuoteAmount = base / price
	ps.Percentage = base / portfolio.TotalValue
	s.setStops(ps, sig, price, base, dist)

	s.log.Debug().
		Str("symbol", ps.Symbol).
		Str("method", ps.Method).
		Float64("base", ps.BaseAmount).
		Float64("pct", ps.Percentage).
		Strs("adjustments", ps.Adjustments).
		Msg("position sized")

	return ps, ""
}

// selectMethod picks a sizing method from signal characteristics.
func (s *Sizer) selectMethod(sig *signal.TradingSignal) string {
	switch {
	case sig.Confidence >= s.cfg.ConfidenceFloor && sig.RiskLevel == signal.RiskLow:
		return MethodKelly
	case sig.Market.Volatility >= s.cfg.HighVolatility:
		return MethodVolatilityAdjusted
	default:
		return MethodPercentage
	}
}

func (s *Sizer) baseAmount(sig *signal.TradingSignal, portfolio *Portfolio, method string) (float64, error) {
	switch method {
	case MethodFixed:
		return s.cfg.FixedAmount, nil
	case MethodPercentage:
		return s.cfg.PortfolioPercent * portfolio.TotalValue, nil
	case MethodKelly:
		return s.kellyAmount(sig, portfolio), nil
	case MethodRiskParity:
		return s.riskParityAmount(sig, portfolio), nil
	case MethodVolatilityAdjusted:
		return s.volAdjustedAmount(sig, portfolio), nil
	default:
		return 0, fmt.Errorf("unknown sizing method %q", method)
	}
}

// kellyAmount applies f = (p*b - q)/b with a safety fraction. p blends
// signal confidence with the symbol's historical win rate when enough
// samples exist, nudged down for elevated risk and clamped to [0.3, 0.8].
func (s *Sizer) kellyAmount(sig *signal.TradingSignal, portfolio *Portfolio) float64 {
	s.mu.Lock()
	st := s.stats[sig.Symbol]
	s.mu.Unlock()

	p := sig.Confidence
	if st != nil && st.trades >= s.cfg.KellyMinSamples {
		p = 0.5*sig.Confidence + 0.5*st.winRate()
	}
	switch sig.RiskLevel {
	case signal.RiskHigh:
		p -= 0.1
	case signal.RiskCritical:
		p -= 0.2
	}
	p = math.Max(0.3, math.Min(0.8, p))

	b := s.cfg.KellyWinLossRatio
	f := (p*b - (1 - p)) / b
	if f <= 0 {
		return 0
	}
	return f * s.cfg.KellySafetyFactor * portfolio.TotalValue
}

// riskParityAmount targets a fixed risk contribution divided by
// volatility, with a correlation penalty against existing exposure.
func (s *Sizer) riskParityAmount(sig *signal.TradingSignal, portfolio *Portfolio) float64 {
	vol := sig.Market.Volatility
	if vol <= 0 {
		vol = s.cfg.TargetVolatility
	}
	base := s.cfg.RiskParityTarget * portfolio.TotalValue / vol

	corr := s.correlation(sig.Symbol, portfolio)
	return base * (1 - 0.5*corr)
}

// correlation estimates overlap with existing exposure: direct exposure
// counts fully, shared base assets partially.
func (s *Sizer) correlation(symbol string, portfolio *Portfolio) float64 {
	if portfolio.ExposureFor(symbol) > 0 {
		return 1
	}
	base := baseAsset(symbol)
	for held := range portfolio.Positions {
		if baseAsset(held) == base {
			return 0.8
		}
	}
	if len(portfolio.Positions) > 0 {
		return 0.3 // crypto cross-correlation floor
	}
	return 0
}

func baseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}

func (s *Sizer) volAdjustedAmount(sig *signal.TradingSignal, portfolio *Portfolio) float64 {
	vol := sig.Market.Volatility
	if vol <= 0 {
		vol = s.cfg.TargetVolatility
	}
	scale := math.Min(s.cfg.VolAdjustCap, s.cfg.TargetVolatility/vol)
	return s.cfg.PortfolioPercent * portfolio.TotalValue * scale
}

// applyAdjustments runs the ordered post-sizing reductions, logging each.
func (s *Sizer) applyAdjustments(ps *PositionSize, sig *signal.TradingSignal, portfolio *Portfolio, base, dist float64) float64 {
	note := func(format string, args ...any) {
		ps.Adjustments = append(ps.Adjustments, fmt.Sprintf(format, args...))
	}

	if cap := s.cfg.MaxPositionSize * portfolio.TotalValue; base > cap {
		base = cap
		note("capped at max position size %.0f%%", s.cfg.MaxPositionSize*100)
	}

	switch sig.RiskLevel {
	case signal.RiskCritical:
		base *= 0.5
		note("halved for critical risk")
	case signal.RiskHigh:
		base *= 0.75
		note("reduced 25%% for high risk")
	}

	if sig.Confidence < s.cfg.ConfidenceFloor {
		mult := sig.Confidence / s.cfg.ConfidenceFloor
		base *= mult
		note("scaled by confidence multiplier %.2f", mult)
	}

	if sig.Market.Volatility > s.cfg.HighVolatility {
		base *= 0.7
		note("reduced 30%% for high volatility")
	}
	if sig.Market.Volume24h > 0 && sig.Market.Volume24h < s.cfg.LowLiquidityVolume {
		base *= 0.8
		note("reduced 20%% for low liquidity")
	}

	// Stop-distance risk for this position must fit what is left of the
	// portfolio budget after the risk already committed to open positions.
	if dist > 0 {
		budget := s.cfg.MaxPortfolioRisk*portfolio.TotalValue - portfolio.OpenRisk()
		if budget <= 0 {
			base = 0
			note("no portfolio risk budget remaining")
		} else if base*dist > budget {
			base = budget / dist
			note("shrunk to fit portfolio risk budget %.0f%%", s.cfg.MaxPortfolioRisk*100)
		}
	}

	if levCap := s.cfg.MaxLeverage * portfolio.TotalValue; base > levCap {
		base = levCap
		note("capped at max leverage %.1fx", s.cfg.MaxLeverage)
	}

	return base
}

// stopDistance derives the fractional stop width: volatility widened by
// timeframe, scaled by signal strength into [0.5, 1], capped at 50%.
func (s *Sizer) stopDistance(sig *signal.TradingSignal) float64 {
	vol := sig.Market.Volatility
	if vol <= 0 {
		vol = s.cfg.TargetVolatility
	}
	strengthMult := 0.5 + 0.5*clamp01(sig.Strength)
	dist := vol * sig.Timeframe.Multiplier() * 2 * strengthMult
	if dist > 0.5 {
		dist = 0.5
	}
	return dist
}

// setStops derives stop-loss and take-profit at a 2:1 reward:risk ratio.
func (s *Sizer) setStops(ps *PositionSize, sig *signal.TradingSignal, price, base, dist float64) {
	if sig.Action == signal.ActionBuy {
		ps.StopLoss = price * (1 - dist)
		ps.TakeProfit = price * (1 + 2*dist)
	} else {
		ps.StopLoss = price * (1 + dist)
		ps.TakeProfit = price * (1 - 2*dist)
	}
	ps.RiskAmount = base * dist
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
