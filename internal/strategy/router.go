package strategy

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"signal-core/internal/signal"
)

// Routing drop reasons. Expected outcomes, not errors.
const (
	DropNoEligible = "no_eligible_strategy"
	DropNoCapacity = "no_capacity"
)

// Scoring weights, fixed and summing to 1.
const (
	weightPerformance = 0.35
	weightTimeframe   = 0.25
	weightRiskAlign   = 0.25
	weightUtilization = 0.15
)

// RouterConfig holds routing thresholds.
type RouterConfig struct {
	// Performance floor; strategies below it are ineligible once they
	// have enough history to judge.
	MinWinRate      float64 `yaml:"min_win_rate"`
	MinSharpe       float64 `yaml:"min_sharpe"`
	MinTradesJudged int     `yaml:"min_trades_judged"`

	// Capital utilization ceiling enforced by capacity checks.
	CapitalCeiling float64 `yaml:"capital_ceiling"`

	// BalanceLoad per-strategy cap within one batch.
	MaxSignalsPerStrategy int `yaml:"max_signals_per_strategy"`

	// Sharpe value treated as "excellent" when normalizing.
	SharpeNorm float64 `yaml:"sharpe_norm"`
}

// DefaultRouterConfig returns the production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinWinRate:            0.4,
		MinSharpe:             0.3,
		MinTradesJudged:       10,
		CapitalCeiling:        0.95,
		MaxSignalsPerStrategy: 3,
		SharpeNorm:            2.0,
	}
}

// Router assigns signals to strategies and owns their capacity state.
type Router struct {
	cfg RouterConfig
	log zerolog.Logger

	mu         sync.Mutex
	capacities map[string]*Capacity
}

// NewRouter builds a router.
func NewRouter(cfg RouterConfig, log zerolog.Logger) *Router {
	return &Router{
		cfg:        cfg,
		log:        log.With().Str("component", "signal_router").Logger(),
		capacities: make(map[string]*Capacity),
	}
}

func (r *Router) capacityLocked(id string) *Capacity {
	c, ok := r.capacities[id]
	if !ok {
		c = &Capacity{}
		r.capacities[id] = c
	}
	return c
}

// Capacity returns a copy of a strategy's capacity state.
func (r *Router) Capacity(id string) Capacity {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.capacityLocked(id)
	cp := *c
	cp.returns = nil
	return cp
}

// RouteToStrategy picks the best eligible strategy with free capacity.
// A nil assignment comes with a drop reason.
func (r *Router) RouteToStrategy(sig *signal.TradingSignal, strategies []Strategy) (*Assignment, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type scored struct {
		st    Strategy
		score float64
	}
	var candidates []scored
	for _, st := range strategies {
		if !r.eligibleLocked(sig, st) {
			continue
		}
		candidates = append(candidates, scored{st: st, score: r.scoreLocked(sig, st)})
	}
	if len(candidates) == 0 {
		return nil, DropNoEligible
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	for _, c := range candidates {
		if !r.hasCapacityLocked(c.st) {
			continue
		}
		cap := r.capacityLocked(c.st.ID)
		cap.ActiveSignals++

		r.log.Debug().
			Str("signal", sig.ID).
			Str("strategy", c.st.ID).
			Float64("score", c.score).
			Msg("signal routed")

		return &Assignment{Signal: sig, StrategyID: c.st.ID, Score: c.score}, ""
	}
	return nil, DropNoCapacity
}

// eligibleLocked runs the filter chain; all checks must pass.
func (r *Router) eligibleLocked(sig *signal.TradingSignal, st Strategy) bool {
	if !st.Enabled {
		return false
	}
	for _, denied := range st.Config.DeniedSymbols {
		if denied == sig.Symbol {
			return false
		}
	}
	if len(st.Config.AllowedSymbols) > 0 && !contains(st.Config.AllowedSymbols, sig.Symbol) {
		return false
	}
	if len(st.Config.TimeframePreferences) > 0 && !containsTimeframe(st.Config.TimeframePreferences, sig.Timeframe) {
		return false
	}
	if (sig.RiskLevel == signal.RiskHigh || sig.RiskLevel == signal.RiskCritical) && !st.Config.AllowHighRisk {
		return false
	}

	cap := r.capacityLocked(st.ID)
	if cap.TradeCount >= r.cfg.MinTradesJudged {
		if cap.WinRate < r.cfg.MinWinRate && cap.Sharpe < r.cfg.MinSharpe {
			return false
		}
	}
	return true
}

// scoreLocked combines performance, timeframe match, risk alignment and
// inverse utilization under fixed weights.
func (r *Router) scoreLocked(sig *signal.TradingSignal, st Strategy) float64 {
	cap := r.capacityLocked(st.ID)

	perf := 0.5 // neutral prior before enough trades
	if cap.TradeCount >= r.cfg.MinTradesJudged {
		normSharpe := math.Max(0, math.Min(1, cap.Sharpe/r.cfg.SharpeNorm))
		perf = 0.6*cap.WinRate + 0.4*normSharpe
	}

	tfScore := 0.5 // any-match
	if containsTimeframe(st.Config.TimeframePreferences, sig.Timeframe) {
		tfScore = 1.0
	}

	riskAlign := 1 - math.Abs(st.Config.RiskTolerance-riskNumeric(sig.RiskLevel))

	util := 0.0
	if st.Config.MaxCapital > 0 {
		util = cap.AllocatedCapital / st.Config.MaxCapital
	}
	invUtil := 1 - math.Max(0, math.Min(1, util))

	return weightPerformance*perf + weightTimeframe*tfScore + weightRiskAlign*riskAlign + weightUtilization*invUtil
}

// hasCapacityLocked checks positions, allocated capital and active signals.
func (r *Router) hasCapacityLocked(st Strategy) bool {
	cap := r.capacityLocked(st.ID)
	if st.Config.MaxPositions > 0 && cap.CurrentPositions >= st.Config.MaxPositions {
		return false
	}
	if st.Config.MaxCapital > 0 && cap.AllocatedCapital > r.cfg.CapitalCeiling*st.Config.MaxCapital {
		return false
	}
	if st.Config.MaxActiveSignals > 0 && cap.ActiveSignals >= st.Config.MaxActiveSignals {
		return false
	}
	return true
}

// BalanceLoad assigns a batch of signals greedily, highest priority first,
// to the eligible strategy with the lowest batch load.
func (r *Router) BalanceLoad(signals []*signal.TradingSignal, strategies []Strategy) []Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]*signal.TradingSignal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	load := make(map[string]int)
	var out []Assignment
	for _, sig := range ordered {
		bestID := ""
		bestLoad := 0
		var bestScore float64
		for _, st := range strategies {
			if !r.eligibleLocked(sig, st) || !r.hasCapacityLocked(st) {
				continue
			}
			if r.cfg.MaxSignalsPerStrategy > 0 && load[st.ID] >= r.cfg.MaxSignalsPerStrategy {
				continue
			}
			score := r.scoreLocked(sig, st)
			if bestID == "" || load[st.ID] < bestLoad || (load[st.ID] == bestLoad && score > bestScore) {
				bestID, bestLoad, bestScore = st.ID, load[st.ID], score
			}
		}
		if bestID == "" {
			continue
		}
		load[bestID]++
		r.capacityLocked(bestID).ActiveSignals++
		out = append(out, Assignment{Signal: sig, StrategyID: bestID, Score: bestScore})
	}
	return out
}

// TradeOutcome is reported back by the execution layer once a trade closes
// or an assignment resolves.
type TradeOutcome struct {
	PositionsDelta int
	CapitalDelta   float64
	SignalDone     bool
	Return         float64 // realized return fraction; only read when Closed
	Closed         bool
}

// UpdateCapacity applies an execution-layer outcome to a strategy's
// counters and rolling performance.
func (r *Router) UpdateCapacity(strategyID string, out TradeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := r.capacityLocked(strategyID)
	cap.CurrentPositions += out.PositionsDelta
	if cap.CurrentPositions < 0 {
		cap.CurrentPositions = 0
	}
	cap.AllocatedCapital += out.CapitalDelta
	if cap.AllocatedCapital < 0 {
		cap.AllocatedCapital = 0
	}
	if out.SignalDone && cap.ActiveSignals > 0 {
		cap.ActiveSignals--
	}
	if out.Closed {
		cap.recordReturn(out.Return)
	}
}

// recordReturn folds one realized return into the rolling window stats.
func (c *Capacity) recordReturn(ret float64) {
	c.returns = append(c.returns, ret)
	if len(c.returns) > 100 {
		c.returns = c.returns[len(c.returns)-100:]
	}
	c.TradeCount++

	wins := 0
	sum := 0.0
	for _, r := range c.returns {
		if r > 0 {
			wins++
		}
		sum += r
	}
	n := float64(len(c.returns))
	c.WinRate = float64(wins) / n
	c.AvgReturn = sum / n

	if len(c.returns) > 1 {
		variance := 0.0
		for _, r := range c.returns {
			d := r - c.AvgReturn
			variance += d * d
		}
		std := math.Sqrt(variance / (n - 1))
		if std > 0 {
			c.Sharpe = c.AvgReturn / std
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsTimeframe(list []signal.Timeframe, v signal.Timeframe) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}
