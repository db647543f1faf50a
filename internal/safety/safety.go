package safety

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"signal-core/internal/events"
	"signal-core/internal/sizing"
	"signal-core/pkg/exchange"
)

// Limits bound trading activity in both percentage and absolute USD terms.
// They change only through an authorized UpdateLimits call.
type Limits struct {
	MinOrderUSD     float64 `yaml:"min_order_usd" json:"min_order_usd"`
	MaxOrderUSD     float64 `yaml:"max_order_usd" json:"max_order_usd"`
	MaxPositionPct  float64 `yaml:"max_position_pct" json:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxDailyLossUSD float64 `yaml:"max_daily_loss_usd" json:"max_daily_loss_usd"`
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MinOrderUSD:     10,
		MaxOrderUSD:     50000,
		MaxPositionPct:  0.20,
		MaxDailyLossPct: 0.05,
		MaxDailyLossUSD: 10000,
	}
}

func (l Limits) validate() error {
	if l.MinOrderUSD < 0 || l.MaxOrderUSD <= 0 || l.MinOrderUSD >= l.MaxOrderUSD {
		return errors.New("order size limits out of range")
	}
	if l.MaxPositionPct <= 0 || l.MaxPositionPct > 1 {
		return errors.New("max_position_pct must be in (0,1]")
	}
	if l.MaxDailyLossPct <= 0 || l.MaxDailyLossPct > 1 {
		return errors.New("max_daily_loss_pct must be in (0,1]")
	}
	return nil
}

// TradeCheck is the outcome of ValidateTrade. Errors block the trade,
// warnings annotate an adjusted one.
type TradeCheck struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	AdjustedQuantity float64  `json:"adjusted_quantity,omitempty"`
	RiskScore        float64  `json:"risk_score"`
}

// Status is the operator-facing safety snapshot.
type Status struct {
	EmergencyStop  bool      `json:"emergency_stop"`
	StopReason     string    `json:"stop_reason,omitempty"`
	Limits         Limits    `json:"limits"`
	PortfolioValue float64   `json:"portfolio_value"`
	DailyPnL       float64   `json:"daily_pnl"`
	Mode           string    `json:"mode"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Errors returned by privileged operations.
var (
	ErrUnauthorized  = errors.New("admin key rejected")
	ErrKeyRequired   = errors.New("admin key required in production mode")
	ErrNotConfigured = errors.New("admin key not configured")
)

// Manager is the config-driven guard consulted before any trade reaches
// execution.
type Manager struct {
	ex        exchange.Exchange
	portfolio func() *sizing.Portfolio
	bus       *events.Bus
	log       zerolog.Logger

	mode         string // "production" or "dev"
	adminKeyHash string // bcrypt hash; empty disables privileged ops in production

	mu         sync.Mutex
	limits     Limits
	halted     bool
	stopReason string
}

// NewManager builds a safety manager. portfolio supplies the live account
// state for balance and daily-loss checks.
func NewManager(limits Limits, ex exchange.Exchange, portfolio func() *sizing.Portfolio, mode, adminKeyHash string, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		ex:           ex,
		portfolio:    portfolio,
		bus:          bus,
		log:          log.With().Str("component", "safety_manager").Logger(),
		mode:         mode,
		adminKeyHash: adminKeyHash,
		limits:       limits,
	}
}

// ValidateTrade checks one intended order. Quantity is in asset units;
// price may be 0, in which case the live ticker is consulted.
func (m *Manager) ValidateTrade(ctx context.Context, pair string, side string, quantity, price float64) TradeCheck {
	m.mu.Lock()
	halted, limits := m.halted, m.limits
	m.mu.Unlock()

	check := TradeCheck{AdjustedQuantity: quantity}
	if halted {
		check.Errors = append(check.Errors, "emergency stop active")
		return check
	}
	if quantity <= 0 {
		check.Errors = append(check.Errors, "quantity must be positive")
		return check
	}

	if price <= 0 {
		ticker, err := m.ex.FetchTicker(ctx, pair)
		if err != nil {
			check.Errors = append(check.Errors, fmt.Sprintf("no price available: %v", err))
			return check
		}
		price = ticker.Last
	}

	notional := quantity * price
	if notional < limits.MinOrderUSD {
		check.Errors = append(check.Errors, fmt.Sprintf("order value %.2f below minimum %.2f", notional, limits.MinOrderUSD))
	}
	if notional > limits.MaxOrderUSD {
		check.Errors = append(check.Errors, fmt.Sprintf("order value %.2f above maximum %.2f", notional, limits.MaxOrderUSD))
	}

	pf := m.portfolio()
	if pf != nil {
		if side == "BUY" && notional > pf.AvailableBalance {
			check.Errors = append(check.Errors, "insufficient balance")
		}

		if pf.TotalValue > 0 {
			if maxNotional := limits.MaxPositionPct * pf.TotalValue; notional > maxNotional {
				adjusted := maxNotional / price
				check.Warnings = append(check.Warnings,
					fmt.Sprintf("quantity reduced from %.6f to %.6f to respect max position size", quantity, adjusted))
				check.AdjustedQuantity = adjusted
				notional = maxNotional
			}

			lossLimit := math.Min(limits.MaxDailyLossPct*pf.TotalValue, limits.MaxDailyLossUSD)
			if -pf.DailyPnL >= lossLimit {
				check.Errors = append(check.Errors, "daily loss limit reached")
			}
			check.RiskScore = m.riskScore(notional, pf, lossLimit)
		}
	}

	check.Valid = len(check.Errors) == 0
	return check
}

// riskScore blends position concentration and daily-loss proximity into
// [0,1].
func (m *Manager) riskScore(notional float64, pf *sizing.Portfolio, lossLimit float64) float64 {
	concentration := notional / pf.TotalValue
	lossProximity := 0.0
	if lossLimit > 0 && pf.DailyPnL < 0 {
		lossProximity = -pf.DailyPnL / lossLimit
	}
	score := 0.6*clamp01(concentration/0.2) + 0.4*clamp01(lossProximity)
	return clamp01(score)
}

// ActivateEmergencyStop cancels every open order and halts all further
// trade validation until an authorized reset.
func (m *Manager) ActivateEmergencyStop(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.halted = true
	m.stopReason = reason
	m.mu.Unlock()

	m.log.Error().Str("reason", reason).Msg("emergency stop activated")
	if m.bus != nil {
		m.bus.Publish(events.EventEmergencyStop, events.RiskAlert{
			Level:   "critical",
			Source:  "safety_manager",
			Message: reason,
			At:      time.Now(),
		})
	}

	if err := m.ex.CancelAllOrders(ctx); err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	return nil
}

// ResetEmergencyStop lifts the halt. It always requires the admin key.
func (m *Manager) ResetEmergencyStop(adminKey string) error {
	if err := m.authorize(adminKey); err != nil {
		return err
	}
	m.mu.Lock()
	m.halted = false
	m.stopReason = ""
	m.mu.Unlock()
	m.log.Warn().Msg("emergency stop reset")
	return nil
}

// UpdateLimits replaces the safety limits. Production mode requires the
// admin key; dev mode does not.
func (m *Manager) UpdateLimits(limits Limits, adminKey string) error {
	if m.mode == "production" {
		if err := m.authorize(adminKey); err != nil {
			return err
		}
	}
	if err := limits.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
	m.log.Info().Interface("limits", limits).Msg("safety limits updated")
	return nil
}

func (m *Manager) authorize(adminKey string) error {
	if m.adminKeyHash == "" {
		if m.mode == "production" {
			return ErrNotConfigured
		}
		return nil
	}
	if adminKey == "" {
		return ErrKeyRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.adminKeyHash), []byte(adminKey)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// GetStatus returns the operator-facing snapshot.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		EmergencyStop: m.halted,
		StopReason:    m.stopReason,
		Limits:        m.limits,
		Mode:          m.mode,
		UpdatedAt:     time.Now(),
	}
	if pf := m.portfolio(); pf != nil {
		st.PortfolioValue = pf.TotalValue
		st.DailyPnL = pf.DailyPnL
	}
	return st
}

// Halted reports whether the emergency stop is active.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
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
