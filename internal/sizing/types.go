package sizing

// Sizing methods.
const (
	MethodFixed              = "fixed"
	MethodPercentage         = "percentage"
	MethodKelly              = "kelly"
	MethodRiskParity         = "risk_parity"
	MethodVolatilityAdjusted = "volatility_adjusted"
)

// Position is one open holding inside the portfolio.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	Value      float64 `json:"value"`
	RiskAmount float64 `json:"risk_amount"` // stop-distance notional committed at entry
}

// Portfolio is the account state sizing and safety checks read from.
type Portfolio struct {
	TotalValue       float64             `json:"total_value"`
	AvailableBalance float64             `json:"available_balance"`
	Positions        map[string]Position `json:"positions"`
	DailyPnL         float64             `json:"daily_pnl"`
}

// ExposureFor returns the portfolio fraction currently held in a symbol.
func (p *Portfolio) ExposureFor(symbol string) float64 {
	if p == nil || p.TotalValue <= 0 {
		return 0
	}
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	return pos.Value / p.TotalValue
}

// OpenRisk sums the stop-distance risk already committed to open positions.
func (p *Portfolio) OpenRisk() float64 {
	if p == nil {
		return 0
	}
	var sum float64
	for _, pos := range p.Positions {
		sum += pos.RiskAmount
	}
	return sum
}

// PositionSize is the sizing outcome for one signal. BaseAmount is in the
// quote currency (USD), QuoteAmount is the asset quantity.
type PositionSize struct {
	Symbol      string   `json:"symbol"`
	BaseAmount  float64  `json:"base_amount"`
	QuoteAmount float64  `json:"quote_amount"`
	Percentage  float64  `json:"percentage"`
	Leverage    float64  `json:"leverage"`
	StopLoss    float64  `json:"stop_loss"`
	TakeProfit  float64  `json:"take_profit"`
	RiskAmount  float64  `json:"risk_amount"`
	Method      string   `json:"method"`
	Adjustments []string `json:"adjustments,omitempty"`
}
