package execution

import (
	"time"
)

// Execution statuses.
const (
	StatusSuccess   = "success"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Partial-fill policies applied when the fill wait ends with a partially
// filled order.
const (
	PartialAccept   = "accept"   // keep what filled, cancel the rest
	PartialCancel   = "cancel"   // cancel and report cancelled
	PartialComplete = "complete" // chase the remainder with a market order
)

// Result is the outcome of one execution attempt.
type Result struct {
	OrderID       string        `json:"order_id"`
	SignalID      string        `json:"signal_id"`
	Symbol        string        `json:"symbol"`
	Side          string        `json:"side"`
	OrderType     string        `json:"order_type"`
	Status        string        `json:"status"`
	RequestedQty  float64       `json:"requested_qty"`
	FilledAmount  float64       `json:"filled_amount"`
	AvgFillPrice  float64       `json:"avg_fill_price"`
	TotalCost     float64       `json:"total_cost"`
	Fees          float64       `json:"fees"`
	Slippage      float64       `json:"slippage"` // signed, positive = adverse
	ExecutionTime time.Duration `json:"execution_time"`
	RetryCount    int           `json:"retry_count"`
	Errors        []string      `json:"errors,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Metrics aggregates execution outcomes.
type Metrics struct {
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Partial      int           `json:"partial"`
	Failed       int           `json:"failed"`
	Cancelled    int           `json:"cancelled"`
	SuccessRate  float64       `json:"success_rate"`
	AvgSlippage  float64       `json:"avg_slippage"`
	AvgDuration  time.Duration `json:"avg_execution_time"`
}
