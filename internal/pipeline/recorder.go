package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-core/internal/execution"
	"signal-core/internal/signal"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/db"
)

// Recorder is a StageObserver that persists stage outcomes to SQLite.
// Persistence failures are logged, never propagated into the pipeline.
type Recorder struct {
	db  *db.Database
	log zerolog.Logger
}

// NewRecorder builds a persistence observer.
func NewRecorder(database *db.Database, log zerolog.Logger) *Recorder {
	return &Recorder{
		db:  database,
		log: log.With().Str("component", "recorder").Logger(),
	}
}

func (r *Recorder) OnSignal(sig *signal.TradingSignal) {
	err := r.db.InsertSignal(context.Background(), db.SignalRecord{
		ID:             sig.ID,
		Symbol:         sig.Symbol,
		Action:         string(sig.Action),
		Strength:       sig.Strength,
		Confidence:     sig.Confidence,
		Timeframe:      string(sig.Timeframe),
		RiskLevel:      string(sig.RiskLevel),
		Priority:       sig.Priority,
		SentimentScore: sig.Sentiment.Score,
		CreatedAt:      sig.CreatedAt,
		ExpiresAt:      sig.ExpiresAt,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("signal", sig.ID).Msg("persist signal")
	}
}

func (r *Recorder) OnFiltered(symbol, category, reason string) {
	// Expected drops are high-volume noise; only persist real failures.
	if category == CategoryFiltered {
		return
	}
	err := r.db.InsertAlert(context.Background(), db.AlertRecord{
		Level:     "info",
		Source:    "pipeline:" + category,
		Message:   symbol + ": " + reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("persist drop")
	}
}

func (r *Recorder) OnRouted(a *strategy.Assignment) {
	if err := r.db.SetSignalStrategy(context.Background(), a.Signal.ID, a.StrategyID); err != nil {
		r.log.Warn().Err(err).Str("signal", a.Signal.ID).Msg("persist routing")
	}
}

func (r *Recorder) OnSized(sig *signal.TradingSignal, size *sizing.PositionSize) {}

func (r *Recorder) OnExecuted(sig *signal.TradingSignal, res execution.Result) {
	err := r.db.InsertExecution(context.Background(), db.ExecutionRecord{
		ID:           uuid.NewString(),
		SignalID:     res.SignalID,
		OrderID:      res.OrderID,
		Symbol:       res.Symbol,
		Side:         res.Side,
		OrderType:    res.OrderType,
		Status:       res.Status,
		RequestedQty: res.RequestedQty,
		FilledQty:    res.FilledAmount,
		AvgPrice:     res.AvgFillPrice,
		Fees:         res.Fees,
		Slippage:     res.Slippage,
		RetryCount:   res.RetryCount,
		DurationMS:   res.ExecutionTime.Milliseconds(),
		Error:        strings.Join(res.Errors, "; "),
		CreatedAt:    res.Timestamp,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("signal", res.SignalID).Msg("persist execution")
	}
}
