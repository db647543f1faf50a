package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SignalRecord is a persisted trading signal.
type SignalRecord struct {
	ID             string
	Symbol         string
	Action         string
	Strength       float64
	Confidence     float64
	Timeframe      string
	RiskLevel      string
	Priority       int
	SentimentScore float64
	StrategyID     string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// ExecutionRecord is the persisted outcome of one execution attempt.
type ExecutionRecord struct {
	ID           string
	SignalID     string
	OrderID      string
	Symbol       string
	Side         string
	OrderType    string
	Status       string
	RequestedQty float64
	FilledQty    float64
	AvgPrice     float64
	Fees         float64
	Slippage     float64
	RetryCount   int
	DurationMS   int64
	Error        string
	CreatedAt    time.Time
}

// AlertRecord is a persisted operator alert.
type AlertRecord struct {
	ID        int64
	Level     string
	Source    string
	Message   string
	CreatedAt time.Time
}

// DailyMetrics aggregates trading outcomes per UTC day.
type DailyMetrics struct {
	Date        string // YYYY-MM-DD
	DailyPnL    float64
	Trades      int
	Wins        int
	Losses      int
	MaxDrawdown float64
}

// InsertSignal persists a generated signal.
func (d *Database) InsertSignal(ctx context.Context, s SignalRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, action, strength, confidence, timeframe, risk_level, priority, sentiment_score, strategy_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Symbol, s.Action, s.Strength, s.Confidence, s.Timeframe, s.RiskLevel, s.Priority, s.SentimentScore, s.StrategyID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// SetSignalStrategy records the strategy a signal was routed to.
func (d *Database) SetSignalStrategy(ctx context.Context, signalID, strategyID string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE signals SET strategy_id = ? WHERE id = ?`, strategyID, signalID)
	if err != nil {
		return fmt.Errorf("update signal strategy: %w", err)
	}
	return nil
}

// InsertExecution persists an execution result.
func (d *Database) InsertExecution(ctx context.Context, e ExecutionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO executions (id, signal_id, order_id, symbol, side, order_type, status, requested_qty, filled_qty, avg_price, fees, slippage, retry_count, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SignalID, e.OrderID, e.Symbol, e.Side, e.OrderType, e.Status, e.RequestedQty, e.FilledQty, e.AvgPrice, e.Fees, e.Slippage, e.RetryCount, e.DurationMS, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListRecentExecutions returns up to limit executions, newest first.
func (d *Database) ListRecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, COALESCE(order_id, ''), symbol, side, order_type, status,
		       requested_qty, filled_qty, avg_price, fees, slippage, retry_count, duration_ms,
		       COALESCE(error, ''), created_at
		FROM executions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var e ExecutionRecord
		if err := rows.Scan(&e.ID, &e.SignalID, &e.OrderID, &e.Symbol, &e.Side, &e.OrderType, &e.Status,
			&e.RequestedQty, &e.FilledQty, &e.AvgPrice, &e.Fees, &e.Slippage, &e.RetryCount, &e.DurationMS,
			&e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertAlert persists an operator alert.
func (d *Database) InsertAlert(ctx context.Context, a AlertRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO alerts (level, source, message, created_at) VALUES (?, ?, ?, ?)
	`, a.Level, a.Source, a.Message, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListRecentAlerts returns up to limit alerts, newest first.
func (d *Database) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, level, source, message, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.ID, &a.Level, &a.Source, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertDailyMetrics merges one trade outcome into the per-day aggregate.
func (d *Database) UpsertDailyMetrics(ctx context.Context, date string, pnl float64, win bool) error {
	wins, losses := 0, 0
	if win {
		wins = 1
	} else {
		losses = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, daily_pnl, trades, wins, losses, updated_at)
		VALUES (?, ?, 1, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = daily_pnl + excluded.daily_pnl,
			trades = trades + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			updated_at = CURRENT_TIMESTAMP
	`, date, pnl, wins, losses)
	if err != nil {
		return fmt.Errorf("upsert daily metrics: %w", err)
	}
	return nil
}

// GetDailyMetrics returns the aggregate row for a date, or a zero row when
// no trades were recorded yet.
func (d *Database) GetDailyMetrics(ctx context.Context, date string) (DailyMetrics, error) {
	m := DailyMetrics{Date: date}
	err := d.DB.QueryRowContext(ctx, `
		SELECT daily_pnl, trades, wins, losses, max_drawdown
		FROM risk_metrics WHERE date = ?
	`, date).Scan(&m.DailyPnL, &m.Trades, &m.Wins, &m.Losses, &m.MaxDrawdown)
	if err == sql.ErrNoRows {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("query daily metrics: %w", err)
	}
	return m, nil
}

// PruneBefore removes executions and alerts older than cutoff.
func (d *Database) PruneBefore(ctx context.Context, cutoff time.Time) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune executions: %w", err)
	}
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune alerts: %w", err)
	}
	return nil
}
