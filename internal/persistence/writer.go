package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// execer abstracts *sql.DB and *sql.Tx so batch writes can run inside
// the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and market projections to Postgres using
// batch inserts. Multi-row INSERT is used as a portable alternative to the
// COPY protocol; switch to pgx CopyFrom for higher throughput.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in curve_market.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Collateral     *string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// BatchRow represents a row in curve_market.batches. Amounts are decimal
// strings bound to NUMERIC columns since they exceed int64 range.
type BatchRow struct {
	Collateral      string
	BatchID         int64
	MetaBatchID     int64
	WindowStartUs   int64
	WindowEndUs     int64
	State           string
	Supply          string
	Balance         string
	ReserveRatioPPM int64
	MaxSlippagePPM  int64
	TotalBuySpend   string
	TotalBuyReturn  string
	TotalSellSpend  string
	TotalSellReturn string
	Sequence        int64
}

// OrderRow represents a row in curve_market.orders.
type OrderRow struct {
	Owner      string
	Collateral string
	BatchID    int64
	Side       string
	Amount     string
	Claimed    bool
	Sequence   int64
}

// CollateralRow represents a row in curve_market.collaterals.
type CollateralRow struct {
	Collateral      string
	VirtualSupply   string
	VirtualBalance  string
	ReserveRatioPPM int64
	MaxSlippagePPM  int64
	Whitelisted     bool
	Sequence        int64
}

// ReserveRow tracks a reserve gauge: pending token mints (scope "mint")
// or pending collateral claims per collateral (scope "claim:<hex>").
type ReserveRow struct {
	Scope    string
	Amount   string
	Sequence int64
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch writes a batch of events to curve_market.events using
// multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO curve_market.events
		(sequence, event_type, idempotency_key, collateral, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Collateral,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteBatchRows upserts batch projections. Later sequences win so replayed
// events cannot clobber newer state.
func (w *EventLogWriter) WriteBatchRows(ctx context.Context, ex execer, rows []BatchRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO curve_market.batches
		(collateral, batch_id, meta_batch_id, window_start_us, window_end_us, state,
		 supply, balance, reserve_ratio_ppm, max_slippage_ppm,
		 total_buy_spend, total_buy_return, total_sell_spend, total_sell_return, sequence)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*15)

	for i, r := range rows {
		base := i * 15
		placeholders := make([]string, 15)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.Collateral, r.BatchID, r.MetaBatchID, r.WindowStartUs, r.WindowEndUs, r.State,
			r.Supply, r.Balance, r.ReserveRatioPPM, r.MaxSlippagePPM,
			r.TotalBuySpend, r.TotalBuyReturn, r.TotalSellSpend, r.TotalSellReturn, r.Sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (collateral, batch_id) DO UPDATE SET
		state = EXCLUDED.state,
		total_buy_spend = EXCLUDED.total_buy_spend,
		total_buy_return = EXCLUDED.total_buy_return,
		total_sell_spend = EXCLUDED.total_sell_spend,
		total_sell_return = EXCLUDED.total_sell_return,
		sequence = EXCLUDED.sequence
		WHERE curve_market.batches.sequence <= EXCLUDED.sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteOrderRows upserts order projections with the same sequence guard.
func (w *EventLogWriter) WriteOrderRows(ctx context.Context, ex execer, rows []OrderRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO curve_market.orders
		(owner, collateral, batch_id, side, amount, claimed, sequence)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Owner, r.Collateral, r.BatchID, r.Side, r.Amount, r.Claimed, r.Sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (owner, collateral, batch_id, side) DO UPDATE SET
		amount = EXCLUDED.amount,
		claimed = EXCLUDED.claimed,
		sequence = EXCLUDED.sequence
		WHERE curve_market.orders.sequence <= EXCLUDED.sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteCollateralRows upserts the collateral registry projection.
func (w *EventLogWriter) WriteCollateralRows(ctx context.Context, ex execer, rows []CollateralRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO curve_market.collaterals
		(collateral, virtual_supply, virtual_balance, reserve_ratio_ppm, max_slippage_ppm, whitelisted, sequence)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Collateral, r.VirtualSupply, r.VirtualBalance,
			r.ReserveRatioPPM, r.MaxSlippagePPM, r.Whitelisted, r.Sequence,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (collateral) DO UPDATE SET
		virtual_supply = EXCLUDED.virtual_supply,
		virtual_balance = EXCLUDED.virtual_balance,
		reserve_ratio_ppm = EXCLUDED.reserve_ratio_ppm,
		max_slippage_ppm = EXCLUDED.max_slippage_ppm,
		whitelisted = EXCLUDED.whitelisted,
		sequence = EXCLUDED.sequence
		WHERE curve_market.collaterals.sequence <= EXCLUDED.sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteReserveRows upserts reserve gauges.
func (w *EventLogWriter) WriteReserveRows(ctx context.Context, ex execer, rows []ReserveRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO curve_market.reserve_status (scope, amount, sequence) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*3)

	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, r.Scope, r.Amount, r.Sequence)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (scope) DO UPDATE SET
		amount = EXCLUDED.amount,
		sequence = EXCLUDED.sequence
		WHERE curve_market.reserve_status.sequence <= EXCLUDED.sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
