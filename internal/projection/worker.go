package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence    int64
	EventType   string
	Collateral  *string
	Batch       *BatchUpdate
	TimestampUs int64
}

// BatchUpdate is a simplified batch view for projection consumption.
// Amounts are decimal strings bound to NUMERIC columns.
type BatchUpdate struct {
	BatchID         int64
	MetaBatchID     int64
	State           string
	StaticPricePPM  int64
	TotalBuySpend   string
	TotalBuyReturn  string
	TotalSellSpend  string
	TotalSellReturn string
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop. If projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Record terminal batch states in the history projection
	if output.Batch != nil && output.Collateral != nil &&
		(output.Batch.State == "Settled" || output.Batch.State == "Cancelled") {
		if err := pw.updateBatchHistory(ctx, tx, output); err != nil {
			return fmt.Errorf("batch history projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO curve_market.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBatchHistory(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	b := output.Batch
	_, err := tx.ExecContext(ctx, `
		INSERT INTO curve_market.batch_history
			(collateral, batch_id, meta_batch_id, state, static_price_ppm,
			 total_buy_spend, total_buy_return, total_sell_spend, total_sell_return,
			 settled_at_us, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (collateral, batch_id) DO UPDATE SET
			state = EXCLUDED.state,
			static_price_ppm = EXCLUDED.static_price_ppm,
			total_buy_spend = EXCLUDED.total_buy_spend,
			total_buy_return = EXCLUDED.total_buy_return,
			total_sell_spend = EXCLUDED.total_sell_spend,
			total_sell_return = EXCLUDED.total_sell_return,
			settled_at_us = EXCLUDED.settled_at_us,
			sequence = EXCLUDED.sequence
	`, *output.Collateral, b.BatchID, b.MetaBatchID, b.State, b.StaticPricePPM,
		b.TotalBuySpend, b.TotalBuyReturn, b.TotalSellSpend, b.TotalSellReturn,
		output.TimestampUs, output.Sequence)
	return err
}

// RebuildProjections rebuilds all projection tables from the batch
// projection, which the persistence worker keeps authoritative.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE curve_market.batch_history`,
		`DELETE FROM curve_market.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO curve_market.batch_history
			(collateral, batch_id, meta_batch_id, state, static_price_ppm,
			 total_buy_spend, total_buy_return, total_sell_spend, total_sell_return,
			 settled_at_us, sequence)
		SELECT
			collateral, batch_id, meta_batch_id, state, 0,
			total_buy_spend, total_buy_return, total_sell_spend, total_sell_return,
			window_end_us, sequence
		FROM curve_market.batches
		WHERE state IN ('Settled', 'Cancelled')
		ON CONFLICT (collateral, batch_id) DO UPDATE SET
			state = EXCLUDED.state,
			sequence = EXCLUDED.sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild batch history: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
