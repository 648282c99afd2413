package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// QueryService provides read-only access to projection tables.
// Queries are served over HTTP/JSON, reading from PostgreSQL projection
// tables. All responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBatch returns one batch by (collateral, batch_id).
func (qs *QueryService) GetBatch(
	ctx context.Context,
	collateral string,
	batchID int64,
) (*BatchResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var b BatchResponse
	b.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, batch_id, meta_batch_id, window_start_us, window_end_us, state,
		       supply, balance, reserve_ratio_ppm, max_slippage_ppm,
		       total_buy_spend, total_buy_return, total_sell_spend, total_sell_return
		FROM curve_market.batches
		WHERE collateral = $1 AND batch_id = $2
	`, normalizeAddr(collateral), batchID).Scan(
		&b.Collateral, &b.BatchID, &b.MetaBatchID, &b.WindowStartUs, &b.WindowEndUs, &b.State,
		&b.Supply, &b.Balance, &b.ReserveRatioPPM, &b.MaxSlippagePPM,
		&b.TotalBuySpend, &b.TotalBuyReturn, &b.TotalSellSpend, &b.TotalSellReturn,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBatches returns a collateral's most recent batches.
func (qs *QueryService) GetBatches(
	ctx context.Context,
	collateral string,
	limit int,
) ([]BatchResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT collateral, batch_id, meta_batch_id, window_start_us, window_end_us, state,
		       supply, balance, reserve_ratio_ppm, max_slippage_ppm,
		       total_buy_spend, total_buy_return, total_sell_spend, total_sell_return
		FROM curve_market.batches
		WHERE collateral = $1
		ORDER BY batch_id DESC
		LIMIT $2
	`, normalizeAddr(collateral), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchResponse
	for rows.Next() {
		var b BatchResponse
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&b.Collateral, &b.BatchID, &b.MetaBatchID, &b.WindowStartUs, &b.WindowEndUs, &b.State,
			&b.Supply, &b.Balance, &b.ReserveRatioPPM, &b.MaxSlippagePPM,
			&b.TotalBuySpend, &b.TotalBuyReturn, &b.TotalSellSpend, &b.TotalSellReturn,
		); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	return batches, rows.Err()
}

// GetOrder returns an owner's aggregate order in one batch and side.
func (qs *QueryService) GetOrder(
	ctx context.Context,
	owner, collateral string,
	batchID int64,
	side string,
) (*OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var o OrderResponse
	o.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, collateral, batch_id, side, amount, claimed
		FROM curve_market.orders
		WHERE owner = $1 AND collateral = $2 AND batch_id = $3 AND side = $4
	`, normalizeAddr(owner), normalizeAddr(collateral), batchID, side).Scan(
		&o.Owner, &o.Collateral, &o.BatchID, &o.Side, &o.Amount, &o.Claimed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrders returns an owner's orders with cursor-based pagination.
func (qs *QueryService) GetOrders(
	ctx context.Context,
	owner string,
	unclaimedOnly bool,
	limit int,
	afterBatch *int64,
) ([]OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT owner, collateral, batch_id, side, amount, claimed
		FROM curve_market.orders
		WHERE owner = $1
	`
	args := []interface{}{normalizeAddr(owner)}
	argIdx := 2

	if unclaimedOnly {
		query += " AND claimed = FALSE"
	}

	if afterBatch != nil {
		query += fmt.Sprintf(" AND batch_id < $%d", argIdx)
		args = append(args, *afterBatch)
		argIdx++
	}

	query += " ORDER BY batch_id DESC, collateral, side"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		var o OrderResponse
		o.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&o.Owner, &o.Collateral, &o.BatchID, &o.Side, &o.Amount, &o.Claimed,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// GetCollateralToken returns one collateral's curve parameters.
func (qs *QueryService) GetCollateralToken(
	ctx context.Context,
	collateral string,
) (*CollateralResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var c CollateralResponse
	c.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, virtual_supply, virtual_balance,
		       reserve_ratio_ppm, max_slippage_ppm, whitelisted
		FROM curve_market.collaterals
		WHERE collateral = $1
	`, normalizeAddr(collateral)).Scan(
		&c.Collateral, &c.VirtualSupply, &c.VirtualBalance,
		&c.ReserveRatioPPM, &c.MaxSlippagePPM, &c.Whitelisted,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCollateralTokens returns all whitelisted collaterals.
func (qs *QueryService) GetCollateralTokens(ctx context.Context) ([]CollateralResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT collateral, virtual_supply, virtual_balance,
		       reserve_ratio_ppm, max_slippage_ppm, whitelisted
		FROM curve_market.collaterals
		WHERE whitelisted = TRUE
		ORDER BY collateral
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collaterals []CollateralResponse
	for rows.Next() {
		var c CollateralResponse
		c.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&c.Collateral, &c.VirtualSupply, &c.VirtualBalance,
			&c.ReserveRatioPPM, &c.MaxSlippagePPM, &c.Whitelisted,
		); err != nil {
			return nil, err
		}
		collaterals = append(collaterals, c)
	}

	return collaterals, rows.Err()
}

// GetBatchHistory returns terminal batches for a collateral with
// cursor-based pagination.
func (qs *QueryService) GetBatchHistory(
	ctx context.Context,
	collateral *string,
	limit int,
	afterBatch *int64,
) ([]BatchHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT collateral, batch_id, meta_batch_id, state, static_price_ppm,
		       total_buy_spend, total_buy_return, total_sell_spend, total_sell_return,
		       settled_at_us
		FROM curve_market.batch_history
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if collateral != nil {
		query += fmt.Sprintf(" AND collateral = $%d", argIdx)
		args = append(args, normalizeAddr(*collateral))
		argIdx++
	}

	if afterBatch != nil {
		query += fmt.Sprintf(" AND batch_id < $%d", argIdx)
		args = append(args, *afterBatch)
		argIdx++
	}

	query += " ORDER BY settled_at_us DESC, batch_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []BatchHistoryResponse
	for rows.Next() {
		var h BatchHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Collateral, &h.BatchID, &h.MetaBatchID, &h.State, &h.StaticPricePPM,
			&h.TotalBuySpend, &h.TotalBuyReturn, &h.TotalSellSpend, &h.TotalSellReturn,
			&h.SettledAtUs,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetReserveStatus returns outstanding mint and claim obligations.
func (qs *QueryService) GetReserveStatus(ctx context.Context) (*ReserveStatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &ReserveStatusResponse{
		TokensToBeMinted:      "0",
		CollateralToBeClaimed: make(map[string]string),
		AsOfSequence:          asOfSeq,
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT scope, amount FROM curve_market.reserve_status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var scope, amount string
		if err := rows.Scan(&scope, &amount); err != nil {
			return nil, err
		}
		switch {
		case scope == "mint":
			resp.TokensToBeMinted = amount
		case strings.HasPrefix(scope, "claim:"):
			resp.CollateralToBeClaimed[strings.TrimPrefix(scope, "claim:")] = amount
		}
	}

	return resp, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and claim consistency.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM curve_market.events e1
		LEFT JOIN curve_market.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Claimed orders must reference batches in a terminal state
	claimRows, err := qs.db.QueryContext(ctx, `
		SELECT o.batch_id
		FROM curve_market.orders o
		JOIN curve_market.batches b
		  ON b.collateral = o.collateral AND b.batch_id = o.batch_id
		WHERE o.claimed = TRUE AND b.state = 'Open'
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer claimRows.Close()

	for claimRows.Next() {
		var batchID int64
		if err := claimRows.Scan(&batchID); err != nil {
			return nil, err
		}
		report.OrphanedClaims = append(report.OrphanedClaims, batchID)
	}
	if err := claimRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.OrphanedClaims) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM curve_market.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// normalizeAddr re-checksums the address. Projections store the EIP-55 form
// written by the core, so callers may pass any case.
func normalizeAddr(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
