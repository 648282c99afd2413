package core

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"CurveMarket/internal/curve"
	"CurveMarket/internal/event"
	"CurveMarket/internal/market"
	"CurveMarket/internal/observability"
	"CurveMarket/internal/pricing"
	"CurveMarket/internal/reserve"
	"CurveMarket/internal/token"
)

// PctBase is the fixed-point denominator for fee percentages: a fee of
// PctBase/100 is 1%.
var PctBase = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MarketCore is the single-threaded command processor. All curve state
// (collaterals, batches, orders, pending claims) lives here and is mutated
// only by ProcessEvent, so no locks are needed and replaying the event log
// reproduces the exact same state hashes.
type MarketCore struct {
	sequence     int64
	hasher       *StateHasher
	registry     *market.CollateralRegistry
	batches      *market.BatchStore
	orders       *market.OrderLedger
	reserves     *reserve.Ledger
	validator    *reserve.InvariantValidator
	pricer       *pricing.Engine
	bonded       token.BondedToken
	vault        token.Vault
	dedup        *DedupChecker
	seqValidator *SequenceValidator
	metrics      *observability.Metrics

	custody     common.Address
	beneficiary common.Address
	buyFeePct   *big.Int
	sellFeePct  *big.Int
	metaBatchID int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the core emits per applied event: the envelope for the
// event log plus snapshots of the batch and order the event touched (nil for
// events that touch neither). Source is the command that produced the output
// (nil for derived events); the reserve gauges are copied at emit time so
// downstream workers never read core state concurrently.
type CoreOutput struct {
	Envelope   *event.Envelope
	Source     event.Event
	Batch      *market.Batch
	Order      *market.Order
	StateDelta []byte

	TokensToBeMinted *big.Int
	CollateralClaim  *big.Int
}

// Config carries the operational parameters of the core.
type Config struct {
	StartSequence   int64
	BatchDurationUs int64
	Custody         common.Address
	Beneficiary     common.Address
	BuyFeePct       *big.Int
	SellFeePct      *big.Int
	DedupCapacity   int
}

func NewMarketCore(
	cfg Config,
	bonded token.BondedToken,
	vault token.Vault,
	checker token.ContractChecker,
	formula curve.Formula,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBDedupChecker,
	metrics *observability.Metrics,
) *MarketCore {
	reserves := reserve.NewLedger()

	buyFee := new(big.Int)
	if cfg.BuyFeePct != nil {
		buyFee.Set(cfg.BuyFeePct)
	}
	sellFee := new(big.Int)
	if cfg.SellFeePct != nil {
		sellFee.Set(cfg.SellFeePct)
	}

	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &MarketCore{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		registry:       market.NewCollateralRegistry(checker),
		batches:        market.NewBatchStore(cfg.BatchDurationUs),
		orders:         market.NewOrderLedger(),
		reserves:       reserves,
		validator:      reserve.NewInvariantValidator(reserves, vault, bonded, cfg.Custody),
		pricer:         pricing.NewEngine(formula),
		bonded:         bonded,
		vault:          vault,
		dedup:          NewDedupChecker(capacity, dbChecker),
		seqValidator:   NewSequenceValidator(),
		metrics:        metrics,
		custody:        cfg.Custody,
		beneficiary:    cfg.Beneficiary,
		buyFeePct:      buyFee,
		sellFeePct:     sellFee,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *MarketCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.dedup.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	switch c.seqValidator.Validate(partition, evt.SourceSequence()) {
	case SequenceDuplicate:
		isDuplicate = true
	case SequenceOutOfOrder:
		if !isDuplicate {
			return fmt.Errorf("out-of-order source sequence %d on partition %s (key=%s)",
				evt.SourceSequence(), partition, idempotencyKey)
		}
	case SequenceGap:
		if c.metrics != nil {
			c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch and apply
	res, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Compute state digest and hash
	stateDigest := c.computeStateDigest(evt.Collateral())
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Collateral:     evt.Collateral(),
		TimestampUs:    evt.OccurredAt(),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:         envelope,
		Source:           evt,
		StateDelta:       stateDigest,
		TokensToBeMinted: c.reserves.TokensToBeMinted(),
	}
	if res != nil {
		output.Batch = res.batch
		output.Order = res.order
	}
	if col := evt.Collateral(); col != nil {
		output.CollateralClaim = c.reserves.CollateralToBeClaimed(common.HexToAddress(*col))
	}
	c.sequence++

	// Step 5: Post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Emit. Persistence uses a BLOCKING send so no applied event is
	// ever lost; projections use a NON-BLOCKING send and rebuild from the
	// event log if they fall behind.
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 7: Mark as processed (add to LRU)
	c.dedup.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines the partition key for sequence validation. Order
// flow is ordered per collateral; governance commands share one partition.
func (c *MarketCore) getPartition(evt event.Event) string {
	if col := evt.Collateral(); col != nil {
		return fmt.Sprintf("collateral:%s", *col)
	}
	return "global"
}

type dispatchResult struct {
	batch *market.Batch
	order *market.Order
}

func (c *MarketCore) dispatchEvent(evt event.Event) (*dispatchResult, error) {
	switch e := evt.(type) {
	case *event.OpenBuyOrder:
		return c.handleOpenBuyOrder(e)
	case *event.OpenSellOrder:
		return c.handleOpenSellOrder(e)
	case *event.ClaimBuyOrder:
		return c.handleClaimBuyOrder(e)
	case *event.ClaimSellOrder:
		return c.handleClaimSellOrder(e)
	case *event.ClaimCancelledBuyOrder:
		return c.handleClaimCancelledBuyOrder(e)
	case *event.ClaimCancelledSellOrder:
		return c.handleClaimCancelledSellOrder(e)
	case *event.AddCollateralToken:
		return c.handleAddCollateralToken(e)
	case *event.RemoveCollateralToken:
		return c.handleRemoveCollateralToken(e)
	case *event.UpdateCollateralToken:
		return c.handleUpdateCollateralToken(e)
	case *event.UpdateFees:
		return c.handleUpdateFees(e)
	case *event.UpdateBeneficiary:
		return c.handleUpdateBeneficiary(e)
	case *event.DepositCollateral:
		return c.handleDepositCollateral(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Order flow ---

func (c *MarketCore) handleOpenBuyOrder(evt *event.OpenBuyOrder) (*dispatchResult, error) {
	col, err := c.registry.Whitelisted(evt.CollateralAddr)
	if err != nil {
		return nil, err
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("buy for %s: %w", evt.Buyer.Hex(), market.ErrZeroAmount)
	}
	if c.vault.BalanceOf(evt.CollateralAddr, evt.Buyer).Cmp(evt.Amount) < 0 {
		return nil, fmt.Errorf("buy of %s by %s: %w", evt.Amount, evt.Buyer.Hex(), market.ErrInsufficientFunds)
	}

	batch, err := c.currentBatch(col, evt.TimestampUs)
	if err != nil {
		return nil, err
	}

	fee := c.feeOf(evt.Amount, c.buyFeePct)
	net := new(big.Int).Sub(evt.Amount, fee)
	if net.Sign() == 0 {
		return nil, fmt.Errorf("buy of %s nets to zero after fee: %w", evt.Amount, market.ErrZeroAmount)
	}

	// Slippage is checked against the batch's WOULD-BE aggregate spend before
	// anything is mutated, so a violation leaves no state to roll back.
	staged := new(big.Int).Add(batch.TotalBuySpend, net)
	if err := c.pricer.ValidateSlippage(batch.Supply, batch.Balance, batch.ReserveRatioPPM, batch.MaxSlippagePPM, market.SideBuy, staged); err != nil {
		return nil, err
	}

	if fee.Sign() > 0 {
		if err := c.vault.Transfer(evt.CollateralAddr, evt.Buyer, c.beneficiary, fee); err != nil {
			return nil, fmt.Errorf("buy fee transfer: %w", err)
		}
	}
	if err := c.vault.Transfer(evt.CollateralAddr, evt.Buyer, c.custody, net); err != nil {
		return nil, fmt.Errorf("buy collateral transfer: %w", err)
	}

	batch.TotalBuySpend.Set(staged)
	order, _ := c.orders.Merge(evt.Buyer, evt.CollateralAddr, batch.ID, market.SideBuy, net)

	if c.metrics != nil {
		c.metrics.OrdersOpened.WithLabelValues("buy").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

func (c *MarketCore) handleOpenSellOrder(evt *event.OpenSellOrder) (*dispatchResult, error) {
	col, err := c.registry.Whitelisted(evt.CollateralAddr)
	if err != nil {
		return nil, err
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("sell for %s: %w", evt.Seller.Hex(), market.ErrZeroAmount)
	}
	if c.bonded.BalanceOf(evt.Seller).Cmp(evt.Amount) < 0 {
		return nil, fmt.Errorf("sell of %s by %s: %w", evt.Amount, evt.Seller.Hex(), market.ErrInsufficientFunds)
	}

	batch, err := c.currentBatch(col, evt.TimestampUs)
	if err != nil {
		return nil, err
	}

	fee := c.feeOf(evt.Amount, c.sellFeePct)
	net := new(big.Int).Sub(evt.Amount, fee)
	if net.Sign() == 0 {
		return nil, fmt.Errorf("sell of %s nets to zero after fee: %w", evt.Amount, market.ErrZeroAmount)
	}

	staged := new(big.Int).Add(batch.TotalSellSpend, net)
	if err := c.pricer.ValidateSlippage(batch.Supply, batch.Balance, batch.ReserveRatioPPM, batch.MaxSlippagePPM, market.SideSell, staged); err != nil {
		return nil, err
	}

	// Fee tokens go to the beneficiary; the net tokens are burned now so the
	// seller cannot respend them while the batch is open. A cancelled batch
	// re-mints them on claim.
	if fee.Sign() > 0 {
		if err := c.bonded.Transfer(evt.Seller, c.beneficiary, fee); err != nil {
			return nil, fmt.Errorf("sell fee transfer: %w", err)
		}
	}
	if err := c.bonded.Burn(evt.Seller, net); err != nil {
		return nil, fmt.Errorf("sell burn: %w", err)
	}

	batch.TotalSellSpend.Set(staged)
	order, _ := c.orders.Merge(evt.Seller, evt.CollateralAddr, batch.ID, market.SideSell, net)

	if c.metrics != nil {
		c.metrics.OrdersOpened.WithLabelValues("sell").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

func (c *MarketCore) handleClaimBuyOrder(evt *event.ClaimBuyOrder) (*dispatchResult, error) {
	batch, err := c.settledBatch(evt.CollateralAddr, evt.BatchID, evt.TimestampUs)
	if err != nil {
		return nil, err
	}

	order, err := c.orders.Pending(evt.Owner, evt.CollateralAddr, evt.BatchID, market.SideBuy)
	if err != nil {
		return nil, err
	}

	// Pro-rata share of the batch's aggregate token return. Integer division
	// truncates; the dust stays in tokensToBeMinted.
	reward := new(big.Int).Mul(order.Amount, batch.TotalBuyReturn)
	reward.Quo(reward, batch.TotalBuySpend)

	order.Claimed = true
	c.reserves.DebitMint(reward)
	if reward.Sign() > 0 {
		if err := c.bonded.Mint(evt.Owner, reward); err != nil {
			panic(fmt.Sprintf("FATAL: claim mint failed: %v", err))
		}
	}

	if c.metrics != nil {
		c.metrics.OrdersClaimed.WithLabelValues("buy").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

func (c *MarketCore) handleClaimSellOrder(evt *event.ClaimSellOrder) (*dispatchResult, error) {
	batch, err := c.settledBatch(evt.CollateralAddr, evt.BatchID, evt.TimestampUs)
	if err != nil {
		return nil, err
	}

	order, err := c.orders.Pending(evt.Owner, evt.CollateralAddr, evt.BatchID, market.SideSell)
	if err != nil {
		return nil, err
	}

	reward := new(big.Int).Mul(order.Amount, batch.TotalSellReturn)
	reward.Quo(reward, batch.TotalSellSpend)

	// A curve funded with virtual balance can promise more collateral than
	// custody actually holds. The claim fails, stays unclaimed, and can be
	// retried once the reserve is topped up.
	if c.vault.BalanceOf(evt.CollateralAddr, c.custody).Cmp(reward) < 0 {
		return nil, fmt.Errorf("sell claim of %s: %w", reward, market.ErrInsufficientPoolFunds)
	}

	order.Claimed = true
	c.reserves.DebitClaim(evt.CollateralAddr, reward)
	if reward.Sign() > 0 {
		if err := c.vault.Transfer(evt.CollateralAddr, c.custody, evt.Owner, reward); err != nil {
			panic(fmt.Sprintf("FATAL: claim payout failed after balance check: %v", err))
		}
	}

	if c.metrics != nil {
		c.metrics.OrdersClaimed.WithLabelValues("sell").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

func (c *MarketCore) handleClaimCancelledBuyOrder(evt *event.ClaimCancelledBuyOrder) (*dispatchResult, error) {
	batch, ok := c.batches.Get(evt.CollateralAddr, evt.BatchID)
	if !ok {
		return nil, fmt.Errorf("batch %d for %s: %w", evt.BatchID, evt.CollateralAddr.Hex(), market.ErrNoOrder)
	}
	if !batch.Cancelled() {
		return nil, fmt.Errorf("batch %d for %s: %w", evt.BatchID, evt.CollateralAddr.Hex(), market.ErrBatchNotCancelled)
	}

	order, err := c.orders.Pending(evt.Owner, evt.CollateralAddr, evt.BatchID, market.SideBuy)
	if err != nil {
		return nil, err
	}

	// Refund is the fee-net deposit; the open fee is not returned.
	refund := new(big.Int).Set(order.Amount)
	if c.vault.BalanceOf(evt.CollateralAddr, c.custody).Cmp(refund) < 0 {
		return nil, fmt.Errorf("cancelled buy refund of %s: %w", refund, market.ErrInsufficientPoolFunds)
	}

	order.Claimed = true
	c.reserves.DebitClaim(evt.CollateralAddr, refund)
	if err := c.vault.Transfer(evt.CollateralAddr, c.custody, evt.Owner, refund); err != nil {
		panic(fmt.Sprintf("FATAL: cancelled buy refund failed after balance check: %v", err))
	}

	if c.metrics != nil {
		c.metrics.OrdersClaimed.WithLabelValues("cancelled_buy").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

func (c *MarketCore) handleClaimCancelledSellOrder(evt *event.ClaimCancelledSellOrder) (*dispatchResult, error) {
	batch, ok := c.batches.Get(evt.CollateralAddr, evt.BatchID)
	if !ok {
		return nil, fmt.Errorf("batch %d for %s: %w", evt.BatchID, evt.CollateralAddr.Hex(), market.ErrNoOrder)
	}
	if !batch.Cancelled() {
		return nil, fmt.Errorf("batch %d for %s: %w", evt.BatchID, evt.CollateralAddr.Hex(), market.ErrBatchNotCancelled)
	}

	order, err := c.orders.Pending(evt.Owner, evt.CollateralAddr, evt.BatchID, market.SideSell)
	if err != nil {
		return nil, err
	}

	refund := new(big.Int).Set(order.Amount)
	order.Claimed = true
	c.reserves.DebitMint(refund)
	if err := c.bonded.Mint(evt.Owner, refund); err != nil {
		panic(fmt.Sprintf("FATAL: cancelled sell re-mint failed: %v", err))
	}

	if c.metrics != nil {
		c.metrics.OrdersClaimed.WithLabelValues("cancelled_sell").Inc()
	}
	return &dispatchResult{batch: batch, order: order}, nil
}

// --- Governance ---

func (c *MarketCore) handleAddCollateralToken(evt *event.AddCollateralToken) (*dispatchResult, error) {
	_, err := c.registry.Add(evt.CollateralAddr, evt.VirtualSupply, evt.VirtualBalance, evt.ReserveRatioPPM, evt.MaxSlippagePPM)
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *MarketCore) handleRemoveCollateralToken(evt *event.RemoveCollateralToken) (*dispatchResult, error) {
	if _, err := c.registry.Remove(evt.CollateralAddr); err != nil {
		return nil, err
	}

	// A live batch cannot settle against a delisted collateral: cancel it and
	// book the refunds (tokens re-minted for sells, collateral returned for
	// buys) so claimCancelled* can pay out.
	var cancelled *market.Batch
	if b := c.batches.CancelLive(evt.CollateralAddr, evt.TimestampUs); b != nil {
		c.reserves.CreditMint(b.TotalSellSpend)
		c.reserves.CreditClaim(evt.CollateralAddr, b.TotalBuySpend)
		cancelled = b
		if c.metrics != nil {
			c.metrics.BatchesCancelled.WithLabelValues(evt.CollateralAddr.Hex()).Inc()
		}
	}
	return &dispatchResult{batch: cancelled}, nil
}

func (c *MarketCore) handleUpdateCollateralToken(evt *event.UpdateCollateralToken) (*dispatchResult, error) {
	_, err := c.registry.Update(evt.CollateralAddr, evt.VirtualSupply, evt.VirtualBalance, evt.ReserveRatioPPM, evt.MaxSlippagePPM)
	if err != nil {
		return nil, err
	}
	c.bumpMetaBatch(evt.CollateralAddr.Hex(), evt.TimestampUs)
	return nil, nil
}

func (c *MarketCore) handleUpdateFees(evt *event.UpdateFees) (*dispatchResult, error) {
	if evt.BuyFeePct == nil || evt.SellFeePct == nil ||
		evt.BuyFeePct.Sign() < 0 || evt.SellFeePct.Sign() < 0 ||
		evt.BuyFeePct.Cmp(PctBase) >= 0 || evt.SellFeePct.Cmp(PctBase) >= 0 {
		return nil, market.ErrInvalidPercentage
	}
	c.buyFeePct.Set(evt.BuyFeePct)
	c.sellFeePct.Set(evt.SellFeePct)
	c.bumpMetaBatch("", evt.TimestampUs)
	return nil, nil
}

func (c *MarketCore) handleUpdateBeneficiary(evt *event.UpdateBeneficiary) (*dispatchResult, error) {
	if evt.Beneficiary == (common.Address{}) {
		return nil, market.ErrInvalidBeneficiary
	}
	c.beneficiary = evt.Beneficiary
	return nil, nil
}

// --- Funding ---

// handleDepositCollateral credits the depositor's vault balance. Deposits
// arrive from the upstream settlement system after the inbound transfer is
// confirmed; a buy order can only spend what was deposited first.
func (c *MarketCore) handleDepositCollateral(evt *event.DepositCollateral) (*dispatchResult, error) {
	if _, err := c.registry.Whitelisted(evt.CollateralAddr); err != nil {
		return nil, err
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit for %s: %w", evt.Depositor.Hex(), market.ErrZeroAmount)
	}
	if err := c.vault.Deposit(evt.CollateralAddr, evt.Depositor, evt.Amount); err != nil {
		return nil, fmt.Errorf("deposit of %s by %s: %w", evt.Amount, evt.Depositor.Hex(), err)
	}
	return nil, nil
}

// --- Batch lifecycle ---

// currentBatch returns the collateral's live batch at now, settling the
// outgoing batch and opening a fresh one when the window rolled over. The
// new batch snapshots the post-settlement curve state plus the collateral's
// virtual offsets.
func (c *MarketCore) currentBatch(col *market.CollateralToken, now int64) (*market.Batch, error) {
	if b, ok := c.batches.Live(col.Address, now); ok {
		return b, nil
	}

	if prev := c.batches.Previous(col.Address); prev != nil && prev.State == market.BatchStateOpen {
		if err := c.settleBatch(prev); err != nil {
			return nil, err
		}
	}

	supply := new(big.Int).Add(col.VirtualSupply, c.validator.RealSupply())
	balance := new(big.Int).Add(col.VirtualBalance, c.validator.RealBalance(col.Address))
	if balance.Sign() < 0 {
		balance.SetInt64(0)
	}

	b := c.batches.Create(col.Address, now, c.metaBatchID, supply, balance, col.ReserveRatioPPM, col.MaxSlippagePPM)

	c.emitDerived(event.EventTypeNewBatch, col.Address.Hex(),
		fmt.Sprintf("new_batch:%s:%d", col.Address.Hex(), b.ID), now, b)

	if c.metrics != nil {
		c.metrics.BatchesCreated.WithLabelValues(col.Address.Hex()).Inc()
	}
	return b, nil
}

// settledBatch resolves a batch for claims: the window must have elapsed,
// the batch must not be cancelled, and a still-open batch is settled lazily
// on first touch.
func (c *MarketCore) settledBatch(collateral common.Address, batchID, now int64) (*market.Batch, error) {
	batch, ok := c.batches.Get(collateral, batchID)
	if !ok {
		return nil, fmt.Errorf("batch %d for %s: %w", batchID, collateral.Hex(), market.ErrNoOrder)
	}
	if batch.Cancelled() {
		return nil, fmt.Errorf("batch %d for %s: %w", batchID, collateral.Hex(), market.ErrBatchCancelled)
	}
	if !batch.Closed(now) {
		return nil, fmt.Errorf("batch %d for %s closes at %d: %w", batchID, collateral.Hex(), batch.WindowEnd, market.ErrBatchNotClosed)
	}
	if batch.State == market.BatchStateOpen {
		if err := c.settleBatch(batch); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// settleBatch prices a closed batch and books the resulting obligations:
// tokens owed to buyers into the pending-mint pool, collateral owed to
// sellers into the pending-claim pool.
func (c *MarketCore) settleBatch(b *market.Batch) error {
	st, err := c.pricer.Settle(b.Supply, b.Balance, b.ReserveRatioPPM, b.TotalBuySpend, b.TotalSellSpend)
	if err != nil {
		return fmt.Errorf("settle batch %d for %s: %w", b.ID, b.Collateral.Hex(), err)
	}

	b.TotalBuyReturn.Set(st.TotalBuyReturn)
	b.TotalSellReturn.Set(st.TotalSellReturn)
	b.State = market.BatchStateSettled

	c.reserves.CreditMint(b.TotalBuyReturn)
	c.reserves.CreditClaim(b.Collateral, b.TotalSellReturn)

	c.emitDerived(event.EventTypeUpdatePricing, b.Collateral.Hex(),
		fmt.Sprintf("update_pricing:%s:%d", b.Collateral.Hex(), b.ID), b.WindowEnd, b)

	if c.metrics != nil {
		c.metrics.BatchesSettled.WithLabelValues(b.Collateral.Hex()).Inc()
	}
	return nil
}

// bumpMetaBatch advances the global pricing epoch. Batches created from here
// on carry the new meta-batch id; in-flight batches keep their snapshot.
func (c *MarketCore) bumpMetaBatch(collateralHex string, now int64) {
	c.metaBatchID++
	key := fmt.Sprintf("new_meta_batch:%d", c.metaBatchID)
	c.emitDerived(event.EventTypeNewMetaBatch, collateralHex, key, now, nil)
}

// emitDerived publishes an informational derived event to the projection
// channel only (non-blocking). Derived events carry no state hash; they are
// reconstructible from the command log.
func (c *MarketCore) emitDerived(et event.EventType, collateralHex, idempotencyKey string, now int64, batch *market.Batch) {
	var col *string
	if collateralHex != "" {
		col = &collateralHex
	}
	output := CoreOutput{
		Envelope: &event.Envelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      et,
			Collateral:     col,
			TimestampUs:    now,
		},
		Batch: batch,
	}
	select {
	case c.projectionChan <- output:
	default:
	}
}

// --- Fees and pricing views ---

// feeOf computes amount * pct / PctBase, truncating.
func (c *MarketCore) feeOf(amount, pct *big.Int) *big.Int {
	if pct.Sign() == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, pct)
	return fee.Quo(fee, PctBase)
}

// GetStaticPricePPM returns the current marginal price of the collateral's
// curve in collateral-per-token, PPM fixed-point.
func (c *MarketCore) GetStaticPricePPM(collateral common.Address) (*big.Int, error) {
	col, err := c.registry.Whitelisted(collateral)
	if err != nil {
		return nil, err
	}
	supply := new(big.Int).Add(col.VirtualSupply, c.validator.RealSupply())
	balance := new(big.Int).Add(col.VirtualBalance, c.validator.RealBalance(collateral))
	if balance.Sign() < 0 {
		balance.SetInt64(0)
	}
	return curve.StaticPricePPM(supply, balance, col.ReserveRatioPPM), nil
}

// --- State digest and invariants ---

// computeStateDigest serializes the curve state that must agree across
// replays: global token obligations plus, when the event names a collateral,
// that collateral's custody, pending claims and latest batch totals.
func (c *MarketCore) computeStateDigest(collateralHex *string) []byte {
	digest := make([]byte, 0, 256)
	digest = appendBigInt(digest, c.bonded.TotalSupply())
	digest = appendBigInt(digest, c.reserves.TokensToBeMinted())
	digest = appendInt64LE(digest, c.metaBatchID)

	if collateralHex == nil {
		digest = appendBigInt(digest, c.buyFeePct)
		digest = appendBigInt(digest, c.sellFeePct)
		digest = append(digest, c.beneficiary.Bytes()...)
		return digest
	}

	addr := common.HexToAddress(*collateralHex)
	digest = append(digest, addr.Bytes()...)
	digest = appendBigInt(digest, c.vault.BalanceOf(addr, c.custody))
	digest = appendBigInt(digest, c.reserves.CollateralToBeClaimed(addr))

	if b := c.batches.Previous(addr); b != nil {
		digest = appendInt64LE(digest, b.ID)
		digest = append(digest, byte(b.State))
		digest = appendBigInt(digest, b.TotalBuySpend)
		digest = appendBigInt(digest, b.TotalSellSpend)
		digest = appendBigInt(digest, b.TotalBuyReturn)
		digest = appendBigInt(digest, b.TotalSellReturn)
	}
	return digest
}

func appendBigInt(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	if v.Sign() < 0 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(b)), byte(len(b)>>8))
	return append(buf, b...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants runs the cheap structural checks after every applied
// event. Claims-backed is NOT checked here: with virtual balance configured a
// settlement can legitimately promise more than custody holds, and the claim
// path rejects underfunded payouts instead.
func (c *MarketCore) postCheckInvariants() error {
	if err := c.validator.ValidateMintNonNegative(); err != nil {
		return err
	}
	if c.bonded.TotalSupply().Sign() < 0 {
		return fmt.Errorf("bonded token supply is negative: %s", c.bonded.TotalSupply())
	}
	return nil
}

// --- Views ---

// GetBatch returns a batch by collateral and id.
func (c *MarketCore) GetBatch(collateral common.Address, batchID int64) (*market.Batch, bool) {
	return c.batches.Get(collateral, batchID)
}

// GetCollateralToken returns the collateral record, delisted ones included.
func (c *MarketCore) GetCollateralToken(collateral common.Address) (*market.CollateralToken, bool) {
	return c.registry.Get(collateral)
}

// GetOrder returns an order entry, claimed or not.
func (c *MarketCore) GetOrder(owner, collateral common.Address, batchID int64, side market.Side) (*market.Order, bool) {
	return c.orders.Get(owner, collateral, batchID, side)
}

// TokensToBeMinted returns the outstanding buy-side token obligations.
func (c *MarketCore) TokensToBeMinted() *big.Int {
	return c.reserves.TokensToBeMinted()
}

// CollateralToBeClaimed returns the outstanding sell-side obligations for a collateral.
func (c *MarketCore) CollateralToBeClaimed(collateral common.Address) *big.Int {
	return c.reserves.CollateralToBeClaimed(collateral)
}

// Beneficiary returns the current fee beneficiary.
func (c *MarketCore) Beneficiary() common.Address {
	return c.beneficiary
}

// Fees returns the current buy and sell fee percentages over PctBase.
func (c *MarketCore) Fees() (buyFeePct, sellFeePct *big.Int) {
	return new(big.Int).Set(c.buyFeePct), new(big.Int).Set(c.sellFeePct)
}

// MetaBatchID returns the current pricing epoch.
func (c *MarketCore) MetaBatchID() int64 {
	return c.metaBatchID
}

// GetSequence returns the next sequence the core will assign.
func (c *MarketCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *MarketCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// --- Snapshot Restore & Startup Methods ---

// tokenSnapshotter is implemented by in-memory bonded token backends whose
// balances live only in this process and must travel with the snapshot.
// Externally-backed tokens persist their own balances and skip this.
type tokenSnapshotter interface {
	Snapshot() *token.TokenSnapshot
	Restore(*token.TokenSnapshot)
}

// vaultSnapshotter is the vault counterpart of tokenSnapshotter.
type vaultSnapshotter interface {
	Snapshot() *token.VaultSnapshot
	Restore(*token.VaultSnapshot)
}

// SnapshotState holds the serializable in-memory state for restore. Token
// and Vault carry the backing ledgers when the backends are in-memory (nil
// for externally-backed implementations); without them a warm restart would
// leave pending claims unbacked by custody balances.
type SnapshotState struct {
	Sequence              int64
	StateHash             [32]byte
	MetaBatchID           int64
	Beneficiary           common.Address
	BuyFeePct             *big.Int
	SellFeePct            *big.Int
	Collaterals           []*market.CollateralToken
	Batches               []*market.Batch
	Orders                []*market.Order
	TokensToBeMinted      *big.Int
	CollateralToBeClaimed map[common.Address]*big.Int
	SequenceState         map[string]int64
	IdempotencyKeys       []string
	Token                 *token.TokenSnapshot
	Vault                 *token.VaultSnapshot
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *MarketCore) CreateSnapshotState() *SnapshotState {
	tokens, claims := c.reserves.Snapshot()

	collaterals := c.registry.All()
	sort.Slice(collaterals, func(i, j int) bool {
		return collaterals[i].Address.Hex() < collaterals[j].Address.Hex()
	})

	snap := &SnapshotState{
		Sequence:              c.sequence - 1,
		StateHash:             c.hasher.GetPrevHash(),
		MetaBatchID:           c.metaBatchID,
		Beneficiary:           c.beneficiary,
		BuyFeePct:             new(big.Int).Set(c.buyFeePct),
		SellFeePct:            new(big.Int).Set(c.sellFeePct),
		Collaterals:           collaterals,
		Batches:               c.batches.All(),
		Orders:                c.orders.All(),
		TokensToBeMinted:      tokens,
		CollateralToBeClaimed: claims,
		SequenceState:         c.seqValidator.Snapshot(),
		IdempotencyKeys:       c.dedup.lru.AllKeys(),
	}
	if ts, ok := c.bonded.(tokenSnapshotter); ok {
		snap.Token = ts.Snapshot()
	}
	if vs, ok := c.vault.(vaultSnapshotter); ok {
		snap.Vault = vs.Snapshot()
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the service loads the latest snapshot and replays events after it.
func (c *MarketCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.metaBatchID = snap.MetaBatchID
	c.beneficiary = snap.Beneficiary
	c.buyFeePct.Set(snap.BuyFeePct)
	c.sellFeePct.Set(snap.SellFeePct)
	c.registry.Restore(snap.Collaterals)
	c.batches.Restore(snap.Batches)
	c.orders.Restore(snap.Orders)
	c.reserves.Restore(snap.TokensToBeMinted, snap.CollateralToBeClaimed)
	c.seqValidator.Restore(snap.SequenceState)
	if snap.Token != nil {
		if ts, ok := c.bonded.(tokenSnapshotter); ok {
			ts.Restore(snap.Token)
		}
	}
	if snap.Vault != nil {
		if vs, ok := c.vault.(vaultSnapshotter); ok {
			vs.Restore(snap.Vault)
		}
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache so fresh
// redeliveries skip the cold DB lookup.
func (c *MarketCore) WarmLRU(keys []string) {
	c.dedup.lru.WarmFromKeys(keys)
}
