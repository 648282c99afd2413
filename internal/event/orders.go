package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OpenBuyOrder submits collateral against the current batch of a collateral.
type OpenBuyOrder struct {
	RequestID      uuid.UUID
	Buyer          common.Address
	CollateralAddr common.Address
	Amount         *big.Int // collateral, fee-gross
	Sequence       int64
	TimestampUs    int64
}

func (e *OpenBuyOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *OpenBuyOrder) EventType() EventType   { return EventTypeOpenBuyOrder }
func (e *OpenBuyOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *OpenBuyOrder) SourceSequence() int64  { return e.Sequence }
func (e *OpenBuyOrder) OccurredAt() int64      { return e.TimestampUs }

// OpenSellOrder submits bonded tokens against the current batch.
type OpenSellOrder struct {
	RequestID      uuid.UUID
	Seller         common.Address
	CollateralAddr common.Address
	Amount         *big.Int // tokens, fee-gross
	Sequence       int64
	TimestampUs    int64
}

func (e *OpenSellOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *OpenSellOrder) EventType() EventType   { return EventTypeOpenSellOrder }
func (e *OpenSellOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *OpenSellOrder) SourceSequence() int64  { return e.Sequence }
func (e *OpenSellOrder) OccurredAt() int64      { return e.TimestampUs }

// ClaimBuyOrder claims the owner's pro-rata token share of a settled batch.
type ClaimBuyOrder struct {
	RequestID      uuid.UUID
	Owner          common.Address
	CollateralAddr common.Address
	BatchID        int64
	Sequence       int64
	TimestampUs    int64
}

func (e *ClaimBuyOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *ClaimBuyOrder) EventType() EventType   { return EventTypeClaimBuyOrder }
func (e *ClaimBuyOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *ClaimBuyOrder) SourceSequence() int64  { return e.Sequence }
func (e *ClaimBuyOrder) OccurredAt() int64      { return e.TimestampUs }

// ClaimSellOrder claims the owner's pro-rata collateral share of a settled batch.
type ClaimSellOrder struct {
	RequestID      uuid.UUID
	Owner          common.Address
	CollateralAddr common.Address
	BatchID        int64
	Sequence       int64
	TimestampUs    int64
}

func (e *ClaimSellOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *ClaimSellOrder) EventType() EventType   { return EventTypeClaimSellOrder }
func (e *ClaimSellOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *ClaimSellOrder) SourceSequence() int64  { return e.Sequence }
func (e *ClaimSellOrder) OccurredAt() int64      { return e.TimestampUs }

// ClaimCancelledBuyOrder refunds the fee-net collateral of an order caught in
// a cancelled batch.
type ClaimCancelledBuyOrder struct {
	RequestID      uuid.UUID
	Owner          common.Address
	CollateralAddr common.Address
	BatchID        int64
	Sequence       int64
	TimestampUs    int64
}

func (e *ClaimCancelledBuyOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *ClaimCancelledBuyOrder) EventType() EventType   { return EventTypeClaimCancelledBuyOrder }
func (e *ClaimCancelledBuyOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *ClaimCancelledBuyOrder) SourceSequence() int64  { return e.Sequence }
func (e *ClaimCancelledBuyOrder) OccurredAt() int64      { return e.TimestampUs }

// ClaimCancelledSellOrder re-mints the fee-net tokens of an order caught in a
// cancelled batch.
type ClaimCancelledSellOrder struct {
	RequestID      uuid.UUID
	Owner          common.Address
	CollateralAddr common.Address
	BatchID        int64
	Sequence       int64
	TimestampUs    int64
}

func (e *ClaimCancelledSellOrder) IdempotencyKey() string { return e.RequestID.String() }
func (e *ClaimCancelledSellOrder) EventType() EventType   { return EventTypeClaimCancelledSellOrder }
func (e *ClaimCancelledSellOrder) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *ClaimCancelledSellOrder) SourceSequence() int64  { return e.Sequence }
func (e *ClaimCancelledSellOrder) OccurredAt() int64      { return e.TimestampUs }

func hexPtr(addr common.Address) *string {
	s := addr.Hex()
	return &s
}
