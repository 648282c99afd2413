package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// AddCollateralToken whitelists a collateral with its curve parameters.
type AddCollateralToken struct {
	RequestID       uuid.UUID
	CollateralAddr  common.Address
	VirtualSupply   *big.Int
	VirtualBalance  *big.Int
	ReserveRatioPPM uint32
	MaxSlippagePPM  uint32
	Sequence        int64
	TimestampUs     int64
}

func (e *AddCollateralToken) IdempotencyKey() string { return e.RequestID.String() }
func (e *AddCollateralToken) EventType() EventType   { return EventTypeAddCollateralToken }
func (e *AddCollateralToken) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *AddCollateralToken) SourceSequence() int64  { return e.Sequence }
func (e *AddCollateralToken) OccurredAt() int64      { return e.TimestampUs }

// RemoveCollateralToken delists a collateral and cancels its live batch.
type RemoveCollateralToken struct {
	RequestID      uuid.UUID
	CollateralAddr common.Address
	Sequence       int64
	TimestampUs    int64
}

func (e *RemoveCollateralToken) IdempotencyKey() string { return e.RequestID.String() }
func (e *RemoveCollateralToken) EventType() EventType   { return EventTypeRemoveCollateralToken }
func (e *RemoveCollateralToken) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *RemoveCollateralToken) SourceSequence() int64  { return e.Sequence }
func (e *RemoveCollateralToken) OccurredAt() int64      { return e.TimestampUs }

// UpdateCollateralToken replaces a whitelisted collateral's curve parameters.
// Already-created batches keep their snapshotted parameters.
type UpdateCollateralToken struct {
	RequestID       uuid.UUID
	CollateralAddr  common.Address
	VirtualSupply   *big.Int
	VirtualBalance  *big.Int
	ReserveRatioPPM uint32
	MaxSlippagePPM  uint32
	Sequence        int64
	TimestampUs     int64
}

func (e *UpdateCollateralToken) IdempotencyKey() string { return e.RequestID.String() }
func (e *UpdateCollateralToken) EventType() EventType   { return EventTypeUpdateCollateralToken }
func (e *UpdateCollateralToken) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *UpdateCollateralToken) SourceSequence() int64  { return e.Sequence }
func (e *UpdateCollateralToken) OccurredAt() int64      { return e.TimestampUs }

// UpdateFees replaces the buy/sell fee percentages (fixed-point over PCT_BASE).
type UpdateFees struct {
	RequestID   uuid.UUID
	BuyFeePct   *big.Int
	SellFeePct  *big.Int
	Sequence    int64
	TimestampUs int64
}

func (e *UpdateFees) IdempotencyKey() string { return e.RequestID.String() }
func (e *UpdateFees) EventType() EventType   { return EventTypeUpdateFees }
func (e *UpdateFees) Collateral() *string    { return nil }
func (e *UpdateFees) SourceSequence() int64  { return e.Sequence }
func (e *UpdateFees) OccurredAt() int64      { return e.TimestampUs }

// UpdateBeneficiary replaces the fee beneficiary address.
type UpdateBeneficiary struct {
	RequestID   uuid.UUID
	Beneficiary common.Address
	Sequence    int64
	TimestampUs int64
}

func (e *UpdateBeneficiary) IdempotencyKey() string { return e.RequestID.String() }
func (e *UpdateBeneficiary) EventType() EventType   { return EventTypeUpdateBeneficiary }
func (e *UpdateBeneficiary) Collateral() *string    { return nil }
func (e *UpdateBeneficiary) SourceSequence() int64  { return e.Sequence }
func (e *UpdateBeneficiary) OccurredAt() int64      { return e.TimestampUs }
