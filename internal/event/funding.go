package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// DepositCollateral credits a holder's vault balance. This is how buyers are
// funded: an upstream settlement system confirms the inbound transfer and
// emits the deposit into the command stream.
type DepositCollateral struct {
	RequestID      uuid.UUID
	Depositor      common.Address
	CollateralAddr common.Address
	Amount         *big.Int
	Sequence       int64
	TimestampUs    int64
}

func (e *DepositCollateral) IdempotencyKey() string { return e.RequestID.String() }
func (e *DepositCollateral) EventType() EventType   { return EventTypeDepositCollateral }
func (e *DepositCollateral) Collateral() *string    { return hexPtr(e.CollateralAddr) }
func (e *DepositCollateral) SourceSequence() int64  { return e.Sequence }
func (e *DepositCollateral) OccurredAt() int64      { return e.TimestampUs }
