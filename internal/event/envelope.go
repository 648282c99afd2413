package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Command events consumed by the core
	EventTypeOpenBuyOrder
	EventTypeOpenSellOrder
	EventTypeClaimBuyOrder
	EventTypeClaimSellOrder
	EventTypeClaimCancelledBuyOrder
	EventTypeClaimCancelledSellOrder
	EventTypeAddCollateralToken
	EventTypeRemoveCollateralToken
	EventTypeUpdateCollateralToken
	EventTypeUpdateFees
	EventTypeUpdateBeneficiary
	EventTypeDepositCollateral

	// Derived events emitted by the core
	EventTypeNewBatch
	EventTypeNewMetaBatch
	EventTypeUpdatePricing
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Collateral context as a hex address (nullable for global events)
	Collateral *string

	// Versioned input timestamp, epoch micros (NOT wall-clock)
	TimestampUs int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Collateral returns the collateral context as a hex address
	// (nil for global events)
	Collateral() *string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp in epoch micros.
	// The core never reads wall-clock time; batch windows are derived
	// from this value.
	OccurredAt() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeOpenBuyOrder:
		return "OpenBuyOrder"
	case EventTypeOpenSellOrder:
		return "OpenSellOrder"
	case EventTypeClaimBuyOrder:
		return "ClaimBuyOrder"
	case EventTypeClaimSellOrder:
		return "ClaimSellOrder"
	case EventTypeClaimCancelledBuyOrder:
		return "ClaimCancelledBuyOrder"
	case EventTypeClaimCancelledSellOrder:
		return "ClaimCancelledSellOrder"
	case EventTypeAddCollateralToken:
		return "AddCollateralToken"
	case EventTypeRemoveCollateralToken:
		return "RemoveCollateralToken"
	case EventTypeUpdateCollateralToken:
		return "UpdateCollateralToken"
	case EventTypeUpdateFees:
		return "UpdateFees"
	case EventTypeUpdateBeneficiary:
		return "UpdateBeneficiary"
	case EventTypeDepositCollateral:
		return "DepositCollateral"
	case EventTypeNewBatch:
		return "NewBatch"
	case EventTypeNewMetaBatch:
		return "NewMetaBatch"
	case EventTypeUpdatePricing:
		return "UpdatePricing"
	default:
		return "Unknown"
	}
}
