package market

import "errors"

// Operation failure taxonomy. All are local, synchronous validation or state
// failures — none are transient, so there is no retry policy anywhere in the
// core. Callers distinguish them with errors.Is.
var (
	ErrNotWhitelisted        = errors.New("collateral not whitelisted")
	ErrAlreadyWhitelisted    = errors.New("collateral already whitelisted")
	ErrInvalidReserveRatio   = errors.New("reserve ratio outside (0, PPM]")
	ErrNotAContract          = errors.New("collateral is not a contract")
	ErrZeroAmount            = errors.New("zero amount")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrExcessValueSent       = errors.New("excess value sent")
	ErrSlippageExceeded      = errors.New("maximum slippage exceeded")
	ErrBatchNotClosed        = errors.New("batch window still open")
	ErrBatchCancelled        = errors.New("batch is cancelled")
	ErrBatchNotCancelled     = errors.New("batch is not cancelled")
	ErrNoOrder               = errors.New("no such order")
	ErrAlreadyClaimed        = errors.New("order already claimed")
	ErrInsufficientPoolFunds = errors.New("insufficient pool funds")
	ErrInvalidPercentage     = errors.New("fee percentage above PCT_BASE")
	ErrInvalidBeneficiary    = errors.New("invalid beneficiary address")
)
