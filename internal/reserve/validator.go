package reserve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"CurveMarket/internal/token"
)

// InvariantValidator checks reserve invariants after mutating operations.
type InvariantValidator struct {
	ledger  *Ledger
	vault   token.Vault
	bonded  token.BondedToken
	custody common.Address
}

func NewInvariantValidator(ledger *Ledger, vault token.Vault, bonded token.BondedToken, custody common.Address) *InvariantValidator {
	return &InvariantValidator{
		ledger:  ledger,
		vault:   vault,
		bonded:  bonded,
		custody: custody,
	}
}

// ValidateClaimsBacked verifies collateralToBeClaimed <= custodial balance
// for a collateral: every promised sell-side payout must be sitting in the
// reserve.
func (v *InvariantValidator) ValidateClaimsBacked(collateral common.Address) error {
	promised := v.ledger.CollateralToBeClaimed(collateral)
	held := v.vault.BalanceOf(collateral, v.custody)
	if promised.Cmp(held) > 0 {
		return fmt.Errorf("collateral %s: promised claims %s exceed custody %s", collateral.Hex(), promised, held)
	}
	return nil
}

// ValidateMintNonNegative verifies the pending-mint pool never went negative.
// The ledger itself panics on underflow; this is the cheap post-check used
// after every settlement and claim.
func (v *InvariantValidator) ValidateMintNonNegative() error {
	if v.ledger.TokensToBeMinted().Sign() < 0 {
		return fmt.Errorf("tokens to be minted is negative: %s", v.ledger.TokensToBeMinted())
	}
	return nil
}

// RealSupply returns the economically circulating claim on the curve:
// actual token supply plus tokens promised to unclaimed buy orders.
func (v *InvariantValidator) RealSupply() *big.Int {
	return new(big.Int).Add(v.bonded.TotalSupply(), v.ledger.TokensToBeMinted())
}

// RealBalance returns the custody balance net of promised sell payouts.
func (v *InvariantValidator) RealBalance(collateral common.Address) *big.Int {
	held := v.vault.BalanceOf(collateral, v.custody)
	return held.Sub(held, v.ledger.CollateralToBeClaimed(collateral))
}
