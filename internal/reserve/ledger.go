package reserve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger tracks the amounts promised but not yet claimed: tokens owed to
// settled buy orders (global, the bonded token is one pool) and collateral
// owed to settled sell orders (per collateral). These pending amounts are
// excluded from every batch's curve snapshot so the same value can never back
// two batches.
//
// Underflow on any debit is a fatal invariant violation: the order ledger's
// at-most-one-claim discipline makes it unreachable, so the ledger panics
// rather than wrapping.
//
// Not thread-safe — only accessed from the single-threaded core.
type Ledger struct {
	tokensToBeMinted      *big.Int
	collateralToBeClaimed map[common.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		tokensToBeMinted:      new(big.Int),
		collateralToBeClaimed: make(map[common.Address]*big.Int),
	}
}

// CreditMint records tokens owed to buy-side claimants.
func (l *Ledger) CreditMint(amount *big.Int) {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: credit mint with negative amount %s", amount))
	}
	l.tokensToBeMinted.Add(l.tokensToBeMinted, amount)
}

// DebitMint releases tokens on a buy-side claim.
func (l *Ledger) DebitMint(amount *big.Int) {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: debit mint with negative amount %s", amount))
	}
	if l.tokensToBeMinted.Cmp(amount) < 0 {
		panic(fmt.Sprintf("FATAL: tokens to be minted underflow: have %s, debit %s", l.tokensToBeMinted, amount))
	}
	l.tokensToBeMinted.Sub(l.tokensToBeMinted, amount)
}

// CreditClaim records collateral owed to sell-side claimants.
func (l *Ledger) CreditClaim(collateral common.Address, amount *big.Int) {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: credit claim with negative amount %s", amount))
	}
	ref := l.claimRef(collateral)
	ref.Add(ref, amount)
}

// DebitClaim releases collateral on a sell-side claim.
func (l *Ledger) DebitClaim(collateral common.Address, amount *big.Int) {
	if amount.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: debit claim with negative amount %s", amount))
	}
	ref := l.claimRef(collateral)
	if ref.Cmp(amount) < 0 {
		panic(fmt.Sprintf("FATAL: collateral to be claimed underflow for %s: have %s, debit %s", collateral.Hex(), ref, amount))
	}
	ref.Sub(ref, amount)
}

// TokensToBeMinted returns the unclaimed buy-side token total.
func (l *Ledger) TokensToBeMinted() *big.Int {
	return new(big.Int).Set(l.tokensToBeMinted)
}

// CollateralToBeClaimed returns the unclaimed sell-side total for a collateral.
func (l *Ledger) CollateralToBeClaimed(collateral common.Address) *big.Int {
	return new(big.Int).Set(l.claimRef(collateral))
}

// Snapshot returns a copy of the full pending-claim state for persistence.
func (l *Ledger) Snapshot() (tokensToBeMinted *big.Int, collateralToBeClaimed map[common.Address]*big.Int) {
	claims := make(map[common.Address]*big.Int, len(l.collateralToBeClaimed))
	for addr, v := range l.collateralToBeClaimed {
		claims[addr] = new(big.Int).Set(v)
	}
	return new(big.Int).Set(l.tokensToBeMinted), claims
}

// Restore replaces the ledger state from a snapshot.
func (l *Ledger) Restore(tokensToBeMinted *big.Int, collateralToBeClaimed map[common.Address]*big.Int) {
	l.tokensToBeMinted.Set(tokensToBeMinted)
	l.collateralToBeClaimed = make(map[common.Address]*big.Int, len(collateralToBeClaimed))
	for addr, v := range collateralToBeClaimed {
		l.collateralToBeClaimed[addr] = new(big.Int).Set(v)
	}
}

func (l *Ledger) claimRef(collateral common.Address) *big.Int {
	ref, ok := l.collateralToBeClaimed[collateral]
	if !ok {
		ref = new(big.Int)
		l.collateralToBeClaimed[collateral] = ref
	}
	return ref
}
