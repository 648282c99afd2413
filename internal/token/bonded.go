package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BondedToken is the mintable/burnable token the market maker trades against
// the curve. The engine only needs supply and holder bookkeeping; on-chain
// deployments satisfy this with a token-manager adapter.
type BondedToken interface {
	Mint(to common.Address, amount *big.Int) error
	Burn(from common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) error
	TotalSupply() *big.Int
	BalanceOf(owner common.Address) *big.Int
}

// MemoryToken is the in-process BondedToken implementation used by the
// service and by tests.
type MemoryToken struct {
	supply   *big.Int
	balances map[common.Address]*big.Int
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		supply:   new(big.Int),
		balances: make(map[common.Address]*big.Int),
	}
}

func (t *MemoryToken) Mint(to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("mint negative amount %s", amount)
	}
	t.supply.Add(t.supply, amount)
	t.credit(to, amount)
	return nil
}

func (t *MemoryToken) Burn(from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("burn negative amount %s", amount)
	}
	bal := t.balanceRef(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("burn %s exceeds balance %s of %s", amount, bal, from.Hex())
	}
	bal.Sub(bal, amount)
	t.supply.Sub(t.supply, amount)
	return nil
}

func (t *MemoryToken) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer negative amount %s", amount)
	}
	bal := t.balanceRef(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s exceeds balance %s of %s", amount, bal, from.Hex())
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *MemoryToken) TotalSupply() *big.Int {
	return new(big.Int).Set(t.supply)
}

func (t *MemoryToken) BalanceOf(owner common.Address) *big.Int {
	return new(big.Int).Set(t.balanceRef(owner))
}

// TokenSnapshot carries the full supply and balance ledger of a MemoryToken.
type TokenSnapshot struct {
	Supply   *big.Int
	Balances map[common.Address]*big.Int
}

// Snapshot deep-copies the supply and balance ledger.
func (t *MemoryToken) Snapshot() *TokenSnapshot {
	balances := make(map[common.Address]*big.Int, len(t.balances))
	for owner, bal := range t.balances {
		balances[owner] = new(big.Int).Set(bal)
	}
	return &TokenSnapshot{
		Supply:   new(big.Int).Set(t.supply),
		Balances: balances,
	}
}

// Restore replaces the supply and balance ledger with a deep copy of the
// snapshot.
func (t *MemoryToken) Restore(snap *TokenSnapshot) {
	t.supply = new(big.Int).Set(snap.Supply)
	t.balances = make(map[common.Address]*big.Int, len(snap.Balances))
	for owner, bal := range snap.Balances {
		t.balances[owner] = new(big.Int).Set(bal)
	}
}

func (t *MemoryToken) credit(owner common.Address, amount *big.Int) {
	t.balanceRef(owner).Add(t.balanceRef(owner), amount)
}

func (t *MemoryToken) balanceRef(owner common.Address) *big.Int {
	bal, ok := t.balances[owner]
	if !ok {
		bal = new(big.Int)
		t.balances[owner] = bal
	}
	return bal
}
