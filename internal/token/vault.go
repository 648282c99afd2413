package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the sentinel collateral address for the chain's native asset.
var NativeAsset = common.Address{}

// Vault holds collateral balances per (collateral, holder). The market
// maker's reserve is just another holder address inside the vault.
type Vault interface {
	Deposit(collateral, holder common.Address, amount *big.Int) error
	Transfer(collateral, from, to common.Address, amount *big.Int) error
	BalanceOf(collateral, holder common.Address) *big.Int
}

// MemoryVault is the in-process Vault implementation.
type MemoryVault struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (v *MemoryVault) Transfer(collateral, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer negative amount %s", amount)
	}
	bal := v.balanceRef(collateral, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s exceeds balance %s of %s", amount, bal, from.Hex())
	}
	bal.Sub(bal, amount)
	toBal := v.balanceRef(collateral, to)
	toBal.Add(toBal, amount)
	return nil
}

func (v *MemoryVault) BalanceOf(collateral, holder common.Address) *big.Int {
	return new(big.Int).Set(v.balanceRef(collateral, holder))
}

// Deposit credits a holder. Driven by DepositCollateral commands once the
// upstream settlement system confirms the inbound transfer.
func (v *MemoryVault) Deposit(collateral, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("deposit negative amount %s", amount)
	}
	bal := v.balanceRef(collateral, holder)
	bal.Add(bal, amount)
	return nil
}

// VaultSnapshot carries the full balance ledger of a MemoryVault. An
// externally-backed vault persists its own balances and never produces one.
type VaultSnapshot struct {
	Balances map[common.Address]map[common.Address]*big.Int
}

// Snapshot deep-copies the balance ledger.
func (v *MemoryVault) Snapshot() *VaultSnapshot {
	balances := make(map[common.Address]map[common.Address]*big.Int, len(v.balances))
	for col, holders := range v.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		balances[col] = copied
	}
	return &VaultSnapshot{Balances: balances}
}

// Restore replaces the balance ledger with a deep copy of the snapshot.
func (v *MemoryVault) Restore(snap *VaultSnapshot) {
	v.balances = make(map[common.Address]map[common.Address]*big.Int, len(snap.Balances))
	for col, holders := range snap.Balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		v.balances[col] = copied
	}
}

func (v *MemoryVault) balanceRef(collateral, holder common.Address) *big.Int {
	holders, ok := v.balances[collateral]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		v.balances[collateral] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	return bal
}
