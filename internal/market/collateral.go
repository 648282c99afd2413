package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"CurveMarket/internal/curve"
	"CurveMarket/internal/token"
)

// CollateralToken holds the curve parameters for one whitelisted collateral.
// Virtual supply/balance are curve offsets not backed by real custody; they
// set the opening price without requiring seeded reserves.
type CollateralToken struct {
	Address         common.Address
	Whitelisted     bool
	VirtualSupply   *big.Int
	VirtualBalance  *big.Int
	ReserveRatioPPM uint32
	MaxSlippagePPM  uint32
}

// CollateralRegistry manages the whitelisted collateral set.
// Not thread-safe — only accessed from the single-threaded core.
type CollateralRegistry struct {
	collaterals map[common.Address]*CollateralToken
	checker     token.ContractChecker
}

func NewCollateralRegistry(checker token.ContractChecker) *CollateralRegistry {
	return &CollateralRegistry{
		collaterals: make(map[common.Address]*CollateralToken),
		checker:     checker,
	}
}

// Add whitelists a collateral with its curve parameters.
func (r *CollateralRegistry) Add(addr common.Address, virtualSupply, virtualBalance *big.Int, reserveRatioPPM, maxSlippagePPM uint32) (*CollateralToken, error) {
	if existing, ok := r.collaterals[addr]; ok && existing.Whitelisted {
		return nil, fmt.Errorf("add collateral %s: %w", addr.Hex(), ErrAlreadyWhitelisted)
	}
	if reserveRatioPPM == 0 || reserveRatioPPM > curve.PPM {
		return nil, fmt.Errorf("add collateral %s: ratio %d: %w", addr.Hex(), reserveRatioPPM, ErrInvalidReserveRatio)
	}
	if addr != token.NativeAsset && !r.checker.IsContract(addr) {
		return nil, fmt.Errorf("add collateral %s: %w", addr.Hex(), ErrNotAContract)
	}

	c := &CollateralToken{
		Address:         addr,
		Whitelisted:     true,
		VirtualSupply:   new(big.Int).Set(virtualSupply),
		VirtualBalance:  new(big.Int).Set(virtualBalance),
		ReserveRatioPPM: reserveRatioPPM,
		MaxSlippagePPM:  maxSlippagePPM,
	}
	r.collaterals[addr] = c
	return c, nil
}

// Remove delists a collateral. The record is kept (claims against historical
// batches still need its parameters); only the whitelist flag flips. The
// caller cancels the collateral's open batch.
func (r *CollateralRegistry) Remove(addr common.Address) (*CollateralToken, error) {
	c, ok := r.collaterals[addr]
	if !ok || !c.Whitelisted {
		return nil, fmt.Errorf("remove collateral %s: %w", addr.Hex(), ErrNotWhitelisted)
	}
	c.Whitelisted = false
	return c, nil
}

// Update replaces the curve parameters of a whitelisted collateral. Batches
// already created keep the parameters they snapshotted.
func (r *CollateralRegistry) Update(addr common.Address, virtualSupply, virtualBalance *big.Int, reserveRatioPPM, maxSlippagePPM uint32) (*CollateralToken, error) {
	c, ok := r.collaterals[addr]
	if !ok || !c.Whitelisted {
		return nil, fmt.Errorf("update collateral %s: %w", addr.Hex(), ErrNotWhitelisted)
	}
	if reserveRatioPPM == 0 || reserveRatioPPM > curve.PPM {
		return nil, fmt.Errorf("update collateral %s: ratio %d: %w", addr.Hex(), reserveRatioPPM, ErrInvalidReserveRatio)
	}

	c.VirtualSupply = new(big.Int).Set(virtualSupply)
	c.VirtualBalance = new(big.Int).Set(virtualBalance)
	c.ReserveRatioPPM = reserveRatioPPM
	c.MaxSlippagePPM = maxSlippagePPM
	return c, nil
}

// Get returns the collateral record whether or not it is still whitelisted.
func (r *CollateralRegistry) Get(addr common.Address) (*CollateralToken, bool) {
	c, ok := r.collaterals[addr]
	return c, ok
}

// Whitelisted returns the collateral only if it is currently whitelisted.
func (r *CollateralRegistry) Whitelisted(addr common.Address) (*CollateralToken, error) {
	c, ok := r.collaterals[addr]
	if !ok || !c.Whitelisted {
		return nil, fmt.Errorf("collateral %s: %w", addr.Hex(), ErrNotWhitelisted)
	}
	return c, nil
}

// All returns every known collateral record, delisted ones included.
func (r *CollateralRegistry) All() []*CollateralToken {
	out := make([]*CollateralToken, 0, len(r.collaterals))
	for _, c := range r.collaterals {
		out = append(out, c)
	}
	return out
}

// Restore replaces the registry's contents from a snapshot.
func (r *CollateralRegistry) Restore(collaterals []*CollateralToken) {
	r.collaterals = make(map[common.Address]*CollateralToken, len(collaterals))
	for _, c := range collaterals {
		r.collaterals[c.Address] = c
	}
}
