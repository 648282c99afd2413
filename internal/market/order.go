package market

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Side discriminates buy (collateral in, tokens out) from sell (tokens in,
// collateral out).
type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// OrderKey identifies the single aggregate order an owner may hold per
// (batch, collateral, side). Repeat opens accumulate into the same entry.
type OrderKey struct {
	Owner      common.Address
	Collateral common.Address
	BatchID    int64
	Side       Side
}

// Order is an owner's aggregate pending amount in one batch. Amount is
// fee-net collateral for buys, fee-net tokens for sells. Claiming flips the
// flag; the entry is never deleted.
type Order struct {
	Owner      common.Address
	Collateral common.Address
	BatchID    int64
	Side       Side
	Amount     *big.Int
	Claimed    bool
}

// OrderLedger tracks pending orders and enforces at-most-one-claim.
// Not thread-safe — only accessed from the single-threaded core.
type OrderLedger struct {
	orders map[OrderKey]*Order
}

func NewOrderLedger() *OrderLedger {
	return &OrderLedger{
		orders: make(map[OrderKey]*Order),
	}
}

// Merge adds amount to the owner's aggregate order for the batch, creating
// the entry on first touch. Returns the aggregate and whether it was created.
func (l *OrderLedger) Merge(owner, collateral common.Address, batchID int64, side Side, amount *big.Int) (*Order, bool) {
	key := OrderKey{Owner: owner, Collateral: collateral, BatchID: batchID, Side: side}
	if o, ok := l.orders[key]; ok {
		o.Amount.Add(o.Amount, amount)
		return o, false
	}
	o := &Order{
		Owner:      owner,
		Collateral: collateral,
		BatchID:    batchID,
		Side:       side,
		Amount:     new(big.Int).Set(amount),
	}
	l.orders[key] = o
	return o, true
}

// Pending returns the owner's unclaimed order, ErrNoOrder if absent or
// zero-amount, ErrAlreadyClaimed if the claim flag is already set.
func (l *OrderLedger) Pending(owner, collateral common.Address, batchID int64, side Side) (*Order, error) {
	key := OrderKey{Owner: owner, Collateral: collateral, BatchID: batchID, Side: side}
	o, ok := l.orders[key]
	if !ok || o.Amount.Sign() == 0 {
		return nil, fmt.Errorf("%s order for %s in batch %d: %w", side, owner.Hex(), batchID, ErrNoOrder)
	}
	if o.Claimed {
		return nil, fmt.Errorf("%s order for %s in batch %d: %w", side, owner.Hex(), batchID, ErrAlreadyClaimed)
	}
	return o, nil
}

// All returns every order entry in deterministic (owner, collateral, batch,
// side) order. Used for snapshots.
func (l *OrderLedger) All() []*Order {
	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Owner != b.Owner {
			return a.Owner.Hex() < b.Owner.Hex()
		}
		if a.Collateral != b.Collateral {
			return a.Collateral.Hex() < b.Collateral.Hex()
		}
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		return a.Side < b.Side
	})
	return out
}

// Restore replaces the ledger's contents from a snapshot.
func (l *OrderLedger) Restore(orders []*Order) {
	l.orders = make(map[OrderKey]*Order, len(orders))
	for _, o := range orders {
		l.orders[OrderKey{Owner: o.Owner, Collateral: o.Collateral, BatchID: o.BatchID, Side: o.Side}] = o
	}
}

// Get returns the order entry if it exists, claimed or not.
func (l *OrderLedger) Get(owner, collateral common.Address, batchID int64, side Side) (*Order, bool) {
	o, ok := l.orders[OrderKey{Owner: owner, Collateral: collateral, BatchID: batchID, Side: side}]
	return o, ok
}
