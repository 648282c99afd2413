package market

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BatchState tracks the batch lifecycle:
// Open -> Settled (terminal) or Open -> Cancelled (terminal).
type BatchState int32

const (
	BatchStateOpen BatchState = iota
	BatchStateSettled
	BatchStateCancelled
)

func (s BatchState) String() string {
	switch s {
	case BatchStateOpen:
		return "Open"
	case BatchStateSettled:
		return "Settled"
	case BatchStateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Batch pools all orders for one collateral inside one fixed time window.
// Supply and Balance are the curve state snapshotted at creation (virtual
// offsets plus real minted/custodied amounts net of pending claims); the
// reserve ratio and slippage bound are copied so later parameter updates
// cannot retroactively change an in-flight batch.
type Batch struct {
	ID          int64
	Collateral  common.Address
	MetaBatchID int64
	WindowStart int64 // epoch micros, inclusive
	WindowEnd   int64 // epoch micros, exclusive
	State       BatchState

	Supply          *big.Int
	Balance         *big.Int
	ReserveRatioPPM uint32
	MaxSlippagePPM  uint32

	TotalBuySpend   *big.Int
	TotalBuyReturn  *big.Int
	TotalSellSpend  *big.Int
	TotalSellReturn *big.Int
}

// Contains reports whether now falls inside the batch window.
func (b *Batch) Contains(now int64) bool {
	return now >= b.WindowStart && now < b.WindowEnd
}

// Closed reports whether the batch window has elapsed.
func (b *Batch) Closed(now int64) bool {
	return now >= b.WindowEnd
}

func (b *Batch) Cancelled() bool {
	return b.State == BatchStateCancelled
}

func (b *Batch) Settled() bool {
	return b.State == BatchStateSettled
}

// BatchStore holds the live and historical batches per collateral. Batch ids
// are per-collateral and strictly increasing; windows are deterministic
// functions of the versioned event timestamp, never of arrival order.
// Not thread-safe — only accessed from the single-threaded core.
type BatchStore struct {
	duration int64 // window length, epoch micros
	batches  map[common.Address]map[int64]*Batch
	current  map[common.Address]*Batch
	lastID   map[common.Address]int64
}

func NewBatchStore(duration int64) *BatchStore {
	if duration <= 0 {
		panic(fmt.Sprintf("batch duration must be positive, got %d", duration))
	}
	return &BatchStore{
		duration: duration,
		batches:  make(map[common.Address]map[int64]*Batch),
		current:  make(map[common.Address]*Batch),
		lastID:   make(map[common.Address]int64),
	}
}

// Duration returns the configured window length in epoch micros.
func (s *BatchStore) Duration() int64 {
	return s.duration
}

// WindowStart returns the deterministic window boundary containing now.
func (s *BatchStore) WindowStart(now int64) int64 {
	return now - now%s.duration
}

// Live returns the collateral's current batch if its window has not elapsed
// and it has not been cancelled or settled. Timestamps below WindowStart do
// not end the batch: per-partition event timestamps are expected to be
// non-decreasing, and a regressed one must not settle the window early or
// reopen an earlier window.
func (s *BatchStore) Live(collateral common.Address, now int64) (*Batch, bool) {
	b, ok := s.current[collateral]
	if !ok || b.State != BatchStateOpen || b.Closed(now) {
		return nil, false
	}
	return b, true
}

// Previous returns the collateral's most recent batch regardless of window,
// or nil if none exists. Used to settle the outgoing batch before a new one
// snapshots the curve state.
func (s *BatchStore) Previous(collateral common.Address) *Batch {
	return s.current[collateral]
}

// Create opens a new batch for the collateral with the supplied curve
// snapshot. The caller must have settled the previous batch first so the
// snapshot reflects post-settlement state.
func (s *BatchStore) Create(collateral common.Address, now, metaBatchID int64, supply, balance *big.Int, reserveRatioPPM, maxSlippagePPM uint32) *Batch {
	if live, ok := s.Live(collateral, now); ok {
		panic(fmt.Sprintf("batch %d for %s still live at %d", live.ID, collateral.Hex(), now))
	}

	id := s.lastID[collateral] + 1
	s.lastID[collateral] = id

	windowStart := s.WindowStart(now)
	b := &Batch{
		ID:              id,
		Collateral:      collateral,
		MetaBatchID:     metaBatchID,
		WindowStart:     windowStart,
		WindowEnd:       windowStart + s.duration,
		State:           BatchStateOpen,
		Supply:          new(big.Int).Set(supply),
		Balance:         new(big.Int).Set(balance),
		ReserveRatioPPM: reserveRatioPPM,
		MaxSlippagePPM:  maxSlippagePPM,
		TotalBuySpend:   new(big.Int),
		TotalBuyReturn:  new(big.Int),
		TotalSellSpend:  new(big.Int),
		TotalSellReturn: new(big.Int),
	}

	byID, ok := s.batches[collateral]
	if !ok {
		byID = make(map[int64]*Batch)
		s.batches[collateral] = byID
	}
	byID[id] = b
	s.current[collateral] = b
	return b
}

// Get returns a batch by (collateral, id).
func (s *BatchStore) Get(collateral common.Address, id int64) (*Batch, bool) {
	byID, ok := s.batches[collateral]
	if !ok {
		return nil, false
	}
	b, ok := byID[id]
	return b, ok
}

// All returns every batch across all collaterals, ordered by collateral
// address then id. Used for snapshots.
func (s *BatchStore) All() []*Batch {
	out := make([]*Batch, 0)
	for _, byID := range s.batches {
		for _, b := range byID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Collateral != out[j].Collateral {
			return out[i].Collateral.Hex() < out[j].Collateral.Hex()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore replaces the store's contents from a snapshot. The highest-id
// batch per collateral becomes the current one.
func (s *BatchStore) Restore(batches []*Batch) {
	s.batches = make(map[common.Address]map[int64]*Batch)
	s.current = make(map[common.Address]*Batch)
	s.lastID = make(map[common.Address]int64)
	for _, b := range batches {
		byID, ok := s.batches[b.Collateral]
		if !ok {
			byID = make(map[int64]*Batch)
			s.batches[b.Collateral] = byID
		}
		byID[b.ID] = b
		if b.ID > s.lastID[b.Collateral] {
			s.lastID[b.Collateral] = b.ID
			s.current[b.Collateral] = b
		}
	}
}

// CancelLive marks the collateral's live batch cancelled and returns it.
// Returns nil when no batch is live at now: an already-closed batch proceeds
// to normal settlement instead (its parameters were snapshotted before the
// removal that triggered the cancel).
func (s *BatchStore) CancelLive(collateral common.Address, now int64) *Batch {
	b, ok := s.Live(collateral, now)
	if !ok {
		return nil
	}
	b.State = BatchStateCancelled
	return b
}
