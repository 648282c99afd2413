package core_test

import (
	"CurveMarket/internal/core"
	"errors"
	"testing"
)

// ============================================================================
// Test: SequenceValidator
// ============================================================================

func TestSequenceValidator_FirstSequenceAccepted(t *testing.T) {
	sv := core.NewSequenceValidator()

	if got := sv.Validate("collateral:0xabc", 42); got != core.SequenceOK {
		t.Errorf("first sequence: got %s, want OK", got)
	}
}

func TestSequenceValidator_ConsecutiveOK(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("p", 1)

	if got := sv.Validate("p", 2); got != core.SequenceOK {
		t.Errorf("consecutive: got %s, want OK", got)
	}
}

func TestSequenceValidator_DuplicateDetected(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("p", 5)

	if got := sv.Validate("p", 5); got != core.SequenceDuplicate {
		t.Errorf("duplicate: got %s, want DUPLICATE", got)
	}
}

func TestSequenceValidator_OutOfOrderDetected(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("p", 5)

	if got := sv.Validate("p", 3); got != core.SequenceOutOfOrder {
		t.Errorf("out of order: got %s, want OUT_OF_ORDER", got)
	}
	if sv.OutOfOrder() != 1 {
		t.Errorf("out-of-order count: got %d, want 1", sv.OutOfOrder())
	}
}

func TestSequenceValidator_GapAdvancesWatermark(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("p", 1)

	if got := sv.Validate("p", 10); got != core.SequenceGap {
		t.Errorf("gap: got %s, want GAP", got)
	}
	if sv.Gaps() != 1 {
		t.Errorf("gap count: got %d, want 1", sv.Gaps())
	}
	// Watermark moved past the gap
	if got := sv.Validate("p", 11); got != core.SequenceOK {
		t.Errorf("after gap: got %s, want OK", got)
	}
}

func TestSequenceValidator_ZeroSkipsCheck(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("p", 5)

	if got := sv.Validate("p", 0); got != core.SequenceOK {
		t.Errorf("zero sequence: got %s, want OK", got)
	}
}

func TestSequenceValidator_PartitionsIndependent(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("a", 5)

	if got := sv.Validate("b", 1); got != core.SequenceOK {
		t.Errorf("partition b first sequence: got %s, want OK", got)
	}
}

func TestSequenceValidator_SnapshotRestore(t *testing.T) {
	sv := core.NewSequenceValidator()
	sv.Validate("a", 5)
	sv.Validate("b", 9)

	restored := core.NewSequenceValidator()
	restored.Restore(sv.Snapshot())

	if got := restored.Validate("a", 5); got != core.SequenceDuplicate {
		t.Errorf("restored watermark: got %s, want DUPLICATE", got)
	}
	if got := restored.Validate("b", 10); got != core.SequenceOK {
		t.Errorf("restored watermark b: got %s, want OK", got)
	}
}

// ============================================================================
// Test: DedupLRU / DedupChecker
// ============================================================================

func TestDedupLRU_AddContains(t *testing.T) {
	lru := core.NewDedupLRU(10)

	lru.Add("k1")
	if !lru.Contains("k1") {
		t.Error("added key should be present")
	}
	if lru.Contains("k2") {
		t.Error("unknown key should be absent")
	}
}

func TestDedupLRU_EvictsOldest(t *testing.T) {
	lru := core.NewDedupLRU(2)

	lru.Add("a")
	lru.Add("b")
	lru.Add("c") // evicts a

	if lru.Contains("a") {
		t.Error("oldest key should have been evicted")
	}
	if !lru.Contains("b") || !lru.Contains("c") {
		t.Error("recent keys should survive eviction")
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions: got %d, want 1", lru.Evictions())
	}
}

func TestDedupLRU_ContainsRefreshesRecency(t *testing.T) {
	lru := core.NewDedupLRU(2)

	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // a is now most recent
	lru.Add("c")      // evicts b

	if !lru.Contains("a") {
		t.Error("refreshed key should survive eviction")
	}
	if lru.Contains("b") {
		t.Error("least recently used key should have been evicted")
	}
}

func TestDedupLRU_WarmFromKeys(t *testing.T) {
	lru := core.NewDedupLRU(10)
	lru.WarmFromKeys([]string{"x", "y"})

	if !lru.Contains("x") || !lru.Contains("y") {
		t.Error("warmed keys should be present")
	}
	if lru.Size() != 2 {
		t.Errorf("size: got %d, want 2", lru.Size())
	}
}

type stubDBChecker struct {
	dup bool
	err error
}

func (s *stubDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	return s.dup, s.err
}

func TestDedupChecker_DBHitCachedInLRU(t *testing.T) {
	db := &stubDBChecker{dup: true}
	dc := core.NewDedupChecker(10, db)

	if !dc.IsDuplicate("OpenBuyOrder", "k") {
		t.Fatal("DB duplicate should be reported")
	}

	// Second lookup hits the LRU even if the DB stops answering
	db.dup = false
	db.err = errors.New("db down")
	if !dc.IsDuplicate("OpenBuyOrder", "k") {
		t.Error("duplicate should be served from the LRU cache")
	}
}

func TestDedupChecker_DBErrorAssumesNotDuplicate(t *testing.T) {
	dc := core.NewDedupChecker(10, &stubDBChecker{err: errors.New("timeout")})

	if dc.IsDuplicate("OpenBuyOrder", "k") {
		t.Error("DB error must not block processing")
	}
}

func TestDedupChecker_KeyScopedByEventType(t *testing.T) {
	dc := core.NewDedupChecker(10, nil)

	dc.MarkProcessed("OpenBuyOrder", "k")
	if !dc.IsDuplicate("OpenBuyOrder", "k") {
		t.Error("marked key should be a duplicate")
	}
	if dc.IsDuplicate("OpenSellOrder", "k") {
		t.Error("same key under another event type is not a duplicate")
	}
}

// ============================================================================
// Test: StateHasher
// ============================================================================

func TestStateHasher_Deterministic(t *testing.T) {
	h1 := core.NewStateHasher()
	h2 := core.NewStateHasher()

	a := h1.ComputeHash(1, []byte("digest"))
	b := h2.ComputeHash(1, []byte("digest"))
	if a != b {
		t.Error("same inputs must produce the same hash")
	}
}

func TestStateHasher_Chains(t *testing.T) {
	h := core.NewStateHasher()

	first := h.ComputeHash(1, []byte("d1"))
	if h.GetPrevHash() != first {
		t.Error("chain tip should advance to the new hash")
	}

	second := h.ComputeHash(2, []byte("d2"))
	if second == first {
		t.Error("chained hashes must differ")
	}

	// Same digest at a different chain position hashes differently
	fresh := core.NewStateHasher()
	if fresh.ComputeHash(2, []byte("d2")) == second {
		t.Error("hash must depend on the previous hash")
	}
}

func TestStateHasher_SetPrevHashRestoresChain(t *testing.T) {
	h := core.NewStateHasher()
	h.ComputeHash(1, []byte("d1"))
	tip := h.GetPrevHash()

	restored := core.NewStateHasher()
	restored.SetPrevHash(tip)

	if h.ComputeHash(2, []byte("d2")) != restored.ComputeHash(2, []byte("d2")) {
		t.Error("restored chain must continue identically")
	}
}
