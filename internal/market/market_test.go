package market_test

import (
	"CurveMarket/internal/market"
	"CurveMarket/internal/token"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	dai       = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdc      = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	aliceAddr = common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	bobAddr   = common.HexToAddress("0x1234567890123456789012345678901234567890")
)

const hourUs = int64(3_600_000_000)

// ============================================================================
// Test: BatchStore
// ============================================================================

func TestBatchStore_WindowStart(t *testing.T) {
	s := market.NewBatchStore(hourUs)

	now := 5*hourUs + 123_456
	if got := s.WindowStart(now); got != 5*hourUs {
		t.Errorf("window start: got %d, want %d", got, 5*hourUs)
	}
	if got := s.WindowStart(5 * hourUs); got != 5*hourUs {
		t.Errorf("boundary window start: got %d, want %d", got, 5*hourUs)
	}
}

func TestBatchStore_CreateAssignsSequentialIDs(t *testing.T) {
	s := market.NewBatchStore(hourUs)

	b1 := s.Create(dai, 0, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if b1.ID != 1 {
		t.Errorf("first batch id: got %d, want 1", b1.ID)
	}

	b2 := s.Create(dai, hourUs, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if b2.ID != 2 {
		t.Errorf("second batch id: got %d, want 2", b2.ID)
	}

	// Batch ids are independent per collateral
	b3 := s.Create(usdc, hourUs, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if b3.ID != 1 {
		t.Errorf("first usdc batch id: got %d, want 1", b3.ID)
	}
}

func TestBatchStore_CreateSnapshotsCurveState(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	supply := big.NewInt(1000)

	b := s.Create(dai, 0, 1, supply, big.NewInt(500), 500_000, 10_000)

	// Later mutation of the caller's value must not leak into the batch
	supply.SetInt64(9999)
	if b.Supply.Int64() != 1000 {
		t.Errorf("batch supply mutated through caller: got %s", b.Supply)
	}
	if b.WindowStart != 0 || b.WindowEnd != hourUs {
		t.Errorf("window: got [%d, %d), want [0, %d)", b.WindowStart, b.WindowEnd, hourUs)
	}
}

func TestBatchStore_LiveOnlyInsideWindow(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	s.Create(dai, 0, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	if _, ok := s.Live(dai, hourUs-1); !ok {
		t.Error("batch should be live just before window end")
	}
	if _, ok := s.Live(dai, hourUs); ok {
		t.Error("batch should not be live at window end")
	}
	if _, ok := s.Live(usdc, 0); ok {
		t.Error("unrelated collateral should have no live batch")
	}
}

func TestBatchStore_LiveSurvivesTimestampRegression(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	b := s.Create(dai, hourUs+5, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	// A timestamp below the window start must not end the batch early.
	got, ok := s.Live(dai, 0)
	if !ok {
		t.Fatal("batch should stay live for a regressed timestamp")
	}
	if got.ID != b.ID {
		t.Errorf("live batch = %d, want %d", got.ID, b.ID)
	}
	if _, ok := s.Live(dai, 2*hourUs); ok {
		t.Error("batch should not be live after its window end")
	}
}

func TestBatchStore_CancelLive(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	b := s.Create(dai, 0, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	cancelled := s.CancelLive(dai, 10)
	if cancelled == nil || cancelled.ID != b.ID {
		t.Fatal("expected the live batch to be cancelled")
	}
	if !cancelled.Cancelled() {
		t.Error("batch state should be Cancelled")
	}
	if _, ok := s.Live(dai, 10); ok {
		t.Error("cancelled batch must not be live")
	}

	// No live batch left: CancelLive is a no-op
	if again := s.CancelLive(dai, 10); again != nil {
		t.Error("second cancel should return nil")
	}
}

func TestBatchStore_PreviousSurvivesWindowEnd(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	b := s.Create(dai, 0, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	prev := s.Previous(dai)
	if prev == nil || prev.ID != b.ID {
		t.Error("previous should return the most recent batch after its window closed")
	}
	if !prev.Closed(hourUs + 1) {
		t.Error("batch should be closed after its window end")
	}
}

func TestBatchStore_RestoreRoundTrip(t *testing.T) {
	s := market.NewBatchStore(hourUs)
	s.Create(dai, 0, 1, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	s.Create(dai, hourUs, 1, big.NewInt(1100), big.NewInt(550), 500_000, 0)
	s.Create(usdc, hourUs, 1, big.NewInt(2000), big.NewInt(900), 400_000, 0)

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("all: got %d batches, want 3", len(all))
	}

	restored := market.NewBatchStore(hourUs)
	restored.Restore(all)

	if b, ok := restored.Get(dai, 2); !ok || b.Supply.Int64() != 1100 {
		t.Error("restored store lost dai batch 2")
	}
	// Id counters must continue where they left off
	next := restored.Create(dai, 2*hourUs, 1, big.NewInt(1200), big.NewInt(600), 500_000, 0)
	if next.ID != 3 {
		t.Errorf("post-restore batch id: got %d, want 3", next.ID)
	}
}

// ============================================================================
// Test: OrderLedger
// ============================================================================

func TestOrderLedger_MergeAccumulates(t *testing.T) {
	l := market.NewOrderLedger()

	o, created := l.Merge(aliceAddr, dai, 1, market.SideBuy, big.NewInt(100))
	if !created {
		t.Error("first merge should create the entry")
	}
	_, created = l.Merge(aliceAddr, dai, 1, market.SideBuy, big.NewInt(50))
	if created {
		t.Error("second merge should reuse the entry")
	}
	if o.Amount.Int64() != 150 {
		t.Errorf("aggregate amount: got %s, want 150", o.Amount)
	}
}

func TestOrderLedger_SidesAreIndependent(t *testing.T) {
	l := market.NewOrderLedger()

	l.Merge(aliceAddr, dai, 1, market.SideBuy, big.NewInt(100))
	l.Merge(aliceAddr, dai, 1, market.SideSell, big.NewInt(70))

	buy, _ := l.Get(aliceAddr, dai, 1, market.SideBuy)
	sell, _ := l.Get(aliceAddr, dai, 1, market.SideSell)
	if buy.Amount.Int64() != 100 || sell.Amount.Int64() != 70 {
		t.Errorf("got buy=%s sell=%s, want 100/70", buy.Amount, sell.Amount)
	}
}

func TestOrderLedger_PendingErrors(t *testing.T) {
	l := market.NewOrderLedger()

	if _, err := l.Pending(aliceAddr, dai, 1, market.SideBuy); !errors.Is(err, market.ErrNoOrder) {
		t.Errorf("missing order: got %v, want ErrNoOrder", err)
	}

	o, _ := l.Merge(aliceAddr, dai, 1, market.SideBuy, big.NewInt(100))
	o.Claimed = true
	if _, err := l.Pending(aliceAddr, dai, 1, market.SideBuy); !errors.Is(err, market.ErrAlreadyClaimed) {
		t.Errorf("claimed order: got %v, want ErrAlreadyClaimed", err)
	}
}

func TestOrderLedger_AllIsDeterministic(t *testing.T) {
	l := market.NewOrderLedger()
	l.Merge(bobAddr, dai, 2, market.SideSell, big.NewInt(10))
	l.Merge(aliceAddr, dai, 1, market.SideBuy, big.NewInt(20))
	l.Merge(aliceAddr, dai, 2, market.SideBuy, big.NewInt(30))

	all := l.All()
	if len(all) != 3 {
		t.Fatalf("got %d orders, want 3", len(all))
	}
	if all[0].Owner != aliceAddr || all[0].BatchID != 1 {
		t.Error("orders not sorted by (owner, collateral, batch, side)")
	}
}

// ============================================================================
// Test: CollateralRegistry
// ============================================================================

func TestCollateralRegistry_AddAndWhitelisted(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker(dai))

	c, err := r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !c.Whitelisted {
		t.Error("added collateral should be whitelisted")
	}

	if _, err := r.Whitelisted(dai); err != nil {
		t.Errorf("whitelisted lookup failed: %v", err)
	}
}

func TestCollateralRegistry_AddDuplicate_Fails(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker(dai))
	r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	_, err := r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if !errors.Is(err, market.ErrAlreadyWhitelisted) {
		t.Errorf("got %v, want ErrAlreadyWhitelisted", err)
	}
}

func TestCollateralRegistry_AddNonContract_Fails(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker())

	_, err := r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	if !errors.Is(err, market.ErrNotAContract) {
		t.Errorf("got %v, want ErrNotAContract", err)
	}

	// The native sentinel is exempt from the contract check
	if _, err := r.Add(token.NativeAsset, big.NewInt(1000), big.NewInt(500), 500_000, 0); err != nil {
		t.Errorf("native asset add: %v", err)
	}
}

func TestCollateralRegistry_InvalidRatio_Fails(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker(dai))

	if _, err := r.Add(dai, big.NewInt(1000), big.NewInt(500), 0, 0); !errors.Is(err, market.ErrInvalidReserveRatio) {
		t.Errorf("ratio 0: got %v, want ErrInvalidReserveRatio", err)
	}
	if _, err := r.Add(dai, big.NewInt(1000), big.NewInt(500), 1_000_001, 0); !errors.Is(err, market.ErrInvalidReserveRatio) {
		t.Errorf("ratio above PPM: got %v, want ErrInvalidReserveRatio", err)
	}
}

func TestCollateralRegistry_RemoveKeepsRecord(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker(dai))
	r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)

	c, err := r.Remove(dai)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.Whitelisted {
		t.Error("removed collateral should not be whitelisted")
	}

	// Record survives for historical claims
	if _, ok := r.Get(dai); !ok {
		t.Error("record should survive removal")
	}
	if _, err := r.Whitelisted(dai); !errors.Is(err, market.ErrNotWhitelisted) {
		t.Errorf("got %v, want ErrNotWhitelisted", err)
	}

	// Re-adding after removal is allowed
	if _, err := r.Add(dai, big.NewInt(2000), big.NewInt(800), 400_000, 0); err != nil {
		t.Errorf("re-add after removal: %v", err)
	}
}

func TestCollateralRegistry_UpdateDelisted_Fails(t *testing.T) {
	r := market.NewCollateralRegistry(token.NewStaticChecker(dai))
	r.Add(dai, big.NewInt(1000), big.NewInt(500), 500_000, 0)
	r.Remove(dai)

	_, err := r.Update(dai, big.NewInt(2000), big.NewInt(800), 400_000, 0)
	if !errors.Is(err, market.ErrNotWhitelisted) {
		t.Errorf("got %v, want ErrNotWhitelisted", err)
	}
}
