package pricing

import (
	"errors"
	"math/big"
	"testing"

	"CurveMarket/internal/curve"
	"CurveMarket/internal/market"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}

// Curve state where the static price is exactly 1 collateral per token:
// supply=10^23, balance=10^22, ratio=10%.
var (
	testSupply  = bi("100000000000000000000000")
	testBalance = bi("10000000000000000000000")
)

const testRatio = uint32(100_000)

func TestSettleEmptyBatch(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	s, err := e.Settle(testSupply, testBalance, testRatio, new(big.Int), new(big.Int))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalBuyReturn.Sign() != 0 || s.TotalSellReturn.Sign() != 0 {
		t.Fatalf("empty batch must settle to zero returns: buy=%s sell=%s", s.TotalBuyReturn, s.TotalSellReturn)
	}
}

func TestSettleBuyOnlyRoutesThroughCurve(t *testing.T) {
	f := curve.NewBancorFormula()
	e := NewEngine(f)

	spend := big.NewInt(990)
	s, err := e.Settle(testSupply, testBalance, testRatio, spend, new(big.Int))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want, err := f.PurchaseReturn(testSupply, testBalance, testRatio, spend)
	if err != nil {
		t.Fatalf("reference purchase: %v", err)
	}
	if s.TotalBuyReturn.Cmp(want) != 0 {
		t.Fatalf("buy-only batch: got %s want %s", s.TotalBuyReturn, want)
	}
	if s.TotalSellReturn.Sign() != 0 {
		t.Fatalf("buy-only batch must have zero sell return, got %s", s.TotalSellReturn)
	}
	if s.BuyCurveInput.Cmp(spend) != 0 {
		t.Fatalf("entire buy spend should route through the curve, got %s", s.BuyCurveInput)
	}
}

func TestSettleExactMatchSkipsCurve(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	// Static price is 1, so 1000 collateral in buys exactly matches 1000
	// tokens in sells. Nothing may touch the formula.
	s, err := e.Settle(testSupply, testBalance, testRatio, big.NewInt(1000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.BuyCurveInput.Sign() != 0 || s.SellCurveInput.Sign() != 0 {
		t.Fatalf("matched batch must not touch the curve: buy=%s sell=%s", s.BuyCurveInput, s.SellCurveInput)
	}
	if s.TotalBuyReturn.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyers should receive the 1000 sold tokens, got %s", s.TotalBuyReturn)
	}
	if s.TotalSellReturn.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("sellers should receive the 1000 buy collateral, got %s", s.TotalSellReturn)
	}
}

func TestSettleBuyDominant(t *testing.T) {
	f := curve.NewBancorFormula()
	e := NewEngine(f)

	s, err := e.Settle(testSupply, testBalance, testRatio, big.NewInt(5000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 tokens matched at price 1 -> sellers get 1000 collateral,
	// remaining 4000 collateral goes through the curve.
	if s.TotalSellReturn.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("sell return: got %s want 1000", s.TotalSellReturn)
	}
	if s.BuyCurveInput.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("buy curve input: got %s want 4000", s.BuyCurveInput)
	}

	curveMint, err := f.PurchaseReturn(testSupply, testBalance, testRatio, big.NewInt(4000))
	if err != nil {
		t.Fatalf("reference purchase: %v", err)
	}
	want := new(big.Int).Add(big.NewInt(1000), curveMint)
	if s.TotalBuyReturn.Cmp(want) != 0 {
		t.Fatalf("buy return: got %s want %s", s.TotalBuyReturn, want)
	}
}

func TestSettleSellDominant(t *testing.T) {
	f := curve.NewBancorFormula()
	e := NewEngine(f)

	s, err := e.Settle(testSupply, testBalance, testRatio, big.NewInt(1000), big.NewInt(5000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 collateral buys 1000 tokens at price 1; 4000 unmatched tokens go
	// through the curve.
	if s.TotalBuyReturn.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buy return: got %s want 1000", s.TotalBuyReturn)
	}
	if s.SellCurveInput.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("sell curve input: got %s want 4000", s.SellCurveInput)
	}

	curveOut, err := f.SaleReturn(testSupply, testBalance, testRatio, big.NewInt(4000))
	if err != nil {
		t.Fatalf("reference sale: %v", err)
	}
	want := new(big.Int).Add(big.NewInt(1000), curveOut)
	if s.TotalSellReturn.Cmp(want) != 0 {
		t.Fatalf("sell return: got %s want %s", s.TotalSellReturn, want)
	}
}

func TestValidateSlippageSmallOrderPasses(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	// A tiny order against a deep curve moves the price almost nowhere.
	err := e.ValidateSlippage(testSupply, testBalance, testRatio, 100_000, market.SideBuy, big.NewInt(1000))
	if err != nil {
		t.Fatalf("small buy should pass slippage: %v", err)
	}
	err = e.ValidateSlippage(testSupply, testBalance, testRatio, 100_000, market.SideSell, big.NewInt(1000))
	if err != nil {
		t.Fatalf("small sell should pass slippage: %v", err)
	}
}

func TestValidateSlippageHugeBuyRejected(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	// Spending the whole reserve many times over against a 10% ratio curve
	// moves the execution price far beyond 1%.
	huge := new(big.Int).Mul(testBalance, big.NewInt(10))
	err := e.ValidateSlippage(testSupply, testBalance, testRatio, 10_000, market.SideBuy, huge)
	if !errors.Is(err, market.ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestValidateSlippageHugeSellRejected(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	// Selling half the supply crashes the price well past 1%.
	half := new(big.Int).Quo(testSupply, big.NewInt(2))
	err := e.ValidateSlippage(testSupply, testBalance, testRatio, 10_000, market.SideSell, half)
	if !errors.Is(err, market.ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestValidateSlippageSellBoundAtPPMAlwaysPasses(t *testing.T) {
	e := NewEngine(curve.NewBancorFormula())

	half := new(big.Int).Quo(testSupply, big.NewInt(2))
	err := e.ValidateSlippage(testSupply, testBalance, testRatio, curve.PPM, market.SideSell, half)
	if err != nil {
		t.Fatalf("a full-PPM sell bound can never be violated: %v", err)
	}
}
