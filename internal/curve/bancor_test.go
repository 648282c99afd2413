package curve

import (
	"math/big"
	"testing"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}

func TestPurchaseReturnZeroDeposit(t *testing.T) {
	f := NewBancorFormula()

	out, err := f.PurchaseReturn(bi("1000000"), bi("100000"), 500_000, big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Sign() != 0 {
		t.Fatalf("expected zero return, got %s", out)
	}
}

func TestPurchaseReturnLinearRatio(t *testing.T) {
	f := NewBancorFormula()

	// ratio == PPM is the constant-price case: return = supply * deposit / balance
	out, err := f.PurchaseReturn(bi("1000000"), bi("500000"), PPM, bi("1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(bi("2000")) != 0 {
		t.Fatalf("expected 2000, got %s", out)
	}
}

func TestSaleReturnLinearRatio(t *testing.T) {
	f := NewBancorFormula()

	out, err := f.SaleReturn(bi("1000000"), bi("500000"), PPM, bi("2000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(bi("1000")) != 0 {
		t.Fatalf("expected 1000, got %s", out)
	}
}

func TestSaleReturnEntireSupplyDrainsBalance(t *testing.T) {
	f := NewBancorFormula()

	supply := bi("100000000000000000000000") // 10^23
	balance := bi("10000000000000000000000") // 10^22

	out, err := f.SaleReturn(supply, balance, 100_000, supply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(balance) != 0 {
		t.Fatalf("selling entire supply should drain balance: got %s want %s", out, balance)
	}
}

func TestSaleReturnExceedsSupply(t *testing.T) {
	f := NewBancorFormula()

	_, err := f.SaleReturn(bi("1000"), bi("1000"), 500_000, bi("1001"))
	if err == nil {
		t.Fatal("expected error selling more than supply")
	}
}

func TestPurchaseThenSaleRoundTrip(t *testing.T) {
	f := NewBancorFormula()

	supply := bi("100000000000000000000000") // 10^23
	balance := bi("10000000000000000000000") // 10^22
	deposit := bi("990")

	minted, err := f.PurchaseReturn(supply, balance, 100_000, deposit)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if minted.Sign() <= 0 {
		t.Fatalf("expected positive mint, got %s", minted)
	}

	// Selling the minted tokens against the post-purchase curve must give back
	// no more than the deposit (the curve never creates collateral).
	newSupply := new(big.Int).Add(supply, minted)
	newBalance := new(big.Int).Add(balance, deposit)
	back, err := f.SaleReturn(newSupply, newBalance, 100_000, minted)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if back.Cmp(deposit) > 0 {
		t.Fatalf("round trip created collateral: deposit=%s back=%s", deposit, back)
	}
}

func TestPurchaseReturnMonotonic(t *testing.T) {
	f := NewBancorFormula()

	supply := bi("100000000000000000000000")
	balance := bi("10000000000000000000000")

	small, err := f.PurchaseReturn(supply, balance, 100_000, bi("1000000"))
	if err != nil {
		t.Fatalf("small purchase: %v", err)
	}
	large, err := f.PurchaseReturn(supply, balance, 100_000, bi("2000000"))
	if err != nil {
		t.Fatalf("large purchase: %v", err)
	}
	if large.Cmp(small) <= 0 {
		t.Fatalf("larger deposit must mint more: small=%s large=%s", small, large)
	}

	// Marginal price rises along the curve: doubling the deposit mints less
	// than double the tokens.
	doubled := new(big.Int).Mul(small, big.NewInt(2))
	if large.Cmp(doubled) > 0 {
		t.Fatalf("curve slippage missing: 2x deposit minted %s > 2x small %s", large, doubled)
	}
}

func TestInvalidReserveRatio(t *testing.T) {
	f := NewBancorFormula()

	if _, err := f.PurchaseReturn(bi("1000"), bi("1000"), 0, bi("10")); err == nil {
		t.Fatal("expected error for zero ratio")
	}
	if _, err := f.PurchaseReturn(bi("1000"), bi("1000"), PPM+1, bi("10")); err == nil {
		t.Fatal("expected error for ratio above PPM")
	}
}

func TestStaticPricePPM(t *testing.T) {
	// supply=10^23, balance=10^22, ratio=10% -> price = 10^22 * PPM * PPM / (10^23 * 10^5) = PPM
	supply := bi("100000000000000000000000")
	balance := bi("10000000000000000000000")

	price := StaticPricePPM(supply, balance, 100_000)
	if price.Cmp(big.NewInt(PPM)) != 0 {
		t.Fatalf("expected static price %d, got %s", PPM, price)
	}

	// Zero curve state has no price.
	if StaticPricePPM(new(big.Int), balance, 100_000).Sign() != 0 {
		t.Fatalf("expected zero price for zero supply")
	}
}

func TestDeterministicAcrossCalls(t *testing.T) {
	f := NewBancorFormula()

	supply := bi("31415926535897932384626433")
	balance := bi("2718281828459045235360")

	a, err := f.PurchaseReturn(supply, balance, 333_333, bi("123456789123456789"))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	b, err := f.PurchaseReturn(supply, balance, 333_333, bi("123456789123456789"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if a.Cmp(b) != 0 {
		t.Fatalf("formula not deterministic: %s vs %s", a, b)
	}
}
