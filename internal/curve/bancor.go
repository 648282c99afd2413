package curve

import (
	"fmt"
	"math/big"
)

// PPM is the parts-per-million fixed-point base used for reserve ratios,
// slippage bounds and the static price scale.
const PPM = 1_000_000

// floatPrec is the mantissa precision for the power computation. Fixed so the
// formula is deterministic for identical inputs across runs and platforms.
const floatPrec = 256

// Formula computes bonding-curve returns. The engine consumes it as a pure
// black box: same inputs always produce the same outputs.
type Formula interface {
	// PurchaseReturn returns the tokens minted for depositAmount collateral
	// against a curve at (supply, balance, reserveRatioPPM).
	PurchaseReturn(supply, balance *big.Int, reserveRatioPPM uint32, depositAmount *big.Int) (*big.Int, error)

	// SaleReturn returns the collateral released for sellAmount tokens
	// against a curve at (supply, balance, reserveRatioPPM).
	SaleReturn(supply, balance *big.Int, reserveRatioPPM uint32, sellAmount *big.Int) (*big.Int, error)
}

// BancorFormula implements the Bancor power formula
//
//	purchase = supply * ((1 + deposit/balance)^(ratio/PPM) - 1)
//	sale     = balance * (1 - (1 - tokens/supply)^(PPM/ratio))
//
// with fixed-precision big.Float arithmetic, truncating toward zero.
type BancorFormula struct{}

func NewBancorFormula() *BancorFormula {
	return &BancorFormula{}
}

func (f *BancorFormula) PurchaseReturn(supply, balance *big.Int, reserveRatioPPM uint32, depositAmount *big.Int) (*big.Int, error) {
	if err := validateRatio(reserveRatioPPM); err != nil {
		return nil, err
	}
	if depositAmount.Sign() == 0 {
		return new(big.Int), nil
	}
	if supply.Sign() <= 0 || balance.Sign() <= 0 {
		return nil, fmt.Errorf("purchase return: curve state not positive (supply=%s balance=%s)", supply, balance)
	}

	// ratio == PPM is the linear special case: price is constant.
	if reserveRatioPPM == PPM {
		out := new(big.Int).Mul(supply, depositAmount)
		return out.Quo(out, balance), nil
	}

	// base = 1 + deposit/balance
	base := newFloat().Quo(newFloat().SetInt(depositAmount), newFloat().SetInt(balance))
	base.Add(base, one())

	exp := float64(reserveRatioPPM) / float64(PPM)
	powed := pow(base, exp)

	// supply * (powed - 1)
	powed.Sub(powed, one())
	powed.Mul(powed, newFloat().SetInt(supply))

	out, _ := powed.Int(nil)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out, nil
}

func (f *BancorFormula) SaleReturn(supply, balance *big.Int, reserveRatioPPM uint32, sellAmount *big.Int) (*big.Int, error) {
	if err := validateRatio(reserveRatioPPM); err != nil {
		return nil, err
	}
	if sellAmount.Sign() == 0 {
		return new(big.Int), nil
	}
	if supply.Sign() <= 0 || balance.Sign() <= 0 {
		return nil, fmt.Errorf("sale return: curve state not positive (supply=%s balance=%s)", supply, balance)
	}
	if sellAmount.Cmp(supply) > 0 {
		return nil, fmt.Errorf("sale return: sell amount %s exceeds supply %s", sellAmount, supply)
	}

	// Selling the entire supply drains the entire balance.
	if sellAmount.Cmp(supply) == 0 {
		return new(big.Int).Set(balance), nil
	}

	if reserveRatioPPM == PPM {
		out := new(big.Int).Mul(balance, sellAmount)
		return out.Quo(out, supply), nil
	}

	// base = 1 - tokens/supply
	base := newFloat().Quo(newFloat().SetInt(sellAmount), newFloat().SetInt(supply))
	base.Sub(one(), base)

	exp := float64(PPM) / float64(reserveRatioPPM)
	powed := pow(base, exp)

	// balance * (1 - powed)
	powed.Sub(one(), powed)
	powed.Mul(powed, newFloat().SetInt(balance))

	out, _ := powed.Int(nil)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	if out.Cmp(balance) > 0 {
		out.Set(balance)
	}
	return out, nil
}

// StaticPricePPM returns the spot price at (supply, balance, ratio) in
// collateral per token, scaled by PPM:
//
//	price = balance * PPM * PPM / (supply * ratio)
//
// A zero denominator yields a zero price; callers treat that as "no price".
func StaticPricePPM(supply, balance *big.Int, reserveRatioPPM uint32) *big.Int {
	denom := new(big.Int).Mul(supply, big.NewInt(int64(reserveRatioPPM)))
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(balance, big.NewInt(PPM))
	num.Mul(num, big.NewInt(PPM))
	return num.Quo(num, denom)
}

func validateRatio(reserveRatioPPM uint32) error {
	if reserveRatioPPM == 0 || reserveRatioPPM > PPM {
		return fmt.Errorf("reserve ratio %d outside (0, %d]", reserveRatioPPM, PPM)
	}
	return nil
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(floatPrec)
}

func one() *big.Float {
	return newFloat().SetInt64(1)
}

// ln2 at well beyond floatPrec digits.
const ln2Str = "0.69314718055994530941723212145817656807550013436025525412068"

func ln2() *big.Float {
	v, _, _ := big.ParseFloat(ln2Str, 10, floatPrec, big.ToNearestEven)
	return v
}

// pow computes base^exp for base > 0 via exp(exp * ln(base)), using a
// fixed-precision series. base is consumed.
func pow(base *big.Float, exp float64) *big.Float {
	ln := logFloat(base)
	ln.Mul(ln, newFloat().SetFloat64(exp))
	return expFloat(ln)
}

// logFloat computes the natural log of x (x > 0) with argument reduction
// x = m * 2^k, ln(x) = ln(m) + k*ln(2), then the atanh series on m near 1.
func logFloat(x *big.Float) *big.Float {
	m := newFloat()
	k := x.MantExp(m) // m in [0.5, 1)

	// z = (m-1)/(m+1); ln(m) = 2*(z + z^3/3 + z^5/5 + ...)
	num := newFloat().Sub(m, one())
	den := newFloat().Add(m, one())
	z := newFloat().Quo(num, den)

	// |z| <= 1/3, so ~130 odd terms push the tail below 2^-256.
	z2 := newFloat().Mul(z, z)
	term := newFloat().Set(z)
	sum := newFloat().Set(z)
	for i := int64(3); i < 280; i += 2 {
		term.Mul(term, z2)
		sum.Add(sum, newFloat().Quo(term, newFloat().SetInt64(i)))
	}
	sum.Mul(sum, newFloat().SetInt64(2))

	kf := newFloat().SetInt64(int64(k))
	return sum.Add(sum, kf.Mul(kf, ln2()))
}

// expFloat computes e^x with argument reduction x = k*ln2 + r, e^x = 2^k * e^r,
// then a Taylor series on the small remainder r.
func expFloat(x *big.Float) *big.Float {
	kf := newFloat().Quo(x, ln2())
	kInt, _ := kf.Int(nil)
	k := kInt.Int64()

	r := newFloat().Mul(newFloat().SetInt64(k), ln2())
	r.Sub(x, r)

	// |r| < ln2, so factorial growth kills the tail well before i=120.
	term := one()
	sum := one()
	for i := int64(1); i < 120; i++ {
		term.Mul(term, r)
		term.Quo(term, newFloat().SetInt64(i))
		sum.Add(sum, term)
	}

	return sum.SetMantExp(sum, int(k))
}
