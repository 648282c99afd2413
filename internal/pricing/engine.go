package pricing

import (
	"fmt"
	"math/big"

	"CurveMarket/internal/curve"
	"CurveMarket/internal/market"
)

var ppm = big.NewInt(curve.PPM)

// Settlement is the result of pricing one closed batch.
type Settlement struct {
	TotalBuyReturn  *big.Int // tokens owed to the batch's buyers
	TotalSellReturn *big.Int // collateral owed to the batch's sellers

	// Curve-routed remainders, for observability and tests: a perfectly
	// matched batch routes zero volume through the formula.
	BuyCurveInput  *big.Int
	SellCurveInput *big.Int
}

// Engine prices closed batches. Buy and sell volume are first matched
// against each other at the batch's static opening price; only the net
// imbalance is routed through the bonding-curve formula, so volume that nets
// out pays no curve slippage.
type Engine struct {
	formula curve.Formula
}

func NewEngine(formula curve.Formula) *Engine {
	return &Engine{formula: formula}
}

// Settle computes the aggregate buy and sell returns for a batch with
// fee-net spends buySpend (collateral) and sellSpend (tokens) at curve state
// (supply, balance, reserveRatioPPM).
func (e *Engine) Settle(supply, balance *big.Int, reserveRatioPPM uint32, buySpend, sellSpend *big.Int) (*Settlement, error) {
	s := &Settlement{
		TotalBuyReturn:  new(big.Int),
		TotalSellReturn: new(big.Int),
		BuyCurveInput:   new(big.Int),
		SellCurveInput:  new(big.Int),
	}

	if buySpend.Sign() == 0 && sellSpend.Sign() == 0 {
		return s, nil
	}

	price := curve.StaticPricePPM(supply, balance, reserveRatioPPM)
	if price.Sign() == 0 {
		return nil, fmt.Errorf("settle: no static price at supply=%s balance=%s ratio=%d", supply, balance, reserveRatioPPM)
	}

	// sellValue = sellSpend * price / PPM, the sell volume priced in collateral.
	sellValue := new(big.Int).Mul(sellSpend, price)
	sellValue.Quo(sellValue, ppm)

	if buySpend.Cmp(sellValue) >= 0 {
		// Buy side dominates: every sold token is bought directly at the
		// static price. Sellers receive sellValue collateral, the buyers
		// funding that portion receive the sellSpend tokens, and the
		// remaining buy collateral goes through the curve.
		s.TotalSellReturn.Set(sellValue)
		s.TotalBuyReturn.Set(sellSpend)

		s.BuyCurveInput.Sub(buySpend, sellValue)
		if s.BuyCurveInput.Sign() > 0 {
			minted, err := e.formula.PurchaseReturn(supply, balance, reserveRatioPPM, s.BuyCurveInput)
			if err != nil {
				return nil, fmt.Errorf("settle buy remainder: %w", err)
			}
			s.TotalBuyReturn.Add(s.TotalBuyReturn, minted)
		}
		return s, nil
	}

	// Sell side dominates: all buy collateral converts directly at the
	// static price into buySpend*PPM/price tokens, and the unmatched tokens
	// go through the curve.
	matchedTokens := new(big.Int).Mul(buySpend, ppm)
	matchedTokens.Quo(matchedTokens, price)

	s.TotalBuyReturn.Set(matchedTokens)
	s.TotalSellReturn.Set(buySpend)

	s.SellCurveInput.Sub(sellSpend, matchedTokens)
	if s.SellCurveInput.Sign() > 0 {
		released, err := e.formula.SaleReturn(supply, balance, reserveRatioPPM, s.SellCurveInput)
		if err != nil {
			return nil, fmt.Errorf("settle sell remainder: %w", err)
		}
		s.TotalSellReturn.Add(s.TotalSellReturn, released)
	}
	return s, nil
}

// ValidateSlippage checks that a batch's aggregate spend on one side keeps
// the implied execution price within maxSlippagePPM of the batch's opening
// static price. Called with the WOULD-BE totals before any state is mutated,
// so a violation aborts the open with nothing to roll back.
func (e *Engine) ValidateSlippage(supply, balance *big.Int, reserveRatioPPM, maxSlippagePPM uint32, side market.Side, totalSpend *big.Int) error {
	if totalSpend.Sign() == 0 {
		return nil
	}

	price := curve.StaticPricePPM(supply, balance, reserveRatioPPM)
	if price.Sign() == 0 {
		// No reference price: every slippage is acceptable.
		return nil
	}

	slip := new(big.Int).SetUint64(uint64(maxSlippagePPM))

	if side == market.SideBuy {
		ret, err := e.formula.PurchaseReturn(supply, balance, reserveRatioPPM, totalSpend)
		if err != nil {
			return fmt.Errorf("slippage check: %w", err)
		}
		if ret.Sign() == 0 {
			return fmt.Errorf("buy of %s returns nothing: %w", totalSpend, market.ErrSlippageExceeded)
		}

		// exec = spend * PPM / ret vs ceiling = price * (PPM + slip) / PPM.
		// Cross-multiplied to stay in integers:
		//   spend * PPM * PPM <= ret * price * (PPM + slip)
		lhs := new(big.Int).Mul(totalSpend, ppm)
		lhs.Mul(lhs, ppm)
		rhs := new(big.Int).Mul(ret, price)
		rhs.Mul(rhs, new(big.Int).Add(ppm, slip))
		if lhs.Cmp(rhs) > 0 {
			return fmt.Errorf("buy spend %s moves price beyond %d ppm: %w", totalSpend, maxSlippagePPM, market.ErrSlippageExceeded)
		}
		return nil
	}

	// Sell side: a bound of PPM or more cannot be violated (price floors at zero).
	if uint64(maxSlippagePPM) >= curve.PPM {
		return nil
	}

	ret, err := e.formula.SaleReturn(supply, balance, reserveRatioPPM, totalSpend)
	if err != nil {
		return fmt.Errorf("slippage check: %w", err)
	}

	// exec = ret * PPM / spend vs floor = price * (PPM - slip) / PPM:
	//   ret * PPM * PPM >= spend * price * (PPM - slip)
	lhs := new(big.Int).Mul(ret, ppm)
	lhs.Mul(lhs, ppm)
	rhs := new(big.Int).Mul(totalSpend, price)
	rhs.Mul(rhs, new(big.Int).Sub(ppm, slip))
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf("sell spend %s moves price beyond %d ppm: %w", totalSpend, maxSlippagePPM, market.ErrSlippageExceeded)
	}
	return nil
}
