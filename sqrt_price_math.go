// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"errors"
	"math/big"
)

var (
	errSqrtRatioZero  = errors.New("sqrt ratio must be greater than zero")
	errLiquidityZero  = errors.New("liquidity must be greater than zero")
	errPriceUnderflow = errors.New("price movement exceeds available range")
)

var bigOne = big.NewInt(1)

// mulDiv returns floor(a * b / c).
func mulDiv(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Div(p, c)
}

// mulDivRoundingUp returns ceil(a * b / c).
func mulDivRoundingUp(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(p, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

// divRoundingUp returns ceil(a / b).
func divRoundingUp(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return q
}

// nextSqrtRatioFromAmount0 returns the price after adding (or removing)
// amount of token0 to liquidity at sqrtPX96. Rounds up so the pool never
// gives out more than it received.
func nextSqrtRatioFromAmount0(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)

	if add {
		denominator := new(big.Int).Add(numerator1, product)
		if denominator.Cmp(numerator1) >= 0 {
			return mulDivRoundingUp(numerator1, sqrtPX96, denominator), nil
		}
		denominator.Div(numerator1, sqrtPX96)
		denominator.Add(denominator, amount)
		return divRoundingUp(numerator1, denominator), nil
	}

	if numerator1.Cmp(product) <= 0 {
		return nil, errPriceUnderflow
	}
	denominator := new(big.Int).Sub(numerator1, product)
	return mulDivRoundingUp(numerator1, sqrtPX96, denominator), nil
}

// nextSqrtRatioFromAmount1 returns the price after adding (or removing)
// amount of token1. Rounds down on add, up on remove, both in the pool's
// favor.
func nextSqrtRatioFromAmount1(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if add {
		quotient := mulDiv(amount, Q96, liquidity)
		return new(big.Int).Add(sqrtPX96, quotient), nil
	}
	quotient := mulDivRoundingUp(amount, Q96, liquidity)
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, errPriceUnderflow
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

// nextSqrtRatioFromInput returns the price after the pool receives amountIn
// of the input token. decreasing selects the token0-in direction.
func nextSqrtRatioFromInput(sqrtPX96, liquidity, amountIn *big.Int, decreasing bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, errSqrtRatioZero
	}
	if liquidity.Sign() <= 0 {
		return nil, errLiquidityZero
	}
	if decreasing {
		return nextSqrtRatioFromAmount0(sqrtPX96, liquidity, amountIn, true)
	}
	return nextSqrtRatioFromAmount1(sqrtPX96, liquidity, amountIn, true)
}

// nextSqrtRatioFromOutput returns the price after the pool pays out
// amountOut of the output token.
func nextSqrtRatioFromOutput(sqrtPX96, liquidity, amountOut *big.Int, decreasing bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, errSqrtRatioZero
	}
	if liquidity.Sign() <= 0 {
		return nil, errLiquidityZero
	}
	if decreasing {
		return nextSqrtRatioFromAmount1(sqrtPX96, liquidity, amountOut, false)
	}
	return nextSqrtRatioFromAmount0(sqrtPX96, liquidity, amountOut, false)
}

// amount0Delta returns the token0 amount covered by liquidity between two
// sqrt ratios: liquidity * 2^96 * (b - a) / (a * b).
func amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return nil, errSqrtRatioZero
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtRatioBX96), sqrtRatioAX96), nil
	}
	term := mulDiv(numerator1, numerator2, sqrtRatioBX96)
	return term.Div(term, sqrtRatioAX96), nil
}

// amount1Delta returns the token1 amount covered by liquidity between two
// sqrt ratios: liquidity * (b - a) / 2^96.
func amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	return mulDiv(liquidity, diff, Q96)
}

// LiquidityDeltaToAmountDelta converts a signed liquidity change over
// [tickLower, tickUpper] into the signed token amounts it moves at the
// given pool price. Positive liquidity deltas produce positive amounts
// (owed to the pool, rounded up); negative deltas produce negative amounts
// (owed to the caller, rounded down).
func LiquidityDeltaToAmountDelta(sqrtRatioX96 *big.Int, currentTick int24, liquidityDelta *big.Int, tickLower, tickUpper int24) (BalanceDelta, error) {
	lower, err := TickToSqrtRatio(tickLower)
	if err != nil {
		return BalanceDelta{}, err
	}
	upper, err := TickToSqrtRatio(tickUpper)
	if err != nil {
		return BalanceDelta{}, err
	}

	adding := liquidityDelta.Sign() > 0
	magnitude := new(big.Int).Abs(liquidityDelta)

	amount0 := big.NewInt(0)
	amount1 := big.NewInt(0)
	switch {
	case currentTick < tickLower:
		amount0, err = amount0Delta(lower, upper, magnitude, adding)
		if err != nil {
			return BalanceDelta{}, err
		}
	case currentTick < tickUpper:
		amount0, err = amount0Delta(sqrtRatioX96, upper, magnitude, adding)
		if err != nil {
			return BalanceDelta{}, err
		}
		amount1 = amount1Delta(lower, sqrtRatioX96, magnitude, adding)
	default:
		amount1 = amount1Delta(lower, upper, magnitude, adding)
	}

	if !adding {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	return BalanceDelta{Amount0: amount0, Amount1: amount1}, nil
}
