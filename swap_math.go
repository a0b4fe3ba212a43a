// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"
)

var feeDenominatorBig = big.NewInt(int64(FeeDenominator))

// swapStep is one bounded price movement within a single tick range.
// amountIn and amountOut are unsigned magnitudes; feeAmount is denominated
// in the input token and is included in neither.
type swapStep struct {
	sqrtRatioNextX96 *big.Int
	amountIn         *big.Int
	amountOut        *big.Int
	feeAmount        *big.Int
}

// computeSwapStep moves the price from sqrtRatioCurrentX96 toward
// sqrtRatioTargetX96, bounded by the signed remaining amount (positive =
// exact input, negative = exact output, denominated per the direction
// implied by the target side). With zero liquidity the price jumps to the
// target and no amounts move. When a nonzero input cannot move the price at
// all, the entire remainder is consumed as fee.
func computeSwapStep(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int, feePips uint24) (swapStep, error) {
	step := swapStep{
		sqrtRatioNextX96: new(big.Int).Set(sqrtRatioCurrentX96),
		amountIn:         big.NewInt(0),
		amountOut:        big.NewInt(0),
		feeAmount:        big.NewInt(0),
	}
	if amountRemaining.Sign() == 0 || sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) == 0 {
		return step, nil
	}
	if liquidity.Sign() == 0 {
		step.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		return step, nil
	}

	decreasing := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() > 0
	feeBig := new(big.Int).SetUint64(uint64(feePips))
	oneMinusFee := new(big.Int).Sub(feeDenominatorBig, feeBig)

	var err error
	if exactIn {
		remainingLessFee := mulDiv(amountRemaining, oneMinusFee, feeDenominatorBig)
		if decreasing {
			step.amountIn, err = amount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			step.amountIn = amount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return swapStep{}, err
		}
		if remainingLessFee.Cmp(step.amountIn) >= 0 {
			step.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else {
			step.sqrtRatioNextX96, err = nextSqrtRatioFromInput(sqrtRatioCurrentX96, liquidity, remainingLessFee, decreasing)
			if err != nil {
				return swapStep{}, err
			}
		}
	} else {
		remainingAbs := new(big.Int).Neg(amountRemaining)
		if decreasing {
			step.amountOut = amount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			step.amountOut, err = amount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
			if err != nil {
				return swapStep{}, err
			}
		}
		if remainingAbs.Cmp(step.amountOut) >= 0 {
			step.sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else {
			step.sqrtRatioNextX96, err = nextSqrtRatioFromOutput(sqrtRatioCurrentX96, liquidity, remainingAbs, decreasing)
			if err != nil {
				return swapStep{}, err
			}
		}
	}

	reachedTarget := step.sqrtRatioNextX96.Cmp(sqrtRatioTargetX96) == 0

	if decreasing {
		if !(reachedTarget && exactIn) {
			step.amountIn, err = amount0Delta(step.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true)
			if err != nil {
				return swapStep{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			step.amountOut = amount1Delta(step.sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			step.amountIn = amount1Delta(sqrtRatioCurrentX96, step.sqrtRatioNextX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.amountOut, err = amount0Delta(sqrtRatioCurrentX96, step.sqrtRatioNextX96, liquidity, false)
			if err != nil {
				return swapStep{}, err
			}
		}
	}

	if !exactIn {
		remainingAbs := new(big.Int).Neg(amountRemaining)
		if step.amountOut.Cmp(remainingAbs) > 0 {
			step.amountOut.Set(remainingAbs)
		}
	}

	if exactIn && !reachedTarget {
		// Target not reached: whatever input the price movement did not
		// absorb stays with the pool as fee.
		step.feeAmount.Sub(amountRemaining, step.amountIn)
	} else {
		step.feeAmount = mulDivRoundingUp(step.amountIn, feeBig, new(big.Int).Sub(feeDenominatorBig, feeBig))
	}
	return step, nil
}

// SwapStepResult is the outcome of a single bounded swap step. Both amounts
// follow the balance-delta convention: positive is owed to the pool,
// negative to the swapper. ConsumedAmount carries the sign of the requested
// amount and is denominated in the same token; CalculatedAmount is the
// opposing token.
type SwapStepResult struct {
	ConsumedAmount   *big.Int
	CalculatedAmount *big.Int
	SqrtRatioNextX96 *big.Int
	FeeAmount        *big.Int
}

// SwapResult computes one swap step from sqrtRatioX96 toward
// sqrtRatioLimitX96. amount is signed in the isToken1 token: positive for
// exact input, negative for exact output. A zero amount, or a price already
// at the limit, is a no-op.
func SwapResult(sqrtRatioX96, liquidity, sqrtRatioLimitX96, amount *big.Int, isToken1 bool, feePips uint24) (SwapStepResult, error) {
	noop := SwapStepResult{
		ConsumedAmount:   big.NewInt(0),
		CalculatedAmount: big.NewInt(0),
		SqrtRatioNextX96: new(big.Int).Set(sqrtRatioX96),
		FeeAmount:        big.NewInt(0),
	}
	if amount.Sign() == 0 || sqrtRatioX96.Cmp(sqrtRatioLimitX96) == 0 {
		return noop, nil
	}
	if sqrtRatioLimitX96.Cmp(MinSqrtRatio) < 0 || sqrtRatioLimitX96.Cmp(MaxSqrtRatio) > 0 {
		return SwapStepResult{}, ErrSqrtRatioOutOfBounds
	}

	decreasing := (amount.Sign() > 0) != isToken1
	if decreasing && sqrtRatioLimitX96.Cmp(sqrtRatioX96) > 0 {
		return SwapStepResult{}, ErrSqrtRatioLimitInvalid
	}
	if !decreasing && sqrtRatioLimitX96.Cmp(sqrtRatioX96) < 0 {
		return SwapStepResult{}, ErrSqrtRatioLimitInvalid
	}

	step, err := computeSwapStep(sqrtRatioX96, sqrtRatioLimitX96, liquidity, amount, feePips)
	if err != nil {
		return SwapStepResult{}, err
	}

	res := SwapStepResult{
		SqrtRatioNextX96: step.sqrtRatioNextX96,
		FeeAmount:        step.feeAmount,
	}
	if amount.Sign() > 0 {
		res.ConsumedAmount = new(big.Int).Add(step.amountIn, step.feeAmount)
		res.CalculatedAmount = new(big.Int).Neg(step.amountOut)
	} else {
		res.ConsumedAmount = new(big.Int).Neg(step.amountOut)
		res.CalculatedAmount = new(big.Int).Add(step.amountIn, step.feeAmount)
	}
	return res, nil
}
