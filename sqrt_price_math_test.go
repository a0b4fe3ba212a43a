// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"
	"testing"
)

func TestLiquidityDeltaToAmountDeltaSigns(t *testing.T) {
	liquidity := big.NewInt(1000000)

	tests := []struct {
		name        string
		currentTick int24
		tickLower   int24
		tickUpper   int24
		wantAmount0 int // sign
		wantAmount1 int // sign
	}{
		{"range above current price needs only token0", 0, 60, 120, 1, 0},
		{"range below current price needs only token1", 0, -120, -60, 0, 1},
		{"range straddling current price needs both", 0, -60, 60, 1, 1},
		{"lower bound at current tick is in range", 0, 0, 60, 1, 0},
		{"upper bound at current tick is out of range", 0, -60, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := LiquidityDeltaToAmountDelta(Q96, tt.currentTick, liquidity, tt.tickLower, tt.tickUpper)
			if err != nil {
				t.Fatalf("LiquidityDeltaToAmountDelta error: %v", err)
			}
			if delta.Amount0.Sign() != tt.wantAmount0 {
				t.Errorf("amount0 sign mismatch: got %v, want sign %d", delta.Amount0, tt.wantAmount0)
			}
			if delta.Amount1.Sign() != tt.wantAmount1 {
				t.Errorf("amount1 sign mismatch: got %v, want sign %d", delta.Amount1, tt.wantAmount1)
			}
		})
	}
}

// Adding rounds against the caller and removing rounds in the pool's favor:
// a full add/remove round trip never pays out more than was deposited, and
// the rounding gap is at most one unit per token.
func TestLiquidityDeltaToAmountDeltaRoundTrip(t *testing.T) {
	liquidity := big.NewInt(123456789)
	ranges := []struct {
		lower, upper int24
	}{
		{-60, 60},
		{-887220, 887220},
		{-600, -60},
		{60, 600},
	}

	for _, r := range ranges {
		add, err := LiquidityDeltaToAmountDelta(Q96, 0, liquidity, r.lower, r.upper)
		if err != nil {
			t.Fatalf("add error for [%d, %d]: %v", r.lower, r.upper, err)
		}
		remove, err := LiquidityDeltaToAmountDelta(Q96, 0, new(big.Int).Neg(liquidity), r.lower, r.upper)
		if err != nil {
			t.Fatalf("remove error for [%d, %d]: %v", r.lower, r.upper, err)
		}

		gap0 := new(big.Int).Add(add.Amount0, remove.Amount0)
		gap1 := new(big.Int).Add(add.Amount1, remove.Amount1)
		if gap0.Sign() < 0 || gap0.Cmp(big.NewInt(1)) > 0 {
			t.Errorf("amount0 rounding gap for [%d, %d]: got %v, want 0 or 1", r.lower, r.upper, gap0)
		}
		if gap1.Sign() < 0 || gap1.Cmp(big.NewInt(1)) > 0 {
			t.Errorf("amount1 rounding gap for [%d, %d]: got %v, want 0 or 1", r.lower, r.upper, gap1)
		}
	}
}

func TestAmountDeltasSymmetric(t *testing.T) {
	a, err := TickToSqrtRatio(-60)
	if err != nil {
		t.Fatalf("TickToSqrtRatio error: %v", err)
	}
	b, err := TickToSqrtRatio(60)
	if err != nil {
		t.Fatalf("TickToSqrtRatio error: %v", err)
	}
	liquidity := big.NewInt(1000000)

	// Argument order must not matter.
	d0ab, err := amount0Delta(a, b, liquidity, true)
	if err != nil {
		t.Fatalf("amount0Delta error: %v", err)
	}
	d0ba, err := amount0Delta(b, a, liquidity, true)
	if err != nil {
		t.Fatalf("amount0Delta error: %v", err)
	}
	if d0ab.Cmp(d0ba) != 0 {
		t.Errorf("amount0Delta not symmetric: %v vs %v", d0ab, d0ba)
	}

	d1ab := amount1Delta(a, b, liquidity, true)
	d1ba := amount1Delta(b, a, liquidity, true)
	if d1ab.Cmp(d1ba) != 0 {
		t.Errorf("amount1Delta not symmetric: %v vs %v", d1ab, d1ba)
	}

	// Rounding up never yields less than rounding down.
	d0down, err := amount0Delta(a, b, liquidity, false)
	if err != nil {
		t.Fatalf("amount0Delta error: %v", err)
	}
	if d0down.Cmp(d0ab) > 0 {
		t.Errorf("round down exceeds round up: %v > %v", d0down, d0ab)
	}
}

func TestNextSqrtRatioFromInputMovesTowardLimit(t *testing.T) {
	liquidity := big.NewInt(1000000)
	amount := big.NewInt(1000)

	down, err := nextSqrtRatioFromInput(Q96, liquidity, amount, true)
	if err != nil {
		t.Fatalf("nextSqrtRatioFromInput error: %v", err)
	}
	if down.Cmp(Q96) >= 0 {
		t.Errorf("token0 input must decrease price: got %v", down)
	}

	up, err := nextSqrtRatioFromInput(Q96, liquidity, amount, false)
	if err != nil {
		t.Fatalf("nextSqrtRatioFromInput error: %v", err)
	}
	if up.Cmp(Q96) <= 0 {
		t.Errorf("token1 input must increase price: got %v", up)
	}
}

func TestNextSqrtRatioFromOutputUnderflow(t *testing.T) {
	liquidity := big.NewInt(10)
	// Asking for more token1 than the liquidity can cover underflows.
	_, err := nextSqrtRatioFromOutput(Q96, liquidity, new(big.Int).Lsh(big.NewInt(1), 120), true)
	if err == nil {
		t.Error("Expected error for output exceeding available range")
	}
}
