// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"errors"
	"math/big"
	"testing"
)

func TestTickToSqrtRatioKnownValues(t *testing.T) {
	tests := []struct {
		name string
		tick int24
		want *big.Int
	}{
		{"zero tick is one in Q64.96", 0, new(big.Int).Set(Q96)},
		{"tick one", 1, bigInt("79232123823359799118286999568")},
		{"tick minus one", -1, bigInt("79224201403219477170569942574")},
		{"min tick", MinTick, new(big.Int).Set(MinSqrtRatio)},
		{"max tick", MaxTick, new(big.Int).Set(MaxSqrtRatio)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TickToSqrtRatio(tt.tick)
			if err != nil {
				t.Fatalf("TickToSqrtRatio(%d) error: %v", tt.tick, err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Errorf("TickToSqrtRatio(%d) mismatch: got %v, want %v", tt.tick, got, tt.want)
			}
		})
	}
}

func TestTickToSqrtRatioOutOfRange(t *testing.T) {
	for _, tick := range []int24{MinTick - 1, MaxTick + 1} {
		if _, err := TickToSqrtRatio(tick); !errors.Is(err, ErrTickOutOfRange) {
			t.Errorf("TickToSqrtRatio(%d) error mismatch: got %v, want %v", tick, err, ErrTickOutOfRange)
		}
	}
}

func TestTickToSqrtRatioMonotonic(t *testing.T) {
	ticks := []int24{MinTick, -887270, -100000, -1907, -60, -1, 0, 1, 60, 1907, 100000, 887270, MaxTick}
	prev, err := TickToSqrtRatio(ticks[0])
	if err != nil {
		t.Fatalf("TickToSqrtRatio(%d) error: %v", ticks[0], err)
	}
	for _, tick := range ticks[1:] {
		cur, err := TickToSqrtRatio(tick)
		if err != nil {
			t.Fatalf("TickToSqrtRatio(%d) error: %v", tick, err)
		}
		if cur.Cmp(prev) <= 0 {
			t.Errorf("sqrt ratio not increasing at tick %d: %v <= %v", tick, cur, prev)
		}
		prev = cur
	}
}

func TestTickAtSqrtRatioInverse(t *testing.T) {
	ticks := []int24{MinTick, -887220, -100000, -1907, -60, -1, 0, 1, 60, 1907, 100000, 887220, MaxTick}
	for _, tick := range ticks {
		ratio, err := TickToSqrtRatio(tick)
		if err != nil {
			t.Fatalf("TickToSqrtRatio(%d) error: %v", tick, err)
		}
		got, err := TickAtSqrtRatio(ratio)
		if err != nil {
			t.Fatalf("TickAtSqrtRatio(%v) error: %v", ratio, err)
		}
		if got != tick {
			t.Errorf("round trip mismatch at tick %d: got %d", tick, got)
		}
	}
}

// The inverse is a floor: any price strictly between two tick boundaries maps
// to the lower tick.
func TestTickAtSqrtRatioFloor(t *testing.T) {
	for _, tick := range []int24{-1907, -1, 0, 60, 100000} {
		ratio, err := TickToSqrtRatio(tick)
		if err != nil {
			t.Fatalf("TickToSqrtRatio(%d) error: %v", tick, err)
		}
		bumped := new(big.Int).Add(ratio, big.NewInt(1))
		got, err := TickAtSqrtRatio(bumped)
		if err != nil {
			t.Fatalf("TickAtSqrtRatio(%v) error: %v", bumped, err)
		}
		if got != tick {
			t.Errorf("floor mismatch just above tick %d: got %d", tick, got)
		}
	}
}

func TestTickAtSqrtRatioDomain(t *testing.T) {
	below := new(big.Int).Sub(MinSqrtRatio, big.NewInt(1))
	if _, err := TickAtSqrtRatio(below); !errors.Is(err, ErrSqrtRatioOutOfBounds) {
		t.Errorf("below MinSqrtRatio error mismatch: got %v, want %v", err, ErrSqrtRatioOutOfBounds)
	}
	above := new(big.Int).Add(MaxSqrtRatio, big.NewInt(1))
	if _, err := TickAtSqrtRatio(above); !errors.Is(err, ErrSqrtRatioOutOfBounds) {
		t.Errorf("above MaxSqrtRatio error mismatch: got %v, want %v", err, ErrSqrtRatioOutOfBounds)
	}

	got, err := TickAtSqrtRatio(MaxSqrtRatio)
	if err != nil {
		t.Fatalf("TickAtSqrtRatio(MaxSqrtRatio) error: %v", err)
	}
	if got != MaxTick {
		t.Errorf("TickAtSqrtRatio(MaxSqrtRatio) mismatch: got %d, want %d", got, MaxTick)
	}
}
