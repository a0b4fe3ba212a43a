// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"

	"github.com/holiman/uint256"
)

// =============================================================================
// Per-Tick Liquidity Accounting
// =============================================================================

// tickInfo holds the state for one initialized tick. Fee-growth-outside
// values are Q128.128 with mod-2^256 wraparound: only differences of the
// accumulators are meaningful.
type tickInfo struct {
	liquidityGross    *big.Int // Total position liquidity referencing this tick
	liquidityNet      *big.Int // Signed: added when crossing up, removed crossing down
	feeGrowthOutside0 *uint256.Int
	feeGrowthOutside1 *uint256.Int
}

func newTickInfo() *tickInfo {
	return &tickInfo{
		liquidityGross:    big.NewInt(0),
		liquidityNet:      big.NewInt(0),
		feeGrowthOutside0: new(uint256.Int),
		feeGrowthOutside1: new(uint256.Int),
	}
}

// tickTable is the per-pool tick record map, faulted in from storage on
// first access and written through on mutation.
type tickTable struct {
	ticks  map[int24]*tickInfo
	loaded map[int24]bool

	load func(tick int24) *tickInfo
	save func(tick int24, info *tickInfo)
}

func newTickTable() *tickTable {
	return &tickTable{
		ticks:  make(map[int24]*tickInfo),
		loaded: make(map[int24]bool),
	}
}

func (tt *tickTable) get(tick int24) *tickInfo {
	if info, ok := tt.ticks[tick]; ok {
		return info
	}
	if tt.load != nil && !tt.loaded[tick] {
		tt.loaded[tick] = true
		if info := tt.load(tick); info != nil {
			tt.ticks[tick] = info
			return info
		}
	}
	info := newTickInfo()
	tt.ticks[tick] = info
	return info
}

func (tt *tickTable) persist(tick int24, info *tickInfo) {
	if tt.save != nil {
		tt.save(tick, info)
	}
}

// update applies a signed liquidity delta to a tick bound. upper selects
// the subtracting side of the net delta. A tick whose gross liquidity
// becomes zero or nonzero flips its bitmap bit; the caller handles the
// flip. Newly referenced ticks at or below the current price seed their
// outside snapshots with the current global accumulators.
func (tt *tickTable) update(tick, currentTick int24, liquidityDelta *big.Int, upper bool, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int, maxLiquidity *big.Int) (flipped bool, err error) {
	info := tt.get(tick)

	grossBefore := new(big.Int).Set(info.liquidityGross)
	grossAfter := new(big.Int).Add(grossBefore, liquidityDelta)
	if grossAfter.Sign() < 0 {
		return false, ErrInsufficientLiquidity
	}
	if grossAfter.Cmp(maxLiquidity) > 0 {
		return false, ErrLiquidityOverflow
	}

	if grossBefore.Sign() == 0 && tick <= currentTick {
		// All prior growth is treated as having happened below the tick.
		info.feeGrowthOutside0.Set(feeGrowthGlobal0)
		info.feeGrowthOutside1.Set(feeGrowthGlobal1)
	}

	info.liquidityGross = grossAfter
	if upper {
		info.liquidityNet.Sub(info.liquidityNet, liquidityDelta)
	} else {
		info.liquidityNet.Add(info.liquidityNet, liquidityDelta)
	}
	tt.persist(tick, info)

	return (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0), nil
}

// cross flips the tick's outside snapshots against the given globals and
// returns the signed net liquidity to apply when crossing left to right.
func (tt *tickTable) cross(tick int24, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int) *big.Int {
	info := tt.get(tick)
	info.feeGrowthOutside0.Sub(feeGrowthGlobal0, info.feeGrowthOutside0)
	info.feeGrowthOutside1.Sub(feeGrowthGlobal1, info.feeGrowthOutside1)
	tt.persist(tick, info)
	return new(big.Int).Set(info.liquidityNet)
}

// feeGrowthInside returns the Q128.128 fee growth accumulated inside
// [tickLower, tickUpper], per unit liquidity, for both tokens. All
// subtraction wraps mod 2^256.
func (tt *tickTable) feeGrowthInside(tickLower, tickUpper, currentTick int24, feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int) (*uint256.Int, *uint256.Int) {
	lower := tt.get(tickLower)
	upper := tt.get(tickUpper)

	below0, below1 := new(uint256.Int), new(uint256.Int)
	if currentTick >= tickLower {
		below0.Set(lower.feeGrowthOutside0)
		below1.Set(lower.feeGrowthOutside1)
	} else {
		below0.Sub(feeGrowthGlobal0, lower.feeGrowthOutside0)
		below1.Sub(feeGrowthGlobal1, lower.feeGrowthOutside1)
	}

	above0, above1 := new(uint256.Int), new(uint256.Int)
	if currentTick < tickUpper {
		above0.Set(upper.feeGrowthOutside0)
		above1.Set(upper.feeGrowthOutside1)
	} else {
		above0.Sub(feeGrowthGlobal0, upper.feeGrowthOutside0)
		above1.Sub(feeGrowthGlobal1, upper.feeGrowthOutside1)
	}

	inside0 := new(uint256.Int).Sub(feeGrowthGlobal0, below0)
	inside0.Sub(inside0, above0)
	inside1 := new(uint256.Int).Sub(feeGrowthGlobal1, below1)
	inside1.Sub(inside1, above1)
	return inside0, inside1
}

// tickSpacingToMaxLiquidityPerTick bounds per-tick gross liquidity so the
// sum over all usable ticks stays under 2^128.
func tickSpacingToMaxLiquidityPerTick(tickSpacing int24) *big.Int {
	minCompressed := MinTick / tickSpacing
	maxCompressed := MaxTick / tickSpacing
	numTicks := int64(maxCompressed-minCompressed) + 1
	return new(big.Int).Div(maxUint128, big.NewInt(numTicks))
}
