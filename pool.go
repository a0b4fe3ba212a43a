// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Position represents a liquidity position
type Position struct {
	Owner                common.Address
	TickLower            int24
	TickUpper            int24
	Liquidity            *big.Int
	FeeGrowthInside0Last *uint256.Int
	FeeGrowthInside1Last *uint256.Int
}

func newPosition(owner common.Address, tickLower, tickUpper int24) *Position {
	return &Position{
		Owner:                owner,
		TickLower:            tickLower,
		TickUpper:            tickUpper,
		Liquidity:            big.NewInt(0),
		FeeGrowthInside0Last: new(uint256.Int),
		FeeGrowthInside1Last: new(uint256.Int),
	}
}

// Pool represents the state of a liquidity pool
type Pool struct {
	Key              PoolKey
	SqrtRatioX96     *big.Int     // sqrt(price) * 2^96 (Q64.96)
	Tick             int24        // Current tick (floor of the price)
	Liquidity        *big.Int     // Active in-range liquidity (L)
	FeeGrowthGlobal0 *uint256.Int // Q128.128, wraps mod 2^256
	FeeGrowthGlobal1 *uint256.Int // Q128.128, wraps mod 2^256
	ProtocolFees0    *big.Int     // Accumulated protocol fees currency0
	ProtocolFees1    *big.Int     // Accumulated protocol fees currency1

	initialized         bool
	maxLiquidityPerTick *big.Int

	ticks     *tickTable
	bitmap    *tickBitmap
	positions map[[32]byte]*Position
	posLoaded map[[32]byte]bool

	// Optional persistence hooks; nil keeps the pool memory-only.
	loadPosition func(id [32]byte) *Position
	savePosition func(id [32]byte, pos *Position)
}

// NewPool creates a new uninitialized pool for the given key.
func NewPool(key PoolKey) *Pool {
	return &Pool{
		Key:                 key,
		SqrtRatioX96:        big.NewInt(0),
		Tick:                0,
		Liquidity:           big.NewInt(0),
		FeeGrowthGlobal0:    new(uint256.Int),
		FeeGrowthGlobal1:    new(uint256.Int),
		ProtocolFees0:       big.NewInt(0),
		ProtocolFees1:       big.NewInt(0),
		maxLiquidityPerTick: tickSpacingToMaxLiquidityPerTick(key.TickSpacing),
		ticks:               newTickTable(),
		bitmap:              newTickBitmap(),
		positions:           make(map[[32]byte]*Position),
		posLoaded:           make(map[[32]byte]bool),
	}
}

// IsInitialized returns true if the pool has been initialized
func (p *Pool) IsInitialized() bool {
	return p.initialized
}

// initialize sets the starting price from the initial tick.
func (p *Pool) initialize(tick int24) (*big.Int, error) {
	if p.initialized {
		return nil, ErrPoolAlreadyInitialized
	}
	sqrtRatio, err := TickToSqrtRatio(tick)
	if err != nil {
		return nil, err
	}
	p.SqrtRatioX96 = sqrtRatio
	p.Tick = tick
	p.initialized = true
	return new(big.Int).Set(sqrtRatio), nil
}

func (p *Pool) position(id [32]byte, owner common.Address, tickLower, tickUpper int24) *Position {
	if pos, ok := p.positions[id]; ok {
		return pos
	}
	if p.loadPosition != nil && !p.posLoaded[id] {
		p.posLoaded[id] = true
		if pos := p.loadPosition(id); pos != nil {
			pos.Owner = owner
			pos.TickLower = tickLower
			pos.TickUpper = tickUpper
			p.positions[id] = pos
			return pos
		}
	}
	pos := newPosition(owner, tickLower, tickUpper)
	p.positions[id] = pos
	return pos
}

// positionFees returns the uncollected fees implied by the gap between the
// current fees-inside values and the position's snapshots, floored and
// truncated to the 128-bit amount domain. Realization never fails: every
// position mutation goes through it, so an error on an over-accrued
// snapshot gap would leave the position permanently immutable.
func positionFees(pos *Position, inside0, inside1 *uint256.Int) (*big.Int, *big.Int) {
	diff0 := new(uint256.Int).Sub(inside0, pos.FeeGrowthInside0Last)
	diff1 := new(uint256.Int).Sub(inside1, pos.FeeGrowthInside1Last)

	fees0 := new(big.Int).Mul(pos.Liquidity, diff0.ToBig())
	fees0.Rsh(fees0, 128)
	fees0.And(fees0, maxUint128)

	fees1 := new(big.Int).Mul(pos.Liquidity, diff1.ToBig())
	fees1.Rsh(fees1, 128)
	fees1.And(fees1, maxUint128)
	return fees0, fees1
}

// skim splits realized fees between the protocol accumulators and the LP.
// The protocol share is floored so the two parts never exceed the whole.
func (p *Pool) skim(fees0, fees1 *big.Int, protocolFeeRate uint24) (*big.Int, *big.Int) {
	if protocolFeeRate == 0 {
		return fees0, fees1
	}
	rate := new(big.Int).SetUint64(uint64(protocolFeeRate))
	proto0 := mulDiv(fees0, rate, feeDenominatorBig)
	proto1 := mulDiv(fees1, rate, feeDenominatorBig)
	p.ProtocolFees0.Add(p.ProtocolFees0, proto0)
	p.ProtocolFees1.Add(p.ProtocolFees1, proto1)
	return new(big.Int).Sub(fees0, proto0), new(big.Int).Sub(fees1, proto1)
}

// feesInside returns the Q128.128 per-liquidity fee growth accumulated
// inside [tickLower, tickUpper].
func (p *Pool) feesInside(tickLower, tickUpper int24) (*uint256.Int, *uint256.Int) {
	return p.ticks.feeGrowthInside(tickLower, tickUpper, p.Tick, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1)
}

// checkTickRange validates position bounds against the pool spacing.
func (p *Pool) checkTickRange(tickLower, tickUpper int24) error {
	if tickLower >= tickUpper || tickLower < MinTick || tickUpper > MaxTick {
		return ErrInvalidTickRange
	}
	if tickLower%p.Key.TickSpacing != 0 || tickUpper%p.Key.TickSpacing != 0 {
		return ErrTickMisaligned
	}
	return nil
}

// =============================================================================
// Swap
// =============================================================================

// swap executes a bounded-step swap against the pool. The returned delta is
// positive for amounts owed to the pool and negative for amounts owed to
// the swapper.
func (p *Pool) swap(params SwapParams) (BalanceDelta, error) {
	if !p.initialized {
		return BalanceDelta{}, ErrPoolNotInitialized
	}
	amount := params.Amount
	if amount == nil || amount.Sign() == 0 {
		return ZeroBalanceDelta(), nil
	}
	if new(big.Int).Abs(amount).Cmp(MaxAmount) >= 0 {
		return BalanceDelta{}, ErrAmountOverflow
	}
	limit := params.SqrtRatioLimitX96
	if limit == nil || limit.Cmp(MinSqrtRatio) < 0 || limit.Cmp(MaxSqrtRatio) > 0 {
		return BalanceDelta{}, ErrSqrtRatioOutOfBounds
	}

	// Paying token0 or receiving token1 moves the price down.
	decreasing := (amount.Sign() > 0) != params.IsToken1
	if decreasing && limit.Cmp(p.SqrtRatioX96) > 0 {
		return BalanceDelta{}, ErrSqrtRatioLimitInvalid
	}
	if !decreasing && limit.Cmp(p.SqrtRatioX96) < 0 {
		return BalanceDelta{}, ErrSqrtRatioLimitInvalid
	}

	exactIn := amount.Sign() > 0
	remaining := new(big.Int).Set(amount)
	calculated := big.NewInt(0)
	sqrtRatio := new(big.Int).Set(p.SqrtRatioX96)
	tick := p.Tick
	liquidity := new(big.Int).Set(p.Liquidity)
	feeGrowth0 := new(uint256.Int).Set(p.FeeGrowthGlobal0)
	feeGrowth1 := new(uint256.Int).Set(p.FeeGrowthGlobal1)

	for remaining.Sign() != 0 && sqrtRatio.Cmp(limit) != 0 {
		nextTick, tickInitialized := p.bitmap.nextInitialized(tick, p.Key.TickSpacing, decreasing, params.SkipAhead)

		nextPrice, err := TickToSqrtRatio(nextTick)
		if err != nil {
			return BalanceDelta{}, err
		}
		target := nextPrice
		if decreasing && target.Cmp(limit) < 0 {
			target = limit
		}
		if !decreasing && target.Cmp(limit) > 0 {
			target = limit
		}

		stepStart := new(big.Int).Set(sqrtRatio)
		step, err := computeSwapStep(sqrtRatio, target, liquidity, remaining, p.Key.Fee)
		if err != nil {
			return BalanceDelta{}, err
		}
		sqrtRatio = step.sqrtRatioNextX96

		if exactIn {
			remaining.Sub(remaining, step.amountIn)
			remaining.Sub(remaining, step.feeAmount)
			calculated.Sub(calculated, step.amountOut)
		} else {
			remaining.Add(remaining, step.amountOut)
			calculated.Add(calculated, step.amountIn)
			calculated.Add(calculated, step.feeAmount)
		}

		if step.feeAmount.Sign() > 0 && liquidity.Sign() > 0 {
			fee, _ := uint256.FromBig(step.feeAmount)
			liq, _ := uint256.FromBig(liquidity)
			growth := new(uint256.Int).Lsh(fee, 128)
			growth.Div(growth, liq)
			if decreasing {
				feeGrowth0.Add(feeGrowth0, growth)
			} else {
				feeGrowth1.Add(feeGrowth1, growth)
			}
		}

		if sqrtRatio.Cmp(nextPrice) == 0 {
			if tickInitialized {
				net := p.ticks.cross(nextTick, feeGrowth0, feeGrowth1)
				if decreasing {
					liquidity.Sub(liquidity, net)
				} else {
					liquidity.Add(liquidity, net)
				}
			}
			if decreasing {
				tick = nextTick - 1
			} else {
				tick = nextTick
			}
		} else if sqrtRatio.Cmp(stepStart) != 0 {
			tick, err = TickAtSqrtRatio(sqrtRatio)
			if err != nil {
				return BalanceDelta{}, err
			}
		}
	}

	p.SqrtRatioX96 = sqrtRatio
	p.Tick = tick
	p.Liquidity = liquidity
	p.FeeGrowthGlobal0 = feeGrowth0
	p.FeeGrowthGlobal1 = feeGrowth1

	consumed := new(big.Int).Sub(amount, remaining)
	if params.IsToken1 {
		return BalanceDelta{Amount0: calculated, Amount1: consumed}, nil
	}
	return BalanceDelta{Amount0: consumed, Amount1: calculated}, nil
}

// =============================================================================
// Positions
// =============================================================================

// modifyPosition applies a signed liquidity change to a position and
// realizes its pending fees. It returns the principal delta (positive =
// owed to the pool) and the realized fee delta (always <= 0, owed to the
// caller, net of the protocol skim).
func (p *Pool) modifyPosition(owner common.Address, params ModifyPositionParams, protocolFeeRate uint24) (BalanceDelta, BalanceDelta, error) {
	if !p.initialized {
		return BalanceDelta{}, BalanceDelta{}, ErrPoolNotInitialized
	}
	if err := p.checkTickRange(params.TickLower, params.TickUpper); err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	delta := params.LiquidityDelta
	if delta == nil || delta.Sign() == 0 {
		// A zero delta still realizes fees, same as a collect.
		a0, a1, err := p.collectFees(owner, params.Salt, params.TickLower, params.TickUpper, protocolFeeRate)
		if err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
		return ZeroBalanceDelta(), BalanceDelta{Amount0: new(big.Int).Neg(a0), Amount1: new(big.Int).Neg(a1)}, nil
	}
	if new(big.Int).Abs(delta).Cmp(MaxAmount) >= 0 {
		return BalanceDelta{}, BalanceDelta{}, ErrAmountOverflow
	}

	id := PositionID(owner, params.TickLower, params.TickUpper, params.Salt)
	pos := p.position(id, owner, params.TickLower, params.TickUpper)

	newLiquidity := new(big.Int).Add(pos.Liquidity, delta)
	if newLiquidity.Sign() < 0 {
		return BalanceDelta{}, BalanceDelta{}, ErrInsufficientLiquidity
	}
	if delta.Sign() < 0 && newLiquidity.Sign() == 0 {
		// Emptying a position forfeits nothing: pending fees must be
		// collected first. Checked before any tick mutation.
		inside0, inside1 := p.feesInside(params.TickLower, params.TickUpper)
		fees0, fees1 := positionFees(pos, inside0, inside1)
		if fees0.Sign() != 0 || fees1.Sign() != 0 {
			return BalanceDelta{}, BalanceDelta{}, ErrFeesUncollected
		}
	}

	flippedLower, err := p.ticks.update(params.TickLower, p.Tick, delta, false, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1, p.maxLiquidityPerTick)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	flippedUpper, err := p.ticks.update(params.TickUpper, p.Tick, delta, true, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1, p.maxLiquidityPerTick)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	if flippedLower {
		if err := p.bitmap.flip(params.TickLower, p.Key.TickSpacing); err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}
	if flippedUpper {
		if err := p.bitmap.flip(params.TickUpper, p.Key.TickSpacing); err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}

	inside0, inside1 := p.feesInside(params.TickLower, params.TickUpper)
	fees0, fees1 := positionFees(pos, inside0, inside1)

	pos.Liquidity = newLiquidity
	pos.FeeGrowthInside0Last.Set(inside0)
	pos.FeeGrowthInside1Last.Set(inside1)
	if p.savePosition != nil {
		p.savePosition(id, pos)
	}

	principal, err := LiquidityDeltaToAmountDelta(p.SqrtRatioX96, p.Tick, delta, params.TickLower, params.TickUpper)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	if params.TickLower <= p.Tick && p.Tick < params.TickUpper {
		p.Liquidity = new(big.Int).Add(p.Liquidity, delta)
		if p.Liquidity.Cmp(MaxAmount) >= 0 {
			return BalanceDelta{}, BalanceDelta{}, ErrLiquidityOverflow
		}
	}

	lp0, lp1 := p.skim(fees0, fees1, protocolFeeRate)
	feesAccrued := BalanceDelta{Amount0: new(big.Int).Neg(lp0), Amount1: new(big.Int).Neg(lp1)}
	return principal, feesAccrued, nil
}

// collectFees realizes a position's pending fees and rebases its snapshots.
// Returns the (non-negative) LP amounts after the protocol skim.
func (p *Pool) collectFees(owner common.Address, salt [32]byte, tickLower, tickUpper int24, protocolFeeRate uint24) (*big.Int, *big.Int, error) {
	if !p.initialized {
		return nil, nil, ErrPoolNotInitialized
	}
	if err := p.checkTickRange(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}

	id := PositionID(owner, tickLower, tickUpper, salt)
	pos := p.position(id, owner, tickLower, tickUpper)

	inside0, inside1 := p.feesInside(tickLower, tickUpper)
	fees0, fees1 := positionFees(pos, inside0, inside1)

	pos.FeeGrowthInside0Last.Set(inside0)
	pos.FeeGrowthInside1Last.Set(inside1)
	if p.savePosition != nil {
		p.savePosition(id, pos)
	}

	lp0, lp1 := p.skim(fees0, fees1, protocolFeeRate)
	return lp0, lp1, nil
}
