// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

// PoolManager is the singleton engine facade. All pools live behind this
// one object, enabling:
// - Flash accounting (net token transfers at end of transaction)
// - Unified liquidity across all markets
// - Gas-efficient multi-hop swaps
// - Native LUX support without wrapping
type PoolManager struct {
	// mu serializes top-level session entries; it is held for the whole
	// outermost session
	mu sync.Mutex

	// stateMu guards the session ownership fields, so Lock can tell a
	// nested re-entry from a concurrent top-level entry
	stateMu      sync.Mutex
	sessionOwner uint64
	sessionDepth int

	log log.Logger

	// pools caches pool states by id; read-through over StateDB
	pools map[[32]byte]*Pool

	extensions *extensionRegistry

	// frames is the open session stack (innermost last)
	frames        []*frame
	nextSessionID uint64
	snapshot      int
	aborted       bool

	// savedBalances and reserves are read-through caches
	savedBalances map[[32]byte]*big.Int
	reserves      map[Currency]*big.Int

	// protocolFeeRate is the ppm share of realized fees skimmed for the
	// protocol; feeController may change it and sweep the accumulators
	protocolFeeRate uint24
	feeController   common.Address
}

// NewPoolManager creates a new pool manager instance
func NewPoolManager() *PoolManager {
	return &PoolManager{
		log:           log.NewTestLogger(log.InfoLevel),
		pools:         make(map[[32]byte]*Pool),
		extensions:    newExtensionRegistry(),
		savedBalances: make(map[[32]byte]*big.Int),
		reserves:      make(map[Currency]*big.Int),
	}
}

// SetLogger replaces the manager's logger.
func (pm *PoolManager) SetLogger(logger log.Logger) {
	pm.log = logger
}

// getPool returns the cached pool for a key, faulting its header in from
// storage and wiring its tick/bitmap/position caches to the store.
func (pm *PoolManager) getPool(stateDB StateDB, key PoolKey) *Pool {
	poolID := key.ID()
	if pool, ok := pm.pools[poolID]; ok {
		return pool
	}

	pool := NewPool(key)
	store := &poolStore{db: stateDB, id: poolID}
	store.attach(pool)
	store.loadPoolHeader(pool)

	pm.pools[poolID] = pool
	return pool
}

// savePool writes the pool header back to storage.
func (pm *PoolManager) savePool(stateDB StateDB, pool *Pool) {
	store := &poolStore{db: stateDB, id: pool.Key.ID()}
	store.storePoolHeader(pool)
}

// RegisterExtension binds an extension implementation to its address. The
// declared call points must match the address encoding.
func (pm *PoolManager) RegisterExtension(addr common.Address, ext Extension, points CallPoints) error {
	if err := pm.extensions.register(addr, ext, points); err != nil {
		return err
	}
	pm.log.Info("extension registered", "address", addr.Hex(), "callPoints", uint16(points))
	return nil
}

// =========================================================================
// Pool Initialization
// =========================================================================

// Initialize creates a pool for the key at the given starting tick and
// returns the starting sqrt ratio. Pools move no tokens at creation, so no
// session is required.
func (pm *PoolManager) Initialize(stateDB StateDB, key PoolKey, initialTick int24) (*big.Int, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.Extension != (common.Address{}) {
		if _, ok := pm.extensions.lookup(key.Extension); !ok {
			return nil, ErrExtensionNotRegistered
		}
	}

	pool := pm.getPool(stateDB, key)
	if pool.IsInitialized() {
		return nil, ErrPoolAlreadyInitialized
	}

	caller := pm.currentCaller()
	if ext, ok := pm.extensions.shouldCall(key.Extension, CallBeforeInitialize, caller); ok {
		if err := ext.BeforeInitialize(key, initialTick); err != nil {
			return nil, pm.fail(err)
		}
	}

	sqrtRatio, err := pool.initialize(initialTick)
	if err != nil {
		return nil, pm.fail(err)
	}
	pm.savePool(stateDB, pool)

	if ext, ok := pm.extensions.shouldCall(key.Extension, CallAfterInitialize, caller); ok {
		if err := ext.AfterInitialize(key, initialTick, sqrtRatio); err != nil {
			return nil, pm.fail(err)
		}
	}

	poolID := key.ID()
	pm.log.Info("pool initialized",
		"pool", common.BytesToHash(poolID[:]).Hex(),
		"tick", initialTick,
		"fee", key.Fee,
		"tickSpacing", key.TickSpacing)
	return sqrtRatio, nil
}

// =========================================================================
// Swaps and Liquidity
// =========================================================================

// Swap executes a swap against a pool inside the current session. The
// returned delta is recorded as the session's debt.
func (pm *PoolManager) Swap(stateDB StateDB, key PoolKey, params SwapParams) (BalanceDelta, error) {
	f := pm.currentFrame()
	if f == nil {
		return BalanceDelta{}, ErrNoActiveSession
	}

	pool := pm.getPool(stateDB, key)
	if ext, ok := pm.extensions.shouldCall(key.Extension, CallBeforeSwap, f.owner); ok {
		if err := ext.BeforeSwap(key, params); err != nil {
			return BalanceDelta{}, pm.fail(err)
		}
	}

	delta, err := pool.swap(params)
	if err != nil {
		return BalanceDelta{}, pm.fail(err)
	}
	pm.savePool(stateDB, pool)

	f.update(key.Currency0, delta.Amount0)
	f.update(key.Currency1, delta.Amount1)

	if ext, ok := pm.extensions.shouldCall(key.Extension, CallAfterSwap, f.owner); ok {
		if err := ext.AfterSwap(key, params, delta); err != nil {
			return BalanceDelta{}, pm.fail(err)
		}
	}

	pm.log.Debug("swap",
		"session", f.id,
		"amount0", delta.Amount0,
		"amount1", delta.Amount1,
		"tick", pool.Tick)
	return delta, nil
}

// ModifyPosition changes the session owner's position liquidity. Returns
// the principal delta and the realized fee delta, both recorded against
// the session.
func (pm *PoolManager) ModifyPosition(stateDB StateDB, key PoolKey, params ModifyPositionParams) (BalanceDelta, BalanceDelta, error) {
	f := pm.currentFrame()
	if f == nil {
		return BalanceDelta{}, BalanceDelta{}, ErrNoActiveSession
	}

	pool := pm.getPool(stateDB, key)
	if ext, ok := pm.extensions.shouldCall(key.Extension, CallBeforeUpdatePosition, f.owner); ok {
		if err := ext.BeforeUpdatePosition(key, params); err != nil {
			return BalanceDelta{}, BalanceDelta{}, pm.fail(err)
		}
	}

	principal, feesAccrued, err := pool.modifyPosition(f.owner, params, pm.protocolFeeRate)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, pm.fail(err)
	}
	pm.savePool(stateDB, pool)

	total := principal.Add(feesAccrued)
	f.update(key.Currency0, total.Amount0)
	f.update(key.Currency1, total.Amount1)

	if ext, ok := pm.extensions.shouldCall(key.Extension, CallAfterUpdatePosition, f.owner); ok {
		if err := ext.AfterUpdatePosition(key, params, total); err != nil {
			return BalanceDelta{}, BalanceDelta{}, pm.fail(err)
		}
	}

	pm.log.Debug("position modified",
		"session", f.id,
		"tickLower", params.TickLower,
		"tickUpper", params.TickUpper,
		"liquidityDelta", params.LiquidityDelta)
	return principal, feesAccrued, nil
}

// CollectFees realizes the session owner's uncollected position fees and
// credits them to the session.
func (pm *PoolManager) CollectFees(stateDB StateDB, key PoolKey, salt [32]byte, tickLower, tickUpper int24) (*big.Int, *big.Int, error) {
	f := pm.currentFrame()
	if f == nil {
		return nil, nil, ErrNoActiveSession
	}

	pool := pm.getPool(stateDB, key)
	if ext, ok := pm.extensions.shouldCall(key.Extension, CallBeforeCollectFees, f.owner); ok {
		if err := ext.BeforeCollectFees(key, f.owner, salt, tickLower, tickUpper); err != nil {
			return nil, nil, pm.fail(err)
		}
	}

	amount0, amount1, err := pool.collectFees(f.owner, salt, tickLower, tickUpper, pm.protocolFeeRate)
	if err != nil {
		return nil, nil, pm.fail(err)
	}
	pm.savePool(stateDB, pool)

	f.update(key.Currency0, new(big.Int).Neg(amount0))
	f.update(key.Currency1, new(big.Int).Neg(amount1))

	if ext, ok := pm.extensions.shouldCall(key.Extension, CallAfterCollectFees, f.owner); ok {
		if err := ext.AfterCollectFees(key, f.owner, salt, tickLower, tickUpper, amount0, amount1); err != nil {
			return nil, nil, pm.fail(err)
		}
	}
	return amount0, amount1, nil
}

// =========================================================================
// Protocol fees
// =========================================================================

// SetProtocolFeeController hands fee control to a new address. The first
// assignment is open; afterwards only the current controller may change it.
func (pm *PoolManager) SetProtocolFeeController(caller, controller common.Address) error {
	if pm.feeController != (common.Address{}) && caller != pm.feeController {
		return ErrUnauthorized
	}
	pm.feeController = controller
	pm.log.Info("protocol fee controller set", "controller", controller.Hex())
	return nil
}

// SetProtocolFeeRate sets the ppm share of realized fees skimmed for the
// protocol.
func (pm *PoolManager) SetProtocolFeeRate(caller common.Address, rate uint24) error {
	if caller != pm.feeController || caller == (common.Address{}) {
		return ErrUnauthorized
	}
	if rate > FeeMax {
		return ErrInvalidFee
	}
	pm.protocolFeeRate = rate
	pm.log.Info("protocol fee rate set", "rate", rate)
	return nil
}

// ProtocolFeeRate returns the current skim rate in ppm.
func (pm *PoolManager) ProtocolFeeRate() uint24 {
	return pm.protocolFeeRate
}

// CollectProtocolFees sweeps a pool's protocol fee accumulators into the
// controller's session.
func (pm *PoolManager) CollectProtocolFees(stateDB StateDB, key PoolKey) (*big.Int, *big.Int, error) {
	f := pm.currentFrame()
	if f == nil {
		return nil, nil, ErrNoActiveSession
	}
	if f.owner != pm.feeController || pm.feeController == (common.Address{}) {
		return nil, nil, pm.fail(ErrUnauthorized)
	}

	pool := pm.getPool(stateDB, key)
	if !pool.IsInitialized() {
		return nil, nil, pm.fail(ErrPoolNotInitialized)
	}

	amount0 := new(big.Int).Set(pool.ProtocolFees0)
	amount1 := new(big.Int).Set(pool.ProtocolFees1)
	pool.ProtocolFees0.SetInt64(0)
	pool.ProtocolFees1.SetInt64(0)
	pm.savePool(stateDB, pool)

	f.update(key.Currency0, new(big.Int).Neg(amount0))
	f.update(key.Currency1, new(big.Int).Neg(amount1))
	return amount0, amount1, nil
}

// =========================================================================
// Views
// =========================================================================

// GetPoolState returns the pool's current price, tick and active liquidity.
func (pm *PoolManager) GetPoolState(stateDB StateDB, key PoolKey) (*big.Int, int24, *big.Int, error) {
	pool := pm.getPool(stateDB, key)
	if !pool.IsInitialized() {
		return nil, 0, nil, ErrPoolNotInitialized
	}
	return new(big.Int).Set(pool.SqrtRatioX96), pool.Tick, new(big.Int).Set(pool.Liquidity), nil
}

// FeesInside returns the Q128.128 per-liquidity fee growth inside a range.
func (pm *PoolManager) FeesInside(stateDB StateDB, key PoolKey, tickLower, tickUpper int24) (*uint256.Int, *uint256.Int, error) {
	pool := pm.getPool(stateDB, key)
	if !pool.IsInitialized() {
		return nil, nil, ErrPoolNotInitialized
	}
	if err := pool.checkTickRange(tickLower, tickUpper); err != nil {
		return nil, nil, err
	}
	inside0, inside1 := pool.feesInside(tickLower, tickUpper)
	return inside0, inside1, nil
}

// NextInitializedTick searches upward from fromTick (exclusive).
func (pm *PoolManager) NextInitializedTick(stateDB StateDB, key PoolKey, fromTick int24, skipAhead uint32) (int24, bool) {
	pool := pm.getPool(stateDB, key)
	return pool.bitmap.nextInitialized(fromTick, key.TickSpacing, false, skipAhead)
}

// PrevInitializedTick searches downward from fromTick (inclusive).
func (pm *PoolManager) PrevInitializedTick(stateDB StateDB, key PoolKey, fromTick int24, skipAhead uint32) (int24, bool) {
	pool := pm.getPool(stateDB, key)
	return pool.bitmap.nextInitialized(fromTick, key.TickSpacing, true, skipAhead)
}

// GetPosition returns a position's liquidity and fee snapshots.
func (pm *PoolManager) GetPosition(stateDB StateDB, key PoolKey, owner common.Address, tickLower, tickUpper int24, salt [32]byte) (*Position, error) {
	pool := pm.getPool(stateDB, key)
	if !pool.IsInitialized() {
		return nil, ErrPoolNotInitialized
	}
	id := PositionID(owner, tickLower, tickUpper, salt)
	pos := pool.position(id, owner, tickLower, tickUpper)
	return &Position{
		Owner:                pos.Owner,
		TickLower:            pos.TickLower,
		TickUpper:            pos.TickUpper,
		Liquidity:            new(big.Int).Set(pos.Liquidity),
		FeeGrowthInside0Last: new(uint256.Int).Set(pos.FeeGrowthInside0Last),
		FeeGrowthInside1Last: new(uint256.Int).Set(pos.FeeGrowthInside1Last),
	}, nil
}

// GetProtocolFees returns a pool's accumulated protocol fees.
func (pm *PoolManager) GetProtocolFees(stateDB StateDB, key PoolKey) (*big.Int, *big.Int) {
	pool := pm.getPool(stateDB, key)
	return new(big.Int).Set(pool.ProtocolFees0), new(big.Int).Set(pool.ProtocolFees1)
}
