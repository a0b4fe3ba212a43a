// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"bytes"
	"fmt"
	"math/big"
	"runtime"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// =========================================================================
// Flash Accounting - Session Frames
// =========================================================================

// frame is one open flash-accounting context. Every token an operation
// moves is recorded here as a signed debt (positive = owed to the pool);
// the frame may only close once every entry nets to zero.
type frame struct {
	id     uint64
	owner  common.Address
	deltas map[Currency]*big.Int
}

func (f *frame) update(currency Currency, amount *big.Int) {
	d, ok := f.deltas[currency]
	if !ok {
		d = big.NewInt(0)
		f.deltas[currency] = d
	}
	d.Add(d, amount)
}

// PayFunc funds the engine with the given currency during Pay. For native
// currency the engine measures its own balance increase; for tokens the
// callback returns the amount the environment transferred in.
type PayFunc func(currency Currency) (*big.Int, error)

// Lock opens a session frame for caller and runs callback inside it.
// Frames nest only when the goroutine that owns the open session re-enters
// Lock from within its callback; a Lock from any other goroutine is a new
// top-level entry and waits for the open session to finish. Nested
// operations attribute their deltas to the innermost open frame. The frame
// id passed to the callback is unique and monotonically increasing. On any
// failure anywhere in the nested sequence, the outermost Lock reverts the
// StateDB snapshot and drops the in-memory caches, leaving all state
// untouched.
func (pm *PoolManager) Lock(stateDB StateDB, caller common.Address, callback func(sessionID uint64) ([]byte, error)) ([]byte, error) {
	gid := goroutineID()

	// Reentrancy classification happens under stateMu: only the goroutine
	// that holds the open session may nest, everyone else queues on pm.mu.
	pm.stateMu.Lock()
	nested := pm.sessionDepth > 0 && pm.sessionOwner == gid
	pm.stateMu.Unlock()

	outer := !nested
	if outer {
		pm.mu.Lock()
		defer pm.mu.Unlock()

		pm.stateMu.Lock()
		pm.sessionOwner = gid
		pm.stateMu.Unlock()

		pm.snapshot = stateDB.Snapshot()
		pm.aborted = false
	}

	pm.stateMu.Lock()
	pm.sessionDepth++
	pm.stateMu.Unlock()

	id := pm.nextSessionID
	pm.nextSessionID++
	pm.frames = append(pm.frames, &frame{
		id:     id,
		owner:  caller,
		deltas: make(map[Currency]*big.Int),
	})

	result, err := callback(id)

	f := pm.frames[len(pm.frames)-1]
	pm.frames = pm.frames[:len(pm.frames)-1]

	pm.stateMu.Lock()
	pm.sessionDepth--
	pm.stateMu.Unlock()

	if err == nil && pm.aborted {
		err = ErrSessionAborted
	}
	if err == nil {
		for currency, delta := range f.deltas {
			if delta.Sign() != 0 {
				err = fmt.Errorf("%w: currency=%s, delta=%s",
					ErrNonZeroDelta, currency.Address.Hex(), delta.String())
				break
			}
		}
	}

	if err != nil {
		pm.aborted = true
		if outer {
			stateDB.RevertToSnapshot(pm.snapshot)
			pm.dropCaches()
			pm.log.Debug("session aborted", "session", id, "err", err)
		}
		return nil, err
	}

	if outer {
		pm.log.Debug("session settled", "session", id)
	}
	return result, nil
}

// currentFrame returns the innermost open frame, or nil.
func (pm *PoolManager) currentFrame() *frame {
	if len(pm.frames) == 0 {
		return nil
	}
	return pm.frames[len(pm.frames)-1]
}

// currentCaller returns the owner of the innermost open frame, or the zero
// address outside any session.
func (pm *PoolManager) currentCaller() common.Address {
	if f := pm.currentFrame(); f != nil {
		return f.owner
	}
	return common.Address{}
}

// fail marks the open session stack aborted before propagating err, so
// the failure still surfaces at Lock exit even if a callback swallows it
// and any partial writes the failed operation made get reverted. Outside
// a session there is nothing to poison and err passes through unchanged.
func (pm *PoolManager) fail(err error) error {
	pm.stateMu.Lock()
	if pm.sessionDepth > 0 {
		pm.aborted = true
	}
	pm.stateMu.Unlock()
	return err
}

// goroutineID parses the numeric id out of the current goroutine's stack
// header ("goroutine N [...]").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// dropCaches discards all read-through state so the next access reloads
// from the (reverted) StateDB.
func (pm *PoolManager) dropCaches() {
	pm.pools = make(map[[32]byte]*Pool)
	pm.savedBalances = make(map[[32]byte]*big.Int)
	pm.reserves = make(map[Currency]*big.Int)
}

// =========================================================================
// Settlement operations
// =========================================================================

// Pay credits the current frame with the currency the fund callback
// delivers to the engine, reducing the frame's debt in that currency.
// Returns the credited amount.
func (pm *PoolManager) Pay(stateDB StateDB, currency Currency, fund PayFunc) (*big.Int, error) {
	f := pm.currentFrame()
	if f == nil {
		return nil, ErrNoActiveSession
	}

	var credited *big.Int
	if currency.IsNative() {
		before := stateDB.GetBalance(engineAddr).ToBig()
		if _, err := fund(currency); err != nil {
			return nil, pm.fail(err)
		}
		after := stateDB.GetBalance(engineAddr).ToBig()
		credited = new(big.Int).Sub(after, before)
		if credited.Sign() < 0 {
			credited.SetInt64(0)
		}
	} else {
		paid, err := fund(currency)
		if err != nil {
			return nil, pm.fail(err)
		}
		if paid == nil || paid.Sign() < 0 {
			credited = big.NewInt(0)
		} else {
			credited = new(big.Int).Set(paid)
		}
	}
	if credited.Cmp(MaxAmount) >= 0 {
		return nil, pm.fail(ErrAmountOverflow)
	}

	reserve := pm.reserve(stateDB, currency)
	reserve.Add(reserve, credited)
	storeReserve(stateDB, currency, reserve)

	f.update(currency, new(big.Int).Neg(credited))
	return credited, nil
}

// Withdraw debits the current frame and releases amount of currency from
// the engine reserves to the recipient.
func (pm *PoolManager) Withdraw(stateDB StateDB, currency Currency, to common.Address, amount *big.Int) error {
	f := pm.currentFrame()
	if f == nil {
		return ErrNoActiveSession
	}
	if amount.Sign() < 0 || amount.Cmp(MaxAmount) >= 0 {
		return pm.fail(ErrAmountOverflow)
	}

	reserve := pm.reserve(stateDB, currency)
	if reserve.Cmp(amount) < 0 {
		return pm.fail(ErrInsufficientReserves)
	}
	reserve.Sub(reserve, amount)
	storeReserve(stateDB, currency, reserve)

	if currency.IsNative() {
		amountU256, _ := uint256.FromBig(amount)
		stateDB.SubBalance(engineAddr, amountU256)
		stateDB.AddBalance(to, amountU256)
	}

	f.update(currency, amount)
	return nil
}

// Save moves value from the current frame into a durable balance keyed by
// (owner, currency, salt). The frame takes on the corresponding debt.
func (pm *PoolManager) Save(stateDB StateDB, owner common.Address, currency Currency, salt [32]byte, amount *big.Int) error {
	f := pm.currentFrame()
	if f == nil {
		return ErrNoActiveSession
	}
	if amount.Sign() < 0 || amount.Cmp(MaxAmount) >= 0 {
		return pm.fail(ErrAmountOverflow)
	}

	id := savedBalanceID(owner, currency, salt)
	balance := pm.savedBalance(stateDB, id)
	balance.Add(balance, amount)
	storeSavedBalance(stateDB, id, balance)

	f.update(currency, amount)
	return nil
}

// Load draws down a durable balance into the current frame as a credit.
// Only the balance owner may load it.
func (pm *PoolManager) Load(stateDB StateDB, owner common.Address, currency Currency, salt [32]byte, amount *big.Int) error {
	f := pm.currentFrame()
	if f == nil {
		return ErrNoActiveSession
	}
	if f.owner != owner {
		return pm.fail(ErrUnauthorized)
	}
	if amount.Sign() < 0 || amount.Cmp(MaxAmount) >= 0 {
		return pm.fail(ErrAmountOverflow)
	}

	id := savedBalanceID(owner, currency, salt)
	balance := pm.savedBalance(stateDB, id)
	if balance.Cmp(amount) < 0 {
		return pm.fail(ErrInsufficientSaved)
	}
	balance.Sub(balance, amount)
	storeSavedBalance(stateDB, id, balance)

	f.update(currency, new(big.Int).Neg(amount))
	return nil
}

// reserve returns the cached engine reserve for a currency, faulting it in
// from storage on first access.
func (pm *PoolManager) reserve(stateDB StateDB, currency Currency) *big.Int {
	if r, ok := pm.reserves[currency]; ok {
		return r
	}
	r := loadReserve(stateDB, currency)
	pm.reserves[currency] = r
	return r
}

// savedBalance returns the cached durable balance, faulting it in from
// storage on first access.
func (pm *PoolManager) savedBalance(stateDB StateDB, id [32]byte) *big.Int {
	if b, ok := pm.savedBalances[id]; ok {
		return b
	}
	b := loadSavedBalance(stateDB, id)
	pm.savedBalances[id] = b
	return b
}

// GetDelta returns the current frame's debt in a currency (positive = owed
// to the pool).
func (pm *PoolManager) GetDelta(currency Currency) (*big.Int, error) {
	f := pm.currentFrame()
	if f == nil {
		return nil, ErrNoActiveSession
	}
	if d, ok := f.deltas[currency]; ok {
		return new(big.Int).Set(d), nil
	}
	return big.NewInt(0), nil
}

// GetSavedBalance returns the durable balance for (owner, currency, salt).
func (pm *PoolManager) GetSavedBalance(stateDB StateDB, owner common.Address, currency Currency, salt [32]byte) *big.Int {
	return new(big.Int).Set(pm.savedBalance(stateDB, savedBalanceID(owner, currency, salt)))
}
