// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// MockStateDB implements StateDB for tests with geth-style snapshots.
type MockStateDB struct {
	storage   map[common.Address]map[common.Hash]common.Hash
	balances  map[common.Address]*uint256.Int
	snapshots []mockSnapshot
}

type mockSnapshot struct {
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
}

func NewMockStateDB() *MockStateDB {
	return &MockStateDB{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
	}
}

func (m *MockStateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if s, ok := m.storage[addr]; ok {
		return s[key]
	}
	return common.Hash{}
}

func (m *MockStateDB) SetState(addr common.Address, key common.Hash, value common.Hash) {
	if _, ok := m.storage[addr]; !ok {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
	m.storage[addr][key] = value
}

func (m *MockStateDB) GetBalance(addr common.Address) *uint256.Int {
	if b, ok := m.balances[addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (m *MockStateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	b := m.GetBalance(addr)
	m.balances[addr] = b.Add(b, amount)
}

func (m *MockStateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	b := m.GetBalance(addr)
	m.balances[addr] = b.Sub(b, amount)
}

func (m *MockStateDB) Exist(addr common.Address) bool {
	_, hasStorage := m.storage[addr]
	_, hasBalance := m.balances[addr]
	return hasStorage || hasBalance
}

func (m *MockStateDB) CreateAccount(addr common.Address) {
	if _, ok := m.storage[addr]; !ok {
		m.storage[addr] = make(map[common.Hash]common.Hash)
	}
}

func (m *MockStateDB) Snapshot() int {
	snap := mockSnapshot{
		storage:  make(map[common.Address]map[common.Hash]common.Hash, len(m.storage)),
		balances: make(map[common.Address]*uint256.Int, len(m.balances)),
	}
	for addr, words := range m.storage {
		copied := make(map[common.Hash]common.Hash, len(words))
		for k, v := range words {
			copied[k] = v
		}
		snap.storage[addr] = copied
	}
	for addr, b := range m.balances {
		snap.balances[addr] = new(uint256.Int).Set(b)
	}
	m.snapshots = append(m.snapshots, snap)
	return len(m.snapshots) - 1
}

func (m *MockStateDB) RevertToSnapshot(revid int) {
	if revid < 0 || revid >= len(m.snapshots) {
		return
	}
	snap := m.snapshots[revid]
	m.storage = snap.storage
	m.balances = snap.balances
	m.snapshots = m.snapshots[:revid]
}

// =========================================================================
// Shared test helpers
// =========================================================================

func bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big.Int literal: " + s)
	}
	return v
}

func testAddr(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

// testPoolKey returns a sorted two-token pool key with no extension.
func testPoolKey(fee uint24, tickSpacing int24) PoolKey {
	return PoolKey{
		Currency0:   Currency{Address: testAddr(1)},
		Currency1:   Currency{Address: testAddr(2)},
		Fee:         fee,
		TickSpacing: tickSpacing,
	}
}

// fullRangeTicks returns the widest spacing-aligned tick range.
func fullRangeTicks(tickSpacing int24) (int24, int24) {
	lower := (MinTick / tickSpacing) * tickSpacing
	upper := (MaxTick / tickSpacing) * tickSpacing
	return lower, upper
}
