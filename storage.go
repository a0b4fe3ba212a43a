// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"encoding/binary"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// StateDB is the persistence interface the engine runs against. All engine
// state lives in 32-byte words under the engine account; Snapshot and
// RevertToSnapshot give the settlement layer its atomic unwind.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)
	Exist(addr common.Address) bool
	CreateAccount(addr common.Address)
	Snapshot() int
	RevertToSnapshot(revid int)
}

// Engine account holding reserves and storage words.
var engineAddr = common.HexToAddress(EngineAddress)

// Storage key prefixes
var (
	poolStatePrefix    = []byte("pool")
	poolFeesPrefix     = []byte("fees")
	poolProtocolPrefix = []byte("prot")
	tickStatePrefix    = []byte("tick")
	tickFeesPrefix     = []byte("tkfo")
	bitmapPrefix       = []byte("tbmp")
	positionPrefix     = []byte("posn")
	savedPrefix        = []byte("save")
	reservePrefix      = []byte("rsrv")
)

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// poolStore persists one pool's words under its id.
type poolStore struct {
	db StateDB
	id [32]byte
}

func (s *poolStore) read(prefix []byte, suffix []byte) common.Hash {
	return s.db.GetState(engineAddr, makeStorageKey(prefix, append(s.id[:], suffix...)))
}

func (s *poolStore) write(prefix []byte, suffix []byte, value common.Hash) {
	s.db.SetState(engineAddr, makeStorageKey(prefix, append(s.id[:], suffix...)), value)
}

// =========================================================================
// Pool header
// =========================================================================

// The price word packs sqrtRatioX96 (160 bits) with the tick and an
// initialized flag, so one read recovers the full pool price state with no
// precision loss.
//
//	[0:20]  sqrtRatioX96, big-endian
//	[20:24] tick, int32 big-endian
//	[24]    1 if initialized

// loadPoolHeader restores price, liquidity, fee and protocol accumulators.
func (s *poolStore) loadPoolHeader(p *Pool) {
	price := s.read(poolStatePrefix, []byte("price"))
	if price[24] == 1 {
		p.initialized = true
		p.SqrtRatioX96 = new(big.Int).SetBytes(price[0:20])
		p.Tick = int24(binary.BigEndian.Uint32(price[20:24]))
	}

	liq := s.read(poolStatePrefix, []byte("liq"))
	p.Liquidity = new(big.Int).SetBytes(liq[:])

	fees0 := s.read(poolFeesPrefix, []byte{0})
	p.FeeGrowthGlobal0 = new(uint256.Int).SetBytes32(fees0[:])
	fees1 := s.read(poolFeesPrefix, []byte{1})
	p.FeeGrowthGlobal1 = new(uint256.Int).SetBytes32(fees1[:])

	proto0 := s.read(poolProtocolPrefix, []byte{0})
	p.ProtocolFees0 = new(big.Int).SetBytes(proto0[:])
	proto1 := s.read(poolProtocolPrefix, []byte{1})
	p.ProtocolFees1 = new(big.Int).SetBytes(proto1[:])
}

// storePoolHeader writes the header words back.
func (s *poolStore) storePoolHeader(p *Pool) {
	var price common.Hash
	if p.initialized {
		p.SqrtRatioX96.FillBytes(price[0:20])
		binary.BigEndian.PutUint32(price[20:24], uint32(p.Tick))
		price[24] = 1
	}
	s.write(poolStatePrefix, []byte("price"), price)

	var liq common.Hash
	p.Liquidity.FillBytes(liq[:])
	s.write(poolStatePrefix, []byte("liq"), liq)

	s.write(poolFeesPrefix, []byte{0}, p.FeeGrowthGlobal0.Bytes32())
	s.write(poolFeesPrefix, []byte{1}, p.FeeGrowthGlobal1.Bytes32())

	var proto0, proto1 common.Hash
	p.ProtocolFees0.FillBytes(proto0[:])
	p.ProtocolFees1.FillBytes(proto1[:])
	s.write(poolProtocolPrefix, []byte{0}, proto0)
	s.write(poolProtocolPrefix, []byte{1}, proto1)
}

// =========================================================================
// Tick records
// =========================================================================

// Tick record word: liquidityGross at [0:16], liquidityNet (two's
// complement int128) at [16:32]. Fee-growth-outside values take one word
// per token.

func tickSuffix(tick int24, extra byte) []byte {
	var b [5]byte
	binary.BigEndian.PutUint32(b[:4], uint32(tick))
	b[4] = extra
	return b[:]
}

func encodeInt128(v *big.Int) [16]byte {
	var out [16]byte
	twos := new(big.Int).And(v, maxUint128)
	twos.FillBytes(out[:])
	return out
}

func decodeInt128(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if v.Bit(127) == 1 {
		v.Sub(v, MaxAmount)
	}
	return v
}

func (s *poolStore) loadTick(tick int24) *tickInfo {
	record := s.read(tickStatePrefix, tickSuffix(tick, 0))
	fees0 := s.read(tickFeesPrefix, tickSuffix(tick, 0))
	fees1 := s.read(tickFeesPrefix, tickSuffix(tick, 1))
	if record == (common.Hash{}) && fees0 == (common.Hash{}) && fees1 == (common.Hash{}) {
		return nil
	}
	info := newTickInfo()
	info.liquidityGross = new(big.Int).SetBytes(record[0:16])
	info.liquidityNet = decodeInt128(record[16:32])
	info.feeGrowthOutside0 = new(uint256.Int).SetBytes32(fees0[:])
	info.feeGrowthOutside1 = new(uint256.Int).SetBytes32(fees1[:])
	return info
}

func (s *poolStore) storeTick(tick int24, info *tickInfo) {
	var record common.Hash
	info.liquidityGross.FillBytes(record[0:16])
	net := encodeInt128(info.liquidityNet)
	copy(record[16:32], net[:])
	s.write(tickStatePrefix, tickSuffix(tick, 0), record)

	s.write(tickFeesPrefix, tickSuffix(tick, 0), info.feeGrowthOutside0.Bytes32())
	s.write(tickFeesPrefix, tickSuffix(tick, 1), info.feeGrowthOutside1.Bytes32())
}

// =========================================================================
// Bitmap words
// =========================================================================

func bitmapSuffix(word int16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(word))
	return b[:]
}

func (s *poolStore) loadBitmapWord(word int16) [4]uint64 {
	h := s.read(bitmapPrefix, bitmapSuffix(word))
	var bits [4]uint64
	for i := 0; i < 4; i++ {
		bits[i] = binary.BigEndian.Uint64(h[i*8 : i*8+8])
	}
	return bits
}

func (s *poolStore) storeBitmapWord(word int16, bits [4]uint64) {
	var h common.Hash
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(h[i*8:i*8+8], bits[i])
	}
	s.write(bitmapPrefix, bitmapSuffix(word), h)
}

// =========================================================================
// Positions
// =========================================================================

func positionSuffix(id [32]byte, extra byte) []byte {
	return append(id[:], extra)
}

func (s *poolStore) loadPosition(id [32]byte) *Position {
	liq := s.read(positionPrefix, positionSuffix(id, 0))
	snap0 := s.read(positionPrefix, positionSuffix(id, 1))
	snap1 := s.read(positionPrefix, positionSuffix(id, 2))
	if liq == (common.Hash{}) && snap0 == (common.Hash{}) && snap1 == (common.Hash{}) {
		return nil
	}
	return &Position{
		Liquidity:            new(big.Int).SetBytes(liq[:]),
		FeeGrowthInside0Last: new(uint256.Int).SetBytes32(snap0[:]),
		FeeGrowthInside1Last: new(uint256.Int).SetBytes32(snap1[:]),
	}
}

func (s *poolStore) storePosition(id [32]byte, pos *Position) {
	var liq common.Hash
	pos.Liquidity.FillBytes(liq[:])
	s.write(positionPrefix, positionSuffix(id, 0), liq)
	s.write(positionPrefix, positionSuffix(id, 1), pos.FeeGrowthInside0Last.Bytes32())
	s.write(positionPrefix, positionSuffix(id, 2), pos.FeeGrowthInside1Last.Bytes32())
}

// attach wires a pool's caches to this store for read-through loads and
// write-through saves.
func (s *poolStore) attach(p *Pool) {
	p.ticks.load = s.loadTick
	p.ticks.save = s.storeTick
	p.bitmap.load = s.loadBitmapWord
	p.bitmap.save = s.storeBitmapWord
	p.loadPosition = s.loadPosition
	p.savePosition = s.storePosition
}

// =========================================================================
// Saved balances and reserves
// =========================================================================

// savedBalanceID identifies a durable balance by owner, token and salt.
func savedBalanceID(owner common.Address, currency Currency, salt [32]byte) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())
	h.Write(currency.ToBytes())
	h.Write(salt[:])
	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

func loadSavedBalance(db StateDB, id [32]byte) *big.Int {
	h := db.GetState(engineAddr, makeStorageKey(savedPrefix, id[:]))
	return new(big.Int).SetBytes(h[:])
}

func storeSavedBalance(db StateDB, id [32]byte, amount *big.Int) {
	var h common.Hash
	amount.FillBytes(h[:])
	db.SetState(engineAddr, makeStorageKey(savedPrefix, id[:]), h)
}

// Reserves track per-token holdings of the engine account. Native value
// additionally moves through the account balance itself.
func loadReserve(db StateDB, currency Currency) *big.Int {
	h := db.GetState(engineAddr, makeStorageKey(reservePrefix, currency.ToBytes()))
	return new(big.Int).SetBytes(h[:])
}

func storeReserve(db StateDB, currency Currency, amount *big.Int) {
	var h common.Hash
	amount.FillBytes(h[:])
	db.SetState(engineAddr, makeStorageKey(reservePrefix, currency.ToBytes()), h)
}
