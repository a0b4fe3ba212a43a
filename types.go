// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package amm implements a singleton concentrated-liquidity AMM engine with
// flash accounting. Pools live on a tick-indexed constant-product curve;
// all token movement inside a transaction is tracked as per-session balance
// deltas that must net to zero before the session closes.
package amm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// EngineAddress is the account that holds pool reserves and engine storage.
const EngineAddress = "0x0000000000000000000000000000000000009010"

// Pool fee tiers (parts per million)
const (
	Fee001 uint24 = 100    // 0.01% - stablecoins
	Fee005 uint24 = 500    // 0.05% - stable pairs
	Fee030 uint24 = 3000   // 0.30% - standard
	Fee100 uint24 = 10000  // 1.00% - exotic pairs
	FeeMax uint24 = 100000 // 10% max fee
)

// FeeDenominator is the ppm scale for pool and protocol fees.
const FeeDenominator uint24 = 1_000_000

// Tick spacing bounds and common tiers
const (
	MinTickSpacing int24 = 1
	MaxTickSpacing int24 = 32768

	TickSpacing001 int24 = 1
	TickSpacing005 int24 = 10
	TickSpacing030 int24 = 60
	TickSpacing100 int24 = 200
)

// Currency represents a token (native or ERC20)
// Address(0) represents native LUX
type Currency struct {
	Address common.Address
}

// NativeCurrency represents native LUX (no wrapping needed)
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is native LUX
func (c Currency) IsNative() bool {
	return c.Address == common.Address{}
}

// ToBytes serializes currency for storage
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// CurrencyFromBytes deserializes currency from storage
func CurrencyFromBytes(data []byte) Currency {
	return Currency{Address: common.BytesToAddress(data)}
}

// PoolKey uniquely identifies a pool
// Sorted by currency address (currency0 < currency1)
type PoolKey struct {
	Currency0   Currency       // Lower address token
	Currency1   Currency       // Higher address token
	Fee         uint24         // Fee in parts per million
	TickSpacing int24          // Tick spacing for concentrated liquidity
	Extension   common.Address // Extension contract address (zero = none)
}

// ID computes the unique pool identifier
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.Currency0.ToBytes())
	h.Write(pk.Currency1.ToBytes())

	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], uint32(pk.Fee))
	h.Write(feeBytes[1:]) // uint24

	var tickBytes [4]byte
	binary.BigEndian.PutUint32(tickBytes[:], uint32(pk.TickSpacing))
	h.Write(tickBytes[1:]) // int24

	h.Write(pk.Extension.Bytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// Validate checks structural pool key constraints. Token order is strict:
// Currency0 < Currency1 byte-wise, so the zero (native) address sorts first.
func (pk PoolKey) Validate() error {
	if bytes.Compare(pk.Currency0.Address.Bytes(), pk.Currency1.Address.Bytes()) >= 0 {
		return ErrCurrencyNotSorted
	}
	if pk.Fee > FeeMax {
		return ErrInvalidFee
	}
	if pk.TickSpacing < MinTickSpacing || pk.TickSpacing > MaxTickSpacing {
		return ErrInvalidTickSpacing
	}
	return nil
}

// BalanceDelta represents the net token changes during an operation
// Positive = owed to the pool, Negative = owed to the user
type BalanceDelta struct {
	Amount0 *big.Int // Currency0 delta (positive = user owes pool)
	Amount1 *big.Int // Currency1 delta (positive = user owes pool)
}

// NewBalanceDelta creates a new balance delta
func NewBalanceDelta(amount0, amount1 *big.Int) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
	}
}

// ZeroBalanceDelta returns a zero balance delta
func ZeroBalanceDelta() BalanceDelta {
	return BalanceDelta{
		Amount0: big.NewInt(0),
		Amount1: big.NewInt(0),
	}
}

// Add combines two balance deltas
func (bd BalanceDelta) Add(other BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Add(bd.Amount0, other.Amount0),
		Amount1: new(big.Int).Add(bd.Amount1, other.Amount1),
	}
}

// Negate inverts the balance delta signs
func (bd BalanceDelta) Negate() BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Neg(bd.Amount0),
		Amount1: new(big.Int).Neg(bd.Amount1),
	}
}

// IsZero returns true if both amounts are zero
func (bd BalanceDelta) IsZero() bool {
	return bd.Amount0.Sign() == 0 && bd.Amount1.Sign() == 0
}

// SwapParams contains parameters for a swap.
//
// Amount is denominated in the token selected by IsToken1: positive means
// exact input (the caller pays |Amount| of that token), negative means exact
// output (the caller receives |Amount|). The swap direction follows from the
// sign and the token: paying token0 or receiving token1 moves the price down.
type SwapParams struct {
	Amount            *big.Int // Signed, in the IsToken1 token
	IsToken1          bool     // Which token Amount is denominated in
	SqrtRatioLimitX96 *big.Int // Price bound the swap must not cross
	SkipAhead         uint32   // Extra bitmap words the tick search may scan
}

// ModifyPositionParams contains parameters for adding/removing liquidity
type ModifyPositionParams struct {
	TickLower      int24
	TickUpper      int24
	LiquidityDelta *big.Int // Positive = add, Negative = remove
	Salt           [32]byte // Position salt for uniqueness
}

// PositionID computes the unique position identifier
func PositionID(owner common.Address, tickLower, tickUpper int24, salt [32]byte) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())

	var tickBytes [8]byte
	binary.BigEndian.PutUint32(tickBytes[:4], uint32(tickLower))
	binary.BigEndian.PutUint32(tickBytes[4:], uint32(tickUpper))
	h.Write(tickBytes[:])
	h.Write(salt[:])

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// Errors - pool lifecycle and parameters
var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrCurrencyNotSorted      = errors.New("currencies not sorted")
	ErrInvalidFee             = errors.New("invalid fee")
	ErrInvalidTickSpacing     = errors.New("invalid tick spacing")
	ErrExtensionNotRegistered = errors.New("extension not registered")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrTickMisaligned         = errors.New("tick not aligned to pool spacing")
	ErrTickOutOfRange         = errors.New("tick out of range")
)

// Errors - math domain
var (
	ErrSqrtRatioOutOfBounds  = errors.New("sqrt ratio out of bounds")
	ErrSqrtRatioLimitInvalid = errors.New("sqrt ratio limit on wrong side of price")
	ErrAmountOverflow        = errors.New("amount exceeds 128 bits")
	ErrLiquidityOverflow     = errors.New("liquidity exceeds per-tick maximum")
	ErrInsufficientLiquidity = errors.New("insufficient position liquidity")
	ErrFeesUncollected       = errors.New("uncollected fees on full withdrawal")
)

// Errors - sessions and settlement
var (
	ErrNoActiveSession      = errors.New("no active session")
	ErrNonZeroDelta         = errors.New("non-zero balance delta after settlement")
	ErrSessionAborted       = errors.New("session aborted by inner failure")
	ErrInsufficientReserves = errors.New("insufficient engine reserves")
	ErrInsufficientSaved    = errors.New("insufficient saved balance")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Constants for math
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	MinTick int24 = -887272
	MaxTick int24 = 887272

	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	// MaxAmount is the exclusive bound on token amounts and liquidity.
	MaxAmount = new(big.Int).Lsh(big.NewInt(1), 128)

	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// uint24 type alias for fees
type uint24 = uint32

// int24 type alias for ticks
type int24 = int32
