// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// CallPoints is the extension capability bitmap. An extension's address
// must carry its bitmap in the first two bytes, Uniswap v4 style, so a
// pool key alone reveals which call points can fire.
type CallPoints uint16

const (
	CallBeforeInitialize CallPoints = 1 << iota
	CallAfterInitialize
	CallBeforeSwap
	CallAfterSwap
	CallBeforeUpdatePosition
	CallAfterUpdatePosition
	CallBeforeCollectFees
	CallAfterCollectFees
)

// Extension errors
var (
	ErrExtensionInvalidAddress = errors.New("extension address doesn't match call points")
	ErrExtensionRejected       = errors.New("extension rejected operation")
)

// Extension receives callbacks around pool operations. Implementations run
// in-process; a callback error aborts the whole operation.
type Extension interface {
	BeforeInitialize(key PoolKey, tick int24) error
	AfterInitialize(key PoolKey, tick int24, sqrtRatioX96 *big.Int) error
	BeforeSwap(key PoolKey, params SwapParams) error
	AfterSwap(key PoolKey, params SwapParams, delta BalanceDelta) error
	BeforeUpdatePosition(key PoolKey, params ModifyPositionParams) error
	AfterUpdatePosition(key PoolKey, params ModifyPositionParams, delta BalanceDelta) error
	BeforeCollectFees(key PoolKey, owner common.Address, salt [32]byte, tickLower, tickUpper int24) error
	AfterCollectFees(key PoolKey, owner common.Address, salt [32]byte, tickLower, tickUpper int24, amount0, amount1 *big.Int) error
}

// BaseExtension implements Extension with no-ops, for embedding.
type BaseExtension struct{}

func (BaseExtension) BeforeInitialize(PoolKey, int24) error           { return nil }
func (BaseExtension) AfterInitialize(PoolKey, int24, *big.Int) error  { return nil }
func (BaseExtension) BeforeSwap(PoolKey, SwapParams) error            { return nil }
func (BaseExtension) AfterSwap(PoolKey, SwapParams, BalanceDelta) error {
	return nil
}
func (BaseExtension) BeforeUpdatePosition(PoolKey, ModifyPositionParams) error { return nil }
func (BaseExtension) AfterUpdatePosition(PoolKey, ModifyPositionParams, BalanceDelta) error {
	return nil
}
func (BaseExtension) BeforeCollectFees(PoolKey, common.Address, [32]byte, int24, int24) error {
	return nil
}
func (BaseExtension) AfterCollectFees(PoolKey, common.Address, [32]byte, int24, int24, *big.Int, *big.Int) error {
	return nil
}

// CallPointsFromAddress extracts the capability bitmap encoded in the
// leading two bytes of an extension address.
func CallPointsFromAddress(addr common.Address) CallPoints {
	return CallPoints(binary.BigEndian.Uint16(addr[0:2]))
}

// ValidateExtensionAddress checks that an address encodes the claimed call
// points.
func ValidateExtensionAddress(addr common.Address, points CallPoints) error {
	if CallPointsFromAddress(addr) != points {
		return ErrExtensionInvalidAddress
	}
	return nil
}

// GenerateExtensionAddress derives a deterministic address whose leading
// bytes carry the given call points. Used by deploy tooling and tests.
func GenerateExtensionAddress(deployer common.Address, salt [32]byte, points CallPoints) common.Address {
	h := blake3.New()
	h.Write([]byte{0xff})
	h.Write(deployer.Bytes())
	h.Write(salt[:])

	var hash [32]byte
	h.Digest().Read(hash[:])

	var addr common.Address
	copy(addr[:], hash[12:32])
	binary.BigEndian.PutUint16(addr[0:2], uint16(points))
	return addr
}

// extensionRegistry maps extension addresses to their in-process
// implementations.
type extensionRegistry struct {
	extensions map[common.Address]Extension
}

func newExtensionRegistry() *extensionRegistry {
	return &extensionRegistry{
		extensions: make(map[common.Address]Extension),
	}
}

// register binds an implementation to an address after checking that the
// declared call points match the address encoding.
func (er *extensionRegistry) register(addr common.Address, ext Extension, points CallPoints) error {
	if err := ValidateExtensionAddress(addr, points); err != nil {
		return err
	}
	er.extensions[addr] = ext
	return nil
}

func (er *extensionRegistry) lookup(addr common.Address) (Extension, bool) {
	ext, ok := er.extensions[addr]
	return ext, ok
}

// shouldCall reports whether the call point fires for this pool operation.
// An extension acting on its own pool does not re-enter itself.
func (er *extensionRegistry) shouldCall(addr common.Address, point CallPoints, caller common.Address) (Extension, bool) {
	if addr == (common.Address{}) || caller == addr {
		return nil, false
	}
	ext, ok := er.extensions[addr]
	if !ok || CallPointsFromAddress(addr)&point == 0 {
		return nil, false
	}
	return ext, true
}
