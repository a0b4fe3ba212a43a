// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"math/bits"
)

// =============================================================================
// Tick Bitmap for Concentrated Liquidity
// =============================================================================

// tickBitmap tracks which ticks carry liquidity using one bit per
// spacing-normalized (compressed) tick, 256 ticks per word. Words are
// faulted in from storage on first touch and written through on change.
type tickBitmap struct {
	// Key: word position (compressed tick / 256)
	// Value: 256-bit word as [4]uint64
	words  map[int16][4]uint64
	loaded map[int16]bool

	// Optional persistence; nil keeps the bitmap memory-only.
	load func(word int16) [4]uint64
	save func(word int16, bits [4]uint64)
}

func newTickBitmap() *tickBitmap {
	return &tickBitmap{
		words:  make(map[int16][4]uint64),
		loaded: make(map[int16]bool),
	}
}

// compressTick returns tick / spacing rounded toward negative infinity.
func compressTick(tick, tickSpacing int24) int24 {
	c := tick / tickSpacing
	if tick%tickSpacing != 0 && tick < 0 {
		c--
	}
	return c
}

// wordPos returns the word position for a compressed tick. Arithmetic shift
// floors, so word w always covers compressed ticks [w*256, w*256+255].
func wordPos(compressed int24) int16 {
	return int16(compressed >> 8)
}

// bitPos returns the bit position within a word (0-255).
func bitPos(compressed int24) uint8 {
	return uint8(compressed & 0xFF)
}

func (tb *tickBitmap) word(wp int16) [4]uint64 {
	if w, ok := tb.words[wp]; ok {
		return w
	}
	if tb.load != nil && !tb.loaded[wp] {
		w := tb.load(wp)
		tb.words[wp] = w
		tb.loaded[wp] = true
		return w
	}
	return [4]uint64{}
}

// flip toggles the tick's initialized bit. The tick must be aligned to the
// pool's spacing.
func (tb *tickBitmap) flip(tick, tickSpacing int24) error {
	if tick%tickSpacing != 0 {
		return ErrTickMisaligned
	}
	compressed := tick / tickSpacing

	wp := wordPos(compressed)
	bp := bitPos(compressed)

	word := tb.word(wp)
	word[bp/64] ^= 1 << (bp % 64)
	tb.words[wp] = word
	tb.loaded[wp] = true
	if tb.save != nil {
		tb.save(wp, word)
	}
	return nil
}

// isSet reports whether the tick's bit is set.
func (tb *tickBitmap) isSet(tick, tickSpacing int24) bool {
	if tick%tickSpacing != 0 {
		return false
	}
	compressed := tick / tickSpacing
	word := tb.word(wordPos(compressed))
	bp := bitPos(compressed)
	return word[bp/64]&(1<<(bp%64)) != 0
}

// nextInitialized finds the nearest set bit at or below tick (lte=true) or
// strictly above it (lte=false). At most 1+skipAhead words are scanned; if
// the budget or the tick domain runs out first, the edge of the scanned
// region is returned with initialized=false. The search never wraps.
func (tb *tickBitmap) nextInitialized(tick, tickSpacing int24, lte bool, skipAhead uint32) (int24, bool) {
	budget := int64(skipAhead) + 1
	if lte {
		return tb.searchDown(tick, tickSpacing, budget)
	}
	return tb.searchUp(tick, tickSpacing, budget)
}

func (tb *tickBitmap) searchDown(tick, tickSpacing int24, budget int64) (int24, bool) {
	compressed := compressTick(tick, tickSpacing)
	minCompressed := MinTick / tickSpacing // truncation rounds toward zero: ceil for negative
	if compressed < minCompressed {
		return MinTick, false
	}

	wp := wordPos(compressed)
	bp := bitPos(compressed)
	minWp := wordPos(minCompressed)

	lastScanned := wp
	for scanned := int64(0); scanned < budget && wp >= minWp; scanned++ {
		word := tb.word(wp)

		startIdx := 3
		if wp == wordPos(compressed) {
			startIdx = int(bp / 64)
		}
		for wordIdx := startIdx; wordIdx >= 0; wordIdx-- {
			w := word[wordIdx]
			if wp == wordPos(compressed) && wordIdx == int(bp/64) {
				// Mask off bits above bp in the starting sub-word.
				w &= uint64(1)<<(bp%64+1) - 1
			}
			if w != 0 {
				highBit := 63 - bits.LeadingZeros64(w)
				found := int24(wp)*256 + int24(wordIdx)*64 + int24(highBit)
				if found < minCompressed {
					return MinTick, false
				}
				return found * tickSpacing, true
			}
		}
		lastScanned = wp
		wp--
	}

	if wp < minWp {
		return MinTick, false
	}
	edge := int24(lastScanned) * 256
	if edge < minCompressed {
		edge = minCompressed
	}
	return edge * tickSpacing, false
}

func (tb *tickBitmap) searchUp(tick, tickSpacing int24, budget int64) (int24, bool) {
	start := compressTick(tick, tickSpacing) + 1
	maxCompressed := MaxTick / tickSpacing
	if start > maxCompressed {
		return MaxTick, false
	}

	wp := wordPos(start)
	bp := bitPos(start)
	maxWp := wordPos(maxCompressed)

	lastScanned := wp
	for scanned := int64(0); scanned < budget && wp <= maxWp; scanned++ {
		word := tb.word(wp)

		firstIdx := 0
		if wp == wordPos(start) {
			firstIdx = int(bp / 64)
		}
		for wordIdx := firstIdx; wordIdx < 4; wordIdx++ {
			w := word[wordIdx]
			if wp == wordPos(start) && wordIdx == int(bp/64) {
				// Mask off bits below the starting position.
				w &= ^(uint64(1)<<(bp%64) - 1)
			}
			if w != 0 {
				lowBit := bits.TrailingZeros64(w)
				found := int24(wp)*256 + int24(wordIdx)*64 + int24(lowBit)
				if found > maxCompressed {
					return MaxTick, false
				}
				return found * tickSpacing, true
			}
		}
		lastScanned = wp
		wp++
	}

	if wp > maxWp {
		return MaxTick, false
	}
	edge := int24(lastScanned)*256 + 255
	if edge > maxCompressed {
		edge = maxCompressed
	}
	return edge * tickSpacing, false
}
