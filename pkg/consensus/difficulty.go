// Copyright 2025 Certen Protocol
//
// Difficulty retargeting. The retarget function is consensus-critical: every
// implementation must agree byte-for-byte on the produced target.

package consensus

import (
	"math"
	"math/big"
)

// BitcoinRetarget computes the next difficulty target:
//
//	new = prev * clamp(actual, target/4, target*4) / target
//
// where actual = max(1, blockTimestamp - parentTimestamp). The result
// saturates at the u64 bounds.
func BitcoinRetarget(blockTimestamp, parentTimestamp, targetBlockTime int64, parentTarget uint64) uint64 {
	actual := blockTimestamp - parentTimestamp
	if actual < 1 {
		actual = 1
	}

	minInterval := targetBlockTime / 4
	maxInterval := targetBlockTime * 4
	if actual < minInterval {
		actual = minInterval
	}
	if actual > maxInterval {
		actual = maxInterval
	}

	next := new(big.Int).SetUint64(parentTarget)
	next.Mul(next, big.NewInt(actual))
	next.Div(next, big.NewInt(targetBlockTime))

	if next.Sign() <= 0 {
		return 1
	}
	if next.BitLen() > 64 {
		return math.MaxUint64
	}
	return next.Uint64()
}
