// Copyright 2025 Certen Protocol
//
// Consensus parameters and the deterministic genesis block.
// Parameters are a value owned by the engine and passed to the miner and sync
// controller at construction; tests instantiate custom parameters freely.

package consensus

import (
	"math"
	"time"

	"github.com/certen/zkpow-node/pkg/types"
)

// TwoHoursUnix is the future-timestamp tolerance in seconds.
const TwoHoursUnix int64 = 7200

// baseBlockReward is the height-0 reward in base units; it halves every
// rewardHalvingInterval blocks.
const (
	baseBlockReward       uint64 = 100_000_000
	rewardHalvingInterval uint32 = 1000
)

// Params are the fixed rules of a network.
type Params struct {
	// NetworkID distinguishes mainnet/testnet/devnet chains.
	NetworkID uint8

	// MaxBlockSize is the maximum serialized block size in bytes.
	MaxBlockSize int

	// MaxNonce bounds the proof-of-work search counter.
	MaxNonce uint32

	// TargetBlockTime is the desired block interval in seconds.
	TargetBlockTime int64

	// MaxFutureDrift is how far into the future a timestamp may point.
	MaxFutureDrift int64

	// GenesisTarget is the difficulty target of the genesis header.
	GenesisTarget uint64

	// GenesisTimestamp is the epoch time of the genesis header.
	GenesisTimestamp int64

	// InnerCircuitID is the noop inner circuit used by coinbase records.
	InnerCircuitID types.Hash

	// OrphanLimit bounds the orphan pool; oldest entries evict first.
	OrphanLimit int

	// OrphanTTL expires orphans that never connect.
	OrphanTTL time.Duration
}

// DefaultParams returns mainnet parameters.
func DefaultParams() Params {
	return Params{
		NetworkID:        0,
		MaxBlockSize:     1_000_000,
		MaxNonce:         math.MaxUint32,
		TargetBlockTime:  60,
		MaxFutureDrift:   TwoHoursUnix,
		GenesisTarget:    math.MaxUint64,
		GenesisTimestamp: 1_725_000_000,
		InnerCircuitID:   types.SHA256([]byte("zkpow.inner-circuit.noop.v1")),
		OrphanLimit:      256,
		OrphanTTL:        time.Hour,
	}
}

// BlockReward is the coinbase subsidy at a height: the base reward halving
// every thousand blocks.
func BlockReward(height uint32) uint64 {
	halvings := height / rewardHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return baseBlockReward >> halvings
}

// GenesisBlock deterministically constructs the network's genesis block. The
// genesis coinbase mints BlockReward(0) into two fixed records; it is
// committed without validation when the store is empty.
func (p Params) GenesisBlock() *types.Block {
	tag := func(label string) types.Hash {
		return types.SHA256([]byte("zkpow.genesis." + label + "." + string(rune('0'+p.NetworkID))))
	}

	// The genesis coinbase is committed without validation, so its serial
	// numbers and signatures are fixed constants rather than derived keys.
	coinbase := &types.Transaction{
		OldSerialNumbers: []types.Hash{tag("sn.0"), tag("sn.1")},
		NewCommitments:   []types.Hash{tag("cm.0"), tag("cm.1")},
		LedgerDigest:     types.ZeroHash,
		InnerCircuitID:   p.InnerCircuitID,
		ValueBalance:     -int64(BlockReward(0)),
		Signatures:       make([]types.Signature, 2),
		Proof:            tag("proof").Bytes(),
		EncryptedRecords: [][]byte{tag("record.0").Bytes(), tag("record.1").Bytes()},
	}
	memo := tag("memo")
	copy(coinbase.Memo[:], memo[:])
	copy(coinbase.Memo[32:], memo[:])

	block := &types.Block{
		Header: types.BlockHeader{
			PreviousBlockHash: types.ZeroHash,
			Time:              p.GenesisTimestamp,
			DifficultyTarget:  p.GenesisTarget,
			Nonce:             0,
		},
		Transactions: []*types.Transaction{coinbase},
	}
	block.Header.TransactionRoot = TransactionRoot(block.Transactions)
	block.Header.CommitmentRoot = CommitmentRoot(block.Transactions)
	return block
}
