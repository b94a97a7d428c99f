// Copyright 2025 Certen Protocol
//
// Test fixtures for consensus-level tests: deterministic block builders and
// a fully wired engine over an in-memory database. The SNARK verifiers are
// stubbed to accept; the PoW target comparison and every structural rule stay
// real.

package chaintest

import (
	"io"
	"log"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/crypto"
	"github.com/certen/zkpow-node/pkg/kvdb"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/mempool"
	"github.com/certen/zkpow-node/pkg/types"
)

// Params returns deterministic test parameters: a fixed genesis timestamp in
// the past and a four-second target block time, so block targets respond to
// the timestamp deltas the builders choose.
func Params() consensus.Params {
	params := consensus.DefaultParams()
	params.NetworkID = 2
	params.TargetBlockTime = 4
	return params
}

// Harness bundles a started engine with its collaborators.
type Harness struct {
	Params  consensus.Params
	Engine  *consensus.Engine
	Store   *ledger.Store
	Records *ledger.RecordLedger
	Pool    *mempool.Pool
}

// NewEngine wires and starts an engine over an in-memory database. Stop is
// registered as test cleanup.
func NewEngine(t *testing.T) *Harness {
	t.Helper()
	return NewEngineWithParams(t, Params())
}

// NewEngineWithParams is NewEngine with explicit parameters.
func NewEngineWithParams(t *testing.T, params consensus.Params) *Harness {
	t.Helper()

	store := ledger.NewStore(kvdb.NewMemoryKV())
	records := ledger.NewRecordLedger()
	poolCfg := mempool.DefaultConfig()
	poolCfg.Logger = log.New(io.Discard, "", 0)
	pool := mempool.NewPool(poolCfg, records)

	cryptoCtx, err := crypto.NewContext(crypto.Options{
		AuthorizedInnerCircuitIDs: []types.Hash{params.InnerCircuitID},
		TransactionVerifier: crypto.TransactionVerifierFunc(func(*types.Transaction) bool {
			return true
		}),
		WorkVerifier: crypto.WorkVerifierFunc(func(types.Hash, uint32, []byte) bool {
			return true
		}),
	})
	if err != nil {
		t.Fatalf("failed to build crypto context: %v", err)
	}

	engine, err := consensus.NewEngine(consensus.Config{
		Params:  params,
		Crypto:  cryptoCtx,
		Store:   store,
		Records: records,
		Pool:    pool,
		Metrics: consensus.NewMetrics(prometheus.NewRegistry()),
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(engine.Stop)

	return &Harness{
		Params:  params,
		Engine:  engine,
		Store:   store,
		Records: records,
		Pool:    pool,
	}
}

// testOwner is the address every fixture transaction spends from.
var testOwner = types.Address{0x5a}

func tag(seed, label string) types.Hash {
	return types.SHA256([]byte("chaintest." + seed + "." + label))
}

// buildTx builds a deterministic, properly signed transaction: serial
// numbers are real serial-number public keys derived from keySeed, and the
// signatures verify under them. Key derivation and EdDSA signing are both
// deterministic, so block fixtures stay reproducible across harnesses.
// bodySeed varies the commitments, memo and ciphertexts independently of the
// consumed serial numbers.
func buildTx(keySeed, bodySeed string, valueBalance int64, innerCircuitID types.Hash) *types.Transaction {
	tx := &types.Transaction{
		NewCommitments:   []types.Hash{tag(bodySeed, "cm.0"), tag(bodySeed, "cm.1")},
		LedgerDigest:     types.ZeroHash,
		InnerCircuitID:   innerCircuitID,
		ValueBalance:     valueBalance,
		Proof:            tag(bodySeed, "proof").Bytes(),
		EncryptedRecords: [][]byte{tag(bodySeed, "rec.0").Bytes(), tag(bodySeed, "rec.1").Bytes()},
	}
	memo := tag(bodySeed, "memo")
	copy(tx.Memo[:32], memo[:])
	copy(tx.Memo[32:], memo[:])

	var keys []*crypto.SigningKey
	for _, label := range []string{"sn-nonce.0", "sn-nonce.1"} {
		key, err := crypto.SerialNumberKey(tag(keySeed, label), testOwner)
		if err != nil {
			panic("chaintest: derive serial-number key: " + err.Error())
		}
		keys = append(keys, key)
		tx.OldSerialNumbers = append(tx.OldSerialNumbers, types.BytesToHash(key.PublicKey.Bytes()))
	}
	if err := crypto.SignTransaction(tx, keys); err != nil {
		panic("chaintest: sign transaction: " + err.Error())
	}
	return tx
}

// Coinbase builds a deterministic coinbase minting value.
func Coinbase(seed string, value uint64, innerCircuitID types.Hash) *types.Transaction {
	return buildTx(seed, seed, -int64(value), innerCircuitID)
}

// FeeTransaction builds a deterministic non-coinbase transaction paying fee.
func FeeTransaction(seed string, fee int64, innerCircuitID types.Hash) *types.Transaction {
	return buildTx(seed, seed, fee, innerCircuitID)
}

// DoubleSpend builds a validly signed transaction that re-consumes the
// serial numbers of the transaction built from seed, with a fresh body from
// variant. Used to exercise spent-serial-number rejection.
func DoubleSpend(seed, variant string, fee int64, innerCircuitID types.Hash) *types.Transaction {
	return buildTx(seed, variant, fee, innerCircuitID)
}

// NextBlock builds a valid child of parent at the given height, with the
// header timestamp advanced by delta seconds, and solves the target
// comparison by nonce search. Extra transactions precede the coinbase.
func NextBlock(params consensus.Params, parent *types.Block, height uint32, delta int64, seed string, extra ...*types.Transaction) *types.Block {
	fees := int64(0)
	for _, tx := range extra {
		fees += tx.ValueBalance
	}
	coinbase := Coinbase(seed, consensus.BlockReward(height)+uint64(fees), params.InnerCircuitID)
	txs := append(append([]*types.Transaction{}, extra...), coinbase)

	timestamp := parent.Header.Time + delta
	header := types.BlockHeader{
		PreviousBlockHash: parent.Hash(),
		TransactionRoot:   consensus.TransactionRoot(txs),
		CommitmentRoot:    consensus.CommitmentRoot(txs),
		Time:              timestamp,
		DifficultyTarget:  consensus.BitcoinRetarget(timestamp, parent.Header.Time, params.TargetBlockTime, parent.Header.DifficultyTarget),
	}
	solveWork(&header)

	return &types.Block{Header: header, Transactions: txs}
}

// RawBlock builds a child of parent from an explicit transaction list,
// without adding a coinbase. Used to craft rule-violating blocks.
func RawBlock(params consensus.Params, parent *types.Block, delta int64, txs []*types.Transaction) *types.Block {
	timestamp := parent.Header.Time + delta
	header := types.BlockHeader{
		PreviousBlockHash: parent.Hash(),
		TransactionRoot:   consensus.TransactionRoot(txs),
		CommitmentRoot:    consensus.CommitmentRoot(txs),
		Time:              timestamp,
		DifficultyTarget:  consensus.BitcoinRetarget(timestamp, parent.Header.Time, params.TargetBlockTime, parent.Header.DifficultyTarget),
	}
	solveWork(&header)
	return &types.Block{Header: header, Transactions: txs}
}

// solveWork searches nonces until the header digest meets the target.
func solveWork(header *types.BlockHeader) {
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		digest := types.DoubleSHA256(header.PoWPreimage())
		if crypto.PoWValue(digest) <= header.DifficultyTarget {
			return
		}
	}
}
