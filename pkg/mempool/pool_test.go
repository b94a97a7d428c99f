// Copyright 2025 Certen Protocol
//
// Memory pool tests: admission rules, deterministic selection, eviction.

package mempool

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/certen/zkpow-node/pkg/types"
)

// fakeCanon is a canon view over explicit sets.
type fakeCanon struct {
	serials map[types.Hash]bool
	cms     map[types.Hash]bool
	memos   map[types.Memo]bool
}

func newFakeCanon() *fakeCanon {
	return &fakeCanon{
		serials: make(map[types.Hash]bool),
		cms:     make(map[types.Hash]bool),
		memos:   make(map[types.Memo]bool),
	}
}

func (f *fakeCanon) ContainsSerialNumber(sn types.Hash) bool { return f.serials[sn] }
func (f *fakeCanon) ContainsCommitment(cm types.Hash) bool   { return f.cms[cm] }
func (f *fakeCanon) ContainsMemo(m types.Memo) bool          { return f.memos[m] }

func poolTx(seed byte, fee int64) *types.Transaction {
	tag := func(label byte) types.Hash {
		return types.SHA256([]byte{0x70, seed, label})
	}
	tx := &types.Transaction{
		OldSerialNumbers: []types.Hash{tag(1), tag(2)},
		NewCommitments:   []types.Hash{tag(3), tag(4)},
		LedgerDigest:     types.ZeroHash,
		InnerCircuitID:   tag(5),
		ValueBalance:     fee,
		Signatures:       make([]types.Signature, 2),
		Proof:            []byte{seed},
		EncryptedRecords: [][]byte{{seed}, {seed}},
	}
	memo := tag(6)
	copy(tx.Memo[:32], memo[:])
	copy(tx.Memo[32:], memo[:])
	return tx
}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func TestPool_InsertAndRemove(t *testing.T) {
	pool := NewPool(quietConfig(), newFakeCanon())
	tx := poolTx(1, 10)

	if err := pool.Insert(tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !pool.Contains(tx.ID()) {
		t.Error("pool lost the inserted transaction")
	}
	if err := pool.Insert(tx); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("expected ErrDuplicateTransaction, got %v", err)
	}

	if !pool.RemoveByHash(tx.ID()) {
		t.Error("remove reported the transaction missing")
	}
	if pool.Len() != 0 {
		t.Error("pool not empty after removal")
	}

	// Serial numbers are released on removal.
	if err := pool.Insert(tx); err != nil {
		t.Errorf("re-insert after removal failed: %v", err)
	}
}

func TestPool_RejectsDoubleSpends(t *testing.T) {
	canon := newFakeCanon()
	pool := NewPool(quietConfig(), canon)

	a := poolTx(1, 10)
	if err := pool.Insert(a); err != nil {
		t.Fatal(err)
	}

	// Shares a serial number with a pooled transaction.
	b := poolTx(2, 10)
	b.OldSerialNumbers[0] = a.OldSerialNumbers[0]
	if err := pool.Insert(b); !errors.Is(err, ErrPoolConflict) {
		t.Errorf("expected ErrPoolConflict, got %v", err)
	}

	// Spent in canon.
	c := poolTx(3, 10)
	canon.serials[c.OldSerialNumbers[1]] = true
	if err := pool.Insert(c); !errors.Is(err, ErrAlreadySpent) {
		t.Errorf("expected ErrAlreadySpent, got %v", err)
	}
}

func TestPool_CandidatesDeterministicAndNonConflicting(t *testing.T) {
	pool := NewPool(quietConfig(), newFakeCanon())

	a := poolTx(1, 1)
	b := poolTx(2, 2)
	c := poolTx(3, 3)
	for _, tx := range []*types.Transaction{a, b, c} {
		if err := pool.Insert(tx); err != nil {
			t.Fatal(err)
		}
	}

	first := pool.Candidates(1 << 20)
	second := pool.Candidates(1 << 20)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 candidates, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID() != second[i].ID() {
			t.Fatal("candidate selection is not deterministic")
		}
	}
	// Insertion order is preserved.
	if first[0].ID() != a.ID() || first[1].ID() != b.ID() || first[2].ID() != c.ID() {
		t.Error("candidates are not in insertion order")
	}
}

func TestPool_CandidatesRespectSizeCap(t *testing.T) {
	pool := NewPool(quietConfig(), newFakeCanon())
	a := poolTx(1, 1)
	b := poolTx(2, 2)
	if err := pool.Insert(a); err != nil {
		t.Fatal(err)
	}
	if err := pool.Insert(b); err != nil {
		t.Fatal(err)
	}

	got := pool.Candidates(a.Size())
	if len(got) != 1 || got[0].ID() != a.ID() {
		t.Fatalf("size-capped selection wrong: %d candidates", len(got))
	}
}

func TestPool_OverflowEvictsOldest(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxTransactions = 2
	pool := NewPool(cfg, newFakeCanon())

	a, b, c := poolTx(1, 1), poolTx(2, 2), poolTx(3, 3)
	for _, tx := range []*types.Transaction{a, b, c} {
		if err := pool.Insert(tx); err != nil {
			t.Fatal(err)
		}
	}

	if pool.Len() != 2 {
		t.Fatalf("pool holds %d transactions, want 2", pool.Len())
	}
	if pool.Contains(a.ID()) {
		t.Error("oldest transaction was not evicted")
	}
	if !pool.Contains(b.ID()) || !pool.Contains(c.ID()) {
		t.Error("newer transactions were evicted")
	}
}

func TestPool_RestoreIgnoresCanonDuplicates(t *testing.T) {
	canon := newFakeCanon()
	pool := NewPool(quietConfig(), canon)

	tx := poolTx(1, 5)
	canon.serials[tx.OldSerialNumbers[0]] = true

	pool.Restore(tx)
	if pool.Len() != 0 {
		t.Error("restore admitted a transaction conflicting with canon")
	}

	fresh := poolTx(2, 5)
	pool.Restore(fresh)
	if !pool.Contains(fresh.ID()) {
		t.Error("restore dropped a clean transaction")
	}
}
