// Copyright 2025 Certen Protocol
//
// Ledger store tests over the in-memory KV engine.

package ledger_test

import (
	"errors"
	"testing"

	"github.com/certen/zkpow-node/pkg/kvdb"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/types"
)

func testBlock(seed byte, parent types.Hash, time int64) *types.Block {
	tag := func(label byte) types.Hash {
		return types.SHA256([]byte{seed, label})
	}
	tx := &types.Transaction{
		OldSerialNumbers: []types.Hash{tag(1), tag(2)},
		NewCommitments:   []types.Hash{tag(3), tag(4)},
		LedgerDigest:     types.ZeroHash,
		InnerCircuitID:   tag(5),
		ValueBalance:     -100,
		Signatures:       make([]types.Signature, 2),
		Proof:            []byte{seed},
		EncryptedRecords: [][]byte{{seed}, {seed, seed}},
	}
	memo := tag(6)
	copy(tx.Memo[:32], memo[:])
	copy(tx.Memo[32:], memo[:])

	return &types.Block{
		Header: types.BlockHeader{
			PreviousBlockHash: parent,
			Time:              time,
			DifficultyTarget:  ^uint64(0),
		},
		Transactions: []*types.Transaction{tx},
	}
}

func newStore(t *testing.T) *ledger.Store {
	t.Helper()
	return ledger.NewStore(kvdb.NewMemoryKV())
}

func TestStore_EmptyLedger(t *testing.T) {
	store := newStore(t)

	empty, err := store.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("fresh store must be empty")
	}
	if _, err := store.BestBlockHeight(); !errors.Is(err, ledger.ErrEmptyLedger) {
		t.Errorf("expected ErrEmptyLedger, got %v", err)
	}
}

func TestStore_CommitAndDecommit(t *testing.T) {
	store := newStore(t)
	block := testBlock(1, types.ZeroHash, 100)
	hash := block.Hash()
	digest := types.SHA256([]byte("digest-0"))

	if err := store.InsertBlockOnly(block); err != nil {
		t.Fatalf("insert: %v", err)
	}
	status, err := store.Status(hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != ledger.StatusUncommitted {
		t.Fatalf("stored block must be uncommitted, got %v", status.Kind)
	}

	if err := store.CommitBlock(block, 0, digest); err != nil {
		t.Fatalf("commit: %v", err)
	}

	status, err = store.Status(hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != ledger.StatusCommitted || status.Height != 0 {
		t.Fatalf("expected committed at height 0, got %+v", status)
	}

	// Index pointers advanced densely.
	if idx, _ := store.CurrentCommitmentIndex(); idx != 2 {
		t.Errorf("commitment index is %d, want 2", idx)
	}
	if idx, _ := store.CurrentSerialNumberIndex(); idx != 2 {
		t.Errorf("serial number index is %d, want 2", idx)
	}
	if idx, _ := store.CurrentMemoIndex(); idx != 1 {
		t.Errorf("memo index is %d, want 1", idx)
	}

	tx := block.Transactions[0]
	if ok, _ := store.ContainsSerialNumber(tx.OldSerialNumbers[0]); !ok {
		t.Error("serial number missing after commit")
	}
	if ok, _ := store.ContainsCommitment(tx.NewCommitments[1]); !ok {
		t.Error("commitment missing after commit")
	}
	if ok, _ := store.ContainsMemo(tx.Memo); !ok {
		t.Error("memo missing after commit")
	}
	if ok, _ := store.ContainsDigest(digest); !ok {
		t.Error("digest missing after commit")
	}

	loc, err := store.TransactionLocation(tx.ID())
	if err != nil {
		t.Fatalf("transaction location: %v", err)
	}
	if loc.BlockHash != hash || loc.Index != 0 {
		t.Errorf("wrong location: %+v", loc)
	}

	if err := store.DecommitBlock(block, 0, types.ZeroHash, digest); err != nil {
		t.Fatalf("decommit: %v", err)
	}

	status, err = store.Status(hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != ledger.StatusUncommitted {
		t.Fatalf("decommitted block must stay stored uncommitted, got %v", status.Kind)
	}
	if empty, _ := store.IsEmpty(); !empty {
		t.Error("decommitting height 0 must empty the canon chain")
	}
	if idx, _ := store.CurrentCommitmentIndex(); idx != 0 {
		t.Errorf("commitment index is %d after decommit, want 0", idx)
	}
	if ok, _ := store.ContainsSerialNumber(tx.OldSerialNumbers[0]); ok {
		t.Error("serial number survived decommit")
	}
}

func TestStore_BlockPathClassification(t *testing.T) {
	store := newStore(t)

	genesis := testBlock(1, types.ZeroHash, 100)
	if err := store.InsertBlockOnly(genesis); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitBlock(genesis, 0, types.SHA256([]byte("d0"))); err != nil {
		t.Fatal(err)
	}

	// Child of the tip extends canon.
	child := testBlock(2, genesis.Hash(), 104)
	if err := store.InsertBlockOnly(child); err != nil {
		t.Fatal(err)
	}
	path, err := store.GetBlockPath(child)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if path.Kind != ledger.PathCanonChain || path.BlockNumber != 1 {
		t.Fatalf("expected canon extension at height 1, got %+v", path)
	}

	if err := store.CommitBlock(child, 1, types.SHA256([]byte("d1"))); err != nil {
		t.Fatal(err)
	}

	// Sibling of the committed child is a side chain from height 0.
	sibling := testBlock(3, genesis.Hash(), 105)
	if err := store.InsertBlockOnly(sibling); err != nil {
		t.Fatal(err)
	}
	path, err = store.GetBlockPath(sibling)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if path.Kind != ledger.PathSideChain {
		t.Fatalf("expected side chain, got %+v", path)
	}
	if path.SharedBlockNumber != 0 || path.BlockNumber != 1 || len(path.Path) != 1 {
		t.Fatalf("wrong side path: %+v", path)
	}
	if path.Path[0] != sibling.Hash() {
		t.Error("side path must end at the received block")
	}
}

func TestStore_Children(t *testing.T) {
	store := newStore(t)
	parent := testBlock(1, types.ZeroHash, 100)
	a := testBlock(2, parent.Hash(), 104)
	b := testBlock(3, parent.Hash(), 105)

	for _, blk := range []*types.Block{parent, a, b} {
		if err := store.InsertBlockOnly(blk); err != nil {
			t.Fatal(err)
		}
	}
	// Idempotent re-insert must not duplicate the child entry.
	if err := store.InsertBlockOnly(a); err != nil {
		t.Fatal(err)
	}

	children, err := store.Children(parent.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 || children[0] != a.Hash() || children[1] != b.Hash() {
		t.Fatalf("wrong children: %v", children)
	}
}

func TestStore_BlockLocatorHashes(t *testing.T) {
	store := newStore(t)

	parent := types.ZeroHash
	blocks := make([]*types.Block, 6)
	for i := range blocks {
		blocks[i] = testBlock(byte(10+i), parent, int64(100+i*4))
		if err := store.InsertBlockOnly(blocks[i]); err != nil {
			t.Fatal(err)
		}
		if err := store.CommitBlock(blocks[i], uint32(i), types.SHA256([]byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
		parent = blocks[i].Hash()
	}

	locators, err := store.BlockLocatorHashes()
	if err != nil {
		t.Fatal(err)
	}
	// Heights 5, 4, 3, 1, 0.
	wantHeights := []int{5, 4, 3, 1, 0}
	if len(locators) != len(wantHeights) {
		t.Fatalf("got %d locators, want %d", len(locators), len(wantHeights))
	}
	for i, h := range wantHeights {
		if locators[i] != blocks[h].Hash() {
			t.Errorf("locator %d: got %s, want height %d", i, locators[i].Hex(), h)
		}
	}
}

func TestStore_FindSyncHashes(t *testing.T) {
	store := newStore(t)

	parent := types.ZeroHash
	blocks := make([]*types.Block, 4)
	for i := range blocks {
		blocks[i] = testBlock(byte(20+i), parent, int64(100+i*4))
		if err := store.InsertBlockOnly(blocks[i]); err != nil {
			t.Fatal(err)
		}
		if err := store.CommitBlock(blocks[i], uint32(i), types.SHA256([]byte{0x40, byte(i)})); err != nil {
			t.Fatal(err)
		}
		parent = blocks[i].Hash()
	}

	// Peer knows height 1; we serve heights 2 and 3.
	hashes, err := store.FindSyncHashes([]types.Hash{blocks[1].Hash()}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 || hashes[0] != blocks[2].Hash() || hashes[1] != blocks[3].Hash() {
		t.Fatalf("wrong sync hashes: %v", hashes)
	}
}
