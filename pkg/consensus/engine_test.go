// Copyright 2025 Certen Protocol
//
// Consensus engine tests: the block acceptance paths, fork handling and the
// end-to-end chain scenarios.

package consensus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/certen/zkpow-node/pkg/chaintest"
	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/merkle"
	"github.com/certen/zkpow-node/pkg/types"
)

func receive(t *testing.T, h *chaintest.Harness, block *types.Block) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Engine.ReceiveBlock(ctx, block)
}

func mustReceive(t *testing.T, h *chaintest.Harness, block *types.Block) {
	t.Helper()
	if err := receive(t, h, block); err != nil {
		t.Fatalf("receive block %s: %v", block.Hash().Hex(), err)
	}
}

func canonHeight(t *testing.T, h *chaintest.Harness) uint32 {
	t.Helper()
	height, err := h.Store.BestBlockHeight()
	if err != nil {
		t.Fatalf("best height: %v", err)
	}
	return height
}

func TestEngine_GenesisOnly(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	if got := canonHeight(t, h); got != 0 {
		t.Fatalf("canon height is %d, want 0", got)
	}
	hash, err := h.Store.BlockHashAtHeight(0)
	if err != nil || hash != genesis.Hash() {
		t.Fatalf("canon hash at 0 is %s, want genesis", hash.Hex())
	}
	if h.Records.LatestDigest() != merkle.Root(genesis.Commitments()) {
		t.Error("latest digest is not the root over the genesis commitments")
	}
	if stored, err := h.Store.CurrentDigest(); err != nil || stored != h.Records.LatestDigest() {
		t.Error("persisted digest disagrees with the record ledger")
	}
}

func TestEngine_LinearExtension(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	b1 := chaintest.NextBlock(h.Params, genesis, 1, 4, "lin.1")
	b2 := chaintest.NextBlock(h.Params, b1, 2, 4, "lin.2")
	b3 := chaintest.NextBlock(h.Params, b2, 3, 4, "lin.3")

	for i, block := range []*types.Block{b1, b2, b3} {
		mustReceive(t, h, block)
		if got := canonHeight(t, h); got != uint32(i+1) {
			t.Fatalf("canon height is %d after block %d", got, i+1)
		}
		hash, err := h.Store.BlockHashAtHeight(uint32(i + 1))
		if err != nil || hash != block.Hash() {
			t.Fatalf("canon hash at %d mismatch", i+1)
		}
	}

	for _, block := range []*types.Block{b1, b2, b3} {
		for _, sn := range block.SerialNumbers() {
			if !h.Records.ContainsSerialNumber(sn) {
				t.Errorf("serial number %s missing from the record ledger", sn.Hex())
			}
		}
	}
}

func TestEngine_OutOfOrderExtension(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	b1 := chaintest.NextBlock(h.Params, genesis, 1, 4, "ooo.1")
	b2 := chaintest.NextBlock(h.Params, b1, 2, 4, "ooo.2")

	// Block 2 first: parent unknown, stored as orphan.
	mustReceive(t, h, b2)
	if got := canonHeight(t, h); got != 0 {
		t.Fatalf("canon height is %d with orphan stored, want 0", got)
	}

	// Block 1 connects and fast-forward pulls in block 2.
	mustReceive(t, h, b1)
	if got := canonHeight(t, h); got != 2 {
		t.Fatalf("canon height is %d after fast-forward, want 2", got)
	}
	hash, err := h.Store.BlockHashAtHeight(2)
	if err != nil || hash != b2.Hash() {
		t.Error("fast-forward did not canonize the buffered block")
	}
}

func TestEngine_DuplicateSubmission(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()
	b1 := chaintest.NextBlock(h.Params, genesis, 1, 4, "dup.1")

	mustReceive(t, h, b1)
	tipBefore, err := h.Engine.CanonTip()
	if err != nil {
		t.Fatal(err)
	}

	if err := receive(t, h, b1); !errors.Is(err, consensus.ErrPreExistingBlock) {
		t.Fatalf("expected ErrPreExistingBlock, got %v", err)
	}
	tipAfter, err := h.Engine.CanonTip()
	if err != nil {
		t.Fatal(err)
	}
	if tipBefore != tipAfter {
		t.Error("duplicate submission moved the canon tip")
	}
}

func TestEngine_ReorgToHeavierSideChain(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	feeA := chaintest.FeeTransaction("reorg.fee.a", 7, h.Params.InnerCircuitID)
	feeB := chaintest.FeeTransaction("reorg.fee.b", 9, h.Params.InnerCircuitID)

	// Canon: on-target intervals keep the easy target.
	a := chaintest.NextBlock(h.Params, genesis, 1, 4, "reorg.a", feeA)
	b := chaintest.NextBlock(h.Params, a, 2, 4, "reorg.b", feeB)
	mustReceive(t, h, a)
	mustReceive(t, h, b)

	// Side chain: fast blocks drive the target down, so its aggregate target
	// sum is strictly lower (more work) than canon's.
	a2 := chaintest.NextBlock(h.Params, genesis, 1, 1, "reorg.a2")
	b2 := chaintest.NextBlock(h.Params, a2, 2, 1, "reorg.b2")
	c2 := chaintest.NextBlock(h.Params, b2, 3, 1, "reorg.c2")
	mustReceive(t, h, a2)
	mustReceive(t, h, b2)
	mustReceive(t, h, c2)

	if got := canonHeight(t, h); got != 3 {
		t.Fatalf("canon height is %d after reorg, want 3", got)
	}
	for i, block := range []*types.Block{a2, b2, c2} {
		hash, err := h.Store.BlockHashAtHeight(uint32(i + 1))
		if err != nil || hash != block.Hash() {
			t.Fatalf("side chain block %d is not canon", i+1)
		}
	}

	// Old canon blocks are stored but uncommitted.
	for _, block := range []*types.Block{a, b} {
		status, err := h.Store.Status(block.Hash())
		if err != nil {
			t.Fatal(err)
		}
		if status.Kind != ledger.StatusUncommitted {
			t.Errorf("old canon block %s has status %v, want uncommitted", block.Hash().Hex(), status.Kind)
		}
	}

	// Their non-coinbase transactions are back in the memory pool.
	if !h.Pool.Contains(feeA.ID()) || !h.Pool.Contains(feeB.ID()) {
		t.Error("decommitted transactions were not restored to the memory pool")
	}
}

func TestEngine_SideChainNotHeavierIsStored(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	// Canon: fast block with a low target.
	a := chaintest.NextBlock(h.Params, genesis, 1, 1, "keep.a")
	mustReceive(t, h, a)

	// Side: slow sibling with the easy target; higher sum, keeps canon.
	sibling := chaintest.NextBlock(h.Params, genesis, 1, 4, "keep.sib")
	mustReceive(t, h, sibling)

	hash, err := h.Store.BlockHashAtHeight(1)
	if err != nil || hash != a.Hash() {
		t.Error("lighter side chain displaced canon")
	}

	forks, err := h.Engine.ScanForks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(forks) != 1 || forks[0][0] != genesis.Hash() || forks[0][1] != sibling.Hash() {
		t.Errorf("scan-forks returned %v", forks)
	}
}

func TestEngine_TimestampBoundaries(t *testing.T) {
	t.Run("equal to parent rejected", func(t *testing.T) {
		h := chaintest.NewEngine(t)
		block := chaintest.NextBlock(h.Params, h.Params.GenesisBlock(), 1, 0, "ts.equal")
		if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
			t.Errorf("expected ErrInvalidBlock, got %v", err)
		}
	})

	t.Run("at future limit accepted", func(t *testing.T) {
		h := chaintest.NewEngine(t)
		genesis := h.Params.GenesisBlock()
		delta := time.Now().Unix() + consensus.TwoHoursUnix - genesis.Header.Time
		block := chaintest.NextBlock(h.Params, genesis, 1, delta, "ts.limit")
		if err := receive(t, h, block); err != nil {
			t.Errorf("block at now+7200 rejected: %v", err)
		}
	})

	t.Run("beyond future limit rejected", func(t *testing.T) {
		h := chaintest.NewEngine(t)
		genesis := h.Params.GenesisBlock()
		delta := time.Now().Unix() + consensus.TwoHoursUnix + 600 - genesis.Header.Time
		block := chaintest.NextBlock(h.Params, genesis, 1, delta, "ts.beyond")
		if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
			t.Errorf("expected ErrInvalidBlock, got %v", err)
		}
	})
}

func TestEngine_CoinbaseCountRules(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	t.Run("two coinbases rejected", func(t *testing.T) {
		txs := []*types.Transaction{
			chaintest.Coinbase("cb.two.0", consensus.BlockReward(1), h.Params.InnerCircuitID),
			chaintest.Coinbase("cb.two.1", 1, h.Params.InnerCircuitID),
		}
		block := chaintest.RawBlock(h.Params, genesis, 4, txs)
		if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
			t.Errorf("expected ErrInvalidBlock, got %v", err)
		}
	})

	t.Run("zero coinbases rejected above genesis", func(t *testing.T) {
		txs := []*types.Transaction{
			chaintest.FeeTransaction("cb.zero", 5, h.Params.InnerCircuitID),
		}
		block := chaintest.RawBlock(h.Params, genesis, 4, txs)
		if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
			t.Errorf("expected ErrInvalidBlock, got %v", err)
		}
	})
}

func TestEngine_UnauthorizedInnerCircuitRejected(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	rogue := chaintest.Coinbase("rogue", consensus.BlockReward(1), types.SHA256([]byte("unauthorized circuit")))
	block := chaintest.RawBlock(h.Params, genesis, 4, []*types.Transaction{rogue})
	if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
		t.Errorf("expected ErrInvalidBlock, got %v", err)
	}
}

func TestEngine_ReorgReversibility(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	a := chaintest.NextBlock(h.Params, genesis, 1, 4, "rev.a")
	b := chaintest.NextBlock(h.Params, a, 2, 4, "rev.b")
	c := chaintest.NextBlock(h.Params, b, 3, 4, "rev.c")
	for _, block := range []*types.Block{a, b, c} {
		mustReceive(t, h, block)
	}

	digestBefore := h.Records.LatestDigest()
	countBefore := h.Records.CommitmentCount()

	if err := h.Engine.ForceDecommit(context.Background(), a.Hash()); err != nil {
		t.Fatalf("force decommit: %v", err)
	}
	if got := canonHeight(t, h); got != 0 {
		t.Fatalf("canon height is %d after decommit, want 0", got)
	}

	// Re-applying A fast-forwards through the still-stored B and C.
	mustReceive(t, h, a)
	if got := canonHeight(t, h); got != 3 {
		t.Fatalf("canon height is %d after replay, want 3", got)
	}
	if h.Records.LatestDigest() != digestBefore {
		t.Error("ledger digest differs after decommit and replay")
	}
	if h.Records.CommitmentCount() != countBefore {
		t.Error("commitment count differs after decommit and replay")
	}
	if stored, err := h.Store.CurrentDigest(); err != nil || stored != digestBefore {
		t.Error("persisted digest differs after decommit and replay")
	}
}

func TestEngine_FastForwardDeterminism(t *testing.T) {
	params := chaintest.Params()
	genesis := params.GenesisBlock()

	a := chaintest.NextBlock(params, genesis, 1, 4, "det.a")
	b := chaintest.NextBlock(params, a, 2, 4, "det.b")
	c := chaintest.NextBlock(params, b, 3, 4, "det.c")

	h1 := chaintest.NewEngineWithParams(t, params)
	for _, block := range []*types.Block{a, b, c} {
		mustReceive(t, h1, block)
	}

	h2 := chaintest.NewEngineWithParams(t, params)
	for _, block := range []*types.Block{c, b, a} {
		mustReceive(t, h2, block)
	}

	tip1, err := h1.Engine.CanonTip()
	if err != nil {
		t.Fatal(err)
	}
	tip2, err := h2.Engine.CanonTip()
	if err != nil {
		t.Fatal(err)
	}
	if tip1 != tip2 {
		t.Errorf("delivery order changed the canon tip: %+v vs %+v", tip1, tip2)
	}
	if h1.Records.LatestDigest() != h2.Records.LatestDigest() {
		t.Error("delivery order changed the ledger digest")
	}

	forks1, _ := h1.Engine.ScanForks(context.Background())
	forks2, _ := h2.Engine.ScanForks(context.Background())
	if len(forks1) != 0 || len(forks2) != 0 {
		t.Errorf("unexpected side chains: %v vs %v", forks1, forks2)
	}
}

func TestEngine_ValueBalanceRule(t *testing.T) {
	h := chaintest.NewEngine(t)
	genesis := h.Params.GenesisBlock()

	// Coinbase mints one unit more than the reward.
	bad := chaintest.Coinbase("vb.bad", consensus.BlockReward(1)+1, h.Params.InnerCircuitID)
	block := chaintest.RawBlock(h.Params, genesis, 4, []*types.Transaction{bad})
	if err := receive(t, h, block); !errors.Is(err, consensus.ErrInvalidBlock) {
		t.Errorf("expected ErrInvalidBlock, got %v", err)
	}
}

func TestEngine_ReceiveTransaction(t *testing.T) {
	h := chaintest.NewEngine(t)
	ctx := context.Background()

	tx := chaintest.FeeTransaction("rx.tx", 3, h.Params.InnerCircuitID)
	if err := h.Engine.ReceiveTransaction(ctx, tx); err != nil {
		t.Fatalf("receive transaction: %v", err)
	}
	if err := h.Engine.ReceiveTransaction(ctx, tx); !errors.Is(err, consensus.ErrPreExistingTransaction) {
		t.Errorf("expected ErrPreExistingTransaction, got %v", err)
	}

	candidates := h.Engine.Candidates(1 << 20)
	if len(candidates) != 1 || candidates[0].ID() != tx.ID() {
		t.Error("pooled transaction missing from candidates")
	}

	// Commit the pooled transaction, then try to re-spend its serial numbers
	// through a validly signed double spend.
	block := chaintest.NextBlock(h.Params, h.Params.GenesisBlock(), 1, 4, "rx.block", tx)
	mustReceive(t, h, block)

	spent := chaintest.DoubleSpend("rx.tx", "rx.spent", 3, h.Params.InnerCircuitID)
	if err := h.Engine.ReceiveTransaction(ctx, spent); err == nil {
		t.Error("transaction spending a canon serial number was admitted")
	}

	// A garbage signature fails verification outright.
	forged := chaintest.FeeTransaction("rx.forged", 3, h.Params.InnerCircuitID)
	forged.Signatures[0][0] ^= 0xff
	if err := h.Engine.ReceiveTransaction(ctx, forged); !errors.Is(err, consensus.ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction for a forged signature, got %v", err)
	}
}
