// Copyright 2025 Certen Protocol
//
// Miner tests: coinbase construction and the mining round trip.

package miner_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/certen/zkpow-node/pkg/chaintest"
	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/miner"
	"github.com/certen/zkpow-node/pkg/types"
)

// stubWorkProver returns a fixed pseudo proof.
type stubWorkProver struct{}

func (stubWorkProver) Prove(root types.Hash, nonce uint32) ([]byte, error) {
	return []byte{0x01}, nil
}

// stubTxProver returns a fixed pseudo proof.
type stubTxProver struct{}

func (stubTxProver) ProveTransaction(tx *types.Transaction) ([]byte, error) {
	return []byte{0x02}, nil
}

func newMiner(t *testing.T, h *chaintest.Harness) *miner.Miner {
	t.Helper()
	cfg := miner.DefaultConfig(types.Address{0x11})
	cfg.Logger = log.New(io.Discard, "", 0)
	m := miner.New(h.Engine, h.Engine.CryptoContext(), stubWorkProver{}, stubTxProver{}, nil, cfg)
	return m
}

func TestMiner_RoundTrip(t *testing.T) {
	h := chaintest.NewEngine(t)
	ctx := context.Background()

	// Two pooled transactions with fees summing to 12.
	feeA := chaintest.FeeTransaction("mine.fee.a", 5, h.Params.InnerCircuitID)
	feeB := chaintest.FeeTransaction("mine.fee.b", 7, h.Params.InnerCircuitID)
	if err := h.Engine.ReceiveTransaction(ctx, feeA); err != nil {
		t.Fatal(err)
	}
	if err := h.Engine.ReceiveTransaction(ctx, feeB); err != nil {
		t.Fatal(err)
	}

	m := newMiner(t, h)
	block, records, err := m.MineOnce()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}

	// Exactly one coinbase paying block reward plus fees.
	var coinbase *types.Transaction
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			if coinbase != nil {
				t.Fatal("block has more than one coinbase")
			}
			coinbase = tx
		}
	}
	if coinbase == nil {
		t.Fatal("block has no coinbase")
	}
	wantReward := consensus.BlockReward(1) + 12
	if coinbase.ValueBalance != -int64(wantReward) {
		t.Errorf("coinbase mints %d, want %d", -coinbase.ValueBalance, wantReward)
	}

	// One real record, one dummy.
	if len(records) != 2 || records[0].IsDummy || !records[1].IsDummy {
		t.Error("coinbase must produce one real and one dummy record")
	}
	if records[0].Value != wantReward {
		t.Errorf("real record value %d, want %d", records[0].Value, wantReward)
	}

	// The mined block is accepted by the engine that assembled it.
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.Engine.ReceiveBlock(cctx, block); err != nil {
		t.Fatalf("mined block rejected: %v", err)
	}
	if height, _ := h.Store.BestBlockHeight(); height != 1 {
		t.Fatalf("canon height is %d after mining, want 1", height)
	}

	// Confirmed transactions left the pool.
	if h.Pool.Contains(feeA.ID()) || h.Pool.Contains(feeB.ID()) {
		t.Error("confirmed transactions still pooled")
	}

	// A fresh engine instance accepts the same block.
	fresh := chaintest.NewEngineWithParams(t, h.Params)
	fctx, fcancel := context.WithTimeout(ctx, 10*time.Second)
	defer fcancel()
	if err := fresh.Engine.ReceiveBlock(fctx, block); err != nil {
		t.Fatalf("fresh engine rejected the mined block: %v", err)
	}
}

func TestMiner_LoopExtendsChain(t *testing.T) {
	h := chaintest.NewEngine(t)
	m := newMiner(t, h)
	m.Start()
	defer m.Stop()

	// The miner makes progress on its own; wait for some height.
	deadline := time.After(30 * time.Second)
	for {
		height, err := h.Store.BestBlockHeight()
		if err == nil && height >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("miner made no progress")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
