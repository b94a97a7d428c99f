// Copyright 2025 Certen Protocol
//
// Sync controller tests against scripted peers.

package blocksync_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/certen/zkpow-node/pkg/blocksync"
	"github.com/certen/zkpow-node/pkg/chaintest"
	"github.com/certen/zkpow-node/pkg/types"
)

// fakePeer serves a fixed chain from memory.
type fakePeer struct {
	id      string
	chain   []*types.Block // height order, excluding genesis
	byHash  map[types.Hash]*types.Block
	latency time.Duration

	// broken peers fail every GetBlocks call with an error.
	broken bool
}

func newFakePeer(id string, chain []*types.Block, latency time.Duration) *fakePeer {
	p := &fakePeer{
		id:      id,
		chain:   chain,
		byHash:  make(map[types.Hash]*types.Block),
		latency: latency,
	}
	for _, block := range chain {
		p.byHash[block.Hash()] = block
	}
	return p
}

func (p *fakePeer) ID() string             { return p.id }
func (p *fakePeer) Height() uint32         { return uint32(len(p.chain)) }
func (p *fakePeer) Latency() time.Duration { return p.latency }

func (p *fakePeer) GetSync(_ context.Context, locators []types.Hash) ([]types.Hash, error) {
	known := make(map[types.Hash]int, len(p.chain))
	for i, block := range p.chain {
		known[block.Hash()] = i
	}

	start := -1
	for _, locator := range locators {
		if i, ok := known[locator]; ok {
			start = i
			break
		}
	}

	var hashes []types.Hash
	for i := start + 1; i < len(p.chain); i++ {
		hashes = append(hashes, p.chain[i].Hash())
	}
	return hashes, nil
}

func (p *fakePeer) GetBlocks(_ context.Context, hashes []types.Hash) ([]*types.Block, error) {
	if p.broken {
		return nil, errors.New("connection reset")
	}
	var blocks []*types.Block
	for _, hash := range hashes {
		block, ok := p.byHash[hash]
		if !ok {
			return nil, errors.New("unknown block requested")
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// fakePeerSet is a static peer list.
type fakePeerSet struct {
	peers   []blocksync.Peer
	updates chan struct{}
}

func (s *fakePeerSet) Peers() []blocksync.Peer        { return s.peers }
func (s *fakePeerSet) HeightUpdates() <-chan struct{} { return s.updates }

func quietConfig() *blocksync.Config {
	cfg := blocksync.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.IdleInterval = 50 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func buildChain(t *testing.T, length int) []*types.Block {
	t.Helper()
	p := chaintest.Params()
	parent := p.GenesisBlock()
	var chain []*types.Block
	for i := 1; i <= length; i++ {
		block := chaintest.NextBlock(p, parent, uint32(i), 4, "sync."+string(rune('a'+i)))
		chain = append(chain, block)
		parent = block
	}
	return chain
}

func waitForHeight(t *testing.T, h *chaintest.Harness, want uint32) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for {
		height, err := h.Store.BestBlockHeight()
		if err == nil && height >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("never reached height %d", want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestController_SyncsToPeerHeight(t *testing.T) {
	h := chaintest.NewEngine(t)
	chain := buildChain(t, 5)

	peers := &fakePeerSet{
		peers:   []blocksync.Peer{newFakePeer("peer-1", chain, 10*time.Millisecond)},
		updates: make(chan struct{}),
	}
	ctrl := blocksync.New(h.Engine, peers, quietConfig())
	ctrl.Start()
	defer ctrl.Stop()

	waitForHeight(t, h, 5)

	tip, err := h.Engine.CanonTip()
	if err != nil {
		t.Fatal(err)
	}
	if tip.Hash != chain[len(chain)-1].Hash() {
		t.Error("synced tip differs from the peer's tip")
	}
}

func TestController_PicksBestPeer(t *testing.T) {
	h := chaintest.NewEngine(t)
	chain := buildChain(t, 3)

	// The taller peer wins even with worse latency; among equal heights the
	// lower latency wins.
	short := newFakePeer("short", chain[:1], time.Millisecond)
	tall := newFakePeer("tall", chain, 100*time.Millisecond)

	peers := &fakePeerSet{
		peers:   []blocksync.Peer{short, tall},
		updates: make(chan struct{}),
	}
	ctrl := blocksync.New(h.Engine, peers, quietConfig())
	ctrl.Start()
	defer ctrl.Stop()

	waitForHeight(t, h, 3)
}

func TestController_FailsOverFromBrokenPeer(t *testing.T) {
	h := chaintest.NewEngine(t)
	chain := buildChain(t, 4)

	broken := newFakePeer("broken", chain, time.Millisecond)
	broken.broken = true
	good := newFakePeer("good", chain, 50*time.Millisecond)

	peers := &fakePeerSet{
		peers:   []blocksync.Peer{broken, good},
		updates: make(chan struct{}),
	}
	ctrl := blocksync.New(h.Engine, peers, quietConfig())
	ctrl.Start()
	defer ctrl.Stop()

	waitForHeight(t, h, 4)
}
