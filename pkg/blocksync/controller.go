// Copyright 2025 Certen Protocol
//
// Block-sync controller: single-flight peer-driven chain download.
// The controller locates a common ancestor with the chosen peer via the
// block-locator list, streams missing blocks, and delivers them to the
// consensus engine strictly in height order. Misbehaving peers are dropped
// for the remainder of the attempt.

package blocksync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/types"
)

// Peer is one sync-capable remote.
type Peer interface {
	// ID names the peer for logging and failure bookkeeping.
	ID() string

	// Height is the peer's advertised canon height.
	Height() uint32

	// Latency is the measured round-trip estimate.
	Latency() time.Duration

	// GetSync sends the locator list and returns successor block hashes.
	GetSync(ctx context.Context, locators []types.Hash) ([]types.Hash, error)

	// GetBlocks fetches blocks by hash.
	GetBlocks(ctx context.Context, hashes []types.Hash) ([]*types.Block, error)
}

// PeerSet supplies candidate peers and height-change notifications.
type PeerSet interface {
	Peers() []Peer

	// HeightUpdates signals that some peer advertised a new height.
	HeightUpdates() <-chan struct{}
}

// Config holds sync tuning.
type Config struct {
	// BatchSize bounds hashes requested per GetBlocks round.
	BatchSize int

	// MaxRequeue bounds per-block redelivery attempts before dropping.
	MaxRequeue int

	// FailureThreshold drops a peer after this many validation failures.
	FailureThreshold int

	// RequestTimeout wraps every network read.
	RequestTimeout time.Duration

	// IdleInterval paces re-checks when no height updates arrive.
	IdleInterval time.Duration

	Logger *log.Logger
}

// DefaultConfig returns default sync tuning.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:        64,
		MaxRequeue:       3,
		FailureThreshold: 5,
		RequestTimeout:   30 * time.Second,
		IdleInterval:     10 * time.Second,
		Logger:           log.New(log.Writer(), "[BlockSync] ", log.LstdFlags),
	}
}

// Controller drives sync against one peer at a time.
type Controller struct {
	engine *consensus.Engine
	store  *ledger.Store
	peers  PeerSet
	cfg    *Config
	logger *log.Logger

	mu      sync.Mutex
	syncing bool
	dropped map[string]struct{} // peers dropped this attempt

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a controller.
func New(engine *consensus.Engine, peers PeerSet, cfg *Config) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[BlockSync] ", log.LstdFlags)
	}
	return &Controller{
		engine:  engine,
		store:   engine.Store(),
		peers:   peers,
		cfg:     cfg,
		logger:  cfg.Logger,
		dropped: make(map[string]struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the controller loop.
func (c *Controller) Start() {
	go c.run()
}

// Stop terminates the loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Controller) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.IdleInterval)
	defer ticker.Stop()

	for {
		c.syncAttempt()

		select {
		case <-c.quit:
			return
		case <-c.peers.HeightUpdates():
		case <-ticker.C:
		}
	}
}

// syncAttempt runs one single-flight sync against the best available peer.
func (c *Controller) syncAttempt() {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return
	}
	c.syncing = true
	c.dropped = make(map[string]struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.quit:
			return
		default:
		}

		peer := c.bestPeer()
		if peer == nil {
			return
		}
		session := uuid.New().String()[:8]

		if err := c.syncWithPeer(session, peer); err != nil {
			c.logger.Printf("sync %s: dropping peer %s: %v", session, peer.ID(), err)
			c.mu.Lock()
			c.dropped[peer.ID()] = struct{}{}
			c.mu.Unlock()
			continue
		}
		return
	}
}

// bestPeer picks the highest advertised height, breaking ties by latency,
// skipping peers dropped this attempt and peers at or below our height.
func (c *Controller) bestPeer() Peer {
	height, err := c.store.BestBlockHeight()
	if err != nil && !errors.Is(err, ledger.ErrEmptyLedger) {
		c.logger.Printf("reading local height: %v", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var best Peer
	for _, peer := range c.peers.Peers() {
		if _, ok := c.dropped[peer.ID()]; ok {
			continue
		}
		if peer.Height() <= height {
			continue
		}
		if best == nil ||
			peer.Height() > best.Height() ||
			(peer.Height() == best.Height() && peer.Latency() < best.Latency()) {
			best = peer
		}
	}
	return best
}

// syncWithPeer streams blocks from one peer until caught up.
func (c *Controller) syncWithPeer(session string, peer Peer) error {
	c.logger.Printf("sync %s: syncing with %s (height %d)", session, peer.ID(), peer.Height())
	failures := 0
	lastHeight := uint32(0)
	if h, err := c.store.BestBlockHeight(); err == nil {
		lastHeight = h
	}

	for {
		select {
		case <-c.quit:
			return nil
		default:
		}

		locators, err := c.store.BlockLocatorHashes()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		hashes, err := peer.GetSync(ctx, locators)
		cancel()
		if err != nil {
			return err
		}
		if len(hashes) == 0 {
			return nil
		}

		for start := 0; start < len(hashes); start += c.cfg.BatchSize {
			end := start + c.cfg.BatchSize
			if end > len(hashes) {
				end = len(hashes)
			}
			if err := c.fetchAndApply(session, peer, hashes[start:end], &failures); err != nil {
				return err
			}
		}

		height, err := c.store.BestBlockHeight()
		if err != nil {
			return err
		}
		if height >= peer.Height() {
			c.logger.Printf("sync %s: caught up with %s at height %d", session, peer.ID(), height)
			return nil
		}
		if height == lastHeight {
			return errors.New("no sync progress against peer")
		}
		lastHeight = height
	}
}

// fetchAndApply downloads a hash batch and delivers the blocks in order.
// Blocks whose parent is not yet known are requeued a bounded number of
// times, then dropped.
func (c *Controller) fetchAndApply(session string, peer Peer, hashes []types.Hash, failures *int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	blocks, err := peer.GetBlocks(ctx, hashes)
	cancel()
	if err != nil {
		return err
	}

	byHash := make(map[types.Hash]*types.Block, len(blocks))
	for _, block := range blocks {
		byHash[block.Hash()] = block
	}

	type pending struct {
		block    *types.Block
		attempts int
	}
	var queue []pending
	for _, hash := range hashes {
		block, ok := byHash[hash]
		if !ok {
			return errors.New("peer omitted a requested block")
		}
		queue = append(queue, pending{block: block})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		parent := item.block.Header.PreviousBlockHash
		status, err := c.store.Status(parent)
		if err != nil {
			return err
		}
		if status.Kind == ledger.StatusUnknown && !item.block.Header.IsGenesis() {
			if item.attempts+1 >= c.cfg.MaxRequeue {
				c.logger.Printf("sync %s: dropping block %s after %d attempts", session, item.block.Hash().Hex(), item.attempts+1)
				continue
			}
			queue = append(queue, pending{block: item.block, attempts: item.attempts + 1})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		err = c.engine.ReceiveBlock(ctx, item.block)
		cancel()
		switch {
		case err == nil, errors.Is(err, consensus.ErrPreExistingBlock):
		case errors.Is(err, consensus.ErrInvalidBlock):
			*failures++
			if *failures >= c.cfg.FailureThreshold {
				return errors.New("validation failure threshold exceeded")
			}
		default:
			return err
		}
	}
	return nil
}
