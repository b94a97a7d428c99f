// Copyright 2025 Certen Protocol
//
// Consensus engine: the single actor that owns canon-chain mutation.
// All canon-mutating operations are serialized through one goroutine
// consuming a command channel; callers send a command plus a reply channel.
// Commands are internally idempotent, so correctness does not depend on
// cross-sender ordering.

package consensus

import (
	"context"
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/certen/zkpow-node/pkg/crypto"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/mempool"
	"github.com/certen/zkpow-node/pkg/types"
)

// TipEvent announces a canon tip change to subscribers.
type TipEvent struct {
	Hash       types.Hash
	Height     uint32
	ParentHash types.Hash
}

// Config wires an Engine.
type Config struct {
	Params  Params
	Crypto  *crypto.Context
	Store   *ledger.Store
	Records *ledger.RecordLedger
	Pool    *mempool.Pool

	// Prover builds outer proofs for locally created transactions. Optional.
	Prover *crypto.OuterProver

	Metrics *Metrics
	Logger  *log.Logger

	// CommandBuffer sizes the command channel. Defaults to 64.
	CommandBuffer int
}

type command struct {
	name string
	run  func()
}

// Engine validates and canonizes blocks, maintains the record ledger and
// drives the memory pool.
type Engine struct {
	params  Params
	crypto  *crypto.Context
	store   *ledger.Store
	records *ledger.RecordLedger
	pool    *mempool.Pool
	prover  *crypto.OuterProver
	metrics *Metrics
	logger  *log.Logger

	commands chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	tipFeed event.Feed
	orphans *orphanPool

	// consecutiveStorageFailures escalates to a process-level shutdown once
	// it reaches storageFailureLimit.
	consecutiveStorageFailures int
}

// storageFailureLimit is the number of storage errors in a row at which the
// engine shuts down rather than continue on a failing disk.
const storageFailureLimit = 8

// NewEngine builds an engine over its collaborators.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Crypto == nil || cfg.Store == nil || cfg.Records == nil || cfg.Pool == nil {
		return nil, errors.New("consensus: crypto, store, records and pool are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Consensus] ", log.LstdFlags)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	return &Engine{
		params:   cfg.Params,
		crypto:   cfg.Crypto,
		store:    cfg.Store,
		records:  cfg.Records,
		pool:     cfg.Pool,
		prover:   cfg.Prover,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		commands: make(chan command, cfg.CommandBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		orphans:  newOrphanPool(cfg.Params.OrphanLimit, cfg.Params.OrphanTTL),
	}, nil
}

// Start initializes the ledger (committing genesis when empty), performs the
// initial fast-forward, and launches the actor loop.
func (e *Engine) Start() error {
	empty, err := e.store.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		genesis := e.params.GenesisBlock()
		if err := e.store.InsertBlockOnly(genesis); err != nil {
			return err
		}
		if err := e.commitBlock(genesis, 0); err != nil {
			return err
		}
		e.logger.Printf("initialized empty ledger with genesis block %s", genesis.Hash().Hex())
	}
	if err := e.fastForward(); err != nil {
		e.logger.Printf("initial fast-forward: %v", err)
	}
	if height, err := e.store.BestBlockHeight(); err == nil {
		e.metrics.BlockHeight.Set(float64(height))
	}

	go e.run()
	return nil
}

// Stop terminates the actor after draining queued commands.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case cmd := <-e.commands:
			cmd.run()
		case <-e.quit:
			for {
				select {
				case cmd := <-e.commands:
					cmd.run()
				default:
					return
				}
			}
		}
	}
}

// do submits a command and waits for its reply.
func (e *Engine) do(ctx context.Context, name string, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- command{name: name, run: func() { reply <- fn() }}:
	case <-e.quit:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	}
}

// ====== Public command surface ======

// ReceiveBlock ingests a block from the network, the sync controller or the
// miner. Orphans are stored silently; duplicates return ErrPreExistingBlock.
func (e *Engine) ReceiveBlock(ctx context.Context, block *types.Block) error {
	return e.do(ctx, "receive-block", func() error { return e.receiveBlockWorklist(block) })
}

// ReceiveTransaction verifies an unconfirmed transaction and admits it to the
// memory pool.
func (e *Engine) ReceiveTransaction(ctx context.Context, tx *types.Transaction) error {
	return e.do(ctx, "receive-transaction", func() error { return e.receiveTransaction(tx) })
}

// VerifyTransactions runs the conjunction of outer verifications.
func (e *Engine) VerifyTransactions(ctx context.Context, txs []*types.Transaction) (bool, error) {
	var ok bool
	err := e.do(ctx, "verify-transactions", func() error {
		ok = e.crypto.VerifyTransactions(txs)
		return nil
	})
	return ok, err
}

// ForceDecommit decommits canon blocks from the tip down to and including the
// given block.
func (e *Engine) ForceDecommit(ctx context.Context, hash types.Hash) error {
	return e.do(ctx, "force-decommit", func() error { return e.forceDecommit(hash) })
}

// FastForward applies any stored descendants of the canon tip.
func (e *Engine) FastForward(ctx context.Context) error {
	return e.do(ctx, "fast-forward", func() error { return e.fastForward() })
}

// ScanForks returns (canon block, fork child) pairs for every stored side
// chain departure point.
func (e *Engine) ScanForks(ctx context.Context) ([][2]types.Hash, error) {
	var forks [][2]types.Hash
	err := e.do(ctx, "scan-forks", func() error {
		var ferr error
		forks, ferr = e.store.ForkPoints()
		return ferr
	})
	return forks, err
}

// Candidates returns a deterministic non-conflicting transaction subset for
// block assembly.
func (e *Engine) Candidates(maxBytes int) []*types.Transaction {
	return e.pool.Candidates(maxBytes)
}

// CanonTip returns the current canon tip.
func (e *Engine) CanonTip() (TipEvent, error) {
	height, err := e.store.BestBlockHeight()
	if err != nil {
		return TipEvent{}, err
	}
	hash, err := e.store.BlockHashAtHeight(height)
	if err != nil {
		return TipEvent{}, err
	}
	header, err := e.store.GetHeader(hash)
	if err != nil {
		return TipEvent{}, err
	}
	return TipEvent{Hash: hash, Height: height, ParentHash: header.PreviousBlockHash}, nil
}

// SubscribeTip subscribes to canon tip changes.
func (e *Engine) SubscribeTip(ch chan<- TipEvent) event.Subscription {
	return e.tipFeed.Subscribe(ch)
}

// Params returns the network parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Store returns the ledger store for read-side consumers.
func (e *Engine) Store() *ledger.Store {
	return e.store
}

// Records returns the record ledger for read-side consumers.
func (e *Engine) Records() *ledger.RecordLedger {
	return e.records
}

// Pool returns the memory pool.
func (e *Engine) Pool() *mempool.Pool {
	return e.pool
}

// CryptoContext returns the crypto facade.
func (e *Engine) CryptoContext() *crypto.Context {
	return e.crypto
}

// ====== Receive paths ======

// receiveBlockWorklist processes a block and then every stored orphan the
// acceptance connects, as an explicit worklist rather than recursion.
func (e *Engine) receiveBlockWorklist(block *types.Block) error {
	type item struct {
		block   *types.Block
		primary bool
	}
	worklist := []item{{block: block, primary: true}}
	var primaryErr error

	for len(worklist) > 0 {
		it := worklist[0]
		worklist = worklist[1:]

		err := e.receiveOne(it.block)
		e.trackStorageFailure(err)
		if it.primary {
			primaryErr = err
		}
		if err != nil && !errors.Is(err, ErrPreExistingBlock) {
			if !it.primary {
				e.logger.Printf("failed receiving connected orphan %s: %v", it.block.Hash().Hex(), err)
			}
			continue
		}
		for _, orphan := range e.orphans.Take(it.block.Hash()) {
			worklist = append(worklist, item{block: orphan})
		}
		e.metrics.OrphanCount.Set(float64(e.orphans.Len()))
	}
	return primaryErr
}

// trackStorageFailure counts consecutive storage-level errors. Success,
// validation failures and duplicates are expected and reset the run to zero;
// any other error is a storage fault, and a run of them means the disk is gone.
func (e *Engine) trackStorageFailure(err error) {
	switch {
	case err == nil, errors.Is(err, ErrPreExistingBlock), errors.Is(err, ErrInvalidBlock):
		e.consecutiveStorageFailures = 0
	default:
		e.consecutiveStorageFailures++
		if e.consecutiveStorageFailures >= storageFailureLimit {
			e.logger.Panicf("%d consecutive storage failures, last: %v", e.consecutiveStorageFailures, err)
		}
	}
}

// receiveOne classifies and processes a single block.
func (e *Engine) receiveOne(block *types.Block) error {
	if size := block.Size(); size > e.params.MaxBlockSize {
		e.metrics.RejectedBlocks.Inc()
		return invalidf("block of %d bytes exceeds maximum %d", size, e.params.MaxBlockSize)
	}

	hash := block.Hash()
	status, err := e.store.Status(hash)
	if err != nil {
		return err
	}
	if status.Kind == ledger.StatusCommitted {
		return ErrPreExistingBlock
	}

	empty, err := e.store.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		if block.Header.IsGenesis() {
			if err := e.store.InsertBlockOnly(block); err != nil {
				return err
			}
			return e.commitBlock(block, 0)
		}
		e.orphans.Add(block, time.Now())
		e.metrics.OrphanCount.Set(float64(e.orphans.Len()))
		return nil
	}

	parentStatus, err := e.store.Status(block.Header.PreviousBlockHash)
	if err != nil {
		return err
	}
	if parentStatus.Kind == ledger.StatusUnknown {
		e.logger.Printf("storing orphan block %s (parent %s unknown)", hash.Hex(), block.Header.PreviousBlockHash.Hex())
		e.orphans.Add(block, time.Now())
		e.metrics.OrphanCount.Set(float64(e.orphans.Len()))
		return nil
	}

	if err := e.store.InsertBlockOnly(block); err != nil {
		return err
	}

	path, err := e.store.GetBlockPath(block)
	if err != nil {
		return err
	}

	switch path.Kind {
	case ledger.PathCanonChain:
		parentHeader, err := e.store.GetHeader(block.Header.PreviousBlockHash)
		if err != nil {
			return err
		}
		if err := e.validateBlock(block, path.BlockNumber, parentHeader, e.records, time.Now().Unix()); err != nil {
			e.metrics.RejectedBlocks.Inc()
			return err
		}
		if err := e.commitBlock(block, path.BlockNumber); err != nil {
			return err
		}
		return e.fastForward()

	case ledger.PathSideChain:
		heavier, err := e.sideChainHeavier(path)
		if err != nil {
			return err
		}
		if !heavier {
			e.logger.Printf("stored side chain block %s at height %d", hash.Hex(), path.BlockNumber)
			return nil
		}
		return e.reorganize(path)
	}
	return nil
}

// receiveTransaction verifies and pools an unconfirmed transaction.
func (e *Engine) receiveTransaction(tx *types.Transaction) error {
	id := tx.ID()
	committed, err := e.store.ContainsTransaction(id)
	if err != nil {
		return err
	}
	if committed || e.pool.Contains(id) {
		return ErrPreExistingTransaction
	}
	if !e.crypto.VerifyTransaction(tx) {
		return ErrInvalidTransaction
	}
	if err := e.pool.Insert(tx); err != nil {
		if errors.Is(err, mempool.ErrDuplicateTransaction) {
			return ErrPreExistingTransaction
		}
		return err
	}
	e.metrics.MempoolSize.Set(float64(e.pool.Len()))
	return nil
}

// ====== Commit / decommit ======

// commitBlock atomically canonizes a validated block: record-ledger apply,
// store batch, mempool eviction, metrics and tip notification.
func (e *Engine) commitBlock(block *types.Block, height uint32) error {
	digest, err := e.records.ApplyBlock(height, block)
	if err != nil {
		return err
	}
	if err := e.store.CommitBlock(block, height, digest); err != nil {
		// Unwind the in-memory apply so both sides stay consistent.
		if rerr := e.records.RevertLast(); rerr != nil {
			e.logger.Panicf("record ledger unwind failed after store error: %v (store: %v)", rerr, err)
		}
		return err
	}

	for _, id := range block.TransactionIDs() {
		e.pool.RemoveByHash(id)
	}

	hash := block.Hash()
	e.metrics.BlockHeight.Set(float64(height))
	e.metrics.AcceptedBlocks.Inc()
	e.metrics.MempoolSize.Set(float64(e.pool.Len()))
	e.logger.Printf("new block accepted %s, current chain height: %d", hash.Hex(), height)

	e.tipFeed.Send(TipEvent{Hash: hash, Height: height, ParentHash: block.Header.PreviousBlockHash})
	return nil
}

// decommitTip reverses the commit of the current tip, restoring its
// transactions to the memory pool.
func (e *Engine) decommitTip() error {
	height, err := e.store.BestBlockHeight()
	if err != nil {
		return err
	}
	hash, err := e.store.BlockHashAtHeight(height)
	if err != nil {
		return err
	}
	block, err := e.store.GetBlock(hash)
	if err != nil {
		return err
	}

	currentDigest, err := e.records.DigestAt(height)
	if err != nil {
		return err
	}
	prevDigest := types.ZeroHash
	if height > 0 {
		if prevDigest, err = e.records.DigestAt(height - 1); err != nil {
			return err
		}
	}

	if err := e.store.DecommitBlock(block, height, prevDigest, currentDigest); err != nil {
		return err
	}
	if err := e.records.RevertLast(); err != nil {
		return err
	}

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		e.pool.Restore(tx)
	}

	if height > 0 {
		e.metrics.BlockHeight.Set(float64(height - 1))
	} else {
		e.metrics.BlockHeight.Set(0)
	}
	e.metrics.MempoolSize.Set(float64(e.pool.Len()))
	e.logger.Printf("decommitted block %s from height %d", hash.Hex(), height)
	return nil
}

// forceDecommit decommits from the tip down to and including hash.
func (e *Engine) forceDecommit(hash types.Hash) error {
	status, err := e.store.Status(hash)
	if err != nil {
		return err
	}
	if status.Kind != ledger.StatusCommitted {
		return ErrBlockNotCommitted
	}

	tip, err := e.store.BestBlockHeight()
	if err != nil {
		return err
	}
	for h := tip; ; h-- {
		if err := e.decommitTip(); err != nil {
			return err
		}
		if h == status.Height {
			break
		}
	}

	if tip, err := e.CanonTip(); err == nil {
		e.tipFeed.Send(tip)
	}
	return nil
}

// ====== Fork choice ======

// sideChainHeavier compares aggregate difficulty: targets summed as
// arbitrary-precision integers, the lower sum being more work. The comparison
// is strict; ties keep canon. No difference of the two sums is computed.
func (e *Engine) sideChainHeavier(path *ledger.BlockPath) (bool, error) {
	tip, err := e.store.BestBlockHeight()
	if err != nil {
		return false, err
	}

	canonSum := new(big.Int)
	for h := path.SharedBlockNumber + 1; h <= tip; h++ {
		hash, err := e.store.BlockHashAtHeight(h)
		if err != nil {
			return false, err
		}
		header, err := e.store.GetHeader(hash)
		if err != nil {
			return false, err
		}
		canonSum.Add(canonSum, new(big.Int).SetUint64(header.DifficultyTarget))
	}

	sideSum := new(big.Int)
	for _, hash := range path.Path {
		header, err := e.store.GetHeader(hash)
		if err != nil {
			return false, err
		}
		sideSum.Add(sideSum, new(big.Int).SetUint64(header.DifficultyTarget))
	}

	return sideSum.Cmp(canonSum) < 0, nil
}

// reorganize switches canon onto a strictly heavier side chain.
//
// Rollback strategy: every side-chain block is fully validated against a
// staged record-ledger clone before the first canon block is decommitted.
// A failure after that point means state diverged from what was validated,
// which is an invariant break: the node shuts down rather than continue with
// inconsistent state.
func (e *Engine) reorganize(path *ledger.BlockPath) error {
	shared := path.SharedBlockNumber
	now := time.Now().Unix()

	staged := e.records.Clone()
	if err := staged.RevertTo(shared); err != nil {
		return err
	}
	height := shared
	for _, hash := range path.Path {
		height++
		block, err := e.store.GetBlock(hash)
		if err != nil {
			return err
		}
		parentHeader, err := e.store.GetHeader(block.Header.PreviousBlockHash)
		if err != nil {
			return err
		}
		if err := e.validateBlock(block, height, parentHeader, staged, now); err != nil {
			e.metrics.RejectedBlocks.Inc()
			return err
		}
		if _, err := staged.ApplyBlock(height, block); err != nil {
			return err
		}
	}

	tip, err := e.store.BestBlockHeight()
	if err != nil {
		return err
	}
	e.logger.Printf("forking to superior side chain: %d blocks from height %d", len(path.Path), shared)

	for h := tip; h > shared; h-- {
		if err := e.decommitTip(); err != nil {
			e.logger.Panicf("reorg decommit failed at height %d: %v", h, err)
		}
	}

	height = shared
	for _, hash := range path.Path {
		height++
		block, err := e.store.GetBlock(hash)
		if err != nil {
			e.logger.Panicf("reorg lost side chain block %s: %v", hash.Hex(), err)
		}
		parentHeader, err := e.store.GetHeader(block.Header.PreviousBlockHash)
		if err != nil {
			e.logger.Panicf("reorg lost side chain parent: %v", err)
		}
		if err := e.validateBlock(block, height, parentHeader, e.records, now); err != nil {
			e.logger.Panicf("reorg re-validation failed at height %d: %v", height, err)
		}
		if err := e.commitBlock(block, height); err != nil {
			e.logger.Panicf("reorg commit failed at height %d: %v", height, err)
		}
	}

	e.metrics.Reorgs.Inc()
	return nil
}

// ====== Fast-forward ======

// fastForward applies stored descendants of the canon tip in order, as an
// explicit worklist loop. Invalid children stay stored but are skipped.
func (e *Engine) fastForward() error {
	for {
		tipHeight, err := e.store.BestBlockHeight()
		if err != nil {
			return err
		}
		tipHash, err := e.store.BlockHashAtHeight(tipHeight)
		if err != nil {
			return err
		}
		children, err := e.store.Children(tipHash)
		if err != nil {
			return err
		}

		advanced := false
		now := time.Now().Unix()
		for _, childHash := range children {
			status, err := e.store.Status(childHash)
			if err != nil {
				return err
			}
			if status.Kind != ledger.StatusUncommitted {
				continue
			}
			child, err := e.store.GetBlock(childHash)
			if err != nil {
				return err
			}
			parentHeader, err := e.store.GetHeader(tipHash)
			if err != nil {
				return err
			}
			if err := e.validateBlock(child, tipHeight+1, parentHeader, e.records, now); err != nil {
				e.logger.Printf("fast-forward skipping invalid child %s: %v", childHash.Hex(), err)
				continue
			}
			if err := e.commitBlock(child, tipHeight+1); err != nil {
				return err
			}
			advanced = true
			break
		}
		if !advanced {
			return nil
		}
	}
}
