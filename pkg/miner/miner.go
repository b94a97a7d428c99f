// Copyright 2025 Certen Protocol
//
// Miner: assembles candidate blocks from the memory pool, builds the coinbase
// through the crypto facade, and runs the proof-of-succinct-work search on a
// dedicated goroutine. Mined blocks are submitted through the consensus
// engine exactly like received blocks.

package miner

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/crypto"
	"github.com/certen/zkpow-node/pkg/types"
)

// ErrMiningCancelled is returned when a better block arrived mid-attempt.
var ErrMiningCancelled = errors.New("mining attempt cancelled")

// WorkProver produces succinct work proofs per nonce attempt.
type WorkProver interface {
	Prove(root types.Hash, nonce uint32) ([]byte, error)
}

// TransactionProver produces the outer proof for the coinbase transaction.
type TransactionProver interface {
	ProveTransaction(tx *types.Transaction) ([]byte, error)
}

// Broadcaster propagates a mined block to the network. Optional.
type Broadcaster interface {
	PropagateBlock(block *types.Block)
}

// Config holds miner settings.
type Config struct {
	// Address receives the coinbase reward.
	Address types.Address

	// CoinbaseReserve is the block space reserved for the coinbase.
	CoinbaseReserve int

	Logger *log.Logger
}

// DefaultConfig returns default miner settings for an address.
func DefaultConfig(address types.Address) *Config {
	return &Config{
		Address:         address,
		CoinbaseReserve: 4096,
		Logger:          log.New(log.Writer(), "[Miner] ", log.LstdFlags),
	}
}

// Miner drives the mining loop.
type Miner struct {
	engine      *consensus.Engine
	crypto      *crypto.Context
	work        WorkProver
	txProver    TransactionProver
	broadcaster Broadcaster
	cfg         *Config
	logger      *log.Logger

	noopProgramID types.Hash

	// cancelAttempt aborts the current nonce search; set when canon advances
	// past the attempt's parent.
	cancelAttempt atomic.Bool
	parentMu      sync.Mutex
	parentHash    types.Hash

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a miner over the engine and provers.
func New(engine *consensus.Engine, cryptoCtx *crypto.Context, work WorkProver, txProver TransactionProver, broadcaster Broadcaster, cfg *Config) *Miner {
	if cfg == nil {
		cfg = DefaultConfig(types.Address{})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Miner] ", log.LstdFlags)
	}
	return &Miner{
		engine:        engine,
		crypto:        cryptoCtx,
		work:          work,
		txProver:      txProver,
		broadcaster:   broadcaster,
		cfg:           cfg,
		logger:        cfg.Logger,
		noopProgramID: crypto.ProgramCommitment([]byte("zkpow.program.noop.v1")),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the mining loop.
func (m *Miner) Start() {
	go m.run()
}

// Stop terminates the loop and waits for it to exit.
func (m *Miner) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *Miner) run() {
	defer close(m.done)

	tipCh := make(chan consensus.TipEvent, 16)
	sub := m.engine.SubscribeTip(tipCh)
	defer sub.Unsubscribe()

	go m.watchTip(tipCh)

	for {
		select {
		case <-m.quit:
			return
		default:
		}

		block, records, err := m.MineOnce()
		switch {
		case errors.Is(err, ErrMiningCancelled):
			continue
		case err != nil:
			m.logger.Printf("mining attempt failed: %v", err)
			select {
			case <-time.After(time.Second):
			case <-m.quit:
				return
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = m.engine.ReceiveBlock(ctx, block)
		cancel()
		if err != nil {
			m.logger.Printf("mined block %s rejected: %v", block.Hash().Hex(), err)
			continue
		}

		m.storeRecords(records)
		if m.broadcaster != nil {
			m.broadcaster.PropagateBlock(block)
		}
	}
}

// watchTip sets the cancellation flag whenever canon advances to a block
// whose parent equals the current attempt's parent.
func (m *Miner) watchTip(tipCh <-chan consensus.TipEvent) {
	for {
		select {
		case ev := <-tipCh:
			m.parentMu.Lock()
			parent := m.parentHash
			m.parentMu.Unlock()
			if ev.ParentHash == parent {
				m.cancelAttempt.Store(true)
			}
		case <-m.quit:
			return
		}
	}
}

// MineOnce performs one complete attempt: snapshot the tip, assemble a
// candidate, search for work, and return the mined block with its coinbase
// records. Exposed for tests and the RPC surface.
func (m *Miner) MineOnce() (*types.Block, []*types.Record, error) {
	params := m.engine.Params()

	tip, err := m.engine.CanonTip()
	if err != nil {
		return nil, nil, err
	}
	m.parentMu.Lock()
	m.parentHash = tip.Hash
	m.parentMu.Unlock()
	m.cancelAttempt.Store(false)

	parentHeader, err := m.engine.Store().GetHeader(tip.Hash)
	if err != nil {
		return nil, nil, err
	}

	candidates := m.engine.Candidates(params.MaxBlockSize - m.cfg.CoinbaseReserve)
	coinbase, records, err := m.buildCoinbase(tip.Height+1, candidates)
	if err != nil {
		return nil, nil, err
	}
	transactions := append(append([]*types.Transaction{}, candidates...), coinbase)

	header, err := m.findWork(transactions, parentHeader, params)
	if err != nil {
		return nil, nil, err
	}

	block := &types.Block{Header: *header, Transactions: transactions}
	m.logger.Printf("mined block %s at height %d with %d transactions", block.Hash().Hex(), tip.Height+1, len(transactions))
	return block, records, nil
}

// buildCoinbase constructs the coinbase transaction paying the block reward
// plus fees to the configured address: one real output record and one dummy,
// both under the noop program.
func (m *Miner) buildCoinbase(height uint32, candidates []*types.Transaction) (*types.Transaction, []*types.Record, error) {
	fees := int64(0)
	for _, tx := range candidates {
		fees += tx.ValueBalance
	}
	if fees < 0 {
		return nil, nil, errors.New("candidate set contains a coinbase")
	}
	reward := consensus.BlockReward(height) + uint64(fees)

	real, err := m.newRecord(reward, false)
	if err != nil {
		return nil, nil, err
	}
	dummy, err := m.newRecord(0, true)
	if err != nil {
		return nil, nil, err
	}

	params := m.engine.Params()
	tx := &types.Transaction{
		NewCommitments: []types.Hash{real.Commitment, dummy.Commitment},
		LedgerDigest:   m.engine.Records().LatestDigest(),
		InnerCircuitID: params.InnerCircuitID,
		ValueBalance:   -int64(reward),
	}

	// Coinbase inputs are dummies; their serial numbers still enter the
	// ledger, must be globally unique, and carry real signatures under
	// freshly derived keys.
	var keys []*crypto.SigningKey
	for i := 0; i < 2; i++ {
		var nonce types.Hash
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, nil, err
		}
		key, err := crypto.SerialNumberKey(nonce, m.cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		tx.OldSerialNumbers = append(tx.OldSerialNumbers, types.BytesToHash(key.PublicKey.Bytes()))
	}

	if _, err := rand.Read(tx.Memo[:]); err != nil {
		return nil, nil, err
	}

	for _, rec := range []*types.Record{real, dummy} {
		sealed, err := crypto.EncryptRecord(rec)
		if err != nil {
			return nil, nil, err
		}
		tx.EncryptedRecords = append(tx.EncryptedRecords, sealed)
	}

	if err := crypto.SignTransaction(tx, keys); err != nil {
		return nil, nil, err
	}

	proof, err := m.txProver.ProveTransaction(tx)
	if err != nil {
		return nil, nil, err
	}
	tx.Proof = proof

	return tx, []*types.Record{real, dummy}, nil
}

// newRecord creates a coinbase output record owned by the miner address.
func (m *Miner) newRecord(value uint64, dummy bool) (*types.Record, error) {
	rec := &types.Record{
		Owner:          m.cfg.Address,
		IsDummy:        dummy,
		Value:          value,
		BirthProgramID: m.noopProgramID,
		DeathProgramID: m.noopProgramID,
	}
	if _, err := rand.Read(rec.SerialNumberNonce[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(rec.CommitmentRandomness[:]); err != nil {
		return nil, err
	}
	rec.Commitment = m.crypto.Pedersen().CommitRecord(rec)
	return rec, nil
}

// findWork runs the nonce search until the proof verifies against the
// retargeted difficulty or the attempt is cancelled.
func (m *Miner) findWork(transactions []*types.Transaction, parent *types.BlockHeader, params consensus.Params) (*types.BlockHeader, error) {
	timestamp := time.Now().Unix()
	if timestamp <= parent.Time {
		timestamp = parent.Time + 1
	}
	target := consensus.BitcoinRetarget(timestamp, parent.Time, params.TargetBlockTime, parent.DifficultyTarget)

	header := &types.BlockHeader{
		PreviousBlockHash: parent.Hash(),
		TransactionRoot:   consensus.TransactionRoot(transactions),
		CommitmentRoot:    consensus.CommitmentRoot(transactions),
		Time:              timestamp,
		DifficultyTarget:  target,
	}

	for nonce := uint32(0); nonce < params.MaxNonce; nonce++ {
		if m.cancelAttempt.Load() {
			return nil, ErrMiningCancelled
		}
		select {
		case <-m.quit:
			return nil, ErrMiningCancelled
		default:
		}

		header.Nonce = nonce
		if crypto.PoWValue(m.crypto.HashHeaderForPoW(header)) > target {
			continue
		}

		proof, err := m.work.Prove(header.CommitmentRoot, nonce)
		if err != nil {
			return nil, err
		}
		if err := header.SetProof(proof); err != nil {
			return nil, err
		}
		if m.crypto.VerifyPoW(header, target) {
			return header, nil
		}
	}
	return nil, errors.New("nonce space exhausted")
}

// storeRecords persists the miner's own non-dummy coinbase records.
func (m *Miner) storeRecords(records []*types.Record) {
	for _, rec := range records {
		if rec.IsDummy {
			continue
		}
		sealed, err := crypto.EncryptRecord(rec)
		if err != nil {
			m.logger.Printf("failed sealing coinbase record: %v", err)
			continue
		}
		if err := m.engine.Store().StoreRecord(rec.Commitment, sealed); err != nil {
			m.logger.Printf("failed storing coinbase record: %v", err)
		}
	}
}
