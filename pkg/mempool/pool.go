// Copyright 2025 Certen Protocol
//
// Memory pool for validated-but-unconfirmed transactions.
// Every pooled transaction has passed outer verification at entry time; the
// pool itself enforces serial-number exclusivity against canon state and
// against other pooled transactions.

package mempool

import (
	"log"
	"sync"

	"github.com/certen/zkpow-node/pkg/types"
)

// CanonView is the read-only slice of chain state the pool checks against.
type CanonView interface {
	ContainsSerialNumber(sn types.Hash) bool
	ContainsCommitment(cm types.Hash) bool
	ContainsMemo(m types.Memo) bool
}

// Config holds pool limits.
type Config struct {
	// MaxTransactions caps the entry count. Zero means unbounded.
	MaxTransactions int

	// MaxBytes caps the total serialized size. Zero means unbounded.
	MaxBytes int

	Logger *log.Logger
}

// DefaultConfig returns default pool limits.
func DefaultConfig() *Config {
	return &Config{
		MaxTransactions: 4096,
		MaxBytes:        16 << 20,
		Logger:          log.New(log.Writer(), "[MemoryPool] ", log.LstdFlags),
	}
}

// entry is a pooled transaction with its cached id and size.
type entry struct {
	tx   *types.Transaction
	id   types.Hash
	size int
}

// Pool holds unconfirmed transactions in insertion order.
type Pool struct {
	mu sync.Mutex

	cfg   *Config
	canon CanonView

	entries map[types.Hash]*entry
	order   []types.Hash // insertion order, drives deterministic selection

	// serials maps every pooled serial number to the holding transaction.
	serials map[types.Hash]types.Hash

	totalBytes int
}

// NewPool creates a pool validating against the given canon view.
func NewPool(cfg *Config, canon CanonView) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[MemoryPool] ", log.LstdFlags)
	}
	return &Pool{
		cfg:     cfg,
		canon:   canon,
		entries: make(map[types.Hash]*entry),
		serials: make(map[types.Hash]types.Hash),
	}
}

// Insert adds a verified transaction. Returns the rejection reason for
// duplicates and double spends, nil on success.
func (p *Pool) Insert(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(tx, false)
}

// Restore re-adds a decommitted transaction. A transaction that conflicts
// with canon state is dropped with a log line and no error: it was superseded
// by the new chain.
func (p *Pool) Restore(tx *types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.insertLocked(tx, true); err != nil {
		p.cfg.Logger.Printf("dropped restored transaction %s: %v", tx.ID().Hex(), err)
	}
}

func (p *Pool) insertLocked(tx *types.Transaction, silent bool) error {
	id := tx.ID()
	if _, ok := p.entries[id]; ok {
		return ErrDuplicateTransaction
	}

	for _, sn := range tx.OldSerialNumbers {
		if p.canon.ContainsSerialNumber(sn) {
			return ErrAlreadySpent
		}
		if _, ok := p.serials[sn]; ok {
			return ErrPoolConflict
		}
	}
	for _, cm := range tx.NewCommitments {
		if p.canon.ContainsCommitment(cm) {
			return ErrAlreadyCommitted
		}
	}
	if p.canon.ContainsMemo(tx.Memo) {
		return ErrAlreadyCommitted
	}

	e := &entry{tx: tx, id: id, size: tx.Size()}
	p.entries[id] = e
	p.order = append(p.order, id)
	for _, sn := range tx.OldSerialNumbers {
		p.serials[sn] = id
	}
	p.totalBytes += e.size

	p.evictOverflowLocked()
	return nil
}

// evictOverflowLocked drops oldest entries until limits hold.
func (p *Pool) evictOverflowLocked() {
	for (p.cfg.MaxTransactions > 0 && len(p.entries) > p.cfg.MaxTransactions) ||
		(p.cfg.MaxBytes > 0 && p.totalBytes > p.cfg.MaxBytes) {
		oldest, ok := p.oldestLocked()
		if !ok {
			return
		}
		p.cfg.Logger.Printf("evicting transaction %s (pool overflow)", oldest.Hex())
		p.removeLocked(oldest)
	}
}

// oldestLocked returns the oldest live entry id.
func (p *Pool) oldestLocked() (types.Hash, bool) {
	for len(p.order) > 0 {
		id := p.order[0]
		if _, ok := p.entries[id]; ok {
			return id, true
		}
		p.order = p.order[1:]
	}
	return types.ZeroHash, false
}

// RemoveByHash removes a confirmed transaction.
func (p *Pool) RemoveByHash(id types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(id)
}

func (p *Pool) removeLocked(id types.Hash) bool {
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	delete(p.entries, id)
	for _, sn := range e.tx.OldSerialNumbers {
		delete(p.serials, sn)
	}
	p.totalBytes -= e.size
	return true
}

// Contains reports whether the transaction id is pooled.
func (p *Pool) Contains(id types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// TotalBytes returns the serialized size of the pool.
func (p *Pool) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// Candidates returns an ordered, non-conflicting subset whose total
// serialized size fits maxBytes. Selection follows insertion order, so block
// assembly is reproducible.
func (p *Pool) Candidates(maxBytes int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		out      []*types.Transaction
		total    int
		consumed = make(map[types.Hash]struct{})
	)
	for _, id := range p.order {
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		if total+e.size > maxBytes {
			continue
		}
		conflict := false
		for _, sn := range e.tx.OldSerialNumbers {
			if _, ok := consumed[sn]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, sn := range e.tx.OldSerialNumbers {
			consumed[sn] = struct{}{}
		}
		out = append(out, e.tx)
		total += e.size
	}
	return out
}
