// Copyright 2025 Certen Protocol
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface to implement ledger.KV

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/zkpow-node/pkg/ledger"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes the ledger.KV interface.
// This allows the ledger store to use CometBFT's persistent storage directly.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// NewMemoryKV returns an adapter over an in-memory DB, used by tests and the
// experimental command.
func NewMemoryKV() *KVAdapter {
	return &KVAdapter{db: dbm.NewMemDB()}
}

// OpenGoLevelDB opens (or creates) an on-disk GoLevelDB database.
func OpenGoLevelDB(name, dir string) (*KVAdapter, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, err
	}
	return &KVAdapter{db: db}, nil
}

// Get implements ledger.KV.Get. A missing key yields (nil, nil).
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	return a.db.Get(key)
}

// Set implements ledger.KV.Set. Uses SetSync for durable writes at commit time.
func (a *KVAdapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

// Delete implements ledger.KV.Delete.
func (a *KVAdapter) Delete(key []byte) error {
	return a.db.DeleteSync(key)
}

// Iterate implements ledger.KV.Iterate: visits every key with the given prefix
// in ascending key order until fn returns false.
func (a *KVAdapter) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	start, end := prefixRange(prefix)
	it, err := a.db.Iterator(start, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		if !fn(key, value) {
			break
		}
	}
	return it.Error()
}

// Batch implements ledger.KV.Batch.
func (a *KVAdapter) Batch() ledger.Batch {
	return &WriteBatch{batch: a.db.NewBatch()}
}

// Close releases the underlying database.
func (a *KVAdapter) Close() error {
	return a.db.Close()
}

// WriteBatch accumulates writes applied atomically by Write.
type WriteBatch struct {
	batch dbm.Batch
	err   error
}

// Set queues a key/value write.
func (b *WriteBatch) Set(key, value []byte) {
	if b.err == nil {
		b.err = b.batch.Set(key, value)
	}
}

// Delete queues a key deletion.
func (b *WriteBatch) Delete(key []byte) {
	if b.err == nil {
		b.err = b.batch.Delete(key)
	}
}

// Write flushes the batch durably and releases it.
func (b *WriteBatch) Write() error {
	defer b.batch.Close()
	if b.err != nil {
		return b.err
	}
	return b.batch.WriteSync()
}

// prefixRange returns the [start, end) iterator bounds covering prefix.
func prefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
	}
	return prefix, nil
}
