// Copyright 2025 Certen Protocol
//
// Narrow key-value contract the ledger store is written against.
// The production implementation is pkg/kvdb over CometBFT's database; tests
// use the same adapter over an in-memory DB.

package ledger

// Batch accumulates writes applied atomically by Write.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
}

// KV is the storage engine contract: concurrent readers, single writer.
// The single writer is the consensus actor.
type KV interface {
	// Get returns the value for key, or (nil, nil) when absent.
	Get(key []byte) ([]byte, error)

	// Set durably writes a single key.
	Set(key, value []byte) error

	// Delete durably removes a single key.
	Delete(key []byte) error

	// Iterate visits every key with the given prefix in ascending key order
	// until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error

	// Batch opens an atomic write batch.
	Batch() Batch

	// Close releases the engine.
	Close() error
}
