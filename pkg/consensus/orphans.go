// Copyright 2025 Certen Protocol
//
// Bounded orphan pool: blocks whose parent is unknown, held until the parent
// arrives. Oldest-first eviction plus a TTL keeps the pool from growing under
// junk from peers.

package consensus

import (
	"time"

	"github.com/certen/zkpow-node/pkg/types"
)

type orphanEntry struct {
	block *types.Block
	added time.Time
}

type orphanPool struct {
	limit    int
	ttl      time.Duration
	byParent map[types.Hash][]*orphanEntry
	order    []types.Hash // block hashes, insertion order
	byHash   map[types.Hash]*orphanEntry
}

func newOrphanPool(limit int, ttl time.Duration) *orphanPool {
	return &orphanPool{
		limit:    limit,
		ttl:      ttl,
		byParent: make(map[types.Hash][]*orphanEntry),
		byHash:   make(map[types.Hash]*orphanEntry),
	}
}

// Add stores an orphan, evicting expired and overflow entries.
func (o *orphanPool) Add(block *types.Block, now time.Time) {
	hash := block.Hash()
	if _, ok := o.byHash[hash]; ok {
		return
	}
	o.expire(now)
	for o.limit > 0 && len(o.byHash) >= o.limit {
		o.evictOldest()
	}

	entry := &orphanEntry{block: block, added: now}
	o.byHash[hash] = entry
	o.byParent[block.Header.PreviousBlockHash] = append(o.byParent[block.Header.PreviousBlockHash], entry)
	o.order = append(o.order, hash)
}

// Take removes and returns every orphan whose parent is the given hash.
func (o *orphanPool) Take(parent types.Hash) []*types.Block {
	entries := o.byParent[parent]
	if len(entries) == 0 {
		return nil
	}
	delete(o.byParent, parent)

	blocks := make([]*types.Block, 0, len(entries))
	for _, entry := range entries {
		hash := entry.block.Hash()
		if _, ok := o.byHash[hash]; !ok {
			continue
		}
		delete(o.byHash, hash)
		blocks = append(blocks, entry.block)
	}
	return blocks
}

// Len returns the number of held orphans.
func (o *orphanPool) Len() int {
	return len(o.byHash)
}

func (o *orphanPool) expire(now time.Time) {
	if o.ttl <= 0 {
		return
	}
	for len(o.order) > 0 {
		hash := o.order[0]
		entry, ok := o.byHash[hash]
		if !ok {
			o.order = o.order[1:]
			continue
		}
		if now.Sub(entry.added) < o.ttl {
			return
		}
		o.remove(hash, entry)
	}
}

func (o *orphanPool) evictOldest() {
	for len(o.order) > 0 {
		hash := o.order[0]
		entry, ok := o.byHash[hash]
		if !ok {
			o.order = o.order[1:]
			continue
		}
		o.remove(hash, entry)
		return
	}
}

func (o *orphanPool) remove(hash types.Hash, entry *orphanEntry) {
	delete(o.byHash, hash)
	o.order = o.order[1:]

	parent := entry.block.Header.PreviousBlockHash
	siblings := o.byParent[parent]
	for i, sibling := range siblings {
		if sibling == entry {
			o.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(o.byParent[parent]) == 0 {
		delete(o.byParent, parent)
	}
}
