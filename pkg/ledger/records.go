// Copyright 2025 Certen Protocol
//
// Record ledger: the in-memory view of the append-only commitment sequence,
// consumed serial numbers, used memos and the merkle digest history. Owned by
// the consensus actor; readers (miner, RPC) take the read lock.
//
// Reverts replay a journal of per-block deltas kept since process start.
// Reorganizations deeper than the journal horizon surface ErrRevertTooDeep
// and are treated as storage-level failures by the engine.

package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/certen/zkpow-node/pkg/merkle"
	"github.com/certen/zkpow-node/pkg/types"
)

// recordDelta is the undo information for one applied block.
type recordDelta struct {
	height      uint32
	commitments int // number of commitments the block appended
	serials     []types.Hash
	memos       []types.Memo
	digest      types.Hash
}

// RecordLedger maintains the commitment sequence C, serial-number set S, memo
// set M and digest history D.
type RecordLedger struct {
	mu sync.RWMutex

	commitments []types.Hash
	cmIndex     map[types.Hash]uint32

	serials map[types.Hash]struct{}
	memos   map[types.Memo]struct{}

	// digests[0] is the empty-ledger digest; digests[h+1] is the digest after
	// applying the canon block at height h.
	digests   []types.Hash
	digestSet map[types.Hash]struct{}

	journal []recordDelta
}

// NewRecordLedger returns an empty record ledger. The empty-ledger digest is
// the zero hash and is considered present, so genesis transactions may
// reference it.
func NewRecordLedger() *RecordLedger {
	return &RecordLedger{
		cmIndex:   make(map[types.Hash]uint32),
		serials:   make(map[types.Hash]struct{}),
		memos:     make(map[types.Memo]struct{}),
		digests:   []types.Hash{types.ZeroHash},
		digestSet: map[types.Hash]struct{}{types.ZeroHash: {}},
	}
}

// BootstrapRecordLedger rebuilds the record ledger from a populated store,
// used at node startup. The journal starts empty: reverts below the restart
// height are not possible without resyncing.
func BootstrapRecordLedger(store *Store) (*RecordLedger, error) {
	rl := NewRecordLedger()

	type indexed struct {
		hash  types.Hash
		index uint32
	}

	var (
		cms  []indexed
		ierr error
	)
	if err := store.KV().Iterate(prefixCommitment, func(key, value []byte) bool {
		idx, e := bytesToU32(value)
		if e != nil {
			ierr = e
			return false
		}
		cms = append(cms, indexed{types.BytesToHash(key[len(prefixCommitment):]), idx})
		return true
	}); err != nil {
		return nil, err
	}
	if ierr != nil {
		return nil, ierr
	}
	sort.Slice(cms, func(i, j int) bool { return cms[i].index < cms[j].index })
	for _, cm := range cms {
		rl.cmIndex[cm.hash] = uint32(len(rl.commitments))
		rl.commitments = append(rl.commitments, cm.hash)
	}

	if err := store.KV().Iterate(prefixSerialNumber, func(key, _ []byte) bool {
		rl.serials[types.BytesToHash(key[len(prefixSerialNumber):])] = struct{}{}
		return true
	}); err != nil {
		return nil, err
	}

	if err := store.KV().Iterate(prefixMemo, func(key, _ []byte) bool {
		var m types.Memo
		copy(m[:], key[len(prefixMemo):])
		rl.memos[m] = struct{}{}
		return true
	}); err != nil {
		return nil, err
	}

	var digests []indexed
	if err := store.KV().Iterate(prefixDigest, func(key, value []byte) bool {
		idx, e := bytesToU32(value)
		if e != nil {
			ierr = e
			return false
		}
		digests = append(digests, indexed{types.BytesToHash(key[len(prefixDigest):]), idx})
		return true
	}); err != nil {
		return nil, err
	}
	if ierr != nil {
		return nil, ierr
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i].index < digests[j].index })
	for _, d := range digests {
		rl.digests = append(rl.digests, d.hash)
		rl.digestSet[d.hash] = struct{}{}
	}

	return rl, nil
}

// ApplyBlock atomically appends the block's commitments, inserts its serial
// numbers and memos, recomputes the merkle digest and records it. Returns the
// new digest for the store commit.
func (rl *RecordLedger) ApplyBlock(height uint32, block *types.Block) (types.Hash, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if int(height)+1 != len(rl.digests) {
		return types.ZeroHash, fmt.Errorf("apply at height %d against digest history of %d entries", height, len(rl.digests))
	}

	delta := recordDelta{height: height}

	for _, tx := range block.Transactions {
		for _, cm := range tx.NewCommitments {
			rl.cmIndex[cm] = uint32(len(rl.commitments))
			rl.commitments = append(rl.commitments, cm)
			delta.commitments++
		}
		for _, sn := range tx.OldSerialNumbers {
			rl.serials[sn] = struct{}{}
			delta.serials = append(delta.serials, sn)
		}
		rl.memos[tx.Memo] = struct{}{}
		delta.memos = append(delta.memos, tx.Memo)
	}

	digest := merkle.Root(rl.commitments)
	delta.digest = digest
	rl.digests = append(rl.digests, digest)
	rl.digestSet[digest] = struct{}{}
	rl.journal = append(rl.journal, delta)

	return digest, nil
}

// RevertTo undoes block applications down to and including height+1,
// restoring the state at height.
func (rl *RecordLedger) RevertTo(height uint32) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for len(rl.digests) > int(height)+2 {
		if err := rl.revertLastLocked(); err != nil {
			return err
		}
	}
	return nil
}

// RevertLast undoes the most recently applied block.
func (rl *RecordLedger) RevertLast() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.revertLastLocked()
}

func (rl *RecordLedger) revertLastLocked() error {
	if len(rl.journal) == 0 {
		return ErrRevertTooDeep
	}
	delta := rl.journal[len(rl.journal)-1]
	rl.journal = rl.journal[:len(rl.journal)-1]

	for i := 0; i < delta.commitments; i++ {
		cm := rl.commitments[len(rl.commitments)-1]
		rl.commitments = rl.commitments[:len(rl.commitments)-1]
		delete(rl.cmIndex, cm)
	}
	for _, sn := range delta.serials {
		delete(rl.serials, sn)
	}
	for _, m := range delta.memos {
		delete(rl.memos, m)
	}
	rl.digests = rl.digests[:len(rl.digests)-1]
	delete(rl.digestSet, delta.digest)
	return nil
}

// LatestDigest returns the current merkle root of the commitment sequence.
func (rl *RecordLedger) LatestDigest() types.Hash {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.digests[len(rl.digests)-1]
}

// DigestAt returns the digest after applying the canon block at height.
func (rl *RecordLedger) DigestAt(height uint32) (types.Hash, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if int(height)+1 >= len(rl.digests) {
		return types.ZeroHash, fmt.Errorf("%w: %d", ErrHeightNotFound, height)
	}
	return rl.digests[height+1], nil
}

// CommitmentCount returns the length of the commitment sequence.
func (rl *RecordLedger) CommitmentCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.commitments)
}

// ContainsCommitment reports membership of a record commitment.
func (rl *RecordLedger) ContainsCommitment(cm types.Hash) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.cmIndex[cm]
	return ok
}

// ContainsSerialNumber reports membership of a serial number.
func (rl *RecordLedger) ContainsSerialNumber(sn types.Hash) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.serials[sn]
	return ok
}

// ContainsMemo reports membership of a memo.
func (rl *RecordLedger) ContainsMemo(m types.Memo) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.memos[m]
	return ok
}

// ContainsDigest reports whether a digest occurred at any canon state.
func (rl *RecordLedger) ContainsDigest(d types.Hash) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.digestSet[d]
	return ok
}

// ProveMembership returns a merkle authentication path for a committed
// commitment against the latest digest.
func (rl *RecordLedger) ProveMembership(cm types.Hash) (*merkle.InclusionProof, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	index, ok := rl.cmIndex[cm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCommitmentNotFound, cm.Hex())
	}
	tree, err := merkle.BuildTree(rl.commitments)
	if err != nil {
		return nil, err
	}
	return tree.GenerateProof(int(index))
}

// Clone returns a deep copy, used to stage side-chain validation without
// touching live state.
func (rl *RecordLedger) Clone() *RecordLedger {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	out := &RecordLedger{
		commitments: append([]types.Hash(nil), rl.commitments...),
		cmIndex:     make(map[types.Hash]uint32, len(rl.cmIndex)),
		serials:     make(map[types.Hash]struct{}, len(rl.serials)),
		memos:       make(map[types.Memo]struct{}, len(rl.memos)),
		digests:     append([]types.Hash(nil), rl.digests...),
		digestSet:   make(map[types.Hash]struct{}, len(rl.digestSet)),
		journal:     append([]recordDelta(nil), rl.journal...),
	}
	for k, v := range rl.cmIndex {
		out.cmIndex[k] = v
	}
	for k := range rl.serials {
		out.serials[k] = struct{}{}
	}
	for k := range rl.memos {
		out.memos[k] = struct{}{}
	}
	for k := range rl.digestSet {
		out.digestSet[k] = struct{}{}
	}
	return out
}
