// Copyright 2025 Certen Protocol
//
// Ledger store: the persistent mapping of blocks, transactions, commitments,
// serial numbers, memos and digests over a column-prefixed key-value engine.
//
// CONCURRENCY: Store assumes single-writer access and is designed to be called
// from the consensus actor only. Readers may run concurrently; the KV engine
// permits concurrent readers with a single writer.

package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/certen/zkpow-node/pkg/types"
)

// ====== KV Key Layout ======
//
// Index values are dense u32 little-endian starting at 0. Decommit removes the
// mapping and decrements the current index pointer, so the next commit assigns
// the freed indices again.

var (
	// meta column singletons
	keyBestBlockHeight  = []byte("meta:best_block_height")   // -> u32 LE
	keyCurrentCMIndex   = []byte("meta:current_cm_index")    // -> u32 LE
	keyCurrentSNIndex   = []byte("meta:current_sn_index")    // -> u32 LE
	keyCurrentMemoIndex = []byte("meta:current_memo_index")  // -> u32 LE
	keyCurrentDigest    = []byte("meta:current_digest")      // -> 32 bytes
	keyPeerBook         = []byte("meta:peer_book")           // -> opaque blob

	prefixBlockHeader   = []byte("block:header:")       // + block hash -> header bytes
	prefixBlockTxs      = []byte("block:transactions:") // + block hash -> tx list bytes
	prefixBlockChildren = []byte("block:children:")     // + block hash -> concat child hashes
	prefixHeightToHash  = []byte("locator:height:")     // + u32 BE height -> block hash
	prefixHashToHeight  = []byte("locator:hash:")       // + block hash -> u32 LE height
	prefixTxLocation    = []byte("transaction:location:") // + tx id -> TransactionLocation
	prefixCommitment    = []byte("commitment:")         // + commitment -> u32 LE index
	prefixSerialNumber  = []byte("serial_number:")      // + serial number -> u32 LE index
	prefixMemo          = []byte("memo:")               // + memo -> u32 LE index
	prefixDigest        = []byte("digest:")             // + digest -> u32 LE block height
	prefixRecord        = []byte("record:")             // + commitment -> encrypted record bytes
)

func heightKey(height uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, height)
	return append(append([]byte{}, prefixHeightToHash...), b...)
}

func hashKey(prefix []byte, h types.Hash) []byte {
	return append(append([]byte{}, prefix...), h[:]...)
}

func memoKey(m types.Memo) []byte {
	return append(append([]byte{}, prefixMemo...), m[:]...)
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func bytesToU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, ErrIndexCorrupt
	}
	return binary.LittleEndian.Uint32(b), nil
}

// BlockStatusKind classifies a block hash against the store.
type BlockStatusKind int

const (
	// StatusUnknown means the hash has no stored header.
	StatusUnknown BlockStatusKind = iota
	// StatusCommitted means the block is on the canon chain.
	StatusCommitted
	// StatusUncommitted means the block is stored but not canon.
	StatusUncommitted
)

// BlockStatus is the decidable status of a block hash.
type BlockStatus struct {
	Kind   BlockStatusKind
	Height uint32 // valid when Kind == StatusCommitted
}

// BlockPathKind classifies where a received block attaches.
type BlockPathKind int

const (
	// PathCanonChain means the block extends the canon tip.
	PathCanonChain BlockPathKind = iota
	// PathSideChain means the block extends a stored non-canon chain.
	PathSideChain
)

// BlockPath describes how a block connects to canon.
type BlockPath struct {
	Kind BlockPathKind

	// BlockNumber is the height the block would occupy.
	BlockNumber uint32

	// SharedBlockNumber is the height of the nearest canon ancestor.
	SharedBlockNumber uint32

	// Path lists the side-chain block hashes from the canon ancestor's child
	// up to and including the received block. Empty for canon extension.
	Path []types.Hash
}

// Store provides high-level access to chain data in the KV engine.
type Store struct {
	kv KV
}

// NewStore creates a new Store instance.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// KV exposes the underlying engine for bootstrap iteration.
func (s *Store) KV() KV {
	return s.kv
}

// IsEmpty reports whether no block has ever been committed.
func (s *Store) IsEmpty() (bool, error) {
	v, err := s.kv.Get(keyBestBlockHeight)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// BestBlockHeight returns the canon tip height.
func (s *Store) BestBlockHeight() (uint32, error) {
	v, err := s.kv.Get(keyBestBlockHeight)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, ErrEmptyLedger
	}
	return bytesToU32(v)
}

// BestBlockHash returns the canon tip hash.
func (s *Store) BestBlockHash() (types.Hash, error) {
	height, err := s.BestBlockHeight()
	if err != nil {
		return types.ZeroHash, err
	}
	return s.BlockHashAtHeight(height)
}

// BlockHashAtHeight returns the canon block hash at the given height.
func (s *Store) BlockHashAtHeight(height uint32) (types.Hash, error) {
	v, err := s.kv.Get(heightKey(height))
	if err != nil {
		return types.ZeroHash, err
	}
	if v == nil {
		return types.ZeroHash, fmt.Errorf("%w: %d", ErrHeightNotFound, height)
	}
	return types.BytesToHash(v), nil
}

// BlockHeight returns the canon height of a committed block hash.
func (s *Store) BlockHeight(hash types.Hash) (uint32, error) {
	v, err := s.kv.Get(hashKey(prefixHashToHeight, hash))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	return bytesToU32(v)
}

// GetHeader returns a stored block header.
func (s *Store) GetHeader(hash types.Hash) (*types.BlockHeader, error) {
	v, err := s.kv.Get(hashKey(prefixBlockHeader, hash))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	return types.DeserializeHeader(v)
}

// GetBlockTransactions returns a stored block's transactions.
func (s *Store) GetBlockTransactions(hash types.Hash) ([]*types.Transaction, error) {
	v, err := s.kv.Get(hashKey(prefixBlockTxs, hash))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	r := bytes.NewReader(v)
	n, err := types.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	txs := make([]*types.Transaction, n)
	for i := range txs {
		tx := new(types.Transaction)
		if err := tx.Deserialize(r); err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}

// GetBlock returns a stored block.
func (s *Store) GetBlock(hash types.Hash) (*types.Block, error) {
	header, err := s.GetHeader(hash)
	if err != nil {
		return nil, err
	}
	txs, err := s.GetBlockTransactions(hash)
	if err != nil {
		return nil, err
	}
	return &types.Block{Header: *header, Transactions: txs}, nil
}

// HasBlock reports whether a header is stored (committed or not).
func (s *Store) HasBlock(hash types.Hash) (bool, error) {
	v, err := s.kv.Get(hashKey(prefixBlockHeader, hash))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Status classifies a block hash.
func (s *Store) Status(hash types.Hash) (BlockStatus, error) {
	v, err := s.kv.Get(hashKey(prefixHashToHeight, hash))
	if err != nil {
		return BlockStatus{}, err
	}
	if v != nil {
		height, err := bytesToU32(v)
		if err != nil {
			return BlockStatus{}, err
		}
		return BlockStatus{Kind: StatusCommitted, Height: height}, nil
	}
	stored, err := s.HasBlock(hash)
	if err != nil {
		return BlockStatus{}, err
	}
	if stored {
		return BlockStatus{Kind: StatusUncommitted}, nil
	}
	return BlockStatus{Kind: StatusUnknown}, nil
}

// InsertBlockOnly stores a block's header and transactions without committing
// it, and records the block as a child of its parent for fast-forward lookup.
func (s *Store) InsertBlockOnly(block *types.Block) error {
	hash := block.Hash()

	if err := s.kv.Set(hashKey(prefixBlockHeader, hash), block.Header.Bytes()); err != nil {
		return err
	}

	var txBuf bytes.Buffer
	if err := types.WriteVarint(&txBuf, uint64(len(block.Transactions))); err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		if err := tx.Serialize(&txBuf); err != nil {
			return err
		}
	}
	if err := s.kv.Set(hashKey(prefixBlockTxs, hash), txBuf.Bytes()); err != nil {
		return err
	}

	return s.addChild(block.Header.PreviousBlockHash, hash)
}

// addChild appends child to parent's child list if absent.
func (s *Store) addChild(parent, child types.Hash) error {
	key := hashKey(prefixBlockChildren, parent)
	v, err := s.kv.Get(key)
	if err != nil {
		return err
	}
	for i := 0; i+types.HashSize <= len(v); i += types.HashSize {
		if bytes.Equal(v[i:i+types.HashSize], child[:]) {
			return nil
		}
	}
	return s.kv.Set(key, append(v, child[:]...))
}

// Children returns the stored children of a block hash in insertion order.
func (s *Store) Children(parent types.Hash) ([]types.Hash, error) {
	v, err := s.kv.Get(hashKey(prefixBlockChildren, parent))
	if err != nil {
		return nil, err
	}
	var children []types.Hash
	for i := 0; i+types.HashSize <= len(v); i += types.HashSize {
		children = append(children, types.BytesToHash(v[i:i+types.HashSize]))
	}
	return children, nil
}

// GetBlockPath walks a stored block back to the canon chain and classifies
// the attachment point. The walk fails with ErrParentUnknown when it reaches
// a hash with no stored header.
func (s *Store) GetBlockPath(block *types.Block) (*BlockPath, error) {
	tipHeight, err := s.BestBlockHeight()
	if err != nil {
		return nil, err
	}

	path := []types.Hash{block.Hash()}
	current := block.Header.PreviousBlockHash

	for {
		status, err := s.Status(current)
		if err != nil {
			return nil, err
		}
		switch status.Kind {
		case StatusCommitted:
			if status.Height == tipHeight {
				return &BlockPath{
					Kind:              PathCanonChain,
					BlockNumber:       tipHeight + 1,
					SharedBlockNumber: tipHeight,
				}, nil
			}
			// Reverse the accumulated hashes: they were collected tip-first.
			ordered := make([]types.Hash, len(path))
			for i, h := range path {
				ordered[len(path)-1-i] = h
			}
			return &BlockPath{
				Kind:              PathSideChain,
				BlockNumber:       status.Height + uint32(len(ordered)),
				SharedBlockNumber: status.Height,
				Path:              ordered,
			}, nil
		case StatusUncommitted:
			path = append(path, current)
			header, err := s.GetHeader(current)
			if err != nil {
				return nil, err
			}
			current = header.PreviousBlockHash
		default:
			return nil, fmt.Errorf("%w: %s", ErrParentUnknown, current.Hex())
		}
	}
}

// currentIndex reads a meta index pointer, defaulting to 0.
func (s *Store) currentIndex(key []byte) (uint32, error) {
	v, err := s.kv.Get(key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return bytesToU32(v)
}

// CurrentCommitmentIndex returns the next commitment index to assign.
func (s *Store) CurrentCommitmentIndex() (uint32, error) {
	return s.currentIndex(keyCurrentCMIndex)
}

// CurrentSerialNumberIndex returns the next serial-number index to assign.
func (s *Store) CurrentSerialNumberIndex() (uint32, error) {
	return s.currentIndex(keyCurrentSNIndex)
}

// CurrentMemoIndex returns the next memo index to assign.
func (s *Store) CurrentMemoIndex() (uint32, error) {
	return s.currentIndex(keyCurrentMemoIndex)
}

// CurrentDigest returns the latest persisted ledger digest.
func (s *Store) CurrentDigest() (types.Hash, error) {
	v, err := s.kv.Get(keyCurrentDigest)
	if err != nil {
		return types.ZeroHash, err
	}
	if v == nil {
		return types.ZeroHash, nil
	}
	return types.BytesToHash(v), nil
}

// ContainsCommitment reports canon membership of a record commitment.
func (s *Store) ContainsCommitment(cm types.Hash) (bool, error) {
	v, err := s.kv.Get(hashKey(prefixCommitment, cm))
	return v != nil, err
}

// ContainsSerialNumber reports canon membership of a serial number.
func (s *Store) ContainsSerialNumber(sn types.Hash) (bool, error) {
	v, err := s.kv.Get(hashKey(prefixSerialNumber, sn))
	return v != nil, err
}

// ContainsMemo reports canon membership of a transaction memo.
func (s *Store) ContainsMemo(m types.Memo) (bool, error) {
	v, err := s.kv.Get(memoKey(m))
	return v != nil, err
}

// ContainsDigest reports whether a ledger digest occurred in canon history.
func (s *Store) ContainsDigest(d types.Hash) (bool, error) {
	v, err := s.kv.Get(hashKey(prefixDigest, d))
	return v != nil, err
}

// TransactionLocation returns where a committed transaction lives.
func (s *Store) TransactionLocation(txID types.Hash) (*types.TransactionLocation, error) {
	v, err := s.kv.Get(hashKey(prefixTxLocation, txID))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID.Hex())
	}
	loc := new(types.TransactionLocation)
	if err := loc.Deserialize(bytes.NewReader(v)); err != nil {
		return nil, err
	}
	return loc, nil
}

// ContainsTransaction reports whether a transaction id is committed.
func (s *Store) ContainsTransaction(txID types.Hash) (bool, error) {
	v, err := s.kv.Get(hashKey(prefixTxLocation, txID))
	return v != nil, err
}

// CommitBlock atomically canonizes a stored block at the given height:
// locator entries, transaction locations, dense commitment / serial-number /
// memo indices, the new ledger digest, and the meta pointers all land in one
// batch.
func (s *Store) CommitBlock(block *types.Block, height uint32, newDigest types.Hash) error {
	hash := block.Hash()

	cmIndex, err := s.CurrentCommitmentIndex()
	if err != nil {
		return err
	}
	snIndex, err := s.CurrentSerialNumberIndex()
	if err != nil {
		return err
	}
	memoIndex, err := s.CurrentMemoIndex()
	if err != nil {
		return err
	}

	batch := s.kv.Batch()

	batch.Set(heightKey(height), hash.Bytes())
	batch.Set(hashKey(prefixHashToHeight, hash), u32Bytes(height))

	for i, tx := range block.Transactions {
		loc := types.TransactionLocation{BlockHash: hash, Index: uint32(i)}
		var buf bytes.Buffer
		if err := loc.Serialize(&buf); err != nil {
			return err
		}
		batch.Set(hashKey(prefixTxLocation, tx.ID()), buf.Bytes())

		for _, cm := range tx.NewCommitments {
			batch.Set(hashKey(prefixCommitment, cm), u32Bytes(cmIndex))
			cmIndex++
		}
		for _, sn := range tx.OldSerialNumbers {
			batch.Set(hashKey(prefixSerialNumber, sn), u32Bytes(snIndex))
			snIndex++
		}
		batch.Set(memoKey(tx.Memo), u32Bytes(memoIndex))
		memoIndex++
	}

	batch.Set(hashKey(prefixDigest, newDigest), u32Bytes(height))

	batch.Set(keyBestBlockHeight, u32Bytes(height))
	batch.Set(keyCurrentCMIndex, u32Bytes(cmIndex))
	batch.Set(keyCurrentSNIndex, u32Bytes(snIndex))
	batch.Set(keyCurrentMemoIndex, u32Bytes(memoIndex))
	batch.Set(keyCurrentDigest, newDigest.Bytes())

	return batch.Write()
}

// DecommitBlock atomically reverses CommitBlock, leaving the block stored but
// uncommitted. prevDigest is the ledger digest at height-1; currentDigest is
// the digest the block introduced.
func (s *Store) DecommitBlock(block *types.Block, height uint32, prevDigest, currentDigest types.Hash) error {
	hash := block.Hash()

	cmIndex, err := s.CurrentCommitmentIndex()
	if err != nil {
		return err
	}
	snIndex, err := s.CurrentSerialNumberIndex()
	if err != nil {
		return err
	}
	memoIndex, err := s.CurrentMemoIndex()
	if err != nil {
		return err
	}

	batch := s.kv.Batch()

	batch.Delete(heightKey(height))
	batch.Delete(hashKey(prefixHashToHeight, hash))

	for _, tx := range block.Transactions {
		batch.Delete(hashKey(prefixTxLocation, tx.ID()))
		for _, cm := range tx.NewCommitments {
			batch.Delete(hashKey(prefixCommitment, cm))
			cmIndex--
		}
		for _, sn := range tx.OldSerialNumbers {
			batch.Delete(hashKey(prefixSerialNumber, sn))
			snIndex--
		}
		batch.Delete(memoKey(tx.Memo))
		memoIndex--
	}

	batch.Delete(hashKey(prefixDigest, currentDigest))

	if height == 0 {
		batch.Delete(keyBestBlockHeight)
	} else {
		batch.Set(keyBestBlockHeight, u32Bytes(height-1))
	}
	batch.Set(keyCurrentCMIndex, u32Bytes(cmIndex))
	batch.Set(keyCurrentSNIndex, u32Bytes(snIndex))
	batch.Set(keyCurrentMemoIndex, u32Bytes(memoIndex))
	batch.Set(keyCurrentDigest, prevDigest.Bytes())

	return batch.Write()
}

// StoreRecord persists an encrypted record under its commitment.
func (s *Store) StoreRecord(cm types.Hash, encryptedRecord []byte) error {
	return s.kv.Set(hashKey(prefixRecord, cm), encryptedRecord)
}

// GetRecord returns the encrypted record stored under a commitment.
func (s *Store) GetRecord(cm types.Hash) ([]byte, error) {
	v, err := s.kv.Get(hashKey(prefixRecord, cm))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, cm.Hex())
	}
	return v, nil
}

// SavePeerBook persists the peer-book blob.
func (s *Store) SavePeerBook(blob []byte) error {
	return s.kv.Set(keyPeerBook, blob)
}

// LoadPeerBook returns the persisted peer-book blob, nil when absent.
func (s *Store) LoadPeerBook() ([]byte, error) {
	return s.kv.Get(keyPeerBook)
}

// BlockLocatorHashes returns canon hashes at heights h, h-1, h-2, h-4, h-8,
// ..., 0 — the locator list sent to sync peers.
func (s *Store) BlockLocatorHashes() ([]types.Hash, error) {
	height, err := s.BestBlockHeight()
	if err != nil {
		if err == ErrEmptyLedger {
			return nil, nil
		}
		return nil, err
	}

	var locators []types.Hash
	appendHeight := func(h uint32) error {
		hash, err := s.BlockHashAtHeight(h)
		if err != nil {
			return err
		}
		locators = append(locators, hash)
		return nil
	}

	if err := appendHeight(height); err != nil {
		return nil, err
	}
	for offset := uint32(1); ; offset *= 2 {
		if offset >= height {
			if height > 0 {
				if err := appendHeight(0); err != nil {
					return nil, err
				}
			}
			break
		}
		if err := appendHeight(height - offset); err != nil {
			return nil, err
		}
		if offset > 1<<30 {
			break
		}
	}
	return locators, nil
}

// FindSyncHashes returns up to max canon hashes following the first locator
// recognized as canon, serving a peer's GetSync request.
func (s *Store) FindSyncHashes(locators []types.Hash, max int) ([]types.Hash, error) {
	start := uint32(0)
	for _, locator := range locators {
		status, err := s.Status(locator)
		if err != nil {
			return nil, err
		}
		if status.Kind == StatusCommitted {
			start = status.Height
			break
		}
	}

	tip, err := s.BestBlockHeight()
	if err != nil {
		if err == ErrEmptyLedger {
			return nil, nil
		}
		return nil, err
	}

	var hashes []types.Hash
	for h := start + 1; h <= tip && len(hashes) < max; h++ {
		hash, err := s.BlockHashAtHeight(h)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// ForkPoints scans the child index for canon blocks with stored non-canon
// children: each pair is a side-chain departure point.
func (s *Store) ForkPoints() ([][2]types.Hash, error) {
	var (
		forks [][2]types.Hash
		ierr  error
	)
	err := s.kv.Iterate(prefixBlockChildren, func(key, value []byte) bool {
		parent := types.BytesToHash(key[len(prefixBlockChildren):])
		parentStatus, err := s.Status(parent)
		if err != nil {
			ierr = err
			return false
		}
		if parentStatus.Kind != StatusCommitted {
			return true
		}
		for i := 0; i+types.HashSize <= len(value); i += types.HashSize {
			child := types.BytesToHash(value[i : i+types.HashSize])
			childStatus, err := s.Status(child)
			if err != nil {
				ierr = err
				return false
			}
			if childStatus.Kind == StatusUncommitted {
				forks = append(forks, [2]types.Hash{parent, child})
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return forks, ierr
}
