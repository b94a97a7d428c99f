// Copyright 2025 Certen Protocol
//
// Block header model and fixed-size serialization.

package types

import (
	"bytes"
	"fmt"
	"io"
)

// ProofSize is the fixed byte length of the succinct work proof carried in a
// block header. Proofs shorter than this are zero-padded by the prover.
const ProofSize = 512

// HeaderSize is the serialized length of a block header.
const HeaderSize = HashSize*3 + 8 + 8 + 4 + ProofSize

// BlockHeader carries the consensus-visible block metadata. The block hash is
// the double-sha256 digest of the serialized header.
type BlockHeader struct {
	// PreviousBlockHash points to the parent block. Zero for genesis.
	PreviousBlockHash Hash

	// TransactionRoot is the merkle root over the block's transaction ids.
	TransactionRoot Hash

	// CommitmentRoot is the auxiliary root over the block's new record
	// commitments; the succinct work proof binds to it.
	CommitmentRoot Hash

	// Time is the epoch timestamp chosen by the miner, in seconds.
	Time int64

	// DifficultyTarget is the proof-of-work target. Lower targets mean more work.
	DifficultyTarget uint64

	// Nonce is the proof-of-work search counter.
	Nonce uint32

	// Proof is the succinct proof of work, zero-padded to ProofSize bytes.
	Proof [ProofSize]byte
}

// Serialize writes the fixed-size header encoding.
func (h *BlockHeader) Serialize(w io.Writer) error {
	if err := WriteHash(w, h.PreviousBlockHash); err != nil {
		return err
	}
	if err := WriteHash(w, h.TransactionRoot); err != nil {
		return err
	}
	if err := WriteHash(w, h.CommitmentRoot); err != nil {
		return err
	}
	if err := WriteInt64(w, h.Time); err != nil {
		return err
	}
	if err := WriteUint64(w, h.DifficultyTarget); err != nil {
		return err
	}
	if err := WriteUint32(w, h.Nonce); err != nil {
		return err
	}
	_, err := w.Write(h.Proof[:])
	return err
}

// Deserialize reads the fixed-size header encoding.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	var err error
	if h.PreviousBlockHash, err = ReadHash(r); err != nil {
		return err
	}
	if h.TransactionRoot, err = ReadHash(r); err != nil {
		return err
	}
	if h.CommitmentRoot, err = ReadHash(r); err != nil {
		return err
	}
	if h.Time, err = ReadInt64(r); err != nil {
		return err
	}
	if h.DifficultyTarget, err = ReadUint64(r); err != nil {
		return err
	}
	if h.Nonce, err = ReadUint32(r); err != nil {
		return err
	}
	_, err = io.ReadFull(r, h.Proof[:])
	return err
}

// Bytes returns the serialized header.
func (h *BlockHeader) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// Serialization to a bytes.Buffer cannot fail.
	_ = h.Serialize(&buf)
	return buf.Bytes()
}

// Hash returns the block hash: double sha256 of the serialized header.
func (h *BlockHeader) Hash() Hash {
	return DoubleSHA256(h.Bytes())
}

// PoWPreimage returns the header bytes hashed for the proof-of-work target
// comparison: the serialized header with the proof blob excluded, so the
// digest commits to the search inputs rather than the proof over them.
func (h *BlockHeader) PoWPreimage() []byte {
	b := h.Bytes()
	return b[:HeaderSize-ProofSize]
}

// IsGenesis reports whether the header is a genesis header.
func (h *BlockHeader) IsGenesis() bool {
	return h.PreviousBlockHash.IsZero()
}

// SetProof copies proof into the fixed-size proof field, zero-padding.
func (h *BlockHeader) SetProof(proof []byte) error {
	if len(proof) > ProofSize {
		return fmt.Errorf("proof length %d exceeds %d", len(proof), ProofSize)
	}
	h.Proof = [ProofSize]byte{}
	copy(h.Proof[:], proof)
	return nil
}
