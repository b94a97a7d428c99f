// Copyright 2025 Certen Protocol
//
// Confidential transaction model.
// A transaction consumes serial numbers, produces record commitments, and
// carries an outer proof attesting that the hidden state transition is valid.
// The transaction id is the sha256 digest of the serialized normative fields.

package types

import (
	"bytes"
	"io"
)

// MemoSize is the byte length of a transaction memorandum.
const MemoSize = 64

// SignatureSize is the byte length of a randomized signature over the
// transaction body.
const SignatureSize = 64

// Memo is an opaque 64-byte transaction memorandum.
type Memo [MemoSize]byte

// Signature is a 64-byte randomized signature blob.
type Signature [SignatureSize]byte

// Transaction is a confidential transfer. Only commitments, serial numbers,
// the memo and the value balance are consensus-visible; record contents stay
// off-chain. Each serial number doubles as the randomized public key its
// signature verifies under.
type Transaction struct {
	// OldSerialNumbers are the nullifiers of the consumed records.
	OldSerialNumbers []Hash

	// NewCommitments are the commitments of the produced records.
	NewCommitments []Hash

	// Memo is the transaction memorandum.
	Memo Memo

	// LedgerDigest is the record-ledger digest at which the consumed records
	// provably existed.
	LedgerDigest Hash

	// InnerCircuitID identifies the inner circuit the outer proof attests to.
	InnerCircuitID Hash

	// ValueBalance is the public value delta: positive values pay fees into
	// the block, a negative value marks the coinbase minting new currency.
	ValueBalance int64

	// Signatures are the randomized signatures over the transaction body, one
	// per consumed record.
	Signatures []Signature

	// Proof is the outer SNARK proof.
	Proof []byte

	// EncryptedRecords are the produced records encrypted to their recipients,
	// one ciphertext per new commitment.
	EncryptedRecords [][]byte
}

// IsCoinbase reports whether the transaction mints new currency.
func (tx *Transaction) IsCoinbase() bool {
	return tx.ValueBalance < 0
}

// Serialize writes the canonical transaction encoding.
func (tx *Transaction) Serialize(w io.Writer) error {
	if err := WriteVarint(w, uint64(len(tx.OldSerialNumbers))); err != nil {
		return err
	}
	for _, sn := range tx.OldSerialNumbers {
		if err := WriteHash(w, sn); err != nil {
			return err
		}
	}
	if err := WriteVarint(w, uint64(len(tx.NewCommitments))); err != nil {
		return err
	}
	for _, cm := range tx.NewCommitments {
		if err := WriteHash(w, cm); err != nil {
			return err
		}
	}
	if _, err := w.Write(tx.Memo[:]); err != nil {
		return err
	}
	if err := WriteHash(w, tx.LedgerDigest); err != nil {
		return err
	}
	if err := WriteHash(w, tx.InnerCircuitID); err != nil {
		return err
	}
	if err := WriteInt64(w, tx.ValueBalance); err != nil {
		return err
	}
	if err := WriteVarint(w, uint64(len(tx.Signatures))); err != nil {
		return err
	}
	for _, sig := range tx.Signatures {
		if _, err := w.Write(sig[:]); err != nil {
			return err
		}
	}
	if err := WriteBytes(w, tx.Proof); err != nil {
		return err
	}
	if err := WriteVarint(w, uint64(len(tx.EncryptedRecords))); err != nil {
		return err
	}
	for _, rec := range tx.EncryptedRecords {
		if err := WriteBytes(w, rec); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads the canonical transaction encoding.
func (tx *Transaction) Deserialize(r io.Reader) error {
	n, err := readVectorLen(r)
	if err != nil {
		return err
	}
	tx.OldSerialNumbers = make([]Hash, n)
	for i := range tx.OldSerialNumbers {
		if tx.OldSerialNumbers[i], err = ReadHash(r); err != nil {
			return err
		}
	}
	if n, err = readVectorLen(r); err != nil {
		return err
	}
	tx.NewCommitments = make([]Hash, n)
	for i := range tx.NewCommitments {
		if tx.NewCommitments[i], err = ReadHash(r); err != nil {
			return err
		}
	}
	if _, err = io.ReadFull(r, tx.Memo[:]); err != nil {
		return err
	}
	if tx.LedgerDigest, err = ReadHash(r); err != nil {
		return err
	}
	if tx.InnerCircuitID, err = ReadHash(r); err != nil {
		return err
	}
	if tx.ValueBalance, err = ReadInt64(r); err != nil {
		return err
	}
	if n, err = readVectorLen(r); err != nil {
		return err
	}
	tx.Signatures = make([]Signature, n)
	for i := range tx.Signatures {
		if _, err = io.ReadFull(r, tx.Signatures[i][:]); err != nil {
			return err
		}
	}
	if tx.Proof, err = ReadBytes(r); err != nil {
		return err
	}
	if n, err = readVectorLen(r); err != nil {
		return err
	}
	tx.EncryptedRecords = make([][]byte, n)
	for i := range tx.EncryptedRecords {
		if tx.EncryptedRecords[i], err = ReadBytes(r); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the serialized transaction.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

// Size returns the serialized byte length.
func (tx *Transaction) Size() int {
	return len(tx.Bytes())
}

// ID returns the transaction identifier: the sha256 digest of the normative
// fields, `serial_numbers || commitments || memo`. Proofs, signatures and the
// value balance are excluded, so re-proving an identical transfer never
// changes its id.
func (tx *Transaction) ID() Hash {
	var buf bytes.Buffer
	for _, sn := range tx.OldSerialNumbers {
		buf.Write(sn[:])
	}
	for _, cm := range tx.NewCommitments {
		buf.Write(cm[:])
	}
	buf.Write(tx.Memo[:])
	return SHA256(buf.Bytes())
}

// SignatureMessage returns the byte string covered by the transaction's
// signatures: the serial numbers, commitments, memo, ledger digest, inner
// circuit id and value balance. The signatures, proof and record ciphertexts
// are not covered.
func (tx *Transaction) SignatureMessage() []byte {
	var buf bytes.Buffer
	for _, sn := range tx.OldSerialNumbers {
		buf.Write(sn[:])
	}
	for _, cm := range tx.NewCommitments {
		buf.Write(cm[:])
	}
	buf.Write(tx.Memo[:])
	buf.Write(tx.LedgerDigest[:])
	buf.Write(tx.InnerCircuitID[:])
	_ = WriteInt64(&buf, tx.ValueBalance)
	return buf.Bytes()
}

// TransactionIDs maps txs to their ids, preserving order.
func TransactionIDs(txs []*Transaction) []Hash {
	ids := make([]Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID()
	}
	return ids
}

// TransactionLocation addresses a transaction within a committed block.
type TransactionLocation struct {
	BlockHash Hash
	Index     uint32
}

// Serialize writes the fixed-size location encoding.
func (l *TransactionLocation) Serialize(w io.Writer) error {
	if err := WriteUint32(w, l.Index); err != nil {
		return err
	}
	return WriteHash(w, l.BlockHash)
}

// Deserialize reads the fixed-size location encoding.
func (l *TransactionLocation) Deserialize(r io.Reader) error {
	var err error
	if l.Index, err = ReadUint32(r); err != nil {
		return err
	}
	l.BlockHash, err = ReadHash(r)
	return err
}
