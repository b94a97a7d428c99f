// Copyright 2025 Certen Protocol
//
// Block model: header plus ordered transactions.
// Serialization is `header || varint(tx_count) || tx*`.

package types

import (
	"bytes"
	"io"
)

// Block is a header plus its ordered transaction list.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Serialize writes the block encoding.
func (b *Block) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}
	if err := WriteVarint(w, uint64(len(b.Transactions))); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads the block encoding.
func (b *Block) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}
	n, err := readVectorLen(r)
	if err != nil {
		return err
	}
	b.Transactions = make([]*Transaction, n)
	for i := range b.Transactions {
		tx := new(Transaction)
		if err := tx.Deserialize(r); err != nil {
			return err
		}
		b.Transactions[i] = tx
	}
	return nil
}

// Bytes returns the serialized block.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	_ = b.Serialize(&buf)
	return buf.Bytes()
}

// Size returns the serialized byte length.
func (b *Block) Size() int {
	return len(b.Bytes())
}

// Hash returns the block hash (the header hash).
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// TransactionIDs returns the ordered ids of the block's transactions.
func (b *Block) TransactionIDs() []Hash {
	return TransactionIDs(b.Transactions)
}

// SerialNumbers returns every serial number consumed by the block, in order.
func (b *Block) SerialNumbers() []Hash {
	var sns []Hash
	for _, tx := range b.Transactions {
		sns = append(sns, tx.OldSerialNumbers...)
	}
	return sns
}

// Commitments returns every record commitment produced by the block, in order.
func (b *Block) Commitments() []Hash {
	var cms []Hash
	for _, tx := range b.Transactions {
		cms = append(cms, tx.NewCommitments...)
	}
	return cms
}

// Memos returns the block's transaction memos, in order.
func (b *Block) Memos() []Memo {
	memos := make([]Memo, len(b.Transactions))
	for i, tx := range b.Transactions {
		memos[i] = tx.Memo
	}
	return memos
}

// DeserializeBlock decodes a block from raw bytes, rejecting trailing data.
func DeserializeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	b := new(Block)
	if err := b.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return b, nil
}

// DeserializeTransaction decodes a transaction from raw bytes, rejecting
// trailing data.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)
	tx := new(Transaction)
	if err := tx.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return tx, nil
}

// DeserializeHeader decodes a header from raw bytes.
func DeserializeHeader(data []byte) (*BlockHeader, error) {
	r := bytes.NewReader(data)
	h := new(BlockHeader)
	if err := h.Deserialize(r); err != nil {
		return nil, err
	}
	return h, nil
}
