// Copyright 2025 Certen Protocol
//
// Off-chain record model. Only the commitment appears on-chain; the record
// payload travels encrypted to its owner.

package types

import (
	"bytes"
	"io"
)

// AddressSize is the byte length of an account address.
const AddressSize = 32

// Address identifies a record owner.
type Address [AddressSize]byte

// Record is the off-chain payload bound by an on-chain commitment.
type Record struct {
	// Owner is the address the record pays to.
	Owner Address

	// IsDummy marks a zero-value placeholder record.
	IsDummy bool

	// Value is the record's denomination in base units.
	Value uint64

	// Payload is application data carried by the record.
	Payload []byte

	// BirthProgramID and DeathProgramID are the program-key commitments
	// governing record creation and consumption.
	BirthProgramID Hash
	DeathProgramID Hash

	// SerialNumberNonce seeds the nullifier derived when the record is spent.
	SerialNumberNonce Hash

	// Commitment is the on-chain representation of the record.
	Commitment Hash

	// CommitmentRandomness is the blinding factor of the commitment.
	CommitmentRandomness Hash
}

// Serialize writes the record encoding.
func (rec *Record) Serialize(w io.Writer) error {
	if _, err := w.Write(rec.Owner[:]); err != nil {
		return err
	}
	dummy := byte(0)
	if rec.IsDummy {
		dummy = 1
	}
	if _, err := w.Write([]byte{dummy}); err != nil {
		return err
	}
	if err := WriteUint64(w, rec.Value); err != nil {
		return err
	}
	if err := WriteBytes(w, rec.Payload); err != nil {
		return err
	}
	if err := WriteHash(w, rec.BirthProgramID); err != nil {
		return err
	}
	if err := WriteHash(w, rec.DeathProgramID); err != nil {
		return err
	}
	if err := WriteHash(w, rec.SerialNumberNonce); err != nil {
		return err
	}
	if err := WriteHash(w, rec.Commitment); err != nil {
		return err
	}
	return WriteHash(w, rec.CommitmentRandomness)
}

// Deserialize reads the record encoding.
func (rec *Record) Deserialize(r io.Reader) error {
	if _, err := io.ReadFull(r, rec.Owner[:]); err != nil {
		return err
	}
	var dummy [1]byte
	if _, err := io.ReadFull(r, dummy[:]); err != nil {
		return err
	}
	rec.IsDummy = dummy[0] != 0
	var err error
	if rec.Value, err = ReadUint64(r); err != nil {
		return err
	}
	if rec.Payload, err = ReadBytes(r); err != nil {
		return err
	}
	if rec.BirthProgramID, err = ReadHash(r); err != nil {
		return err
	}
	if rec.DeathProgramID, err = ReadHash(r); err != nil {
		return err
	}
	if rec.SerialNumberNonce, err = ReadHash(r); err != nil {
		return err
	}
	if rec.Commitment, err = ReadHash(r); err != nil {
		return err
	}
	rec.CommitmentRandomness, err = ReadHash(r)
	return err
}

// Bytes returns the serialized record.
func (rec *Record) Bytes() []byte {
	var buf bytes.Buffer
	_ = rec.Serialize(&buf)
	return buf.Bytes()
}

// DeserializeRecord decodes a record from raw bytes.
func DeserializeRecord(data []byte) (*Record, error) {
	r := bytes.NewReader(data)
	rec := new(Record)
	if err := rec.Deserialize(r); err != nil {
		return nil, err
	}
	return rec, nil
}
