// Copyright 2025 Certen Protocol
//
// Local transaction creation: builds a transaction kernel from owned records,
// derives serial numbers and commitments through the crypto facade, and
// attaches the outer proof.

package consensus

import (
	"context"
	"errors"

	"github.com/certen/zkpow-node/pkg/crypto"
	"github.com/certen/zkpow-node/pkg/types"
)

// ErrProverUnavailable is returned when the engine was built without an
// outer prover.
var ErrProverUnavailable = errors.New("outer prover not configured")

// CreateTransactionRequest describes a local spend.
type CreateTransactionRequest struct {
	// Owner is the spender; serial numbers derive from it.
	Owner types.Address

	// OldRecords are the records to consume.
	OldRecords []*types.Record

	// NewRecords are the records to produce. Commitments are computed here.
	NewRecords []*types.Record

	// Memo is the transaction memorandum.
	Memo types.Memo
}

// CreateTransaction builds, proves and returns a transaction over the current
// ledger digest. The caller decides whether to pool or broadcast it.
func (e *Engine) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*types.Transaction, error) {
	var tx *types.Transaction
	err := e.do(ctx, "create-transaction", func() error {
		var cerr error
		tx, cerr = e.createTransaction(req)
		return cerr
	})
	return tx, err
}

func (e *Engine) createTransaction(req *CreateTransactionRequest) (*types.Transaction, error) {
	if e.prover == nil {
		return nil, ErrProverUnavailable
	}
	if len(req.OldRecords) == 0 || len(req.NewRecords) == 0 {
		return nil, errors.New("a transaction consumes and produces at least one record")
	}

	var (
		balance int64
		keys    []*crypto.SigningKey
		tx      = &types.Transaction{
			Memo:           req.Memo,
			LedgerDigest:   e.records.LatestDigest(),
			InnerCircuitID: e.params.InnerCircuitID,
		}
	)

	for _, rec := range req.OldRecords {
		key, err := crypto.SerialNumberKey(rec.SerialNumberNonce, req.Owner)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		tx.OldSerialNumbers = append(tx.OldSerialNumbers, types.BytesToHash(key.PublicKey.Bytes()))
		if !rec.IsDummy {
			balance += int64(rec.Value)
		}
	}
	for _, rec := range req.NewRecords {
		rec.Commitment = e.crypto.Pedersen().CommitRecord(rec)
		tx.NewCommitments = append(tx.NewCommitments, rec.Commitment)
		if !rec.IsDummy {
			balance -= int64(rec.Value)
		}
	}
	if balance < 0 {
		return nil, errors.New("transaction overspends its inputs")
	}
	tx.ValueBalance = balance

	for _, rec := range req.NewRecords {
		sealed, err := crypto.EncryptRecord(rec)
		if err != nil {
			return nil, err
		}
		tx.EncryptedRecords = append(tx.EncryptedRecords, sealed)
	}

	if err := crypto.SignTransaction(tx, keys); err != nil {
		return nil, err
	}

	proof, err := e.prover.ProveTransaction(tx)
	if err != nil {
		return nil, err
	}
	tx.Proof = proof
	return tx, nil
}
