// Copyright 2025 Certen Protocol
//
// Package ledger provides sentinel errors for ledger operations.

package ledger

import "errors"

var (
	// ErrBlockNotFound is returned when a block hash has no stored header.
	ErrBlockNotFound = errors.New("block not found")

	// ErrHeightNotFound is returned when no canon block exists at a height.
	ErrHeightNotFound = errors.New("no canon block at height")

	// ErrEmptyLedger is returned when the store holds no committed blocks.
	ErrEmptyLedger = errors.New("ledger is empty")

	// ErrTransactionNotFound is returned when a transaction id has no location.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRecordNotFound is returned when a commitment has no stored record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrParentUnknown is returned when a block path walk reaches a hash with
	// no stored header.
	ErrParentUnknown = errors.New("parent block unknown")

	// ErrCommitmentNotFound is returned when proving membership of an
	// uncommitted commitment.
	ErrCommitmentNotFound = errors.New("commitment not in record ledger")

	// ErrRevertTooDeep is returned when a revert reaches below the in-memory
	// journal horizon.
	ErrRevertTooDeep = errors.New("revert target below journal horizon")

	// ErrIndexCorrupt is returned when a stored index value is malformed.
	ErrIndexCorrupt = errors.New("stored index is corrupt")
)
