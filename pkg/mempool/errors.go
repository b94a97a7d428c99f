// Copyright 2025 Certen Protocol
//
// Package mempool provides sentinel errors for pool admission.

package mempool

import "errors"

var (
	// ErrDuplicateTransaction is returned when the transaction is already pooled.
	ErrDuplicateTransaction = errors.New("transaction already in pool")

	// ErrAlreadySpent is returned when a serial number is already in canon state.
	ErrAlreadySpent = errors.New("serial number already spent in canon")

	// ErrAlreadyCommitted is returned when a commitment or memo is already in
	// canon state.
	ErrAlreadyCommitted = errors.New("commitment or memo already in canon")

	// ErrPoolConflict is returned when a serial number is held by another
	// pooled transaction.
	ErrPoolConflict = errors.New("serial number conflicts with pooled transaction")
)
