// Copyright 2025 Certen Protocol
//
// Package consensus provides sentinel errors for block acceptance.
// ErrInvalidBlock wraps every transient validation failure so callers can
// penalize peers without matching individual reasons.

package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBlock wraps every validation failure.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrPreExistingBlock is returned for blocks already committed. Benign.
	ErrPreExistingBlock = errors.New("block already committed")

	// ErrPreExistingTransaction is returned for transactions already known.
	ErrPreExistingTransaction = errors.New("transaction already known")

	// ErrInvalidTransaction is returned when a received transaction fails
	// verification.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrEngineStopped is returned when the actor has shut down.
	ErrEngineStopped = errors.New("consensus engine stopped")

	// ErrBlockNotCommitted is returned when decommitting a non-canon block.
	ErrBlockNotCommitted = errors.New("block is not committed")
)

// invalidf wraps a formatted reason in ErrInvalidBlock.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidBlock, fmt.Sprintf(format, args...))
}
