// Copyright 2025 Certen Protocol
//
// Package types provides sentinel errors for decoding failures.

package types

import "errors"

var (
	// ErrTrailingBytes is returned when a decoder leaves unread input behind.
	ErrTrailingBytes = errors.New("trailing bytes after decoded value")
)
