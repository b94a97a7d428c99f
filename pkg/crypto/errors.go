// Copyright 2025 Certen Protocol
//
// Package crypto provides sentinel errors for the crypto facade.

package crypto

import "errors"

var (
	// ErrNilVerifier is returned when a Context is built without verifiers.
	ErrNilVerifier = errors.New("verifier must not be nil")

	// ErrParameterLoad is returned when public parameters cannot be loaded.
	ErrParameterLoad = errors.New("failed to load public parameters")
)
