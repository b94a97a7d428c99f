// Copyright 2025 Certen Protocol
//
// Package network provides sentinel errors for the wire codec.

package network

import "errors"

var (
	// ErrFrameTooLarge is returned for frames over the configured maximum.
	// Receivers close the connection.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrUnknownMessage is returned for unrecognized message ids.
	ErrUnknownMessage = errors.New("unknown message id")

	// ErrMalformedMessage is returned when a payload fails to decode.
	ErrMalformedMessage = errors.New("malformed message")
)
