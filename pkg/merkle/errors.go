// Copyright 2025 Certen Protocol
//
// Package merkle provides sentinel errors for tree operations.

package merkle

import "errors"

var (
	// ErrEmptyTree is returned when building a tree from zero leaves.
	ErrEmptyTree = errors.New("cannot build tree from empty leaves")

	// ErrTreeNotBuilt is returned when proving against an unbuilt tree.
	ErrTreeNotBuilt = errors.New("tree not built")

	// ErrInvalidProof is returned for malformed inclusion proofs.
	ErrInvalidProof = errors.New("invalid merkle proof")

	// ErrLeafNotFound is returned when a leaf is absent from the tree.
	ErrLeafNotFound = errors.New("leaf not found in tree")
)
