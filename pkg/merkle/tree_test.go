// Copyright 2025 Certen Protocol
//
// Merkle Tree Tests

package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/certen/zkpow-node/pkg/types"
)

func leaf(data string) types.Hash {
	return sha256.Sum256([]byte(data))
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	l := leaf("test data")
	tree, err := BuildTree([]types.Hash{l})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	// Single leaf tree: root equals leaf
	if tree.Root() != l {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), l)
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count mismatch: got %d, want 1", tree.LeafCount())
	}
}

func TestBuildTree_TwoLeaves(t *testing.T) {
	l1, l2 := leaf("leaf 1"), leaf("leaf 2")
	tree, err := BuildTree([]types.Hash{l1, l2})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	if tree.Root() != hashPair(l1, l2) {
		t.Errorf("two leaf root mismatch")
	}
}

func TestBuildTree_OddLeaves(t *testing.T) {
	// Odd node duplicates itself at each level
	l1, l2, l3 := leaf("a"), leaf("b"), leaf("c")
	tree, err := BuildTree([]types.Hash{l1, l2, l3})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	expected := hashPair(hashPair(l1, l2), hashPair(l3, l3))
	if tree.Root() != expected {
		t.Errorf("odd leaf root mismatch: got %x, want %x", tree.Root(), expected)
	}
}

func TestBuildTree_Empty(t *testing.T) {
	if _, err := BuildTree(nil); err != ErrEmptyTree {
		t.Errorf("expected ErrEmptyTree, got %v", err)
	}
}

func TestGenerateProof_AllLeavesVerify(t *testing.T) {
	leaves := make([]types.Hash, 7)
	for i := range leaves {
		leaves[i] = sha256.Sum256([]byte{byte(i)})
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	for i, l := range leaves {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("proof for leaf %d: %v", i, err)
		}
		ok, err := VerifyProof(l, proof, tree.Root())
		if err != nil {
			t.Fatalf("verify leaf %d: %v", i, err)
		}
		if !ok {
			t.Errorf("proof for leaf %d did not verify", i)
		}
	}
}

func TestVerifyProof_WrongLeafFails(t *testing.T) {
	leaves := []types.Hash{leaf("a"), leaf("b"), leaf("c"), leaf("d")}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	proof, err := tree.GenerateProof(1)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}

	ok, err := VerifyProof(leaf("not in tree"), proof, tree.Root())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("proof verified for a leaf not in the tree")
	}
}

func TestRoot_EmptyIsZero(t *testing.T) {
	if Root(nil) != types.ZeroHash {
		t.Error("empty leaf set must yield the zero root")
	}
}
