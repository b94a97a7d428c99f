// Copyright 2025 Certen Protocol
//
// Outer transaction proof tests.

package crypto

import (
	"testing"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/certen/zkpow-node/pkg/types"
)

func outerTx(seed byte, innerID types.Hash) *types.Transaction {
	tag := func(label byte) types.Hash {
		return types.SHA256([]byte{seed, label})
	}
	return &types.Transaction{
		OldSerialNumbers: []types.Hash{tag(1)},
		NewCommitments:   []types.Hash{tag(2)},
		LedgerDigest:     tag(3),
		InnerCircuitID:   innerID,
		ValueBalance:     5,
		Signatures:       make([]types.Signature, 1),
		EncryptedRecords: [][]byte{{seed}},
	}
}

func TestOuterProver_ProveAndVerify(t *testing.T) {
	prover := NewOuterProver()
	if err := prover.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	vk, err := prover.VerifyingKey()
	if err != nil {
		t.Fatal(err)
	}

	innerID := types.SHA256([]byte("inner circuit"))
	verifier := NewOuterVerifier(map[types.Hash]groth16.VerifyingKey{innerID: vk})

	tx := outerTx(1, innerID)
	proof, err := prover.ProveTransaction(tx)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	tx.Proof = proof

	if !verifier.VerifyTransaction(tx) {
		t.Error("valid transaction proof rejected")
	}

	// Tampering with a bound field breaks verification.
	tampered := *tx
	tampered.LedgerDigest = types.SHA256([]byte("other digest"))
	if verifier.VerifyTransaction(&tampered) {
		t.Error("proof verified after the ledger digest changed")
	}

	// Undeclared inner circuits fail closed.
	unknown := *tx
	unknown.InnerCircuitID = types.SHA256([]byte("unknown circuit"))
	if verifier.VerifyTransaction(&unknown) {
		t.Error("proof verified for an unauthorized inner circuit")
	}
}
