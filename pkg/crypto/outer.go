// Copyright 2025 Certen Protocol
//
// Outer SNARK surface for transactions.
// The outer circuit attests that the inner verification ran for the declared
// inner circuit; consensus treats it as an opaque verify call keyed by the
// inner-circuit id.

package crypto

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	bn254mimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/certen/zkpow-node/pkg/types"
)

// OuterCircuit binds a transaction id and its reference ledger digest to a
// kernel seal known to the prover.
type OuterCircuit struct {
	TransactionID frontend.Variable `gnark:",public"`
	LedgerDigest  frontend.Variable `gnark:",public"`
	Kernel        frontend.Variable
}

// Define declares the circuit constraints.
func (c *OuterCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.TransactionID, c.LedgerDigest)
	api.AssertIsEqual(c.Kernel, h.Sum())
	return nil
}

// outerAssignment builds the assignment for a transaction's public inputs.
func outerAssignment(txID, digest types.Hash) *OuterCircuit {
	var idFr, digestFr fr.Element
	idFr.SetBytes(txID[:])
	digestFr.SetBytes(digest[:])

	h := bn254mimc.NewMiMC()
	ib := idFr.Bytes()
	h.Write(ib[:])
	db := digestFr.Bytes()
	h.Write(db[:])

	return &OuterCircuit{
		TransactionID: idFr.BigInt(new(big.Int)),
		LedgerDigest:  digestFr.BigInt(new(big.Int)),
		Kernel:        new(big.Int).SetBytes(h.Sum(nil)),
	}
}

// OuterProver generates outer proofs for transactions it builds.
type OuterProver struct {
	mu sync.RWMutex

	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey

	initialized bool
}

// NewOuterProver creates an uninitialized prover.
func NewOuterProver() *OuterProver {
	return &OuterProver{}
}

// Setup compiles the outer circuit and runs the Groth16 setup.
func (p *OuterProver) Setup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	var circuit OuterCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("compile outer circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}
	p.cs, p.pk, p.vk = cs, pk, vk
	p.initialized = true
	return nil
}

// VerifyingKey returns the setup's verification key.
func (p *OuterProver) VerifyingKey() (groth16.VerifyingKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, fmt.Errorf("%w: outer prover not initialized", ErrParameterLoad)
	}
	return p.vk, nil
}

// ProveTransaction produces the outer proof binding the transaction id and
// its reference ledger digest. The id covers only the normative fields, so
// assigning the returned proof afterwards does not invalidate it.
func (p *OuterProver) ProveTransaction(tx *types.Transaction) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized {
		return nil, fmt.Errorf("%w: outer prover not initialized", ErrParameterLoad)
	}

	witness, err := frontend.NewWitness(outerAssignment(tx.ID(), tx.LedgerDigest), ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(p.cs, p.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// OuterVerifier verifies transaction proofs, keyed by inner-circuit id.
type OuterVerifier struct {
	vks map[types.Hash]groth16.VerifyingKey
}

// NewOuterVerifier builds a verifier over per-inner-circuit keys.
func NewOuterVerifier(vks map[types.Hash]groth16.VerifyingKey) *OuterVerifier {
	return &OuterVerifier{vks: vks}
}

// LoadVerifyingKey reads a Groth16 verification key from a file.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParameterLoad, err)
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParameterLoad, err)
	}
	return vk, nil
}

// VerifyTransaction implements TransactionVerifier.
func (v *OuterVerifier) VerifyTransaction(tx *types.Transaction) bool {
	vk, ok := v.vks[tx.InnerCircuitID]
	if !ok {
		return false
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(tx.Proof)); err != nil {
		return false
	}

	witness, err := frontend.NewWitness(outerAssignment(tx.ID(), tx.LedgerDigest), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}
	return groth16.Verify(proof, vk, witness) == nil
}
