// Copyright 2025 Certen Protocol
//
// Succinct PoW prover and verifier.
//
// This package provides:
//   - Circuit compilation and setup (one-time)
//   - Proof generation per (root, nonce) attempt
//   - Verification against the shared verification key
//   - Key serialization for the setup binary

package posw

import (
	"bytes"
	"errors"
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

	"github.com/certen/zkpow-node/pkg/types"
)

// ErrNotInitialized is returned when proving before setup or key load.
var ErrNotInitialized = errors.New("posw prover not initialized")

// Prover generates succinct work proofs.
type Prover struct {
	mu sync.RWMutex

	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey

	initialized bool
}

// NewProver creates an uninitialized prover.
func NewProver() *Prover {
	return &Prover{}
}

// Setup compiles the circuit and runs the Groth16 trusted setup. One-time
// operation; nodes normally load pre-generated keys instead.
func (p *Prover) Setup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	var circuit WorkCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("compile circuit: %w", err)
	}
	p.cs = cs

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("groth16 setup: %w", err)
	}
	p.pk = pk
	p.vk = vk

	p.initialized = true
	return nil
}

// LoadKeys loads pre-generated keys from files.
func (p *Prover) LoadKeys(csPath, pkPath, vkPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	csFile, err := os.Open(csPath)
	if err != nil {
		return fmt.Errorf("open constraint system: %w", err)
	}
	defer csFile.Close()
	p.cs = groth16.NewCS(ecc.BN254)
	if _, err = p.cs.ReadFrom(csFile); err != nil {
		return fmt.Errorf("read constraint system: %w", err)
	}

	pkFile, err := os.Open(pkPath)
	if err != nil {
		return fmt.Errorf("open proving key: %w", err)
	}
	defer pkFile.Close()
	p.pk = groth16.NewProvingKey(ecc.BN254)
	if _, err = p.pk.ReadFrom(pkFile); err != nil {
		return fmt.Errorf("read proving key: %w", err)
	}

	vkFile, err := os.Open(vkPath)
	if err != nil {
		return fmt.Errorf("open verification key: %w", err)
	}
	defer vkFile.Close()
	p.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err = p.vk.ReadFrom(vkFile); err != nil {
		return fmt.Errorf("read verification key: %w", err)
	}

	p.initialized = true
	return nil
}

// SaveKeys writes the compiled circuit and keys to files.
func (p *Prover) SaveKeys(csPath, pkPath, vkPath string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized {
		return ErrNotInitialized
	}

	csFile, err := os.Create(csPath)
	if err != nil {
		return fmt.Errorf("create constraint system file: %w", err)
	}
	defer csFile.Close()
	if _, err = p.cs.WriteTo(csFile); err != nil {
		return fmt.Errorf("write constraint system: %w", err)
	}

	pkFile, err := os.Create(pkPath)
	if err != nil {
		return fmt.Errorf("create proving key file: %w", err)
	}
	defer pkFile.Close()
	if _, err = p.pk.WriteTo(pkFile); err != nil {
		return fmt.Errorf("write proving key: %w", err)
	}

	vkFile, err := os.Create(vkPath)
	if err != nil {
		return fmt.Errorf("create verification key file: %w", err)
	}
	defer vkFile.Close()
	if _, err = p.vk.WriteTo(vkFile); err != nil {
		return fmt.Errorf("write verification key: %w", err)
	}

	return nil
}

// Verifier returns a verifier sharing the prover's verification key.
func (p *Prover) Verifier() (*Verifier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	return &Verifier{vk: p.vk}, nil
}

// seal computes the native MiMC digest the circuit constrains.
func seal(root types.Hash, nonce uint32) *big.Int {
	var rootFr, nonceFr fr.Element
	rootFr.SetBytes(root[:])
	nonceFr.SetUint64(uint64(nonce))

	h := bn254mimc.NewMiMC()
	rb := rootFr.Bytes()
	h.Write(rb[:])
	nb := nonceFr.Bytes()
	h.Write(nb[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// assignment builds the circuit assignment for (root, nonce).
func assignment(root types.Hash, nonce uint32) *WorkCircuit {
	var rootFr fr.Element
	rootFr.SetBytes(root[:])
	return &WorkCircuit{
		Root:  rootFr.BigInt(new(big.Int)),
		Nonce: new(big.Int).SetUint64(uint64(nonce)),
		Seal:  seal(root, nonce),
	}
}

// Prove generates a work proof for (root, nonce).
func (p *Prover) Prove(root types.Hash, nonce uint32) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	witness, err := frontend.NewWitness(assignment(root, nonce), ecc.BN254.ScalarField())
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
	if buf.Len() > types.ProofSize {
		return nil, fmt.Errorf("proof of %d bytes exceeds header field", buf.Len())
	}
	return buf.Bytes(), nil
}

// Verifier checks succinct work proofs against a fixed verification key.
type Verifier struct {
	vk groth16.VerifyingKey
}

// LoadVerifier reads a verification key from a file.
func LoadVerifier(vkPath string) (*Verifier, error) {
	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, fmt.Errorf("open verification key: %w", err)
	}
	defer vkFile.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return nil, fmt.Errorf("read verification key: %w", err)
	}
	return &Verifier{vk: vk}, nil
}

// VerifyWork checks a work proof for (root, nonce). Malformed proofs yield
// false, not an error.
func (v *Verifier) VerifyWork(root types.Hash, nonce uint32, proofBytes []byte) bool {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false
	}

	witness, err := frontend.NewWitness(assignment(root, nonce), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}
	return groth16.Verify(proof, v.vk, witness) == nil
}
