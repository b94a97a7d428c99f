// Copyright 2025 Certen Protocol
//
// Succinct proof-of-work circuit definition.
// The proof binds the header's commitment root and nonce to a MiMC seal the
// prover must recompute per nonce attempt, so work proofs cannot be reused
// across candidates.
//
// Uses gnark for the circuit definition (Groth16 proving system).

package posw

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// WorkCircuit proves knowledge of the MiMC seal of (root, nonce).
type WorkCircuit struct {
	// Root is the header's commitment root, reduced into the scalar field.
	Root frontend.Variable `gnark:",public"`

	// Nonce is the proof-of-work counter.
	Nonce frontend.Variable `gnark:",public"`

	// Seal is the MiMC digest of (Root, Nonce), known to the prover.
	Seal frontend.Variable
}

// Define declares the circuit constraints.
func (c *WorkCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Root, c.Nonce)
	api.AssertIsEqual(c.Seal, h.Sum())
	return nil
}
