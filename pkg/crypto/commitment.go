// Copyright 2025 Certen Protocol
//
// Commitment schemes: Pedersen over the bls12-381 twisted Edwards curve for
// record commitments, Blake2s for program-key commitments.

package crypto

import (
	"crypto/sha256"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/twistededwards"
	"golang.org/x/crypto/blake2s"

	"github.com/certen/zkpow-node/pkg/types"
)

// pedersenHDomain derives the second Pedersen base so that its discrete log
// relative to the generator stays unknown.
const pedersenHDomain = "zkpow.record.commitment.base.h"

// PedersenParams holds the fixed bases of the record-commitment scheme.
type PedersenParams struct {
	g     twistededwards.PointAffine
	h     twistededwards.PointAffine
	order *big.Int
}

// SetupPedersen derives the fixed commitment bases. Deterministic: every node
// computes identical parameters.
func SetupPedersen() *PedersenParams {
	curve := twistededwards.GetEdwardsCurve()

	p := &PedersenParams{
		g:     curve.Base,
		order: new(big.Int).Set(&curve.Order),
	}

	seed := sha256.Sum256([]byte(pedersenHDomain))
	scalar := new(big.Int).SetBytes(seed[:])
	scalar.Mod(scalar, p.order)
	p.h.ScalarMultiplication(&curve.Base, scalar)

	return p
}

// Commit returns the compressed Pedersen commitment m*G + r*H where m and r
// are derived from the message and randomness by reduction into the scalar
// field.
func (p *PedersenParams) Commit(message, randomness []byte) types.Hash {
	m := new(big.Int).SetBytes(message)
	m.Mod(m, p.order)
	r := new(big.Int).SetBytes(randomness)
	r.Mod(r, p.order)

	var mg, rh, c twistededwards.PointAffine
	mg.ScalarMultiplication(&p.g, m)
	rh.ScalarMultiplication(&p.h, r)
	c.Add(&mg, &rh)

	return types.BytesToHash(c.Marshal())
}

// CommitRecord commits to a record's normative fields under the record's own
// CommitmentRandomness.
func (p *PedersenParams) CommitRecord(rec *types.Record) types.Hash {
	var preimage []byte
	preimage = append(preimage, rec.Owner[:]...)
	if rec.IsDummy {
		preimage = append(preimage, 1)
	} else {
		preimage = append(preimage, 0)
	}
	var value [8]byte
	for i := 0; i < 8; i++ {
		value[i] = byte(rec.Value >> (8 * i))
	}
	preimage = append(preimage, value[:]...)
	preimage = append(preimage, rec.Payload...)
	preimage = append(preimage, rec.BirthProgramID[:]...)
	preimage = append(preimage, rec.DeathProgramID[:]...)
	preimage = append(preimage, rec.SerialNumberNonce[:]...)

	digest := sha256.Sum256(preimage)
	return p.Commit(digest[:], rec.CommitmentRandomness[:])
}

// ProgramCommitment is the Blake2s commitment to a program verification key.
func ProgramCommitment(verifyingKey []byte) types.Hash {
	return blake2s.Sum256(verifyingKey)
}
