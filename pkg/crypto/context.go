// Copyright 2025 Certen Protocol
//
// Crypto facade: typed, stateless operations over fixed public parameters.
// The SNARK circuits themselves live behind the verifier interfaces; the
// facade composes them with structural checks and the PoW target comparison.
// All operations are pure given the parameters: verification failure is an
// ordinary false result, never an error.

package crypto

import (
	"encoding/binary"

	"github.com/certen/zkpow-node/pkg/types"
)

// TransactionVerifier runs the outer SNARK verification for one transaction.
type TransactionVerifier interface {
	VerifyTransaction(tx *types.Transaction) bool
}

// TransactionVerifierFunc adapts a function to TransactionVerifier.
type TransactionVerifierFunc func(tx *types.Transaction) bool

// VerifyTransaction implements TransactionVerifier.
func (f TransactionVerifierFunc) VerifyTransaction(tx *types.Transaction) bool {
	return f(tx)
}

// WorkVerifier checks the succinct work proof binding a header's commitment
// root and nonce.
type WorkVerifier interface {
	VerifyWork(root types.Hash, nonce uint32, proof []byte) bool
}

// WorkVerifierFunc adapts a function to WorkVerifier.
type WorkVerifierFunc func(root types.Hash, nonce uint32, proof []byte) bool

// VerifyWork implements WorkVerifier.
func (f WorkVerifierFunc) VerifyWork(root types.Hash, nonce uint32, proof []byte) bool {
	return f(root, nonce, proof)
}

// Options configures a Context.
type Options struct {
	// AuthorizedInnerCircuitIDs is the closed set of inner circuits
	// transactions may declare.
	AuthorizedInnerCircuitIDs []types.Hash

	// TransactionVerifier runs the outer SNARK verification.
	TransactionVerifier TransactionVerifier

	// WorkVerifier checks succinct work proofs.
	WorkVerifier WorkVerifier
}

// Context is the immutable bundle of public parameters and verifiers,
// constructed once at startup and shared by reference.
type Context struct {
	authorized map[types.Hash]struct{}
	txVerifier TransactionVerifier
	work       WorkVerifier
	pedersen   *PedersenParams
}

// NewContext builds a Context. Both verifiers are required.
func NewContext(opts Options) (*Context, error) {
	if opts.TransactionVerifier == nil || opts.WorkVerifier == nil {
		return nil, ErrNilVerifier
	}
	authorized := make(map[types.Hash]struct{}, len(opts.AuthorizedInnerCircuitIDs))
	for _, id := range opts.AuthorizedInnerCircuitIDs {
		authorized[id] = struct{}{}
	}
	return &Context{
		authorized: authorized,
		txVerifier: opts.TransactionVerifier,
		work:       opts.WorkVerifier,
		pedersen:   SetupPedersen(),
	}, nil
}

// IsAuthorizedInnerCircuit reports whether id is in the authorized set.
func (c *Context) IsAuthorizedInnerCircuit(id types.Hash) bool {
	_, ok := c.authorized[id]
	return ok
}

// Pedersen returns the record-commitment parameters.
func (c *Context) Pedersen() *PedersenParams {
	return c.pedersen
}

// VerifyTransaction runs structural checks, verifies every signature over
// the transaction body under its serial number, and runs the outer SNARK
// verification. Fails closed on any malformed input.
func (c *Context) VerifyTransaction(tx *types.Transaction) bool {
	if tx == nil {
		return false
	}
	if len(tx.OldSerialNumbers) == 0 || len(tx.NewCommitments) == 0 {
		return false
	}
	if len(tx.Signatures) != len(tx.OldSerialNumbers) {
		return false
	}
	if len(tx.EncryptedRecords) != len(tx.NewCommitments) {
		return false
	}
	if len(tx.Proof) == 0 {
		return false
	}

	// One signature per consumed record, each verifying under the serial
	// number as the randomized public key.
	message := types.SHA256(tx.SignatureMessage())
	for i, sn := range tx.OldSerialNumbers {
		if !VerifySignature(sn[:], message[:], tx.Signatures[i][:]) {
			return false
		}
	}

	return c.txVerifier.VerifyTransaction(tx)
}

// VerifyTransactions is the conjunction over txs.
func (c *Context) VerifyTransactions(txs []*types.Transaction) bool {
	for _, tx := range txs {
		if !c.VerifyTransaction(tx) {
			return false
		}
	}
	return true
}

// HashHeaderForPoW returns the deterministic header digest compared against
// the difficulty target. The proof blob is excluded from the preimage.
func (c *Context) HashHeaderForPoW(h *types.BlockHeader) types.Hash {
	return types.DoubleSHA256(h.PoWPreimage())
}

// PoWValue maps a header digest onto the u64 target scale.
func PoWValue(h types.Hash) uint64 {
	return binary.LittleEndian.Uint64(h[:8])
}

// VerifyPoW checks the succinct proof embedded in the header and that the
// header digest meets the target.
func (c *Context) VerifyPoW(h *types.BlockHeader, target uint64) bool {
	if !c.work.VerifyWork(h.CommitmentRoot, h.Nonce, h.Proof[:]) {
		return false
	}
	return PoWValue(c.HashHeaderForPoW(h)) <= target
}
