// Copyright 2025 Certen Protocol
//
// Serial-number signatures over the bls12-381 twisted Edwards curve.
// A record's serial number is the compressed public key of an EdDSA keypair
// derived from the record's serial-number nonce and the spender address; the
// transaction carries one signature per consumed record, verified under the
// serial number itself.

package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/twistededwards/eddsa"
	"golang.org/x/crypto/hkdf"

	"github.com/certen/zkpow-node/pkg/types"
)

// SigningKey is a serial-number signing keypair.
type SigningKey = eddsa.PrivateKey

const serialNumberKeyDomain = "zkpow.serial-number.key.v1"

// SerialNumberKey deterministically derives the keypair whose public key is
// the serial number of a record spent by owner.
func SerialNumberKey(nonce types.Hash, owner types.Address) (*SigningKey, error) {
	seed := make([]byte, 0, types.HashSize+types.AddressSize)
	seed = append(seed, nonce[:]...)
	seed = append(seed, owner[:]...)
	return eddsa.GenerateKey(hkdf.New(sha256.New, seed, nil, []byte(serialNumberKeyDomain)))
}

// SerialNumber derives the nullifier of a record: the compressed public key
// of its serial-number keypair.
func SerialNumber(nonce types.Hash, owner types.Address) (types.Hash, error) {
	key, err := SerialNumberKey(nonce, owner)
	if err != nil {
		return types.ZeroHash, err
	}
	return types.BytesToHash(key.PublicKey.Bytes()), nil
}

// Sign produces a fixed-width signature over message. The message is read as
// a big-endian integer and reduced into the scalar field first, because MiMC
// only absorbs canonical field elements.
func Sign(key *SigningKey, message []byte) (types.Signature, error) {
	var sig types.Signature
	var m fr.Element
	m.SetBytes(message)
	mb := m.Bytes()
	raw, err := key.Sign(mb[:], mimc.NewMiMC())
	if err != nil {
		return sig, err
	}
	if len(raw) != types.SignatureSize {
		return sig, fmt.Errorf("signature is %d bytes, want %d", len(raw), types.SignatureSize)
	}
	copy(sig[:], raw)
	return sig, nil
}

// SignTransaction fills tx.Signatures with one signature per consumed record
// over the digest of the transaction's signature message. keys must parallel
// tx.OldSerialNumbers.
func SignTransaction(tx *types.Transaction, keys []*SigningKey) error {
	if len(keys) != len(tx.OldSerialNumbers) {
		return fmt.Errorf("%d keys for %d serial numbers", len(keys), len(tx.OldSerialNumbers))
	}
	message := types.SHA256(tx.SignatureMessage())
	tx.Signatures = make([]types.Signature, len(keys))
	for i, key := range keys {
		sig, err := Sign(key, message[:])
		if err != nil {
			return err
		}
		tx.Signatures[i] = sig
	}
	return nil
}

// VerifySignature checks an EdDSA signature over msg, reduced into the scalar
// field as Sign does. Malformed keys or signatures yield false, not an error.
func VerifySignature(publicKey, msg, signature []byte) bool {
	var pub eddsa.PublicKey
	if _, err := pub.SetBytes(publicKey); err != nil {
		return false
	}
	var m fr.Element
	m.SetBytes(msg)
	mb := m.Bytes()
	ok, err := pub.Verify(signature, mb[:], mimc.NewMiMC())
	return err == nil && ok
}
