// Copyright 2025 Certen Protocol
//
// Record ciphertexts: XChaCha20-Poly1305 sealing of record payloads for
// recipients. The account-level key agreement lives in the wallet layer; the
// node derives the symmetric key from the recipient address.

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/certen/zkpow-node/pkg/types"
)

const recordKeyDomain = "zkpow.record.encryption.v1"

// recordKey derives the symmetric record key for an address.
func recordKey(owner types.Address) [32]byte {
	preimage := make([]byte, 0, len(recordKeyDomain)+types.AddressSize)
	preimage = append(preimage, []byte(recordKeyDomain)...)
	preimage = append(preimage, owner[:]...)
	return sha256.Sum256(preimage)
}

// EncryptRecord seals a record to its owner. Output is nonce || ciphertext.
func EncryptRecord(rec *types.Record) ([]byte, error) {
	key := recordKey(rec.Owner)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, rec.Bytes(), nil), nil
}

// DecryptRecord opens a sealed record for the given owner.
func DecryptRecord(owner types.Address, ciphertext []byte) (*types.Record, error) {
	key := recordKey(owner)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, err
	}
	return types.DeserializeRecord(plain)
}
