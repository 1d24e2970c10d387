// Package crypto wraps the two signature schemes the cluster uses: secp256k1
// for node identity keys, which sign votes, and Ed25519 for grant
// issuance. Key material never leaves this package except as opaque bytes.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"

	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey is a node's secp256k1 identity key, used to sign votes. QUIC
// peers are authenticated by their mTLS certificates, not by this key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey is the public half of a node identity key.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a fresh node identity key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the raw private scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// PubKey derives the public key.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a recoverable secp256k1 signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

// Bytes returns the uncompressed public key encoding.
func (k *PublicKey) Bytes() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

// PrivateKeyFromBytes decodes a raw secp256k1 scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PublicKeyFromBytes decodes an uncompressed secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := crypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{key}, nil
}

// VerifySignature checks a secp256k1 signature (64-byte r||s, no recovery id)
// over a digest against a public key.
func VerifySignature(pub *PublicKey, digest, sig []byte) bool {
	if pub == nil || len(sig) < 64 {
		return false
	}
	return crypto.VerifySignature(pub.Bytes(), digest, sig[:64])
}
