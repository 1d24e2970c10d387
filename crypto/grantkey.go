package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// GrantSigningKey is the issuer's exclusively-owned Ed25519 key used to sign
// Grant artifacts (§4.B). Verifiers only ever hold the public half.
type GrantSigningKey struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateGrantSigningKey creates a fresh Ed25519 issuer key pair.
func GenerateGrantSigningKey() (*GrantSigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate grant signing key: %w", err)
	}
	return &GrantSigningKey{pub: pub, priv: priv}, nil
}

// GrantSigningKeyFromSeed reconstructs the key pair from a 32-byte seed, the
// form persisted to disk and distributed to verifying nodes out of band.
func GrantSigningKeyFromSeed(seed []byte) (*GrantSigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("grant signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &GrantSigningKey{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// Sign produces a detached Ed25519 signature over the given bytes.
func (k *GrantSigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// PublicKey returns the verifying public key, safe to distribute.
func (k *GrantSigningKey) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k.pub...)
}

// VerifyGrantSignature performs constant-time Ed25519 verification, per the
// grant system's "constant-time signature verification" requirement (§4.B).
func VerifyGrantSignature(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
