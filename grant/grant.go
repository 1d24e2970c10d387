// Package grant implements the cryptographically signed, expiring,
// replay-resistant authorization artifacts of §4.B.
package grant

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/torcus-network/wallet-cluster/crypto"
)

// domainTag is prefixed to the canonical JSON before hashing, so a Grant
// signature can never be replayed as a signature over some other artifact.
const domainTag = "torcus-wallet:signing-grant:v1"

// DefaultValidity is the default lifetime of an issued grant (§3).
const DefaultValidity = 300 * time.Second

// ReplayGrace is added on top of remaining validity when deciding how long
// a session id must be remembered for replay protection (§4.B).
const ReplayGrace = 60 * time.Second

// Grant is the signed authorization artifact of §3/§4.B.
type Grant struct {
	GrantID      uuid.UUID `json:"grant_id"`
	WalletID     string    `json:"wallet_id"`
	MessageHash  [32]byte  `json:"message_hash"`
	Threshold    int       `json:"threshold"`
	Participants []int     `json:"participants"`
	Nonce        uint64    `json:"nonce"`
	IssuedAt     int64     `json:"issued_at"`
	ExpiresAt    int64     `json:"expires_at"`
	Signature    []byte    `json:"signature"`
}

// signable is the canonical JSON payload the signature covers: every Grant
// field except the signature itself.
type signable struct {
	GrantID      uuid.UUID `json:"grant_id"`
	WalletID     string    `json:"wallet_id"`
	MessageHash  [32]byte  `json:"message_hash"`
	Threshold    int       `json:"threshold"`
	Participants []int     `json:"participants"`
	Nonce        uint64    `json:"nonce"`
	IssuedAt     int64     `json:"issued_at"`
	ExpiresAt    int64     `json:"expires_at"`
}

func (g *Grant) signable() signable {
	return signable{
		GrantID:      g.GrantID,
		WalletID:     g.WalletID,
		MessageHash:  g.MessageHash,
		Threshold:    g.Threshold,
		Participants: g.Participants,
		Nonce:        g.Nonce,
		IssuedAt:     g.IssuedAt,
		ExpiresAt:    g.ExpiresAt,
	}
}

// signableBytes returns the exact digest the signature is computed over:
// sha256(domainTag || canonical-JSON(fields)).
func (g *Grant) signableBytes() ([]byte, error) {
	body, err := json.Marshal(g.signable())
	if err != nil {
		return nil, fmt.Errorf("grant: marshal signable: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domainTag))
	h.Write(body)
	return h.Sum(nil), nil
}

// sortedUnique sorts participants ascending and removes duplicates,
// matching the "participants de-duplicated and sorted before signing"
// invariant (§3).
func sortedUnique(participants []int) []int {
	seen := make(map[int]struct{}, len(participants))
	out := make([]int, 0, len(participants))
	for _, p := range participants {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Issue produces a new, signed Grant per §4.B's issuance procedure.
func Issue(key *crypto.GrantSigningKey, walletID string, messageHash [32]byte, threshold int, participants []int, validity time.Duration, now time.Time) (*Grant, error) {
	if key == nil {
		return nil, errors.New("grant: nil issuer key")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	nonceBuf := make([]byte, 8)
	if _, err := rand.Read(nonceBuf); err != nil {
		return nil, fmt.Errorf("grant: draw nonce: %w", err)
	}

	g := &Grant{
		GrantID:      uuid.New(),
		WalletID:     walletID,
		MessageHash:  messageHash,
		Threshold:    threshold,
		Participants: sortedUnique(participants),
		Nonce:        binary.LittleEndian.Uint64(nonceBuf),
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(validity).Unix(),
	}

	digest, err := g.signableBytes()
	if err != nil {
		return nil, err
	}
	g.Signature = key.Sign(digest)
	return g, nil
}

// Verify checks a grant's Ed25519 signature in constant time, per §4.B.
func Verify(g *Grant, issuerPub ed25519.PublicKey) error {
	if g == nil {
		return ErrInvalidSignature
	}
	digest, err := g.signableBytes()
	if err != nil {
		return ErrInvalidSignature
	}
	if !crypto.VerifyGrantSignature(issuerPub, digest, g.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ClockSkewTolerance bounds how far in the future a grant's issued_at may
// sit before Validate rejects it as not-yet-valid (§4.B).
const ClockSkewTolerance = 5 * time.Second

// Validate checks that a grant is currently usable by the given party
// index: signature, validity window, and participant membership (§4.B).
// It does not check replay; callers combine it with a Guard.
func Validate(g *Grant, issuerPub ed25519.PublicKey, partyIndex int, now time.Time) error {
	if err := Verify(g, issuerPub); err != nil {
		return err
	}
	if now.Unix() > g.ExpiresAt {
		return ErrExpired
	}
	if now.Unix() < g.IssuedAt-int64(ClockSkewTolerance.Seconds()) {
		return ErrNotYetValid
	}
	for _, p := range g.Participants {
		if p == partyIndex {
			return nil
		}
	}
	return ErrPartyNotAuthorized
}

// SessionID derives the deterministic session id for a grant, per §3/§4.B:
// "grant-" || hex(sha256(grant_id || nonce)[:16]).
func SessionID(g *Grant) string {
	buf := make([]byte, 16+8)
	copy(buf, g.GrantID[:])
	binary.LittleEndian.PutUint64(buf[16:], g.Nonce)
	sum := sha256.Sum256(buf)
	return "grant-" + hexEncode(sum[:16])
}

// ValidateAndConsume validates g for partyIndex and, only if validation
// succeeds, consumes its session id against guard. It returns ErrReplayed
// if the session id was already consumed, matching §4.B's requirement that
// replay detection happen only after the grant is otherwise known-valid.
func ValidateAndConsume(guard *Guard, g *Grant, issuerPub ed25519.PublicKey, partyIndex int, now time.Time) error {
	if err := Validate(g, issuerPub, partyIndex, now); err != nil {
		return err
	}
	if !guard.Observe(g) {
		return ErrReplayed
	}
	return nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
