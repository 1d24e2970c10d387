package presig

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DefaultPartialSigWait is the bounded collection window for fast-path
// partial signatures (§4.G Fast-path signing, step 3: "bounded wait, e.g.,
// 10 s").
const DefaultPartialSigWait = 10 * time.Second

// curveOrder is secp256k1's group order n, used for low-S normalization.
var curveOrder = gethcrypto.S256().Params().N

var halfCurveOrder = new(big.Int).Rsh(curveOrder, 1)

// PartialSignature is one participant's non-interactive contribution toward
// a fast-path signature, derived locally from a consumed Presignature and
// the message hash.
type PartialSignature struct {
	Participant int
	Share       []byte
}

// PartialSigner derives a local partial signature from a presignature and a
// message hash (§4.G step 1: "locally derive the partial signature
// (non-interactive, pure computation)"). The concrete derivation is
// CGGMP24-specific and out of scope; this is the seam an external engine
// plugs into.
type PartialSigner interface {
	DerivePartial(ctx context.Context, ps *Presignature, messageHash [32]byte) (PartialSignature, error)
}

// Combiner combines a complete, canonically-ordered set of partial
// signatures into the final ECDSA (r, s) pair. The combination math is
// CGGMP24-specific and out of scope; this is the seam an external engine
// plugs into.
type Combiner interface {
	Combine(ctx context.Context, partials []PartialSignature) (r, s *big.Int, err error)
}

// Collector gathers partial signatures broadcast by the other session
// participants, bounded by ctx's deadline (§4.G step 2-3: broadcast on a
// dedicated stream tagged with session_id, collect with a bounded wait).
type Collector func(ctx context.Context, sessionID string, expected int) ([]PartialSignature, error)

// ErrIncompletePartials is returned when fewer partial signatures than
// participants were collected within the bounded wait, and the caller must
// fall through to the full signing protocol.
var ErrIncompletePartials = fmt.Errorf("presig: incomplete partial signatures within wait window")

// NormalizeLowS rewrites s to n-s when s exceeds n/2, per the Bitcoin
// low-S policy (§3, §5: "s of every emitted ECDSA signature satisfies
// s <= n/2").
func NormalizeLowS(s *big.Int) *big.Int {
	if s.Cmp(halfCurveOrder) <= 0 {
		return new(big.Int).Set(s)
	}
	return new(big.Int).Sub(curveOrder, s)
}

// FinalizeSignature encodes (r, s) as a 64-byte r||s signature with s
// normalized to low-S.
func FinalizeSignature(r, s *big.Int) []byte {
	normS := NormalizeLowS(s)
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	normS.FillBytes(out[32:])
	return out
}

// FastPathSign executes §4.G's fast-path signing flow: derive this node's
// partial signature from a consumed presignature, broadcast and collect the
// others (bounded wait), combine in canonical participant-index order, and
// normalize the result to low-S. Any failure means the caller should fall
// through to the full interactive signing protocol (§3: "An empty pool is
// a valid state: the online signing path must fall back...").
func FastPathSign(
	ctx context.Context,
	sessionID string,
	ps *Presignature,
	messageHash [32]byte,
	signer PartialSigner,
	collect Collector,
	combiner Combiner,
	wait time.Duration,
) ([]byte, error) {
	if wait <= 0 {
		wait = DefaultPartialSigWait
	}

	local, err := signer.DerivePartial(ctx, ps, messageHash)
	if err != nil {
		return nil, fmt.Errorf("presig: derive local partial: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	others, err := collect(waitCtx, sessionID, len(ps.Participants)-1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompletePartials, err)
	}

	all := append([]PartialSignature{local}, others...)
	if len(all) != len(ps.Participants) {
		return nil, ErrIncompletePartials
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Participant < all[j].Participant })

	r, s, err := combiner.Combine(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("presig: combine partials: %w", err)
	}
	return FinalizeSignature(r, s), nil
}
