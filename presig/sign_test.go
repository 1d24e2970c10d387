package presig

import (
	"context"
	"math/big"
	"testing"
	"time"
)

func TestNormalizeLowS(t *testing.T) {
	high := new(big.Int).Sub(curveOrder, big.NewInt(1)) // n-1, well above n/2
	normalized := NormalizeLowS(high)
	if normalized.Cmp(halfCurveOrder) > 0 {
		t.Fatalf("expected normalized s <= n/2, got %s", normalized)
	}
	expected := new(big.Int).Sub(curveOrder, high)
	if normalized.Cmp(expected) != 0 {
		t.Fatalf("expected n-s = %s, got %s", expected, normalized)
	}

	low := big.NewInt(42)
	if NormalizeLowS(low).Cmp(low) != 0 {
		t.Fatal("expected low s to pass through unchanged")
	}
}

type fakeSigner struct{ participant int }

func (s *fakeSigner) DerivePartial(ctx context.Context, ps *Presignature, hash [32]byte) (PartialSignature, error) {
	return PartialSignature{Participant: s.participant, Share: []byte{byte(s.participant)}}, nil
}

type fakeCombiner struct{}

func (fakeCombiner) Combine(ctx context.Context, partials []PartialSignature) (*big.Int, *big.Int, error) {
	r := big.NewInt(int64(len(partials)))
	s := new(big.Int).Sub(curveOrder, big.NewInt(1)) // force high-S to exercise normalization
	return r, s, nil
}

func TestFastPathSignCombinesAndNormalizes(t *testing.T) {
	ps := &Presignature{Participants: []int{0, 1, 2}, GeneratedAt: time.Now()}
	collect := func(ctx context.Context, sessionID string, expected int) ([]PartialSignature, error) {
		return []PartialSignature{
			{Participant: 1, Share: []byte{1}},
			{Participant: 2, Share: []byte{2}},
		}, nil
	}

	sig, err := FastPathSign(context.Background(), "sess-1", ps, [32]byte{}, &fakeSigner{participant: 0}, collect, fakeCombiner{}, time.Second)
	if err != nil {
		t.Fatalf("fast path sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("expected 64-byte signature, got %d", len(sig))
	}
	s := new(big.Int).SetBytes(sig[32:])
	if s.Cmp(halfCurveOrder) > 0 {
		t.Fatal("expected final signature to carry a low-S value")
	}
}

func TestFastPathSignFallsThroughOnIncompletePartials(t *testing.T) {
	ps := &Presignature{Participants: []int{0, 1, 2}, GeneratedAt: time.Now()}
	collect := func(ctx context.Context, sessionID string, expected int) ([]PartialSignature, error) {
		return []PartialSignature{{Participant: 1, Share: []byte{1}}}, nil // missing participant 2
	}

	_, err := FastPathSign(context.Background(), "sess-2", ps, [32]byte{}, &fakeSigner{participant: 0}, collect, fakeCombiner{}, time.Second)
	if err != ErrIncompletePartials {
		t.Fatalf("expected ErrIncompletePartials, got %v", err)
	}
}
