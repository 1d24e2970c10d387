package grant

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/torcus-network/wallet-cluster/crypto"
)

func TestIssueVerifyAndValidate(t *testing.T) {
	key, err := crypto.GenerateGrantSigningKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	hash := sha256.Sum256([]byte("tx-payload"))

	g, err := Issue(key, "wallet-1", hash, 2, []int{3, 1, 1, 2}, 0, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(g.Participants) != 3 {
		t.Fatalf("expected de-duplicated participants, got %v", g.Participants)
	}
	for i := 1; i < len(g.Participants); i++ {
		if g.Participants[i-1] > g.Participants[i] {
			t.Fatalf("expected sorted participants, got %v", g.Participants)
		}
	}

	if err := Verify(g, key.PublicKey()); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := Validate(g, key.PublicKey(), 2, now.Add(10*time.Second)); err != nil {
		t.Fatalf("validate party 2: %v", err)
	}
	if err := Validate(g, key.PublicKey(), 9, now.Add(10*time.Second)); err != ErrPartyNotAuthorized {
		t.Fatalf("expected ErrPartyNotAuthorized for party 9, got %v", err)
	}
	if err := Validate(g, key.PublicKey(), 1, now.Add(DefaultValidity+time.Second)); err != ErrExpired {
		t.Fatalf("expected ErrExpired past validity window, got %v", err)
	}
}

func TestVerifyRejectsTamperedGrant(t *testing.T) {
	key, err := crypto.GenerateGrantSigningKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	hash := sha256.Sum256([]byte("tx-payload"))
	g, err := Issue(key, "wallet-1", hash, 2, []int{1, 2, 3}, 0, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	g.Threshold = 3
	if err := Verify(g, key.PublicKey()); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature after tampering, got %v", err)
	}
}

func TestSessionIDIsDeterministicAndUnique(t *testing.T) {
	key, err := crypto.GenerateGrantSigningKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	hash := sha256.Sum256([]byte("tx-payload"))
	g1, err := Issue(key, "wallet-1", hash, 2, []int{1, 2, 3}, 0, now)
	if err != nil {
		t.Fatalf("issue g1: %v", err)
	}
	g2, err := Issue(key, "wallet-1", hash, 2, []int{1, 2, 3}, 0, now)
	if err != nil {
		t.Fatalf("issue g2: %v", err)
	}

	if SessionID(g1) != SessionID(g1) {
		t.Fatalf("expected stable session id for the same grant")
	}
	if SessionID(g1) == SessionID(g2) {
		t.Fatalf("expected distinct session ids for distinct grants")
	}
}

func TestGuardRejectsReplay(t *testing.T) {
	key, err := crypto.GenerateGrantSigningKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	hash := sha256.Sum256([]byte("tx-payload"))
	g, err := Issue(key, "wallet-1", hash, 2, []int{1, 2, 3}, 0, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	guard := NewGuard()
	defer guard.Close()

	if err := ValidateAndConsume(guard, g, key.PublicKey(), 1, now); err != nil {
		t.Fatalf("first consumption: %v", err)
	}
	if err := ValidateAndConsume(guard, g, key.PublicKey(), 1, now); err != ErrReplayed {
		t.Fatalf("expected ErrReplayed on second consumption, got %v", err)
	}
	if guard.Size() != 1 {
		t.Fatalf("expected one tracked session id, got %d", guard.Size())
	}
}
