package vote

import (
	"testing"
	"time"

	"github.com/torcus-network/wallet-cluster/crypto"
)

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := Sign(key, "node-1", "peer-1", "T1", 7, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !v.Verify() {
		t.Fatalf("expected freshly signed vote to verify")
	}

	v.Value = 8
	if v.Verify() {
		t.Fatalf("expected tampered vote to fail verification")
	}
}

func TestStateTransitions(t *testing.T) {
	m := NewMachine()
	if !m.CanAcceptVotes() {
		t.Fatalf("expected Collecting to accept votes")
	}
	if err := m.ReachThreshold(); err != nil {
		t.Fatalf("reach threshold: %v", err)
	}
	if m.CanAcceptVotes() {
		t.Fatalf("expected ThresholdReached to stop accepting votes")
	}
	if err := m.Advance(Approved); err != nil {
		t.Fatalf("advance to approved: %v", err)
	}
	if err := m.Advance(Signing); err != nil {
		t.Fatalf("advance to signing: %v", err)
	}
	if err := m.Advance(Confirmed); err == nil {
		t.Fatalf("expected skipping Signed -> Confirmed to be rejected")
	}
}

func TestAbortFromAnyNonTerminalState(t *testing.T) {
	m := NewMachine()
	if err := m.ReachThreshold(); err != nil {
		t.Fatalf("reach threshold: %v", err)
	}
	if err := m.Advance(Approved); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := m.AbortByzantine(); err != nil {
		t.Fatalf("expected abort to succeed from Approved, got %v", err)
	}
	if err := m.AbortTimeout(); err == nil {
		t.Fatalf("expected terminal state to reject further transitions")
	}
}

func TestRegistryIsolatesTransactions(t *testing.T) {
	r := NewRegistry()
	m1 := r.Acquire("tx1")
	m2 := r.Acquire("tx2")
	if m1 == m2 {
		t.Fatalf("expected distinct machines per transaction")
	}
	if err := m1.ReachThreshold(); err != nil {
		t.Fatalf("reach threshold on tx1: %v", err)
	}
	if !m2.CanAcceptVotes() {
		t.Fatalf("expected tx2 to be unaffected by tx1's transition")
	}
}
