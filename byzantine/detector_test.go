package byzantine

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/torcus-network/wallet-cluster/audit"
	"github.com/torcus-network/wallet-cluster/crypto"
	"github.com/torcus-network/wallet-cluster/kv"
	"github.com/torcus-network/wallet-cluster/vote"
)

func newTestDetector(t *testing.T, threshold int) (*Detector, kv.CounterStore, *audit.Store) {
	t.Helper()
	store := kv.NewMemStore()
	t.Cleanup(func() { store.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	auditStore, err := audit.Open(db)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	return New(store, auditStore, threshold), store, auditStore
}

func signedVote(t *testing.T, nodeID, peerID, txID string, value uint64) *vote.Vote {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := vote.Sign(key, nodeID, peerID, txID, value, time.Now())
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	return v
}

func TestCheckVoteAcceptsUntilThreshold(t *testing.T) {
	d, _, _ := newTestDetector(t, 3)
	ctx := context.Background()

	for i, peer := range []string{"p1", "p2"} {
		v := signedVote(t, peer, peer, "T1", 7)
		out, err := d.CheckVote(ctx, v)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if out.Kind != "Accepted" {
			t.Fatalf("vote %d: expected Accepted, got %s", i, out.Kind)
		}
	}

	v := signedVote(t, "p3", "p3", "T1", 7)
	out, err := d.CheckVote(ctx, v)
	if err != nil {
		t.Fatalf("threshold vote: %v", err)
	}
	if out.Kind != "ThresholdReached" || out.Count != 3 {
		t.Fatalf("expected ThresholdReached{3}, got %+v", out)
	}
}

func TestCheckVoteRejectsDoubleVoteAndBans(t *testing.T) {
	d, store, auditStore := newTestDetector(t, 4)
	ctx := context.Background()

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v1, _ := vote.Sign(key, "node-1", "peer-1", "T2", 42, time.Now())
	out1, err := d.CheckVote(ctx, v1)
	if err != nil || out1.Kind != "Accepted" {
		t.Fatalf("first vote: out=%+v err=%v", out1, err)
	}

	v2, _ := vote.Sign(key, "node-1", "peer-1", "T2", 99, time.Now())
	out2, err := d.CheckVote(ctx, v2)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if out2.Kind != "Rejected" || out2.RejectionKind != RejectionDoubleVote {
		t.Fatalf("expected Rejected(DoubleVote), got %+v", out2)
	}

	_, banned, err := store.Get(ctx, kv.BannedKey("peer-1"))
	if err != nil || !banned {
		t.Fatalf("expected peer-1 banned, ok=%v err=%v", banned, err)
	}

	violations, err := auditStore.GetTxViolations("T2")
	if err != nil {
		t.Fatalf("get violations: %v", err)
	}
	if len(violations) != 1 || violations[0].ViolationType != "DoubleVote" {
		t.Fatalf("expected one DoubleVote violation row, got %+v", violations)
	}

	v3 := signedVote(t, "node-2", "peer-1", "T2", 42)
	out3, err := d.CheckVote(ctx, v3)
	if err != nil {
		t.Fatalf("banned peer vote: %v", err)
	}
	if out3.Kind != "Rejected" || out3.RejectionKind != RejectionNodeBanned {
		t.Fatalf("expected Rejected(NodeBanned), got %+v", out3)
	}
}

func TestCheckVoteRejectsInvalidSignature(t *testing.T) {
	d, store, _ := newTestDetector(t, 4)
	ctx := context.Background()

	v := signedVote(t, "node-1", "peer-1", "T3", 1)
	v.Signature = make([]byte, len(v.Signature))

	out, err := d.CheckVote(ctx, v)
	if err != nil {
		t.Fatalf("invalid signature vote: %v", err)
	}
	if out.Kind != "Rejected" || out.RejectionKind != RejectionInvalidSignature {
		t.Fatalf("expected Rejected(InvalidSignature), got %+v", out)
	}

	entries, err := store.PrefixScan(ctx, kv.VoteCountPrefix("T3"))
	if err != nil {
		t.Fatalf("scan counts: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no vote count increment for invalid signature, got %v", entries)
	}
}

func TestCheckVoteRejectsMinorityVoteAfterThreshold(t *testing.T) {
	d, _, _ := newTestDetector(t, 4)
	ctx := context.Background()

	for i, peer := range []string{"p1", "p2", "p3", "p4"} {
		v := signedVote(t, peer, peer, "T4", 1)
		out, err := d.CheckVote(ctx, v)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if i < 3 && out.Kind != "Accepted" {
			t.Fatalf("vote %d: expected Accepted, got %+v", i, out)
		}
		if i == 3 && out.Kind != "ThresholdReached" {
			t.Fatalf("vote %d: expected ThresholdReached, got %+v", i, out)
		}
	}

	v5 := signedVote(t, "p5", "p5", "T4", 2)
	out, err := d.CheckVote(ctx, v5)
	if err != nil {
		t.Fatalf("minority vote: %v", err)
	}
	if out.Kind != "Rejected" || out.RejectionKind != RejectionMinorityVote {
		t.Fatalf("expected Rejected(MinorityVote), got %+v", out)
	}
}

func TestCheckVoteIdempotentOnRepeatedSameValue(t *testing.T) {
	d, _, _ := newTestDetector(t, 4)
	ctx := context.Background()

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, _ := vote.Sign(key, "node-1", "peer-1", "T5", 7, time.Now())
	if out, err := d.CheckVote(ctx, v); err != nil || out.Kind != "Accepted" {
		t.Fatalf("first vote: out=%+v err=%v", out, err)
	}
	out, err := d.CheckVote(ctx, v)
	if err != nil {
		t.Fatalf("repeated vote: %v", err)
	}
	if out.Kind != "Idempotent" {
		t.Fatalf("expected Idempotent, got %+v", out)
	}
}
