package audit

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestRecordVoteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()

	if err := s.RecordVote("T1", "node-1", "peer-1", 7, now); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.RecordVote("T1", "node-1", "peer-1", 7, now); err != nil {
		t.Fatalf("duplicate record should no-op, got error: %v", err)
	}

	var count int64
	s.db.Model(&VoteHistory{}).Where("tx_id = ? AND node_id = ?", "T1", "node-1").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row after duplicate insert, got %d", count)
	}
}

func TestRecordByzantineViolationDecrementsReputation(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.RecordByzantineViolation(ByzantineViolation{
			PeerID:        "peer-1",
			TxID:          "T2",
			ViolationType: "DoubleVote",
			Evidence:      []byte("{}"),
		}); err != nil {
			t.Fatalf("record violation %d: %v", i, err)
		}
	}

	rep, err := s.GetReputation("peer-1")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if rep.ViolationsCount != 3 {
		t.Fatalf("expected 3 violations counted, got %d", rep.ViolationsCount)
	}
	if rep.ReputationScore <= 0.6 || rep.ReputationScore >= 0.7 {
		t.Fatalf("expected reputation ~0.7 after 3 decrements of 0.1, got %f", rep.ReputationScore)
	}

	violations, err := s.GetTxViolations("T2")
	if err != nil {
		t.Fatalf("get tx violations: %v", err)
	}
	if len(violations) != 3 {
		t.Fatalf("expected 3 violation rows for T2, got %d", len(violations))
	}
}

func TestReputationFloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 20; i++ {
		if err := s.RecordByzantineViolation(ByzantineViolation{
			PeerID: "peer-2", TxID: "T3", ViolationType: "InvalidSignature",
		}); err != nil {
			t.Fatalf("record violation: %v", err)
		}
	}
	rep, err := s.GetReputation("peer-2")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if rep.ReputationScore != 0 {
		t.Fatalf("expected reputation floored at 0, got %f", rep.ReputationScore)
	}
}

func TestArchiveOldSubmissions(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	if err := s.RecordSubmission(BlockchainSubmission{TxID: "T4", Nonce: 1, SubmittedAt: old}); err != nil {
		t.Fatalf("record submission: %v", err)
	}
	if err := s.RecordSubmission(BlockchainSubmission{TxID: "T5", Nonce: 2, SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("record submission: %v", err)
	}

	moved, err := s.ArchiveOldSubmissions(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 row archived, got %d", moved)
	}

	var liveCount, archiveCount int64
	s.db.Model(&BlockchainSubmission{}).Count(&liveCount)
	s.db.Model(&BlockchainSubmissionArchive{}).Count(&archiveCount)
	if liveCount != 1 || archiveCount != 1 {
		t.Fatalf("expected 1 live + 1 archived, got live=%d archived=%d", liveCount, archiveCount)
	}
}
