package audit

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the gorm handle with the operations §4.A names.
type Store struct {
	db *gorm.DB
}

// Open opens an audit DB through an already-constructed gorm connection
// (sqlite for local/single-node or tests, Postgres in production — the
// concrete driver is the caller's choice; this package only depends on the
// abstract *gorm.DB handle) and migrates its schema.
func Open(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordVote idempotently appends a vote to history: a duplicate
// (tx_id, node_id) insert is a no-op, never an error (§4.A contract).
func (s *Store) RecordVote(txID, nodeID, peerID string, value uint64, timestamp int64) error {
	row := VoteHistory{
		TxID:      txID,
		NodeID:    nodeID,
		PeerID:    peerID,
		Value:     value,
		Timestamp: timestamp,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_id"}, {Name: "node_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// RecordByzantineViolation always appends the violation row and atomically
// decrements the peer's reputation (floored at 0), incrementing its
// violation counter, inside a single transaction (§4.A, §4.D Ban).
func (s *Store) RecordByzantineViolation(v ByzantineViolation) error {
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&v).Error; err != nil {
			return fmt.Errorf("audit: insert violation: %w", err)
		}

		var rep NodeReputation
		err := tx.First(&rep, "peer_id = ?", v.PeerID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rep = NodeReputation{PeerID: v.PeerID, ReputationScore: 0.9, ViolationsCount: 1, LastSeen: v.DetectedAt}
			return tx.Create(&rep).Error
		case err != nil:
			return fmt.Errorf("audit: load reputation: %w", err)
		}

		rep.ViolationsCount++
		rep.ReputationScore -= 0.1
		if rep.ReputationScore < 0 {
			rep.ReputationScore = 0
		}
		rep.LastSeen = v.DetectedAt
		return tx.Save(&rep).Error
	})
}

// GetNodeViolations returns every violation recorded against peerID.
func (s *Store) GetNodeViolations(peerID string) ([]ByzantineViolation, error) {
	var rows []ByzantineViolation
	if err := s.db.Where("peer_id = ?", peerID).Order("detected_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTxViolations returns every violation recorded for a transaction; used
// to satisfy the "AbortedByzantine implies a recorded violation" invariant
// (§8).
func (s *Store) GetTxViolations(txID string) ([]ByzantineViolation, error) {
	var rows []ByzantineViolation
	if err := s.db.Where("tx_id = ?", txID).Order("detected_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateNodeLastSeen bumps (or creates) a peer's last-seen timestamp
// without touching its reputation.
func (s *Store) UpdateNodeLastSeen(peerID string, at time.Time) error {
	var rep NodeReputation
	err := s.db.First(&rep, "peer_id = ?", peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&NodeReputation{PeerID: peerID, ReputationScore: 1, LastSeen: at}).Error
	}
	if err != nil {
		return err
	}
	rep.LastSeen = at
	return s.db.Save(&rep).Error
}

// GetReputation returns a peer's current reputation, defaulting to a clean
// 1.0 score for a peer never seen before.
func (s *Store) GetReputation(peerID string) (NodeReputation, error) {
	var rep NodeReputation
	err := s.db.First(&rep, "peer_id = ?", peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NodeReputation{PeerID: peerID, ReputationScore: 1}, nil
	}
	return rep, err
}

// RecordSubmission inserts a blockchain submission row, enforcing the
// at-most-once (tx_id, nonce) guarantee via the table's unique indices.
func (s *Store) RecordSubmission(sub BlockchainSubmission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	return s.db.Create(&sub).Error
}

// ArchiveOldSubmissions moves submissions older than cutoff into the
// archive table, deleting them from the live table in the same
// transaction.
func (s *Store) ArchiveOldSubmissions(cutoff time.Time) (int, error) {
	var rows []BlockchainSubmission
	moved := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submitted_at < ?", cutoff).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			archived := BlockchainSubmissionArchive{
				TxID: r.TxID, Nonce: r.Nonce, WalletID: r.WalletID,
				MessageHash: r.MessageHash, SubmittedAt: r.SubmittedAt, ArchivedAt: time.Now(),
			}
			if err := tx.Create(&archived).Error; err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			if err := tx.Where("submitted_at < ?", cutoff).Delete(&BlockchainSubmission{}).Error; err != nil {
				return err
			}
		}
		moved = len(rows)
		return nil
	})
	return moved, err
}

// DeleteOldVoteHistory prunes vote history rows older than cutoff, the GC
// sweep named in §3's Votes lifecycle.
func (s *Store) DeleteOldVoteHistory(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&VoteHistory{})
	return res.RowsAffected, res.Error
}
