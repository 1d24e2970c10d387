// Package audit implements the append-mostly Audit DB of §4.A: vote
// history, Byzantine violations, node reputation, and blockchain
// submission archival. Schema and migration use gorm's AutoMigrate over a
// swappable driver.
package audit

import (
	"time"

	"gorm.io/gorm"
)

// VoteHistory is one (tx_id, node_id) vote, retained for audit even after
// its derived count is garbage-collected from the Coordination KV.
type VoteHistory struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TxID      string `gorm:"size:128;uniqueIndex:idx_vote_tx_node"`
	NodeID    string `gorm:"size:64;uniqueIndex:idx_vote_tx_node"`
	PeerID    string `gorm:"size:64;index"`
	Value     uint64
	Timestamp int64
	CreatedAt time.Time
}

// ByzantineViolation is an append-only record of a detected fault (§3).
type ByzantineViolation struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	PeerID        string `gorm:"size:64;index"`
	NodeID        string `gorm:"size:64;index"`
	TxID          string `gorm:"size:128;index"`
	ViolationType string `gorm:"size:32;index"`
	Evidence      []byte `gorm:"type:blob"`
	DetectedAt    time.Time
}

// NodeReputation tracks a peer's standing; reputation is decremented by
// 0.1 per violation, floored at 0 (§4.A, §4.D).
type NodeReputation struct {
	PeerID          string `gorm:"primaryKey;size:64"`
	ReputationScore float64
	ViolationsCount uint64
	LastSeen        time.Time
}

// BlockchainSubmission records a signed transaction handed off for
// broadcast; (tx_id, nonce) are each unique, giving the at-most-once
// signing guarantee named in §1.
type BlockchainSubmission struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TxID        string `gorm:"size:128;uniqueIndex"`
	Nonce       uint64 `gorm:"uniqueIndex"`
	WalletID    string `gorm:"size:128;index"`
	MessageHash []byte `gorm:"type:blob"`
	SubmittedAt time.Time
}

// BlockchainSubmissionArchive receives rows moved out of
// BlockchainSubmission by the GC sweep (§4.A archive_old_submissions).
type BlockchainSubmissionArchive struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	TxID        string `gorm:"size:128;index"`
	Nonce       uint64 `gorm:"index"`
	WalletID    string `gorm:"size:128;index"`
	MessageHash []byte `gorm:"type:blob"`
	SubmittedAt time.Time
	ArchivedAt  time.Time
}

// AutoMigrate creates/updates the audit DB schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&VoteHistory{},
		&ByzantineViolation{},
		&NodeReputation{},
		&BlockchainSubmission{},
		&BlockchainSubmissionArchive{},
	)
}
