// Package byzantine implements the Byzantine Detector of §4.D: the single
// serialized entry point every vote passes through before it can move a
// transaction's finite-state machine forward. Locking and I/O ordering
// follow the same discipline as the consensus engine this cluster's vote
// processor descends from: short in-memory critical sections, storage I/O
// never held under a machine lock.
package byzantine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/torcus-network/wallet-cluster/audit"
	"github.com/torcus-network/wallet-cluster/kv"
	"github.com/torcus-network/wallet-cluster/observability"
	"github.com/torcus-network/wallet-cluster/vote"
)

// RejectionKind enumerates why check_vote refused a vote.
type RejectionKind string

const (
	RejectionNodeBanned       RejectionKind = "NodeBanned"
	RejectionInvalidSignature RejectionKind = "InvalidSignature"
	RejectionDoubleVote       RejectionKind = "DoubleVote"
	RejectionMinorityVote     RejectionKind = "MinorityVote"
)

// Outcome is the result of check_vote, per §4.D's
// Accepted{count} | ThresholdReached{value,count} | Rejected(kind) | Idempotent.
type Outcome struct {
	Kind          string // "Accepted", "ThresholdReached", "Rejected", "Idempotent"
	Count         uint64
	Value         uint64
	RejectionKind RejectionKind
}

// Detector is the Byzantine Detector of §4.D, wired to the Coordination KV
// for serialized counters and the ban list, and to the Audit DB for
// permanent record-keeping.
type Detector struct {
	store     kv.CounterStore
	audit     *audit.Store
	threshold int
	metrics   interface {
		RecordAccepted(string)
		RecordRejected(string)
		RecordThresholdReached()
		RecordViolation(string, bool)
	}
}

// New builds a Detector against the given Coordination KV and Audit DB,
// enforcing the cluster-wide vote threshold.
func New(store kv.CounterStore, auditStore *audit.Store, threshold int) *Detector {
	return &Detector{
		store:     store,
		audit:     auditStore,
		threshold: threshold,
		metrics:   observability.VoteMetrics(),
	}
}

// doubleVoteEvidence is the structured evidence blob for a DoubleVote
// violation: both timestamps and both values, per §4.D step 3.
type doubleVoteEvidence struct {
	ExistingValue     uint64 `json:"existing_value"`
	ExistingTimestamp int64  `json:"existing_timestamp"`
	NewValue          uint64 `json:"new_value"`
	NewTimestamp      int64  `json:"new_timestamp"`
}

// minorityVoteEvidence is the structured evidence blob for a MinorityVote
// violation: the full vote-count map observed at decision time.
type minorityVoteEvidence struct {
	Counts   map[uint64]uint64 `json:"counts"`
	MaxValue uint64            `json:"max_value"`
	MaxCount uint64            `json:"max_count"`
	Value    uint64            `json:"value"`
}

// CheckVote runs the seven-step algorithm of §4.D against v, in this exact
// order. It is safe to call concurrently for distinct
// (tx_id, peer_id) pairs; for the same pair it is serialized by the
// Coordination KV's CompareAndCreate semantics.
func (d *Detector) CheckVote(ctx context.Context, v *vote.Vote) (Outcome, error) {
	// 1. Ban check.
	var banned bool
	if err := kv.WithRetry(ctx, func(ctx context.Context) error {
		_, ok, err := d.store.Get(ctx, kv.BannedKey(v.PeerID))
		banned = ok
		return err
	}); err != nil {
		return Outcome{}, fmt.Errorf("byzantine: ban check: %w", err)
	}
	if banned {
		d.metrics.RecordRejected(string(RejectionNodeBanned))
		return Outcome{Kind: "Rejected", RejectionKind: RejectionNodeBanned}, nil
	}

	// 2. Signature check.
	if !v.Verify() {
		raw, _ := json.Marshal(v)
		if err := d.ban(ctx, v.PeerID, v.NodeID, v.TxID, "InvalidSignature", raw); err != nil {
			return Outcome{}, err
		}
		d.metrics.RecordRejected(string(RejectionInvalidSignature))
		return Outcome{Kind: "Rejected", RejectionKind: RejectionInvalidSignature}, nil
	}

	// 3. Double-vote check.
	voteKey := kv.VoteKey(v.TxID, v.NodeID)
	payload, err := json.Marshal(v)
	if err != nil {
		return Outcome{}, fmt.Errorf("byzantine: marshal vote: %w", err)
	}
	var created bool
	if err := kv.WithRetry(ctx, func(ctx context.Context) error {
		ok, err := d.store.CompareAndCreate(ctx, voteKey, payload, 0)
		created = ok
		return err
	}); err != nil {
		return Outcome{}, fmt.Errorf("byzantine: store_vote: %w", err)
	}
	if !created {
		var existingRaw []byte
		var ok bool
		if err := kv.WithRetry(ctx, func(ctx context.Context) error {
			raw, found, err := d.store.Get(ctx, voteKey)
			existingRaw, ok = raw, found
			return err
		}); err != nil {
			return Outcome{}, fmt.Errorf("byzantine: load existing vote: %w", err)
		}
		if ok {
			var existing vote.Vote
			if err := json.Unmarshal(existingRaw, &existing); err != nil {
				return Outcome{}, fmt.Errorf("byzantine: decode existing vote: %w", err)
			}
			if existing.Value != v.Value {
				evidence, _ := json.Marshal(doubleVoteEvidence{
					ExistingValue:     existing.Value,
					ExistingTimestamp: existing.Timestamp,
					NewValue:          v.Value,
					NewTimestamp:      v.Timestamp,
				})
				if err := d.banAndAbort(ctx, v.PeerID, v.NodeID, v.TxID, "DoubleVote", evidence); err != nil {
					return Outcome{}, err
				}
				d.metrics.RecordRejected(string(RejectionDoubleVote))
				return Outcome{Kind: "Rejected", RejectionKind: RejectionDoubleVote}, nil
			}
			d.metrics.RecordAccepted("idempotent")
			return Outcome{Kind: "Idempotent", Value: v.Value}, nil
		}
	}

	// 4. Count increment — serialized per (tx_id, value) via the counter store.
	var newCount uint64
	if err := kv.WithRetry(ctx, func(ctx context.Context) error {
		n, err := d.store.IncrementCounter(ctx, kv.VoteCountKey(v.TxID, v.Value))
		newCount = n
		return err
	}); err != nil {
		return Outcome{}, fmt.Errorf("byzantine: increment_vote_count: %w", err)
	}

	// 5. Minority-vote check.
	counts, err := d.voteCounts(ctx, v.TxID)
	if err != nil {
		return Outcome{}, fmt.Errorf("byzantine: load vote counts: %w", err)
	}
	maxValue, maxCount := maxEntry(counts)
	if maxCount >= uint64(d.threshold) && v.Value != maxValue {
		evidence, _ := json.Marshal(minorityVoteEvidence{
			Counts: counts, MaxValue: maxValue, MaxCount: maxCount, Value: v.Value,
		})
		if err := d.banAndAbort(ctx, v.PeerID, v.NodeID, v.TxID, "MinorityVote", evidence); err != nil {
			return Outcome{}, err
		}
		d.metrics.RecordRejected(string(RejectionMinorityVote))
		return Outcome{Kind: "Rejected", RejectionKind: RejectionMinorityVote}, nil
	}

	// 6. Audit write.
	if err := d.audit.RecordVote(v.TxID, v.NodeID, v.PeerID, v.Value, v.Timestamp); err != nil {
		return Outcome{}, fmt.Errorf("byzantine: record_vote: %w", err)
	}
	if err := d.audit.UpdateNodeLastSeen(v.PeerID, time.Unix(v.Timestamp, 0)); err != nil {
		return Outcome{}, fmt.Errorf("byzantine: update_node_last_seen: %w", err)
	}

	// 7. Threshold check.
	if newCount >= uint64(d.threshold) {
		d.metrics.RecordThresholdReached()
		return Outcome{Kind: "ThresholdReached", Value: v.Value, Count: newCount}, nil
	}
	d.metrics.RecordAccepted("accepted")
	return Outcome{Kind: "Accepted", Count: newCount}, nil
}

// voteCounts loads every recorded (value -> count) pair for txID.
func (d *Detector) voteCounts(ctx context.Context, txID string) (map[uint64]uint64, error) {
	var entries []kv.Entry
	if err := kv.WithRetry(ctx, func(ctx context.Context) error {
		es, err := d.store.PrefixScan(ctx, kv.VoteCountPrefix(txID))
		entries = es
		return err
	}); err != nil {
		return nil, err
	}
	counts := make(map[uint64]uint64, len(entries))
	for _, e := range entries {
		value, count, err := parseVoteCountEntry(e, txID)
		if err != nil {
			continue
		}
		counts[value] = count
	}
	return counts, nil
}

func maxEntry(counts map[uint64]uint64) (value uint64, count uint64) {
	for v, c := range counts {
		if c > count {
			value, count = v, c
		}
	}
	return value, count
}

// ban records a standalone violation (no tx abort) and bans the peer, per
// §4.D's Ban procedure. Used for InvalidSignature, where the vote cannot be
// trusted to name a transaction worth aborting against any particular
// value.
func (d *Detector) ban(ctx context.Context, peerID, nodeID, txID, violationType string, evidence []byte) error {
	if err := d.audit.RecordByzantineViolation(audit.ByzantineViolation{
		PeerID: peerID, NodeID: nodeID, TxID: txID, ViolationType: violationType, Evidence: evidence,
	}); err != nil {
		return fmt.Errorf("byzantine: record violation: %w", err)
	}
	if err := kv.WithRetry(ctx, func(ctx context.Context) error {
		return d.store.Put(ctx, kv.BannedKey(peerID), evidence, 0)
	}); err != nil {
		return fmt.Errorf("byzantine: set banned key: %w", err)
	}
	d.metrics.RecordViolation(violationType, true)
	return nil
}

// banAndAbort performs ban and reports that the caller must additionally
// transition the transaction's FSM to AbortedByzantine (§4.D steps 3, 5;
// §4.E step 4). The FSM transition itself is the vote processor's
// responsibility, not the detector's, per the locking discipline of §4.E.
func (d *Detector) banAndAbort(ctx context.Context, peerID, nodeID, txID, violationType string, evidence []byte) error {
	return d.ban(ctx, peerID, nodeID, txID, violationType, evidence)
}
