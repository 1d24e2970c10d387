// Package session implements the Session Coordinator of §4.F: the control
// protocol that brings a set of participants from Proposal through a
// round-driven protocol run to completion or abort. Its round-driving
// shape — per-round drain/poll/dispatch with a cooperative cancel check —
// follows the same pattern as the cluster's consensus round loop, adapted
// from a block-height/round state machine to a session_id-keyed one.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/torcus-network/wallet-cluster/grant"
	"github.com/torcus-network/wallet-cluster/observability"
	"github.com/torcus-network/wallet-cluster/transport"
)

// Status is a session's lifecycle state (§4.F).
type Status string

const (
	StatusProposed   Status = "Proposed"
	StatusStarting   Status = "Starting"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusAborted    Status = "Aborted"
)

// ControlKind is one of the four control-protocol message kinds (§4.F).
type ControlKind string

const (
	ControlProposal ControlKind = "Proposal"
	ControlAck      ControlKind = "Ack"
	ControlStart    ControlKind = "Start"
	ControlAbort    ControlKind = "Abort"
)

// AckDecision is the participant's response to a Proposal.
type AckDecision string

const (
	AckAccept AckDecision = "accept"
	AckReject AckDecision = "reject"
)

// ControlMessage is the payload carried on control streams.
type ControlMessage struct {
	Kind           ControlKind `json:"kind"`
	SessionID      string      `json:"session_id"`
	InitiatorParty int         `json:"initiator_party"`
	Participants   []int       `json:"participants"`
	Protocol       string      `json:"protocol"`
	AckDecision    AckDecision `json:"ack_decision,omitempty"`
	AckFrom        int         `json:"ack_from,omitempty"`
	RejectReason   string      `json:"reject_reason,omitempty"`
	AbortReason    string      `json:"abort_reason,omitempty"`
}

// DefaultProposalTimeout is the §4.F / §5 default proposal-ack deadline.
const DefaultProposalTimeout = 10 * time.Second

// ReplayWindow is how long an entry in the coordinator's replay map stays
// valid (§4.F Replay protection): max(grant_validity, 1h). No code in this
// package writes that map, so a re-proposed session_id is answered from the
// session table, which keeps every session for the coordinator's lifetime.
const ReplayWindow = time.Hour

// Session is one in-flight or completed MPC session.
type Session struct {
	ID             string
	Protocol       string
	InitiatorParty int
	Participants   []int
	LocalParty     int

	mu       sync.RWMutex
	status   Status
	acks     map[int]AckDecision
	cancel   context.CancelFunc
	result   []byte
	abortErr error
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Coordinator drives sessions from proposal through termination, per §4.F.
// The per-node session registry is guarded by a reader-writer lock whose
// writers only ever touch quick metadata updates, never I/O (§5).
type Coordinator struct {
	localParty      int
	transport       transport.Transport
	proposalTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	replay   map[string]cachedOutcome

	metrics interface {
		RecordProposed(string)
		RecordCompleted(string)
		RecordAborted(string)
		ObserveRound(string, time.Duration)
	}
}

type cachedOutcome struct {
	ack       AckDecision
	reason    string
	expiresAt time.Time
}

// NewCoordinator builds a Session Coordinator for localParty over t.
func NewCoordinator(localParty int, t transport.Transport, proposalTimeout time.Duration) *Coordinator {
	if proposalTimeout <= 0 {
		proposalTimeout = DefaultProposalTimeout
	}
	return &Coordinator{
		localParty:      localParty,
		transport:       t,
		proposalTimeout: proposalTimeout,
		sessions:        make(map[string]*Session),
		replay:          make(map[string]cachedOutcome),
		metrics:         observability.SessionMetrics(),
	}
}

// SelectInitiator returns the lowest live party index among participants,
// per §4.F's deterministic initiator-selection rule.
func SelectInitiator(participants []int, isLive func(int) bool) (int, bool) {
	sorted := append([]int(nil), participants...)
	sort.Ints(sorted)
	for _, p := range sorted {
		if isLive == nil || isLive(p) {
			return p, true
		}
	}
	return 0, false
}

// ProposeSession opens a new session as initiator and sends Proposal to the
// other participants. The local party must be the lowest-indexed participant
// in the grant; liveness is not consulted here, and the grant itself is not
// validated. A session_id that already has a session is answered with that
// session instead of a new proposal (§4.F replay protection).
func (c *Coordinator) ProposeSession(ctx context.Context, g *grant.Grant, protocol string) (*Session, error) {
	sessionID := grant.SessionID(g)

	c.mu.Lock()
	if cached, ok := c.replay[sessionID]; ok && time.Now().Before(cached.expiresAt) {
		c.mu.Unlock()
		if cached.ack == AckReject {
			return nil, fmt.Errorf("session: replayed proposal rejected: %s", cached.reason)
		}
		if existing, ok := c.sessions[sessionID]; ok {
			return existing, nil
		}
	}
	if _, exists := c.sessions[sessionID]; exists {
		s := c.sessions[sessionID]
		c.mu.Unlock()
		return s, nil
	}

	initiator, ok := SelectInitiator(g.Participants, nil)
	if !ok || initiator != c.localParty {
		c.mu.Unlock()
		return nil, fmt.Errorf("session: local party %d is not the selected initiator", c.localParty)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:             sessionID,
		Protocol:       protocol,
		InitiatorParty: initiator,
		Participants:   append([]int(nil), g.Participants...),
		LocalParty:     c.localParty,
		status:         StatusProposed,
		acks:           map[int]AckDecision{initiator: AckAccept},
		cancel:         cancel,
	}
	c.sessions[sessionID] = s
	c.mu.Unlock()

	c.metrics.RecordProposed(protocol)

	msg := ControlMessage{
		Kind: ControlProposal, SessionID: sessionID, InitiatorParty: initiator,
		Participants: s.Participants, Protocol: protocol,
	}
	payload, err := encodeControl(msg)
	if err != nil {
		return nil, err
	}
	for _, p := range s.Participants {
		if p == c.localParty {
			continue
		}
		_ = c.transport.NotifyControl(ctx, p, transport.Envelope{SessionID: sessionID, Phase: transport.PhaseControl, Payload: payload})
	}

	go c.runProposalTimeout(sessCtx, s)
	return s, nil
}

// ProposeInternal opens a session for cluster-internal maintenance work —
// presignature pregeneration — that carries no per-transaction grant: the
// protocol and stream range (§4.C's 10 000+ band) authorize it instead of a
// wallet-scoped grant. sessionID must already be agreed by every
// participant (deterministic from the participant set), so no Proposal/Ack
// round trip is needed before the round loop starts.
func (c *Coordinator) ProposeInternal(sessionID, protocol string, participants []int) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, exists := c.sessions[sessionID]; exists {
		return s, nil
	}
	_, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           sessionID,
		Protocol:     protocol,
		Participants: append([]int(nil), participants...),
		LocalParty:   c.localParty,
		status:       StatusInProgress,
		acks:         map[int]AckDecision{},
		cancel:       cancel,
	}
	c.sessions[sessionID] = s
	c.metrics.RecordProposed(protocol)
	return s, nil
}

func (c *Coordinator) runProposalTimeout(ctx context.Context, s *Session) {
	timer := time.NewTimer(c.proposalTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.mu.RLock()
		accepts := countAccepts(s)
		c.mu.RUnlock()
		threshold := len(s.Participants)/2 + 1
		if accepts < threshold && s.Status() == StatusProposed {
			c.Abort(context.Background(), s.ID, "proposal timeout")
		}
	case <-ctx.Done():
	}
}

func countAccepts(s *Session) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ack := range s.acks {
		if ack == AckAccept {
			n++
		}
	}
	return n
}

// HandleAck records an Ack from a participant and, once threshold accepts
// are reached, emits Start to every ack'd participant (§4.F).
func (c *Coordinator) HandleAck(ctx context.Context, sessionID string, from int, decision AckDecision, threshold int) error {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}

	s.mu.Lock()
	s.acks[from] = decision
	accepts := 0
	acked := make([]int, 0, len(s.acks))
	for p, d := range s.acks {
		if d == AckAccept {
			accepts++
			acked = append(acked, p)
		}
	}
	alreadyStarted := s.status != StatusProposed
	s.mu.Unlock()

	if alreadyStarted || accepts < threshold {
		return nil
	}

	s.setStatus(StatusStarting)
	msg := ControlMessage{Kind: ControlStart, SessionID: sessionID, Participants: acked}
	payload, err := encodeControl(msg)
	if err != nil {
		return err
	}
	for _, p := range acked {
		if p == c.localParty {
			continue
		}
		_ = c.transport.NotifyControl(ctx, p, transport.Envelope{SessionID: sessionID, Phase: transport.PhaseControl, Payload: payload})
	}
	s.setStatus(StatusInProgress)
	return nil
}

// Abort transitions a session to Aborted, cancels its round loop, and
// best-effort broadcasts Abort to the other participants (§4.F, §5).
func (c *Coordinator) Abort(ctx context.Context, sessionID, reason string) error {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}

	s.mu.Lock()
	if s.status == StatusAborted || s.status == StatusCompleted {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusAborted
	s.abortErr = fmt.Errorf("session: aborted: %s", reason)
	cancel := s.cancel
	participants := append([]int(nil), s.Participants...)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.metrics.RecordAborted(reason)

	msg := ControlMessage{Kind: ControlAbort, SessionID: sessionID, AbortReason: reason}
	payload, err := encodeControl(msg)
	if err == nil {
		for _, p := range participants {
			if p == c.localParty {
				continue
			}
			_ = c.transport.NotifyControl(ctx, p, transport.Envelope{SessionID: sessionID, Phase: transport.PhaseControl, Payload: payload})
		}
	}
	return nil
}

// Get returns the session for an id, or nil.
func (c *Coordinator) Get(sessionID string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[sessionID]
}

// Complete marks a session completed with its protocol result, freeing it
// from any further round processing.
func (c *Coordinator) Complete(sessionID string, result []byte) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.status = StatusCompleted
	s.result = result
	if s.cancel != nil {
		s.cancel()
	}
	protocol := s.Protocol
	s.mu.Unlock()
	c.metrics.RecordCompleted(protocol)
}
