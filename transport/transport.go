// Package transport implements the §4.C message transport abstraction: a
// QUIC backend for node-to-node traffic and an HTTP-relay fallback behind
// one uniform interface, so the Session Coordinator never knows which one
// it is talking over. Connection lifecycle and per-peer failure isolation
// follow a peer-to-peer connection manager shape; the wire itself is QUIC
// rather than raw TCP gossip.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrAllPeersFailed is returned by Broadcast when every peer send failed;
// per §4.C, a single peer failure never fails a broadcast on its own.
var ErrAllPeersFailed = errors.New("transport: send failed to all peers")

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("transport: closed")

// Envelope is one message exchanged between nodes, scoped to a session and
// tagged with the protocol phase it belongs to (used to pick the QUIC
// stream-id band, and ignored by the HTTP relay beyond its message-type tag).
type Envelope struct {
	SessionID string
	Sender    int
	Phase     Phase
	Payload   []byte
}

// Phase partitions protocol traffic onto the four stream-id bands of §4.C:
// control (0-99), DKG rounds (100-999), signing rounds (1000-9999), and
// presignature generation (10 000+).
type Phase int

const (
	PhaseControl Phase = iota
	PhaseDKG
	PhaseSigning
	PhasePresignature
)

// Transport is the uniform interface the Session Coordinator and control
// protocol are built against (§4.C).
type Transport interface {
	// Send delivers env to a single peer, identified by party index.
	Send(ctx context.Context, partyIndex int, env Envelope) error

	// Broadcast delivers env to every known peer. It fails only if every
	// peer send fails (§4.C failure semantics).
	Broadcast(ctx context.Context, env Envelope) error

	// Poll blocks until a message arrives for sessionID or ctx is
	// cancelled, returning the next envelope in arrival order.
	Poll(ctx context.Context, sessionID string) (Envelope, error)

	// NotifyControl delivers a control-phase message out of band from a
	// session's round loop (proposal/ack/abort traffic).
	NotifyControl(ctx context.Context, partyIndex int, env Envelope) error

	// Close releases transport resources (listeners, connections,
	// goroutines).
	Close() error
}

// Deadline pairs a session with the time after which its messages are
// stale. Neither backend drops messages by deadline on its own; the
// inbox's dropExpired removes them only when called, and nothing in this
// package calls it.
type Deadline struct {
	SessionID string
	ExpiresAt time.Time
}
