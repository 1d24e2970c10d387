// Package mpc defines the black-box interfaces the Session Coordinator
// drives: the round-based state machines for CGGMP24 threshold-ECDSA
// presigning/signing and FROST threshold-Schnorr signing. Neither
// protocol's cryptographic math is implemented here — per the system's
// scope, these are pluggable external engines; this package only defines
// the shape the coordinator needs to drive them.
package mpc

import "fmt"

// Protocol identifies which external state machine a session runs.
type Protocol string

const (
	ProtocolCGGMP24Presign Protocol = "cggmp24-presign"
	ProtocolCGGMP24Sign    Protocol = "cggmp24-sign"
	ProtocolFROSTSign      Protocol = "frost-sign"
	ProtocolDKG            Protocol = "dkg"
)

// OutMessage is one message the state machine wants sent, either to a
// specific participant or broadcast to all.
type OutMessage struct {
	To      int // -1 means broadcast
	Payload []byte
}

// InMessage is one message arriving from another participant, tagged with
// the round it was produced for and a monotonic per-sender sequence number
// (§4.F ordering guarantees).
type InMessage struct {
	From    int
	Round   int
	Seq     uint64
	Payload []byte
}

// StepResult is what a state machine reports after consuming a round's
// inbound messages.
type StepResult struct {
	Done     bool
	Result   []byte
	Outbound []OutMessage
	// Critical, if true, means the round loop must abort the session
	// rather than continue (§4.F: "On protocol error deemed critical ->
	// Abort; non-critical -> log and continue").
	Critical bool
	Err      error
}

// StateMachine is the black-box round-driven protocol contract. Round 0's
// Outbound in the first StepResult (from Start) seeds the exchange;
// subsequent calls to Step feed that round's inbound messages and return
// the next round's outbound messages.
type StateMachine interface {
	// Start produces round 0's outbound messages.
	Start() (StepResult, error)

	// Step advances the machine by one round given its inbound messages,
	// already reordered within the machine's configured tolerance.
	Step(round int, inbound []InMessage) (StepResult, error)
}

// ErrUnknownProtocol is returned by a factory when asked to build a
// protocol it does not recognize.
var ErrUnknownProtocol = fmt.Errorf("mpc: unknown protocol")

// Factory constructs a fresh StateMachine for a session given its
// participant set and local party index. Concrete CGGMP24/FROST engines
// are wired in by the node's bootstrap, not by this package.
type Factory func(protocol Protocol, localParty int, participants []int, aux []byte) (StateMachine, error)
