package vote

import (
	"errors"
	"sync"
)

// ErrAlreadyProcessed is returned when a vote arrives for a transaction no
// longer in an accepting state (§4.E step 2, §7 FSM errors).
var ErrAlreadyProcessed = errors.New("vote: transaction already processed")

// Machine is one transaction's finite-state machine. Its lock is a short
// in-memory critical section only — storage locks belong to the detector,
// never to this struct (§4.E locking discipline).
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine creates a machine in the implicit initial Collecting state.
func NewMachine() *Machine {
	return &Machine{state: Collecting}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanAcceptVotes reports whether the machine will currently admit a vote.
func (m *Machine) CanAcceptVotes() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CanAcceptVotes()
}

// ReachThreshold moves the machine to ThresholdReached.
func (m *Machine) ReachThreshold() error {
	return m.apply(ThresholdReached)
}

// AbortByzantine moves the machine to AbortedByzantine from any
// non-terminal state, per the abort-states-are-terminal-from-anywhere rule.
func (m *Machine) AbortByzantine() error {
	return m.apply(AbortedByzantine)
}

// AbortTimeout moves the machine to AbortedTimeout.
func (m *Machine) AbortTimeout() error {
	return m.apply(AbortedTimeout)
}

// Advance moves the machine forward along the happy path (e.g.
// ThresholdReached -> Approved -> Signing -> Signed -> Confirmed).
func (m *Machine) Advance(to State) error {
	return m.apply(to)
}

func (m *Machine) apply(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Transition(m.state, to)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

// Registry is the per-node map of tx_id -> Machine, created lazily on first
// vote (§4.E). The registry lock only ever guards map access; per-machine
// locks are acquired separately so that unrelated transactions never
// serialize against each other (§5 concurrency model).
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

// NewRegistry constructs an empty FSM registry.
func NewRegistry() *Registry {
	return &Registry{machines: make(map[string]*Machine)}
}

// Acquire returns the Machine for txID, creating it in Collecting if this
// is the first vote seen for that transaction.
func (r *Registry) Acquire(txID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[txID]
	if !ok {
		m = NewMachine()
		r.machines[txID] = m
	}
	return m
}

// Forget removes a transaction's machine once it has been garbage
// collected from durable storage (§3 lifecycles).
func (r *Registry) Forget(txID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, txID)
}

// Peek returns the machine for txID without creating one, or nil.
func (r *Registry) Peek(txID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[txID]
}
