package vote

import "fmt"

// State is a transaction's position in the finite-state machine of §3.
// Collecting is the implicit initial state: no row exists in the
// Coordination KV until the first vote arrives.
type State string

const (
	Collecting       State = "Collecting"
	Voting           State = "Voting"
	ThresholdReached State = "ThresholdReached"
	Approved         State = "Approved"
	Signing          State = "Signing"
	Signed           State = "Signed"
	Confirmed        State = "Confirmed"
	AbortedByzantine State = "AbortedByzantine"
	AbortedTimeout   State = "AbortedTimeout"
	Failed           State = "Failed"
)

// terminal states are monotonic dead ends: once reached, no further
// transition is permitted.
var terminal = map[State]bool{
	Confirmed:        true,
	AbortedByzantine: true,
	AbortedTimeout:   true,
	Failed:           true,
}

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	return terminal[s]
}

// order encodes the total order transitions must respect on the happy
// path; abort states are reachable from any non-terminal state instead of
// only from their position in this list.
var order = []State{
	Collecting, Voting, ThresholdReached, Approved, Signing, Signed, Confirmed,
}

func rank(s State) int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

// CanAcceptVotes reports whether new votes may still be recorded against a
// transaction in this state — true only for Collecting and Voting (§4.E).
func (s State) CanAcceptVotes() bool {
	return s == Collecting || s == Voting
}

// ValidTransition reports whether moving from `from` to `to` is legal: a
// forward step along the happy-path order, or a move to any abort/Failed
// state from a non-terminal state.
func ValidTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == AbortedByzantine || to == AbortedTimeout || to == Failed {
		return true
	}
	fr, tr := rank(from), rank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	return tr == fr+1 || (from == Collecting && to == ThresholdReached)
}

// Transition validates and returns the new state, or an error describing
// why the move is illegal.
func Transition(from, to State) (State, error) {
	if !ValidTransition(from, to) {
		return from, fmt.Errorf("vote: invalid transition %s -> %s", from, to)
	}
	return to, nil
}
