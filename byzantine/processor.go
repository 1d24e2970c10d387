package byzantine

import (
	"context"
	"fmt"

	"github.com/torcus-network/wallet-cluster/vote"
)

// ErrNodeBanned is returned when check_vote rejects a vote because its peer
// is already on the ban list (§4.D step 1 — not itself a violation).
var ErrNodeBanned = fmt.Errorf("byzantine: peer is banned")

// Processor owns the per-transaction FSM registry and drives it from
// Detector outcomes, per §4.E. It never holds an FSM lock across the
// Detector's storage I/O.
type Processor struct {
	detector *Detector
	machines *vote.Registry
}

// NewProcessor builds a vote Processor over the given Detector.
func NewProcessor(detector *Detector) *Processor {
	return &Processor{detector: detector, machines: vote.NewRegistry()}
}

// Submit runs §4.E's per-request flow: acquire the FSM, reject votes for
// transactions no longer accepting them, release the FSM lock before
// calling the detector, then map the detector's outcome back onto the FSM.
func (p *Processor) Submit(ctx context.Context, v *vote.Vote) (Outcome, error) {
	machine := p.machines.Acquire(v.TxID)
	if !machine.CanAcceptVotes() {
		return Outcome{}, vote.ErrAlreadyProcessed
	}

	outcome, err := p.detector.CheckVote(ctx, v)
	if err != nil {
		return Outcome{}, err
	}

	switch outcome.Kind {
	case "ThresholdReached":
		if err := machine.ReachThreshold(); err != nil {
			return outcome, fmt.Errorf("byzantine: apply threshold transition: %w", err)
		}
	case "Rejected":
		if outcome.RejectionKind == RejectionNodeBanned {
			return outcome, ErrNodeBanned
		}
		if err := machine.AbortByzantine(); err != nil {
			return outcome, fmt.Errorf("byzantine: apply abort transition: %w", err)
		}
	}
	return outcome, nil
}

// State returns the current FSM state for a transaction, or the implicit
// Collecting state if no vote has been seen for it yet.
func (p *Processor) State(txID string) vote.State {
	if m := p.machines.Peek(txID); m != nil {
		return m.State()
	}
	return vote.Collecting
}

// Forget drops a transaction's in-memory FSM once it has been garbage
// collected from durable storage.
func (p *Processor) Forget(txID string) {
	p.machines.Forget(txID)
}
