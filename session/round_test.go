package session

import (
	"context"
	"testing"
	"time"

	"github.com/torcus-network/wallet-cluster/mpc"
)

// echoMachine is a two-round fake state machine: round 0 sends "hello" to
// the other party, then completes once it has heard back.
type echoMachine struct {
	localParty int
	peer       int
	heard      bool
}

func (m *echoMachine) Start() (mpc.StepResult, error) {
	return mpc.StepResult{Outbound: []mpc.OutMessage{{To: m.peer, Payload: []byte("hello")}}}, nil
}

func (m *echoMachine) Step(round int, inbound []mpc.InMessage) (mpc.StepResult, error) {
	if len(inbound) == 0 {
		return mpc.StepResult{}, nil
	}
	return mpc.StepResult{Done: true, Result: []byte("done")}, nil
}

func TestRunRoundsCompletesTwoPartySession(t *testing.T) {
	net := newFakeNetwork([]int{1, 2})
	coord1 := NewCoordinator(1, net[1], 10*time.Second)
	coord2 := NewCoordinator(2, net[2], 10*time.Second)

	s1 := &Session{ID: "sess-z", Participants: []int{1, 2}, LocalParty: 1, status: StatusInProgress, acks: map[int]AckDecision{}, cancel: func() {}}
	s2 := &Session{ID: "sess-z", Participants: []int{1, 2}, LocalParty: 2, status: StatusInProgress, acks: map[int]AckDecision{}, cancel: func() {}}
	coord1.mu.Lock()
	coord1.sessions[s1.ID] = s1
	coord1.mu.Unlock()
	coord2.mu.Lock()
	coord2.sessions[s2.ID] = s2
	coord2.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan []byte, 2)
	errs := make(chan error, 2)
	go func() {
		r, err := coord1.RunRounds(ctx, s1, &echoMachine{localParty: 1, peer: 2})
		results <- r
		errs <- err
	}()
	go func() {
		r, err := coord2.RunRounds(ctx, s2, &echoMachine{localParty: 2, peer: 1})
		results <- r
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("run rounds: %v", err)
		}
		if string(<-results) != "done" {
			t.Fatal("expected both parties to complete")
		}
	}

	if s1.Status() != StatusCompleted || s2.Status() != StatusCompleted {
		t.Fatalf("expected both sessions completed, got %s / %s", s1.Status(), s2.Status())
	}
}
