package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/torcus-network/wallet-cluster/transport"
)

// fakeTransport is a minimal in-process transport for testing the round
// loop and control protocol without real network I/O.
type fakeTransport struct {
	mu    sync.Mutex
	peers map[int]*fakeTransport
	id    int
	boxes map[string][]transport.Envelope
	cond  *sync.Cond
}

func newFakeNetwork(ids []int) map[int]*fakeTransport {
	net := make(map[int]*fakeTransport, len(ids))
	for _, id := range ids {
		ft := &fakeTransport{id: id, peers: make(map[int]*fakeTransport), boxes: make(map[string][]transport.Envelope)}
		ft.cond = sync.NewCond(&ft.mu)
		net[id] = ft
	}
	for _, a := range net {
		for id, b := range net {
			if id != a.id {
				a.peers[id] = b
			}
		}
	}
	return net
}

func (f *fakeTransport) Send(ctx context.Context, partyIndex int, env transport.Envelope) error {
	peer := f.peers[partyIndex]
	if peer == nil {
		return nil
	}
	env.Sender = f.id
	peer.mu.Lock()
	peer.boxes[env.SessionID] = append(peer.boxes[env.SessionID], env)
	peer.cond.Broadcast()
	peer.mu.Unlock()
	return nil
}

func (f *fakeTransport) Broadcast(ctx context.Context, env transport.Envelope) error {
	for id := range f.peers {
		_ = f.Send(ctx, id, env)
	}
	return nil
}

func (f *fakeTransport) Poll(ctx context.Context, sessionID string) (transport.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.boxes[sessionID]) == 0 {
		select {
		case <-ctx.Done():
			return transport.Envelope{}, ctx.Err()
		default:
		}
		f.cond.Wait()
	}
	env := f.boxes[sessionID][0]
	f.boxes[sessionID] = f.boxes[sessionID][1:]
	return env, nil
}

func (f *fakeTransport) NotifyControl(ctx context.Context, partyIndex int, env transport.Envelope) error {
	return f.Send(ctx, partyIndex, env)
}

func (f *fakeTransport) Close() error { return nil }

func TestSelectInitiatorPicksLowestLive(t *testing.T) {
	initiator, ok := SelectInitiator([]int{3, 1, 2}, func(p int) bool { return p != 1 })
	if !ok || initiator != 2 {
		t.Fatalf("expected lowest live party 2, got %d ok=%v", initiator, ok)
	}
}

func TestSelectInitiatorNoneLive(t *testing.T) {
	_, ok := SelectInitiator([]int{1, 2}, func(int) bool { return false })
	if ok {
		t.Fatal("expected no live initiator")
	}
}

func TestHandleAckEmitsStartAtThreshold(t *testing.T) {
	net := newFakeNetwork([]int{1, 2, 3})
	coord := NewCoordinator(1, net[1], 10*time.Second)

	s := &Session{
		ID: "sess-x", Protocol: "frost-sign", InitiatorParty: 1,
		Participants: []int{1, 2, 3}, LocalParty: 1, status: StatusProposed,
		acks: map[int]AckDecision{1: AckAccept}, cancel: func() {},
	}
	coord.mu.Lock()
	coord.sessions[s.ID] = s
	coord.mu.Unlock()

	if err := coord.HandleAck(context.Background(), s.ID, 2, AckAccept, 2); err != nil {
		t.Fatalf("handle ack: %v", err)
	}
	if s.Status() != StatusInProgress {
		t.Fatalf("expected InProgress after threshold reached, got %s", s.Status())
	}
}

func TestAbortTransitionsAndPreventsDoubleAbort(t *testing.T) {
	net := newFakeNetwork([]int{1, 2})
	coord := NewCoordinator(1, net[1], 10*time.Second)

	cancelled := false
	s := &Session{
		ID: "sess-y", Participants: []int{1, 2}, LocalParty: 1, status: StatusProposed,
		acks: map[int]AckDecision{1: AckAccept}, cancel: func() { cancelled = true },
	}
	coord.mu.Lock()
	coord.sessions[s.ID] = s
	coord.mu.Unlock()

	if err := coord.Abort(context.Background(), s.ID, "test"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancel to be invoked")
	}
	if s.Status() != StatusAborted {
		t.Fatalf("expected Aborted, got %s", s.Status())
	}
	if err := coord.Abort(context.Background(), s.ID, "again"); err != nil {
		t.Fatalf("second abort should be a no-op, got %v", err)
	}
}
