package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPRelaySendAndPoll(t *testing.T) {
	relay := NewRelayServer([]int{1, 2, 3})
	server := httptest.NewServer(relay.Router())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewHTTPRelayClient(ctx, 1, server.URL)
	defer sender.Close()

	if err := sender.Send(context.Background(), 2, Envelope{SessionID: "sess-1", Payload: []byte("hello")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	receiver := NewHTTPRelayClient(ctx, 2, server.URL)
	defer receiver.Close()

	deadline, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	env, err := receiver.Poll(deadline, "sess-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if string(env.Payload) != "hello" || env.Sender != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHTTPRelayBroadcastFailsOnlyIfAllPeersFail(t *testing.T) {
	relay := NewRelayServer([]int{1, 2})
	server := httptest.NewServer(relay.Router())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewHTTPRelayClient(ctx, 1, server.URL)
	defer sender.Close()

	if err := sender.Broadcast(context.Background(), Envelope{SessionID: "sess-2", Payload: []byte("bcast")}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
}

func TestHTTPRelayAuxInfoComplete(t *testing.T) {
	relay := NewRelayServer([]int{1, 2, 3})
	server := httptest.NewServer(relay.Router())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node1 := NewHTTPRelayClient(ctx, 1, server.URL)
	defer node1.Close()
	node2 := NewHTTPRelayClient(ctx, 2, server.URL)
	defer node2.Close()

	if err := node1.NotifyAuxInfoComplete(context.Background(), "sess-aux"); err != nil {
		t.Fatalf("notify aux-info complete: %v", err)
	}
	if err := node2.NotifyAuxInfoComplete(context.Background(), "sess-aux"); err != nil {
		t.Fatalf("notify aux-info complete: %v", err)
	}
	if n := relay.AuxInfoCompleteCount("sess-aux"); n != 2 {
		t.Fatalf("expected 2 parties reporting aux-info complete, got %d", n)
	}
}
