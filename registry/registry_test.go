package registry

import (
	"testing"
	"time"
)

func TestRegisterYieldsCertTokenOnceThenIdempotentReauth(t *testing.T) {
	r := New("secret")
	defer r.Close()

	interval, token, first, err := r.Register("secret", "node-0", 0, "10.0.0.1:4001", 4001, []string{"sign"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !first || token == "" {
		t.Fatal("expected cert token on first registration")
	}
	if interval != DefaultHeartbeatInterval {
		t.Fatalf("expected default heartbeat interval, got %v", interval)
	}

	_, token2, first2, err := r.Register("secret", "node-0", 0, "10.0.0.1:4001", 4001, []string{"sign"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if first2 {
		t.Fatal("expected re-registration to not be marked first-time")
	}
	if token2 != "" {
		t.Fatal("expected no new cert token on re-registration")
	}
	_ = token
}

func TestRegisterRejectsBadPSK(t *testing.T) {
	r := New("secret")
	defer r.Close()

	_, _, _, err := r.Register("wrong", "node-0", 0, "10.0.0.1:4001", 4001, nil)
	if err != ErrBadPSK {
		t.Fatalf("expected ErrBadPSK, got %v", err)
	}
}

func TestHeartbeatRejectsBadTokenAndUnknownNode(t *testing.T) {
	r := New("secret")
	defer r.Close()

	_, token, _, err := r.Register("secret", "node-0", 0, "10.0.0.1:4001", 4001, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := r.Heartbeat("bad-token", "node-0", 0, nil); err != ErrBadCertToken {
		t.Fatalf("expected ErrBadCertToken, got %v", err)
	}
	if _, _, err := r.Heartbeat(token, "node-9", 9, nil); err != ErrUnknownNode {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}

	score, nodes, err := r.Heartbeat(token, "node-0", 0, []string{"sign"})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if score != 1.0 {
		t.Fatalf("expected perfect health score, got %f", score)
	}
	if len(nodes) != 1 || !nodes[0].IsOnline {
		t.Fatalf("expected one online node, got %+v", nodes)
	}
}

func TestHealthCheckMarksNodeOfflineAfterMissedHeartbeats(t *testing.T) {
	r := New("secret")
	defer r.Close()
	r.heartbeatInterval = 10 * time.Millisecond
	r.missThreshold = 2

	if _, _, _, err := r.Register("secret", "node-0", 0, "10.0.0.1:4001", 4001, nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < r.missThreshold; i++ {
		time.Sleep(15 * time.Millisecond)
		r.sweep()
	}

	if r.IsLive(0) {
		t.Fatal("expected node marked offline after consecutive missed heartbeats")
	}
}
