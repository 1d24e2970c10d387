package byzantine

import (
	"context"
	"testing"

	"github.com/torcus-network/wallet-cluster/vote"
)

func TestProcessorTransitionsFSMOnThreshold(t *testing.T) {
	d, _, _ := newTestDetector(t, 2)
	p := NewProcessor(d)
	ctx := context.Background()

	v1 := signedVote(t, "p1", "p1", "T1", 7)
	if _, err := p.Submit(ctx, v1); err != nil {
		t.Fatalf("submit v1: %v", err)
	}
	if p.State("T1") != vote.Collecting {
		t.Fatalf("expected Collecting before threshold, got %s", p.State("T1"))
	}

	v2 := signedVote(t, "p2", "p2", "T1", 7)
	if _, err := p.Submit(ctx, v2); err != nil {
		t.Fatalf("submit v2: %v", err)
	}
	if p.State("T1") != vote.ThresholdReached {
		t.Fatalf("expected ThresholdReached, got %s", p.State("T1"))
	}
}

func TestProcessorAbortsOnDoubleVote(t *testing.T) {
	d, _, _ := newTestDetector(t, 4)
	p := NewProcessor(d)
	ctx := context.Background()

	key := mustPrivateKey(t)
	v1 := mustSign(t, key, "node-1", "peer-1", "T2", 1)
	if _, err := p.Submit(ctx, v1); err != nil {
		t.Fatalf("submit v1: %v", err)
	}

	v2 := mustSign(t, key, "node-1", "peer-1", "T2", 2)
	if _, err := p.Submit(ctx, v2); err != nil {
		t.Fatalf("submit v2: %v", err)
	}
	if p.State("T2") != vote.AbortedByzantine {
		t.Fatalf("expected AbortedByzantine, got %s", p.State("T2"))
	}
}

func TestProcessorRejectsVotesAfterTerminalState(t *testing.T) {
	d, _, _ := newTestDetector(t, 4)
	p := NewProcessor(d)
	ctx := context.Background()

	key := mustPrivateKey(t)
	mustSubmit(t, ctx, p, mustSign(t, key, "node-1", "peer-1", "T3", 1))
	mustSubmit(t, ctx, p, mustSign(t, key, "node-1", "peer-1", "T3", 2))

	v3 := signedVote(t, "node-2", "peer-2", "T3", 1)
	if _, err := p.Submit(ctx, v3); err != vote.ErrAlreadyProcessed {
		t.Fatalf("expected ErrAlreadyProcessed after abort, got %v", err)
	}
}
