package byzantine

import (
	"context"
	"testing"
	"time"

	"github.com/torcus-network/wallet-cluster/crypto"
	"github.com/torcus-network/wallet-cluster/vote"
)

func mustPrivateKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func mustSign(t *testing.T, key *crypto.PrivateKey, nodeID, peerID, txID string, value uint64) *vote.Vote {
	t.Helper()
	v, err := vote.Sign(key, nodeID, peerID, txID, value, time.Now())
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	return v
}

func mustSubmit(t *testing.T, ctx context.Context, p *Processor, v *vote.Vote) {
	t.Helper()
	if _, err := p.Submit(ctx, v); err != nil && err != ErrNodeBanned {
		t.Fatalf("submit vote: %v", err)
	}
}
