// Package vote defines the Vote artifact and the per-transaction state
// machine that the Byzantine detector drives (§3, §4.E).
package vote

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/torcus-network/wallet-cluster/crypto"
)

// Vote is a single node's signed ballot on a transaction, per §3. The
// signed payload is "{tx_id}||{value}" — deliberately minimal, since the
// detector's evidence blobs carry the rest (§9 evidence minimization).
type Vote struct {
	TxID      string `json:"tx_id"`
	NodeID    string `json:"node_id"`
	PeerID    string `json:"peer_id"`
	Value     uint64 `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

// SignablePayload returns the exact bytes a vote's signature covers.
func SignablePayload(txID string, value uint64) []byte {
	return []byte(fmt.Sprintf("%s||%d", txID, value))
}

// Sign produces a new, signed Vote.
func Sign(key *crypto.PrivateKey, nodeID, peerID, txID string, value uint64, now time.Time) (*Vote, error) {
	payload := SignablePayload(txID, value)
	sig, err := key.Sign(hash(payload))
	if err != nil {
		return nil, fmt.Errorf("vote: sign: %w", err)
	}
	return &Vote{
		TxID:      txID,
		NodeID:    nodeID,
		PeerID:    peerID,
		Value:     value,
		Timestamp: now.Unix(),
		Signature: sig,
		PublicKey: key.PubKey().Bytes(),
	}, nil
}

// Verify checks a vote's signature against its own embedded public key.
// The caller is responsible for deciding whether that public key is the
// one expected for PeerID/NodeID — the detector does this at step 2.
func (v *Vote) Verify() bool {
	if v == nil || len(v.PublicKey) == 0 {
		return false
	}
	pub, err := crypto.PublicKeyFromBytes(v.PublicKey)
	if err != nil {
		return false
	}
	payload := SignablePayload(v.TxID, v.Value)
	return crypto.VerifySignature(pub, hash(payload), v.Signature)
}

// hash is the digest function votes are signed over. secp256k1 signing
// requires a fixed-size digest, so the payload is hashed the same way the
// consensus engine's proposal and vote signing does.
func hash(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}
