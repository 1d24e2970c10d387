package kv

import "fmt"

// Key builders for the flat path namespace of §4.A. Centralising these
// avoids format-string drift between the vote processor, the detector, and
// the audit sweepers that all share this namespace.

func VoteCountKey(txID string, value uint64) string {
	return fmt.Sprintf("/vote_counts/%s/%d", txID, value)
}

func VoteCountPrefix(txID string) string {
	return fmt.Sprintf("/vote_counts/%s/", txID)
}

func VoteKey(txID, nodeID string) string {
	return fmt.Sprintf("/votes/%s/%s", txID, nodeID)
}

func VotePrefix(txID string) string {
	return fmt.Sprintf("/votes/%s/", txID)
}

func TransactionStatusKey(txID string) string {
	return fmt.Sprintf("/transaction_status/%s", txID)
}

func SubmissionLockKey(txID string) string {
	return fmt.Sprintf("/locks/submission/%s", txID)
}

func BannedKey(peerID string) string {
	return fmt.Sprintf("/banned/%s", peerID)
}

const (
	ConfigThresholdKey  = "/config/threshold"
	ConfigTotalNodesKey = "/config/total_nodes"
)

// SessionReplayKey namespaces replay-protection records for proposed
// session ids (§4.B, §4.F replay protection).
func SessionReplayKey(sessionID string) string {
	return fmt.Sprintf("/sessions/replay/%s", sessionID)
}
