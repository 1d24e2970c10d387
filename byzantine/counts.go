package byzantine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/torcus-network/wallet-cluster/kv"
)

// parseVoteCountEntry extracts the vote value encoded in e's key suffix
// (.../vote_counts/{tx_id}/{value}) and the count encoded in its value.
func parseVoteCountEntry(e kv.Entry, txID string) (value uint64, count uint64, err error) {
	prefix := kv.VoteCountPrefix(txID)
	suffix := strings.TrimPrefix(e.Key, prefix)
	if suffix == e.Key {
		return 0, 0, fmt.Errorf("byzantine: key %q missing prefix %q", e.Key, prefix)
	}
	value, err = strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("byzantine: parse vote value from key %q: %w", e.Key, err)
	}
	count, err = strconv.ParseUint(string(e.Value), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("byzantine: parse vote count from value: %w", err)
	}
	return value, count, nil
}
