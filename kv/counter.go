package kv

import (
	"context"
	"strconv"
)

// CounterStore is implemented by Store backends that can atomically
// increment a textual integer counter. The Byzantine detector's vote-count
// increment (§4.D step 4) MUST be serializable per (tx_id, value) key; a
// naive get-then-put from the caller races under concurrent submissions,
// which is the exact defect §4.D and §9 call out in the source this system
// reimplements. Both backends provide this natively because each already
// serializes all key access behind a single mutex.
type CounterStore interface {
	Store
	IncrementCounter(ctx context.Context, key string) (uint64, error)
}

func parseCounter(raw []byte, ok bool) uint64 {
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
