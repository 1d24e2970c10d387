package mpc

import "sort"

// ReorderBuffer tolerates out-of-order seq delivery from a single sender up
// to a bounded window, per §4.F: "tolerating out-of-order seq up to a
// bounded reorder window." Messages within the same (session, sender,
// stream_id) must be delivered in seq order to the state machine; this
// buffer enforces that per-sender ordering while holding back at most
// window messages waiting for a gap to fill.
type ReorderBuffer struct {
	window  int
	next    map[int]uint64
	pending map[int]map[uint64]InMessage
}

// NewReorderBuffer creates a buffer tolerating up to window out-of-order
// messages per sender before force-flushing the oldest held message.
func NewReorderBuffer(window int) *ReorderBuffer {
	if window <= 0 {
		window = 8
	}
	return &ReorderBuffer{
		window:  window,
		next:    make(map[int]uint64),
		pending: make(map[int]map[uint64]InMessage),
	}
}

// Admit feeds one inbound message and returns every message now ready for
// in-order delivery to the state machine (possibly none, possibly several
// if a gap was just filled).
func (b *ReorderBuffer) Admit(msg InMessage) []InMessage {
	expected := b.next[msg.From]
	bucket, ok := b.pending[msg.From]
	if !ok {
		bucket = make(map[uint64]InMessage)
		b.pending[msg.From] = bucket
	}

	if msg.Seq < expected {
		return nil // stale duplicate, drop
	}
	bucket[msg.Seq] = msg

	if msg.Seq > expected && len(bucket) > b.window {
		// Force-advance: the gap has outlived the tolerance window, so skip
		// ahead to the oldest held message.
		expected = msg.Seq
		for seq := range bucket {
			if seq < expected {
				expected = seq
			}
		}
	}

	ready := make([]InMessage, 0, len(bucket))
	for {
		m, ok := bucket[expected]
		if !ok {
			break
		}
		ready = append(ready, m)
		delete(bucket, expected)
		expected++
	}
	b.next[msg.From] = expected

	sort.Slice(ready, func(i, j int) bool { return ready[i].Seq < ready[j].Seq })
	return ready
}
