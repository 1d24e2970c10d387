package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize is the wire-format cap named in §4.C: stream_id || len ||
// payload, len bounded at 16MiB so a malicious or buggy peer cannot force
// unbounded buffering.
const maxFrameSize = 16 * 1024 * 1024

// writeFrame writes one stream_id (u64 big-endian) || len (u32 big-endian)
// || payload frame to w, per §4.C's wire framing.
func writeFrame(w io.Writer, streamID uint64, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("transport: frame payload %d exceeds %d byte cap", len(payload), maxFrameSize)
	}
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[0:8], streamID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one stream_id || len || payload frame from r.
func readFrame(r io.Reader) (streamID uint64, payload []byte, err error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	streamID = binary.BigEndian.Uint64(header[0:8])
	size := binary.BigEndian.Uint32(header[8:12])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("transport: frame declares %d bytes, exceeds %d byte cap", size, maxFrameSize)
	}
	if size == 0 {
		return streamID, nil, nil
	}
	payload = make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("transport: read frame payload: %w", err)
	}
	return streamID, payload, nil
}

// StreamRange is one of the four disjoint stream-id bands of §4.C. End is
// ^uint64(0) for the open-ended presignature-generation band.
type StreamRange struct {
	Start uint64
	End   uint64
}

func (r StreamRange) contains(id uint64) bool {
	return id >= r.Start && id <= r.End
}

var phaseRanges = map[Phase]StreamRange{
	PhaseControl:      {Start: 0, End: 99},
	PhaseDKG:          {Start: 100, End: 999},
	PhaseSigning:      {Start: 1000, End: 9999},
	PhasePresignature: {Start: 10_000, End: ^uint64(0)},
}

func rangeFor(p Phase) StreamRange {
	r, ok := phaseRanges[p]
	if !ok {
		return phaseRanges[PhaseControl]
	}
	return r
}

// ErrInvalidStreamID reports a stream id that falls outside its declared
// message type's band.
type ErrInvalidStreamID struct {
	StreamID uint64
	Phase    Phase
	Reason   string
}

func (e *ErrInvalidStreamID) Error() string {
	return fmt.Sprintf("transport: stream id %d invalid for phase %d: %s", e.StreamID, e.Phase, e.Reason)
}

// ValidateStreamID rejects a stream id that lies outside the band its
// claimed phase declares (§4.C: "a stream ID outside its declared range for
// its message type is an invariant violation and MUST be rejected before
// decoding").
func ValidateStreamID(streamID uint64, phase Phase) error {
	r, ok := phaseRanges[phase]
	if !ok {
		return &ErrInvalidStreamID{StreamID: streamID, Phase: phase, Reason: "unknown phase"}
	}
	if !r.contains(streamID) {
		return &ErrInvalidStreamID{
			StreamID: streamID, Phase: phase,
			Reason: fmt.Sprintf("not in %d-%d range", r.Start, r.End),
		}
	}
	return nil
}
