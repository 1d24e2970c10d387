package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torcus-network/wallet-cluster/mpc"
	"github.com/torcus-network/wallet-cluster/transport"
)

// phaseForProtocol maps a session's protocol onto the stream-id band its
// round traffic travels on (§4.C: DKG rounds on 100-999, signing rounds on
// 1000-9999, presignature generation on 10 000+).
func phaseForProtocol(protocol string) transport.Phase {
	switch mpc.Protocol(protocol) {
	case mpc.ProtocolDKG:
		return transport.PhaseDKG
	case mpc.ProtocolCGGMP24Presign:
		return transport.PhasePresignature
	default:
		return transport.PhaseSigning
	}
}

// roundEnvelope is the wire wrapper a round's outbound messages travel in,
// carrying the session_id/round/seq stamp §4.F requires.
type roundEnvelope struct {
	Round   int    `json:"round"`
	Seq     uint64 `json:"seq"`
	Sender  int    `json:"sender"`
	Payload []byte `json:"payload"`
}

// RunRounds drives machine's rounds to completion for session s: draining
// outbound messages, sending them per the protocol (broadcast vs P2P),
// polling transport for inbound messages, feeding them to the machine in
// arrival order tolerant of bounded reordering, and reacting to Done /
// Critical results (§4.F Round loop).
func (c *Coordinator) RunRounds(ctx context.Context, s *Session, machine mpc.StateMachine) ([]byte, error) {
	var seq atomic.Uint64
	reorder := mpc.NewReorderBuffer(32)

	result, err := machine.Start()
	if err != nil {
		return nil, fmt.Errorf("session: start protocol: %w", err)
	}
	if err := c.sendOutbound(ctx, s, 0, &seq, result.Outbound); err != nil {
		return nil, err
	}
	if result.Done {
		c.Complete(s.ID, result.Result)
		return result.Result, nil
	}

	round := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if s.Status() == StatusAborted {
			return nil, fmt.Errorf("session: aborted")
		}

		started := time.Now()
		inbound, err := c.collectRound(ctx, s, round, reorder, len(s.Participants)-1)
		if err != nil {
			return nil, err
		}

		stepResult, err := machine.Step(round, inbound)
		if err != nil {
			return nil, fmt.Errorf("session: step round %d: %w", round, err)
		}
		c.metrics.ObserveRound(s.Protocol, time.Since(started))

		if stepResult.Critical {
			c.Abort(ctx, s.ID, fmt.Sprintf("critical protocol error: %v", stepResult.Err))
			return nil, stepResult.Err
		}

		if stepResult.Done {
			c.Complete(s.ID, stepResult.Result)
			return stepResult.Result, nil
		}

		round++
		if err := c.sendOutbound(ctx, s, round, &seq, stepResult.Outbound); err != nil {
			return nil, err
		}
	}
}

// sendOutbound dispatches one round's outbound messages concurrently: MPC
// rounds routinely produce one P2P message per other participant, and
// there's no reason the send to participant 2 should wait on the send to
// participant 3 completing first.
func (c *Coordinator) sendOutbound(ctx context.Context, s *Session, round int, seq *atomic.Uint64, outbound []mpc.OutMessage) error {
	phase := phaseForProtocol(s.Protocol)
	g, gctx := errgroup.WithContext(ctx)
	for _, out := range outbound {
		env := roundEnvelope{Round: round, Seq: seq.Add(1) - 1, Sender: s.LocalParty, Payload: out.Payload}
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("session: marshal round message: %w", err)
		}
		wire := transport.Envelope{SessionID: s.ID, Phase: phase, Payload: payload}

		g.Go(func() error {
			if out.To < 0 {
				if err := c.transport.Broadcast(gctx, wire); err != nil {
					return fmt.Errorf("session: broadcast round %d: %w", round, err)
				}
				return nil
			}
			if err := c.transport.Send(gctx, out.To, wire); err != nil {
				return fmt.Errorf("session: send round %d to %d: %w", round, out.To, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// collectRound polls transport until it has one in-order message from each
// expected sender for this round, tolerating bounded reordering.
func (c *Coordinator) collectRound(ctx context.Context, s *Session, round int, reorder *mpc.ReorderBuffer, expectedSenders int) ([]mpc.InMessage, error) {
	ready := make([]mpc.InMessage, 0, expectedSenders)
	seen := make(map[int]bool)

	for len(seen) < expectedSenders {
		env, err := c.transport.Poll(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("session: poll round %d: %w", round, err)
		}
		var re roundEnvelope
		if err := json.Unmarshal(env.Payload, &re); err != nil {
			continue // malformed message: drop and log, non-critical per §7
		}
		if re.Round != round {
			continue // stale or future round traffic, not this round's business
		}
		msg := mpc.InMessage{From: re.Sender, Round: re.Round, Seq: re.Seq, Payload: re.Payload}
		for _, m := range reorder.Admit(msg) {
			ready = append(ready, m)
			seen[m.From] = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if s.Status() == StatusAborted {
			return nil, fmt.Errorf("session: aborted during round %d", round)
		}
	}
	return ready, nil
}
