// Package presigengine adapts the Session Coordinator's round loop into a
// presig.Generator, the concrete "external presigning engine" presig.Pool's
// doc comment says node bootstrap wires in. It drives the same black-box
// mpc.StateMachine protocol signing and keygen use, just for the
// presignature-generation protocol on the §4.C 10 000+ stream band.
package presigengine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/torcus-network/wallet-cluster/mpc"
	"github.com/torcus-network/wallet-cluster/presig"
	"github.com/torcus-network/wallet-cluster/session"
)

// Generator drives a presignature-generation session to completion for the
// requested participant set, producing one Presignature per call.
type Generator struct {
	coordinator *session.Coordinator
	factory     mpc.Factory
	localParty  int
	seq         uint64
}

// New builds a Generator that proposes presignature sessions as localParty,
// constructing the protocol state machine for each run via factory.
func New(coordinator *session.Coordinator, factory mpc.Factory, localParty int) *Generator {
	return &Generator{coordinator: coordinator, factory: factory, localParty: localParty}
}

// Generate runs one presignature-generation session for participants and
// returns the resulting Presignature, implementing presig.Generator.
func (g *Generator) Generate(ctx context.Context, participants []int) (*presig.Presignature, error) {
	g.seq++
	sessionID := presignSessionID(participants, g.seq)

	machine, err := g.factory(mpc.ProtocolCGGMP24Presign, g.localParty, participants, nil)
	if err != nil {
		return nil, fmt.Errorf("presigengine: build state machine: %w", err)
	}

	s, err := g.coordinator.ProposeInternal(sessionID, string(mpc.ProtocolCGGMP24Presign), participants)
	if err != nil {
		return nil, fmt.Errorf("presigengine: open session: %w", err)
	}

	result, err := g.coordinator.RunRounds(ctx, s, machine)
	if err != nil {
		return nil, fmt.Errorf("presigengine: run rounds: %w", err)
	}

	return &presig.Presignature{
		Secret:       result,
		Participants: append([]int(nil), participants...),
		GeneratedAt:  time.Now(),
	}, nil
}

// presignSessionID deterministically names a presignature-generation run so
// every participant derives the same session_id without a control-protocol
// round trip, the role a grant's session_id plays for signing/keygen.
func presignSessionID(participants []int, seq uint64) string {
	sorted := append([]int(nil), participants...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("presign-%s-%d", strings.Join(parts, "."), seq)
}
