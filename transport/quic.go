package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"
)

// QUIC connection parameters, per §4.C's connection model.
const (
	idleTimeout     = 60 * time.Second
	keepAlivePeriod = 15 * time.Second
)

// PeerAddress is a cluster member's party index and QUIC dial address.
type PeerAddress struct {
	PartyIndex int
	Address    string
}

// QUICTransport is the mTLS QUIC backend of §4.C: one UDP socket, TLS 1.3
// with mutual authentication against a shared CA, peer identity extracted
// from the certificate CN ("node-{id}") at handshake completion.
type QUICTransport struct {
	tlsConfig *tls.Config
	listener  *quic.Listener
	localID   int

	mu    sync.Mutex
	peers map[int]PeerAddress
	conns map[int]quic.Connection

	inbox  *inbox
	closed bool
}

// NewQUICTransport opens the listening socket at listenAddr and returns a
// transport ready to dial the given peer set.
func NewQUICTransport(ctx context.Context, localID int, listenAddr string, tlsConfig *tls.Config, peers []PeerAddress) (*QUICTransport, error) {
	quicConf := &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}
	listener, err := quic.ListenAddr(listenAddr, tlsConfig, quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport: listen quic on %s: %w", listenAddr, err)
	}

	peerMap := make(map[int]PeerAddress, len(peers))
	for _, p := range peers {
		peerMap[p.PartyIndex] = p
	}

	t := &QUICTransport{
		tlsConfig: tlsConfig,
		listener:  listener,
		localID:   localID,
		peers:     peerMap,
		conns:     make(map[int]quic.Connection),
		inbox:     newInbox(),
	}
	go t.acceptLoop(ctx)
	return t, nil
}

func (t *QUICTransport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			return
		}
		go t.handleConn(ctx, conn)
	}
}

func (t *QUICTransport) handleConn(ctx context.Context, conn quic.Connection) {
	peerID, ok := identityFromConnection(conn)
	if !ok {
		conn.CloseWithError(0, "identity verification failed")
		return
	}

	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go t.readStream(stream, peerID)
	}
}

func (t *QUICTransport) readStream(stream quic.Stream, senderHint int) {
	defer stream.Close()
	streamID, payload, err := readFrame(stream)
	if err != nil {
		return
	}
	env, ok := decodeEnvelope(payload)
	if !ok {
		return
	}
	// A stream id outside its declared phase's band is an invariant
	// violation and is rejected before the round message it carries is
	// ever handed to a session (§4.C).
	if err := ValidateStreamID(streamID, env.Phase); err != nil {
		return
	}
	// "messages whose sender disagrees with the authenticated identity are
	// discarded" (§4.C).
	if env.Sender != senderHint {
		return
	}
	t.inbox.push(env)
}

// identityFromConnection extracts the peer's party index from its
// certificate CN ("node-{id}"), per §4.C.
func identityFromConnection(conn quic.Connection) (int, bool) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return 0, false
	}
	cn := state.PeerCertificates[0].Subject.CommonName
	const prefix = "node-"
	if !strings.HasPrefix(cn, prefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(cn, prefix))
	if err != nil {
		return 0, false
	}
	return id, true
}

// dial lazily opens (or reuses) the outbound connection to a peer. Per
// §4.C's failure semantics, connections are removed on error and lazily
// reopened on next send.
func (t *QUICTransport) dial(ctx context.Context, partyIndex int) (quic.Connection, error) {
	t.mu.Lock()
	if conn, ok := t.conns[partyIndex]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	peer, ok := t.peers[partyIndex]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %d", partyIndex)
	}

	quicConf := &quic.Config{MaxIdleTimeout: idleTimeout, KeepAlivePeriod: keepAlivePeriod}
	conn, err := quic.DialAddr(ctx, peer.Address, t.tlsConfig, quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport: dial peer %d at %s: %w", partyIndex, peer.Address, err)
	}
	if _, ok := identityFromConnection(conn); !ok {
		conn.CloseWithError(0, "peer identity verification failed")
		return nil, fmt.Errorf("transport: peer %d failed identity verification", partyIndex)
	}

	t.mu.Lock()
	t.conns[partyIndex] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *QUICTransport) dropConn(partyIndex int) {
	t.mu.Lock()
	delete(t.conns, partyIndex)
	t.mu.Unlock()
}

// Send opens a fresh uni-stream for env and writes it (§4.C: "each outbound
// message allocates a fresh uni-stream — cheap under QUIC multiplexing").
func (t *QUICTransport) Send(ctx context.Context, partyIndex int, env Envelope) error {
	conn, err := t.dial(ctx, partyIndex)
	if err != nil {
		return err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.dropConn(partyIndex)
		return fmt.Errorf("transport: open stream to %d: %w", partyIndex, err)
	}
	defer stream.Close()

	env.Sender = t.localID
	payload, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	streamID := rangeFor(env.Phase).Start
	if err := writeFrame(stream, streamID, payload); err != nil {
		t.dropConn(partyIndex)
		return err
	}
	return nil
}

// Broadcast sends env to every known peer, failing only if every send
// fails (§4.C).
func (t *QUICTransport) Broadcast(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	peers := make([]int, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	t.mu.Unlock()

	if len(peers) == 0 {
		return nil
	}

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range peers {
		g.Go(func() error {
			if err := t.Send(gctx, id, env); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait() // per-peer errors are tallied above, never returned here
	if int(failures.Load()) == len(peers) {
		return ErrAllPeersFailed
	}
	return nil
}

// Poll returns the next envelope received for sessionID.
func (t *QUICTransport) Poll(ctx context.Context, sessionID string) (Envelope, error) {
	return t.inbox.pop(ctx, sessionID)
}

// NotifyControl sends env over the control-phase stream range.
func (t *QUICTransport) NotifyControl(ctx context.Context, partyIndex int, env Envelope) error {
	env.Phase = PhaseControl
	return t.Send(ctx, partyIndex, env)
}

// Close shuts down the listener, every open connection, and the inbox.
func (t *QUICTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]quic.Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.CloseWithError(0, "transport closing")
	}
	t.inbox.close()
	return t.listener.Close()
}
