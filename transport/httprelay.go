package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRelayTransport is the fallback backend of §4.C: nodes POST messages
// to a coordinator and long-poll for incoming ones bucketed by session_id.
// The relay is trusted only for liveness — every message carrying security
// consequence is independently re-verified by its caller (grant or
// signature), never by this package.
type HTTPRelayTransport struct {
	localID      int
	coordinator  string
	client       *http.Client
	pollInterval time.Duration
	inbox        *inbox
	stopPoll     context.CancelFunc
}

// NewHTTPRelayClient constructs a relay transport that POSTs to and
// long-polls coordinatorURL.
func NewHTTPRelayClient(ctx context.Context, localID int, coordinatorURL string) *HTTPRelayTransport {
	pollCtx, cancel := context.WithCancel(ctx)
	t := &HTTPRelayTransport{
		localID:      localID,
		coordinator:  coordinatorURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		inbox:        newInbox(),
		stopPoll:     cancel,
	}
	go t.pollLoop(pollCtx)
	return t
}

func (t *HTTPRelayTransport) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fetch(ctx)
		}
	}
}

func (t *HTTPRelayTransport) fetch(ctx context.Context) {
	url := fmt.Sprintf("%s/relay/poll/%s/%d", t.coordinator, pollAllSessions, t.localID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var envelopes []wireEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return
	}
	for _, w := range envelopes {
		t.inbox.push(Envelope{SessionID: w.SessionID, Sender: w.Sender, Phase: Phase(w.Phase), Payload: w.Payload})
	}
}

// pollAllSessions is the session_id path segment long-poll uses to drain
// every session bound for a party, since the relay bucketizes mailboxes
// per party and dispatches per-session filtering client-side via Poll.
const pollAllSessions = "_all"

func (t *HTTPRelayTransport) submit(ctx context.Context, env Envelope, to *int) error {
	env.Sender = t.localID
	w := wireEnvelope{SessionID: env.SessionID, Sender: env.Sender, Phase: int(env.Phase), Payload: env.Payload, To: to}
	body, err := json.Marshal(w)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/relay/submit", t.coordinator)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: relay submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return ErrAllPeersFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: relay submit: status %d", resp.StatusCode)
	}
	return nil
}

// Send POSTs env to the coordinator addressed to a single peer.
func (t *HTTPRelayTransport) Send(ctx context.Context, partyIndex int, env Envelope) error {
	return t.submit(ctx, env, &partyIndex)
}

// Broadcast POSTs env to the coordinator's submit endpoint with no
// recipient, which fans it out to every other party the relay server was
// built with; the relay does not check liveness.
func (t *HTTPRelayTransport) Broadcast(ctx context.Context, env Envelope) error {
	return t.submit(ctx, env, nil)
}

// Poll returns the next envelope received for sessionID.
func (t *HTTPRelayTransport) Poll(ctx context.Context, sessionID string) (Envelope, error) {
	return t.inbox.pop(ctx, sessionID)
}

// NotifyAuxInfoComplete tells the coordinator-side relay that this node
// has finished the aux-info phase of sessionID, per §6's
// /relay/aux-info/complete bookkeeping endpoint.
func (t *HTTPRelayTransport) NotifyAuxInfoComplete(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(auxInfoCompleteRequest{SessionID: sessionID, PartyIndex: t.localID})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/relay/aux-info/complete", t.coordinator)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: aux-info complete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: aux-info complete: status %d", resp.StatusCode)
	}
	return nil
}

// NotifyControl sends env tagged as control-phase traffic.
func (t *HTTPRelayTransport) NotifyControl(ctx context.Context, partyIndex int, env Envelope) error {
	env.Phase = PhaseControl
	return t.Send(ctx, partyIndex, env)
}

// Close stops the long-poll loop.
func (t *HTTPRelayTransport) Close() error {
	t.stopPoll()
	t.inbox.close()
	return nil
}

// auxInfoCompleteRequest is the body of POST /relay/aux-info/complete.
type auxInfoCompleteRequest struct {
	SessionID  string `json:"session_id"`
	PartyIndex int    `json:"party_index"`
}

// RelayServer is the coordinator-side relay: a small chi-routed HTTP
// service that accepts message submissions and buffers them per party
// index for long-poll pickup, per §6's relay-mode message bus
// (/relay/submit, /relay/poll/{session_id}/{party_index},
// /relay/aux-info/complete).
type RelayServer struct {
	mailboxes map[int]*inbox
	parties   []int

	auxMu   sync.Mutex
	auxDone map[string]map[int]bool
}

// NewRelayServer builds a coordinator-side relay server for the given
// parties.
func NewRelayServer(parties []int) *RelayServer {
	s := &RelayServer{
		mailboxes: make(map[int]*inbox),
		parties:   append([]int(nil), parties...),
		auxDone:   make(map[string]map[int]bool),
	}
	for _, p := range parties {
		s.mailboxes[p] = newInbox()
	}
	return s
}

// Router returns the chi handler for the relay endpoints.
func (s *RelayServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/relay/submit", s.handleSubmit)
	r.Get("/relay/poll/{session_id}/{party_index}", s.handlePoll)
	r.Post("/relay/aux-info/complete", s.handleAuxInfoComplete)
	return r
}

func (s *RelayServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		http.Error(w, "decode envelope", http.StatusBadRequest)
		return
	}
	env := Envelope{SessionID: wire.SessionID, Sender: wire.Sender, Phase: Phase(wire.Phase), Payload: wire.Payload}

	if wire.To != nil {
		box, ok := s.box(*wire.To)
		if !ok {
			http.Error(w, "unknown party", http.StatusNotFound)
			return
		}
		box.push(env)
		w.WriteHeader(http.StatusOK)
		return
	}

	failures := 0
	for _, party := range s.parties {
		if party == env.Sender {
			continue
		}
		box, ok := s.box(party)
		if !ok {
			failures++
			continue
		}
		box.push(env)
	}
	if failures == len(s.parties) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *RelayServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	party, err := strconv.Atoi(chi.URLParam(r, "party_index"))
	if err != nil {
		http.Error(w, "invalid party_index", http.StatusBadRequest)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	box, ok := s.box(party)
	if !ok {
		http.Error(w, "unknown party", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	var env Envelope
	if sessionID == pollAllSessions {
		env, err = box.popAny(ctx)
	} else {
		env, err = box.pop(ctx, sessionID)
	}

	envelopes := make([]wireEnvelope, 0, 1)
	if err == nil {
		envelopes = append(envelopes, wireEnvelope{SessionID: env.SessionID, Sender: env.Sender, Phase: int(env.Phase), Payload: env.Payload})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelopes)
}

func (s *RelayServer) handleAuxInfoComplete(w http.ResponseWriter, r *http.Request) {
	var req auxInfoCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	s.auxMu.Lock()
	done, ok := s.auxDone[req.SessionID]
	if !ok {
		done = make(map[int]bool)
		s.auxDone[req.SessionID] = done
	}
	done[req.PartyIndex] = true
	s.auxMu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// AuxInfoCompleteCount reports how many distinct parties have reported
// aux-info completion for sessionID.
func (s *RelayServer) AuxInfoCompleteCount(sessionID string) int {
	s.auxMu.Lock()
	defer s.auxMu.Unlock()
	return len(s.auxDone[sessionID])
}

func (s *RelayServer) box(party int) (*inbox, bool) {
	b, ok := s.mailboxes[party]
	return b, ok
}
