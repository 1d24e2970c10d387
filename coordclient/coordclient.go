// Package coordclient is a node's HTTP client for the coordinator's
// registry, certificate authority, and vote-submission surfaces (§6), the
// client-side counterpart to transport.HTTPRelayTransport's submit/fetch
// style: a plain *http.Client with a fixed base URL and JSON bodies.
package coordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/torcus-network/wallet-cluster/vote"
)

// Client talks to one coordinator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second}}
}

type registerRequest struct {
	PSK          string   `json:"psk"`
	NodeID       string   `json:"node_id"`
	PartyIndex   int      `json:"party_index"`
	Endpoint     string   `json:"endpoint"`
	QUICPort     int      `json:"quic_port,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// RegisterResult is what the coordinator hands back on first registration.
type RegisterResult struct {
	HeartbeatInterval time.Duration
	CertToken         string
}

// Register submits this node's identity and endpoint to the coordinator's
// node registry, returning the heartbeat cadence and cert_token to persist.
func (c *Client) Register(ctx context.Context, psk, nodeID string, partyIndex int, endpoint string, quicPort int, capabilities []string) (*RegisterResult, error) {
	body, err := json.Marshal(registerRequest{
		PSK:          psk,
		NodeID:       nodeID,
		PartyIndex:   partyIndex,
		Endpoint:     endpoint,
		QUICPort:     quicPort,
		Capabilities: capabilities,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		HeartbeatIntervalSecs int    `json:"heartbeat_interval_secs"`
		CertToken             string `json:"cert_token,omitempty"`
	}
	if err := c.postJSON(ctx, "/registry/register", body, &resp); err != nil {
		return nil, fmt.Errorf("coordclient: register: %w", err)
	}
	return &RegisterResult{
		HeartbeatInterval: time.Duration(resp.HeartbeatIntervalSecs) * time.Second,
		CertToken:         resp.CertToken,
	}, nil
}

type heartbeatRequest struct {
	CertToken    string   `json:"cert_token"`
	NodeID       string   `json:"node_id"`
	PartyIndex   int      `json:"party_index"`
	Capabilities []string `json:"capabilities"`
}

// Heartbeat reports continued liveness, returning the health score the
// coordinator assigned.
func (c *Client) Heartbeat(ctx context.Context, certToken, nodeID string, partyIndex int, capabilities []string) (float64, error) {
	body, err := json.Marshal(heartbeatRequest{CertToken: certToken, NodeID: nodeID, PartyIndex: partyIndex, Capabilities: capabilities})
	if err != nil {
		return 0, err
	}
	var resp struct {
		HealthScore float64 `json:"health_score"`
	}
	if err := c.postJSON(ctx, "/registry/heartbeat", body, &resp); err != nil {
		return 0, fmt.Errorf("coordclient: heartbeat: %w", err)
	}
	return resp.HealthScore, nil
}

// NodeSummary mirrors registry.Summary, the externally visible shape of a
// registered peer.
type NodeSummary struct {
	PartyIndex int    `json:"party_index"`
	Endpoint   string `json:"endpoint"`
	IsOnline   bool   `json:"is_online"`
	QUICPort   int    `json:"quic_port,omitempty"`
}

// Nodes fetches the coordinator's current cluster membership snapshot, the
// peer list QUIC dial targets and initiator selection are derived from.
func (c *Client) Nodes(ctx context.Context) ([]NodeSummary, error) {
	var resp struct {
		Nodes []NodeSummary `json:"nodes"`
	}
	if err := c.getJSON(ctx, "/registry/nodes", &resp); err != nil {
		return nil, fmt.Errorf("coordclient: nodes: %w", err)
	}
	return resp.Nodes, nil
}

// FetchCACert retrieves the cluster's CA certificate in PEM form.
func (c *Client) FetchCACert(ctx context.Context) ([]byte, error) {
	var resp struct {
		CertPEM   string `json:"cert_pem"`
		Available bool   `json:"available"`
	}
	if err := c.getJSON(ctx, "/certs/ca", &resp); err != nil {
		return nil, fmt.Errorf("coordclient: fetch ca cert: %w", err)
	}
	if !resp.Available {
		return nil, fmt.Errorf("coordclient: ca unavailable")
	}
	return []byte(resp.CertPEM), nil
}

// NodeCert requests a fresh TLS identity for partyIndex, authenticated by
// certToken, returning the node's cert/key pair and the CA cert.
func (c *Client) NodeCert(ctx context.Context, partyIndex int, certToken string, hostnames []string) (certPEM, keyPEM, caCertPEM []byte, err error) {
	body, err := json.Marshal(struct {
		CertToken string   `json:"cert_token"`
		Hostnames []string `json:"hostnames"`
	}{CertToken: certToken, Hostnames: hostnames})
	if err != nil {
		return nil, nil, nil, err
	}
	var resp struct {
		CertPEM   string `json:"cert_pem"`
		KeyPEM    string `json:"key_pem"`
		CACertPEM string `json:"ca_cert_pem"`
	}
	path := fmt.Sprintf("/certs/node/%d", partyIndex)
	if err := c.postJSON(ctx, path, body, &resp); err != nil {
		return nil, nil, nil, fmt.Errorf("coordclient: node cert: %w", err)
	}
	return []byte(resp.CertPEM), []byte(resp.KeyPEM), []byte(resp.CACertPEM), nil
}

// VoteOutcome mirrors the Byzantine Detector's processing outcome for one
// submitted vote.
type VoteOutcome struct {
	Kind          string `json:"kind"`
	Count         uint64 `json:"count,omitempty"`
	Value         uint64 `json:"value,omitempty"`
	RejectionKind string `json:"rejection_kind,omitempty"`
}

// SubmitVote forwards a signed vote to the coordinator's Vote Processor.
func (c *Client) SubmitVote(ctx context.Context, v *vote.Vote) (*VoteOutcome, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var resp VoteOutcome
	if err := c.postJSON(ctx, "/vote/submit", body, &resp); err != nil {
		return nil, fmt.Errorf("coordclient: submit vote: %w", err)
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
