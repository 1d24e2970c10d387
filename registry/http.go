package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the Registry over the node-to-coordinator HTTP surface
// of §6: /registry/register, /registry/heartbeat, /registry/nodes.
type Handler struct {
	registry *Registry
}

// NewHandler builds a registry HTTP handler over r.
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// Router returns the chi handler mounting the registry endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/registry/register", h.handleRegister)
	r.Post("/registry/heartbeat", h.handleHeartbeat)
	r.Get("/registry/nodes", h.handleNodes)
	return r
}

type registerRequest struct {
	PSK          string   `json:"psk"`
	NodeID       string   `json:"node_id"`
	PartyIndex   int      `json:"party_index"`
	Endpoint     string   `json:"endpoint"`
	QUICPort     int      `json:"quic_port,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	HeartbeatIntervalSecs int    `json:"heartbeat_interval_secs"`
	CertToken             string `json:"cert_token,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	interval, token, _, err := h.registry.Register(req.PSK, req.NodeID, req.PartyIndex, req.Endpoint, req.QUICPort, req.Capabilities)
	if err != nil {
		if errors.Is(err, ErrBadPSK) {
			http.Error(w, "invalid psk", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		HeartbeatIntervalSecs: int(interval.Seconds()),
		CertToken:             token,
	})
}

type heartbeatRequest struct {
	CertToken    string   `json:"cert_token"`
	NodeID       string   `json:"node_id"`
	PartyIndex   int      `json:"party_index"`
	Capabilities []string `json:"capabilities"`
}

type heartbeatResponse struct {
	HealthScore     float64   `json:"health_score"`
	RegisteredNodes []Summary `json:"registered_nodes"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	score, nodes, err := h.registry.Heartbeat(req.CertToken, req.NodeID, req.PartyIndex, req.Capabilities)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownNode):
			http.Error(w, "unknown node", http.StatusNotFound)
		case errors.Is(err, ErrBadCertToken):
			http.Error(w, "invalid cert token", http.StatusUnauthorized)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{HealthScore: score, RegisteredNodes: nodes})
}

func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]Summary{"nodes": h.registry.Nodes()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
