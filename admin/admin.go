// Package admin exposes the coordinator's operator surface: reputation and
// violation lookups against the audit store, gated behind
// httpmw.AdminAuthenticator rather than the PSK/cert_token/mTLS schemes the
// node-facing registry, PKI, and vote routes use.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/torcus-network/wallet-cluster/audit"
)

// Handler serves read-only operator queries over the audit store.
type Handler struct {
	store *audit.Store
}

// NewHandler builds a Handler over store.
func NewHandler(store *audit.Store) *Handler {
	return &Handler{store: store}
}

// Router returns the chi handler for the operator endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/reputation/{peer_id}", h.handleReputation)
	r.Get("/admin/violations/{tx_id}", h.handleTxViolations)
	r.Get("/admin/violations/node/{peer_id}", h.handleNodeViolations)
	return r
}

func (h *Handler) handleReputation(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peer_id")
	rep, err := h.store.GetReputation(peerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleTxViolations(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "tx_id")
	violations, err := h.store.GetTxViolations(txID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

func (h *Handler) handleNodeViolations(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peer_id")
	violations, err := h.store.GetNodeViolations(peerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, violations)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
