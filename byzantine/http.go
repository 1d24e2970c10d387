package byzantine

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/torcus-network/wallet-cluster/vote"
)

// Handler exposes the Vote Processor's single entry point over HTTP, the
// coordination-plane surface every node's vote submission goes through
// (§4.D, §4.E).
type Handler struct {
	processor *Processor
}

// NewHandler builds a vote-submission Handler over p.
func NewHandler(p *Processor) *Handler {
	return &Handler{processor: p}
}

// Router returns the chi handler for the vote submission endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/vote/submit", h.handleSubmit)
	r.Get("/vote/state/{tx_id}", h.handleState)
	return r
}

type submitResponse struct {
	Kind          string `json:"kind"`
	Count         uint64 `json:"count,omitempty"`
	Value         uint64 `json:"value,omitempty"`
	RejectionKind string `json:"rejection_kind,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var v vote.Vote
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "decode vote", http.StatusBadRequest)
		return
	}
	outcome, err := h.processor.Submit(r.Context(), &v)
	if err != nil {
		if err == vote.ErrAlreadyProcessed || err == ErrNodeBanned {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Kind:          outcome.Kind,
		Count:         outcome.Count,
		Value:         outcome.Value,
		RejectionKind: string(outcome.RejectionKind),
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "tx_id")
	writeJSON(w, http.StatusOK, map[string]string{"tx_id": txID, "state": string(h.processor.State(txID))})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
