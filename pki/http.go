package pki

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// TokenValidator checks a cert_token against the registry's record for a
// party index before the CA will sign that party a certificate.
type TokenValidator func(partyIndex int, token string) bool

// Handler exposes the CA over §6's /certs/ca and /certs/node/{party_index}
// endpoints.
type Handler struct {
	ca        *CA
	available bool
	validate  TokenValidator
}

// NewHandler builds a CA HTTP handler. validate gates node-cert issuance
// on the registry's cert_token.
func NewHandler(ca *CA, validate TokenValidator) *Handler {
	return &Handler{ca: ca, available: ca != nil, validate: validate}
}

// Router returns the chi handler mounting the CA endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/certs/ca", h.handleCA)
	r.Post("/certs/node/{party_index}", h.handleNodeCert)
	return r
}

type caResponse struct {
	CertPEM   string `json:"cert_pem"`
	Available bool   `json:"available"`
}

func (h *Handler) handleCA(w http.ResponseWriter, r *http.Request) {
	resp := caResponse{Available: h.available}
	if h.available {
		resp.CertPEM = string(h.ca.CACertPEM())
	}
	writeJSON(w, http.StatusOK, resp)
}

type nodeCertRequest struct {
	CertToken string   `json:"cert_token"`
	Hostnames []string `json:"hostnames"`
}

type nodeCertResponse struct {
	CertPEM   string `json:"cert_pem"`
	KeyPEM    string `json:"key_pem"`
	CACertPEM string `json:"ca_cert_pem"`
}

func (h *Handler) handleNodeCert(w http.ResponseWriter, r *http.Request) {
	if !h.available {
		http.Error(w, "ca unavailable", http.StatusServiceUnavailable)
		return
	}
	partyIndex, err := strconv.Atoi(chi.URLParam(r, "party_index"))
	if err != nil {
		http.Error(w, "invalid party_index", http.StatusBadRequest)
		return
	}
	var req nodeCertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if h.validate != nil && !h.validate(partyIndex, req.CertToken) {
		http.Error(w, "invalid cert token", http.StatusUnauthorized)
		return
	}

	certPEM, keyPEM, err := h.ca.IssueNodeCert(partyIndex, req.Hostnames)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nodeCertResponse{
		CertPEM:   string(certPEM),
		KeyPEM:    string(keyPEM),
		CACertPEM: string(h.ca.CACertPEM()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
