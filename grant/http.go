package grant

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/torcus-network/wallet-cluster/crypto"
)

// ErrInvalidRequest is returned by the issuer when a request's policy
// fields do not form a usable grant (threshold out of range, empty
// participant set).
var ErrInvalidRequest = errors.New("grant: invalid issuance request")

// Issuer signs grants on behalf of the cluster. It is the sole holder of
// the Ed25519 issuer private key (§3 Ownership: "Grants - by the issuer
// until handed to a Session").
type Issuer struct {
	key *crypto.GrantSigningKey
}

// NewIssuer builds an Issuer around key.
func NewIssuer(key *crypto.GrantSigningKey) *Issuer {
	return &Issuer{key: key}
}

// IssueSigning validates the request's policy and issues a signing grant.
func (i *Issuer) IssueSigning(walletID string, messageHash [32]byte, threshold int, participants []int, validity time.Duration) (*Grant, error) {
	if err := validatePolicy(threshold, participants); err != nil {
		return nil, err
	}
	return Issue(i.key, walletID, messageHash, threshold, participants, validity, time.Now())
}

// IssueKeygen validates the request's policy and issues a grant for a
// key-generation (DKG/aux-info) session, where there is no message hash
// to authorize.
func (i *Issuer) IssueKeygen(walletID string, threshold int, participants []int, validity time.Duration) (*Grant, error) {
	if err := validatePolicy(threshold, participants); err != nil {
		return nil, err
	}
	return Issue(i.key, walletID, [32]byte{}, threshold, participants, validity, time.Now())
}

func validatePolicy(threshold int, participants []int) error {
	if len(participants) == 0 {
		return ErrInvalidRequest
	}
	if threshold < 1 || threshold > len(sortedUnique(participants)) {
		return ErrInvalidRequest
	}
	return nil
}

// Handler exposes the Issuer over §6's grant issuance surface:
// GET /grant/pubkey, POST /grant/signing, POST /grant/keygen.
type Handler struct {
	issuer *Issuer
}

// NewHandler builds a grant-issuance HTTP handler.
func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// Router returns the chi handler mounting the grant issuance endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/grant/pubkey", h.handlePubkey)
	r.Post("/grant/signing", h.handleSigning)
	r.Post("/grant/keygen", h.handleKeygen)
	return r
}

func (h *Handler) handlePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": hex.EncodeToString(h.issuer.key.PublicKey()),
	})
}

type signingRequest struct {
	WalletID       string `json:"wallet_id"`
	MessageHashHex string `json:"message_hash"`
	Threshold      int    `json:"threshold"`
	Participants   []int  `json:"participants"`
	ValiditySecs   int    `json:"validity_secs,omitempty"`
}

func (h *Handler) handleSigning(w http.ResponseWriter, r *http.Request) {
	var req signingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(req.MessageHashHex)
	if err != nil || len(raw) != 32 {
		http.Error(w, "message_hash must be 32 bytes hex", http.StatusBadRequest)
		return
	}
	var hash [32]byte
	copy(hash[:], raw)

	g, err := h.issuer.IssueSigning(req.WalletID, hash, req.Threshold, req.Participants, secsOrDefault(req.ValiditySecs))
	if err != nil {
		writeIssuanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type keygenRequest struct {
	WalletID     string `json:"wallet_id"`
	Threshold    int    `json:"threshold"`
	Participants []int  `json:"participants"`
	ValiditySecs int    `json:"validity_secs,omitempty"`
}

func (h *Handler) handleKeygen(w http.ResponseWriter, r *http.Request) {
	var req keygenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	g, err := h.issuer.IssueKeygen(req.WalletID, req.Threshold, req.Participants, secsOrDefault(req.ValiditySecs))
	if err != nil {
		writeIssuanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func writeIssuanceError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func secsOrDefault(secs int) time.Duration {
	if secs <= 0 {
		return DefaultValidity
	}
	return time.Duration(secs) * time.Second
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
