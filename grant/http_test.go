package grant

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/torcus-network/wallet-cluster/crypto"
)

func TestGrantHandlerEndpoints(t *testing.T) {
	key, err := crypto.GenerateGrantSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(NewIssuer(key))
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/grant/pubkey")
	if err != nil {
		t.Fatal(err)
	}
	var pubResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pubResp); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if pubResp["public_key"] != hex.EncodeToString(key.PublicKey()) {
		t.Fatal("expected pubkey endpoint to return issuer's public key")
	}

	hash := make([]byte, 32)
	body := strings.NewReader(`{"wallet_id":"w1","message_hash":"` + hex.EncodeToString(hash) + `","threshold":2,"participants":[0,1,2]}`)
	resp2, err := http.Post(srv.URL+"/grant/signing", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
	var g Grant
	if err := json.NewDecoder(resp2.Body).Decode(&g); err != nil {
		t.Fatal(err)
	}
	if err := Verify(&g, key.PublicKey()); err != nil {
		t.Fatalf("expected issued grant to verify: %v", err)
	}

	badBody := strings.NewReader(`{"wallet_id":"w1","threshold":9,"participants":[0,1]}`)
	resp3, err := http.Post(srv.URL+"/grant/keygen", "application/json", badBody)
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-threshold request, got %d", resp3.StatusCode)
	}
}
