package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"strings"
	"testing"
)

func TestNewCAProducesSelfSignedCert(t *testing.T) {
	ca, err := NewCA()
	if err != nil {
		t.Fatalf("new ca: %v", err)
	}
	block, _ := pem.Decode(ca.CACertPEM())
	if block == nil {
		t.Fatal("expected pem-encoded ca certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	if !cert.IsCA {
		t.Fatal("expected IsCA true")
	}
}

func TestIssueNodeCertCarriesPartyCN(t *testing.T) {
	ca, err := NewCA()
	if err != nil {
		t.Fatal(err)
	}
	certPEM, keyPEM, err := ca.IssueNodeCert(3, []string{"node-3.local", "127.0.0.1"})
	if err != nil {
		t.Fatalf("issue node cert: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse node cert: %v", err)
	}
	if cert.Subject.CommonName != "node-3" {
		t.Fatalf("expected CN node-3, got %s", cert.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	caBlock, _ := pem.Decode(ca.CACertPEM())
	caCert, _ := x509.ParseCertificate(caBlock.Bytes)
	pool.AddCert(caCert)
	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		t.Fatalf("expected node cert to verify against ca: %v", err)
	}

	if _, err := TLSCertificate(certPEM, keyPEM); err != nil {
		t.Fatalf("expected valid tls key pair: %v", err)
	}
}

func TestHandlerEndpoints(t *testing.T) {
	ca, err := NewCA()
	if err != nil {
		t.Fatal(err)
	}
	validTokens := map[int]string{2: "tok-2"}
	h := NewHandler(ca, func(party int, token string) bool { return validTokens[party] == token })

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/certs/ca")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	body := strings.NewReader(`{"cert_token":"wrong","hostnames":["node-2.local"]}`)
	resp2, err := http.Post(srv.URL+"/certs/node/2", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp2.StatusCode)
	}
	resp2.Body.Close()

	body2 := strings.NewReader(fmt.Sprintf(`{"cert_token":"tok-2","hostnames":["node-2.local"]}`))
	resp3, err := http.Post(srv.URL+"/certs/node/2", "application/json", body2)
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		dump, _ := httputil.DumpResponse(resp3, true)
		t.Fatalf("expected 200 for valid token, got %d: %s", resp3.StatusCode, dump)
	}
}
