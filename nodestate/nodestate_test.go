package nodestate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTripsEveryArtifact(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	primes := PrimesRecord{PartyIndex: 1, Primes: []byte("p"), GeneratedAt: time.Now()}
	if err := s.SavePrimes(primes); err != nil {
		t.Fatalf("save primes: %v", err)
	}
	got, found, err := s.LoadPrimes(1)
	if err != nil || !found || string(got.Primes) != "p" {
		t.Fatalf("load primes: %+v found=%v err=%v", got, found, err)
	}

	aux := AuxInfoRecord{PartyIndex: 1, AuxInfo: []byte("aux"), GeneratedAt: time.Now()}
	if err := s.SaveAuxInfo(aux); err != nil {
		t.Fatalf("save aux-info: %v", err)
	}
	gotAux, found, err := s.LoadAuxInfo(1)
	if err != nil || !found || string(gotAux.AuxInfo) != "aux" {
		t.Fatalf("load aux-info: %+v found=%v err=%v", gotAux, found, err)
	}

	share := KeyShareRecord{PartyIndex: 1, WalletID: "wallet-a", Share: []byte("share"), PublicKey: []byte("pub")}
	if err := s.SaveKeyShare(share); err != nil {
		t.Fatalf("save keyshare: %v", err)
	}
	gotShare, found, err := s.LoadKeyShare(1, "wallet-a")
	if err != nil || !found || string(gotShare.Share) != "share" {
		t.Fatalf("load keyshare: %+v found=%v err=%v", gotShare, found, err)
	}
	if _, found, _ := s.LoadKeyShare(1, "wallet-b"); found {
		t.Fatal("expected no record for a different wallet id")
	}

	cert := NodeCertRecord{PartyIndex: 1, CertPEM: []byte("cert"), KeyPEM: []byte("key"), CACertPEM: []byte("ca")}
	if err := s.SaveNodeCert(cert); err != nil {
		t.Fatalf("save node cert: %v", err)
	}
	gotCert, found, err := s.LoadNodeCert(1)
	if err != nil || !found || string(gotCert.CertPEM) != "cert" {
		t.Fatalf("load node cert: %+v found=%v err=%v", gotCert, found, err)
	}

	token := CertTokenRecord{PartyIndex: 1, Token: "tok", IssuedAt: time.Now()}
	if err := s.SaveCertToken(token); err != nil {
		t.Fatalf("save cert token: %v", err)
	}
	gotToken, found, err := s.LoadCertToken(1)
	if err != nil || !found || gotToken.Token != "tok" {
		t.Fatalf("load cert token: %+v found=%v err=%v", gotToken, found, err)
	}

	if _, found, err := s.LoadPrimes(9); err != nil || found {
		t.Fatalf("expected no primes record for unknown party, found=%v err=%v", found, err)
	}
}

func TestFileNamingMatchesPersistedStateLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveKeyShare(KeyShareRecord{PartyIndex: 2, WalletID: "w1", Share: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	expected := filepath.Join(dir, "keyshare-party-2-w1.json")
	if _, statErr := os.Stat(expected); statErr != nil {
		t.Fatalf("expected file at %s: %v", expected, statErr)
	}
}
