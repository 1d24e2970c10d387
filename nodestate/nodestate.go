// Package nodestate persists the per-node artifacts named in §6's
// "Persisted state layout": pregenerated Paillier primes, CGGMP24
// auxiliary info, per-wallet key shares, the node's TLS certificate, and
// its registration cert_token, restart-safe under the node's data
// directory, using the same load-or-create-on-disk shape as the node's
// identity key and config file loading.
package nodestate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PrimesRecord is the on-disk form of primes-party-{i}.json: Paillier
// primes pregenerated once at bootstrap.
type PrimesRecord struct {
	PartyIndex  int       `json:"party_index"`
	Primes      []byte    `json:"primes"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AuxInfoRecord is the on-disk form of aux-info-party-{i}.json: CGGMP24
// auxiliary info.
type AuxInfoRecord struct {
	PartyIndex  int       `json:"party_index"`
	AuxInfo     []byte    `json:"aux_info"`
	GeneratedAt time.Time `json:"generated_at"`
}

// KeyShareRecord is the on-disk form of keyshare-party-{i}-{wallet_id}.json:
// a node's share of one wallet's signing key.
type KeyShareRecord struct {
	PartyIndex int    `json:"party_index"`
	WalletID   string `json:"wallet_id"`
	Share      []byte `json:"share"`
	PublicKey  []byte `json:"public_key"`
}

// NodeCertRecord is the on-disk form of node-cert-party-{i}.json: the
// node's TLS identity for QUIC mutual authentication.
type NodeCertRecord struct {
	PartyIndex int    `json:"party_index"`
	CertPEM    []byte `json:"cert_pem"`
	KeyPEM     []byte `json:"key_pem"`
	CACertPEM  []byte `json:"ca_cert_pem"`
}

// CertTokenRecord is the on-disk form of cert-token-party-{i}.json: the
// registration token persisted for restart-safe re-auth.
type CertTokenRecord struct {
	PartyIndex int       `json:"party_index"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Store reads and writes a node's persisted artifacts under its data
// directory.
type Store struct {
	dataDir string
}

// New builds a Store rooted at dataDir, creating it if absent.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("nodestate: create data dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func primesFile(i int) string      { return fmt.Sprintf("primes-party-%d.json", i) }
func auxInfoFile(i int) string     { return fmt.Sprintf("aux-info-party-%d.json", i) }
func keyShareFile(i int, w string) string {
	return fmt.Sprintf("keyshare-party-%d-%s.json", i, w)
}
func nodeCertFile(i int) string  { return fmt.Sprintf("node-cert-party-%d.json", i) }
func certTokenFile(i int) string { return fmt.Sprintf("cert-token-party-%d.json", i) }

func saveJSON(path string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("nodestate: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("nodestate: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadJSON reads path into v, reporting found=false (no error) if the
// file does not yet exist.
func loadJSON(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nodestate: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("nodestate: decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// SavePrimes persists pregenerated Paillier primes for partyIndex.
func (s *Store) SavePrimes(r PrimesRecord) error {
	return saveJSON(s.path(primesFile(r.PartyIndex)), r)
}

// LoadPrimes reads back a previously saved primes record, if any.
func (s *Store) LoadPrimes(partyIndex int) (PrimesRecord, bool, error) {
	var r PrimesRecord
	found, err := loadJSON(s.path(primesFile(partyIndex)), &r)
	return r, found, err
}

// SaveAuxInfo persists CGGMP24 auxiliary info for partyIndex.
func (s *Store) SaveAuxInfo(r AuxInfoRecord) error {
	return saveJSON(s.path(auxInfoFile(r.PartyIndex)), r)
}

// LoadAuxInfo reads back a previously saved aux-info record, if any.
func (s *Store) LoadAuxInfo(partyIndex int) (AuxInfoRecord, bool, error) {
	var r AuxInfoRecord
	found, err := loadJSON(s.path(auxInfoFile(partyIndex)), &r)
	return r, found, err
}

// SaveKeyShare persists a node's share of one wallet's signing key.
func (s *Store) SaveKeyShare(r KeyShareRecord) error {
	return saveJSON(s.path(keyShareFile(r.PartyIndex, r.WalletID)), r)
}

// LoadKeyShare reads back a previously saved key share, if any.
func (s *Store) LoadKeyShare(partyIndex int, walletID string) (KeyShareRecord, bool, error) {
	var r KeyShareRecord
	found, err := loadJSON(s.path(keyShareFile(partyIndex, walletID)), &r)
	return r, found, err
}

// SaveNodeCert persists the node's TLS cert/key/CA-cert bundle.
func (s *Store) SaveNodeCert(r NodeCertRecord) error {
	return saveJSON(s.path(nodeCertFile(r.PartyIndex)), r)
}

// LoadNodeCert reads back a previously saved node certificate bundle, if
// any.
func (s *Store) LoadNodeCert(partyIndex int) (NodeCertRecord, bool, error) {
	var r NodeCertRecord
	found, err := loadJSON(s.path(nodeCertFile(partyIndex)), &r)
	return r, found, err
}

// SaveCertToken persists the node's registration token for restart-safe
// re-auth.
func (s *Store) SaveCertToken(r CertTokenRecord) error {
	return saveJSON(s.path(certTokenFile(r.PartyIndex)), r)
}

// LoadCertToken reads back a previously saved cert token, if any.
func (s *Store) LoadCertToken(partyIndex int) (CertTokenRecord, bool, error) {
	var r CertTokenRecord
	found, err := loadJSON(s.path(certTokenFile(partyIndex)), &r)
	return r, found, err
}
