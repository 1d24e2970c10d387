// Package pki implements the minimal Certificate Authority of §6: it
// signs node certificates with CN "node-{id}" against a one-time
// cert_token issued by the registry, and serves its own CA certificate for
// peers to validate against (mutual CA validation, §4.C, §6).
package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertValidity is how long an issued node certificate remains valid.
const CertValidity = 365 * 24 * time.Hour

// CAValidity is how long the CA's own self-signed certificate remains
// valid.
const CAValidity = 5 * 365 * 24 * time.Hour

// CA is a minimal in-process certificate authority. It holds the
// cluster's root key and signs node leaf certificates on demand; nothing
// about it is specific to any external CA product.
type CA struct {
	cert    *x509.Certificate
	key     *ecdsa.PrivateKey
	certPEM []byte
}

// NewCA generates a fresh self-signed CA certificate and key.
func NewCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pki: generate ca key: %w", err)
	}

	serial, err := randSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "torcus-wallet-cluster-ca"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(CAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("pki: create ca certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: parse ca certificate: %w", err)
	}

	return &CA{
		cert:    cert,
		key:     key,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// CACertPEM returns the CA's own certificate in PEM form.
func (ca *CA) CACertPEM() []byte {
	return append([]byte(nil), ca.certPEM...)
}

// IssueNodeCert signs a fresh leaf certificate and key for partyIndex,
// with CN "node-{i}" per §4.C's identity extraction convention and SANs
// for every hostname the node presents.
func (ca *CA) IssueNodeCert(partyIndex int, hostnames []string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("pki: generate node key: %w", err)
	}

	serial, err := randSerial()
	if err != nil {
		return nil, nil, err
	}

	cn := fmt.Sprintf("node-%d", partyIndex)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(CertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     dnsNames(hostnames),
		IPAddresses:  ipAddresses(hostnames),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("pki: sign node certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("pki: marshal node key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// TLSCertificate loads an issued cert/key pair into a tls.Certificate
// suitable for the QUIC backend's tls.Config.
func TLSCertificate(certPEM, keyPEM []byte) (tls.Certificate, error) {
	return tls.X509KeyPair(certPEM, keyPEM)
}

func dnsNames(hostnames []string) []string {
	out := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		if net.ParseIP(h) == nil {
			out = append(out, h)
		}
	}
	return out
}

func ipAddresses(hostnames []string) []net.IP {
	out := make([]net.IP, 0, len(hostnames))
	for _, h := range hostnames {
		if ip := net.ParseIP(h); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func randSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("pki: generate serial: %w", err)
	}
	return serial, nil
}
