// Package certs mints per-host leaf certificates signed by a locally
// generated CA, grounded on original_source/proxy/MitmCert.c's
// generate_domain_cert() shape (key, CSR-equivalent, CA-signed cert,
// SAN/keyUsage/extendedKeyUsage extensions, file permissions) but
// redesigned per the spec's own guidance: instead of shelling out to the
// openssl CLI, key generation and signing happen entirely in-process with
// crypto/rsa, crypto/x509, and encoding/pem.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitmcache/proxy/internal/util/log"
)

// ErrMintFailure covers any failure minting or loading a certificate.
var ErrMintFailure = errors.New("certs: mint failed")

const rsaKeyBits = 2048

// Minter generates and caches a CA plus per-host leaf certificates under
// WorkingDir, matching §4.7's file layout.
type Minter struct {
	WorkingDir string
	TTL        time.Duration

	mu     sync.Mutex
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

// New returns a Minter rooted at workingDir, generating or loading the CA
// on first use.
func New(workingDir string, ttlDays int) *Minter {
	if ttlDays <= 0 {
		ttlDays = 365
	}
	return &Minter{WorkingDir: workingDir, TTL: time.Duration(ttlDays) * 24 * time.Hour}
}

func (m *Minter) caPaths() (string, string) {
	return filepath.Join(m.WorkingDir, "mitmproxyCA.crt"), filepath.Join(m.WorkingDir, "mitmproxyCA.key")
}

// ensureCA loads the CA from disk if both files exist, else generates a
// fresh self-signed root and writes it out.
func (m *Minter) ensureCA() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.caCert != nil && m.caKey != nil {
		return nil
	}

	if err := os.MkdirAll(m.WorkingDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	crtPath, keyPath := m.caPaths()
	if fileExists(crtPath) && fileExists(keyPath) {
		cert, key, err := loadCertAndKey(crtPath, keyPath)
		if err == nil {
			m.caCert, m.caKey = cert, key
			return nil
		}
		log.Warn("failed to load existing CA, regenerating", log.Pairs{"error": err.Error()})
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "mitmproxyCA",
			Country:      []string{"US"},
			Province:     []string{"State"},
			Locality:     []string{"City"},
			Organization: []string{"Organization"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	if err := writeCert(crtPath, der); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}
	if err := writeKey(keyPath, key); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	m.caCert, m.caKey = cert, key
	return nil
}

// Mint returns the (cert_path, key_path) for host, generating them if
// absent. If both files already exist for host, they are returned
// unchanged (§4.7 step 0).
func (m *Minter) Mint(host string) (certPath, keyPath string, err error) {
	certPath = filepath.Join(m.WorkingDir, host+".crt")
	keyPath = filepath.Join(m.WorkingDir, host+".key")

	if fileExists(certPath) && fileExists(keyPath) {
		return certPath, keyPath, nil
	}

	if err := m.ensureCA(); err != nil {
		return "", "", err
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   host,
			Country:      []string{"US"},
			Province:     []string{"State"},
			Locality:     []string{"City"},
			Organization: []string{"Organization"},
			OrganizationalUnit: []string{"Organizational Unit"},
		},
		DNSNames:    []string{host, "*." + host},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(m.TTL),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	m.mu.Lock()
	ca, caKey := m.caCert, m.caKey
	m.mu.Unlock()

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	if err := writeCert(certPath, der); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMintFailure, err)
	}
	if err := writeKey(keyPath, key); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMintFailure, err)
	}

	return certPath, keyPath, nil
}

// LoadTLSCertificate mints (if needed) and loads host's leaf certificate as
// a tls.Certificate ready for a server-side TLS handshake.
func (m *Minter) LoadTLSCertificate(host string) (*tls.Certificate, error) {
	certPath, keyPath, err := m.Mint(host)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMintFailure, err)
	}
	return &cert, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeCert(path string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func writeKey(path string, key *rsa.PrivateKey) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func loadCertAndKey(crtPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	crtBytes, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode(crtBytes)
	if block == nil {
		return nil, nil, errors.New("certs: invalid PEM in CA cert")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, err
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	keyBlock, _ := pem.Decode(keyBytes)
	if keyBlock == nil {
		return nil, nil, errors.New("certs: invalid PEM in CA key")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}
