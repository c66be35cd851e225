// Package castore owns the root CA used to mint on-the-fly leaf
// certificates for MITM'd TLS connections. Root material is generated
// once and persisted to disk; leaf certificates are minted per host on
// first use, cached, and coalesced across concurrent requests for the
// same host via singleflight, grounded on the MITM handshake shape in
// denisvmedia/go-mitmproxy's ClientHello-driven cert minting.
package castore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store generates and caches TLS certificates for MITM interception.
type Store struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	leafTTL time.Duration

	mu    sync.Mutex
	cache map[string]*tls.Certificate
	order []string // LRU order, oldest first
	cap   int

	group singleflight.Group
}

// Load reads the root CA from certPath/keyPath, generating and
// persisting a fresh one if either file is missing.
func Load(certPath, keyPath string, leafTTLDays, cacheSize int) (*Store, error) {
	cert, key, err := loadOrCreateRoot(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		rootCert: cert,
		rootKey:  key,
		leafTTL:  time.Duration(leafTTLDays) * 24 * time.Hour,
		cache:    make(map[string]*tls.Certificate),
		cap:      cacheSize,
	}, nil
}

func loadOrCreateRoot(certPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)

	if certErr == nil && keyErr == nil {
		cert, key, err := parseRootPEM(certPEM, keyPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing existing root CA: %w", err)
		}
		return cert, key, nil
	}

	cert, key, certBytes, keyBytes, err := generateRoot()
	if err != nil {
		return nil, nil, fmt.Errorf("generating root CA: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating CA directory: %w", err)
	}
	if err := os.WriteFile(certPath, certBytes, 0o644); err != nil {
		return nil, nil, fmt.Errorf("writing root CA cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing root CA key: %w", err)
	}

	return cert, key, nil
}

func parseRootPEM(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("invalid PEM in root CA cert file")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("invalid PEM in root CA key file")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root CA key: %w", err)
	}

	return cert, key, nil
}

func generateRoot() (cert *x509.Certificate, key *rsa.PrivateKey, certPEMBytes, keyPEMBytes []byte, err error) {
	key, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "proxycore Intercept Root",
			Organization: []string{"proxycore"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:               time.Now().AddDate(10, 0, 0),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid:  true,
		IsCA:                   true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cert, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	certPEMBytes = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEMBytes = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return cert, key, certPEMBytes, keyPEMBytes, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// RootPEM returns the root certificate in PEM form, for `proxycore ca
// export` and the /proxy/certificate endpoint.
func (s *Store) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.rootCert.Raw})
}

// LeafFor mints (or returns a cached) leaf certificate for host.
// Concurrent callers for the same host are coalesced onto a single
// mint via singleflight so a burst of simultaneous connections to one
// host never signs the same certificate twice.
func (s *Store) LeafFor(host string) (*tls.Certificate, error) {
	s.mu.Lock()
	if cert, ok := s.cache[host]; ok {
		s.touch(host)
		s.mu.Unlock()
		return cert, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(host, func() (any, error) {
		return s.mintLeaf(host)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (s *Store) mintLeaf(host string) (*tls.Certificate, error) {
	s.mu.Lock()
	if cert, ok := s.cache[host]; ok {
		s.touch(host)
		s.mu.Unlock()
		return cert, nil
	}
	s.mu.Unlock()

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating leaf key for %s: %w", host, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(s.leafTTL),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.rootCert, &leafKey.PublicKey, s.rootKey)
	if err != nil {
		return nil, fmt.Errorf("signing leaf cert for %s: %w", host, err)
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{der, s.rootCert.Raw},
		PrivateKey:  leafKey,
	}

	s.mu.Lock()
	s.insert(host, cert)
	s.mu.Unlock()

	return cert, nil
}

// insert adds a cert to the cache, evicting the least-recently-used
// entry if the cache is at capacity. Caller must hold mu.
func (s *Store) insert(host string, cert *tls.Certificate) {
	if len(s.cache) >= s.cap {
		if len(s.order) > 0 {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.cache, oldest)
		}
	}
	s.cache[host] = cert
	s.order = append(s.order, host)
}

// touch moves host to the back of the LRU order. Caller must hold mu.
func (s *Store) touch(host string) {
	for i, h := range s.order {
		if h == host {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, host)
}

// CacheSize reports the current number of cached leaf certificates.
func (s *Store) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
