// Package certs is the Trust Anchor (C1): it generates and persists the
// proxy's CA-capable certificate, installs it into the OS trust store, and
// mints per-SNI leaf certificates for the TLS terminator.
//
// Key generation is ECDSA P-256 via crypto/ecdsa/crypto/x509 (stdlib): the
// corpus has no ecosystem library that builds a CA:TRUE certificate the way
// original_source/infrastructure/tls.rs's rcgen does for a single
// self-signed leaf, and this is plain enough stdlib territory that pulling
// in a dependency for it would just be indirection.
package certs

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
	"os"
	"path/filepath"
	"time"

	"github.com/rai-connect/raiproxy/internal/rlog"
)

const (
	commonName = "rai-connect local"
	validity   = 10 * 365 * 24 * time.Hour
	renewWithin = 30 * 24 * time.Hour
)

var log = rlog.New("certs")

// Bundle is spec.md §3's CertificateBundle: a DER-encoded CA certificate
// and its PKCS#8 private key, held in memory after Ensure loads or
// generates them. C1 exclusively owns the files on disk; C3 holds this
// value by reference, read-only.
type Bundle struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey

	// TLSCert is the tls.Certificate form, built once and used as the
	// signing input for per-SNI leaf minting in leaf.go; the CA itself is
	// never presented on the wire.
	TLSCert tls.Certificate

	dir string
}

func certPath(dir string) string { return filepath.Join(dir, "ca-cert.pem") }
func keyPath(dir string) string  { return filepath.Join(dir, "ca-key.pem") }

// Dir returns the stable on-disk location for the bundle: the user's local
// application data directory, under a rai-connect/ca subtree.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "rai-connect", "ca"), nil
}

// Ensure implements C1's ensure() operation: load the on-disk bundle if
// present and not within 30 days of expiry, otherwise generate a fresh
// CA certificate and persist it. aliases populates the SAN list; at least
// "localhost" is always included per the CertificateBundle invariant.
func Ensure(aliases []string) (*Bundle, error) {
	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("certs: resolve bundle dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certs: create bundle dir: %w", err)
	}

	if b, err := load(dir); err == nil && !expiringSoon(b.Cert) {
		log.Infof("reusing existing CA bundle (expires %s)", b.Cert.NotAfter.Format(time.RFC3339))
		return b, nil
	}

	log.Info("generating new CA bundle")
	b, err := generate(dir, aliases)
	if err != nil {
		return nil, fmt.Errorf("certs: generate CA bundle: %w", err)
	}
	return b, nil
}

func expiringSoon(cert *x509.Certificate) bool {
	return time.Until(cert.NotAfter) < renewWithin
}

func load(dir string) (*Bundle, error) {
	certPEM, err := os.ReadFile(certPath(dir))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath(dir))
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("certs: malformed cert PEM at %s", certPath(dir))
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("certs: malformed key PEM at %s", keyPath(dir))
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA key: %w", err)
	}
	key, ok := keyAny.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certs: CA key is not ECDSA")
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("certs: key/cert mismatch: %w", err)
	}

	return &Bundle{Cert: cert, Key: key, TLSCert: tlsCert, dir: dir}, nil
}

func generate(dir string, aliases []string) (*Bundle, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		DNSNames:              sansFor(aliases),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath(dir), certPEM, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath(dir), keyPEM, 0o600); err != nil {
		return nil, err
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &Bundle{Cert: cert, Key: key, TLSCert: tlsCert, dir: dir}, nil
}

// sansFor always includes localhost, per the CertificateBundle invariant,
// plus every configured alias as a DNS name. Aliases that parse as IP
// addresses are dropped; no IP SANs are produced.
func sansFor(aliases []string) []string {
	names := map[string]struct{}{"localhost": {}}
	for _, a := range aliases {
		names[a] = struct{}{}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		if net.ParseIP(n) != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
