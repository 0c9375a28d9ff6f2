package certs

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateProducesValidCA(t *testing.T) {
	dir := t.TempDir()

	b, err := generate(dir, []string{"osu.ppy.sh", "c.ppy.sh"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !b.Cert.IsCA {
		t.Fatal("generated certificate is not CA:TRUE")
	}
	if b.Cert.MaxPathLen != 0 || !b.Cert.MaxPathLenZero {
		t.Fatalf("expected pathLen:0, got %d zero=%v", b.Cert.MaxPathLen, b.Cert.MaxPathLenZero)
	}
	if b.Cert.Subject.CommonName != commonName {
		t.Fatalf("CN = %q, want %q", b.Cert.Subject.CommonName, commonName)
	}
	if b.Cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		t.Fatal("missing keyCertSign usage")
	}
	if time.Until(b.Cert.NotAfter) < 9*365*24*time.Hour {
		t.Fatalf("validity too short: notAfter=%s", b.Cert.NotAfter)
	}

	hasLocalhost := false
	for _, name := range b.Cert.DNSNames {
		if name == "localhost" {
			hasLocalhost = true
		}
	}
	if !hasLocalhost {
		t.Fatal("SAN list missing localhost")
	}

	if len(b.TLSCert.Certificate) == 0 {
		t.Fatal("TLSCert has no certificate chain")
	}
}

func TestEnsureReusesExistingBundle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	first, err := Ensure([]string{"osu.ppy.sh"})
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	second, err := Ensure([]string{"osu.ppy.sh"})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	if first.Cert.SerialNumber.Cmp(second.Cert.SerialNumber) != 0 {
		t.Fatal("Ensure regenerated the bundle instead of reusing it")
	}
}

func TestExpiringSoonFlagsNearExpiry(t *testing.T) {
	dir := t.TempDir()

	b, err := generate(dir, []string{"osu.ppy.sh"})
	if err != nil {
		t.Fatal(err)
	}
	if !expiringSoon(&x509.Certificate{NotAfter: time.Now().Add(10 * 24 * time.Hour)}) {
		t.Fatal("expected certificate expiring in 10 days to be flagged for renewal")
	}
	if expiringSoon(b.Cert) {
		t.Fatal("freshly generated certificate should not be flagged for renewal")
	}
}
