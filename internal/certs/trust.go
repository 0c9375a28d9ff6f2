package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LubyRuffy/trustinstall"
)

// trustinstallBaseName is the file basename trustinstall.Client looks for
// under Dir (it appends .crt/.key itself); grounded on
// other_examples/LubyRuffy-trustinstall__main.go's *caName flag.
const trustinstallBaseName = "ca-cert"

// client lazily builds the trustinstall.Client pointed at the same
// directory Bundle persists to. Because mirrorForTrustinstall writes
// ca-cert.crt/ca-cert.key before InstallCA runs, trustinstall finds our own
// CA already on disk and installs it
// as-is instead of generating a second one — the library's own
// "existing file wins" contract (see the Options.CommonName comment in
// the example: used for generation only, ignored once a file exists).
func (b *Bundle) client() (*trustinstall.Client, error) {
	return trustinstall.New(trustinstall.Options{
		Dir:          b.dir,
		FileBaseName: trustinstallBaseName,
		CommonName:   commonName,
		DeleteSame:   boolPtr(true),
	})
}

func boolPtr(v bool) *bool { return &v }

// mirrorForTrustinstall writes the bundle's cert/key a second time under
// the .crt/.key names trustinstall.Client expects. ca-cert.pem/ca-key.pem
// (written by generate/load in bundle.go) remain the canonical files C1
// owns; these are a derived copy solely so the library sees our CA instead
// of generating its own the first time InstallCA runs.
func (b *Bundle) mirrorForTrustinstall() error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.Cert.Raw})
	keyDER, err := x509.MarshalPKCS8PrivateKey(b.Key)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(filepath.Join(b.dir, trustinstallBaseName+".crt"), certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, trustinstallBaseName+".key"), keyPEM, 0o600)
}

// InstallToSystemTrust implements C1's installToSystemTrust(): add the
// bundle's certificate to the OS root trust store. trustinstall.InstallCA
// is documented as safe to call repeatedly — an existing matching
// certificate is left alone — so a second call during the same run is a
// no-op rather than an error, per spec.md §4.1's failure semantics.
func (b *Bundle) InstallToSystemTrust() error {
	if err := b.mirrorForTrustinstall(); err != nil {
		return fmt.Errorf("certs: stage CA for trust install: %w", err)
	}

	ti, err := b.client()
	if err != nil {
		return fmt.Errorf("certs: build trust installer: %w", err)
	}
	if err := ti.InstallCA(); err != nil {
		return fmt.Errorf("certs: install CA to system trust store: %w", err)
	}
	return nil
}

// UninstallFromSystemTrust implements C1's uninstallFromSystemTrust():
// remove the bundle's certificate from the OS trust store by subject and
// fingerprint match, never by a CN substring search that could catch an
// unrelated certificate sharing the same common name.
func (b *Bundle) UninstallFromSystemTrust() error {
	ti, err := b.client()
	if err != nil {
		return fmt.Errorf("certs: build trust installer: %w", err)
	}
	if err := ti.UninstallCA(); err != nil {
		return fmt.Errorf("certs: uninstall CA from system trust store: %w", err)
	}
	return nil
}
