package certs

import (
	"crypto/tls"

	"github.com/elazarl/goproxy"
)

// Leaf mints a short-lived, host-specific certificate signed by the
// bundle's CA, the way a MITM proxy presents a leaf instead of its root to
// avoid every client caching the same single certificate. Grounded
// directly on the teacher's tls.go FromCA: goproxy.TLSConfigFromCA returns
// a (host, *ProxyCtx) -> (*tls.Config, error) closure that signs on first
// use; the ProxyCtx only needs a live Proxy field to satisfy its internal
// logging, exactly as FromCA constructs it.
func (b *Bundle) Leaf(sni string) (tls.Certificate, error) {
	cfg, err := goproxy.TLSConfigFromCA(&b.TLSCert)(sni, &goproxy.ProxyCtx{
		Proxy: goproxy.NewProxyHttpServer(),
	})
	if err != nil {
		return tls.Certificate{}, err
	}
	return cfg.Certificates[0], nil
}
