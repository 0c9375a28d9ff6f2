// Package config holds ProxyConfig, the single immutable configuration
// value threaded through every component at start(). Reconfiguration is
// deliberately not supported here: a change requires stop + start, the way
// the teacher's own Config is built once via NewConfig and never mutated
// after a listener is bound.
package config

import "fmt"

// ProxyConfig is spec.md §3's ProxyConfig data model, unchanged. It is
// immutable for the lifetime of a single run.
type ProxyConfig struct {
	BindAddress       string `yaml:"bindAddress"`
	HTTPSPort         int    `yaml:"httpsPort"`
	OfficialBaseHost  string `yaml:"officialBaseHost"`
	MirrorAPIBaseURL  string `yaml:"mirrorApiBaseUrl"`
	MirrorDirectBaseURL string `yaml:"mirrorDirectBaseUrl"`
	InjectSupporter   bool   `yaml:"injectSupporter"`
}

// Default returns the configuration the CLI harness falls back to when no
// bootstrap file is present.
func Default() ProxyConfig {
	return ProxyConfig{
		BindAddress:         "127.0.0.1",
		HTTPSPort:           443,
		OfficialBaseHost:    "ppy.sh",
		MirrorAPIBaseURL:    "https://catboy.best",
		MirrorDirectBaseURL: "https://catboy.best",
		InjectSupporter:     true,
	}
}

// Addr returns the bindAddress:httpsPort pair the TLS terminator listens on.
func (c ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.HTTPSPort)
}

// Aliases returns the minimum set of hostnames the hosts file and the
// certificate's SANs must cover, per spec.md's design note 9: the four
// official subdomains the Bancho client actually resolves, plus their
// .localhost mirrors for local-only testing. C1 and C2 both derive their
// working set from this single function so they can never drift apart.
func (c ProxyConfig) Aliases() []string {
	official := c.OfficialBaseHost
	subdomains := []string{"osu", "c", "b", "a"}

	aliases := make([]string, 0, len(subdomains)*2)
	for _, sub := range subdomains {
		aliases = append(aliases, sub+"."+official)
	}
	for _, sub := range subdomains {
		aliases = append(aliases, sub+".localhost")
	}
	return aliases
}

// BanchoHost is the SNI host C4 matches to route a connection to C6.
func (c ProxyConfig) BanchoHost() string {
	return "c." + c.OfficialBaseHost
}
