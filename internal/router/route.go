// Package router is the HTTP Router (C4): it reads one HTTP/1.1 request
// off a terminated connection's plaintext stream and classifies it by SNI
// host, method, and path into a Route, per spec.md §4.4's fixed table.
//
// Grounded on original_source/domain/routing.rs for the exact host/path
// matching rules (including the c1./ce. Bancho aliases that file documents
// as a supplement, which are not spliced but passed through upstream with
// their target folded onto c.<official>) and on the
// teacher's detector.go for the style of a small fixed lookup table over
// HTTP methods.
package router

import (
	"fmt"
	"strings"
)

// Kind tags which Route variant matched.
type Kind int

const (
	MirrorRedirect Kind = iota
	MirrorForward
	BanchoSplice
	UpstreamPassthrough
	Misdirected
)

func (k Kind) String() string {
	switch k {
	case MirrorRedirect:
		return "mirror-redirect"
	case MirrorForward:
		return "mirror-forward"
	case BanchoSplice:
		return "bancho-splice"
	case UpstreamPassthrough:
		return "upstream-passthrough"
	default:
		return "misdirected"
	}
}

// Route is spec.md §3's tagged Route value. Not every field is populated
// for every Kind: RedirectURL only for MirrorRedirect, ForwardBaseURL only
// for MirrorForward, TargetHost only for UpstreamPassthrough.
type Route struct {
	Kind          Kind
	RedirectURL   string
	ForwardBaseURL string
	TargetHost    string
}

// Table classifies a request by its terminated connection's SNI host plus
// the request's method and path, per spec.md §4.4. First match wins.
type Table struct {
	OfficialBaseHost    string
	MirrorAPIBaseURL    string
	MirrorDirectBaseURL string
}

// Classify implements C4's classification table.
func (t Table) Classify(sniHost, method, path string) Route {
	host := stripPort(sniHost)
	official := t.OfficialBaseHost

	if host == "c."+official {
		return Route{Kind: BanchoSplice}
	}

	if host == "osu."+official && method == "GET" {
		switch {
		case hasPathPrefix(path, "/web/osu-search.php"),
			hasPathPrefix(path, "/web/osu-search-set.php"),
			hasPathPrefix(path, "/web/osu-getbeatmapinfo.php"):
			return Route{Kind: MirrorForward, ForwardBaseURL: t.MirrorAPIBaseURL}
		case isBeatmapDownloadPath(path):
			return Route{Kind: MirrorRedirect, RedirectURL: rewriteBase(t.MirrorDirectBaseURL, path)}
		}
	}

	if host == "b."+official && method == "GET" {
		if hasPathPrefix(path, "/thumb/") || hasPathPrefix(path, "/preview/") {
			return Route{Kind: MirrorRedirect, RedirectURL: rewriteBase(t.MirrorDirectBaseURL, path)}
		}
	}

	if strings.HasSuffix(host, "."+official) || host == official {
		return Route{Kind: UpstreamPassthrough, TargetHost: canonicalHost(host, official)}
	}

	return Route{Kind: Misdirected}
}

// canonicalHost folds known Bancho aliases (c1., ce.) onto the single
// c.<official> host, per original_source/domain/routing.rs's
// map_host_to_ppy; every other *.<official> host forwards to itself.
func canonicalHost(host, official string) string {
	switch {
	case strings.HasPrefix(host, "c1.") || strings.HasPrefix(host, "ce.") || strings.HasPrefix(host, "c."):
		return "c." + official
	default:
		return host
	}
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		return host[:i]
	}
	return host
}

func hasPathPrefix(path, prefix string) bool {
	return strings.HasPrefix(path, prefix)
}

// isBeatmapDownloadPath matches /d/<id> or /d/<id>n, the novideo variant.
func isBeatmapDownloadPath(path string) bool {
	if !strings.HasPrefix(path, "/d/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/d/")
	rest = strings.TrimSuffix(rest, "n")
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func rewriteBase(base, path string) string {
	return fmt.Sprintf("%s%s", strings.TrimSuffix(base, "/"), path)
}
