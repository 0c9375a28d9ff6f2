package router

import "testing"

func testTable() Table {
	return Table{
		OfficialBaseHost:    "ppy.sh",
		MirrorAPIBaseURL:    "https://catboy.best",
		MirrorDirectBaseURL: "https://catboy.best",
	}
}

func TestClassifyBanchoHost(t *testing.T) {
	got := testTable().Classify("c.ppy.sh", "POST", "/")
	if got.Kind != BanchoSplice {
		t.Fatalf("Kind = %v, want BanchoSplice", got.Kind)
	}
}

func TestClassifyBanchoAliases(t *testing.T) {
	for _, host := range []string{"c1.ppy.sh", "ce.ppy.sh"} {
		route := testTable().Classify(host, "GET", "/")
		if route.Kind != UpstreamPassthrough {
			t.Fatalf("%s: Kind = %v, want UpstreamPassthrough (only c.<official> splices)", host, route.Kind)
		}
		if route.TargetHost != "c.ppy.sh" {
			t.Fatalf("%s: TargetHost = %q, want folded to c.ppy.sh", host, route.TargetHost)
		}
	}
}

func TestClassifyMirrorForward(t *testing.T) {
	cases := []string{
		"/web/osu-search.php?q=test",
		"/web/osu-search-set.php?b=1",
		"/web/osu-getbeatmapinfo.php",
	}
	for _, path := range cases {
		route := testTable().Classify("osu.ppy.sh", "GET", pathOnly(path))
		if route.Kind != MirrorForward {
			t.Fatalf("%s: Kind = %v, want MirrorForward", path, route.Kind)
		}
		if route.ForwardBaseURL != "https://catboy.best" {
			t.Fatalf("%s: ForwardBaseURL = %q", path, route.ForwardBaseURL)
		}
	}
}

func TestClassifyBeatmapDownload(t *testing.T) {
	for _, path := range []string{"/d/123456", "/d/123456n"} {
		route := testTable().Classify("osu.ppy.sh", "GET", path)
		if route.Kind != MirrorRedirect {
			t.Fatalf("%s: Kind = %v, want MirrorRedirect", path, route.Kind)
		}
		want := "https://catboy.best" + path
		if route.RedirectURL != want {
			t.Fatalf("%s: RedirectURL = %q, want %q", path, route.RedirectURL, want)
		}
	}
}

func TestClassifyThumbAndPreview(t *testing.T) {
	for _, path := range []string{"/thumb/123456l.jpg", "/preview/123456.mp3"} {
		route := testTable().Classify("b.ppy.sh", "GET", path)
		if route.Kind != MirrorRedirect {
			t.Fatalf("%s: Kind = %v, want MirrorRedirect", path, route.Kind)
		}
	}
}

func TestClassifyScoreSubmissionForwardsUpstream(t *testing.T) {
	route := testTable().Classify("osu.ppy.sh", "POST", "/web/osu-submit-modular-selector.php")
	if route.Kind != UpstreamPassthrough {
		t.Fatalf("Kind = %v, want UpstreamPassthrough", route.Kind)
	}
	if route.TargetHost != "osu.ppy.sh" {
		t.Fatalf("TargetHost = %q", route.TargetHost)
	}
}

func TestClassifyUnknownSubdomainPassesThrough(t *testing.T) {
	route := testTable().Classify("s.ppy.sh", "GET", "/")
	if route.Kind != UpstreamPassthrough {
		t.Fatalf("Kind = %v, want UpstreamPassthrough", route.Kind)
	}
	if route.TargetHost != "s.ppy.sh" {
		t.Fatalf("TargetHost = %q, want s.ppy.sh", route.TargetHost)
	}
}

func TestClassifyMisdirectsUnrelatedHost(t *testing.T) {
	route := testTable().Classify("evil.example.com", "GET", "/web/osu-search.php")
	if route.Kind != Misdirected {
		t.Fatalf("Kind = %v, want Misdirected", route.Kind)
	}
}

func TestClassifyRejectsLookalikeDomains(t *testing.T) {
	cases := []struct{ host, path string }{
		{"osu.ppy.sh.evil.com", "/web/osu-search.php"},
		{"fakeosu.ppy.sh", "/web/osu-search.php"},
		{"b.ppy.sh.evil.com", "/thumb/1.jpg"},
	}
	for _, c := range cases {
		route := testTable().Classify(c.host, "GET", c.path)
		if route.Kind == MirrorForward || route.Kind == MirrorRedirect {
			t.Fatalf("%s%s: Kind = %v, lookalike domain must not match a mirror route", c.host, c.path, route.Kind)
		}
	}
}

func TestClassifyStripsPort(t *testing.T) {
	route := testTable().Classify("osu.ppy.sh:443", "GET", "/d/123456")
	if route.Kind != MirrorRedirect {
		t.Fatalf("Kind = %v, want MirrorRedirect", route.Kind)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	table := testTable()
	a := table.Classify("c.ppy.sh", "POST", "/")
	b := table.Classify("c.ppy.sh", "POST", "/")
	if a != b {
		t.Fatalf("Classify is not deterministic: %+v != %+v", a, b)
	}
}

// pathOnly mimics req.URL.Path: the part before any '?'.
func pathOnly(pathAndQuery string) string {
	for i, r := range pathAndQuery {
		if r == '?' {
			return pathAndQuery[:i]
		}
	}
	return pathAndQuery
}
