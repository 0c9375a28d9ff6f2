package hostsfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newManager(t *testing.T, initial string) *Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Manager{path: path}
}

func read(t *testing.T, m *Manager) string {
	t.Helper()
	raw, err := os.ReadFile(m.path)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestEnsureAliasesAppendsBlockWhenAbsent(t *testing.T) {
	m := newManager(t, "127.0.0.1 localhost\n")

	if err := m.EnsureAliases([]string{"osu.ppy.sh", "c.ppy.sh"}); err != nil {
		t.Fatal(err)
	}

	got := read(t, m)
	if !strings.Contains(got, "127.0.0.1 localhost\n") {
		t.Fatal("pre-existing line was not preserved")
	}
	if !strings.Contains(got, markerBegin) || !strings.Contains(got, markerEnd) {
		t.Fatal("block markers missing")
	}
	if !strings.Contains(got, "127.0.0.1 osu.ppy.sh\n") || !strings.Contains(got, "127.0.0.1 c.ppy.sh\n") {
		t.Fatal("expected alias lines missing")
	}
}

func TestEnsureAliasesIsIdempotent(t *testing.T) {
	m := newManager(t, "::1 localhost\n")

	if err := m.EnsureAliases([]string{"osu.ppy.sh"}); err != nil {
		t.Fatal(err)
	}
	first := read(t, m)

	if err := m.EnsureAliases([]string{"osu.ppy.sh"}); err != nil {
		t.Fatal(err)
	}
	second := read(t, m)

	if first != second {
		t.Fatalf("applying the same alias set twice changed the file:\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}
}

func TestEnsureAliasesReplacesExistingBlock(t *testing.T) {
	m := newManager(t, "")

	if err := m.EnsureAliases([]string{"osu.ppy.sh"}); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureAliases([]string{"c.ppy.sh"}); err != nil {
		t.Fatal(err)
	}

	got := read(t, m)
	if strings.Contains(got, "osu.ppy.sh") {
		t.Fatal("stale alias from the previous call survived")
	}
	if !strings.Contains(got, "c.ppy.sh") {
		t.Fatal("new alias missing")
	}
	if strings.Count(got, markerBegin) != 1 {
		t.Fatalf("expected exactly one block, got:\n%s", got)
	}
}

func TestRemoveBlockPreservesSurroundingLines(t *testing.T) {
	m := newManager(t, "127.0.0.1 other.example\n")

	if err := m.EnsureAliases([]string{"osu.ppy.sh"}); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveBlock(); err != nil {
		t.Fatal(err)
	}

	got := read(t, m)
	if strings.Contains(got, markerBegin) {
		t.Fatal("block markers still present after RemoveBlock")
	}
	if !strings.Contains(got, "127.0.0.1 other.example\n") {
		t.Fatal("surrounding line was not preserved")
	}
}

func TestRemoveBlockOnAbsentBlockIsNoop(t *testing.T) {
	m := newManager(t, "127.0.0.1 other.example\n")
	before := read(t, m)

	if err := m.RemoveBlock(); err != nil {
		t.Fatal(err)
	}

	if got := read(t, m); got != before {
		t.Fatalf("RemoveBlock mutated a file with no block:\nbefore: %q\nafter: %q", before, got)
	}
}

func TestSplitBlockFindsMarkers(t *testing.T) {
	raw := []byte("a\n" + markerBegin + "\n127.0.0.1 x\n" + markerEnd + "\nb\n")
	before, block, after, found := splitBlock(raw)
	if !found {
		t.Fatal("expected block to be found")
	}
	if string(before) != "a\n" {
		t.Fatalf("before = %q", before)
	}
	if string(after) != "b\n" {
		t.Fatalf("after = %q", after)
	}
	if !strings.Contains(string(block), "127.0.0.1 x") {
		t.Fatalf("block missing alias line: %q", block)
	}
}
