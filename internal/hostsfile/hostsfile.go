// Package hostsfile is the Hosts File Manager (C2): it idempotently
// maintains a single delimited block of loopback alias lines in the OS
// hosts file, atomically and under an advisory lock so two concurrent
// runs converge on one block instead of corrupting each other's writes.
//
// Grounded on original_source/infrastructure/hosts.rs for the marker
// format and block shape; the atomic-write/advisory-lock mechanics follow
// the teacher's own atomic-rename idiom generalized with
// github.com/gofrs/flock (pulled from the corpus's coder-coder go.mod,
// which uses it for exactly this kind of cross-process file coordination).
package hostsfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rai-connect/raiproxy/internal/rlog"
)

const (
	markerBegin = "# BEGIN rai-connect"
	markerEnd   = "# END rai-connect"

	lockRetries = 3
	lockBackoff = 200 * time.Millisecond
)

var log = rlog.New("hostsfile")

// Path returns the OS-standard hosts file location.
func Path() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return filepath.Join(root, `System32`, `drivers`, `etc`, `hosts`)
	}
	return "/etc/hosts"
}

// Manager operates on a single hosts file path, guarded by an advisory
// lock file alongside it.
type Manager struct {
	path string
}

func New() *Manager { return &Manager{path: Path()} }

func (m *Manager) lockPath() string { return m.path + ".rai-connect.lock" }

// withLock runs fn while holding an exclusive advisory lock on the hosts
// file, retrying up to lockRetries times with a fixed backoff before
// failing, per spec.md §4.2's concurrency invariant.
func (m *Manager) withLock(fn func() error) error {
	fl := flock.New(m.lockPath())
	defer fl.Close()

	var locked bool
	var err error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		locked, err = fl.TryLock()
		if err == nil && locked {
			defer fl.Unlock()
			return fn()
		}
		log.Warnf("hosts file lock busy (attempt %d/%d): %v", attempt+1, lockRetries+1, err)
		time.Sleep(lockBackoff)
	}
	return fmt.Errorf("hostsfile: could not acquire lock after %d attempts", lockRetries+1)
}

// EnsureAliases implements C2's ensureAliases(aliases[]): replace the
// delimited block's contents with the current alias set, or append one if
// absent. Lines outside the block are preserved byte-for-byte.
func (m *Manager) EnsureAliases(aliases []string) error {
	return m.withLock(func() error {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return fmt.Errorf("hostsfile: read %s: %w", m.path, err)
		}

		before, _, after, found := splitBlock(raw)
		block := renderBlock(aliases)

		var out bytes.Buffer
		out.Write(before)
		if found && len(before) > 0 && !bytes.HasSuffix(before, []byte("\n")) {
			out.WriteByte('\n')
		}
		if !found && len(raw) > 0 && !bytes.HasSuffix(raw, []byte("\n")) {
			out.WriteByte('\n')
		}
		out.WriteString(block)
		out.Write(after)

		return atomicWrite(m.path, out.Bytes())
	})
}

// RemoveBlock implements C2's removeBlock(): delete the delimited region
// including its markers, leaving at most one adjacent trailing newline.
func (m *Manager) RemoveBlock() error {
	return m.withLock(func() error {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return fmt.Errorf("hostsfile: read %s: %w", m.path, err)
		}

		before, _, after, found := splitBlock(raw)
		if !found {
			return nil
		}

		var out bytes.Buffer
		out.Write(before)
		out.Write(after)
		return atomicWrite(m.path, out.Bytes())
	})
}

// renderBlock produces the marker-delimited block text, one
// "127.0.0.1 <alias>" line per alias, grounded on
// original_source/infrastructure/hosts.rs's generate_hosts_block.
func renderBlock(aliases []string) string {
	var b strings.Builder
	b.WriteString(markerBegin)
	b.WriteByte('\n')
	for _, alias := range aliases {
		fmt.Fprintf(&b, "127.0.0.1 %s\n", alias)
	}
	b.WriteString(markerEnd)
	b.WriteByte('\n')
	return b.String()
}

// splitBlock locates the marker-delimited region, including the markers'
// own lines and exactly one trailing newline, and returns the bytes
// before it, the block itself, and the bytes after it. found is false if
// no block exists, in which case before == raw and after is empty.
func splitBlock(raw []byte) (before, block, after []byte, found bool) {
	startIdx := bytes.Index(raw, []byte(markerBegin))
	if startIdx == -1 {
		return raw, nil, nil, false
	}
	endIdx := bytes.Index(raw, []byte(markerEnd))
	if endIdx == -1 || endIdx < startIdx {
		return raw, nil, nil, false
	}

	lineStart := bytes.LastIndexByte(raw[:startIdx], '\n') + 1

	lineEndRel := bytes.IndexByte(raw[endIdx:], '\n')
	var lineEnd int
	if lineEndRel == -1 {
		lineEnd = len(raw)
	} else {
		lineEnd = endIdx + lineEndRel + 1
	}

	return raw[:lineStart], raw[lineStart:lineEnd], raw[lineEnd:], true
}

// atomicWrite writes to a temp file in the same directory, then renames
// over the destination so readers never observe a partial hosts file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rai-connect-hosts-*")
	if err != nil {
		return fmt.Errorf("hostsfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("hostsfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hostsfile: close temp file: %w", err)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("hostsfile: rename into place: %w", err)
	}
	return nil
}
