// Package backup produces and restores timestamped artifacts of the
// active storage backend. The two backends implement the same
// Backup/Restore pair and are selected by configuration, never by type
// switches in callers.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/stackctl/internal/backend"
)

// TimestampLayout is embedded in artifact names. Lexicographic order of
// names equals chronological order, so "most recent" is decided by name
// ordering rather than file mtime, which survives clock and timezone
// drift across environments.
const TimestampLayout = "20060102_150405"

var (
	// ErrMissingSource means there is nothing to back up.
	ErrMissingSource = errors.New("backup source does not exist")
	// ErrNoArtifact means no restorable artifact exists for the
	// requested backend.
	ErrNoArtifact = errors.New("no backup artifact found")
)

// Artifact is one immutable backup output plus its metadata.
type Artifact struct {
	Kind      backend.Kind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"`
	Path      string       `json:"path"`
	Size      int64        `json:"size"`
}

// Backend is one storage backend's backup/restore capability.
type Backend interface {
	Kind() backend.Kind
	// Backup writes a new artifact into the backup directory. The
	// artifact is all-or-nothing: it appears at its final path only
	// after the backup completed successfully.
	Backup(ctx context.Context) (Artifact, error)
	// Restore overwrites the live data location from an artifact.
	Restore(ctx context.Context, a Artifact) error
}

// ArtifactName builds the canonical artifact file name for a system,
// backend kind and timestamp.
func ArtifactName(system string, kind backend.Kind, ts time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", system, kind, ts.Format(TimestampLayout), ext)
}

// Latest returns the most recent artifact in dir for the given system
// and backend kind, decided by descending name order. Returns
// ErrNoArtifact when the directory is missing, empty, or holds no
// matching artifact.
func Latest(dir, system string, kind backend.Kind) (Artifact, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, ErrNoArtifact
	}
	if err != nil {
		return Artifact{}, err
	}
	prefix := fmt.Sprintf("%s_%s_", system, kind)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, partialSuffix) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Artifact{}, ErrNoArtifact
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	name := names[0]
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	ts, err := parseArtifactTimestamp(name, prefix)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Kind: kind, Timestamp: ts, Path: path, Size: info.Size()}, nil
}

// partialSuffix marks in-progress artifact writes. Anything carrying it
// is invisible to Latest and safe to delete.
const partialSuffix = ".partial"

func parseArtifactTimestamp(name, prefix string) (time.Time, error) {
	rest := strings.TrimPrefix(name, prefix)
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	ts, err := time.ParseInLocation(TimestampLayout, rest, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("artifact name %s: %w", name, err)
	}
	return ts, nil
}

// copyFile copies src to dst, fsyncing dst before returning. dst is
// truncated if it already exists.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return n, err
	}
	return n, out.Close()
}
