package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/stackctl/internal/backend"
)

// EmbeddedBackend backs up the single-file embedded engine by copying
// the database file. Callers must run the stop sequence first; copying
// a file another process is writing yields a corrupt artifact.
type EmbeddedBackend struct {
	System    string // artifact name prefix, e.g. "appstack"
	DBPath    string // live database file
	BackupDir string
	// now is overridable in tests to pin artifact names.
	now func() time.Time
}

func NewEmbedded(system, dbPath, backupDir string) *EmbeddedBackend {
	return &EmbeddedBackend{System: system, DBPath: dbPath, BackupDir: backupDir, now: time.Now}
}

func (e *EmbeddedBackend) Kind() backend.Kind { return backend.Embedded }

// Backup copies the database file into the backup directory. A missing
// source is fatal: there is nothing to back up, and proceeding would
// manufacture an empty artifact a later rollback could trust.
func (e *EmbeddedBackend) Backup(ctx context.Context) (Artifact, error) {
	if _, err := os.Stat(e.DBPath); errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrMissingSource, e.DBPath)
	}
	if err := os.MkdirAll(e.BackupDir, 0o750); err != nil {
		return Artifact{}, err
	}
	ts := e.now()
	dst := filepath.Join(e.BackupDir, ArtifactName(e.System, backend.Embedded, ts, "db"))
	tmp := dst + partialSuffix
	size, err := copyFile(e.DBPath, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("copy %s: %w", e.DBPath, err)
	}
	if err := verifySQLite(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	return Artifact{Kind: backend.Embedded, Timestamp: ts, Source: e.DBPath, Path: dst, Size: size}, nil
}

// Restore copies the artifact over the live database file, again via a
// temp path in the same directory so the live file is replaced by a
// single rename.
func (e *EmbeddedBackend) Restore(ctx context.Context, a Artifact) error {
	if _, err := os.Stat(a.Path); err != nil {
		return fmt.Errorf("%w: %s", ErrNoArtifact, a.Path)
	}
	if err := verifySQLite(ctx, a.Path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.DBPath), 0o750); err != nil {
		return err
	}
	tmp := e.DBPath + partialSuffix
	if _, err := copyFile(a.Path, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("restore copy %s: %w", a.Path, err)
	}
	if err := os.Rename(tmp, e.DBPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// verifySQLite opens the file read-only and runs a quick integrity
// check, catching truncated copies before they are promoted to
// artifacts or restored over live data.
func verifySQLite(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	var status string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check(1);").Scan(&status); err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	if status != "ok" {
		return fmt.Errorf("integrity check %s: %s", path, status)
	}
	return nil
}
