package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/stackctl/internal/backend"
)

// makeDB creates a small valid SQLite database at path.
func makeDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(`CREATE TABLE products(id INTEGER PRIMARY KEY, name TEXT);`); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO products(name) VALUES ('widget'), ('gadget');`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func newTestEmbedded(t *testing.T) (*EmbeddedBackend, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "appstack.db")
	makeDB(t, dbPath)
	e := NewEmbedded("appstack", dbPath, filepath.Join(dir, "backups"))
	return e, dbPath
}

func TestEmbeddedBackupMissingSourceIsFatal(t *testing.T) {
	dir := t.TempDir()
	e := NewEmbedded("appstack", filepath.Join(dir, "absent.db"), filepath.Join(dir, "backups"))
	if _, err := e.Backup(context.Background()); !errors.Is(err, ErrMissingSource) {
		t.Fatalf("want ErrMissingSource, got %v", err)
	}
}

func TestEmbeddedBackupRoundTrip(t *testing.T) {
	e, dbPath := newTestEmbedded(t)
	before, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}

	art, err := e.Backup(context.Background())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if art.Size != int64(len(before)) {
		t.Fatalf("artifact size want %d got %d", len(before), art.Size)
	}

	// corrupt the live file, then restore
	if err := os.WriteFile(dbPath, []byte("garbage"), 0o640); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if err := e.Restore(context.Background(), art); err != nil {
		t.Fatalf("restore: %v", err)
	}
	after, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("restored file differs: %d vs %d bytes", len(before), len(after))
	}
}

func TestEmbeddedBackupRejectsCorruptSource(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "appstack.db")
	if err := os.WriteFile(dbPath, []byte("this is not a database"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := NewEmbedded("appstack", dbPath, filepath.Join(dir, "backups"))
	if _, err := e.Backup(context.Background()); err == nil {
		t.Fatalf("expected integrity failure")
	}
	// a failed backup must leave nothing discoverable
	if _, err := Latest(e.BackupDir, "appstack", backend.Embedded); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("partial artifact visible: %v", err)
	}
}

func TestEmbeddedBackupNamesEmbedTimestamp(t *testing.T) {
	e, _ := newTestEmbedded(t)
	fixed := time.Date(2024, 6, 1, 10, 30, 0, 0, time.Local)
	e.now = func() time.Time { return fixed }

	art, err := e.Backup(context.Background())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	want := "appstack_embedded_20240601_103000.db"
	if filepath.Base(art.Path) != want {
		t.Fatalf("artifact name want %s got %s", want, filepath.Base(art.Path))
	}

	got, err := Latest(e.BackupDir, "appstack", backend.Embedded)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Path != art.Path {
		t.Fatalf("latest mismatch: %s vs %s", got.Path, art.Path)
	}
}

func TestEmbeddedRestoreMissingArtifact(t *testing.T) {
	e, _ := newTestEmbedded(t)
	a := Artifact{Kind: backend.Embedded, Path: filepath.Join(t.TempDir(), "gone.db")}
	if err := e.Restore(context.Background(), a); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("want ErrNoArtifact, got %v", err)
	}
}
