package stackctl

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func writeTestConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	tag := fmt.Sprintf("stackctl-facade-inert-%d", time.Now().UnixNano())
	body := fmt.Sprintf(`system = "teststack"
settle_interval = "10ms"

[processes]
app = ["%s"]

[database]
path = %q
backup_dir = %q
`, tag, filepath.Join(dir, "app.db"), filepath.Join(dir, "backups")) + extra
	path := filepath.Join(dir, "stackctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func makeDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items (name) VALUES ('one'), ('two')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestStatusOnIdleStack(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(writeTestConfig(t, dir, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctrl := New(cfg)
	defer ctrl.Close()

	snap, err := ctrl.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(snap.Matches) != 0 {
		t.Fatalf("inert pattern matched processes: %+v", snap.Matches)
	}

	sel, err := ctrl.ActiveBackend()
	if err != nil {
		t.Fatalf("active backend: %v", err)
	}
	if sel.Backend != BackendEmbedded || sel.Version != 0 {
		t.Fatalf("default selection = %+v, want embedded v0", sel)
	}
}

func TestBackupEmbeddedThroughFacade(t *testing.T) {
	dir := t.TempDir()
	makeDB(t, filepath.Join(dir, "app.db"))
	auditDB := filepath.Join(dir, "audit.db")
	extra := fmt.Sprintf(`
[history]
dsn = %q

[metrics]
textfile_path = %q
`, auditDB, filepath.Join(dir, "stackctl.prom"))

	cfg, err := LoadConfig(writeTestConfig(t, dir, extra))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctrl := New(cfg)
	defer ctrl.Close()

	art, err := ctrl.Backup(context.Background(), BackendEmbedded)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if art.Size <= 0 {
		t.Fatalf("artifact size = %d", art.Size)
	}
	base := filepath.Base(art.Path)
	if !strings.HasPrefix(base, "teststack_embedded_") {
		t.Fatalf("artifact name %q missing system/backend prefix", base)
	}

	// metrics textfile written at end of pass
	if _, err := os.Stat(filepath.Join(dir, "stackctl.prom")); err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}

	// audit event recorded in the sqlite sink
	db, err := sql.Open("sqlite", auditDB)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ops_history WHERE op = 'backup' AND outcome = 'ok'`).Scan(&n); err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if n != 1 {
		t.Fatalf("audit rows = %d, want 1", n)
	}
}

func TestBackupUnknownBackend(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t, t.TempDir(), ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctrl := New(cfg)
	defer ctrl.Close()
	if _, err := ctrl.Backup(context.Background(), BackendKind("bogus")); err == nil {
		t.Fatal("unknown backend should fail")
	}
}
