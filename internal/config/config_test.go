package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/stackctl/internal/scan"
)

const sampleTOML = `
system = "shopmapper"
ports = [3000, 3001, 3002]
settle_interval = "3s"

[processes]
web = ["vite", "npm run dev"]
pipeline = ["pipeline.run"]
app = ["shopmapper"]

[database]
path = "data/shopmapper.db"
backup_dir = "var/backups"
selection_path = "data/backend.json"

[server]
host = "db.internal"
port = 5433
user = "shopmapper"
password = "filepass"
database = "shopmapper"

[history]
dsn = "sqlite://var/audit.db"

[metrics]
textfile_path = "var/stackctl.prom"

[log]
dir = "var/log"
level = "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackctl.toml")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.System != "shopmapper" {
		t.Fatalf("system: %s", fc.System)
	}
	if len(fc.Ports) != 3 || fc.Ports[0] != 3000 {
		t.Fatalf("ports: %v", fc.Ports)
	}
	if fc.SettleInterval != 3*time.Second {
		t.Fatalf("settle: %v", fc.SettleInterval)
	}
	pats := fc.Patterns()
	if len(pats) != 4 {
		t.Fatalf("patterns: %v", pats)
	}
	if pats[0].Category != scan.CategoryWeb || pats[0].Substr != "vite" {
		t.Fatalf("first pattern: %+v", pats[0])
	}
	if pats[3].Category != scan.CategoryApp {
		t.Fatalf("last pattern: %+v", pats[3])
	}
	if fc.Server.Port != 5433 || fc.Server.Host != "db.internal" {
		t.Fatalf("server: %+v", fc.Server)
	}
	if fc.History.DSN != "sqlite://var/audit.db" {
		t.Fatalf("history: %+v", fc.History)
	}
	if fc.Metrics.TextfilePath != "var/stackctl.prom" {
		t.Fatalf("metrics: %+v", fc.Metrics)
	}
	if fc.Log.Level != "debug" {
		t.Fatalf("log: %+v", fc.Log)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	fc, err := Load(writeConfig(t, `
[database]
path = "data/app.db"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.System != DefaultSystem {
		t.Fatalf("default system: %s", fc.System)
	}
	if fc.SettleInterval != DefaultSettleInterval {
		t.Fatalf("default settle: %v", fc.SettleInterval)
	}
	if fc.Database.BackupDir != "backups" {
		t.Fatalf("default backup dir: %s", fc.Database.BackupDir)
	}
	if fc.Database.SelectionPath != "data/app.db.backend.json" {
		t.Fatalf("default selection path: %s", fc.Database.SelectionPath)
	}
}

func TestPasswordEnvOverridesFile(t *testing.T) {
	t.Setenv(PasswordEnv, "envpass")
	fc, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.Password != "envpass" {
		t.Fatalf("env password not applied: %s", fc.Server.Password)
	}
}

func TestLoadRejectsEmptyPattern(t *testing.T) {
	if _, err := Load(writeConfig(t, `
[processes]
web = ["  "]
`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
