package backup

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/stackctl/internal/backend"
)

// ServerConfig holds connection parameters for the server backend.
// The password travels via PGPASSWORD in the dump subprocess env and
// via DSN for the pre-flight ping; it is never placed on a command line.
type ServerConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	// DumpCommand and RestoreCommand default to pg_dump and psql.
	DumpCommand    string `json:"dump_command,omitempty" mapstructure:"dump_command"`
	RestoreCommand string `json:"restore_command,omitempty" mapstructure:"restore_command"`
}

// DSN renders the pgx connection string.
func (c ServerConfig) DSN() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// ServerBackend backs up the server engine with a logical dump. A
// pre-flight ping through pgx separates "server unreachable" from
// "dump failed", which are diagnostically different for the operator.
type ServerBackend struct {
	System    string
	BackupDir string
	Config    ServerConfig
	now       func() time.Time
}

func NewServer(system, backupDir string, cfg ServerConfig) *ServerBackend {
	return &ServerBackend{System: system, BackupDir: backupDir, Config: cfg, now: time.Now}
}

func (s *ServerBackend) Kind() backend.Kind { return backend.Server }

// Ping verifies the server is reachable with the configured parameters.
func (s *ServerBackend) Ping(ctx context.Context) error {
	db, err := sql.Open("pgx", s.Config.DSN())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("server backend %s/%s unreachable: %w", s.Config.Host, s.Config.Database, err)
	}
	return nil
}

// Backup runs a logical export to a temp path and renames it into place
// only on success, so a failed export never leaves a partial file where
// the rollback pass could find it.
func (s *ServerBackend) Backup(ctx context.Context) (Artifact, error) {
	if err := s.Ping(ctx); err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(s.BackupDir, 0o750); err != nil {
		return Artifact{}, err
	}
	ts := s.now()
	dst := filepath.Join(s.BackupDir, ArtifactName(s.System, backend.Server, ts, "sql"))
	tmp := dst + partialSuffix

	dump := s.Config.DumpCommand
	if dump == "" {
		dump = "pg_dump"
	}
	// #nosec G204 -- command and parameters come from operator config
	cmd := exec.CommandContext(ctx, dump,
		"--host", s.Config.Host,
		"--port", strconv.Itoa(s.portOrDefault()),
		"--username", s.Config.User,
		"--dbname", s.Config.Database,
		"--file", tmp,
		"--no-password",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.Config.Password)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("logical export failed: %w: %s", err, firstLine(out))
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return Artifact{}, fmt.Errorf("logical export wrote no file: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(tmp)
		return Artifact{}, fmt.Errorf("logical export produced empty dump for %s", s.Config.Database)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, err
	}
	return Artifact{Kind: backend.Server, Timestamp: ts, Source: s.Config.Database, Path: dst, Size: info.Size()}, nil
}

// Restore replays a logical dump against the configured database.
func (s *ServerBackend) Restore(ctx context.Context, a Artifact) error {
	if _, err := os.Stat(a.Path); err != nil {
		return fmt.Errorf("%w: %s", ErrNoArtifact, a.Path)
	}
	if err := s.Ping(ctx); err != nil {
		return err
	}
	restore := s.Config.RestoreCommand
	if restore == "" {
		restore = "psql"
	}
	// #nosec G204 -- command and parameters come from operator config
	cmd := exec.CommandContext(ctx, restore,
		"--host", s.Config.Host,
		"--port", strconv.Itoa(s.portOrDefault()),
		"--username", s.Config.User,
		"--dbname", s.Config.Database,
		"--file", a.Path,
		"--no-password",
		"--set", "ON_ERROR_STOP=1",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.Config.Password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("restore failed: %w: %s", err, firstLine(out))
	}
	return nil
}

func (s *ServerBackend) portOrDefault() int {
	if s.Config.Port == 0 {
		return 5432
	}
	return s.Config.Port
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
