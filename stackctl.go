// Package stackctl is the process and data-store lifecycle controller
// for the local application stack: it stops the stack's processes,
// reclaims their ports, clears embedded-database lock holders, verifies
// shutdown, and manages backup/rollback between the embedded and server
// storage backends.
package stackctl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/backend"
	"github.com/loykin/stackctl/internal/backup"
	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/history/factory"
	"github.com/loykin/stackctl/internal/lifecycle"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/rollback"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.FileConfig

type StopReport = lifecycle.Report

type StatusSnapshot = lifecycle.Snapshot

type Artifact = backup.Artifact

type BackendKind = backend.Kind

const (
	BackendEmbedded = backend.Embedded
	BackendServer   = backend.Server
)

var ErrNoArtifact = backup.ErrNoArtifact

// Controller is a thin facade over the internal passes. One Controller
// serves one operator invocation; passes run sequentially, never
// concurrently.
type Controller struct {
	cfg  config.FileConfig
	log  *slog.Logger
	sink history.Sink
}

// LoadConfig reads and validates the TOML config file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// New builds a controller. The audit sink is optional; a DSN that fails
// to open logs a warning and auditing is skipped for the pass.
func New(cfg Config) *Controller {
	log := logger.New(logger.Config{
		Dir:        cfg.Log.Dir,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	c := &Controller{cfg: cfg, log: log}
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			log.Warn("audit sink unavailable", "dsn", cfg.History.DSN, "err", err)
		} else {
			c.sink = sink
		}
	}
	return c
}

// Logger exposes the controller's logger for the CLI layer.
func (c *Controller) Logger() *slog.Logger { return c.log }

// Close releases the audit sink if one was opened.
func (c *Controller) Close() {
	if c.sink != nil {
		_ = c.sink.Close()
	}
}

func (c *Controller) stopOptions() lifecycle.Options {
	return lifecycle.Options{
		Patterns: c.cfg.Patterns(),
		Ports:    c.cfg.Ports,
		DBPath:   c.cfg.Database.Path,
		Settle:   c.cfg.SettleInterval,
	}
}

// StopAll runs one stop pass. Partial completion is a warning carried
// in the report, not an error.
func (c *Controller) StopAll(ctx context.Context) (StopReport, error) {
	rep, err := lifecycle.StopAll(ctx, c.log, c.stopOptions())
	outcome := history.OutcomeOK
	switch {
	case err != nil:
		outcome = history.OutcomeFailed
	case rep.State == lifecycle.StatePartiallyStopped:
		outcome = history.OutcomePartial
	}
	c.audit(ctx, history.Event{
		Op: history.OpStopAll, Outcome: outcome, OccurredAt: time.Now().UTC(),
		Duration: rep.Duration, Signaled: rep.Signaled, Reclaimed: rep.PortsKilled,
		Cleared: rep.LockCleared, Survivors: len(rep.Survivors), Detail: rep.ProbeErr,
	})
	c.writeMetrics()
	return rep, err
}

// Backup produces one artifact of the named backend.
func (c *Controller) Backup(ctx context.Context, kind BackendKind) (Artifact, error) {
	be, err := c.backendFor(kind)
	if err != nil {
		return Artifact{}, err
	}
	art, err := be.Backup(ctx)
	outcome := history.OutcomeOK
	detail := ""
	if err != nil {
		outcome = history.OutcomeFailed
		detail = err.Error()
	} else {
		metrics.IncBackup(string(kind))
		c.log.Info("backup artifact written", "path", art.Path, "size", art.Size)
	}
	c.audit(ctx, history.Event{
		Op: history.OpBackup, Outcome: outcome, OccurredAt: time.Now().UTC(),
		Backend: string(kind), Artifact: art.Path, Detail: detail,
	})
	c.writeMetrics()
	return art, err
}

// Rollback stops the stack, restores the latest artifact for the
// target backend and flips the active-backend selection. It does not
// restart the application.
func (c *Controller) Rollback(ctx context.Context, target BackendKind) (rollback.Report, error) {
	be, err := c.backendFor(target)
	if err != nil {
		return rollback.Report{}, err
	}
	rep, err := rollback.Run(ctx, c.log, rollback.Options{
		Stop:          c.stopOptions(),
		Target:        be,
		BackupDir:     c.cfg.Database.BackupDir,
		System:        c.cfg.System,
		SelectionPath: c.cfg.Database.SelectionPath,
	})
	outcome := history.OutcomeOK
	detail := ""
	if err != nil {
		outcome = history.OutcomeFailed
		detail = err.Error()
	}
	c.audit(ctx, history.Event{
		Op: history.OpRollback, Outcome: outcome, OccurredAt: time.Now().UTC(),
		Duration: rep.Duration, Signaled: rep.Stop.Signaled, Reclaimed: rep.Stop.PortsKilled,
		Cleared: rep.Stop.LockCleared, Survivors: len(rep.Stop.Survivors),
		Backend: string(target), Artifact: rep.Artifact.Path, Detail: detail,
	})
	c.writeMetrics()
	return rep, err
}

// Status inspects the stack without signaling anything.
func (c *Controller) Status() (StatusSnapshot, error) {
	return lifecycle.Status(c.stopOptions())
}

// ActiveBackend reads the selection record the application consults at
// startup.
func (c *Controller) ActiveBackend() (backend.Selection, error) {
	return backend.Load(c.cfg.Database.SelectionPath)
}

func (c *Controller) backendFor(kind BackendKind) (backup.Backend, error) {
	switch kind {
	case backend.Embedded:
		return backup.NewEmbedded(c.cfg.System, c.cfg.Database.Path, c.cfg.Database.BackupDir), nil
	case backend.Server:
		return backup.NewServer(c.cfg.System, c.cfg.Database.BackupDir, c.cfg.ServerBackendConfig()), nil
	default:
		return nil, errors.New("unknown backend kind: " + string(kind))
	}
}

func (c *Controller) audit(ctx context.Context, e history.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, e); err != nil {
		c.log.Warn("audit event not recorded", "op", string(e.Op), "err", err)
	}
}

func (c *Controller) writeMetrics() {
	if c.cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := metrics.WriteTextfile(c.cfg.Metrics.TextfilePath); err != nil {
		c.log.Warn("metrics textfile not written", "path", c.cfg.Metrics.TextfilePath, "err", err)
	}
}
