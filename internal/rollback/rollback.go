// Package rollback restores the most recent backup artifact and flips
// the active backend selection. It never restarts the application;
// restart is a separate, explicit operator step.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/backend"
	"github.com/loykin/stackctl/internal/backup"
	"github.com/loykin/stackctl/internal/lifecycle"
	"github.com/loykin/stackctl/internal/metrics"
)

// ErrUnsafeToRestore means port or lock reclaim did not complete, so a
// still-running process could corrupt the live file mid-copy.
var ErrUnsafeToRestore = errors.New("shutdown incomplete, refusing to overwrite live data")

// Options configures one rollback pass.
type Options struct {
	Stop          lifecycle.Options
	Target        backup.Backend
	BackupDir     string
	System        string
	SelectionPath string
}

// Report is the outcome of a completed rollback.
type Report struct {
	Stop      lifecycle.Report  `json:"stop"`
	Artifact  backup.Artifact   `json:"artifact"`
	Selection backend.Selection `json:"selection"`
	Duration  time.Duration     `json:"duration"`
}

// Run executes a rollback: verify an artifact exists, stop the stack,
// restore, flip the selection. The artifact check comes first so a
// rollback with nothing to restore fails before touching any process.
// Restore proceeds only when the lock probe passed; surviving processes
// that merely match a name pattern do not block it, but an open handle
// on the data file does.
func Run(ctx context.Context, log *slog.Logger, opts Options) (Report, error) {
	start := time.Now()
	var rep Report

	art, err := backup.Latest(opts.BackupDir, opts.System, opts.Target.Kind())
	if err != nil {
		return rep, fmt.Errorf("locate artifact for %s: %w", opts.Target.Kind(), err)
	}
	log.Info("rollback artifact selected", "path", art.Path, "size", art.Size)

	stopRep, err := lifecycle.StopAll(ctx, log, opts.Stop)
	rep.Stop = stopRep
	if err != nil {
		return rep, err
	}
	if stopRep.ProbeErr != "" {
		return rep, fmt.Errorf("%w: %s", ErrUnsafeToRestore, stopRep.ProbeErr)
	}

	if err := opts.Target.Restore(ctx, art); err != nil {
		return rep, err
	}
	rep.Artifact = art
	log.Info("artifact restored", "backend", string(opts.Target.Kind()))

	sel, err := backend.Flip(opts.SelectionPath, opts.Target.Kind())
	if err != nil {
		return rep, fmt.Errorf("flip backend selection: %w", err)
	}
	rep.Selection = sel
	metrics.IncRollback(string(opts.Target.Kind()))
	rep.Duration = time.Since(start)
	log.Info("active backend switched", "backend", string(sel.Backend), "version", sel.Version)
	log.Info("rollback complete; restart the application to pick up the new backend")
	return rep, nil
}
