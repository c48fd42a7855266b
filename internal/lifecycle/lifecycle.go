// Package lifecycle sequences the stop pass: signal matched processes,
// reclaim ports, clear database file holders, settle, verify. Steps run
// strictly in order because each one depends on the side effects of the
// previous. Every pass is idempotent; re-invocation by the operator is
// the retry mechanism.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/stackctl/internal/dblock"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/ports"
	"github.com/loykin/stackctl/internal/scan"
)

// State is the stop sequence position. A pass ends in Verified or
// PartiallyStopped; PartiallyStopped is a warning, not a failure, and
// the pass is safe to re-run.
type State string

const (
	StateRunning          State = "running"
	StateSignaling        State = "signaling"
	StateSettling         State = "settling"
	StateVerified         State = "verified"
	StatePartiallyStopped State = "partially-stopped"
)

// Options configures one stop pass.
type Options struct {
	Patterns []scan.Pattern
	Ports    []uint32
	DBPath   string
	Settle   time.Duration
}

// Report is the outcome of one stop pass. Survivors and ProbeErr are
// reported separately: a lock can outlive its owning process on some
// platforms, so the two are diagnostically different.
type Report struct {
	State        State           `json:"state"`
	Signaled     int             `json:"signaled"`
	Raced        int             `json:"raced"`
	Bindings     []ports.Binding `json:"bindings"`
	PortsKilled  int             `json:"ports_killed"`
	LockHolders  int             `json:"lock_holders"`
	LockCleared  int             `json:"lock_cleared"`
	LockPartial  bool            `json:"lock_partial,omitempty"`
	Survivors    []scan.Handle   `json:"survivors,omitempty"`
	ProbeErr     string          `json:"probe_err,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

// StopAll runs one stop pass start to finish. It returns an error only
// when a scan itself fails; absent matches, free ports, a missing
// database file and signal races are all expected conditions that end
// up in the report, never in the error.
func StopAll(ctx context.Context, log *slog.Logger, opts Options) (Report, error) {
	start := time.Now()
	rep := Report{State: StateRunning}

	// Signaling: terminate by pattern.
	rep.State = StateSignaling
	handles, err := scan.Scan(opts.Patterns)
	if err != nil {
		return rep, err
	}
	if len(handles) == 0 {
		log.Info("no matching processes, nothing to signal")
	} else {
		res := scan.Terminate(handles)
		rep.Signaled = res.Signaled
		rep.Raced = len(res.Raced)
		byCategory := make(map[scan.Category]int)
		for _, h := range handles {
			byCategory[h.Category]++
		}
		for cat, n := range byCategory {
			metrics.IncSignaled(string(cat), n)
		}
		log.Info("termination signals sent", "count", res.Signaled)
		for _, h := range res.Raced {
			log.Warn("process exited between scan and signal", "pid", h.PID, "pattern", h.Pattern)
		}
	}

	// Port reclaim: forcible, no grace period.
	if len(opts.Ports) > 0 {
		res, err := ports.Reclaim(opts.Ports)
		if err != nil {
			return rep, err
		}
		rep.Bindings = res.Bindings
		rep.PortsKilled = res.Killed
		metrics.AddPortsReclaimed(res.Killed)
		for _, b := range res.Bindings {
			if b.Free() {
				log.Info("port already free", "port", b.Port)
			} else {
				log.Info("port reclaimed", "port", b.Port, "listeners", len(b.Owners))
			}
		}
		if res.Raced > 0 {
			log.Warn("listeners exited between scan and kill", "count", res.Raced)
		}
	}

	// Lock clear: the embedded engine refuses connections while any
	// handle stays open.
	if opts.DBPath != "" {
		res, err := dblock.Clear(opts.DBPath)
		if err != nil {
			return rep, err
		}
		rep.LockHolders = len(res.Holders)
		rep.LockCleared = res.Killed
		rep.LockPartial = res.Partial
		metrics.AddLockHoldersCleared(res.Killed)
		switch {
		case res.Partial:
			log.Warn("lock holder scan incomplete, insufficient privilege for some processes", "path", opts.DBPath)
		case len(res.Holders) == 0:
			log.Info("no lock holders on database file", "path", opts.DBPath)
		default:
			log.Info("lock holders cleared", "path", opts.DBPath, "count", res.Killed)
		}
	}

	// Settle, then verify.
	rep.State = StateSettling
	log.Info("settling before verification", "interval", opts.Settle.String())
	select {
	case <-ctx.Done():
		rep.Duration = time.Since(start)
		return rep, ctx.Err()
	case <-time.After(opts.Settle):
	}

	survivors, err := scan.Scan(opts.Patterns)
	if err != nil {
		return rep, err
	}
	rep.Survivors = survivors
	metrics.SetSurvivors(len(survivors))
	if opts.DBPath != "" {
		if err := dblock.Probe(opts.DBPath); err != nil {
			rep.ProbeErr = err.Error()
		}
	}

	rep.Duration = time.Since(start)
	if len(survivors) == 0 && rep.ProbeErr == "" {
		rep.State = StateVerified
		log.Info("shutdown verified, all targets stopped")
		return rep, nil
	}
	rep.State = StatePartiallyStopped
	if len(survivors) > 0 {
		log.Warn("processes still running after settle interval", "count", len(survivors))
	}
	if rep.ProbeErr != "" {
		log.Warn("database file still locked", "err", rep.ProbeErr)
	}
	return rep, nil
}

// Snapshot is the read-only view the status pass produces.
type Snapshot struct {
	Matches     []scan.Handle   `json:"matches"`
	Bindings    []ports.Binding `json:"bindings"`
	LockHolders []dblock.Holder `json:"lock_holders,omitempty"`
	LockPartial bool            `json:"lock_partial,omitempty"`
}

// Status inspects without signaling anything.
func Status(opts Options) (Snapshot, error) {
	var snap Snapshot
	matches, err := scan.Scan(opts.Patterns)
	if err != nil {
		return snap, err
	}
	snap.Matches = matches
	if len(opts.Ports) > 0 {
		bindings, err := ports.Inspect(opts.Ports)
		if err != nil {
			return snap, err
		}
		snap.Bindings = bindings
	}
	if opts.DBPath != "" {
		holders, partial, err := dblock.Inspect(opts.DBPath)
		if err != nil {
			return snap, err
		}
		snap.LockHolders = holders
		snap.LockPartial = partial
	}
	return snap, nil
}
