// Package dblock finds and clears processes holding the embedded
// database file open. The embedded engine refuses connections while any
// process retains an open handle, so stale holders left by a crash must
// be cleared before the stack can restart.
package dblock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// Holder is one process with an open handle on the database file.
type Holder struct {
	PID  int32  `json:"pid"`
	Path string `json:"path"`
}

// Result summarizes one lock-clear pass.
type Result struct {
	Holders []Holder `json:"holders,omitempty"`
	Killed  int      `json:"killed"`
	Raced   int      `json:"raced"`
	// Partial is set when holder enumeration was incomplete, typically
	// because inspecting other processes requires elevated privilege.
	Partial bool `json:"partial,omitempty"`
}

// probeTimeout bounds the open-then-close verification probe. The probe
// only confirms the lock is obtainable, so a short window is enough.
const probeTimeout = 2 * time.Second

// Inspect returns the processes currently holding the file open.
// A missing file means no lock: (nil, false, nil).
func Inspect(path string) (holders []Holder, partial bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	return findHolders(abs)
}

// Clear kills every holder of the file. Holders are killed with SIGKILL
// because a process that still has the file open after the termination
// pass is by definition not responding to SIGTERM.
func Clear(path string) (Result, error) {
	holders, partial, err := Inspect(path)
	if err != nil {
		return Result{Partial: partial}, err
	}
	res := Result{Holders: holders, Partial: partial}
	for _, h := range holders {
		if err := killProcess(int(h.PID), syscall.SIGKILL); err != nil {
			res.Raced++
			continue
		}
		res.Killed++
	}
	return res, nil
}

// Probe verifies the database file is no longer locked by acquiring and
// immediately releasing an exclusive lock on it. A missing file passes:
// nothing can hold a lock on a file that does not exist.
func Probe(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock probe %s: %w", path, err)
	}
	if !locked {
		deadline := time.Now().Add(probeTimeout)
		for !locked && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
			locked, err = fl.TryLock()
			if err != nil {
				return fmt.Errorf("lock probe %s: %w", path, err)
			}
		}
		if !locked {
			return fmt.Errorf("lock probe %s: still locked after %s", path, probeTimeout)
		}
	}
	if err := fl.Close(); err != nil {
		return fmt.Errorf("lock probe release %s: %w", path, err)
	}
	return nil
}
