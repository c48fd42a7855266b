package scan

import (
	"errors"
	"os"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Category classifies a pattern by the stack component it targets.
type Category string

const (
	CategoryWeb      Category = "web"
	CategoryPipeline Category = "pipeline"
	CategoryApp      Category = "app"
)

// Pattern is a case-sensitive command-line substring to match.
// Matching is intentionally broad: decorated invocations such as
// "/usr/bin/python -m pipeline.run --env=dev" still match "pipeline.run".
type Pattern struct {
	Category Category `json:"category"`
	Substr   string   `json:"substr"`
}

// Handle identifies one running process matched by a pattern.
// Handles are valid only for the scan pass that produced them.
type Handle struct {
	PID      int32    `json:"pid"`
	Cmdline  string   `json:"cmdline"`
	Category Category `json:"category"`
	Pattern  string   `json:"pattern"`
}

// Result summarizes a termination pass over a set of handles.
// Raced holds handles whose signal could not be delivered because the
// process disappeared between scan and signal; that is inherent to
// pattern-based discovery, never an error.
type Result struct {
	Signaled int      `json:"signaled"`
	Raced    []Handle `json:"raced,omitempty"`
}

// ErrEmptyPattern is returned when a pattern has no substring to match.
var ErrEmptyPattern = errors.New("empty process pattern")

// Scan returns handles for every running process whose command line
// contains any configured pattern. The calling process itself and its
// parent are excluded so the controller never targets its own shell.
func Scan(patterns []Pattern) ([]Handle, error) {
	for _, p := range patterns {
		if strings.TrimSpace(p.Substr) == "" {
			return nil, ErrEmptyPattern
		}
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	parent := int32(os.Getppid())
	var out []Handle
	for _, pr := range procs {
		if pr.Pid == self || pr.Pid == parent {
			continue
		}
		cmdline, err := pr.Cmdline()
		if err != nil || cmdline == "" {
			// kernel threads and processes gone mid-scan
			continue
		}
		for _, p := range patterns {
			if strings.Contains(cmdline, p.Substr) {
				out = append(out, Handle{PID: pr.Pid, Cmdline: cmdline, Category: p.Category, Pattern: p.Substr})
				break
			}
		}
	}
	return out, nil
}

// Terminate sends SIGTERM to every handle. It does not wait for exit;
// verification is a separate pass after the settle interval.
func Terminate(handles []Handle) Result {
	return signalAll(handles, syscall.SIGTERM)
}

// Kill sends an immediate, non-catchable SIGKILL to every handle.
func Kill(handles []Handle) Result {
	return signalAll(handles, syscall.SIGKILL)
}

func signalAll(handles []Handle, sig syscall.Signal) Result {
	var res Result
	for _, h := range handles {
		if err := killProcess(int(h.PID), sig); err != nil {
			res.Raced = append(res.Raced, h)
			continue
		}
		res.Signaled++
	}
	return res
}

// Alive reports whether a previously scanned handle still refers to a
// live process.
func Alive(h Handle) bool {
	return processExists(int(h.PID))
}
