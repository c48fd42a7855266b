//go:build linux

package dblock

import (
	"os"
	"strconv"
)

// findHolders walks /proc/<pid>/fd and resolves each descriptor symlink
// against the target path. Descriptors of other users are unreadable
// without privilege; those PIDs are skipped and the result is marked
// partial so the caller can surface a warning instead of crashing.
func findHolders(abs string) ([]Holder, bool, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, false, err
	}
	self := os.Getpid()
	var holders []Holder
	partial := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		fdDir := "/proc/" + e.Name() + "/fd"
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			if os.IsPermission(err) {
				partial = true
			}
			// process exited mid-walk or fd dir unreadable
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(fdDir + "/" + fd.Name())
			if err != nil {
				continue
			}
			if target == abs {
				holders = append(holders, Holder{PID: int32(pid), Path: abs})
				break
			}
		}
	}
	return holders, partial, nil
}
