//go:build !linux

package dblock

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// findHolders asks gopsutil for each process's open files. Open-file
// enumeration needs elevated privilege on Darwin and the BSDs; failures
// for individual processes mark the result partial rather than failing
// the whole pass.
func findHolders(abs string) ([]Holder, bool, error) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, false, err
	}
	var holders []Holder
	partial := false
	for _, pr := range procs {
		files, err := pr.OpenFiles()
		if err != nil {
			partial = true
			continue
		}
		for _, f := range files {
			if f.Path == abs {
				holders = append(holders, Holder{PID: pr.Pid, Path: abs})
				break
			}
		}
	}
	return holders, partial, nil
}
