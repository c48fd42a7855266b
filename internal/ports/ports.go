package ports

import (
	"syscall"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// sigKill is split out so tests can observe which PIDs a reclaim pass targets.
var sigKill = func(pid int32) error { return killProcess(int(pid), syscall.SIGKILL) }

// Binding describes the listeners found on one configured port.
// A port with no listeners is already free; that is the expected
// steady state after a reclaim pass.
type Binding struct {
	Port   uint32  `json:"port"`
	Owners []int32 `json:"owners,omitempty"`
}

// Free reports whether no process is listening on the port.
func (b Binding) Free() bool { return len(b.Owners) == 0 }

// Result summarizes one reclaim pass.
type Result struct {
	Bindings []Binding `json:"bindings"`
	Killed   int       `json:"killed"`
	Raced    int       `json:"raced"`
}

// Inspect returns the current listeners for each configured port.
// Multiple owners on one port (SO_REUSEPORT) are all reported.
func Inspect(portSet []uint32) ([]Binding, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	owners := make(map[uint32][]int32, len(portSet))
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Pid <= 0 {
			continue
		}
		owners[c.Laddr.Port] = append(owners[c.Laddr.Port], c.Pid)
	}
	bindings := make([]Binding, 0, len(portSet))
	for _, p := range portSet {
		bindings = append(bindings, Binding{Port: p, Owners: dedupe(owners[p])})
	}
	return bindings, nil
}

// Reclaim kills every process listening on any configured port.
// Ports are reclaimed with SIGKILL: the calling context is "stop
// everything now", not a graceful drain.
func Reclaim(portSet []uint32) (Result, error) {
	bindings, err := Inspect(portSet)
	if err != nil {
		return Result{}, err
	}
	res := Result{Bindings: bindings}
	for _, b := range bindings {
		for _, pid := range b.Owners {
			if err := sigKill(pid); err != nil {
				res.Raced++
				continue
			}
			res.Killed++
		}
	}
	return res, nil
}

func dedupe(pids []int32) []int32 {
	if len(pids) < 2 {
		return pids
	}
	seen := make(map[int32]struct{}, len(pids))
	out := pids[:0]
	for _, p := range pids {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
