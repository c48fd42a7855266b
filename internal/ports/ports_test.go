package ports

import (
	"net"
	"os"
	"testing"
)

// listenTCP opens a listener on an OS-assigned port and returns it with
// the port number.
func listenTCP(t *testing.T) (net.Listener, uint32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, uint32(ln.Addr().(*net.TCPAddr).Port)
}

func TestInspectReportsOwnersAndFreePorts(t *testing.T) {
	_, p1 := listenTCP(t)
	_, p2 := listenTCP(t)

	// grab a port and release it so it is configured but free
	lnFree, free := listenTCP(t)
	_ = lnFree.Close()

	bindings, err := Inspect([]uint32{p1, free, p2})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(bindings) != 3 {
		t.Fatalf("want 3 bindings, got %d", len(bindings))
	}
	self := int32(os.Getpid())
	byPort := map[uint32]Binding{}
	for _, b := range bindings {
		byPort[b.Port] = b
	}
	for _, p := range []uint32{p1, p2} {
		b := byPort[p]
		if b.Free() {
			t.Fatalf("port %d should have an owner", p)
		}
		if b.Owners[0] != self {
			t.Fatalf("port %d owner want %d got %v", p, self, b.Owners)
		}
	}
	if !byPort[free].Free() {
		t.Fatalf("port %d should be free, owners=%v", free, byPort[free].Owners)
	}
}

func TestReclaimTargetsOnlyBoundPorts(t *testing.T) {
	_, p1 := listenTCP(t)
	_, p2 := listenTCP(t)
	lnFree, free := listenTCP(t)
	_ = lnFree.Close()

	// both listeners belong to the test process; intercept the kill so
	// the pass is observable without shooting ourselves
	var killed []int32
	orig := sigKill
	sigKill = func(pid int32) error {
		killed = append(killed, pid)
		return nil
	}
	defer func() { sigKill = orig }()

	res, err := Reclaim([]uint32{p1, free, p2})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if res.Killed != 2 || res.Raced != 0 {
		t.Fatalf("want 2 killed, got %+v", res)
	}
	if len(killed) != 2 {
		t.Fatalf("kill calls: %v", killed)
	}
	for _, b := range res.Bindings {
		if b.Port == free && !b.Free() {
			t.Fatalf("free port reported bound: %+v", b)
		}
	}
}

func TestReclaimRaceCounted(t *testing.T) {
	_, p := listenTCP(t)
	orig := sigKill
	sigKill = func(pid int32) error { return os.ErrProcessDone }
	defer func() { sigKill = orig }()

	res, err := Reclaim([]uint32{p})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if res.Killed != 0 || res.Raced != 1 {
		t.Fatalf("want 1 raced, got %+v", res)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]int32{7, 7, 9, 7, 9})
	if len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Fatalf("dedupe: %v", got)
	}
}
