package flowos

import (
	"testing"
	"time"

	"github.com/flowos/flowos/pkg/backend/memory/catmem"
	"github.com/flowos/flowos/pkg/backend/network/catcollar"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

// install sets the package singleton directly to lo and returns a cleanup
// that restores the uninitialized state, bypassing Init's environment-
// variable/config-file plumbing so these tests can target the
// singleton/dispatcher behavior in isolation.
func install(t *testing.T, lo *LibOS) {
	t.Helper()
	instMu.Lock()
	instance = lo
	instMu.Unlock()
	t.Cleanup(func() {
		instMu.Lock()
		instance = nil
		instMu.Unlock()
	})
}

func memoryLibOS(t *testing.T) *LibOS {
	t.Helper()
	eng, err := catmem.New(t.TempDir())
	if err != nil {
		t.Fatalf("catmem.New: %v", err)
	}
	return &LibOS{mem: eng}
}

func TestUninitializedSingletonReturnsENOSYS(t *testing.T) {
	instMu.Lock()
	instance = nil
	instMu.Unlock()

	if e := Close(0); e != errno.ENOSYS {
		t.Fatalf("Close on uninitialized facade: got errno %d, want ENOSYS", e)
	}
}

func TestBorrowedSingletonReturnsEBUSY(t *testing.T) {
	install(t, memoryLibOS(t))

	if !borrow.TryAcquire(1) {
		t.Fatalf("could not simulate an in-flight call")
	}
	defer borrow.Release(1)

	if _, e := OpenPipe("x"); e != errno.EBUSY {
		t.Fatalf("OpenPipe while borrowed: got errno %d, want EBUSY", e)
	}
}

func TestMemoryArmRejectsSocketOperations(t *testing.T) {
	install(t, memoryLibOS(t))

	if _, e := Socket(2, 1, 0); e != errno.ENOTSUP {
		t.Fatalf("Socket on Memory arm: got errno %d, want ENOTSUP", e)
	}
	if e := Bind(0, queue.Ipv4Endpoint{}); e != errno.ENOTSUP {
		t.Fatalf("Bind on Memory arm: got errno %d, want ENOTSUP", e)
	}
}

func TestNetworkArmRejectsPipeOperations(t *testing.T) {
	install(t, &LibOS{net: catcollar.New()})

	if _, e := CreatePipe("x"); e != errno.ENOTSUP {
		t.Fatalf("CreatePipe on Network arm: got errno %d, want ENOTSUP", e)
	}
	if _, e := OpenPipe("x"); e != errno.ENOTSUP {
		t.Fatalf("OpenPipe on Network arm: got errno %d, want ENOTSUP", e)
	}
}

func TestPipePushWaitPopRoundTripThroughSingleton(t *testing.T) {
	install(t, memoryLibOS(t))

	qd, e := CreatePipe("roundtrip")
	if e != errno.OK {
		t.Fatalf("CreatePipe: errno %d", e)
	}

	sga := SGAAlloc(5)
	copy(sga.Bytes(), "hello")
	token, e := Push(qd, sga)
	if e != errno.OK {
		t.Fatalf("Push: errno %d", e)
	}

	timeout := 2 * time.Second
	res, e := Wait(token, &timeout)
	if e != errno.OK {
		t.Fatalf("Wait: errno %d", e)
	}
	if res.Opcode != queue.OpPush {
		t.Fatalf("Wait result opcode = %v, want push", res.Opcode)
	}

	// Open the other end of the same pipe and pop the frame pushed above.
	peer, e := OpenPipe("roundtrip")
	if e != errno.OK {
		t.Fatalf("OpenPipe: errno %d", e)
	}
	popToken, e := Pop(peer)
	if e != errno.OK {
		t.Fatalf("Pop: errno %d", e)
	}
	popRes, e := Wait(popToken, &timeout)
	if e != errno.OK {
		t.Fatalf("Wait(pop): errno %d", e)
	}
	if popRes.Opcode != queue.OpPop || string(popRes.SGA.Bytes()) != "hello" {
		t.Fatalf("Wait(pop) = %+v, want pop carrying %q", popRes, "hello")
	}

	if e := Close(peer); e != errno.OK {
		t.Fatalf("Close(peer): errno %d", e)
	}
	if e := Close(qd); e != errno.OK {
		t.Fatalf("Close: errno %d", e)
	}
}

func TestPushWithNilSGAIsEINVAL(t *testing.T) {
	install(t, memoryLibOS(t))
	if _, e := Push(0, nil); e != errno.EINVAL {
		t.Fatalf("Push(nil): got errno %d, want EINVAL", e)
	}
}

func TestCreateAndOpenPipeWithInvalidUTF8NameIsEINVAL(t *testing.T) {
	install(t, memoryLibOS(t))

	name := "pipe-\xff\xfe"
	if _, e := CreatePipe(name); e != errno.EINVAL {
		t.Fatalf("CreatePipe(invalid UTF-8): got errno %d, want EINVAL", e)
	}
	if _, e := OpenPipe(name); e != errno.EINVAL {
		t.Fatalf("OpenPipe(invalid UTF-8): got errno %d, want EINVAL", e)
	}
}

func TestListenBelowOneIsEINVAL(t *testing.T) {
	install(t, &LibOS{net: catcollar.New()})
	if e := Listen(0, 0); e != errno.EINVAL {
		t.Fatalf("Listen(0): got errno %d, want EINVAL", e)
	}
}

func TestUnimplementedSockOptsAlwaysENOSYS(t *testing.T) {
	if e := GetSockName(0); e != errno.ENOSYS {
		t.Fatalf("GetSockName: got errno %d, want ENOSYS", e)
	}
	if e := SetSockOpt(0, 0, 0); e != errno.ENOSYS {
		t.Fatalf("SetSockOpt: got errno %d, want ENOSYS", e)
	}
	if e := GetSockOpt(0, 0); e != errno.ENOSYS {
		t.Fatalf("GetSockOpt: got errno %d, want ENOSYS", e)
	}
}
