package catnap

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

func loopback(port uint16) queue.Ipv4Endpoint {
	return queue.Ipv4Endpoint{Addr: [4]byte{127, 0, 0, 1}, Port: port}
}

func TestUDPPushToPopRoundTrip(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	serverQD, ec := e.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if ec != errno.OK {
		t.Fatalf("Socket(server): errno %d", ec)
	}
	serverAddr := loopback(0)
	if ec := e.Bind(serverQD, serverAddr); ec != errno.OK {
		t.Fatalf("Bind(server): errno %d", ec)
	}

	clientQD, ec := e.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if ec != errno.OK {
		t.Fatalf("Socket(client): errno %d", ec)
	}
	if ec := e.Bind(clientQD, loopback(0)); ec != errno.OK {
		t.Fatalf("Bind(client): errno %d", ec)
	}

	serverPort, err := boundPort(e, serverQD)
	if err != nil {
		t.Fatalf("boundPort(server): %v", err)
	}

	popToken, ec := e.Pop(serverQD)
	if ec != errno.OK {
		t.Fatalf("Pop: errno %d", ec)
	}

	payload := []byte("hello catnap")
	sga := queue.Alloc(uint32(len(payload)))
	copy(sga.Bytes(), payload)
	pushToken, ec := e.PushTo(clientQD, sga, loopback(serverPort))
	if ec != errno.OK {
		t.Fatalf("PushTo: errno %d", ec)
	}

	timeout := 2 * time.Second
	if _, ec := scheduler.Wait(e, pushToken, &timeout); ec != errno.OK {
		t.Fatalf("Wait(push): errno %d", ec)
	}

	res, ec := scheduler.Wait(e, popToken, &timeout)
	if ec != errno.OK {
		t.Fatalf("Wait(pop): errno %d", ec)
	}
	if res.Opcode != queue.OpPop {
		t.Fatalf("pop opcode = %v, want pop", res.Opcode)
	}
	if string(res.SGA.Bytes()) != string(payload) {
		t.Fatalf("pop payload = %q, want %q", res.SGA.Bytes(), payload)
	}

	e.Close(serverQD)
	e.Close(clientQD)
}

func TestCloseFailsOutstandingTokens(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	qd, ec := e.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if ec != errno.OK {
		t.Fatalf("Socket: errno %d", ec)
	}
	if ec := e.Bind(qd, loopback(0)); ec != errno.OK {
		t.Fatalf("Bind: errno %d", ec)
	}

	token, ec := e.Pop(qd)
	if ec != errno.OK {
		t.Fatalf("Pop: errno %d", ec)
	}
	if ec := e.Close(qd); ec != errno.OK {
		t.Fatalf("Close: errno %d", ec)
	}

	res, ec := scheduler.Wait(e, token, nil)
	if ec != errno.OK {
		t.Fatalf("Wait after Close: errno %d", ec)
	}
	if res.Opcode != queue.OpFailed || res.Err != errno.ECONNRESET {
		t.Fatalf("Wait after Close = %+v, want failed/ECONNRESET", res)
	}
}

// boundPort recovers the ephemeral port the kernel assigned to qd's
// socket, since the test binds to port 0 to avoid colliding with
// anything else listening on the host.
func boundPort(e *Engine, qd queue.Descriptor) (uint16, error) {
	s := e.mustLookupInternal(qd)
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return 0, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errno.EINVAL
	}
	return uint16(sa4.Port), nil
}
