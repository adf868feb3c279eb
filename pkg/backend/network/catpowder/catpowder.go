// Package catpowder is the raw-Ethernet backend: it opens an AF_PACKET
// socket bound to a host interface, attaches a minimal eBPF socket filter
// built with cilium/ebpf, and exposes push/pop of raw frames. Unlike
// Catnap/Catnip it has no notion of per-connection sockets — the interface
// itself is the one queue descriptor this engine hands out.
package catpowder

import (
	"encoding/binary"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"golang.org/x/sys/unix"

	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/netutil"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

// ethPAll is ETH_P_ALL in network byte order, as required by AF_PACKET's
// protocol argument.
var ethPAll = htons(0x0003)

func htons(v uint16) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return binary.LittleEndian.Uint16(b)
}

// Engine implements backend.NetworkEngine over a single raw-Ethernet
// queue. Bind/Listen/Accept/Connect are not meaningful for an L2 raw
// socket and return ENOTSUP, matching the real Catpowder's reduced
// vocabulary.
type Engine struct {
	mu       sync.Mutex
	slab     *scheduler.Slab
	fd       int
	epfd     int
	qd       queue.Descriptor
	opened   bool
	readOps  []queue.Token
	writeOps []pendingWrite
	prog     *ebpf.Program
}

type pendingWrite struct {
	token queue.Token
	sga   *queue.SGA
}

var _ backend.NetworkEngine = (*Engine)(nil)

// New opens the raw socket bound to ifaceName. Requires CAP_NET_RAW.
func New(ifaceName string) (*Engine, error) {
	if err := netutil.RequireRawSocketCapabilities(); err != nil {
		return nil, err
	}
	link, err := netutil.ResolveLink(ifaceName)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK, int(ethPAll))
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrLinklayer{Protocol: ethPAll, Ifindex: link.Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	prog, err := acceptAllFilter()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ATTACH_BPF, prog.FD()); err != nil {
		// Non-fatal: some kernels/sandboxes forbid SO_ATTACH_BPF. The raw
		// queue still functions, just without kernel-side filtering.
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)

	return &Engine{
		slab: scheduler.NewSlab(),
		fd:   fd,
		epfd: epfd,
		prog: prog,
	}, nil
}

// acceptAllFilter assembles the smallest possible eBPF socket filter: it
// always returns a truncation length of -1 (all bytes), i.e. "accept every
// packet unmodified". This exercises cilium/ebpf's assembler instead of
// wiring a no-op via classic BPF.
func acceptAllFilter() (*ebpf.Program, error) {
	insns := asm.Instructions{
		asm.Mov.Imm(asm.R0, -1),
		asm.Return(),
	}
	spec := &ebpf.ProgramSpec{
		Type:         ebpf.SocketFilter,
		Instructions: insns,
		License:      "GPL",
	}
	return ebpf.NewProgram(spec)
}

// Socket implements backend.NetworkEngine.Socket. Catpowder ignores
// domain/type/protocol (there is exactly one raw queue per engine,
// established at New) and simply hands out that queue's descriptor once.
func (e *Engine) Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return queue.InvalidDescriptor, errno.EEXIST
	}
	e.opened = true
	e.qd = queue.Descriptor(1)
	return e.qd, errno.OK
}

func (e *Engine) Bind(queue.Descriptor, queue.Ipv4Endpoint) errno.Errno         { return errno.ENOTSUP }
func (e *Engine) Listen(queue.Descriptor, int) errno.Errno                     { return errno.ENOTSUP }
func (e *Engine) Accept(queue.Descriptor) (queue.Token, errno.Errno)           { return queue.InvalidToken, errno.ENOTSUP }
func (e *Engine) Connect(queue.Descriptor, queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOTSUP
}
func (e *Engine) PushTo(qd queue.Descriptor, sga *queue.SGA, _ queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	return e.Push(qd, sga)
}

// Close implements backend.Common.Close.
func (e *Engine) Close(qd queue.Descriptor) errno.Errno {
	e.mu.Lock()
	if !e.opened || qd != e.qd {
		e.mu.Unlock()
		return errno.EBADF
	}
	e.opened = false
	e.mu.Unlock()

	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	_ = unix.Close(e.fd)
	if e.prog != nil {
		_ = e.prog.Close()
	}
	e.slab.CloseQD(qd, errno.ECONNRESET)
	return errno.OK
}

// Push implements backend.Common.Push: transmits a raw Ethernet frame.
func (e *Engine) Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	e.mu.Lock()
	if !e.opened || qd != e.qd {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	e.writeOps = append(e.writeOps, pendingWrite{token: token, sga: sga})
	e.mu.Unlock()

	e.drainWrites()
	return token, errno.OK
}

// Pop implements backend.Common.Pop: receives the next raw Ethernet frame.
func (e *Engine) Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	e.mu.Lock()
	if !e.opened || qd != e.qd {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	e.readOps = append(e.readOps, token)
	e.mu.Unlock()

	e.drainReads()
	return token, errno.OK
}

func (e *Engine) drainReads() {
	for {
		e.mu.Lock()
		if len(e.readOps) == 0 {
			e.mu.Unlock()
			return
		}
		token := e.readOps[0]
		e.mu.Unlock()

		buf := make([]byte, 65536)
		n, err := unix.Read(e.fd, buf)
		if err == unix.EAGAIN {
			return
		}
		e.mu.Lock()
		e.readOps = e.readOps[1:]
		e.mu.Unlock()
		if err != nil {
			e.slab.Complete(token, queue.Failed(token, errno.FromSyscallErr(err)))
			continue
		}
		sga := queue.Alloc(uint32(n))
		copy(sga.Segs[0].Buf, buf[:n])
		e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpPop, SGA: sga})
	}
}

func (e *Engine) drainWrites() {
	for {
		e.mu.Lock()
		if len(e.writeOps) == 0 {
			e.mu.Unlock()
			return
		}
		op := e.writeOps[0]
		e.mu.Unlock()

		_, err := unix.Write(e.fd, op.sga.Bytes())
		if err == unix.EAGAIN {
			return
		}
		e.mu.Lock()
		e.writeOps = e.writeOps[1:]
		e.mu.Unlock()
		if err != nil {
			e.slab.Complete(op.token, queue.Failed(op.token, errno.FromSyscallErr(err)))
			continue
		}
		e.slab.Complete(op.token, queue.Result{Token: op.token, Opcode: queue.OpPush})
	}
}

// Poll implements scheduler.Reactor.Poll.
func (e *Engine) Poll() {
	var events [16]unix.EpollEvent
	n, err := unix.EpollWait(e.epfd, events[:], 0)
	if err != nil || n == 0 {
		return
	}
	e.drainReads()
	e.drainWrites()
}

func (e *Engine) Schedule(t queue.Token) (scheduler.Handle, errno.Errno) { return e.slab.Schedule(t) }
func (e *Engine) Done(h scheduler.Handle) bool                          { return e.slab.Done(h) }
func (e *Engine) PackResult(h scheduler.Handle, t queue.Token) (queue.Result, errno.Errno) {
	return e.slab.PackResult(h, t)
}
func (e *Engine) Release(h scheduler.Handle) { e.slab.Release(h) }
