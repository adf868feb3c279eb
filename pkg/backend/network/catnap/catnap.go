// Package catnap is the kernel-socket backend: it implements the
// NetworkEngine vocabulary directly on top of host kernel sockets using
// non-blocking file descriptors and an epoll readiness poller, in the
// style of gVisor's own hostinet socket implementation.
package catnap

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

type opKind int

const (
	opAccept opKind = iota
	opConnect
	opPush
	opPop
)

type pendingOp struct {
	kind  opKind
	token queue.Token
	sga   *queue.SGA
	addr  queue.Ipv4Endpoint
}

type socketState struct {
	fd        int
	listening bool
	closed    bool
	// readOps services accept and pop, writeOps services connect and push —
	// each queue is drained strictly in submission order.
	readOps  []pendingOp
	writeOps []pendingOp
	epollIn  bool
	epollOut bool
}

// Engine implements backend.NetworkEngine over host kernel sockets.
type Engine struct {
	mu      sync.Mutex
	slab    *scheduler.Slab
	sockets map[queue.Descriptor]*socketState
	nextQD  int32
	epfd    int
}

var _ backend.NetworkEngine = (*Engine)(nil)

// New opens the epoll instance shared by every socket this engine owns.
func New() (*Engine, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Engine{
		slab:    scheduler.NewSlab(),
		sockets: make(map[queue.Descriptor]*socketState),
		epfd:    epfd,
	}, nil
}

func (e *Engine) allocQD() queue.Descriptor {
	e.nextQD++
	return queue.Descriptor(e.nextQD)
}

// Socket implements backend.NetworkEngine.Socket.
func (e *Engine) Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, protocol)
	if err != nil {
		return queue.InvalidDescriptor, errno.FromSyscallErr(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	qd := e.allocQD()
	e.sockets[qd] = &socketState{fd: fd}

	ev := unix.EpollEvent{Events: 0, Fd: int32(fd)}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)

	return qd, errno.OK
}

// Bind implements backend.NetworkEngine.Bind.
func (e *Engine) Bind(qd queue.Descriptor, addr queue.Ipv4Endpoint) errno.Errno {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return e2
	}
	sa := &unix.SockaddrInet4{Port: int(addr.Port)}
	copy(sa.Addr[:], addr.Addr[:])
	if err := unix.Bind(s.fd, sa); err != nil {
		return errno.FromSyscallErr(err)
	}
	return errno.OK
}

// Listen implements backend.NetworkEngine.Listen.
func (e *Engine) Listen(qd queue.Descriptor, backlog int) errno.Errno {
	if backlog < 1 {
		return errno.EINVAL
	}
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return e2
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return errno.FromSyscallErr(err)
	}
	e.mu.Lock()
	s.listening = true
	e.mu.Unlock()
	return errno.OK
}

// Accept implements backend.NetworkEngine.Accept.
func (e *Engine) Accept(qd queue.Descriptor) (queue.Token, errno.Errno) {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	s.readOps = append(s.readOps, pendingOp{kind: opAccept, token: token})
	e.mu.Unlock()

	e.tryDrainRead(qd, s)
	return token, errno.OK
}

// Connect implements backend.NetworkEngine.Connect.
func (e *Engine) Connect(qd queue.Descriptor, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	s.writeOps = append(s.writeOps, pendingOp{kind: opConnect, token: token, addr: addr})
	e.mu.Unlock()

	sa := &unix.SockaddrInet4{Port: int(addr.Port)}
	copy(sa.Addr[:], addr.Addr[:])
	err := unix.Connect(s.fd, sa)
	if err == nil || err == unix.EINPROGRESS || err == unix.EALREADY {
		e.watchWrite(s)
		return token, errno.OK
	}
	// Immediate, non-retryable failure: complete now rather than queuing.
	e.mu.Lock()
	s.writeOps = s.writeOps[:len(s.writeOps)-1]
	e.mu.Unlock()
	e.slab.Complete(token, queue.Failed(token, errno.FromSyscallErr(err)))
	return token, errno.OK
}

// Close implements backend.Common.Close. All outstanding tokens on qd are
// cancelled to a failed result.
func (e *Engine) Close(qd queue.Descriptor) errno.Errno {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok {
		e.mu.Unlock()
		return errno.EBADF
	}
	s.closed = true
	fd := s.fd
	delete(e.sockets, qd)
	e.mu.Unlock()

	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	_ = unix.Close(fd)
	e.slab.CloseQD(qd, errno.ECONNRESET)
	return errno.OK
}

// Push implements backend.Common.Push.
func (e *Engine) Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	return e.submitWrite(qd, pendingOp{kind: opPush, sga: sga})
}

// PushTo implements backend.NetworkEngine.PushTo (UDP datagrams to an
// explicit destination).
func (e *Engine) PushTo(qd queue.Descriptor, sga *queue.SGA, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	return e.submitWrite(qd, pendingOp{kind: opPush, sga: sga, addr: addr})
}

// Pop implements backend.Common.Pop.
func (e *Engine) Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	s.readOps = append(s.readOps, pendingOp{kind: opPop, token: token})
	e.mu.Unlock()

	e.tryDrainRead(qd, s)
	return token, errno.OK
}

func (e *Engine) submitWrite(qd queue.Descriptor, op pendingOp) (queue.Token, errno.Errno) {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		e.mu.Unlock()
		return queue.InvalidToken, errno.EBADF
	}
	token := queue.NewToken()
	op.token = token
	e.slab.Submit(qd, token)
	s.writeOps = append(s.writeOps, op)
	e.mu.Unlock()

	e.tryDrainWrite(qd, s)
	return token, errno.OK
}

func (e *Engine) lookup(qd queue.Descriptor) (*socketState, errno.Errno) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		return nil, errno.EBADF
	}
	return s, errno.OK
}

// Poll implements scheduler.Reactor.Poll: drains whatever the host's epoll
// instance currently reports ready, without blocking.
func (e *Engine) Poll() {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(e.epfd, events[:], 0)
	if err != nil || n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		ev := events[i].Events

		e.mu.Lock()
		var qd queue.Descriptor
		var s *socketState
		for q, st := range e.sockets {
			if st.fd == fd {
				qd, s = q, st
				break
			}
		}
		e.mu.Unlock()
		if s == nil {
			continue
		}
		if ev&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			e.tryDrainRead(qd, s)
		}
		if ev&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			e.tryDrainWrite(qd, s)
		}
	}
}

// Schedule, Done, PackResult, Release all delegate to the shared slab.
func (e *Engine) Schedule(t queue.Token) (scheduler.Handle, errno.Errno) { return e.slab.Schedule(t) }
func (e *Engine) Done(h scheduler.Handle) bool                          { return e.slab.Done(h) }
func (e *Engine) PackResult(h scheduler.Handle, t queue.Token) (queue.Result, errno.Errno) {
	return e.slab.PackResult(h, t)
}
func (e *Engine) Release(h scheduler.Handle) { e.slab.Release(h) }

func (e *Engine) watchRead(s *socketState) {
	if s.epollIn {
		return
	}
	s.epollIn = true
	e.updateEpoll(s)
}

func (e *Engine) watchWrite(s *socketState) {
	if s.epollOut {
		return
	}
	s.epollOut = true
	e.updateEpoll(s)
}

func (e *Engine) updateEpoll(s *socketState) {
	var events uint32
	if s.epollIn {
		events |= unix.EPOLLIN
	}
	if s.epollOut {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(s.fd)}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, s.fd, &ev)
}

// tryDrainRead attempts the head of s's read queue (accept or pop). On
// EAGAIN it registers epoll interest and stops; otherwise it completes the
// operation and loops to the next queued read.
func (e *Engine) tryDrainRead(qd queue.Descriptor, s *socketState) {
	for {
		e.mu.Lock()
		if len(s.readOps) == 0 || s.closed {
			e.mu.Unlock()
			return
		}
		op := s.readOps[0]
		e.mu.Unlock()

		var result queue.Result
		var done bool
		switch op.kind {
		case opAccept:
			result, done = e.doAccept(qd, op)
		case opPop:
			result, done = e.doPop(s, op)
		}

		if !done {
			e.watchRead(s)
			return
		}

		e.mu.Lock()
		s.readOps = s.readOps[1:]
		e.mu.Unlock()
		e.slab.Complete(op.token, result)
	}
}

func (e *Engine) tryDrainWrite(qd queue.Descriptor, s *socketState) {
	for {
		e.mu.Lock()
		if len(s.writeOps) == 0 || s.closed {
			e.mu.Unlock()
			return
		}
		op := s.writeOps[0]
		e.mu.Unlock()

		var result queue.Result
		var done bool
		switch op.kind {
		case opConnect:
			result, done = e.doConnectComplete(s, op)
		case opPush:
			result, done = e.doPush(s, op)
		}

		if !done {
			e.watchWrite(s)
			return
		}

		e.mu.Lock()
		s.writeOps = s.writeOps[1:]
		e.mu.Unlock()
		e.slab.Complete(op.token, result)
	}
}

func (e *Engine) doAccept(qd queue.Descriptor, op pendingOp) (queue.Result, bool) {
	s := e.mustLookupInternal(qd)
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK)
	if err == unix.EAGAIN {
		return queue.Result{}, false
	}
	if err != nil {
		return queue.Failed(op.token, errno.FromSyscallErr(err)), true
	}
	e.mu.Lock()
	nqd := e.allocQD()
	e.sockets[nqd] = &socketState{fd: nfd}
	e.mu.Unlock()
	ev := unix.EpollEvent{Events: 0, Fd: int32(nfd)}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, nfd, &ev)

	addr := sockaddrToEndpoint(sa)
	return queue.Result{Token: op.token, Opcode: queue.OpAccept, QD: nqd, Addr: addr}, true
}

func (e *Engine) doConnectComplete(s *socketState, op pendingOp) (queue.Result, bool) {
	errVal, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return queue.Failed(op.token, errno.FromSyscallErr(err)), true
	}
	if errVal == int(unix.EINPROGRESS) {
		return queue.Result{}, false
	}
	if errVal != 0 {
		return queue.Failed(op.token, errno.Errno(errVal)), true
	}
	return queue.Result{Token: op.token, Opcode: queue.OpConnect, Addr: op.addr}, true
}

func (e *Engine) doPush(s *socketState, op pendingOp) (queue.Result, bool) {
	buf := op.sga.Bytes()
	var n int
	var err error
	if (op.addr != queue.Ipv4Endpoint{}) {
		sa := &unix.SockaddrInet4{Port: int(op.addr.Port)}
		copy(sa.Addr[:], op.addr.Addr[:])
		err = unix.Sendto(s.fd, buf, 0, sa)
		n = len(buf)
	} else {
		n, err = unix.Write(s.fd, buf)
	}
	if err == unix.EAGAIN {
		return queue.Result{}, false
	}
	if err != nil {
		return queue.Failed(op.token, errno.FromSyscallErr(err)), true
	}
	_ = n
	return queue.Result{Token: op.token, Opcode: queue.OpPush}, true
}

func (e *Engine) doPop(s *socketState, op pendingOp) (queue.Result, bool) {
	buf := make([]byte, 64*1024)
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err == unix.EAGAIN {
		return queue.Result{}, false
	}
	if err != nil {
		return queue.Failed(op.token, errno.FromSyscallErr(err)), true
	}
	sga := queue.Alloc(uint32(n))
	copy(sga.Segs[0].Buf, buf[:n])
	var addr queue.Ipv4Endpoint
	if sa4, ok := from.(*unix.SockaddrInet4); ok {
		addr = sockaddrToEndpoint(sa4)
	}
	sga.Addr = addr
	return queue.Result{Token: op.token, Opcode: queue.OpPop, SGA: sga, Addr: addr}, true
}

func (e *Engine) mustLookupInternal(qd queue.Descriptor) *socketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sockets[qd]
}

func sockaddrToEndpoint(sa unix.Sockaddr) queue.Ipv4Endpoint {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return queue.Ipv4Endpoint{}
	}
	var ep queue.Ipv4Endpoint
	copy(ep.Addr[:], sa4.Addr[:])
	ep.Port = uint16(sa4.Port)
	return ep
}
