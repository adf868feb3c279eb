// Package catnip is the userspace TCP/IP backend: it builds FlowOS's own
// network stack on gVisor's tcpip package (the same netstack gVisor's
// sentry uses to give a sandboxed guest a kernel-bypass network path)
// instead of delegating I/O to the host kernel.
package catnip

import (
	"bytes"
	"sync"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/netutil"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

const nicID tcpip.NICID = 1

const (
	sockStream = 1
	sockDgram  = 2
)

// endpointState tracks one socket's netstack endpoint plus the wait queue
// used to learn about readiness transitions.
type endpointState struct {
	ep     tcpip.Endpoint
	wq     *waiter.Queue
	closed bool
}

// Engine implements backend.NetworkEngine over a gVisor tcpip.Stack.
type Engine struct {
	mu      sync.Mutex
	slab    *scheduler.Slab
	stack   *stack.Stack
	linkEP  *channel.Endpoint
	sockets map[queue.Descriptor]*endpointState
	nextQD  int32
}

var _ backend.NetworkEngine = (*Engine)(nil)

// New constructs a netstack whose link endpoint uses mtu (1500 when mtu is
// 0). A non-empty ifaceName must resolve to a host interface; its own MTU
// is not consulted. The link endpoint is a channel.Endpoint: exchanging frames with the real host
// interface is a transport-backend concern left to the caller's packet
// pump, out of scope for the facade itself.
func New(ifaceName string, mtu uint32) (*Engine, error) {
	if ifaceName != "" {
		if _, err := netutil.ResolveLink(ifaceName); err != nil {
			return nil, err
		}
	}
	if mtu == 0 {
		mtu = 1500
	}

	s := stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol},
	})

	linkEP := channel.New(256, mtu, "")
	if tcpErr := s.CreateNIC(nicID, linkEP); tcpErr != nil {
		return nil, toGoError(tcpErr)
	}

	return &Engine{
		slab:    scheduler.NewSlab(),
		stack:   s,
		linkEP:  linkEP,
		sockets: make(map[queue.Descriptor]*endpointState),
	}, nil
}

func (e *Engine) allocQD() queue.Descriptor {
	e.nextQD++
	return queue.Descriptor(e.nextQD)
}

// Socket implements backend.NetworkEngine.Socket.
func (e *Engine) Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno) {
	var transProto tcpip.TransportProtocolNumber
	switch typ {
	case sockStream:
		transProto = tcp.ProtocolNumber
	case sockDgram:
		transProto = udp.ProtocolNumber
	default:
		return queue.InvalidDescriptor, errno.ENOTSUP
	}

	var wq waiter.Queue
	ep, tcpErr := e.stack.NewEndpoint(transProto, ipv4.ProtocolNumber, &wq)
	if tcpErr != nil {
		return queue.InvalidDescriptor, toErrno(tcpErr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	qd := e.allocQD()
	e.sockets[qd] = &endpointState{ep: ep, wq: &wq}
	return qd, errno.OK
}

// Bind implements backend.NetworkEngine.Bind.
func (e *Engine) Bind(qd queue.Descriptor, addr queue.Ipv4Endpoint) errno.Errno {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return e2
	}
	fa := tcpip.FullAddress{NIC: nicID, Addr: tcpip.AddrFromSlice(addr.Addr[:]), Port: addr.Port}
	if tcpErr := s.ep.Bind(fa); tcpErr != nil {
		return toErrno(tcpErr)
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
	if tcpErr := s.ep.Listen(backlog); tcpErr != nil {
		return toErrno(tcpErr)
	}
	return errno.OK
}

// Accept implements backend.NetworkEngine.Accept.
func (e *Engine) Accept(qd queue.Descriptor) (queue.Token, errno.Errno) {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return queue.InvalidToken, e2
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	go e.completeAccept(s, token)
	return token, errno.OK
}

func (e *Engine) completeAccept(s *endpointState, token queue.Token) {
	for {
		nep, wq, tcpErr := s.ep.Accept(nil)
		if isWouldBlock(tcpErr) {
			waitEntry, ch := waiter.NewChannelEntry(waiter.ReadableEvents)
			s.wq.EventRegister(&waitEntry)
			<-ch
			s.wq.EventUnregister(&waitEntry)
			continue
		}
		if tcpErr != nil {
			e.slab.Complete(token, queue.Failed(token, toErrno(tcpErr)))
			return
		}

		e.mu.Lock()
		nqd := e.allocQD()
		e.sockets[nqd] = &endpointState{ep: nep, wq: wq}
		e.mu.Unlock()

		addr, _ := nep.GetRemoteAddress()
		e.slab.Complete(token, queue.Result{
			Token: token, Opcode: queue.OpAccept, QD: nqd, Addr: fullAddrToEndpoint(addr),
		})
		return
	}
}

// Connect implements backend.NetworkEngine.Connect.
func (e *Engine) Connect(qd queue.Descriptor, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return queue.InvalidToken, e2
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)

	fa := tcpip.FullAddress{NIC: nicID, Addr: tcpip.AddrFromSlice(addr.Addr[:]), Port: addr.Port}
	tcpErr := s.ep.Connect(fa)
	if tcpErr == nil {
		e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpConnect, Addr: addr})
		return token, errno.OK
	}
	if isConnectInProgress(tcpErr) {
		go e.waitConnect(s, token, addr)
		return token, errno.OK
	}
	e.slab.Complete(token, queue.Failed(token, toErrno(tcpErr)))
	return token, errno.OK
}

func (e *Engine) waitConnect(s *endpointState, token queue.Token, addr queue.Ipv4Endpoint) {
	waitEntry, ch := waiter.NewChannelEntry(waiter.WritableEvents)
	s.wq.EventRegister(&waitEntry)
	defer s.wq.EventUnregister(&waitEntry)
	<-ch
	if tcpErr := s.ep.LastError(); tcpErr != nil {
		e.slab.Complete(token, queue.Failed(token, toErrno(tcpErr)))
		return
	}
	e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpConnect, Addr: addr})
}

// Close implements backend.Common.Close.
func (e *Engine) Close(qd queue.Descriptor) errno.Errno {
	e.mu.Lock()
	s, ok := e.sockets[qd]
	if !ok {
		e.mu.Unlock()
		return errno.EBADF
	}
	s.closed = true
	delete(e.sockets, qd)
	e.mu.Unlock()

	s.ep.Close()
	e.slab.CloseQD(qd, errno.ECONNRESET)
	return errno.OK
}

// Push implements backend.Common.Push.
func (e *Engine) Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	return e.push(qd, sga, nil)
}

// PushTo implements backend.NetworkEngine.PushTo.
func (e *Engine) PushTo(qd queue.Descriptor, sga *queue.SGA, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	return e.push(qd, sga, &addr)
}

func (e *Engine) push(qd queue.Descriptor, sga *queue.SGA, to *queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return queue.InvalidToken, e2
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)

	var opts tcpip.WriteOptions
	if to != nil {
		opts.To = &tcpip.FullAddress{NIC: nicID, Addr: tcpip.AddrFromSlice(to.Addr[:]), Port: to.Port}
	}
	_, tcpErr := s.ep.Write(bytes.NewReader(sga.Bytes()), opts)
	if tcpErr != nil {
		e.slab.Complete(token, queue.Failed(token, toErrno(tcpErr)))
		return token, errno.OK
	}
	e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpPush})
	return token, errno.OK
}

// Pop implements backend.Common.Pop.
func (e *Engine) Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	s, e2 := e.lookup(qd)
	if e2 != errno.OK {
		return queue.InvalidToken, e2
	}
	token := queue.NewToken()
	e.slab.Submit(qd, token)
	go e.completePop(s, token)
	return token, errno.OK
}

func (e *Engine) completePop(s *endpointState, token queue.Token) {
	for {
		var buf bytes.Buffer
		res, tcpErr := s.ep.Read(&buf, tcpip.ReadOptions{NeedRemoteAddr: true})
		if isWouldBlock(tcpErr) {
			waitEntry, ch := waiter.NewChannelEntry(waiter.ReadableEvents)
			s.wq.EventRegister(&waitEntry)
			<-ch
			s.wq.EventUnregister(&waitEntry)
			continue
		}
		if tcpErr != nil {
			e.slab.Complete(token, queue.Failed(token, toErrno(tcpErr)))
			return
		}
		_ = res
		sga := queue.Alloc(uint32(buf.Len()))
		copy(sga.Segs[0].Buf, buf.Bytes())
		addr := fullAddrToEndpoint(res.RemoteAddr)
		sga.Addr = addr
		e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpPop, SGA: sga, Addr: addr})
		return
	}
}

func (e *Engine) lookup(qd queue.Descriptor) (*endpointState, errno.Errno) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sockets[qd]
	if !ok || s.closed {
		return nil, errno.EBADF
	}
	return s, errno.OK
}

// Poll implements scheduler.Reactor.Poll. Completion here is driven by the
// per-operation goroutines registered against the netstack's waiter
// queues, so stepping the reactor from the wait loop is a no-op; Poll
// exists purely to satisfy the Reactor contract uniformly across backends.
func (e *Engine) Poll() {}

func (e *Engine) Schedule(t queue.Token) (scheduler.Handle, errno.Errno) { return e.slab.Schedule(t) }
func (e *Engine) Done(h scheduler.Handle) bool                          { return e.slab.Done(h) }
func (e *Engine) PackResult(h scheduler.Handle, t queue.Token) (queue.Result, errno.Errno) {
	return e.slab.PackResult(h, t)
}
func (e *Engine) Release(h scheduler.Handle) { e.slab.Release(h) }

func fullAddrToEndpoint(fa tcpip.FullAddress) queue.Ipv4Endpoint {
	var ep queue.Ipv4Endpoint
	b := fa.Addr.As4()
	copy(ep.Addr[:], b[:])
	ep.Port = fa.Port
	return ep
}
