package flowos

import (
	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

// LibOS is the installed facade instance: the dispatcher's tagged variant
// collapsed to two nilable fields. Exactly one of net/mem is non-nil for
// any given process, fixed for the process's lifetime by Init.
type LibOS struct {
	name backend.Name
	net  backend.NetworkEngine
	mem  backend.MemoryEngine
}

// reactor returns whichever arm is active, for the async core's use.
func (lo *LibOS) reactor() scheduler.Reactor {
	if lo.net != nil {
		return lo.net
	}
	return lo.mem
}

// CreatePipe dispatches to the Memory arm; ENOTSUP on Network.
func (lo *LibOS) CreatePipe(name string) (queue.Descriptor, errno.Errno) {
	if lo.mem == nil {
		return queue.InvalidDescriptor, errno.ENOTSUP
	}
	return lo.mem.CreatePipe(name)
}

// OpenPipe dispatches to the Memory arm; ENOTSUP on Network.
func (lo *LibOS) OpenPipe(name string) (queue.Descriptor, errno.Errno) {
	if lo.mem == nil {
		return queue.InvalidDescriptor, errno.ENOTSUP
	}
	return lo.mem.OpenPipe(name)
}

// Socket dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno) {
	if lo.net == nil {
		return queue.InvalidDescriptor, errno.ENOTSUP
	}
	return lo.net.Socket(domain, typ, protocol)
}

// Bind dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) Bind(qd queue.Descriptor, addr queue.Ipv4Endpoint) errno.Errno {
	if lo.net == nil {
		return errno.ENOTSUP
	}
	return lo.net.Bind(qd, addr)
}

// Listen dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) Listen(qd queue.Descriptor, backlog int) errno.Errno {
	if lo.net == nil {
		return errno.ENOTSUP
	}
	return lo.net.Listen(qd, backlog)
}

// Accept dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) Accept(qd queue.Descriptor) (queue.Token, errno.Errno) {
	if lo.net == nil {
		return queue.InvalidToken, errno.ENOTSUP
	}
	return lo.net.Accept(qd)
}

// Connect dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) Connect(qd queue.Descriptor, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	if lo.net == nil {
		return queue.InvalidToken, errno.ENOTSUP
	}
	return lo.net.Connect(qd, addr)
}

// PushTo dispatches to the Network arm; ENOTSUP on Memory.
func (lo *LibOS) PushTo(qd queue.Descriptor, sga *queue.SGA, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	if lo.net == nil {
		return queue.InvalidToken, errno.ENOTSUP
	}
	return lo.net.PushTo(qd, sga, addr)
}

// Close is common to both arms: forwarded to whichever is active.
func (lo *LibOS) Close(qd queue.Descriptor) errno.Errno {
	if lo.net != nil {
		return lo.net.Close(qd)
	}
	return lo.mem.Close(qd)
}

// Push is common to both arms.
func (lo *LibOS) Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if lo.net != nil {
		return lo.net.Push(qd, sga)
	}
	return lo.mem.Push(qd, sga)
}

// Pop is common to both arms.
func (lo *LibOS) Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	if lo.net != nil {
		return lo.net.Pop(qd)
	}
	return lo.mem.Pop(qd)
}
