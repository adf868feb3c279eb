// Package backend declares the vocabulary every concrete engine (Catnap,
// Catnip, Catpowder, Catcollar, Catmem) implements.
package backend

import (
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

// Common is the vocabulary supported by every backend regardless of family:
// close, push, pop, sgaalloc, sgafree route here no matter which arm is
// active. It embeds scheduler.Reactor so the async core can drive any
// backend uniformly.
type Common interface {
	scheduler.Reactor

	Close(qd queue.Descriptor) errno.Errno
	Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno)
	Pop(qd queue.Descriptor) (queue.Token, errno.Errno)
}

// NetworkEngine is the socket vocabulary, supported only by the Network
// arm's active backend.
type NetworkEngine interface {
	Common

	Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno)
	Bind(qd queue.Descriptor, addr queue.Ipv4Endpoint) errno.Errno
	Listen(qd queue.Descriptor, backlog int) errno.Errno
	Accept(qd queue.Descriptor) (queue.Token, errno.Errno)
	Connect(qd queue.Descriptor, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno)
	PushTo(qd queue.Descriptor, sga *queue.SGA, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno)
}

// MemoryEngine is the pipe vocabulary, supported only by the Memory arm's
// active backend.
type MemoryEngine interface {
	Common

	CreatePipe(name string) (queue.Descriptor, errno.Errno)
	OpenPipe(name string) (queue.Descriptor, errno.Errno)
}

// Name identifies a compiled-in backend, matching the LIBOS environment
// variable's accepted values.
type Name string

const (
	Catnap    Name = "catnap"
	Catnip    Name = "catnip"
	Catpowder Name = "catpowder"
	Catcollar Name = "catcollar"
	Catmem    Name = "catmem"
)

// Family reports which dispatcher arm a backend name belongs to.
func (n Name) Family() (network, memory bool) {
	switch n {
	case Catnap, Catnip, Catpowder, Catcollar:
		return true, false
	case Catmem:
		return false, true
	default:
		return false, false
	}
}
