// Package catcollar is the DPDK/RIO backend plug point. DPDK and RIO are
// kernel-bypass NIC driver frameworks with no pure-Go binding available in
// this build (they're C libraries typically wired in via cgo against
// vendor SDKs), so those driver internals stay an external collaborator
// out of scope here. This package keeps the NetworkEngine shape wired into
// the dispatcher so a future build that links the real driver only has to
// replace the method bodies below.
package catcollar

import (
	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

// Engine is an unwired NetworkEngine: every call fails ENOSYS until a real
// DPDK/RIO driver is linked in.
type Engine struct {
	slab *scheduler.Slab
}

var _ backend.NetworkEngine = (*Engine)(nil)

// New constructs the stub engine. It never fails; the driver absence is
// reported per-call instead, matching the facade's "not wired" status.
func New() *Engine {
	return &Engine{slab: scheduler.NewSlab()}
}

func (e *Engine) Socket(int, int, int) (queue.Descriptor, errno.Errno) {
	return queue.InvalidDescriptor, errno.ENOSYS
}
func (e *Engine) Bind(queue.Descriptor, queue.Ipv4Endpoint) errno.Errno { return errno.ENOSYS }
func (e *Engine) Listen(queue.Descriptor, int) errno.Errno             { return errno.ENOSYS }
func (e *Engine) Accept(queue.Descriptor) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOSYS
}
func (e *Engine) Connect(queue.Descriptor, queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOSYS
}
func (e *Engine) Close(queue.Descriptor) errno.Errno { return errno.ENOSYS }
func (e *Engine) Push(queue.Descriptor, *queue.SGA) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOSYS
}
func (e *Engine) PushTo(queue.Descriptor, *queue.SGA, queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOSYS
}
func (e *Engine) Pop(queue.Descriptor) (queue.Token, errno.Errno) {
	return queue.InvalidToken, errno.ENOSYS
}

func (e *Engine) Poll() {}
func (e *Engine) Schedule(t queue.Token) (scheduler.Handle, errno.Errno) { return e.slab.Schedule(t) }
func (e *Engine) Done(h scheduler.Handle) bool                          { return e.slab.Done(h) }
func (e *Engine) PackResult(h scheduler.Handle, t queue.Token) (queue.Result, errno.Errno) {
	return e.slab.PackResult(h, t)
}
func (e *Engine) Release(h scheduler.Handle) { e.slab.Release(h) }
