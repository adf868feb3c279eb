package flowos

import (
	"time"

	"github.com/flowos/flowos/pkg/config"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

// CreatePipe implements the create_pipe entry point. The C-string name is
// marshalled (EINVAL on non-UTF8) before the singleton is even acquired,
// matching the validation-then-dispatch order the rest of this package
// follows.
func CreatePipe(name string) (queue.Descriptor, errno.Errno) {
	if e := config.ValidatePipeName(name); e != errno.OK {
		return queue.InvalidDescriptor, e
	}
	var qd queue.Descriptor
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		qd, e = lo.CreatePipe(name)
		return e
	})
	if e != errno.OK {
		return queue.InvalidDescriptor, e
	}
	return qd, errno.OK
}

// OpenPipe implements the open_pipe entry point.
func OpenPipe(name string) (queue.Descriptor, errno.Errno) {
	if e := config.ValidatePipeName(name); e != errno.OK {
		return queue.InvalidDescriptor, e
	}
	var qd queue.Descriptor
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		qd, e = lo.OpenPipe(name)
		return e
	})
	if e != errno.OK {
		return queue.InvalidDescriptor, e
	}
	return qd, errno.OK
}

// Socket implements the socket entry point.
func Socket(domain, typ, protocol int) (queue.Descriptor, errno.Errno) {
	var qd queue.Descriptor
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		qd, e = lo.Socket(domain, typ, protocol)
		return e
	})
	if e != errno.OK {
		return queue.InvalidDescriptor, e
	}
	return qd, errno.OK
}

// Bind implements the bind entry point. Validation of the raw sockaddr
// buffer (null check, length check, family check) happens in the ABI
// layer before addr reaches here, ahead of this dispatch.
func Bind(qd queue.Descriptor, addr queue.Ipv4Endpoint) errno.Errno {
	return withSingleton(func(lo *LibOS) errno.Errno {
		return lo.Bind(qd, addr)
	})
}

// Listen implements the listen entry point. backlog < 1 is EINVAL,
// checked here rather than pushed into every backend.
func Listen(qd queue.Descriptor, backlog int) errno.Errno {
	if backlog < 1 {
		return errno.EINVAL
	}
	return withSingleton(func(lo *LibOS) errno.Errno {
		return lo.Listen(qd, backlog)
	})
}

// Accept implements the accept entry point.
func Accept(qd queue.Descriptor) (queue.Token, errno.Errno) {
	var tok queue.Token
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		tok, e = lo.Accept(qd)
		return e
	})
	if e != errno.OK {
		return queue.InvalidToken, e
	}
	return tok, errno.OK
}

// Connect implements the connect entry point.
func Connect(qd queue.Descriptor, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	var tok queue.Token
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		tok, e = lo.Connect(qd, addr)
		return e
	})
	if e != errno.OK {
		return queue.InvalidToken, e
	}
	return tok, errno.OK
}

// Close implements the close entry point.
func Close(qd queue.Descriptor) errno.Errno {
	return withSingleton(func(lo *LibOS) errno.Errno {
		return lo.Close(qd)
	})
}

// Push implements the push entry point. A nil sga is EINVAL, checked
// here so no backend needs to repeat the null check.
func Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	var tok queue.Token
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		tok, e = lo.Push(qd, sga)
		return e
	})
	if e != errno.OK {
		return queue.InvalidToken, e
	}
	return tok, errno.OK
}

// PushTo implements the pushto entry point.
func PushTo(qd queue.Descriptor, sga *queue.SGA, addr queue.Ipv4Endpoint) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	var tok queue.Token
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		tok, e = lo.PushTo(qd, sga, addr)
		return e
	})
	if e != errno.OK {
		return queue.InvalidToken, e
	}
	return tok, errno.OK
}

// Pop implements the pop entry point.
func Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	var tok queue.Token
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		tok, e = lo.Pop(qd)
		return e
	})
	if e != errno.OK {
		return queue.InvalidToken, e
	}
	return tok, errno.OK
}

// Wait implements the wait entry point: wait_any([token], timeout) with
// the index asserted to be 0.
func Wait(token queue.Token, timeout *time.Duration) (queue.Result, errno.Errno) {
	var res queue.Result
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		res, e = scheduler.Wait(lo.reactor(), token, timeout)
		return e
	})
	return res, e
}

// TimedWait implements the timedwait entry point.
func TimedWait(token queue.Token, deadline time.Time) (queue.Result, errno.Errno) {
	var res queue.Result
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		res, e = scheduler.TimedWait(lo.reactor(), token, deadline)
		return e
	})
	return res, e
}

// WaitAny implements the wait_any entry point.
func WaitAny(tokens []queue.Token, timeout *time.Duration) (int, queue.Result, errno.Errno) {
	var (
		idx int
		res queue.Result
	)
	e := withSingleton(func(lo *LibOS) errno.Errno {
		var e errno.Errno
		idx, res, e = scheduler.WaitAny(lo.reactor(), tokens, timeout)
		return e
	})
	if e != errno.OK {
		return -1, queue.Result{}, e
	}
	return idx, res, errno.OK
}

// SGAAlloc implements sgaalloc. It does not use the errno convention:
// failure is a nil return, not an out-parameter left untouched.
// sgaalloc/sgafree route through pkg/queue's generic allocator rather
// than a per-backend pool, since no compiled-in backend in this build
// needs a distinct memory arena (see DESIGN.md).
func SGAAlloc(size uint32) *queue.SGA {
	return queue.Alloc(size)
}

// SGAFree implements sgafree.
func SGAFree(sga *queue.SGA) errno.Errno {
	return queue.Free(sga)
}

// GetSockName, SetSockOpt, GetSockOpt are deliberately unimplemented:
// every call returns ENOSYS regardless of arm or state.
func GetSockName(queue.Descriptor) errno.Errno          { return errno.ENOSYS }
func SetSockOpt(queue.Descriptor, int, int) errno.Errno { return errno.ENOSYS }
func GetSockOpt(queue.Descriptor, int) errno.Errno      { return errno.ENOSYS }
