// Package scheduler implements the async operation core: the
// wait/timedwait/wait_any algorithm driven by a small Reactor contract that
// every backend (network or memory) satisfies.
package scheduler

import (
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

// Handle is a transient reference obtained by looking up a token in the
// reactor. Its zero value is never returned from a successful Schedule.
type Handle struct {
	key uint64
}

// Reactor is the contract the async core consumes from a backend: schedule,
// poll and pack_result, plus Done and Release for the handle lifecycle.
// Implementations must uphold
// the handle lifecycle invariant: a Handle obtained from Schedule must
// either be consumed by PackResult (once Done reports true) or have its key
// released via Release — never both, never neither.
type Reactor interface {
	// Schedule resolves token to a live Handle. Fails (typically ENOSYS/
	// EINVAL-equivalent from the backend) if the token is unknown or has
	// already been consumed.
	Schedule(token queue.Token) (Handle, errno.Errno)

	// Poll drives the reactor one step. Never blocks.
	Poll()

	// Done reports whether the operation behind h has completed. Must be
	// called only between Schedule and the matching PackResult/Release.
	Done(h Handle) bool

	// PackResult crystallizes a completed operation into a Result and
	// consumes the handle (and the token). Only valid when Done(h) is true.
	PackResult(h Handle, token queue.Token) (queue.Result, errno.Errno)

	// Release returns h's key to the scheduler without consuming the
	// operation, so a later Schedule(token) finds it again. Required after
	// observing !Done(h).
	Release(h Handle)
}
