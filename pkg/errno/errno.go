// Package errno defines the POSIX-style status codes returned across the
// FlowOS ABI boundary. Every exported entry point returns 0 on success or a
// positive errno on failure; this package is the single source of truth for
// which numeric value backs each named condition.
package errno

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a POSIX error number. The zero value means success.
type Errno uint32

// Error implements the error interface.
func (e Errno) Error() string {
	if e == 0 {
		return "success"
	}
	return fmt.Sprintf("errno %d: %s", uint32(e), unix.Errno(e).Error())
}

// Int returns the C ABI representation: 0 for success, positive errno
// otherwise.
func (e Errno) Int() int {
	return int(e)
}

// The five kinds named in the facade's error taxonomy, plus the handful of
// additional POSIX codes backends are free to surface unchanged.
const (
	// OK is the zero/success status. Never written to an out-parameter slot
	// that also carries an errno.
	OK Errno = 0

	// EINVAL: bad argument — null pointer, wrong size, malformed string.
	EINVAL = Errno(unix.EINVAL)

	// ENOTSUP: operation not supported by the active LibOS family, or a
	// socket address family other than AF_INET.
	ENOTSUP = Errno(unix.ENOTSUP)

	// ENOSYS: facade not initialized, or entry point intentionally
	// unimplemented (getsockname/setsockopt/getsockopt).
	ENOSYS = Errno(unix.ENOSYS)

	// EBUSY: the process singleton is already mutably borrowed.
	EBUSY = Errno(unix.EBUSY)

	// ETIMEDOUT: a wait/timedwait/wait_any deadline elapsed with no
	// completion.
	ETIMEDOUT = Errno(unix.ETIMEDOUT)

	// Common backend-surfaced codes, passed through unchanged from the
	// underlying host syscall.
	EAGAIN       = Errno(unix.EAGAIN)
	EBADF        = Errno(unix.EBADF)
	ECONNRESET   = Errno(unix.ECONNRESET)
	ECONNREFUSED = Errno(unix.ECONNREFUSED)
	ENOMEM       = Errno(unix.ENOMEM)
	EEXIST       = Errno(unix.EEXIST)
	ENOENT       = Errno(unix.ENOENT)
	EPERM        = Errno(unix.EPERM)
	EACCES       = Errno(unix.EACCES)
	ENETUNREACH  = Errno(unix.ENETUNREACH)
	EHOSTUNREACH = Errno(unix.EHOSTUNREACH)
	EADDRINUSE   = Errno(unix.EADDRINUSE)
	EIO          = Errno(unix.EIO)
)

// FromSyscallErr maps a raw error returned by a syscall-layer call into an
// Errno, defaulting to EIO-equivalent passthrough when the concrete errno
// cannot be extracted.
func FromSyscallErr(err error) Errno {
	if err == nil {
		return OK
	}
	var sysErr unix.Errno
	if errorsAs(err, &sysErr) {
		return Errno(sysErr)
	}
	return Errno(unix.EIO)
}

// errorsAs is a small local unwrap loop standing in for errors.As, so this
// file does not import the stdlib errors package for one call site.
func errorsAs(err error, target *unix.Errno) bool {
	for {
		if se, ok := err.(unix.Errno); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == nil {
			return false
		}
	}
}
