package catnip

import (
	"errors"

	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/flowos/flowos/pkg/errno"
)

// toGoError adapts a tcpip.Error (gVisor's own error interface, distinct
// from the stdlib error it predates) into a plain Go error for the
// constructor path, which doesn't need errno granularity.
func toGoError(err tcpip.Error) error {
	if err == nil {
		return nil
	}
	return errors.New(err.String())
}

// toErrno maps the tcpip.Error variants this backend can actually produce
// onto the facade's POSIX errno taxonomy.
func toErrno(err tcpip.Error) errno.Errno {
	switch err.(type) {
	case nil:
		return errno.OK
	case *tcpip.ErrWouldBlock:
		return errno.EAGAIN
	case *tcpip.ErrConnectionRefused:
		return errno.ECONNREFUSED
	case *tcpip.ErrConnectionReset, *tcpip.ErrConnectionAborted, *tcpip.ErrAborted:
		return errno.ECONNRESET
	case *tcpip.ErrInvalidEndpointState, *tcpip.ErrBadLocalAddress, *tcpip.ErrDestinationRequired:
		return errno.EINVAL
	case *tcpip.ErrPortInUse, *tcpip.ErrDuplicateAddress:
		return errno.EEXIST
	case *tcpip.ErrNoRoute, *tcpip.ErrNetworkUnreachable:
		return errno.ENETUNREACH
	case *tcpip.ErrHostUnreachable:
		return errno.EHOSTUNREACH
	case *tcpip.ErrTimeout:
		return errno.ETIMEDOUT
	case *tcpip.ErrClosedForSend, *tcpip.ErrClosedForReceive, *tcpip.ErrNotConnected:
		return errno.EBADF
	case *tcpip.ErrNotSupported, *tcpip.ErrQueueSizeNotSupported:
		return errno.ENOTSUP
	default:
		return errno.ENOSYS
	}
}

// isWouldBlock reports whether err is tcpip's "operation would block"
// sentinel, the condition that makes an operation asynchronous rather than
// immediately failed.
func isWouldBlock(err tcpip.Error) bool {
	_, ok := err.(*tcpip.ErrWouldBlock)
	return ok
}

// isConnectInProgress reports whether a just-issued Connect is still in
// flight (non-blocking connect semantics), as opposed to having failed
// outright.
func isConnectInProgress(err tcpip.Error) bool {
	switch err.(type) {
	case *tcpip.ErrConnectStarted, *tcpip.ErrAlreadyConnecting:
		return true
	default:
		return false
	}
}
