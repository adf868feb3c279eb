package queue

import "github.com/flowos/flowos/pkg/errno"

// Opcode names the operation a Result completes.
type Opcode int32

const (
	OpInvalid Opcode = iota
	OpAccept
	OpConnect
	OpPush
	OpPop
	OpFailed
)

func (o Opcode) String() string {
	switch o {
	case OpAccept:
		return "accept"
	case OpConnect:
		return "connect"
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	case OpFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Ipv4Endpoint is the internal representation of an IPv4 socket address,
// always host-byte-order.
type Ipv4Endpoint struct {
	Addr [4]byte
	Port uint16
}

// Result is the queue result record (QR): the token it pertains to, the
// opcode, and an opcode-specific payload. Produced by a backend's
// PackResult.
type Result struct {
	Token   Token
	Opcode  Opcode
	QD      Descriptor    // valid for OpAccept: the newly accepted QD
	SGA     *SGA          // valid for OpPop: the received buffer
	Addr    Ipv4Endpoint  // valid for OpPop (source) / OpConnect,OpAccept (peer)
	Err     errno.Errno   // valid for OpFailed
}

// Failed builds a failed result payload for the given token.
func Failed(t Token, e errno.Errno) Result {
	return Result{Token: t, Opcode: OpFailed, Err: e}
}
