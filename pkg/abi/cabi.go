// This file is the cgo-exported half of the ABI surface: a flat set of
// C-callable entry points that validate arguments, marshal C types
// to the internal semantic types in this package and pkg/queue, dispatch
// through pkg/flowos, and pack results back into caller-provided
// out-pointers.
package abi

/*
#include <stddef.h>
#include <stdint.h>

typedef struct {
	uint16_t family;
	uint16_t port;
	uint32_t addr;
	uint8_t zero[8];
} flowos_sockaddr_in_t;

typedef struct {
	int64_t sec;
	int64_t nsec;
} flowos_timespec_t;

typedef struct {
	void *buf;
	size_t len;
} flowos_segment_t;

typedef struct {
	uint32_t numsegs;
	flowos_segment_t segs[1];
	flowos_sockaddr_in_t addr;
} flowos_sga_t;

typedef struct {
	uint64_t qt;
	int32_t opcode;
	int32_t qd;
	flowos_sga_t sga;
	flowos_sockaddr_in_t addr;
	int32_t err;
} flowos_qresult_t;
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/flowos"
	"github.com/flowos/flowos/pkg/queue"
)

//export flowos_init
func flowos_init(argc C.int, argv **C.char) C.int {
	flowos.Init(int(argc), nil)
	return 0
}

//export flowos_create_pipe
func flowos_create_pipe(outQD *C.int32_t, name *C.char) C.int {
	if outQD == nil || name == nil {
		return C.int(errno.EINVAL)
	}
	qd, e := flowos.CreatePipe(C.GoString(name))
	if e != errno.OK {
		return C.int(e)
	}
	*outQD = C.int32_t(qd)
	return 0
}

//export flowos_open_pipe
func flowos_open_pipe(outQD *C.int32_t, name *C.char) C.int {
	if outQD == nil || name == nil {
		return C.int(errno.EINVAL)
	}
	qd, e := flowos.OpenPipe(C.GoString(name))
	if e != errno.OK {
		return C.int(e)
	}
	*outQD = C.int32_t(qd)
	return 0
}

//export flowos_socket
func flowos_socket(outQD *C.int32_t, domain, typ, protocol C.int) C.int {
	if outQD == nil {
		return C.int(errno.EINVAL)
	}
	qd, e := flowos.Socket(int(domain), int(typ), int(protocol))
	if e != errno.OK {
		return C.int(e)
	}
	*outQD = C.int32_t(qd)
	return 0
}

//export flowos_bind
func flowos_bind(qd C.int32_t, addr *C.flowos_sockaddr_in_t, socklen C.uint32_t) C.int {
	ep, e := decodeCSockaddr(addr, socklen)
	if e != errno.OK {
		return C.int(e)
	}
	return C.int(flowos.Bind(queue.Descriptor(qd), ep))
}

//export flowos_listen
func flowos_listen(qd C.int32_t, backlog C.int) C.int {
	return C.int(flowos.Listen(queue.Descriptor(qd), int(backlog)))
}

//export flowos_accept
func flowos_accept(outQT *C.uint64_t, qd C.int32_t) C.int {
	if outQT == nil {
		return C.int(errno.EINVAL)
	}
	tok, e := flowos.Accept(queue.Descriptor(qd))
	if e != errno.OK {
		return C.int(e)
	}
	*outQT = C.uint64_t(tok)
	return 0
}

//export flowos_connect
func flowos_connect(outQT *C.uint64_t, qd C.int32_t, addr *C.flowos_sockaddr_in_t, socklen C.uint32_t) C.int {
	if outQT == nil {
		return C.int(errno.EINVAL)
	}
	ep, e := decodeCSockaddr(addr, socklen)
	if e != errno.OK {
		return C.int(e)
	}
	tok, e := flowos.Connect(queue.Descriptor(qd), ep)
	if e != errno.OK {
		return C.int(e)
	}
	*outQT = C.uint64_t(tok)
	return 0
}

//export flowos_close
func flowos_close(qd C.int32_t) C.int {
	return C.int(flowos.Close(queue.Descriptor(qd)))
}

//export flowos_push
func flowos_push(outQT *C.uint64_t, qd C.int32_t, sga *C.flowos_sga_t) C.int {
	if outQT == nil {
		return C.int(errno.EINVAL)
	}
	s, e := decodeCSGA(sga)
	if e != errno.OK {
		return C.int(e)
	}
	tok, e := flowos.Push(queue.Descriptor(qd), s)
	if e != errno.OK {
		return C.int(e)
	}
	*outQT = C.uint64_t(tok)
	return 0
}

//export flowos_pushto
func flowos_pushto(outQT *C.uint64_t, qd C.int32_t, sga *C.flowos_sga_t, addr *C.flowos_sockaddr_in_t, socklen C.uint32_t) C.int {
	if outQT == nil {
		return C.int(errno.EINVAL)
	}
	s, e := decodeCSGA(sga)
	if e != errno.OK {
		return C.int(e)
	}
	ep, e := decodeCSockaddr(addr, socklen)
	if e != errno.OK {
		return C.int(e)
	}
	tok, e := flowos.PushTo(queue.Descriptor(qd), s, ep)
	if e != errno.OK {
		return C.int(e)
	}
	*outQT = C.uint64_t(tok)
	return 0
}

//export flowos_pop
func flowos_pop(outQT *C.uint64_t, qd C.int32_t) C.int {
	if outQT == nil {
		return C.int(errno.EINVAL)
	}
	tok, e := flowos.Pop(queue.Descriptor(qd))
	if e != errno.OK {
		return C.int(e)
	}
	*outQT = C.uint64_t(tok)
	return 0
}

//export flowos_wait
func flowos_wait(outQR *C.flowos_qresult_t, qt C.uint64_t, relTimeout *C.flowos_timespec_t) C.int {
	d, e := relativeTimeoutFromC(relTimeout)
	if e != errno.OK {
		return C.int(e)
	}
	res, e := flowos.Wait(queue.Token(qt), d)
	if e != errno.OK {
		return C.int(e)
	}
	if outQR != nil {
		encodeCResult(outQR, res)
	}
	return 0
}

//export flowos_timedwait
func flowos_timedwait(outQR *C.flowos_qresult_t, qt C.uint64_t, absTimeout *C.flowos_timespec_t) C.int {
	deadline, e := absoluteDeadlineFromC(absTimeout)
	if e != errno.OK {
		return C.int(e)
	}
	res, e := flowos.TimedWait(queue.Token(qt), deadline)
	if e != errno.OK {
		return C.int(e)
	}
	if outQR != nil {
		encodeCResult(outQR, res)
	}
	return 0
}

//export flowos_wait_any
func flowos_wait_any(outQR *C.flowos_qresult_t, outIndex *C.int, qts *C.uint64_t, count C.int, relTimeout *C.flowos_timespec_t) C.int {
	if outIndex == nil || count < 0 {
		return C.int(errno.EINVAL)
	}
	d, e := relativeTimeoutFromC(relTimeout)
	if e != errno.OK {
		return C.int(e)
	}
	tokens := tokensFromC(qts, count)
	idx, res, e := flowos.WaitAny(tokens, d)
	if e != errno.OK {
		return C.int(e)
	}
	*outIndex = C.int(idx)
	if outQR != nil {
		encodeCResult(outQR, res)
	}
	return 0
}

//export flowos_sgaalloc
func flowos_sgaalloc(size C.size_t) C.flowos_sga_t {
	sga := flowos.SGAAlloc(uint32(size))
	var out C.flowos_sga_t
	if sga == nil {
		return out // zeroed SGA: sgaalloc has no errno channel to report failure on
	}
	encodeCSGAInto(&out, sga)
	return out
}

//export flowos_sgafree
func flowos_sgafree(sga *C.flowos_sga_t) C.int {
	s, e := decodeCSGA(sga)
	if e != errno.OK {
		return C.int(e)
	}
	return C.int(flowos.SGAFree(s))
}

//export flowos_getsockname
func flowos_getsockname(qd C.int32_t) C.int { return C.int(flowos.GetSockName(queue.Descriptor(qd))) }

//export flowos_setsockopt
func flowos_setsockopt(qd C.int32_t, level, name C.int) C.int {
	return C.int(flowos.SetSockOpt(queue.Descriptor(qd), int(level), int(name)))
}

//export flowos_getsockopt
func flowos_getsockopt(qd C.int32_t, level C.int) C.int {
	return C.int(flowos.GetSockOpt(queue.Descriptor(qd), int(level)))
}

// --- marshalling helpers between the cgo structs above and this
// package's pure-Go types in marshal.go ---

func decodeCSockaddr(addr *C.flowos_sockaddr_in_t, socklen C.uint32_t) (queue.Ipv4Endpoint, errno.Errno) {
	if addr == nil {
		return queue.Ipv4Endpoint{}, errno.EINVAL
	}
	raw := C.GoBytes(unsafe.Pointer(addr), C.int(socklen))
	return SockaddrToEndpoint(raw)
}

func decodeCSGA(sga *C.flowos_sga_t) (*queue.SGA, errno.Errno) {
	if sga == nil {
		return nil, errno.EINVAL
	}
	n := uint32(sga.numsegs)
	if n != 1 {
		return nil, errno.EINVAL
	}
	seg := sga.segs[0]
	buf := unsafe.Slice((*byte)(seg.buf), int(seg.len))
	out := &queue.SGA{NumSegs: 1}
	out.Segs[0].Buf = append([]byte(nil), buf...)
	return out, errno.OK
}

func encodeCSGAInto(out *C.flowos_sga_t, sga *queue.SGA) {
	b := sga.Bytes()
	out.numsegs = C.uint32_t(sga.NumSegs)
	if len(b) > 0 {
		out.segs[0].buf = C.CBytes(b)
		out.segs[0].len = C.size_t(len(b))
	}
}

func encodeCResult(out *C.flowos_qresult_t, res queue.Result) {
	out.qt = C.uint64_t(res.Token)
	out.opcode = C.int32_t(res.Opcode)
	out.qd = C.int32_t(res.QD)
	out.err = C.int32_t(res.Err)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out.addr)), SizeofSockaddrIn), EndpointToSockaddr(res.Addr))
	if res.SGA != nil {
		encodeCSGAInto(&out.sga, res.SGA)
	}
}

func relativeTimeoutFromC(ts *C.flowos_timespec_t) (*time.Duration, errno.Errno) {
	if ts == nil {
		return nil, errno.OK
	}
	return RelativeTimespecToDuration(&Timespec{Sec: int64(ts.sec), Nsec: int64(ts.nsec)})
}

func absoluteDeadlineFromC(ts *C.flowos_timespec_t) (time.Time, errno.Errno) {
	if ts == nil {
		return time.Time{}, errno.EINVAL
	}
	return AbsoluteTimespecToTime(&Timespec{Sec: int64(ts.sec), Nsec: int64(ts.nsec)})
}

func tokensFromC(qts *C.uint64_t, count C.int) []queue.Token {
	if count == 0 {
		return nil
	}
	raw := unsafe.Slice((*uint64)(unsafe.Pointer(qts)), int(count))
	toks := make([]queue.Token, len(raw))
	for i, v := range raw {
		toks[i] = queue.Token(v)
	}
	return toks
}
