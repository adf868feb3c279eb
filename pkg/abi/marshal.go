// Package abi implements entry-point validation/marshalling and wire-value
// marshalling for the facade. This file holds the pure-Go conversions that
// do not depend on cgo, so they can be unit tested without a C compiler in
// the loop.
package abi

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

const afINET = 2

// SizeofSockaddrIn is the byte size of struct sockaddr_in on a standard
// Linux/glibc ABI: sa_family_t (2) + in_port_t (2) + struct in_addr (4) +
// 8 bytes of padding.
const SizeofSockaddrIn = 16

// SockaddrIn mirrors struct sockaddr_in field-for-field. Port and Addr are
// kept in network byte order, matching the C representation exactly; the
// ABI layer reads/writes these bytes directly off the caller's pointer.
type SockaddrIn struct {
	Family uint16
	Port   uint16   // network byte order
	Addr   uint32   // network byte order
	Zero   [8]byte
}

// DecodeSockaddrIn parses a raw sockaddr_in byte buffer. EINVAL if the
// length doesn't match sizeof(sockaddr_in). ENOTSUP if the family isn't
// AF_INET (communication domain not supported).
func DecodeSockaddrIn(raw []byte) (SockaddrIn, errno.Errno) {
	if len(raw) != SizeofSockaddrIn {
		return SockaddrIn{}, errno.EINVAL
	}
	var s SockaddrIn
	s.Family = binary.LittleEndian.Uint16(raw[0:2])
	s.Port = binary.BigEndian.Uint16(raw[2:4])
	s.Addr = binary.BigEndian.Uint32(raw[4:8])
	copy(s.Zero[:], raw[8:16])
	if s.Family != afINET {
		return SockaddrIn{}, errno.ENOTSUP
	}
	return s, errno.OK
}

// EncodeSockaddrIn serializes a SockaddrIn back to its wire form, the
// inverse of DecodeSockaddrIn.
func EncodeSockaddrIn(s SockaddrIn) []byte {
	raw := make([]byte, SizeofSockaddrIn)
	binary.LittleEndian.PutUint16(raw[0:2], s.Family)
	binary.BigEndian.PutUint16(raw[2:4], s.Port)
	binary.BigEndian.PutUint32(raw[4:8], s.Addr)
	copy(raw[8:16], s.Zero[:])
	return raw
}

// SockaddrToEndpoint converts a raw sockaddr_in buffer directly to the
// internal host-byte-order IPv4 endpoint value.
func SockaddrToEndpoint(raw []byte) (queue.Ipv4Endpoint, errno.Errno) {
	s, e := DecodeSockaddrIn(raw)
	if e != errno.OK {
		return queue.Ipv4Endpoint{}, e
	}
	var ep queue.Ipv4Endpoint
	binary.BigEndian.PutUint32(ep.Addr[:], s.Addr)
	ep.Port = s.Port
	return ep, errno.OK
}

// EndpointToSockaddr is the inverse of SockaddrToEndpoint, used when
// packing a peer address into an accept/pop result.
func EndpointToSockaddr(ep queue.Ipv4Endpoint) []byte {
	s := SockaddrIn{
		Family: afINET,
		Port:   ep.Port,
		Addr:   binary.BigEndian.Uint32(ep.Addr[:]),
	}
	return EncodeSockaddrIn(s)
}

// Timespec mirrors struct timespec: whole seconds plus sub-second
// nanoseconds.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// RelativeTimespecToDuration converts a relative timeout. A nil ts means
// "no timeout" (wait forever), represented as a nil *time.Duration.
// Negative components are rejected as malformed input.
func RelativeTimespecToDuration(ts *Timespec) (*time.Duration, errno.Errno) {
	if ts == nil {
		return nil, errno.OK
	}
	if ts.Sec < 0 || ts.Nsec < 0 {
		return nil, errno.EINVAL
	}
	d := time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)*time.Nanosecond
	return &d, errno.OK
}

// AbsoluteTimespecToTime converts an absolute deadline: timedwait's
// timespec is nanoseconds-since-epoch. A nil ts is EINVAL —
// timedwait always requires a deadline. On arithmetic overflow, the
// deadline is clamped to "now", forcing ETIMEDOUT on the caller's first
// poll iteration rather than erroring out.
func AbsoluteTimespecToTime(ts *Timespec) (time.Time, errno.Errno) {
	if ts == nil {
		return time.Time{}, errno.EINVAL
	}
	if ts.Sec < 0 || ts.Nsec < 0 {
		return time.Time{}, errno.EINVAL
	}
	const nsecPerSec = int64(time.Second)
	// Detect overflow of Sec*1e9 + Nsec before handing it to time.Unix.
	if ts.Sec > (math.MaxInt64)/nsecPerSec {
		return time.Now(), errno.OK
	}
	total := ts.Sec*nsecPerSec + ts.Nsec
	if total < 0 {
		return time.Now(), errno.OK
	}
	return time.Unix(0, total), errno.OK
}
