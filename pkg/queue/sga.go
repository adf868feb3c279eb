package queue

import (
	"sync/atomic"

	"github.com/flowos/flowos/pkg/errno"
)

// MaxSegments bounds the inline segment array carried in an SGA, matching
// the fixed-size layout the ABI publishes in its header.
const MaxSegments = 1

// Segment is one scatter-gather element: a pointer-equivalent byte slice
// view plus its length. In the Go facade the "pointer" is simply a slice
// backed by allocator-owned memory; the ABI layer is responsible for
// translating this to/from a raw C pointer+length pair.
type Segment struct {
	Buf []byte
}

// SGA is the scatter-gather array value: a segment count, an inline segment
// array, and an embedded source/destination socket address. There is no
// separate base-buffer field; the first segment's Buf holds the payload.
// Ownership rule: once a caller receives an SGA from Alloc or from a
// completed pop, the caller owns it and must return it via Free. An SGA
// passed to Push/PushTo is borrowed for the duration of the submitted
// operation.
type SGA struct {
	NumSegs uint32
	Segs    [MaxSegments]Segment
	Addr    Ipv4Endpoint

	// freed guards against double-free; 0 live, 1 freed.
	freed uint32
}

// outstanding tracks the number of allocations made through Alloc that have
// not yet been returned via Free, for the diagnostics snapshot and for
// leak-detection round-trip tests.
var outstanding int64

// Outstanding reports the number of SGAs currently checked out to callers.
func Outstanding() int64 {
	return atomic.LoadInt64(&outstanding)
}

// Alloc allocates an SGA with a single segment of size bytes. Returns nil
// on failure; the ABI layer maps that to a null SGA return rather than an
// errno, since sgaalloc has no errno channel of its own.
func Alloc(size uint32) *SGA {
	if size == 0 {
		return nil
	}
	sga := &SGA{
		NumSegs: 1,
		Segs:    [MaxSegments]Segment{{Buf: make([]byte, size)}},
	}
	atomic.AddInt64(&outstanding, 1)
	return sga
}

// Free returns an SGA to the backend. EINVAL if sga is nil or already
// freed.
func Free(sga *SGA) errno.Errno {
	if sga == nil {
		return errno.EINVAL
	}
	if !atomic.CompareAndSwapUint32(&sga.freed, 0, 1) {
		return errno.EINVAL
	}
	atomic.AddInt64(&outstanding, -1)
	return errno.OK
}

// Bytes returns the contiguous payload of the SGA's first segment. FlowOS
// only ever allocates single-segment SGAs, the common-case collapse of a
// general "base pointer + count" segment list.
func (s *SGA) Bytes() []byte {
	if s == nil || s.NumSegs == 0 {
		return nil
	}
	return s.Segs[0].Buf
}
