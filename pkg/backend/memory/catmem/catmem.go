// Package catmem is the shared-memory pipe backend: a named, memory-mapped
// ring buffer pair guarded by a per-name file lock, echoing gVisor's own
// shared ring-buffer I/O path (io_uring's SQ/CQ layout) but mmap'd between
// two FlowOS processes instead of shared between a sentry and its guest
// application.
package catmem

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/flowos/flowos/pkg/backend"
	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
	"github.com/flowos/flowos/pkg/scheduler"
)

const (
	magic = 0xCA7FEED0

	// ringDataBytes is the per-direction payload capacity. Small enough to
	// keep a pipe's backing file modest, large enough to hold more than one
	// typical in-flight SGA at once.
	ringDataBytes = 64 * 1024

	headerSize  = 8 // magic uint32 + ready uint32
	ringSize    = ringHeaderSize + ringDataBytes
	segmentSize = headerSize + 2*ringSize

	// openPipeMaxWait bounds how long OpenPipe backs off waiting for a
	// creator to finish initializing a segment before giving up.
	openPipeMaxWait = 5 * time.Second
)

// Engine implements backend.MemoryEngine over mmap'd named pipes rooted at
// baseDir (conventionally /dev/shm/flowos).
type Engine struct {
	mu      sync.Mutex
	slab    *scheduler.Slab
	baseDir string
	conns   map[queue.Descriptor]*pipeConn
	nextQD  queue.Descriptor
}

// pipeConn is one end of an open pipe: its mmap segment, the lock that
// guarded creation/open, and which ring this end writes vs. reads.
type pipeConn struct {
	name     string
	creator  bool
	lock     *flock.Flock
	segment  []byte
	out      *ring // this end's write direction
	in       *ring // this end's read direction
	pendingW []pendingOp
	pendingR []queue.Token
}

type pendingOp struct {
	token queue.Token
	sga   *queue.SGA
}

var _ backend.MemoryEngine = (*Engine)(nil)

// New constructs a Catmem engine rooted at baseDir, creating the directory
// if it doesn't already exist.
func New(baseDir string) (*Engine, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("catmem: create base dir: %w", err)
	}
	return &Engine{
		slab:    scheduler.NewSlab(),
		baseDir: baseDir,
		conns:   make(map[queue.Descriptor]*pipeConn),
		nextQD:  1,
	}, nil
}

func (e *Engine) paths(name string) (segPath, lockPath string) {
	return filepath.Join(e.baseDir, name+".pipe"), filepath.Join(e.baseDir, name+".pipe.lock")
}

// CreatePipe implements backend.MemoryEngine.CreatePipe: exclusively
// creates the backing segment and marks it ready once both rings are
// initialized, so a concurrent OpenPipe never observes a half-built header.
func (e *Engine) CreatePipe(name string) (queue.Descriptor, errno.Errno) {
	if name == "" {
		return queue.InvalidDescriptor, errno.EINVAL
	}
	segPath, lockPath := e.paths(name)
	lk := flock.New(lockPath)
	locked, err := lk.TryLock()
	if err != nil || !locked {
		return queue.InvalidDescriptor, errno.EEXIST
	}

	f, err := os.OpenFile(segPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		lk.Unlock()
		if os.IsExist(err) {
			return queue.InvalidDescriptor, errno.EEXIST
		}
		return queue.InvalidDescriptor, errno.EIO
	}
	if err := f.Truncate(int64(segmentSize)); err != nil {
		f.Close()
		os.Remove(segPath)
		lk.Unlock()
		return queue.InvalidDescriptor, errno.EIO
	}
	seg, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	f.Close()
	if err != nil {
		os.Remove(segPath)
		lk.Unlock()
		return queue.InvalidDescriptor, errno.EIO
	}

	putUint32(seg, 0, magic)
	// ready flag (offset 4) stays 0 until both ring headers are zeroed by
	// the mmap's already-zero-filled pages, then flips last.
	putUint32(seg, 4, 1)

	conn := &pipeConn{
		name:    name,
		creator: true,
		lock:    lk,
		segment: seg,
		out:     newRing(seg[headerSize : headerSize+ringSize]),
		in:      newRing(seg[headerSize+ringSize:]),
	}
	return e.register(conn), errno.OK
}

// OpenPipe implements backend.MemoryEngine.OpenPipe: waits (with backoff)
// for a creator to publish the segment, then maps it with the ring roles
// reversed relative to the creator's.
func (e *Engine) OpenPipe(name string) (queue.Descriptor, errno.Errno) {
	if name == "" {
		return queue.InvalidDescriptor, errno.EINVAL
	}
	segPath, lockPath := e.paths(name)

	var f *os.File
	op := func() error {
		var err error
		f, err = os.OpenFile(segPath, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		fi, err := f.Stat()
		if err != nil || fi.Size() < segmentSize {
			f.Close()
			return fmt.Errorf("catmem: segment %s not yet sized", name)
		}
		var hdr [headerSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err != nil || getUint32(hdr[:], 4) != 1 {
			f.Close()
			return fmt.Errorf("catmem: segment %s not yet ready", name)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = openPipeMaxWait
	if err := backoff.Retry(op, b); err != nil {
		return queue.InvalidDescriptor, errno.ENOENT
	}

	seg, err := unix.Mmap(int(f.Fd()), 0, segmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	f.Close()
	if err != nil {
		return queue.InvalidDescriptor, errno.EIO
	}
	if getUint32(seg, 0) != magic {
		unix.Munmap(seg)
		return queue.InvalidDescriptor, errno.EINVAL
	}

	lk := flock.New(lockPath)
	conn := &pipeConn{
		name:    name,
		creator: false,
		lock:    lk,
		segment: seg,
		out:     newRing(seg[headerSize+ringSize:]),
		in:      newRing(seg[headerSize : headerSize+ringSize]),
	}
	return e.register(conn), errno.OK
}

func (e *Engine) register(c *pipeConn) queue.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	qd := e.nextQD
	e.nextQD++
	e.conns[qd] = c
	return qd
}

// Close implements backend.Common.Close. The creator unmaps and removes
// the backing files; an opener only unmaps, leaving the segment for other
// openers (and for the creator's own eventual close).
func (e *Engine) Close(qd queue.Descriptor) errno.Errno {
	e.mu.Lock()
	c, ok := e.conns[qd]
	if !ok {
		e.mu.Unlock()
		return errno.EBADF
	}
	delete(e.conns, qd)
	e.mu.Unlock()

	unix.Munmap(c.segment)
	if c.creator {
		segPath, lockPath := e.paths(c.name)
		os.Remove(segPath)
		c.lock.Unlock()
		os.Remove(lockPath)
	}
	e.slab.CloseQD(qd, errno.ECONNRESET)
	return errno.OK
}

// Push implements backend.Common.Push.
func (e *Engine) Push(qd queue.Descriptor, sga *queue.SGA) (queue.Token, errno.Errno) {
	if sga == nil {
		return queue.InvalidToken, errno.EINVAL
	}
	e.mu.Lock()
	c, ok := e.conns[qd]
	e.mu.Unlock()
	if !ok {
		return queue.InvalidToken, errno.EBADF
	}

	token := queue.NewToken()
	e.slab.Submit(qd, token)
	if c.out.tryPush(sga.Bytes()) {
		e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpPush})
		return token, errno.OK
	}
	c.pendingW = append(c.pendingW, pendingOp{token: token, sga: sga})
	return token, errno.OK
}

// Pop implements backend.Common.Pop.
func (e *Engine) Pop(qd queue.Descriptor) (queue.Token, errno.Errno) {
	e.mu.Lock()
	c, ok := e.conns[qd]
	e.mu.Unlock()
	if !ok {
		return queue.InvalidToken, errno.EBADF
	}

	token := queue.NewToken()
	e.slab.Submit(qd, token)
	if payload, ok := c.in.tryPop(); ok {
		e.completePop(token, payload)
		return token, errno.OK
	}
	c.pendingR = append(c.pendingR, token)
	return token, errno.OK
}

func (e *Engine) completePop(token queue.Token, payload []byte) {
	sga := queue.Alloc(uint32(len(payload)))
	if sga != nil {
		copy(sga.Bytes(), payload)
	}
	e.slab.Complete(token, queue.Result{Token: token, Opcode: queue.OpPop, SGA: sga})
}

// Poll implements scheduler.Reactor.Poll: drains every connection's pending
// reads and writes against the current ring occupancy.
func (e *Engine) Poll() {
	e.mu.Lock()
	conns := make([]*pipeConn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		e.drain(c)
	}
}

func (e *Engine) drain(c *pipeConn) {
	for len(c.pendingR) > 0 {
		payload, ok := c.in.tryPop()
		if !ok {
			break
		}
		token := c.pendingR[0]
		c.pendingR = c.pendingR[1:]
		e.completePop(token, payload)
	}
	for len(c.pendingW) > 0 {
		op := c.pendingW[0]
		if !c.out.tryPush(op.sga.Bytes()) {
			break
		}
		c.pendingW = c.pendingW[1:]
		e.slab.Complete(op.token, queue.Result{Token: op.token, Opcode: queue.OpPush})
	}
}

func (e *Engine) Schedule(t queue.Token) (scheduler.Handle, errno.Errno) { return e.slab.Schedule(t) }
func (e *Engine) Done(h scheduler.Handle) bool                          { return e.slab.Done(h) }
func (e *Engine) PackResult(h scheduler.Handle, t queue.Token) (queue.Result, errno.Errno) {
	return e.slab.PackResult(h, t)
}
func (e *Engine) Release(h scheduler.Handle) { e.slab.Release(h) }

func putUint32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func getUint32(buf []byte, off int) uint32 {
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}
