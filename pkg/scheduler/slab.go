package scheduler

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

// opEntry is one in-flight (or just-completed, not yet consumed) operation.
type opEntry struct {
	token       queue.Token
	qd          queue.Descriptor
	submittedAt time.Time
	seq         uint64

	done   bool
	result queue.Result
}

// Less orders opEntry by submission time (ties broken by sequence number),
// so the slab's btree index can answer "oldest still-pending operation"
// for the diagnostics snapshot without a linear scan.
func (e *opEntry) Less(than btree.Item) bool {
	o := than.(*opEntry)
	if e.submittedAt.Equal(o.submittedAt) {
		return e.seq < o.seq
	}
	return e.submittedAt.Before(o.submittedAt)
}

// Slab is a generic operation tracker every backend embeds to implement
// Reactor. A Handle here is just the token re-wrapped once existence is
// confirmed.
type Slab struct {
	mu      sync.Mutex
	ops     map[queue.Token]*opEntry
	byAge   *btree.BTree
	nextSeq uint64
}

// NewSlab constructs an empty operation slab.
func NewSlab() *Slab {
	return &Slab{
		ops:   make(map[queue.Token]*opEntry),
		byAge: btree.New(32),
	}
}

// Submit registers a freshly-issued token as pending, owned by qd.
func (s *Slab) Submit(qd queue.Descriptor, token queue.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	e := &opEntry{token: token, qd: qd, submittedAt: time.Now(), seq: s.nextSeq}
	s.ops[token] = e
	s.byAge.ReplaceOrInsert(e)
}

// Complete marks token as finished with the given result. A no-op if the
// token is unknown (e.g. it was already cancelled by CloseQD).
func (s *Slab) Complete(token queue.Token, result queue.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ops[token]
	if !ok || e.done {
		return
	}
	e.done = true
	result.Token = token
	e.result = result
}

// CloseQD implements the close-cancellation rule: every outstanding
// token owned by qd transitions to a failed result carrying e, to be
// observed by the next wait* on that token.
func (s *Slab) CloseQD(qd queue.Descriptor, e errno.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.ops {
		if entry.qd == qd && !entry.done {
			entry.done = true
			entry.result = queue.Failed(entry.token, e)
		}
	}
}

// Schedule implements Reactor.Schedule: resolve token to a Handle iff it is
// still tracked (pending or completed-but-unconsumed).
func (s *Slab) Schedule(token queue.Token) (Handle, errno.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[token]; !ok {
		return Handle{}, errno.EINVAL
	}
	return Handle{key: uint64(token)}, errno.OK
}

// Done implements Reactor.Done.
func (s *Slab) Done(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ops[queue.Token(h.key)]
	return ok && e.done
}

// PackResult implements Reactor.PackResult: consumes the token, removing it
// from the slab (and the age index) so a later wait on the same token
// correctly reports EINVAL.
func (s *Slab) PackResult(h Handle, token queue.Token) (queue.Result, errno.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ops[token]
	if !ok || !e.done {
		return queue.Result{}, errno.EINVAL
	}
	delete(s.ops, token)
	s.byAge.Delete(e)
	return e.result, errno.OK
}

// Release implements Reactor.Release: the slab's storage is map-backed, not
// slot-refcounted, so releasing a handle that observed an incomplete
// operation is a no-op — the entry simply stays put for the next poll
// cycle. This still upholds the handle lifecycle invariant: nothing
// here frees the operation.
func (s *Slab) Release(Handle) {}

// Poll is the no-op default for backends whose readiness is driven
// entirely by Complete() calls from elsewhere (e.g. an epoll goroutine).
// Backends with their own reactor step should not embed this and instead
// implement Poll directly.
func (s *Slab) Poll() {}

// OldestPending returns the age of the longest-pending uncompleted
// operation, or 0 if none: the value diagnostics.Capture takes as its
// oldestPending argument.
func (s *Slab) OldestPending() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Duration
	s.byAge.Ascend(func(i btree.Item) bool {
		e := i.(*opEntry)
		if e.done {
			return true
		}
		oldest = time.Since(e.submittedAt)
		return false
	})
	return oldest
}

// Len reports the number of tracked (pending or unconsumed-complete)
// operations.
func (s *Slab) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}
