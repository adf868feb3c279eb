package scheduler

import (
	"runtime"
	"time"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

// WaitAny polls tokens until one completes or timeout elapses. timeout ==
// nil means "wait forever" (the relative-timeout family: wait, wait_any).
// Tie-breaking: the lowest-index token in tokens that is ready wins a given
// poll cycle, since the scan below always checks indices in order and
// returns on the first hit.
func WaitAny(r Reactor, tokens []queue.Token, timeout *time.Duration) (int, queue.Result, errno.Errno) {
	if len(tokens) == 0 {
		// An empty token array can never become ready: time out
		// immediately rather than spinning forever.
		return -1, queue.Result{}, errno.ETIMEDOUT
	}

	var start time.Time
	if timeout != nil {
		start = time.Now()
	}

	for {
		r.Poll()

		for i, tok := range tokens {
			h, e := r.Schedule(tok)
			if e != errno.OK {
				return -1, queue.Result{}, e
			}
			if r.Done(h) {
				res, e := r.PackResult(h, tok)
				if e != errno.OK {
					return -1, queue.Result{}, e
				}
				return i, res, errno.OK
			}
			r.Release(h)
		}

		if timeout != nil && time.Since(start) > *timeout {
			return -1, queue.Result{}, errno.ETIMEDOUT
		}

		runtime.Gosched()
	}
}

// TimedWaitAny is WaitAny's absolute-deadline sibling: the completion check
// is now() >= deadline instead of elapsed > relative timeout.
// Deadline-arithmetic overflow is handled by the caller clamping deadline
// to time.Now(), which forces ETIMEDOUT on the first iteration.
func TimedWaitAny(r Reactor, tokens []queue.Token, deadline time.Time) (int, queue.Result, errno.Errno) {
	if len(tokens) == 0 {
		return -1, queue.Result{}, errno.ETIMEDOUT
	}

	for {
		r.Poll()

		for i, tok := range tokens {
			h, e := r.Schedule(tok)
			if e != errno.OK {
				return -1, queue.Result{}, e
			}
			if r.Done(h) {
				res, e := r.PackResult(h, tok)
				if e != errno.OK {
					return -1, queue.Result{}, e
				}
				return i, res, errno.OK
			}
			r.Release(h)
		}

		if !time.Now().Before(deadline) {
			return -1, queue.Result{}, errno.ETIMEDOUT
		}

		runtime.Gosched()
	}
}

// Wait is wait_any([token], timeout) with the returned index asserted to be
// 0.
func Wait(r Reactor, token queue.Token, timeout *time.Duration) (queue.Result, errno.Errno) {
	idx, res, e := WaitAny(r, []queue.Token{token}, timeout)
	if e != errno.OK {
		return queue.Result{}, e
	}
	if idx != 0 {
		panic("scheduler: Wait returned unexpected index")
	}
	return res, errno.OK
}

// TimedWait is timedwait(qt, abstime): TimedWaitAny([token], deadline) with
// the index asserted to be 0.
func TimedWait(r Reactor, token queue.Token, deadline time.Time) (queue.Result, errno.Errno) {
	idx, res, e := TimedWaitAny(r, []queue.Token{token}, deadline)
	if e != errno.OK {
		return queue.Result{}, e
	}
	if idx != 0 {
		panic("scheduler: TimedWait returned unexpected index")
	}
	return res, errno.OK
}
