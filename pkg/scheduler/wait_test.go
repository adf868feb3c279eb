package scheduler

import (
	"testing"
	"time"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

func TestWaitAnyEmptyArrayTimesOutImmediately(t *testing.T) {
	s := NewSlab()
	idx, _, e := WaitAny(s, nil, nil)
	if e != errno.ETIMEDOUT || idx != -1 {
		t.Fatalf("WaitAny(nil): got (idx=%d, errno=%d), want (-1, ETIMEDOUT)", idx, e)
	}
}

func TestWaitAnyPicksLowestReadyIndex(t *testing.T) {
	s := NewSlab()
	toks := []queue.Token{queue.NewToken(), queue.NewToken(), queue.NewToken()}
	for _, tok := range toks {
		s.Submit(0, tok)
	}
	// Complete indices 1 and 2, leaving 0 pending: wait_any must still
	// return index 1, the lowest ready index, not 2.
	s.Complete(toks[2], queue.Result{Token: toks[2], Opcode: queue.OpPush})
	s.Complete(toks[1], queue.Result{Token: toks[1], Opcode: queue.OpPop})

	idx, res, e := WaitAny(s, toks, nil)
	if e != errno.OK {
		t.Fatalf("WaitAny: errno %d", e)
	}
	if idx != 1 {
		t.Fatalf("WaitAny index = %d, want 1 (lowest ready)", idx)
	}
	if res.Opcode != queue.OpPop {
		t.Fatalf("WaitAny result opcode = %v, want pop", res.Opcode)
	}
}

func TestWaitTimesOutThenSucceedsOnSameToken(t *testing.T) {
	s := NewSlab()
	tok := queue.NewToken()
	s.Submit(0, tok)

	short := 10 * time.Millisecond
	if _, e := Wait(s, tok, &short); e != errno.ETIMEDOUT {
		t.Fatalf("first Wait: got errno %d, want ETIMEDOUT", e)
	}

	// The token must have survived the timeout: timing out puts the key
	// back rather than dropping it.
	s.Complete(tok, queue.Result{Token: tok, Opcode: queue.OpPush})
	res, e := Wait(s, tok, nil)
	if e != errno.OK {
		t.Fatalf("second Wait: errno %d", e)
	}
	if res.Opcode != queue.OpPush {
		t.Fatalf("second Wait opcode = %v, want push", res.Opcode)
	}
}

func TestWaitConsumesTokenExactlyOnce(t *testing.T) {
	s := NewSlab()
	tok := queue.NewToken()
	s.Submit(0, tok)
	s.Complete(tok, queue.Result{Token: tok, Opcode: queue.OpPush})

	if _, e := Wait(s, tok, nil); e != errno.OK {
		t.Fatalf("first Wait: errno %d", e)
	}
	if _, e := Wait(s, tok, nil); e != errno.EINVAL {
		t.Fatalf("second Wait on consumed token: got errno %d, want EINVAL", e)
	}
}

func TestCloseQDFailsOutstandingTokens(t *testing.T) {
	s := NewSlab()
	tokA := queue.NewToken()
	tokB := queue.NewToken()
	s.Submit(5, tokA)
	s.Submit(6, tokB) // different QD, must be unaffected

	s.CloseQD(5, errno.ECONNRESET)

	res, e := Wait(s, tokA, nil)
	if e != errno.OK {
		t.Fatalf("Wait after CloseQD: errno %d", e)
	}
	if res.Opcode != queue.OpFailed || res.Err != errno.ECONNRESET {
		t.Fatalf("Wait after CloseQD: got %+v, want failed/ECONNRESET", res)
	}

	if s.Done(mustSchedule(t, s, tokB)) {
		t.Fatalf("token on a different QD should not be affected by CloseQD")
	}
}

func mustSchedule(t *testing.T, s *Slab, tok queue.Token) Handle {
	t.Helper()
	h, e := s.Schedule(tok)
	if e != errno.OK {
		t.Fatalf("Schedule: errno %d", e)
	}
	return h
}

func TestTimedWaitPastDeadlineTimesOutWithoutCompletion(t *testing.T) {
	s := NewSlab()
	tok := queue.NewToken()
	s.Submit(0, tok)

	if _, e := TimedWait(s, tok, time.Now().Add(-time.Hour)); e != errno.ETIMEDOUT {
		t.Fatalf("TimedWait with past deadline: got errno %d, want ETIMEDOUT", e)
	}
}
