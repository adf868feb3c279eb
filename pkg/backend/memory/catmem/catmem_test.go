package catmem

import (
	"testing"
	"time"

	"github.com/flowos/flowos/pkg/errno"
	"github.com/flowos/flowos/pkg/queue"
)

func TestRingPushPopRoundTrip(t *testing.T) {
	buf := make([]byte, ringHeaderSize+256)
	r := newRing(buf)

	want := []byte("hello flowos")
	if !r.tryPush(want) {
		t.Fatalf("tryPush failed on empty ring")
	}
	got, ok := r.tryPop()
	if !ok {
		t.Fatalf("tryPop reported empty ring after a push")
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, want)
	}
	if _, ok := r.tryPop(); ok {
		t.Fatalf("tryPop succeeded on a drained ring")
	}
}

func TestRingWrapsAroundCapacity(t *testing.T) {
	buf := make([]byte, ringHeaderSize+32)
	r := newRing(buf)

	for i := 0; i < 10; i++ {
		payload := []byte{byte(i), byte(i), byte(i)}
		if !r.tryPush(payload) {
			t.Fatalf("push %d: unexpected backpressure", i)
		}
		got, ok := r.tryPop()
		if !ok || len(got) != 3 || got[0] != byte(i) {
			t.Fatalf("push/pop %d: got %v, ok=%v", i, got, ok)
		}
	}
}

func TestRingReportsBackpressureWhenFull(t *testing.T) {
	buf := make([]byte, ringHeaderSize+8)
	r := newRing(buf)

	if !r.tryPush([]byte{1, 2}) {
		t.Fatalf("first push should fit")
	}
	if r.tryPush([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("second push should not fit: ring is over capacity")
	}
}

func TestCreateAndOpenPipeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	creator, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opener, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	serverQD, ec := creator.CreatePipe("chat")
	if ec != errno.OK {
		t.Fatalf("CreatePipe: errno %d", ec)
	}
	clientQD, ec := opener.OpenPipe("chat")
	if ec != errno.OK {
		t.Fatalf("OpenPipe: errno %d", ec)
	}

	payload := []byte("ping")
	sga := queue.Alloc(uint32(len(payload)))
	copy(sga.Bytes(), payload)
	token, ec := creator.Push(serverQD, sga)
	if ec != errno.OK {
		t.Fatalf("Push: errno %d", ec)
	}
	h, ec := creator.Schedule(token)
	if ec != errno.OK || !creator.Done(h) {
		t.Fatalf("creator-side push should complete synchronously")
	}

	popToken, ec := opener.Pop(clientQD)
	if ec != errno.OK {
		t.Fatalf("Pop: errno %d", ec)
	}
	ph, _ := opener.Schedule(popToken)
	if !opener.Done(ph) {
		t.Fatalf("pop should observe the frame the creator already pushed")
	}
	res, ec := opener.PackResult(ph, popToken)
	if ec != errno.OK {
		t.Fatalf("PackResult: errno %d", ec)
	}
	if got := string(res.SGA.Bytes()); got != "ping" {
		t.Fatalf("payload mismatch: got %q", got)
	}

	if e := creator.Close(serverQD); e != errno.OK {
		t.Fatalf("creator Close: errno %d", e)
	}
	if e := opener.Close(clientQD); e != errno.OK {
		t.Fatalf("opener Close: errno %d", e)
	}
}

func TestOpenPipeTimesOutWhenNeverCreated(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now()
	_, got := e.OpenPipe("never-created")
	if got != errno.ENOENT {
		t.Fatalf("OpenPipe: got errno %d, want ENOENT", got)
	}
	if elapsed := time.Since(start); elapsed > openPipeMaxWait+2*time.Second {
		t.Fatalf("OpenPipe took %v, want bounded by backoff max elapsed time", elapsed)
	}
}
