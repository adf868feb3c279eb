package queue

import (
	"testing"

	"github.com/flowos/flowos/pkg/errno"
)

func TestAllocFreeRoundTripLeavesNoLeak(t *testing.T) {
	before := Outstanding()

	sga := Alloc(64)
	if sga == nil {
		t.Fatalf("Alloc(64) returned nil")
	}
	if got := Outstanding(); got != before+1 {
		t.Fatalf("Outstanding after Alloc = %d, want %d", got, before+1)
	}

	if e := Free(sga); e != errno.OK {
		t.Fatalf("Free: errno %d", e)
	}
	if got := Outstanding(); got != before {
		t.Fatalf("Outstanding after Free = %d, want %d (no leak)", got, before)
	}
}

func TestFreeNilOrDoubleFreeIsEINVAL(t *testing.T) {
	if e := Free(nil); e != errno.EINVAL {
		t.Fatalf("Free(nil): got errno %d, want EINVAL", e)
	}

	sga := Alloc(8)
	if e := Free(sga); e != errno.OK {
		t.Fatalf("first Free: errno %d", e)
	}
	if e := Free(sga); e != errno.EINVAL {
		t.Fatalf("double Free: got errno %d, want EINVAL", e)
	}
}

func TestAllocZeroSizeReturnsNil(t *testing.T) {
	if sga := Alloc(0); sga != nil {
		t.Fatalf("Alloc(0) = %+v, want nil", sga)
	}
}

func TestNewTokenNeverReturnsInvalidAndIsUnique(t *testing.T) {
	seen := make(map[Token]bool)
	for i := 0; i < 100; i++ {
		tok := NewToken()
		if tok == InvalidToken {
			t.Fatalf("NewToken returned the reserved invalid token")
		}
		if seen[tok] {
			t.Fatalf("NewToken returned a duplicate: %d", tok)
		}
		seen[tok] = true
	}
}

func TestSGABytesOnNilOrEmptyIsNil(t *testing.T) {
	var sga *SGA
	if got := sga.Bytes(); got != nil {
		t.Fatalf("(*SGA)(nil).Bytes() = %v, want nil", got)
	}
	if got := (&SGA{NumSegs: 0}).Bytes(); got != nil {
		t.Fatalf("zero-segment SGA.Bytes() = %v, want nil", got)
	}
}
