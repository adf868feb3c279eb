package abi

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/flowos/flowos/pkg/errno"
)

func rawSockaddrIn(t *testing.T, ipv4 [4]byte, port uint16) []byte {
	t.Helper()
	raw := make([]byte, SizeofSockaddrIn)
	binary.LittleEndian.PutUint16(raw[0:2], afINET)
	binary.BigEndian.PutUint16(raw[2:4], port)
	copy(raw[4:8], ipv4[:])
	return raw
}

func TestSockaddrEndpointRoundTripPreservesAddrAndPort(t *testing.T) {
	raw := rawSockaddrIn(t, [4]byte{127, 0, 0, 1}, 80)

	ep, e := SockaddrToEndpoint(raw)
	if e != errno.OK {
		t.Fatalf("SockaddrToEndpoint: errno %d", e)
	}
	if ep.Addr != [4]byte{127, 0, 0, 1} || ep.Port != 80 {
		t.Fatalf("decoded endpoint = %+v, want 127.0.0.1:80", ep)
	}

	back := EndpointToSockaddr(ep)
	if len(back) != SizeofSockaddrIn {
		t.Fatalf("EndpointToSockaddr length = %d, want %d", len(back), SizeofSockaddrIn)
	}
	gotEP, e := SockaddrToEndpoint(back)
	if e != errno.OK {
		t.Fatalf("SockaddrToEndpoint(round-trip): errno %d", e)
	}
	if gotEP != ep {
		t.Fatalf("round trip mismatch: got %+v, want %+v", gotEP, ep)
	}
}

func TestDecodeSockaddrInWrongLengthIsEINVAL(t *testing.T) {
	if _, e := DecodeSockaddrIn(make([]byte, SizeofSockaddrIn-1)); e != errno.EINVAL {
		t.Fatalf("DecodeSockaddrIn short buffer: got errno %d, want EINVAL", e)
	}
}

func TestDecodeSockaddrInWrongFamilyIsENOTSUP(t *testing.T) {
	raw := make([]byte, SizeofSockaddrIn)
	binary.LittleEndian.PutUint16(raw[0:2], 10) // AF_INET6
	if _, e := DecodeSockaddrIn(raw); e != errno.ENOTSUP {
		t.Fatalf("DecodeSockaddrIn AF_INET6: got errno %d, want ENOTSUP", e)
	}
}

func TestRelativeTimespecNilMeansWaitForever(t *testing.T) {
	d, e := RelativeTimespecToDuration(nil)
	if e != errno.OK || d != nil {
		t.Fatalf("RelativeTimespecToDuration(nil) = (%v, %d), want (nil, OK)", d, e)
	}
}

func TestRelativeTimespecNegativeComponentsAreEINVAL(t *testing.T) {
	if _, e := RelativeTimespecToDuration(&Timespec{Sec: -1}); e != errno.EINVAL {
		t.Fatalf("negative Sec: got errno %d, want EINVAL", e)
	}
	if _, e := RelativeTimespecToDuration(&Timespec{Nsec: -1}); e != errno.EINVAL {
		t.Fatalf("negative Nsec: got errno %d, want EINVAL", e)
	}
}

func TestRelativeTimespecConvertsWholeAndSubsecond(t *testing.T) {
	d, e := RelativeTimespecToDuration(&Timespec{Sec: 2, Nsec: 500_000_000})
	if e != errno.OK {
		t.Fatalf("RelativeTimespecToDuration: errno %d", e)
	}
	want := 2*time.Second + 500*time.Millisecond
	if *d != want {
		t.Fatalf("duration = %v, want %v", *d, want)
	}
}

func TestAbsoluteTimespecNilIsEINVAL(t *testing.T) {
	if _, e := AbsoluteTimespecToTime(nil); e != errno.EINVAL {
		t.Fatalf("AbsoluteTimespecToTime(nil): got errno %d, want EINVAL", e)
	}
}

func TestAbsoluteTimespecOverflowClampsToNow(t *testing.T) {
	before := time.Now()
	got, e := AbsoluteTimespecToTime(&Timespec{Sec: int64(1) << 62})
	after := time.Now()
	if e != errno.OK {
		t.Fatalf("AbsoluteTimespecToTime overflow: errno %d", e)
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("overflowed deadline = %v, want clamped within [%v, %v]", got, before, after)
	}
}
