package catmem

import "unsafe"

// ptrAt returns a pointer to the uint64 stored at byte offset off within
// buf. Callers only ever use this to address the two 8-byte ring cursors,
// which are placed on 8-byte boundaries by construction.
func ptrAt(buf []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&buf[off])
}
