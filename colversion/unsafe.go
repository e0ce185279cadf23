package colversion

import "unsafe"

// ptrAt returns a pointer to the 8-byte word at byte offset off in data,
// for the atomic loads/stores the seqlock protocol's version word needs.
func ptrAt(data []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&data[off])
}
