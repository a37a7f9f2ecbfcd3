// Package usha implements a user-space heap allocator: sbrk/mmap-backed
// alloc/calloc/free/realloc with block splitting, coalescing, wilderness
// extension, a large-allocation mmap fast path, and cookie-based tamper
// detection on every metadata header (spec §4.5-4.9).
package usha

import "unsafe"

// blockHeader is the fixed-size record prepended to every block, heap or
// mapped (spec §3 "Block header"). size is payload bytes only; the header
// itself is tallied separately via metaBytes.
//
// listPrev/listNext link the block into whichever list owns it: the
// size-then-address ordered heap list for heap blocks, or the mmap list
// for mapped blocks. Address-order traversal (needed for coalescing and
// the realloc ladder) is computed from addresses, not stored pointers,
// exactly like the source this was distilled from walks the heap with
// pointer arithmetic rather than a second linked list.
type blockHeader struct {
	cookie   uint32
	isFree   bool
	size     uintptr
	listPrev *blockHeader
	listNext *blockHeader
}

// headerSize is sizeof(header) in the spec's vocabulary (_size_meta_data).
var headerSize = unsafe.Sizeof(blockHeader{})

// payloadOf returns the address immediately following h's header, i.e. the
// pointer handed back to callers of alloc/calloc/realloc.
func payloadOf(h *blockHeader) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(h)) + headerSize)
}

// headerOf recovers the header immediately preceding a payload pointer
// previously returned by payloadOf. Every caller of headerOf must follow up
// with a cookie check before trusting the result (spec §4.9).
func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(p) - headerSize))
}

// end returns the address one past h's payload, i.e. where the next
// address-adjacent block (if any) begins.
func (h *blockHeader) end() uintptr {
	return uintptr(unsafe.Pointer(h)) + headerSize + h.size
}

func (h *blockHeader) addr() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// headerAt reinterprets the byte at address addr as a block header. Callers
// are responsible for knowing addr is actually a live header address.
func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}
