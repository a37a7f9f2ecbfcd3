package usha

import (
	"math/rand"
	"sync"
	"unsafe"

	"github.com/nahelawi/sysresource/internal/logging"
)

// SizeLimit, SplitThreshold and MmapThreshold are the allocator's three
// tunable constants (spec §6.3).
const (
	SizeLimit      = 100_000_000 // 10^8
	SplitThreshold = 128
	MmapThreshold  = 128 * 1024
)

// Heap is the allocator's process-wide mutable state (spec §9 "Global Heap
// state... inherent to the alloc/free API -- it must be process-wide").
// Modeled as an explicit type with its own lifecycle rather than bare
// package globals so tests can run independent heaps concurrently; a
// single package-level default instance backs the package-level
// Alloc/Calloc/Free/Realloc functions for callers who just want the C-API
// shape. Heap itself carries no internal lock: per spec §5, USHA is a
// single-threaded contract, not a concurrent-safe one.
type Heap struct {
	cookie uint32

	arena *arena

	listHead   *blockHeader // size-ordered list head (smallest block)
	firstHeap  *blockHeader // lowest-address heap block
	wilderness *blockHeader // highest-address heap block

	mmapHead *blockHeader // head of the mmap-backed block list

	freeBlocks  uintptr
	freeBytes   uintptr
	allocBlocks uintptr
	allocBytes  uintptr
	metaBytes   uintptr

	logger *logging.Logger
}

// New creates a fresh, independent Heap with its own arena and counters.
func New() (*Heap, error) {
	return NewWithLogger(nil)
}

// NewWithLogger is like New but attaches logger (nil uses logging.Default()).
func NewWithLogger(logger *logging.Logger) (*Heap, error) {
	a, err := newArena()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Heap{
		cookie: rand.Uint32(),
		arena:  a,
		logger: logger,
	}, nil
}

// Close releases the heap's arena mapping. Not part of the spec's API
// surface (real sbrk-backed allocators never return their break to the
// OS, spec §1 Non-goals) but needed so tests don't leak 1 GiB mappings.
func (heap *Heap) Close() error {
	if heap.arena == nil {
		return nil
	}
	return heap.arena.close()
}

// growArena calls through to the underlying arena's sbrk, translating
// every address-derived pointer this Heap holds if Mremap had to relocate
// the backing mapping (spec §9 / SPEC_FULL.md §5.2), and reporting that
// relocation delta back to the caller. Heap-owned pointers (wilderness,
// firstHeap, listHead and the list links reachable from them) are fixed
// up internally by translate; any *local* pointer a caller captured
// before calling growArena -- a neighbor from prevByAddress/nextByAddress,
// or the caller's own payload pointer -- is not reachable from those
// roots and must be shifted by the returned delta itself.
func (heap *Heap) growArena(n uintptr) (addr uintptr, delta int64, ok bool) {
	addr, ok = heap.arena.sbrk(n, func(d int64) {
		delta = d
		heap.translate(d)
	})
	return addr, delta, ok
}

// shiftPtr re-points p by delta bytes, the same translation growArena
// applies to the heap's own pointers, for local pointers the caller held
// across a growArena call that may have relocated the arena.
func shiftPtr(p unsafe.Pointer, delta int64) unsafe.Pointer {
	if p == nil || delta == 0 {
		return p
	}
	return unsafe.Pointer(uintptr(p) + uintptr(delta))
}

// translate shifts every address-derived pointer the heap holds by delta
// bytes, after the arena's backing mapping moved. Both the size-ordered
// list and every header's own listPrev/listNext must be walked, since
// those are raw pointers into the (now relocated) mapping.
func (heap *Heap) translate(delta int64) {
	shift := func(p *blockHeader) *blockHeader {
		if p == nil {
			return nil
		}
		return (*blockHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(delta)))
	}

	heap.firstHeap = shift(heap.firstHeap)
	heap.wilderness = shift(heap.wilderness)
	heap.listHead = shift(heap.listHead)

	for cur := heap.listHead; cur != nil; cur = cur.listNext {
		cur.listPrev = shift(cur.listPrev)
		cur.listNext = shift(cur.listNext)
	}
}

// SizeMetaData is _size_meta_data: sizeof(header) in bytes.
func (heap *Heap) SizeMetaData() uintptr { return headerSize }

// --- package-level default heap, mirroring logging.Default/SetDefault ---

var (
	defaultHeap   *Heap
	defaultHeapMu sync.RWMutex
)

// Default returns the package-level default Heap, creating it on first
// use (spec §9: "zero-initialized on first call").
func Default() *Heap {
	defaultHeapMu.RLock()
	if defaultHeap != nil {
		defer defaultHeapMu.RUnlock()
		return defaultHeap
	}
	defaultHeapMu.RUnlock()

	defaultHeapMu.Lock()
	defer defaultHeapMu.Unlock()
	if defaultHeap == nil {
		h, err := New()
		if err != nil {
			// The arena reservation is the only way New can fail; a 1 GiB
			// anonymous mapping failing is unrecoverable for an allocator
			// that has no fallback memory source.
			panic(err)
		}
		defaultHeap = h
	}
	return defaultHeap
}

// SetDefault replaces the package-level default Heap.
func SetDefault(h *Heap) {
	defaultHeapMu.Lock()
	defer defaultHeapMu.Unlock()
	defaultHeap = h
}

// Package-level convenience wrappers over Default(), matching spec §6.3's
// C-API naming.

func Alloc(size uintptr) unsafe.Pointer          { return Default().Alloc(size) }
func Calloc(num, size uintptr) unsafe.Pointer     { return Default().Calloc(num, size) }
func Free(p unsafe.Pointer)                       { Default().Free(p) }
func Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer { return Default().Realloc(p, size) }

func NumFreeBlocks() uintptr     { return Default().NumFreeBlocks() }
func NumFreeBytes() uintptr      { return Default().NumFreeBytes() }
func NumAllocatedBlocks() uintptr { return Default().NumAllocatedBlocks() }
func NumAllocatedBytes() uintptr { return Default().NumAllocatedBytes() }
func NumMetaDataBytes() uintptr  { return Default().NumMetaDataBytes() }
func SizeMetaData() uintptr      { return Default().SizeMetaData() }
