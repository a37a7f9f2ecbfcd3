package usha

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Free implements spec §4.7. A nil pointer is a no-op (spec §6.3).
func (heap *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h := headerOf(p)
	heap.checkCookie(h)

	if h.size >= MmapThreshold {
		heap.freeMapped(h)
		return
	}

	if h.isFree {
		return // already free; nothing to do (also guards against double-free loops)
	}

	h.isFree = true
	heap.freeBlocks++
	heap.freeBytes += h.size
	heap.coalesceSweep()
}

func (heap *Heap) freeMapped(h *blockHeader) {
	if h == heap.mmapHead {
		heap.mmapHead = h.listNext
		if h.listNext != nil {
			heap.checkCookie(h.listNext)
			h.listNext.listPrev = nil
		}
	} else {
		heap.checkCookie(h.listPrev)
		h.listPrev.listNext = h.listNext
		if h.listNext != nil {
			heap.checkCookie(h.listNext)
			h.listNext.listPrev = h.listPrev
		}
	}

	heap.allocBlocks--
	heap.allocBytes -= h.size
	heap.metaBytes -= headerSize

	total := h.size + headerSize
	mem := unsafe.Slice((*byte)(unsafe.Pointer(h)), total)
	unix.Munmap(mem) //nolint:errcheck // nothing useful to do with an munmap failure here
}

// coalesceSweep merges every pair of address-adjacent free heap blocks,
// iteratively rather than the source's recursive smerge (spec §4.7,
// §9 "Coalescing recursion... an iterative sweep is equivalent and avoids
// deep stacks"). Runs in O(n) over heap blocks; the spec's coalescing
// invariant (no two adjacent free blocks survive a free call) holds on
// return.
func (heap *Heap) coalesceSweep() {
	if heap.firstHeap == nil {
		return
	}

	cur := heap.firstHeap
	heap.checkCookie(cur)
	for {
		next := heap.nextByAddress(cur)
		if next == nil {
			return
		}
		heap.checkCookie(next)

		if !cur.isFree || !next.isFree {
			cur = next
			continue
		}

		cur.size += next.size + headerSize

		heap.listRemove(cur)
		heap.listRemove(next)
		heap.freeBlocks--
		heap.freeBytes += headerSize
		heap.allocBlocks--
		heap.allocBytes += headerSize
		heap.metaBytes -= headerSize

		heap.listInsert(cur)

		if next == heap.wilderness {
			heap.wilderness = cur
			return
		}
		// restart scanning from cur, which may now have a new neighbor
	}
}
