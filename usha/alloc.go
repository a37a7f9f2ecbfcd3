package usha

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Alloc implements spec §4.5. Returns nil on invalid size or syscall
// failure, leaving no partial state visible either way (spec §7).
func (heap *Heap) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 || size > SizeLimit {
		return nil
	}

	if size >= MmapThreshold {
		return heap.allocMapped(size)
	}

	if heap.firstHeap == nil {
		return heap.allocFirst(size)
	}

	if b := heap.firstFit(size); b != nil {
		heap.split(b, size)
		return payloadOf(b)
	}

	return heap.allocNoFit(size)
}

// Calloc implements spec §6.3: alloc(num*size) then zero the payload.
func (heap *Heap) Calloc(num, size uintptr) unsafe.Pointer {
	if num != 0 && size > (^uintptr(0))/num {
		return nil
	}
	p := heap.Alloc(num * size)
	if p == nil {
		return nil
	}
	buf := unsafe.Slice((*byte)(p), num*size)
	for i := range buf {
		buf[i] = 0
	}
	return p
}

// allocMapped serves a large request (size >= MmapThreshold) via its own
// anonymous mapping, entirely outside the heap's size-ordered list (spec
// §4.5 step 2).
func (heap *Heap) allocMapped(size uintptr) unsafe.Pointer {
	total := int(size + headerSize)
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil
	}
	h := (*blockHeader)(unsafe.Pointer(&mem[0]))
	h.cookie = heap.cookie
	h.isFree = false
	h.size = size
	h.listPrev = nil
	h.listNext = heap.mmapHead
	if heap.mmapHead != nil {
		heap.mmapHead.listPrev = h
	}
	heap.mmapHead = h

	heap.allocBlocks++
	heap.allocBytes += size
	heap.metaBytes += headerSize

	// Keep the mapping's Go-managed byte slice (and thus its finalizer-free
	// lifetime) alive for the duration via the header's own reachability;
	// the slice itself is discarded once h is recoverable from headerOf.
	return payloadOf(h)
}

// allocFirst is spec §4.5 step 3: the very first heap block.
func (heap *Heap) allocFirst(size uintptr) unsafe.Pointer {
	addr, _, ok := heap.growArena(size + headerSize)
	if !ok {
		return nil
	}
	h := headerAt(addr)
	h.cookie = heap.cookie
	h.isFree = false
	h.size = size
	h.listPrev = nil
	h.listNext = nil

	heap.firstHeap = h
	heap.wilderness = h
	heap.listInsert(h)

	heap.allocBlocks++
	heap.allocBytes += size
	heap.metaBytes += headerSize
	return payloadOf(h)
}

// allocNoFit is spec §4.5 steps 5-6: no free block fits, so either extend
// the wilderness or grow a brand new wilderness block.
func (heap *Heap) allocNoFit(size uintptr) unsafe.Pointer {
	w := heap.wilderness
	heap.checkCookie(w)

	if w.isFree {
		oldSize := w.size
		grow := size - oldSize
		if _, _, ok := heap.growArena(grow); !ok {
			return nil
		}
		// growArena may have relocated the arena via Mremap; w is a
		// local pointer captured before the call and isn't fixed up by
		// translate(), so re-read the wilderness from the (correctly
		// translated) heap field instead of reusing the stale local.
		w = heap.wilderness
		heap.listRemove(w)
		heap.freeBlocks--
		heap.freeBytes -= oldSize
		w.size = size
		w.isFree = false
		heap.allocBytes += grow
		heap.listInsert(w)
		return payloadOf(w)
	}

	addr, _, ok := heap.growArena(size + headerSize)
	if !ok {
		return nil
	}
	h := headerAt(addr)
	h.cookie = heap.cookie
	h.isFree = false
	h.size = size
	h.listPrev = nil
	h.listNext = nil

	heap.wilderness = h
	heap.listInsert(h)

	heap.allocBlocks++
	heap.allocBytes += size
	heap.metaBytes += headerSize
	return payloadOf(h)
}
