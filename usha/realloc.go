package usha

import "unsafe"

func memmove(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

// Realloc implements the seven/eight-step ladder of spec §4.8. A nil
// pointer delegates to Alloc; size 0 or out of range returns nil without
// touching p (spec §6.3, §7).
//
// Known limitation, carried from the source this was distilled from
// (malloc_3.cpp leaves a literal "TODO IF SBRK FAILS RETURN EVERYTHING TO
// BEFORE REALLOC" at the equivalent call sites): step (b)'s wilderness
// sub-branch and step (f) mark blocks free/merged/split before growing the
// arena, and do not unwind that bookkeeping if growArena fails. Step (c)
// grows the arena before changing any block, so its failure leaves the
// heap as it was. Given the
// 1 GiB upfront reservation this is expected to be unreachable outside
// deliberate fault injection; full rollback is not implemented here,
// matching the original's own documented gap rather than guessing at an
// unstated recovery contract.
func (heap *Heap) Realloc(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	if p == nil {
		return heap.Alloc(size)
	}
	if size == 0 || size > SizeLimit {
		return nil
	}

	h := headerOf(p)
	heap.checkCookie(h)

	if h.size >= MmapThreshold {
		return heap.reallocMapped(p, h, size)
	}

	// (a) Reuse in place without merging.
	if h.size >= size {
		heap.split(h, size)
		return p
	}

	isWild := h == heap.wilderness
	var next, prev *blockHeader
	if !isWild {
		next = heap.nextByAddress(h)
		heap.checkCookie(next)
	}
	isFirst := h == heap.firstHeap
	if !isFirst {
		prev = heap.prevByAddress(h)
		heap.checkCookie(prev)
	}

	oldSize := h.size

	// (b) Merge with the lower-address neighbor, protecting the upper
	// neighbor from the global coalesce sweep so only the lower merge
	// happens (spec §4.8's "protection trick").
	if prev != nil && prev.isFree {
		if prev.size+h.size+headerSize >= size {
			h.isFree = true
			heap.freeBlocks++
			heap.freeBytes += h.size

			var nextState bool
			if next != nil {
				nextState = next.isFree
				next.isFree = false
			}
			heap.coalesceSweep()
			if next != nil {
				next.isFree = nextState
			}

			heap.split(prev, size)
			heap.coalesceSweep()

			address := payloadOf(prev)
			memmove(address, p, oldSize)
			return address
		}

		if isWild {
			h.isFree = true
			heap.freeBlocks++
			heap.freeBytes += h.size
			heap.coalesceSweep()
			heap.split(prev, size)

			// Copy into prev's payload now, before growArena can relocate
			// the arena -- prev and p are both still valid addresses at
			// this point. After the grow, heap.wilderness (a field
			// translate() keeps correct) is the only reliable way to
			// name this block; prev itself is a local pointer that grow
			// does not fix up.
			memmove(payloadOf(prev), p, oldSize)

			needed := size - heap.wilderness.size
			if _, _, ok := heap.growArena(needed); !ok {
				return nil
			}
			heap.listRemove(heap.wilderness)
			heap.wilderness.size += needed
			heap.allocBytes += needed
			heap.listInsert(heap.wilderness)
			return payloadOf(heap.wilderness)
		}
	}

	// (c) The block itself is the wilderness: grow in place.
	if isWild {
		needed := size - h.size
		if _, _, ok := heap.growArena(needed); !ok {
			return nil
		}
		// h is a local pointer captured before the grow and may now be
		// dangling if Mremap relocated the arena; heap.wilderness names
		// the same block and is kept correct by growArena's translate.
		heap.listRemove(heap.wilderness)
		heap.wilderness.size += needed
		heap.allocBytes += needed
		heap.listInsert(heap.wilderness)
		return payloadOf(heap.wilderness)
	}

	// (d) Merge with the upper-address neighbor, protecting the lower one.
	if next != nil && next.isFree {
		if h.size+next.size+headerSize >= size {
			h.isFree = true
			heap.freeBlocks++
			heap.freeBytes += h.size

			var prevState bool
			if prev != nil {
				prevState = prev.isFree
				prev.isFree = false
			}
			heap.coalesceSweep()
			if prev != nil {
				prev.isFree = prevState
			}

			heap.split(h, size)
			return payloadOf(h)
		}
	}

	// (e) Merge both neighbors together.
	if next != nil && prev != nil && next.isFree && prev.isFree {
		if prev.size+h.size+next.size+2*headerSize >= size {
			h.isFree = true
			heap.freeBlocks++
			heap.freeBytes += h.size
			heap.coalesceSweep()
			heap.split(prev, size)
			address := payloadOf(prev)
			memmove(address, p, oldSize)
			return address
		}
	}

	// (f) The upper neighbor is the wilderness: merge what's free, then
	// grow the wilderness via sbrk to cover the shortfall.
	if next != nil && next == heap.wilderness && next.isFree {
		if prev != nil && prev.isFree {
			h.isFree = true
			heap.freeBlocks++
			heap.freeBytes += h.size
			heap.coalesceSweep()

			prev.isFree = false
			heap.freeBlocks--
			heap.freeBytes -= prev.size

			// prev == heap.wilderness after the sweep above, and no
			// grow has run yet, so this copy lands at a valid address.
			memmove(payloadOf(prev), p, oldSize)

			needed := size - heap.wilderness.size
			if _, _, ok := heap.growArena(needed); !ok {
				return nil
			}
			// growArena may have relocated the arena; prev is a local
			// pointer grow does not fix up, so name the block via
			// heap.wilderness (kept correct by translate) from here on.
			heap.listRemove(heap.wilderness)
			heap.wilderness.size += needed
			heap.allocBytes += needed
			heap.listInsert(heap.wilderness)
			return payloadOf(heap.wilderness)
		}

		h.isFree = true
		heap.freeBlocks++
		heap.freeBytes += h.size
		heap.coalesceSweep()

		h.isFree = false
		heap.freeBlocks--
		heap.freeBytes -= h.size

		needed := size - heap.wilderness.size
		if _, _, ok := heap.growArena(needed); !ok {
			return nil
		}
		// h == heap.wilderness after the sweep above; use the field
		// rather than the stale local once growArena may have relocated.
		heap.listRemove(heap.wilderness)
		heap.wilderness.size += needed
		heap.allocBytes += needed
		heap.listInsert(heap.wilderness)
		return payloadOf(heap.wilderness)
	}

	// (g)/(h) Fallback: a fresh allocation elsewhere, copy, free the old
	// block.
	oldBase := heap.arena.base()
	newp := heap.Alloc(size)
	if newp == nil {
		return nil
	}
	// Alloc may have grown (and Mremap-relocated) the arena internally;
	// p is the caller's original pointer into the old block and was
	// never passed through growArena's own translation, so shift it by
	// the net base movement before reading from it.
	p = shiftPtr(p, int64(heap.arena.base())-int64(oldBase))
	n := oldSize
	if size < n {
		n = size
	}
	memmove(newp, p, n)
	heap.Free(p)
	return newp
}

// reallocMapped mirrors mmapsrealloc: mapped blocks never split or
// coalesce, so a size change always means a fresh mapping plus a copy.
func (heap *Heap) reallocMapped(p unsafe.Pointer, h *blockHeader, size uintptr) unsafe.Pointer {
	if h.size == size {
		return p
	}
	address := heap.Alloc(size)
	if address == nil {
		return nil
	}
	n := h.size
	if size < n {
		n = size
	}
	memmove(address, p, n)
	heap.Free(p)
	return address
}
