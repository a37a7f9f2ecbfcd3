package usha

// listInsert inserts h into the heap's size-ordered list (spec §3
// "Ordering invariant on heap list"): primary key size ascending, ties
// broken by address ascending. h must not already be linked.
func (heap *Heap) listInsert(h *blockHeader) {
	h.listPrev = nil
	h.listNext = nil

	if heap.listHead == nil {
		heap.listHead = h
		return
	}

	cur := heap.listHead
	heap.checkCookie(cur)
	for cur != nil && (cur.size < h.size || (cur.size == h.size && cur.addr() < h.addr())) {
		prev := cur
		cur = cur.listNext
		heap.checkCookie(cur)
		_ = prev
	}

	if cur == nil {
		tail := heap.listTail()
		tail.listNext = h
		h.listPrev = tail
		return
	}

	h.listNext = cur
	h.listPrev = cur.listPrev
	if cur.listPrev != nil {
		cur.listPrev.listNext = h
	} else {
		heap.listHead = h
	}
	cur.listPrev = h
}

// listRemove unlinks h from the heap's size-ordered list.
func (heap *Heap) listRemove(h *blockHeader) {
	if h.listPrev != nil {
		h.listPrev.listNext = h.listNext
	} else {
		heap.listHead = h.listNext
	}
	if h.listNext != nil {
		h.listNext.listPrev = h.listPrev
	}
	h.listPrev = nil
	h.listNext = nil
}

func (heap *Heap) listTail() *blockHeader {
	cur := heap.listHead
	if cur == nil {
		return nil
	}
	heap.checkCookie(cur)
	for cur.listNext != nil {
		cur = cur.listNext
		heap.checkCookie(cur)
	}
	return cur
}

// firstFit walks the size-ordered list head to tail and returns the first
// free block whose size is at least want, or nil (spec §4.5 step 4).
func (heap *Heap) firstFit(want uintptr) *blockHeader {
	for cur := heap.listHead; cur != nil; cur = cur.listNext {
		heap.checkCookie(cur)
		if cur.isFree && cur.size >= want {
			return cur
		}
	}
	return nil
}

// nextByAddress returns h's address-order successor on the heap, or nil if
// h is the wilderness (the highest-address heap block). It never looks at
// the mmap list: mapped blocks are not part of address-order traversal.
func (heap *Heap) nextByAddress(h *blockHeader) *blockHeader {
	if h == heap.wilderness {
		return nil
	}
	return headerAt(h.end())
}

// prevByAddress returns h's address-order predecessor, or nil if h is
// firstHeap. Mirrors the source's linear scan from firstHeap (spec §4.8):
// there is no stored reverse-by-address pointer, only the size-ordered
// list's prev/next, so finding the physical predecessor costs O(n).
func (heap *Heap) prevByAddress(h *blockHeader) *blockHeader {
	if h == heap.firstHeap {
		return nil
	}
	cur := heap.firstHeap
	heap.checkCookie(cur)
	for cur.end() != h.addr() {
		cur = headerAt(cur.end())
		heap.checkCookie(cur)
	}
	return cur
}
