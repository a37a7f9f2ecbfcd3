package usha

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	h, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAllocInvalidSize(t *testing.T) {
	h := newTestHeap(t)
	assert.Nil(t, h.Alloc(0))
	assert.Nil(t, h.Alloc(SizeLimit+1))
}

func TestAllocFirstBlock(t *testing.T) {
	h := newTestHeap(t)
	p := h.Alloc(100)
	require.NotNil(t, p)

	assert.Equal(t, uintptr(1), h.NumAllocatedBlocks())
	assert.Equal(t, uintptr(100), h.NumAllocatedBytes())
	assert.Equal(t, uintptr(0), h.NumFreeBlocks())
	assert.Equal(t, headerSize, h.NumMetaDataBytes())

	hdr := headerOf(p)
	assert.Equal(t, h.cookie, hdr.cookie)
	assert.False(t, hdr.isFree)
	assert.Same(t, hdr, h.firstHeap)
	assert.Same(t, hdr, h.wilderness)
}

// E1: two allocations, both freed, coalesce into one free block.
func TestE1CoalesceOnFree(t *testing.T) {
	h := newTestHeap(t)
	p1 := h.Alloc(100)
	p2 := h.Alloc(200)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	h.Free(p1)
	h.Free(p2)

	assert.Equal(t, uintptr(1), h.NumFreeBlocks())
	assert.Equal(t, uintptr(1), h.NumAllocatedBlocks())
	assert.Equal(t, uintptr(100+200+headerSize), h.NumFreeBytes())
}

// Invariant 7: allocated bytes always equals the sum of all live blocks'
// payload sizes, free and used.
func TestAllocatedBytesInvariant(t *testing.T) {
	h := newTestHeap(t)
	sizes := []uintptr{16, 500, 64, 2048, 8}
	var ptrs []unsafe.Pointer
	var total uintptr
	for _, s := range sizes {
		p := h.Alloc(s)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
		total += s
	}
	assert.Equal(t, total, h.NumAllocatedBytes())

	h.Free(ptrs[1])
	assert.Equal(t, total, h.NumAllocatedBytes(), "freeing must not change allocated bytes, only free bytes")
	assert.Equal(t, sizes[1], h.NumFreeBytes())
}

// Invariant 10: traversing the size-ordered list yields non-decreasing
// sizes; equal sizes appear in ascending address order.
func TestSizeOrderInvariant(t *testing.T) {
	h := newTestHeap(t)
	for _, s := range []uintptr{300, 50, 200, 50, 10} {
		require.NotNil(t, h.Alloc(s))
	}

	var prev *blockHeader
	for cur := h.listHead; cur != nil; cur = cur.listNext {
		if prev != nil {
			if prev.size == cur.size {
				assert.Less(t, prev.addr(), cur.addr())
			} else {
				assert.LessOrEqual(t, prev.size, cur.size)
			}
		}
		prev = cur
	}
}

func TestCallocZeroes(t *testing.T) {
	h := newTestHeap(t)
	p := h.Calloc(10, 8)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 80)
	for _, b := range buf {
		assert.Zero(t, b)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	h := newTestHeap(t)
	h.Free(nil) // must not panic
}

// E4: a large allocation goes through the mmap path, not the heap.
func TestMmapLargeAllocation(t *testing.T) {
	h := newTestHeap(t)
	before := h.NumAllocatedBlocks()

	p := h.Alloc(MmapThreshold)
	require.NotNil(t, p)
	assert.Nil(t, h.firstHeap, "mapped allocations must not touch the heap")
	assert.Equal(t, before+1, h.NumAllocatedBlocks())

	h.Free(p)
	assert.Equal(t, before, h.NumAllocatedBlocks())
}

func TestCookieMismatchTerminates(t *testing.T) {
	h := newTestHeap(t)
	p := h.Alloc(64)
	require.NotNil(t, p)

	var terminated bool
	orig := terminate
	terminate = func() { terminated = true }
	defer func() { terminate = orig }()

	hdr := headerOf(p)
	hdr.cookie = hdr.cookie + 1 // simulate corruption
	h.checkCookie(hdr)

	assert.True(t, terminated)
}
