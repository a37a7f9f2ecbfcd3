package usha

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// arenaReserveBytes is the default upfront reservation: a single large
// anonymous mapping standing in for sbrk's monotonic, non-moving break
// address (spec §9's "how does the allocator grow the heap" open
// question, resolved in SPEC_FULL.md §5.2). Go's golang.org/x/sys/unix has
// no sbrk wrapper on Linux, so this package reserves generously once
// rather than growing a page at a time, mirroring the teacher's own
// single-upfront-mmap pattern in internal/queue/runner.go's mmapQueues.
const arenaReserveBytes = 1 << 30 // 1 GiB

// arena emulates sbrk(2) over one anonymous mapping: a monotonically
// increasing break offset inside a region reserved once, so every pointer
// computed from an earlier sbrk call stays valid for the lifetime of the
// process in the overwhelmingly common case where growth never exceeds the
// reservation.
type arena struct {
	mem []byte // backing mapping; len(mem) == currently reserved capacity
	brk uintptr
}

func newArena() (*arena, error) {
	return newArenaSized(arenaReserveBytes)
}

func newArenaSized(reserve uintptr) (*arena, error) {
	mem, err := unix.Mmap(-1, 0, int(reserve), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("usha: reserve arena: %w", err)
	}
	return &arena{mem: mem}, nil
}

// base is the address of byte 0 of the arena's current mapping.
func (a *arena) base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

// brkAddr is the current break address: sbrk(0) in the original's
// vocabulary, i.e. where the next sbrk call would start handing out
// memory.
func (a *arena) brkAddr() uintptr {
	return a.base() + a.brk
}

// sbrk advances the break by n bytes and returns the PRE-growth break
// address, matching the POSIX contract the source this was distilled from
// relies on (spec §4.5: "meta_data_address := sbrk(size+header) returns
// the address at which the new block starts"). On failure it returns
// ok=false having made no change at all -- no partial allocation is ever
// visible (spec §5, §7 "syscall failure").
//
// onMove, if non-nil, is invoked with the signed delta (new base - old
// base) whenever growth had to relocate the mapping, so the caller can
// translate every address-derived pointer it holds (see Heap.growArena).
func (a *arena) sbrk(n uintptr, onMove func(delta int64)) (uintptr, bool) {
	if a.brk+n > uintptr(len(a.mem)) {
		if !a.grow(a.brk+n, onMove) {
			return 0, false
		}
	}
	addr := a.brkAddr()
	a.brk += n
	return addr, true
}

// grow extends the arena's mapping to at least need bytes via Mremap.
// Mremap is permitted to relocate the mapping; when it does, onMove
// reports the delta so callers can repoint their own address-derived
// state. Payload pointers already handed out to callers cannot be fixed
// up this way -- they are opaque values outside this package's control --
// which is exactly why the arena reserves 1 GiB up front: this path is
// expected, not guaranteed, to never trigger (SPEC_FULL.md §5.2).
func (a *arena) grow(need uintptr, onMove func(delta int64)) bool {
	newLen := nextArenaSize(need)
	oldBase := a.base()
	newMem, err := unix.Mremap(a.mem, int(newLen), unix.MREMAP_MAYMOVE)
	if err != nil {
		return false
	}
	a.mem = newMem
	newBase := a.base()
	if newBase != oldBase && onMove != nil {
		onMove(int64(newBase) - int64(oldBase))
	}
	return true
}

func nextArenaSize(need uintptr) uintptr {
	size := uintptr(arenaReserveBytes)
	for size < need {
		size *= 2
	}
	return size
}

func (a *arena) close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
