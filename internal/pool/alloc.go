// Package pool implements the per-UEFI-memory-type pool allocator: a
// fixed-size free-list layer backed by a first-fit arena heap that
// expands by pulling fresh ranges from the Global Coherency Domain.
// Grounded on
// Platforms/QemuQ35Pkg/Library/UefiRustAllocatorLib/src/fixed_size_block_allocator.rs
// in the reference implementation.
package pool

import (
	"errors"

	"github.com/patina-fw/dxecore/internal/gcd"
)

// ErrOutOfMemory is returned when both free-list reuse and GCD expansion
// fail to satisfy a request.
var ErrOutOfMemory = errors.New("pool: out of memory")

// blockSizes are the fixed-size free-list classes, identical to
// BLOCK_SIZES in the reference implementation.
var blockSizes = [...]uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// MinExpansion is the smallest range the allocator requests from the
// GCD when both its free lists and arena heaps are exhausted.
const MinExpansion = 0x100000

const arenaAlignment = 0x1000
const arenaAlignmentBits = 12

// blockIndex returns the index of the smallest block-size class able to
// hold size bytes at the given alignment, or -1 if no class fits.
func blockIndex(size, alignment uint64) int {
	required := size
	if alignment > required {
		required = alignment
	}
	for i, s := range blockSizes {
		if s >= required {
			return i
		}
	}
	return -1
}

func alignUpSize(size, alignment uint64) uint64 {
	return alignUpAddr(size, alignment)
}

type arena struct {
	base uint64
	size uint64
	heap *firstFitHeap
}

// Allocator is the pool allocator for a single UEFI memory type: a set
// of per-size-class free-address stacks backed by one or more
// GCD-expanded arenas, each searched first-fit.
type Allocator struct {
	gcd     *gcd.MemorySpace
	memType gcd.MemoryType
	handle  uint64

	freeLists [len(blockSizes)][]uint64
	arenas    []*arena
}

// New returns an allocator that expands by requesting memType ranges
// from space, tagged with handle as the owning image handle.
func New(space *gcd.MemorySpace, memType gcd.MemoryType, handle uint64) *Allocator {
	return &Allocator{gcd: space, memType: memType, handle: handle}
}

// Alloc returns the address of a free block able to hold size bytes.
func (a *Allocator) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}

	idx := blockIndex(size, 0)
	if idx < 0 {
		return a.fallbackAlloc(size, UefiPoolAlign)
	}

	if n := len(a.freeLists[idx]); n > 0 {
		addr := a.freeLists[idx][n-1]
		a.freeLists[idx] = a.freeLists[idx][:n-1]
		return addr, nil
	}

	blockSize := blockSizes[idx]
	return a.fallbackAlloc(blockSize, blockSize)
}

// Dealloc returns a block previously returned by Alloc for the given
// size to the allocator.
func (a *Allocator) Dealloc(addr, size uint64) {
	if size == 0 {
		size = 1
	}

	idx := blockIndex(size, 0)
	if idx < 0 {
		a.fallbackDealloc(addr, size)
		return
	}
	a.freeLists[idx] = append(a.freeLists[idx], addr)
}

// fallbackAlloc allocates size bytes, aligned to alignment, directly
// from an arena heap, expanding from the GCD once if no arena has room.
func (a *Allocator) fallbackAlloc(size, alignment uint64) (uint64, error) {
	for _, ar := range a.arenas {
		if addr, ok := ar.heap.allocateFirstFit(size, alignment); ok {
			return addr, nil
		}
	}
	if err := a.expand(size); err != nil {
		return 0, err
	}
	for _, ar := range a.arenas {
		if addr, ok := ar.heap.allocateFirstFit(size, alignment); ok {
			return addr, nil
		}
	}
	return 0, ErrOutOfMemory
}

func (a *Allocator) fallbackDealloc(addr, size uint64) {
	for _, ar := range a.arenas {
		if ar.heap.owns(ar.base, ar.size, addr) {
			ar.heap.free(addr, size)
			return
		}
	}
}

// expand requests a fresh range of a.memType from the GCD and adds it as
// a new arena. Unlike the reference implementation, which reserves
// headroom at the arena's head for an AllocatorListNode written directly
// into the range, the arena's own bookkeeping here (the arena Go struct
// and its firstFitHeap) lives in ordinary Go-managed memory rather than
// inside the simulated address range, so the full requested size is
// available to the heap.
func (a *Allocator) expand(size uint64) error {
	size = alignUpSize(max64(size, MinExpansion), arenaAlignment)

	base, err := a.gcd.AllocateMemorySpace(gcd.AllocateBottomUp(), a.memType, arenaAlignmentBits, size, a.handle, nil)
	if err != nil {
		return ErrOutOfMemory
	}

	a.arenas = append([]*arena{{base: base, size: size, heap: newFirstFitHeap(base, size)}}, a.arenas...)
	return nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
