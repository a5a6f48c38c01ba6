// Package simulate provides in-process reference implementations of
// every collaborator interface in internal/collab, good enough to drive
// this core's tests without real hardware, a real firmware-volume
// binary, or a real PE/COFF parser. Grounded on spec.md §6 and on
// marmos91-dittofs's pkg/store/content pattern of one interface with
// several interchangeable backend implementations (here, one backend
// per collaborator, since there is exactly one implementation of each).
package simulate

import (
	"fmt"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/gcd"
)

// addressBits is wide enough to back any test fixture's physical address
// space without this simulated allocator ever running short of room to
// track spans in, independent of the real GCD instance under test.
const addressBits = 48

// physicalRAM is the sentinel memory type every region this allocator
// tracks is stamped with; FrameAllocator has no notion of UEFI memory
// types of its own; it is the pre-DXE phases' flat pool of usable RAM.
const physicalRAM = gcd.MemorySystemMemory

// frameAllocatorHandle tags every allocation this simulated collaborator
// hands out, for the same bookkeeping reason every gcd.AllocateMemorySpace
// caller passes an owning handle.
const frameAllocatorHandle = 1

// FrameAllocator is a flat pool of physical RAM, handed off from the
// pre-DXE phases: zero or more AddRegion calls describe what is usable,
// and AllocatePages carves page-granularity runs out of it by whichever
// of the three collab search strategies the caller asks for.
//
// Rather than reimplement bottom-up/top-down/exact-address span search a
// second time, this delegates to a private gcd.MemorySpace, which
// already implements exactly that search (internal/gcd.AllocateType's
// fields are package-private by design, so the only way to resolve one
// outside internal/gcd is to hand it to a MemorySpace that understands
// it). Like the rest of this core, no real byte storage backs the
// addresses handed out: there is nothing downstream that ever reads
// simulated physical memory content, only its address and extent.
type FrameAllocator struct {
	space gcd.MemorySpace
}

// NewFrameAllocator returns an empty FrameAllocator with no regions.
// Its interval table is uncapped: it backs test fixtures, not a real
// resource-bounded firmware GCD, so there is no ceiling to reproduce.
func NewFrameAllocator() *FrameAllocator {
	f := &FrameAllocator{}
	f.space.Init(addressBits, 0)
	return f
}

// AddRegion registers size bytes of usable physical RAM starting at
// base.
func (f *FrameAllocator) AddRegion(base, size uint64) {
	if _, err := f.space.AddMemorySpace(physicalRAM, base, size, 0); err != nil {
		panic(fmt.Sprintf("simulate: AddRegion(%#x, %#x): %v", base, size, err))
	}
}

// AllocatePages returns the address of count*collab.PageSize contiguous
// bytes satisfying strategy.
func (f *FrameAllocator) AllocatePages(strategy gcd.AllocateType, count uint64) (uint64, error) {
	return f.space.AllocateMemorySpace(strategy, physicalRAM, 0, count*collab.PageSize, frameAllocatorHandle, nil)
}

var _ collab.FrameAllocator = (*FrameAllocator)(nil)
