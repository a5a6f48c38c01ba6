package pool

import (
	"sync"

	"github.com/patina-fw/dxecore/internal/gcd"
)

// UefiPoolAlign is the alignment every UEFI pool allocation must satisfy,
// per the UEFI specification (UEFI_POOL_ALIGN in the reference).
const UefiPoolAlign = 8

// Registry holds one Allocator per UEFI memory type, matching the
// reference implementation's one-UefiAllocator-per-memory-type layout
// (each wraps the shared fixed-size-block allocator machinery but is
// addressed by its own r_efi::system::MemoryType). Grounded on
// Platforms/QemuQ35Pkg/Library/UefiRustAllocatorLib/src/uefi_allocator.rs
// and Platforms/QemuQ35Pkg/DxeRust/src/uefi_allocator.rs.
type Registry struct {
	mu         sync.Mutex
	space      *gcd.MemorySpace
	imageHand  uint64
	allocators map[gcd.MemoryType]*Allocator

	// sizes records the size requested for each live pool allocation,
	// keyed by address, so FreePool (which per the UEFI ABI takes only
	// a pointer) can recover the size needed to route deallocation back
	// to the correct free-list class. The reference implementation gets
	// this for free by writing an AllocationInfo header immediately
	// before the returned buffer; since this core never backs addresses
	// with real memory to write a header into, the same bookkeeping is
	// kept in a side table instead.
	sizes map[uint64]poolAllocation
}

type poolAllocation struct {
	memType gcd.MemoryType
	size    uint64
}

// NewRegistry returns a Registry that expands every per-type allocator
// from space, tagging GCD allocations with imageHandle.
func NewRegistry(space *gcd.MemorySpace, imageHandle uint64) *Registry {
	return &Registry{
		space:      space,
		imageHand:  imageHandle,
		allocators: make(map[gcd.MemoryType]*Allocator),
		sizes:      make(map[uint64]poolAllocation),
	}
}

func (r *Registry) allocatorFor(memType gcd.MemoryType) *Allocator {
	a, ok := r.allocators[memType]
	if !ok {
		a = New(r.space, memType, r.imageHand)
		r.allocators[memType] = a
	}
	return a
}

// AllocatePool allocates size bytes of the given memory type, aligned to
// UefiPoolAlign, mirroring EFI_BOOT_SERVICES.AllocatePool.
func (r *Registry) AllocatePool(memType gcd.MemoryType, size uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, err := r.allocatorFor(memType).Alloc(size)
	if err != nil {
		return 0, err
	}
	r.sizes[addr] = poolAllocation{memType: memType, size: size}
	return addr, nil
}

// FreePool releases a block previously returned by AllocatePool.
// Mirrors EFI_BOOT_SERVICES.FreePool, which also takes only a pointer.
func (r *Registry) FreePool(addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.sizes[addr]
	if !ok {
		return ErrNotFound
	}
	delete(r.sizes, addr)
	r.allocatorFor(info.memType).Dealloc(addr, info.size)
	return nil
}

// AllocatePages bypasses the pool layer entirely and asks the GCD
// directly for pageCount*PageSize bytes of memType, per the page-vs-pool
// split described for AllocatePages/FreePages.
func (r *Registry) AllocatePages(at gcd.AllocateType, memType gcd.MemoryType, pageCount uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.space.AllocateMemorySpace(at, memType, arenaAlignmentBits, pageCount*PageSize, r.imageHand, nil)
}

// FreePages returns a page-granularity range allocated by AllocatePages
// directly to the GCD.
func (r *Registry) FreePages(addr uint64, pageCount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.space.FreeMemorySpace(addr, pageCount*PageSize)
}

// PageSize is the UEFI page granularity (4 KiB).
const PageSize = 0x1000
