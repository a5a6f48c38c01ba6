package gcd

import (
	"errors"

	"github.com/patina-fw/dxecore/internal/sortedslice"
)

// bootstrapTableSize stands in for MEMORY_BLOCK_SLICE_SIZE in the
// reference implementation: the span of the first AddMemorySpace call
// that the memory GCD reserves for itself. The reference implementation
// places its backing array's storage directly at that physical address
// (a freestanding-environment, no-heap mechanic); here the backing slice
// is an ordinary growable Go slice from the start, so nothing is
// actually placed there — but the observable contract is kept: the
// first AddMemorySpace call must be SystemMemory of at least this
// length, and that much of it comes back Allocated to the GCD itself.
const bootstrapTableSize = 0x1000

// selfImageHandle is the sentinel image handle the memory GCD uses to
// allocate its own bootstrap reservation.
const selfImageHandle uint64 = 1

// MemorySpace is the memory-space half of the Global Coherency Domain: a
// sorted, splittable map of [0, 2^addressBits) in which every address is
// covered by exactly one block. Grounded on the GCD struct and its
// memory-space methods in gcd.rs.
type MemorySpace struct {
	maximumAddress uint64
	tableCapacity  int
	blocks         *sortedslice.Slice[uint64, memoryBlock]
}

// Init bounds the memory space to [0, 2^addressBits). It must be called
// before any other MemorySpace method. tableCapacity caps the number of
// blocks the interval map may ever hold (0 means uncapped); once the map
// is at capacity, a split that would grow it returns ErrOutOfResources,
// matching the "GCD interval table full" failure mode the reference
// implementation gets for free from its fixed-size backing buffer.
func (s *MemorySpace) Init(addressBits uint, tableCapacity int) {
	s.maximumAddress = 1 << addressBits
	s.tableCapacity = tableCapacity
}

// MemoryDescriptorCount reports the current number of blocks in the map.
func (s *MemorySpace) MemoryDescriptorCount() int {
	if s.blocks == nil {
		return 0
	}
	return s.blocks.Len()
}

// AddMemorySpace adds a typed range to the map. The first call on a
// freshly initialized MemorySpace bootstraps the map itself: it must be
// MemorySystemMemory with length >= bootstrapTableSize, and reserves
// that much of the range for the GCD's own bookkeeping.
func (s *MemorySpace) AddMemorySpace(t MemoryType, base, length, capabilities uint64) (int, error) {
	if s.maximumAddress == 0 {
		return 0, ErrNotInitialized
	}
	if length == 0 {
		return 0, ErrInvalidParameter
	}
	if base+length > s.maximumAddress {
		return 0, ErrUnsupported
	}

	if s.blocks == nil {
		return s.bootstrap(t, base, length, capabilities)
	}

	idx := s.containingIndex(base)
	if idx < 0 {
		return 0, ErrNotFound
	}
	if s.blocks.Items()[idx].desc.Type != MemoryNonExistent {
		return 0, ErrAccessDenied
	}

	newIdx, err := s.splitStateTransitionAt(idx, base, length, func(b *memoryBlock) error {
		return b.applyAdd(t, capabilities)
	})
	if err != nil {
		switch {
		case errors.Is(err, errBlockOutsideRange):
			return 0, ErrAccessDenied
		case errors.Is(err, errInvalidStateTransition):
			return 0, ErrInvalidParameter
		default:
			return 0, ErrOutOfResources
		}
	}
	return newIdx, nil
}

func (s *MemorySpace) bootstrap(t MemoryType, base, length, capabilities uint64) (int, error) {
	if t != MemorySystemMemory || length < bootstrapTableSize {
		return 0, ErrOutOfResources
	}

	s.blocks = sortedslice.New[uint64, memoryBlock](s.tableCapacity)
	if _, err := s.blocks.Add(memoryBlock{desc: MemoryDescriptor{BaseAddress: 0, Length: s.maximumAddress, Type: MemoryNonExistent}}); err != nil {
		return 0, ErrOutOfResources
	}

	if _, err := s.AddMemorySpace(t, base, length, capabilities); err != nil {
		return 0, err
	}
	if _, err := s.AllocateMemorySpace(AllocateAtAddress(base), MemorySystemMemory, 0, bootstrapTableSize, selfImageHandle, nil); err != nil {
		return 0, err
	}

	idx, _ := s.blocks.Search(base)
	return idx, nil
}

// RemoveMemorySpace removes a previously added, unallocated range from
// the map, returning it to MemoryNonExistent.
func (s *MemorySpace) RemoveMemorySpace(base, length uint64) error {
	if s.maximumAddress == 0 {
		return ErrNotInitialized
	}
	if length == 0 {
		return ErrInvalidParameter
	}
	if base+length > s.maximumAddress {
		return ErrUnsupported
	}
	if s.blocks == nil {
		return ErrNotFound
	}

	idx := s.containingIndex(base)
	if idx < 0 {
		return ErrNotFound
	}
	wasAllocated := s.blocks.Items()[idx].allocated

	_, err := s.splitStateTransitionAt(idx, base, length, func(b *memoryBlock) error {
		return b.applyRemove()
	})
	if err != nil {
		switch {
		case errors.Is(err, errBlockOutsideRange):
			return ErrNotFound
		case errors.Is(err, errInvalidStateTransition):
			if wasAllocated {
				return ErrAccessDenied
			}
			return ErrNotFound
		default:
			return ErrOutOfResources
		}
	}
	return nil
}

// AllocateMemorySpace carves an allocated sub-range of length out of an
// existing, unallocated block of type t, using the search strategy
// named by at, aligned to 1<<alignment. Returns the base address of the
// allocated range.
func (s *MemorySpace) AllocateMemorySpace(at AllocateType, t MemoryType, alignment uint, length, imageHandle uint64, deviceHandle *uint64) (uint64, error) {
	if s.maximumAddress == 0 {
		return 0, ErrNotInitialized
	}
	if length == 0 || imageHandle == 0 || t == MemoryUnaccepted {
		return 0, ErrInvalidParameter
	}
	if s.blocks == nil {
		return 0, ErrNotFound
	}

	switch at.kind {
	case allocateBottomUp:
		max := at.bound
		if !at.bounded {
			max = ^uint64(0)
		}
		return s.allocateBottomUp(t, alignment, length, imageHandle, deviceHandle, max)
	case allocateTopDown:
		min := uint64(0)
		if at.bounded {
			min = at.bound
		}
		return s.allocateTopDown(t, alignment, length, imageHandle, deviceHandle, min)
	default:
		address := at.bound
		if address+length > s.maximumAddress {
			return 0, ErrUnsupported
		}
		return s.allocateAtAddress(t, alignment, length, imageHandle, deviceHandle, address)
	}
}

func alignUp(addr uint64, alignment uint) uint64 {
	mask := ^uint64(0) << alignment
	aligned := addr & mask
	if aligned < addr {
		aligned += 1 << alignment
	}
	return aligned
}

func alignDown(addr uint64, alignment uint) uint64 {
	return addr & (^uint64(0) << alignment)
}

func (s *MemorySpace) allocateBottomUp(t MemoryType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, maxAddress uint64) (uint64, error) {
	for i := 0; i < s.blocks.Len(); i++ {
		mb := s.blocks.Items()[i]
		if mb.length() < length {
			continue
		}
		addr := alignUp(mb.start(), alignment)
		if addr+length > maxAddress {
			return 0, ErrNotFound
		}
		if mb.desc.Type != t {
			continue
		}

		_, err := s.splitStateTransitionAt(i, addr, length, func(b *memoryBlock) error {
			return b.applyAllocate(imageHandle, deviceHandle)
		})
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, errBlockOutsideRange) && !errors.Is(err, errInvalidStateTransition) {
			return 0, ErrOutOfResources
		}
	}
	return 0, ErrNotFound
}

func (s *MemorySpace) allocateTopDown(t MemoryType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, minAddress uint64) (uint64, error) {
	for i := s.blocks.Len() - 1; i >= 0; i-- {
		mb := s.blocks.Items()[i]
		if mb.length() < length {
			continue
		}
		if mb.end()-length < mb.start() {
			continue
		}
		addr := alignDown(mb.end()-length, alignment)
		if addr < minAddress {
			return 0, ErrNotFound
		}
		if mb.desc.Type != t {
			continue
		}

		_, err := s.splitStateTransitionAt(i, addr, length, func(b *memoryBlock) error {
			return b.applyAllocate(imageHandle, deviceHandle)
		})
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, errBlockOutsideRange) && !errors.Is(err, errInvalidStateTransition) {
			return 0, ErrOutOfResources
		}
	}
	return 0, ErrNotFound
}

func (s *MemorySpace) allocateAtAddress(t MemoryType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, address uint64) (uint64, error) {
	idx := s.containingIndex(address)
	if idx < 0 {
		return 0, ErrNotFound
	}
	mb := s.blocks.Items()[idx]
	if mb.desc.Type != t || address != alignDown(address, alignment) {
		return 0, ErrNotFound
	}

	_, err := s.splitStateTransitionAt(idx, address, length, func(b *memoryBlock) error {
		return b.applyAllocate(imageHandle, deviceHandle)
	})
	if err != nil {
		switch {
		case errors.Is(err, errBlockOutsideRange), errors.Is(err, errInvalidStateTransition):
			return 0, ErrNotFound
		default:
			return 0, ErrOutOfResources
		}
	}
	return address, nil
}

// FreeMemorySpace returns a previously allocated range to the
// unallocated state, merging it with adjacent unallocated blocks of the
// same type.
func (s *MemorySpace) FreeMemorySpace(base, length uint64) error {
	if s.maximumAddress == 0 {
		return ErrNotInitialized
	}
	if length == 0 {
		return ErrInvalidParameter
	}
	if base+length > s.maximumAddress {
		return ErrUnsupported
	}
	if s.blocks == nil {
		return ErrNotFound
	}

	idx := s.containingIndex(base)
	if idx < 0 {
		return ErrNotFound
	}

	_, err := s.splitStateTransitionAt(idx, base, length, func(b *memoryBlock) error {
		return b.applyFree()
	})
	if err != nil {
		if errors.Is(err, errBlockOutsideRange) || errors.Is(err, errInvalidStateTransition) {
			return ErrNotFound
		}
		return ErrOutOfResources
	}
	return nil
}

// SetMemorySpaceAttributes sets the attribute bitmap on a range, failing
// if attributes is not a subset of the range's capabilities.
func (s *MemorySpace) SetMemorySpaceAttributes(base, length, attributes uint64) error {
	return s.setMemorySpaceField(base, length, func(b *memoryBlock) error {
		return b.applySetAttributes(attributes)
	})
}

// SetMemorySpaceCapabilities sets the capability bitmap on a range,
// failing if the range's current attributes are not a subset of
// capabilities.
func (s *MemorySpace) SetMemorySpaceCapabilities(base, length, capabilities uint64) error {
	return s.setMemorySpaceField(base, length, func(b *memoryBlock) error {
		return b.applySetCapabilities(capabilities)
	})
}

func (s *MemorySpace) setMemorySpaceField(base, length uint64, apply func(*memoryBlock) error) error {
	if s.maximumAddress == 0 {
		return ErrNotInitialized
	}
	if length == 0 {
		return ErrInvalidParameter
	}
	if base+length > s.maximumAddress {
		return ErrUnsupported
	}
	if s.blocks == nil {
		return ErrNotFound
	}

	idx := s.containingIndex(base)
	if idx < 0 {
		return ErrNotFound
	}

	_, err := s.splitStateTransitionAt(idx, base, length, apply)
	if err != nil {
		if errors.Is(err, errBlockOutsideRange) || errors.Is(err, errInvalidStateTransition) {
			return ErrUnsupported
		}
		return ErrOutOfResources
	}
	return nil
}

// GetMemorySpaceMap returns a snapshot of every block currently in the
// map, in ascending address order.
func (s *MemorySpace) GetMemorySpaceMap() []MemoryDescriptor {
	if s.blocks == nil {
		return nil
	}
	items := s.blocks.Items()
	out := make([]MemoryDescriptor, len(items))
	for i, mb := range items {
		out[i] = mb.descriptor()
	}
	return out
}

// containingIndex returns the index of the block containing address, or
// -1 if address lies before the first block (which cannot happen once
// the map has been bootstrapped, since the map is total).
func (s *MemorySpace) containingIndex(address uint64) int {
	idx, found := s.blocks.Search(address)
	if found {
		return idx
	}
	return idx - 1
}

// splitStateTransitionAt is the memory-space analogue of
// split_state_transition_at_idx in gcd.rs: it splits the block at idx
// around [base, base+length), applies apply to the resulting piece, and
// splices the result back into the sorted slice, merging with neighbors
// that end up in an identical state. Returns the index of the
// transitioned piece.
func (s *MemorySpace) splitStateTransitionAt(idx int, base, length uint64, apply func(*memoryBlock) error) (int, error) {
	original := s.blocks.Items()[idx]
	pieces, targetIdx, err := original.splitStateTransition(base, length, apply)
	if err != nil {
		return 0, err
	}

	newIdx := idx
	switch len(pieces) {
	case 1:
		s.blocks.Items()[idx] = pieces[0]
	case 2:
		if targetIdx == 0 {
			s.blocks.Items()[idx] = pieces[0]
			if _, err := s.blocks.Add(pieces[1]); err != nil {
				return 0, ErrOutOfResources
			}
		} else {
			s.blocks.Items()[idx] = pieces[0]
			addedIdx, err := s.blocks.Add(pieces[1])
			if err != nil {
				return 0, ErrOutOfResources
			}
			newIdx = addedIdx
		}
	default: // 3
		s.blocks.Items()[idx] = pieces[0]
		addedIdx, err := s.blocks.AddContiguous(pieces[1:])
		if err != nil {
			return 0, ErrOutOfResources
		}
		newIdx = addedIdx
	}

	if newIdx+1 < s.blocks.Len() {
		items := s.blocks.Items()
		if items[newIdx].merge(&items[newIdx+1]) {
			s.blocks.RemoveAt(newIdx + 1)
		}
	}
	if newIdx > 0 {
		items := s.blocks.Items()
		if items[newIdx-1].merge(&items[newIdx]) {
			s.blocks.RemoveAt(newIdx)
			newIdx--
		}
	}
	return newIdx, nil
}
