package gcd

import (
	"errors"

	"github.com/patina-fw/dxecore/internal/sortedslice"
)

// IOSpace is the I/O-space half of the Global Coherency Domain. Unlike
// MemorySpace, it does not self-host: the reference implementation notes
// that by the time any I/O region is added, the heap is already up, so
// its backing table is allocated normally (here: an ordinary growable Go
// slice) rather than carved out of the first region it is given.
type IOSpace struct {
	maximumAddress uint64
	tableCapacity  int
	blocks         *sortedslice.Slice[uint64, ioBlock]
}

// Init bounds the I/O space to [0, 2^addressBits). tableCapacity caps
// the number of blocks the interval map may ever hold (0 means
// uncapped), the same "GCD interval table full" ceiling MemorySpace.Init
// applies.
func (s *IOSpace) Init(addressBits uint, tableCapacity int) {
	s.maximumAddress = 1 << addressBits
	s.tableCapacity = tableCapacity
}

// IODescriptorCount reports the current number of blocks in the map.
func (s *IOSpace) IODescriptorCount() int {
	if s.blocks == nil {
		return 0
	}
	return s.blocks.Len()
}

func (s *IOSpace) ensureBlocks() error {
	if s.blocks != nil {
		return nil
	}
	s.blocks = sortedslice.New[uint64, ioBlock](s.tableCapacity)
	if _, err := s.blocks.Add(ioBlock{desc: IODescriptor{BaseAddress: 0, Length: s.maximumAddress, Type: IONonExistent}}); err != nil {
		return ErrOutOfResources
	}
	return nil
}

// AddIOSpace adds a typed range to the I/O map.
func (s *IOSpace) AddIOSpace(t IOType, base, length uint64) (int, error) {
	if s.maximumAddress == 0 {
		return 0, ErrNotInitialized
	}
	if length == 0 {
		return 0, ErrInvalidParameter
	}
	if base+length > s.maximumAddress {
		return 0, ErrUnsupported
	}
	if err := s.ensureBlocks(); err != nil {
		return 0, err
	}

	idx := s.containingIndex(base)
	if idx < 0 {
		return 0, ErrNotFound
	}
	if s.blocks.Items()[idx].desc.Type != IONonExistent {
		return 0, ErrAccessDenied
	}

	newIdx, err := s.splitStateTransitionAt(idx, base, length, func(b *ioBlock) error {
		return b.applyAdd(t)
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

// RemoveIOSpace removes a previously added, unallocated range, returning
// it to IONonExistent.
func (s *IOSpace) RemoveIOSpace(base, length uint64) error {
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

	_, err := s.splitStateTransitionAt(idx, base, length, func(b *ioBlock) error {
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

// AllocateIOSpace carves an allocated sub-range of length out of an
// existing, unallocated block of type t, using the search strategy named
// by at.
func (s *IOSpace) AllocateIOSpace(at AllocateType, t IOType, alignment uint, length, imageHandle uint64, deviceHandle *uint64) (uint64, error) {
	if s.maximumAddress == 0 {
		return 0, ErrNotInitialized
	}
	if length == 0 || imageHandle == 0 {
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

func (s *IOSpace) allocateBottomUp(t IOType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, maxAddress uint64) (uint64, error) {
	for i := 0; i < s.blocks.Len(); i++ {
		ib := s.blocks.Items()[i]
		if ib.length() < length {
			continue
		}
		addr := alignUp(ib.start(), alignment)
		if addr+length > maxAddress {
			return 0, ErrNotFound
		}
		if ib.desc.Type != t {
			continue
		}

		_, err := s.splitStateTransitionAt(i, addr, length, func(b *ioBlock) error {
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

func (s *IOSpace) allocateTopDown(t IOType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, minAddress uint64) (uint64, error) {
	for i := s.blocks.Len() - 1; i >= 0; i-- {
		ib := s.blocks.Items()[i]
		if ib.length() < length {
			continue
		}
		if ib.end()-length < ib.start() {
			continue
		}
		addr := alignDown(ib.end()-length, alignment)
		if addr < minAddress {
			return 0, ErrNotFound
		}
		if ib.desc.Type != t {
			continue
		}

		_, err := s.splitStateTransitionAt(i, addr, length, func(b *ioBlock) error {
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

func (s *IOSpace) allocateAtAddress(t IOType, alignment uint, length, imageHandle uint64, deviceHandle *uint64, address uint64) (uint64, error) {
	idx := s.containingIndex(address)
	if idx < 0 {
		return 0, ErrNotFound
	}
	ib := s.blocks.Items()[idx]
	if ib.desc.Type != t || address != alignDown(address, alignment) {
		return 0, ErrNotFound
	}

	_, err := s.splitStateTransitionAt(idx, address, length, func(b *ioBlock) error {
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

// FreeIOSpace returns a previously allocated range to the unallocated
// state, merging it with adjacent unallocated blocks of the same type.
func (s *IOSpace) FreeIOSpace(base, length uint64) error {
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

	_, err := s.splitStateTransitionAt(idx, base, length, func(b *ioBlock) error {
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

// GetIOSpaceMap returns a snapshot of every block currently in the map,
// in ascending address order.
func (s *IOSpace) GetIOSpaceMap() []IODescriptor {
	if s.blocks == nil {
		return nil
	}
	items := s.blocks.Items()
	out := make([]IODescriptor, len(items))
	for i, ib := range items {
		out[i] = ib.descriptor()
	}
	return out
}

func (s *IOSpace) containingIndex(address uint64) int {
	idx, found := s.blocks.Search(address)
	if found {
		return idx
	}
	return idx - 1
}

func (s *IOSpace) splitStateTransitionAt(idx int, base, length uint64, apply func(*ioBlock) error) (int, error) {
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
	default:
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
