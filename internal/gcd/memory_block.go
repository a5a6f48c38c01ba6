package gcd

// MemoryType classifies a range of the memory-space GCD map. Values
// mirror EFI_GCD_MEMORY_TYPE from the PI specification.
type MemoryType int

const (
	MemoryNonExistent MemoryType = iota
	MemoryReserved
	MemorySystemMemory
	MemoryMemoryMappedIO
	MemoryPersistent
	MemoryMoreReliable
	MemoryUnaccepted
)

// MemoryDescriptor describes one range of the memory-space map, as
// returned by GetMemorySpaceMap.
type MemoryDescriptor struct {
	BaseAddress  uint64
	Length       uint64
	Type         MemoryType
	Allocated    bool
	Capabilities uint64
	Attributes   uint64
	ImageHandle  uint64
	DeviceHandle uint64
}

// memoryBlock is the internal per-range record kept in the memory GCD's
// sorted slice. The reference implementation represents Allocated vs.
// Unallocated as two variants of an enum wrapping the same descriptor;
// Go has no sum type, so the variant collapses to a plain bool field
// alongside the descriptor it tags.
type memoryBlock struct {
	allocated bool
	desc      MemoryDescriptor
}

func (b memoryBlock) OrderingKey() uint64 { return b.desc.BaseAddress }
func (b memoryBlock) start() uint64       { return b.desc.BaseAddress }
func (b memoryBlock) end() uint64         { return b.desc.BaseAddress + b.desc.Length }
func (b memoryBlock) length() uint64      { return b.desc.Length }

func (b memoryBlock) descriptor() MemoryDescriptor {
	d := b.desc
	d.Allocated = b.allocated
	return d
}

func (b memoryBlock) isSameState(other memoryBlock) bool {
	return b.allocated == other.allocated &&
		b.desc.Type == other.desc.Type &&
		b.desc.Attributes == other.desc.Attributes &&
		b.desc.Capabilities == other.desc.Capabilities &&
		b.desc.ImageHandle == other.desc.ImageHandle &&
		b.desc.DeviceHandle == other.desc.DeviceHandle
}

// merge absorbs other into b if they are adjacent and carry identical
// state, zeroing other's length and reporting success.
func (b *memoryBlock) merge(other *memoryBlock) bool {
	if b.isSameState(*other) && b.end() == other.start() {
		b.desc.Length += other.desc.Length
		other.desc.Length = 0
		return true
	}
	return false
}

// split divides b into the pieces needed to apply a transition to
// exactly [base, base+length), returning those pieces in ascending
// address order and the index within them of the piece spanning the
// requested range. Unlike the reference implementation, which returns an
// enum borrowing back into the original block, this returns plain
// values: Go's slice-splice step happens one layer up, in
// splitStateTransitionAt.
func (b memoryBlock) split(base, length uint64) (pieces []memoryBlock, targetIdx int, err error) {
	start, end := base, base+length

	if !(b.start() <= start && start < end && end <= b.end()) {
		return nil, 0, errBlockOutsideRange
	}

	switch {
	case b.start() == start && end == b.end():
		return []memoryBlock{b}, 0, nil

	case b.start() == start && end < b.end():
		target := b
		target.desc.Length = length
		rest := b
		rest.desc.BaseAddress = end
		rest.desc.Length -= length
		return []memoryBlock{target, rest}, 0, nil

	case b.start() < start && end == b.end():
		before := b
		before.desc.Length = start - b.start()
		target := b
		target.desc.BaseAddress = start
		target.desc.Length = length
		return []memoryBlock{before, target}, 1, nil

	default: // b.start() < start && end < b.end()
		before := b
		before.desc.Length = start - b.start()
		target := b
		target.desc.BaseAddress = start
		target.desc.Length = length
		after := b
		after.desc.BaseAddress = end
		after.desc.Length = b.end() - end
		return []memoryBlock{before, target, after}, 1, nil
	}
}

// splitStateTransition splits b around [base, base+length) and applies
// apply to the piece spanning that range. On failure it returns the
// error without producing any pieces: since an aborted transition nets
// out to exactly the original block once the would-be pieces are merged
// back together, there is nothing useful to roll back.
func (b memoryBlock) splitStateTransition(base, length uint64, apply func(*memoryBlock) error) ([]memoryBlock, int, error) {
	pieces, targetIdx, err := b.split(base, length)
	if err != nil {
		return nil, 0, err
	}
	if err := apply(&pieces[targetIdx]); err != nil {
		return nil, 0, err
	}
	return pieces, targetIdx, nil
}

func (b *memoryBlock) applyAdd(t MemoryType, capabilities uint64) error {
	if b.allocated || b.desc.Type != MemoryNonExistent || t == MemoryNonExistent {
		return errInvalidStateTransition
	}
	b.desc.Type = t
	b.desc.Capabilities = capabilities
	return nil
}

func (b *memoryBlock) applyRemove() error {
	if b.allocated || b.desc.Type == MemoryNonExistent {
		return errInvalidStateTransition
	}
	b.desc.Type = MemoryNonExistent
	b.desc.Capabilities = 0
	return nil
}

func (b *memoryBlock) applyAllocate(imageHandle uint64, deviceHandle *uint64) error {
	if b.allocated || b.desc.Type == MemoryNonExistent || b.desc.Type == MemoryUnaccepted {
		return errInvalidStateTransition
	}
	b.desc.ImageHandle = imageHandle
	if deviceHandle != nil {
		b.desc.DeviceHandle = *deviceHandle
	}
	b.allocated = true
	return nil
}

func (b *memoryBlock) applyFree() error {
	if !b.allocated || b.desc.Type == MemoryNonExistent {
		return errInvalidStateTransition
	}
	b.desc.ImageHandle = 0
	b.desc.DeviceHandle = 0
	b.allocated = false
	return nil
}

func (b *memoryBlock) applySetAttributes(attributes uint64) error {
	if b.desc.Type == MemoryNonExistent {
		return errInvalidStateTransition
	}
	if (b.desc.Capabilities | attributes) != b.desc.Capabilities {
		return errInvalidStateTransition
	}
	b.desc.Attributes = attributes
	return nil
}

func (b *memoryBlock) applySetCapabilities(capabilities uint64) error {
	if b.desc.Type == MemoryNonExistent {
		return errInvalidStateTransition
	}
	if (capabilities | b.desc.Attributes) != capabilities {
		return errInvalidStateTransition
	}
	b.desc.Capabilities = capabilities
	return nil
}
