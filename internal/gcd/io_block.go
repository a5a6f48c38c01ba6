package gcd

// IOType classifies a range of the I/O-space GCD map. Values mirror
// EFI_GCD_IO_TYPE from the PI specification.
type IOType int

const (
	IONonExistent IOType = iota
	IOReserved
	IOSpaceType
)

// IODescriptor describes one range of the I/O-space map, as returned by
// GetIOSpaceMap.
type IODescriptor struct {
	BaseAddress  uint64
	Length       uint64
	Type         IOType
	Allocated    bool
	ImageHandle  uint64
	DeviceHandle uint64
}

// ioBlock is the internal per-range record kept in the I/O GCD's sorted
// slice. I/O space carries no attribute/capability bitmaps, so it is
// structurally the memory block shape minus those two fields rather than
// a generic instantiation over it — matching the reference
// implementation's separate io_block.rs, not a derivation from
// memory_block.rs.
type ioBlock struct {
	allocated bool
	desc      IODescriptor
}

func (b ioBlock) OrderingKey() uint64 { return b.desc.BaseAddress }
func (b ioBlock) start() uint64       { return b.desc.BaseAddress }
func (b ioBlock) end() uint64         { return b.desc.BaseAddress + b.desc.Length }
func (b ioBlock) length() uint64      { return b.desc.Length }

func (b ioBlock) descriptor() IODescriptor {
	d := b.desc
	d.Allocated = b.allocated
	return d
}

func (b ioBlock) isSameState(other ioBlock) bool {
	return b.allocated == other.allocated &&
		b.desc.Type == other.desc.Type &&
		b.desc.ImageHandle == other.desc.ImageHandle &&
		b.desc.DeviceHandle == other.desc.DeviceHandle
}

func (b *ioBlock) merge(other *ioBlock) bool {
	if b.isSameState(*other) && b.end() == other.start() {
		b.desc.Length += other.desc.Length
		other.desc.Length = 0
		return true
	}
	return false
}

func (b ioBlock) split(base, length uint64) (pieces []ioBlock, targetIdx int, err error) {
	start, end := base, base+length

	if !(b.start() <= start && start < end && end <= b.end()) {
		return nil, 0, errBlockOutsideRange
	}

	switch {
	case b.start() == start && end == b.end():
		return []ioBlock{b}, 0, nil

	case b.start() == start && end < b.end():
		target := b
		target.desc.Length = length
		rest := b
		rest.desc.BaseAddress = end
		rest.desc.Length -= length
		return []ioBlock{target, rest}, 0, nil

	case b.start() < start && end == b.end():
		before := b
		before.desc.Length = start - b.start()
		target := b
		target.desc.BaseAddress = start
		target.desc.Length = length
		return []ioBlock{before, target}, 1, nil

	default:
		before := b
		before.desc.Length = start - b.start()
		target := b
		target.desc.BaseAddress = start
		target.desc.Length = length
		after := b
		after.desc.BaseAddress = end
		after.desc.Length = b.end() - end
		return []ioBlock{before, target, after}, 1, nil
	}
}

func (b ioBlock) splitStateTransition(base, length uint64, apply func(*ioBlock) error) ([]ioBlock, int, error) {
	pieces, targetIdx, err := b.split(base, length)
	if err != nil {
		return nil, 0, err
	}
	if err := apply(&pieces[targetIdx]); err != nil {
		return nil, 0, err
	}
	return pieces, targetIdx, nil
}

func (b *ioBlock) applyAdd(t IOType) error {
	if b.allocated || b.desc.Type != IONonExistent || t == IONonExistent {
		return errInvalidStateTransition
	}
	b.desc.Type = t
	return nil
}

func (b *ioBlock) applyRemove() error {
	if b.allocated || b.desc.Type == IONonExistent {
		return errInvalidStateTransition
	}
	b.desc.Type = IONonExistent
	return nil
}

func (b *ioBlock) applyAllocate(imageHandle uint64, deviceHandle *uint64) error {
	if b.allocated || b.desc.Type == IONonExistent {
		return errInvalidStateTransition
	}
	b.desc.ImageHandle = imageHandle
	if deviceHandle != nil {
		b.desc.DeviceHandle = *deviceHandle
	}
	b.allocated = true
	return nil
}

func (b *ioBlock) applyFree() error {
	if !b.allocated || b.desc.Type == IONonExistent {
		return errInvalidStateTransition
	}
	b.desc.ImageHandle = 0
	b.desc.DeviceHandle = 0
	b.allocated = false
	return nil
}
