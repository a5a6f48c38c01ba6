package gcd

// allocateKind selects the search strategy AllocateMemorySpace/
// AllocateIOSpace use to find a candidate range.
type allocateKind int

const (
	allocateBottomUp allocateKind = iota
	allocateTopDown
	allocateAtAddress
)

// AllocateType selects where AllocateMemorySpace/AllocateIOSpace search
// for a free range. Construct with AllocateBottomUp, AllocateTopDown, or
// AllocateAtAddress — the reference implementation expresses these as an
// enum with an optional bound payload (BottomUp(Option<usize>) etc.);
// Go has no sum type, so the bound is carried alongside a discriminant
// instead.
type AllocateType struct {
	kind    allocateKind
	bound   uint64
	bounded bool
}

// AllocateBottomUp searches from the lowest address upward, with no
// upper bound.
func AllocateBottomUp() AllocateType {
	return AllocateType{kind: allocateBottomUp}
}

// AllocateBottomUpBelow searches from the lowest address upward, never
// returning a range whose end exceeds maxAddress.
func AllocateBottomUpBelow(maxAddress uint64) AllocateType {
	return AllocateType{kind: allocateBottomUp, bound: maxAddress, bounded: true}
}

// AllocateTopDown searches from the highest address downward, with no
// lower bound.
func AllocateTopDown() AllocateType {
	return AllocateType{kind: allocateTopDown}
}

// AllocateTopDownAbove searches from the highest address downward, never
// returning a range whose start is below minAddress.
func AllocateTopDownAbove(minAddress uint64) AllocateType {
	return AllocateType{kind: allocateTopDown, bound: minAddress, bounded: true}
}

// AllocateAtAddress allocates exactly the range starting at address.
func AllocateAtAddress(address uint64) AllocateType {
	return AllocateType{kind: allocateAtAddress, bound: address}
}
