package gcd

// Domain bundles the two Global Coherency Domain instances the DXE core
// maintains: one mapping physical memory, one mapping I/O space.
type Domain struct {
	Memory MemorySpace
	IO     IOSpace
}

// New returns a Domain whose memory and I/O maps both span
// [0, 2^addressBits). Neither map holds any blocks until its first
// AddMemorySpace/AddIOSpace call. tableCapacity caps the number of
// blocks either map's interval table may ever hold (0 means uncapped);
// see MemorySpace.Init.
func New(addressBits uint, tableCapacity int) *Domain {
	d := &Domain{}
	d.Memory.Init(addressBits, tableCapacity)
	d.IO.Init(addressBits, tableCapacity)
	return d
}
