package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/gcd"
)

func newSeededSpace(t *testing.T, seedLength uint64, types ...gcd.MemoryType) *gcd.MemorySpace {
	t.Helper()
	var s gcd.MemorySpace
	s.Init(32, 0)

	if len(types) == 0 {
		types = []gcd.MemoryType{gcd.MemorySystemMemory}
	}
	base := uint64(0)
	for _, typ := range types {
		_, err := s.AddMemorySpace(typ, base, seedLength, 0)
		require.NoError(t, err)
		base += seedLength
	}
	return &s
}

func TestAllocatorPoolRoundTrip(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	a := New(space, gcd.MemorySystemMemory, 7)

	addr, err := a.Alloc(0x1000)
	require.NoError(t, err)

	a.Dealloc(addr, 0x1000)

	addr2, err := a.Alloc(0x1000)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2, "freed block should be reused by the next same-size allocation")
}

func TestAllocatorExpandsWhenFreeListsEmpty(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	a := New(space, gcd.MemorySystemMemory, 7)

	first, err := a.Alloc(64)
	require.NoError(t, err)
	second, err := a.Alloc(64)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, a.arenas, 1)
}

func TestAllocatorGrowsANewArenaWhenExhausted(t *testing.T) {
	space := newSeededSpace(t, 16*1024*1024)
	a := New(space, gcd.MemorySystemMemory, 7)

	for i := 0; i < 300; i++ {
		_, err := a.Alloc(5000)
		require.NoError(t, err)
	}
	assert.Len(t, a.arenas, 2)
}

func TestAllocatorLargerThanLargestBlockClassGoesDirectToArena(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	a := New(space, gcd.MemorySystemMemory, 7)

	_, err := a.Alloc(8192)
	require.NoError(t, err)
}

func TestRegistryPoolAllocateAndFree(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	r := NewRegistry(space, 9)

	addr, err := r.AllocatePool(gcd.MemorySystemMemory, 0x1000)
	require.NoError(t, err)

	require.NoError(t, r.FreePool(addr))

	addr2, err := r.AllocatePool(gcd.MemorySystemMemory, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
}

func TestRegistryFreePoolRejectsUnknownAddress(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	r := NewRegistry(space, 9)

	assert.Equal(t, ErrNotFound, r.FreePool(0xdeadbeef))
}

func TestRegistryKeepsSeparateAllocatorsPerMemoryType(t *testing.T) {
	space := newSeededSpace(t, 8*1024*1024, gcd.MemorySystemMemory, gcd.MemoryReserved)
	r := NewRegistry(space, 9)

	sysAddr, err := r.AllocatePool(gcd.MemorySystemMemory, 0x100)
	require.NoError(t, err)
	reservedAddr, err := r.AllocatePool(gcd.MemoryReserved, 0x100)
	require.NoError(t, err)
	assert.NotEqual(t, sysAddr, reservedAddr)

	assert.Len(t, r.allocators, 2)
}

func TestRegistryAllocatePagesBypassesPoolLayer(t *testing.T) {
	space := newSeededSpace(t, 4*1024*1024)
	r := NewRegistry(space, 9)

	addr, err := r.AllocatePages(gcd.AllocateBottomUp(), gcd.MemorySystemMemory, 2)
	require.NoError(t, err)

	require.NoError(t, r.FreePages(addr, 2))

	addr2, err := r.AllocatePages(gcd.AllocateBottomUp(), gcd.MemorySystemMemory, 2)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
}

func TestFirstFitHeapMergesAdjacentFreedSpans(t *testing.T) {
	h := newFirstFitHeap(0x1000, 0x100)

	a, ok := h.allocateFirstFit(0x40, 1)
	require.True(t, ok)
	b, ok := h.allocateFirstFit(0x40, 1)
	require.True(t, ok)

	h.free(a, 0x40)
	h.free(b, 0x40)

	assert.Equal(t, 1, h.free.Len(), "adjacent free spans should merge back into one")
}
