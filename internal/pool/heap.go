package pool

import "github.com/patina-fw/dxecore/internal/sortedslice"

// freeSpan is one free run of address space within an arena.
type freeSpan struct {
	start  uint64
	length uint64
}

func (s freeSpan) OrderingKey() uint64 { return s.start }
func (s freeSpan) end() uint64         { return s.start + s.length }

// firstFitHeap tracks the free space within one arena's address range as
// a sorted list of disjoint spans, allocating via first fit and merging
// adjacent spans on free. This is the Go-idiomatic replacement for the
// reference implementation's `linked_list_allocator::Heap`, which walks
// a real intrusive linked list written into the arena's raw bytes; here
// the bookkeeping is a plain Go slice of address/length pairs rather
// than structures overlaid on memory the allocator hands out, since the
// addresses this core tracks are logical identifiers, not pointers into
// process memory.
type firstFitHeap struct {
	free *sortedslice.Slice[uint64, freeSpan]
}

func newFirstFitHeap(base, size uint64) *firstFitHeap {
	// Uncapped: an arena's free-span count is bounded by its own
	// fragmentation, not by a fixed resource table the way the GCD's
	// interval maps are.
	h := &firstFitHeap{free: sortedslice.New[uint64, freeSpan](0)}
	_, _ = h.free.Add(freeSpan{start: base, length: size})
	return h
}

func alignUpAddr(addr uint64, alignment uint64) uint64 {
	if alignment == 0 {
		return addr
	}
	rem := addr % alignment
	if rem == 0 {
		return addr
	}
	return addr + (alignment - rem)
}

// allocateFirstFit finds the first free span able to hold size bytes at
// the given alignment, splitting off the unused head/tail back into the
// free list, and returns its base address.
func (h *firstFitHeap) allocateFirstFit(size, alignment uint64) (uint64, bool) {
	items := h.free.Items()
	for i := 0; i < len(items); i++ {
		span := items[i]
		addr := alignUpAddr(span.start, alignment)
		if addr+size > span.end() {
			continue
		}

		h.free.RemoveAt(i)
		if addr > span.start {
			_, _ = h.free.Add(freeSpan{start: span.start, length: addr - span.start})
		}
		if tail := span.end() - (addr + size); tail > 0 {
			_, _ = h.free.Add(freeSpan{start: addr + size, length: tail})
		}
		return addr, true
	}
	return 0, false
}

// free returns [addr, addr+size) to the free list, merging with
// adjacent free spans.
func (h *firstFitHeap) free(addr, size uint64) {
	idx, _ := h.free.Add(freeSpan{start: addr, length: size})

	items := h.free.Items()
	if idx+1 < len(items) && items[idx].end() == items[idx+1].start {
		merged := freeSpan{start: items[idx].start, length: items[idx].length + items[idx+1].length}
		h.free.RemoveAt(idx + 1)
		h.free.RemoveAt(idx)
		idx, _ = h.free.Add(merged)
		items = h.free.Items()
	}
	if idx > 0 && items[idx-1].end() == items[idx].start {
		merged := freeSpan{start: items[idx-1].start, length: items[idx-1].length + items[idx].length}
		h.free.RemoveAt(idx)
		h.free.RemoveAt(idx - 1)
		_, _ = h.free.Add(merged)
	}
}

// owns reports whether addr lies within this heap's arena span.
func (h *firstFitHeap) owns(base, size, addr uint64) bool {
	return addr >= base && addr < base+size
}
