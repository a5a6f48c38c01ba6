// Package collab declares the interfaces for every collaborator this core
// consumes but does not itself implement: the physical frame allocator
// handed off from the pre-DXE phases, the CPU-arch and timer-arch
// architectural protocols the scheduler drives, the firmware-volume and
// PE/COFF parsers the dispatcher and image loader read from, and the
// hand-off-block list scanned once at startup. Grounded on spec.md §6.
//
// internal/collab/simulate provides in-process reference implementations
// of every interface here, good enough to drive this core's tests without
// real hardware, a real firmware-volume binary, or a real PE parser.
package collab

import "github.com/patina-fw/dxecore/internal/gcd"

// FrameAllocator is the physical-page allocator handed off from the
// pre-DXE phases: a flat pool of physical RAM this core's GCD draws on
// when expanding a typed memory-space region. Strategy reuses
// gcd.AllocateType (BottomUp/TopDown/Address), since both this
// collaborator and the GCD search the exact same three ways.
type FrameAllocator interface {
	// AddRegion registers size bytes of usable physical RAM starting at
	// base as available for AllocatePages.
	AddRegion(base, size uint64)

	// AllocatePages returns the address of count*4KiB contiguous pages
	// satisfying strategy, or an error if no such run exists.
	AllocatePages(strategy gcd.AllocateType, count uint64) (uint64, error)
}

// PageSize is the physical page granularity every FrameAllocator request
// is denominated in.
const PageSize = 0x1000

// CPUArch is the subset of the CPU architectural protocol this core
// drives to mask/unmask hardware interrupts at TPL_HIGH_LEVEL crossings.
// Structurally identical to internal/sched.CPUArch; kept as a separate
// declaration here since collab is the canonical home for every
// externally-consumed interface named in spec.md §6, while sched defines
// its own narrower local copy to stay import-free of collab.
type CPUArch interface {
	EnableInterrupt()
	DisableInterrupt()
}

// TimerArch is the subset of the timer architectural protocol this core
// drives to receive periodic ticks. See the CPUArch doc comment for why
// this mirrors, rather than imports, internal/sched.TimerArch.
type TimerArch interface {
	RegisterHandler(fn func(elapsedNs uint64))
}

// PEImageParser turns a PE32 section's raw file bytes into a PEImage.
// This is the seam at which the PE/COFF parser collaborator (headers,
// section table, relocation directory, debug directory, resource
// section — see spec.md's scope note) hands a parsed image to
// internal/image: the parser decides how to read the on-disk format,
// internal/pecoff and internal/image only ever see the PEImage result.
type PEImageParser interface {
	Parse(data []byte) (PEImage, error)
}
