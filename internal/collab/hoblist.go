package collab

import "github.com/patina-fw/dxecore/internal/gcd"

// HOBList is the hand-off-block list produced by the pre-DXE phases and
// scanned exactly once at startup to seed the GCD, locate this core's own
// entry point, and discover the initial firmware volume. Grounded on
// spec.md §6's HOB row.
type HOBList interface {
	MemoryAllocations() []MemoryAllocationHOB
	MemoryAllocationModules() []MemoryAllocationModuleHOB
	ResourceDescriptors() []ResourceDescriptorHOB
	FirmwareVolumes() []FirmwareVolumeHOB
	CPU() (CPUHOB, bool)
}

// MemoryAllocationHOB records one range of memory already allocated by a
// pre-DXE phase, to be reserved rather than handed out again.
type MemoryAllocationHOB struct {
	Base    uint64
	Size    uint64
	MemType gcd.MemoryType
}

// MemoryAllocationModuleHOB is the distinguished memory-allocation HOB
// that also carries the DXE core's own module entry point.
type MemoryAllocationModuleHOB struct {
	MemoryAllocationHOB
	EntryPoint uint64
}

// ResourceDescriptorHOB records one range of physical address space
// available to be added to the GCD (RAM, MMIO, reserved, etc).
type ResourceDescriptorHOB struct {
	Base         uint64
	Size         uint64
	ResourceType ResourceType
}

// ResourceType mirrors EFI_RESOURCE_TYPE.
type ResourceType uint32

const (
	ResourceSystemMemory   ResourceType = 0
	ResourceMemoryMappedIO ResourceType = 1
	ResourceIO             ResourceType = 2
	ResourceFirmwareDevice ResourceType = 3
	ResourceMemoryReserved ResourceType = 5
	ResourceIOReserved     ResourceType = 6
)

// FirmwareVolumeHOB records the physical location of a firmware volume
// discovered by a pre-DXE phase, before this core has parsed it.
type FirmwareVolumeHOB struct {
	Base uint64
	Size uint64
}

// CPUHOB records the processor's physical and virtual address widths.
type CPUHOB struct {
	SizeOfMemorySpace uint8
	SizeOfIOSpace     uint8
}
