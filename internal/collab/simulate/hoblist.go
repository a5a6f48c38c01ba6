package simulate

import "github.com/patina-fw/dxecore/internal/collab"

// HOBList is a hand-built collab.HOBList fixture, populated directly by
// a test rather than scanned from a real hand-off-block chain.
type HOBList struct {
	Allocations       []collab.MemoryAllocationHOB
	AllocationModules []collab.MemoryAllocationModuleHOB
	Resources         []collab.ResourceDescriptorHOB
	Volumes           []collab.FirmwareVolumeHOB
	CPUHob            collab.CPUHOB
	HasCPUHob         bool
}

func (h *HOBList) MemoryAllocations() []collab.MemoryAllocationHOB {
	return h.Allocations
}
func (h *HOBList) MemoryAllocationModules() []collab.MemoryAllocationModuleHOB {
	return h.AllocationModules
}
func (h *HOBList) ResourceDescriptors() []collab.ResourceDescriptorHOB { return h.Resources }
func (h *HOBList) FirmwareVolumes() []collab.FirmwareVolumeHOB         { return h.Volumes }
func (h *HOBList) CPU() (collab.CPUHOB, bool)                          { return h.CPUHob, h.HasCPUHob }

var _ collab.HOBList = (*HOBList)(nil)
