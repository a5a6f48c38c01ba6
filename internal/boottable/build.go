package boottable

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/patina-fw/dxecore/internal/connect"
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/image"
	"github.com/patina-fw/dxecore/internal/metrics"
	"github.com/patina-fw/dxecore/internal/pool"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/internal/sched"
	"github.com/patina-fw/dxecore/internal/tpl"
)

// Build assembles the boot-services table from C1-C13, binding each
// operation to the component that implements it, then stamps the
// table's header CRC-32 the same way RestoreTpl never revisits it again:
// once, at table-construction time, over the fully assembled table with
// the CRC field zeroed. m may be nil, in which case the table carries no
// instrumentation overhead beyond the no-op method calls.
func Build(
	scheduler *sched.Scheduler,
	events *eventdb.Db,
	pages *pool.Registry,
	memory *gcd.MemorySpace,
	protos *protocoldb.Db,
	images *image.Service,
	driverConnect *connect.Engine,
	m *metrics.Metrics,
) *BootServicesTable {
	allocPool, freePool := allocatePoolAndFreePool(pages, m)

	t := &BootServicesTable{
		Header: Header{
			Signature: BootServicesSignature,
			Revision:  Revision2_7,
		},

		RaiseTPL:   raiseTPL(scheduler, m),
		RestoreTPL: scheduler.RestoreTPL,

		AllocatePages: pages.AllocatePages,
		FreePages:     pages.FreePages,
		GetMemoryMap:  memory.GetMemorySpaceMap,

		AllocatePool: allocPool,
		FreePool:     freePool,

		CreateEvent:   events.Create,
		CreateEventEx: events.CreateEx,
		SetTimer:      scheduler.SetTimer,
		WaitForEvent:  scheduler.WaitForEvent,
		SignalEvent:   scheduler.SignalEvent,
		CloseEvent:    events.Close,
		CheckEvent:    scheduler.CheckEvent,

		InstallProtocolInterface:   installProtocolInterface(protos, m),
		UninstallProtocolInterface: uninstallProtocolInterface(protos, m),
		ReinstallProtocolInterface: protos.ReinstallProtocolInterface,
		RegisterProtocolNotify:     protos.RegisterProtocolNotify,

		LocateHandle:            protos.LocateHandles,
		LocateHandleBuffer:      protos.LocateHandles,
		HandleProtocol:          handleProtocol(protos),
		OpenProtocol:            openProtocol(protos),
		CloseProtocol:           protos.RemoveProtocolUsage,
		OpenProtocolInformation: protos.GetOpenProtocolInformation,
		ProtocolsPerHandle:      protos.GetProtocolsOnHandle,
		LocateProtocol:          protos.LocateProtocol,
		LocateDevicePath:        locateDevicePath(protos),

		InstallMultipleProtocolInterfaces:   installMultiple(protos),
		UninstallMultipleProtocolInterfaces: uninstallMultiple(protos),

		LoadImage:   images.LoadImage,
		StartImage:  images.StartImage,
		Exit:        images.Exit,
		UnloadImage: images.UnloadImage,

		ConnectController:    driverConnect.ConnectController,
		DisconnectController: driverConnect.DisconnectController,

		CalculateCrc32: crc32.ChecksumIEEE,
	}
	t.Header.HeaderSize = headerSize(t)
	t.Header.CRC32 = tableCRC32(t)
	return t
}

// BuildGcdServices assembles the DXE/GCD services table from C5 (and,
// for I/O space, the Domain's IOSpace half).
func BuildGcdServices(memory *gcd.MemorySpace, io *gcd.IOSpace) *GcdServicesTable {
	t := &GcdServicesTable{
		Header: Header{
			Signature: DXEServicesSignature,
			Revision:  Revision2_7,
		},

		AddMemorySpace: func(memType gcd.MemoryType, base, length, capabilities uint64) error {
			_, err := memory.AddMemorySpace(memType, base, length, capabilities)
			return err
		},
		AllocateMemorySpace:        memory.AllocateMemorySpace,
		FreeMemorySpace:            memory.FreeMemorySpace,
		GetMemorySpaceMap:          memory.GetMemorySpaceMap,
		SetMemorySpaceAttributes:   memory.SetMemorySpaceAttributes,
		SetMemorySpaceCapabilities: memory.SetMemorySpaceCapabilities,

		AddIOSpace: func(ioType gcd.IOType, base, length uint64) error {
			_, err := io.AddIOSpace(ioType, base, length)
			return err
		},
		AllocateIOSpace: io.AllocateIOSpace,
		FreeIOSpace:     io.FreeIOSpace,
		GetIOSpaceMap:   io.GetIOSpaceMap,
	}
	t.Header.HeaderSize = headerSize(t)
	t.Header.CRC32 = tableCRC32(t)
	return t
}

// raiseTPL wraps scheduler.RaiseTPL to record the resulting level's
// transition count and the time the RaiseTPL call itself took. The time
// spent at the raised level before the matching RestoreTPL is not
// measured.
func raiseTPL(scheduler *sched.Scheduler, m *metrics.Metrics) func(tpl.Level) tpl.Level {
	return func(new tpl.Level) tpl.Level {
		start := time.Now()
		old := scheduler.RaiseTPL(new)
		m.ObserveTPLTransition(new, time.Since(start))
		return old
	}
}

// poolAllocation records one outstanding pool allocation's memory type
// and size, so FreePool can credit the right bytes-in-use gauge back
// down; pool.Registry's FreePool takes only an address, and exposes no
// aggregate usage query of its own.
type poolAllocation struct {
	memType gcd.MemoryType
	size    uint64
}

// allocatePoolAndFreePool wraps pages.AllocatePool/FreePool to keep the
// pool-bytes-in-use gauge at a running total across both operations.
func allocatePoolAndFreePool(pages *pool.Registry, m *metrics.Metrics) (
	alloc func(gcd.MemoryType, uint64) (uint64, error),
	free func(uint64) error,
) {
	var mu sync.Mutex
	live := make(map[uint64]poolAllocation)
	bytes := make(map[gcd.MemoryType]uint64)

	alloc = func(memType gcd.MemoryType, size uint64) (uint64, error) {
		addr, err := pages.AllocatePool(memType, size)
		if err != nil {
			return addr, err
		}
		mu.Lock()
		live[addr] = poolAllocation{memType: memType, size: size}
		bytes[memType] += size
		total := bytes[memType]
		mu.Unlock()
		m.SetPoolBytesInUse(memType, total)
		return addr, nil
	}

	free = func(addr uint64) error {
		if err := pages.FreePool(addr); err != nil {
			return err
		}
		mu.Lock()
		a, tracked := live[addr]
		if tracked {
			delete(live, addr)
			bytes[a.memType] -= a.size
		}
		total := bytes[a.memType]
		mu.Unlock()
		if tracked {
			m.SetPoolBytesInUse(a.memType, total)
		}
		return nil
	}

	return alloc, free
}

// installProtocolInterface wraps protos.InstallProtocolInterface to keep
// the protocol-handle-count gauge current after every install.
func installProtocolInterface(protos *protocoldb.Db, m *metrics.Metrics) func(*protocoldb.Handle, guid.GUID, uint64) (protocoldb.Handle, error) {
	return func(handle *protocoldb.Handle, protocol guid.GUID, interfacePtr uint64) (protocoldb.Handle, error) {
		h, err := protos.InstallProtocolInterface(handle, protocol, interfacePtr)
		if err == nil {
			m.SetProtocolHandleCount(len(protos.AllHandles()))
		}
		return h, err
	}
}

// uninstallProtocolInterface wraps protos.UninstallProtocolInterface to
// keep the protocol-handle-count gauge current after every uninstall.
func uninstallProtocolInterface(protos *protocoldb.Db, m *metrics.Metrics) func(protocoldb.Handle, guid.GUID, uint64) error {
	return func(handle protocoldb.Handle, protocol guid.GUID, interfacePtr uint64) error {
		err := protos.UninstallProtocolInterface(handle, protocol, interfacePtr)
		if err == nil {
			m.SetProtocolHandleCount(len(protos.AllHandles()))
		}
		return err
	}
}

// handleProtocol implements EFI_BOOT_SERVICES.HandleProtocol: OpenProtocol
// with the GET_PROTOCOL attribute and no agent/controller.
func handleProtocol(protos *protocoldb.Db) func(protocoldb.Handle, guid.GUID) (uint64, error) {
	return func(handle protocoldb.Handle, protocol guid.GUID) (uint64, error) {
		return protos.GetInterfaceForHandle(handle, protocol)
	}
}

// openProtocol implements EFI_BOOT_SERVICES.OpenProtocol: record the
// requested usage (for attribute combinations that track usage) and
// return the installed interface pointer.
func openProtocol(protos *protocoldb.Db) func(protocoldb.Handle, guid.GUID, protocoldb.Handle, protocoldb.Handle, protocoldb.Attribute) (uint64, error) {
	return func(handle protocoldb.Handle, protocol guid.GUID, agent, controller protocoldb.Handle, attrs protocoldb.Attribute) (uint64, error) {
		if attrs == protocoldb.ByDriver || attrs == protocoldb.ByChildController || attrs&protocoldb.Exclusive != 0 {
			if err := protos.AddProtocolUsage(handle, protocol, agent, controller, attrs); err != nil {
				return 0, err
			}
		}
		return protos.GetInterfaceForHandle(handle, protocol)
	}
}

// locateDevicePath implements a best-effort EFI_BOOT_SERVICES.LocateDevicePath:
// this core carries no real device-path node structure (see
// internal/dispatcher and internal/connect's opaque uint64 device paths),
// so rather than compare path nodes it returns the first handle
// installed with protocol. It does not check whether that handle also
// carries a DevicePath protocol, and it leaves remainingDevicePath
// untouched — a real build with a genuine device-path comparator can
// replace this without changing the table's shape.
func locateDevicePath(protos *protocoldb.Db) func(guid.GUID, *uint64) (protocoldb.Handle, error) {
	return func(protocol guid.GUID, _ *uint64) (protocoldb.Handle, error) {
		for _, h := range protos.LocateHandles(protocol) {
			return h, nil
		}
		return 0, efistatus.NotFound.AsErrorf("boottable: no handle installs %s", protocol)
	}
}

// installMultiple implements EFI_BOOT_SERVICES.InstallMultipleProtocolInterfaces:
// every interface in interfaces is installed on the same handle, or none
// are, matching the spec's all-or-nothing guarantee.
func installMultiple(protos *protocoldb.Db) func(*protocoldb.Handle, map[guid.GUID]uint64) (protocoldb.Handle, error) {
	return func(handle *protocoldb.Handle, interfaces map[guid.GUID]uint64) (protocoldb.Handle, error) {
		var installed []guid.GUID
		var h protocoldb.Handle
		if handle != nil {
			h = *handle
		}
		for protocol, interfacePtr := range interfaces {
			newHandle, err := protos.InstallProtocolInterface(&h, protocol, interfacePtr)
			if err != nil {
				for _, done := range installed {
					_ = protos.UninstallProtocolInterface(h, done, interfaces[done])
				}
				return 0, err
			}
			h = newHandle
			installed = append(installed, protocol)
		}
		return h, nil
	}
}

// uninstallMultiple implements EFI_BOOT_SERVICES.UninstallMultipleProtocolInterfaces:
// interfaces are removed one at a time and the first failure is returned
// at once. There is no rollback: a mid-way failure is reported, but the
// protocols already removed stay removed (the same caveat the original's
// reference implementation carries for this edge case).
func uninstallMultiple(protos *protocoldb.Db) func(protocoldb.Handle, map[guid.GUID]uint64) error {
	return func(handle protocoldb.Handle, interfaces map[guid.GUID]uint64) error {
		for protocol, interfacePtr := range interfaces {
			if err := protos.UninstallProtocolInterface(handle, protocol, interfacePtr); err != nil {
				return err
			}
		}
		return nil
	}
}
