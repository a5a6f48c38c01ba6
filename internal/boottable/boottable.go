// Package boottable assembles the two function-pointer tables this core
// exposes to drivers: the UEFI boot-services table and the DXE/GCD
// services table. A concrete unsafe.Pointer/syscall-ABI function table is
// out of scope for a hosted reimplementation — Build instead returns a
// struct of Go closures, one per operation, each bound over the
// component (C1-C13) that actually implements it. Grounded on spec.md
// §4's "Exposed (UEFI boot-services table)" design note: the full
// RaiseTpl..CalculateCrc32 operation list, and a parallel GCD-services
// table.
package boottable

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/internal/tpl"
)

// Header mirrors EFI_TABLE_HEADER: a signature, the revision of the
// specification the table implements, the table's size in bytes, a
// CRC-32 computed over the table with this field zeroed, and a reserved
// field always zero.
type Header struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// Real UEFI-assigned table signatures and the UEFI 2.7 revision value
// ((major << 16) | minor) that this core's tables claim to implement.
const (
	BootServicesSignature = 0x56524553544f4f42 // "BOOTSERV"
	DXEServicesSignature  = 0x565245535f455844 // "DXE_SERV"
	Revision2_7           = uint32(2)<<16 | 70
)

// BootServicesTable is EFI_BOOT_SERVICES, reduced to the operations
// named in §4: TPL control, page/pool allocation, events and timers, the
// protocol database surface, image load/start/exit/unload, the
// connection engine, and CalculateCrc32 itself.
type BootServicesTable struct {
	Header Header

	RaiseTPL   func(new tpl.Level) tpl.Level
	RestoreTPL func(old tpl.Level)

	AllocatePages func(at gcd.AllocateType, memType gcd.MemoryType, pageCount uint64) (uint64, error)
	FreePages     func(addr, pageCount uint64) error
	GetMemoryMap  func() []gcd.MemoryDescriptor

	AllocatePool func(memType gcd.MemoryType, size uint64) (uint64, error)
	FreePool     func(addr uint64) error

	CreateEvent   func(flags eventdb.Flags, notifyTPL tpl.Level, fn eventdb.NotifyFunc, ctx any) (eventdb.ID, error)
	CreateEventEx func(flags eventdb.Flags, notifyTPL tpl.Level, fn eventdb.NotifyFunc, ctx any, group guid.GUID) (eventdb.ID, error)
	SetTimer      func(id eventdb.ID, delay eventdb.TimerDelay, delayTicks uint64) efistatus.Status
	WaitForEvent  func(events []eventdb.ID) (int, efistatus.Status)
	SignalEvent   func(id eventdb.ID) efistatus.Status
	CloseEvent    func(id eventdb.ID) error
	CheckEvent    func(id eventdb.ID) efistatus.Status

	InstallProtocolInterface   func(handle *protocoldb.Handle, protocol guid.GUID, interfacePtr uint64) (protocoldb.Handle, error)
	UninstallProtocolInterface func(handle protocoldb.Handle, protocol guid.GUID, interfacePtr uint64) error
	ReinstallProtocolInterface func(handle protocoldb.Handle, protocol guid.GUID, oldInterfacePtr, newInterfacePtr uint64) error
	RegisterProtocolNotify     func(protocol guid.GUID, event eventdb.ID) (protocoldb.Registration, error)

	LocateHandle            func(protocol guid.GUID) []protocoldb.Handle
	LocateHandleBuffer       func(protocol guid.GUID) []protocoldb.Handle
	HandleProtocol           func(handle protocoldb.Handle, protocol guid.GUID) (uint64, error)
	OpenProtocol             func(handle protocoldb.Handle, protocol guid.GUID, agent, controller protocoldb.Handle, attrs protocoldb.Attribute) (uint64, error)
	CloseProtocol            func(handle protocoldb.Handle, protocol guid.GUID, agent, controller protocoldb.Handle) error
	OpenProtocolInformation  func(handle protocoldb.Handle, protocol guid.GUID) ([]protocoldb.OpenInfo, error)
	ProtocolsPerHandle       func(handle protocoldb.Handle) ([]guid.GUID, error)
	LocateProtocol           func(protocol guid.GUID) (uint64, error)
	LocateDevicePath         func(protocol guid.GUID, remainingDevicePath *uint64) (protocoldb.Handle, error)

	InstallMultipleProtocolInterfaces   func(handle *protocoldb.Handle, interfaces map[guid.GUID]uint64) (protocoldb.Handle, error)
	UninstallMultipleProtocolInterfaces func(handle protocoldb.Handle, interfaces map[guid.GUID]uint64) error

	LoadImage   func(peData []byte, parentHandle, deviceHandle protocoldb.Handle, devicePath uint64) (protocoldb.Handle, error)
	StartImage  func(handle protocoldb.Handle, systemTable uint64) (efistatus.Status, []byte, error)
	Exit        func(handle protocoldb.Handle, status efistatus.Status, exitData []byte) efistatus.Status
	UnloadImage func(handle protocoldb.Handle, force bool) error

	ConnectController    func(controller protocoldb.Handle, driverHandles []protocoldb.Handle, remainingDevicePath *uint64, recursive bool) error
	DisconnectController func(controller, driverHandle, childHandle protocoldb.Handle) error

	CalculateCrc32 func(data []byte) uint32
}

// GcdServicesTable is the parallel table spec.md §4 describes alongside
// the boot-services table: memory- and I/O-space GCD operations.
type GcdServicesTable struct {
	Header Header

	AddMemorySpace          func(t gcd.MemoryType, base, length, capabilities uint64) error
	AllocateMemorySpace     func(at gcd.AllocateType, t gcd.MemoryType, alignment uint, length, imageHandle uint64, deviceHandle *uint64) (uint64, error)
	FreeMemorySpace         func(base, length uint64) error
	GetMemorySpaceMap       func() []gcd.MemoryDescriptor
	SetMemorySpaceAttributes   func(base, length, attributes uint64) error
	SetMemorySpaceCapabilities func(base, length, capabilities uint64) error

	AddIOSpace      func(t gcd.IOType, base, length uint64) error
	AllocateIOSpace func(at gcd.AllocateType, t gcd.IOType, alignment uint, length, imageHandle uint64, deviceHandle *uint64) (uint64, error)
	FreeIOSpace     func(base, length uint64) error
	GetIOSpaceMap   func() []gcd.IODescriptor
}
