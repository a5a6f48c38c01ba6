// Package image implements C10, the image service: loading a PE32
// image's parsed form into allocated memory, installing its LoadedImage
// protocols, and recording per-image state (entry point, subsystem,
// HII resource, debug name, started flag, exit data). Grounded on
// DxeRust/src/image.rs's PrivateImageData and core_load_image/
// core_load_pe_image, generalized to this core's collaborator split:
// where the original parses a driver's PE bytes itself via goblin, this
// package consumes an already-parsed collab.PEImage (see
// internal/collab.PEImageParser and internal/pecoff), since spec.md
// treats the PE/COFF parser as an external collaborator.
package image

import (
	"sync"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/pecoff"
	"github.com/patina-fw/dxecore/internal/pool"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// Well-known protocol GUIDs installed on every loaded image's handle,
// matching the real UEFI-assigned values.
var (
	LoadedImageProtocol           = guid.MustParse("5b1b31a1-9562-11d2-8e3f-00a0c969723b")
	LoadedImageDevicePathProtocol = guid.MustParse("bc62157e-3e33-4fec-9920-2d3b36d750df")
	HiiPackageListProtocol        = guid.MustParse("6a1ee763-d47a-43b4-aabe-ef1de2ab56fc")
)

// SubsystemType mirrors the PE32+ optional header's Subsystem field,
// restricted to the values this loader accepts.
type SubsystemType uint16

const (
	SubsystemApplication       SubsystemType = 10
	SubsystemBootServiceDriver SubsystemType = 11
	SubsystemRuntimeDriver     SubsystemType = 12
)

func (s SubsystemType) supported() bool {
	switch s {
	case SubsystemApplication, SubsystemBootServiceDriver, SubsystemRuntimeDriver:
		return true
	default:
		return false
	}
}

// EntryPointFunc is a loaded image's entry point. StartImage invokes it
// on its own goroutine with the minted image handle and the opaque
// system-table pointer a real entry point receives. Grounded on
// core_start_image's coroutine body, which calls the image's real
// machine-code entry point with (image_handle, system_table); since this
// core hosts no executable machine code, a caller registers a Go
// function standing in for that entry point via RegisterEntryPoint.
type EntryPointFunc func(imageHandle protocoldb.Handle, systemTable uint64) (status efistatus.Status, exitData []byte)

// UnloadFunc is a loaded image's optional Unload entry point, invoked by
// UnloadImage before any protocol cleanup.
type UnloadFunc func(imageHandle protocoldb.Handle) efistatus.Status

// Record is the per-image-handle state the image service owns: the
// pieces spec.md's image record names (loaded image buffer, entry-point
// address, subsystem, parent/device handles, HII resource blob,
// filename, started flag, exit data slot).
type Record struct {
	Handle       protocoldb.Handle
	ParentHandle protocoldb.Handle
	DeviceHandle protocoldb.Handle
	DevicePath   uint64

	Buffer      []byte
	LoadAddress uint64
	SizeOfImage uint64
	EntryPoint  uint64
	Subsystem   SubsystemType

	HIIResource []byte
	HasHII      bool
	Filename    string
	HasFilename bool

	// loadedImagePtr/devicePathPtr/hiiPtr are the interface pointers
	// installed for this image's own protocols, recorded so
	// UnloadImage's uninstall calls match what InstallProtocolInterface
	// was given.
	loadedImagePtr uint64
	devicePathPtr  uint64
	hiiPtr         uint64

	mu       sync.Mutex
	started  bool
	exitData []byte
	entry    EntryPointFunc
	unload   UnloadFunc
	exitCh   chan exitResult
}

// ExitData returns the exit data a started image recorded via Exit (or
// via a normal entry-point return), and whether the image has recorded
// any.
func (r *Record) ExitData() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitData, r.exitData != nil
}

// Started reports whether StartImage has been called for this image.
func (r *Record) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

type exitResult struct {
	status efistatus.Status
	data   []byte
}

// Service is the image service: it owns every currently loaded image's
// Record, keyed by the protocol-database handle minted for it at load
// time.
type Service struct {
	mu     sync.Mutex
	memory *gcd.MemorySpace
	pages  *pool.Registry
	protos *protocoldb.Db
	parser collab.PEImageParser

	records      map[protocoldb.Handle]*Record
	runningStack []protocoldb.Handle
}

// New returns a Service that allocates image buffers from pages,
// installs protocols on protos, and parses PE32 section bytes via
// parser.
func New(memory *gcd.MemorySpace, pages *pool.Registry, protos *protocoldb.Db, parser collab.PEImageParser) *Service {
	return &Service{
		memory:  memory,
		pages:   pages,
		protos:  protos,
		parser:  parser,
		records: make(map[protocoldb.Handle]*Record),
	}
}

func pagesFor(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	return (size + pool.PageSize - 1) / pool.PageSize
}

// LoadImage implements LoadImage: parses peData into a collab.PEImage,
// rejects unsupported subsystems, allocates and loads the image buffer,
// relocates it to its allocated base, and installs LoadedImage,
// LoadedImageDevicePath, and (if present) HiiPackageList on a freshly
// minted handle. Grounded on spec.md §4.6's Load steps 1-6.
func (s *Service) LoadImage(peData []byte, parentHandle, deviceHandle protocoldb.Handle, devicePath uint64) (protocoldb.Handle, error) {
	img, err := s.parser.Parse(peData)
	if err != nil {
		return 0, efistatus.LoadError.AsErrorf("image: parse PE image: %v", err)
	}

	subsystem := SubsystemType(img.Subsystem())
	if !subsystem.supported() {
		return 0, efistatus.Unsupported.AsErrorf("image: subsystem %d is not supported", subsystem)
	}

	pageCount := pagesFor(img.SizeOfImage())
	loadAddr, err := s.pages.AllocatePages(gcd.AllocateBottomUp(), gcd.MemorySystemMemory, pageCount)
	if err != nil {
		return 0, efistatus.OutOfResources.AsErrorf("image: allocate %d pages: %v", pageCount, err)
	}

	buffer := make([]byte, pageCount*pool.PageSize)
	if err := pecoff.Load(img, buffer); err != nil {
		_ = s.pages.FreePages(loadAddr, pageCount)
		return 0, efistatus.LoadError.AsErrorf("image: load sections: %v", err)
	}
	if err := pecoff.Relocate(img, buffer, loadAddr); err != nil {
		_ = s.pages.FreePages(loadAddr, pageCount)
		return 0, err
	}

	hiiData, hasHII := pecoff.HIIResource(img)
	filename, hasFilename := img.DebugName()

	rec := &Record{
		ParentHandle: parentHandle,
		DeviceHandle: deviceHandle,
		DevicePath:   devicePath,
		Buffer:       buffer,
		LoadAddress:  loadAddr,
		SizeOfImage:  img.SizeOfImage(),
		EntryPoint:   pecoff.EntryPoint(img, loadAddr),
		Subsystem:    subsystem,
		HIIResource:  hiiData,
		HasHII:       hasHII,
		Filename:     filename,
		HasFilename:  hasFilename,
	}

	handle, err := s.protos.InstallProtocolInterface(nil, LoadedImageProtocol, loadAddr)
	if err != nil {
		_ = s.pages.FreePages(loadAddr, pageCount)
		return 0, err
	}
	rec.Handle = handle
	rec.loadedImagePtr = loadAddr

	rec.devicePathPtr = devicePath
	if _, err := s.protos.InstallProtocolInterface(&handle, LoadedImageDevicePathProtocol, devicePath); err != nil {
		_ = s.protos.UninstallProtocolInterface(handle, LoadedImageProtocol, loadAddr)
		_ = s.pages.FreePages(loadAddr, pageCount)
		return 0, err
	}

	if hasHII {
		rec.hiiPtr = loadAddr
		if _, err := s.protos.InstallProtocolInterface(&handle, HiiPackageListProtocol, loadAddr); err != nil {
			_ = s.protos.UninstallProtocolInterface(handle, LoadedImageDevicePathProtocol, devicePath)
			_ = s.protos.UninstallProtocolInterface(handle, LoadedImageProtocol, loadAddr)
			_ = s.pages.FreePages(loadAddr, pageCount)
			return 0, err
		}
	}

	s.mu.Lock()
	s.records[handle] = rec
	s.mu.Unlock()

	return handle, nil
}

// RegisterEntryPoint binds an image's entry point to a Go function, for
// StartImage to invoke. See EntryPointFunc's doc comment for why this
// indirection exists.
func (s *Service) RegisterEntryPoint(handle protocoldb.Handle, fn EntryPointFunc) error {
	rec, err := s.lookup(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.entry = fn
	rec.mu.Unlock()
	return nil
}

// RegisterUnload binds an image's optional Unload entry point.
func (s *Service) RegisterUnload(handle protocoldb.Handle, fn UnloadFunc) error {
	rec, err := s.lookup(handle)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.unload = fn
	rec.mu.Unlock()
	return nil
}

// Record returns the image record for handle, if it names a currently
// loaded image.
func (s *Service) Record(handle protocoldb.Handle) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	return rec, ok
}

func (s *Service) lookup(handle protocoldb.Handle) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[handle]
	if !ok {
		return nil, efistatus.InvalidParameter.AsErrorf("image: unknown image handle %d", handle)
	}
	return rec, nil
}
