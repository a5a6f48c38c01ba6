// Package dispatcher implements C11, the driver dispatcher: the loop that
// discovers driver files inside firmware volumes as they're handed off to
// the core, evaluates each driver's dependency expression against the
// protocol database, and loads and starts every driver whose
// prerequisites become satisfied, repeating until a full pass schedules
// nothing. Grounded on DxeRust/src/dispatcher.rs's DispatcherContext,
// core_dispatcher, dispatch, and add_fv_handles.
package dispatcher

import (
	"sync"
	"time"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/depex"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/image"
	"github.com/patina-fw/dxecore/internal/metrics"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// Well-known protocol GUIDs the dispatcher watches for and installs.
// Real PI-specification values.
var (
	FirmwareVolumeBlockProtocol = guid.MustParse("8f644fa9-e850-4db1-9ce2-0b44698e8da4")
	DevicePathProtocol          = guid.MustParse("09576e91-6d3f-11d2-8e39-00a0c969723b")
)

// archProtocolGUIDs is the operand set of ALL_ARCH_DEPEX: the twelve
// architectural protocols PI spec v1.2 Vol 2 §10.9 requires before a
// driver with no DXE_DEPEX section of its own is allowed to dispatch.
// Real PI-specification values, carried over unchanged from the
// reference implementation's ALL_ARCH_DEPEX constant.
var archProtocolGUIDs = []guid.GUID{
	guid.MustParse("665e3ff6-46cc-11d4-9a38-0090273fc14d"), // BDS Arch
	guid.MustParse("26baccb1-6f42-11d4-bce7-0080c73c8881"), // CPU Arch
	guid.MustParse("26baccb2-6f42-11d4-bce7-0080c73c8881"), // Metronome Arch
	guid.MustParse("1da97072-bddc-4b30-99f1-72a0b56fff2a"), // Monotonic Counter Arch
	guid.MustParse("27cfac87-46cc-11d4-9a38-0090273fc14d"), // Real Time Clock Arch
	guid.MustParse("27cfac88-46cc-11d4-9a38-0090273fc14d"), // Reset Arch
	guid.MustParse("b7dfb4e1-052f-449f-87be-9818fc91b733"), // Runtime Arch
	guid.MustParse("a46423e3-4617-49f1-b9ff-d1bfa9115839"), // Security Arch
	guid.MustParse("26baccb3-6f42-11d4-bce7-0080c73c8881"), // Timer Arch
	guid.MustParse("6441f818-6362-4e44-b570-7dba31dd2453"), // Variable Write Arch
	guid.MustParse("1e5668e2-8481-11d4-bcf1-0080c73c8881"), // Variable Arch
	guid.MustParse("665e3ff5-46cc-11d4-9a38-0090273fc14d"), // Watchdog Timer Arch
}

// allArchDepex is ALL_ARCH_DEPEX encoded as a postfix AND-chain over
// archProtocolGUIDs, built once at init time.
var allArchDepex = buildAllArchDepex()

func buildAllArchDepex() depex.Expression {
	var expr depex.Expression
	for i, g := range archProtocolGUIDs {
		expr = append(expr, byte(depex.OpPush))
		expr = append(expr, g[:]...)
		if i > 0 {
			expr = append(expr, byte(depex.OpAnd))
		}
	}
	return append(expr, byte(depex.OpEnd))
}

// EntryPointResolver maps a driver file discovered in a firmware volume
// to the Go function that plays the role of its entry point. This core
// hosts no executable machine code, so a dispatched driver's image bytes
// never contain anything the loader could literally jump to (see
// image.EntryPointFunc); something has to supply the behavior instead.
// A real build wires this to the program's statically linked driver
// modules, keyed by FFS file identity; tests wire canned behaviors.
type EntryPointResolver interface {
	EntryPointFor(file collab.File) (image.EntryPointFunc, bool)
}

// pendingDriver is one driver file discovered in a firmware volume whose
// dependency expression has not yet been satisfied.
type pendingDriver struct {
	file       collab.File
	devicePath uint64
	depexExpr  depex.Expression
	hasDepex   bool
}

// Dispatcher is the driver dispatch loop. Grounded on DispatcherContext.
type Dispatcher struct {
	mu sync.Mutex

	protos   *protocoldb.Db
	images   *image.Service
	resolver EntryPointResolver

	volumes      map[uint64]collab.FirmwareVolume
	nextVolumeID uint64
	processedFVs map[protocoldb.Handle]bool

	pending       []pendingDriver
	archAvailable bool
	executing     bool

	metrics *metrics.Metrics
}

// SetMetrics attaches m so future Dispatch passes and driver loads are
// instrumented. m may be nil, which leaves the Dispatcher uninstrumented
// (its zero value); there is no constructor parameter for this because
// most callers, including every existing test, have no use for it.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// New returns a Dispatcher that loads and starts drivers through images,
// tracks firmware volumes and protocol state through protos, and asks
// resolver for each discovered driver's simulated entry point.
func New(protos *protocoldb.Db, images *image.Service, resolver EntryPointResolver) *Dispatcher {
	return &Dispatcher{
		protos:       protos,
		images:       images,
		resolver:     resolver,
		volumes:      make(map[uint64]collab.FirmwareVolume),
		processedFVs: make(map[protocoldb.Handle]bool),
	}
}

// RegisterFirmwareVolume installs fv's FirmwareVolumeBlock and DevicePath
// protocols on a freshly minted handle, exactly as a pre-DXE phase (or, in
// tests, internal/collab/simulate.BuildFirmwareVolume) hands a discovered
// volume to the core. The protocol install is what wakes the notify event
// Init registers, so a Dispatcher wired up with Init dispatches this
// volume's drivers automatically; callers that never call Init must call
// Dispatch themselves.
func (d *Dispatcher) RegisterFirmwareVolume(fv collab.FirmwareVolume, devicePath uint64) (protocoldb.Handle, error) {
	d.mu.Lock()
	d.nextVolumeID++
	id := d.nextVolumeID
	d.volumes[id] = fv
	d.mu.Unlock()

	handle, err := d.protos.InstallProtocolInterface(nil, FirmwareVolumeBlockProtocol, id)
	if err != nil {
		d.mu.Lock()
		delete(d.volumes, id)
		d.mu.Unlock()
		return 0, err
	}
	if _, err := d.protos.InstallProtocolInterface(&handle, DevicePathProtocol, devicePath); err != nil {
		_ = d.protos.UninstallProtocolInterface(handle, FirmwareVolumeBlockProtocol, id)
		d.mu.Lock()
		delete(d.volumes, id)
		d.mu.Unlock()
		return 0, err
	}
	return handle, nil
}

// PendingDriverNames returns the FFS name GUID of every driver currently
// discovered but not yet dispatched: neither its own DEPEX nor, absent
// one, ALL_ARCH_DEPEX has been satisfied by any protocol installed so
// far. Grounded on display_discovered_not_dispatched, which reports the
// same list as a diagnostic once a dispatch pass goes idle.
func (d *Dispatcher) PendingDriverNames() []guid.GUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]guid.GUID, len(d.pending))
	for i, pd := range d.pending {
		names[i] = pd.file.Name()
	}
	return names
}

// Dispatch runs the dispatch loop: scan for newly registered firmware
// volumes, schedule every pending driver whose dependencies are now
// satisfied, load and start each of them, and repeat until a full pass
// schedules nothing. Grounded on core_dispatcher's outer loop and
// dispatch's single-pass body. A Dispatch already in progress on another
// goroutine is a no-op, matching DispatcherContext's re-entrancy guard
// (starting a driver can itself trigger a recursive Dispatch call via the
// notify event Init wires up, when that driver installs a protocol other
// drivers depend on).
func (d *Dispatcher) Dispatch() {
	d.mu.Lock()
	if d.executing {
		d.mu.Unlock()
		return
	}
	d.executing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.executing = false
		d.mu.Unlock()
	}()

	for {
		d.metrics.RecordDispatchPass()
		d.scanNewVolumes()
		scheduled := d.scheduleSatisfied()
		if len(scheduled) == 0 {
			return
		}
		for _, pd := range scheduled {
			d.dispatchOne(pd)
		}
	}
}

// scanNewVolumes finds firmware-volume handles not yet processed,
// extracts their driver files into pending, and marks them processed.
// Grounded on add_fv_handles.
func (d *Dispatcher) scanNewVolumes() {
	for _, h := range d.protos.LocateHandles(FirmwareVolumeBlockProtocol) {
		d.mu.Lock()
		seen := d.processedFVs[h]
		d.mu.Unlock()
		if seen {
			continue
		}

		id, err := d.protos.GetInterfaceForHandle(h, FirmwareVolumeBlockProtocol)
		if err != nil {
			continue
		}

		d.mu.Lock()
		fv, ok := d.volumes[id]
		d.processedFVs[h] = true
		d.mu.Unlock()
		if !ok {
			continue
		}

		devicePath, _ := d.protos.GetInterfaceForHandle(h, DevicePathProtocol)

		for _, file := range fv.Files() {
			if file.Type() != collab.FileTypeDriver {
				continue
			}
			pd := pendingDriver{file: file, devicePath: devicePath}
			if expr, ok := sectionData(file, collab.SectionDXEDepex); ok {
				pd.depexExpr = depex.Expression(expr)
				pd.hasDepex = true
			}
			d.mu.Lock()
			d.pending = append(d.pending, pd)
			d.mu.Unlock()
		}
	}
}

// scheduleSatisfied removes every pending driver whose dependency
// expression is now satisfied from d.pending and returns them, leaving
// the rest in place for a future pass. A driver with no DXE_DEPEX
// section is gated on ALL_ARCH_DEPEX instead, cached in d.archAvailable
// once true since the architectural protocols this core installs are
// never uninstalled.
func (d *Dispatcher) scheduleSatisfied() []pendingDriver {
	present := func(g guid.GUID) bool {
		_, err := d.protos.LocateProtocol(g)
		return err == nil
	}

	d.mu.Lock()
	if !d.archAvailable {
		d.archAvailable = depex.Eval(allArchDepex, present)
	}
	archAvailable := d.archAvailable
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	var remaining, scheduled []pendingDriver
	for _, pd := range pending {
		satisfied := archAvailable
		if pd.hasDepex {
			satisfied = depex.Eval(pd.depexExpr, present)
		}
		if satisfied {
			scheduled = append(scheduled, pd)
		} else {
			remaining = append(remaining, pd)
		}
	}

	d.mu.Lock()
	d.pending = append(d.pending, remaining...)
	d.mu.Unlock()

	return scheduled
}

// dispatchOne loads pd's PE32 section and starts it, silently leaving it
// unstarted if it carries no PE32 section, fails to load, or names no
// resolver entry point: one driver's failure never blocks the rest of
// the pass, matching the original's log-and-continue behavior.
func (d *Dispatcher) dispatchOne(pd pendingDriver) {
	start := time.Now()
	defer func() {
		d.metrics.ObserveDriverLoad(pd.file.Name().String(), time.Since(start))
	}()

	peData, ok := sectionData(pd.file, collab.SectionPE32)
	if !ok {
		return
	}

	handle, err := d.images.LoadImage(peData, 0, 0, pd.devicePath)
	if err != nil {
		return
	}

	fn, ok := d.resolver.EntryPointFor(pd.file)
	if !ok {
		return
	}
	if err := d.images.RegisterEntryPoint(handle, fn); err != nil {
		return
	}

	_, _, _ = d.images.StartImage(handle, 0)
}

func sectionData(file collab.File, want collab.SectionType) ([]byte, bool) {
	for _, s := range file.Sections() {
		if s.Type() == want {
			return s.Data(), true
		}
	}
	return nil, false
}
