// Package connect implements C13, the driver connection engine:
// ConnectController's search over every installed driver-binding
// protocol (context override first, then every remaining binding ranked
// by version, highest first), repeatedly offering each remaining
// candidate a chance to claim a controller handle via Supported/Start
// until a full round claims nothing; and DisconnectController's mirror
// image, stopping the drivers (and, first, the child controllers) a
// controller handle currently has attached. Grounded on
// DxeRust/src/driver_services.rs's core_connect_single_controller,
// core_connect_controller, and core_disconnect_controller.
package connect

import (
	"sort"
	"sync"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// DriverBindingProtocol is EFI_DRIVER_BINDING_PROTOCOL_GUID, the real
// UEFI-assigned value.
var DriverBindingProtocol = guid.MustParse("18a031ab-b443-4d1a-a5c0-0c09261e9f71")

// DriverBinding is a driver's EFI_DRIVER_BINDING_PROTOCOL instance: the
// three entry points ConnectController and DisconnectController drive.
//
// remainingDevicePath follows this package's convention for a UEFI
// device-path argument that can be absent, present-and-the-END-node, or
// present-and-not-the-END-node: nil means "not supplied" (Rust's
// remaining_device_path: None); a pointer to the zero value means
// "supplied, and it is the END node"; a pointer to any other value means
// "supplied, and it is not the END node". Device paths carry no other
// structure in this core (see internal/image's devicePath handling), so
// this is the natural generalization of the same opaque-uint64
// treatment to a value that is sometimes entirely absent.
type DriverBinding interface {
	Version() uint32
	Supported(controller protocoldb.Handle, remainingDevicePath *uint64) efistatus.Status
	Start(controller protocoldb.Handle, remainingDevicePath *uint64) efistatus.Status
	// Stop is called with the specific child handles to detach, or nil
	// to stop managing controller itself once every child (if any) has
	// already been detached.
	Stop(controller protocoldb.Handle, childHandles []protocoldb.Handle) efistatus.Status
}

type candidate struct {
	handle  protocoldb.Handle
	binding DriverBinding
}

// Engine is the connection engine. Grounded on the free functions in
// driver_services.rs; there is no corresponding struct in the original
// since PROTOCOL_DB is a global there, but every method below is a
// direct port of one of its functions.
type Engine struct {
	mu       sync.Mutex
	protos   *protocoldb.Db
	bindings map[uint64]DriverBinding
	nextID   uint64
}

// New returns an Engine that discovers and drives driver bindings
// installed on protos.
func New(protos *protocoldb.Db) *Engine {
	return &Engine{protos: protos, bindings: make(map[uint64]DriverBinding)}
}

// RegisterDriverBinding installs b's DriverBinding protocol on a freshly
// minted handle. A bare uint64 interface pointer can't carry a callable
// Go value, so — exactly as internal/image.Service.RegisterEntryPoint
// and internal/dispatcher.Dispatcher.RegisterFirmwareVolume already do
// for the same reason — Engine keeps its own id-to-value table and
// installs the id as the protocol database's opaque interface pointer.
func (e *Engine) RegisterDriverBinding(b DriverBinding) (protocoldb.Handle, error) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.bindings[id] = b
	e.mu.Unlock()

	handle, err := e.protos.InstallProtocolInterface(nil, DriverBindingProtocol, id)
	if err != nil {
		e.mu.Lock()
		delete(e.bindings, id)
		e.mu.Unlock()
		return 0, err
	}
	return handle, nil
}

func (e *Engine) bindingFor(handle protocoldb.Handle) (DriverBinding, bool) {
	id, err := e.protos.GetInterfaceForHandle(handle, DriverBindingProtocol)
	if err != nil {
		return nil, false
	}
	e.mu.Lock()
	b, ok := e.bindings[id]
	e.mu.Unlock()
	return b, ok
}

func (e *Engine) candidatesForHandles(handles []protocoldb.Handle) []candidate {
	var out []candidate
	for _, h := range handles {
		if b, ok := e.bindingFor(h); ok {
			out = append(out, candidate{handle: h, binding: b})
		}
	}
	return out
}

// allDriverBindings returns every installed driver binding, ranked by
// version (highest first), implementing get_all_driver_bindings.
func (e *Engine) allDriverBindings() []candidate {
	candidates := e.candidatesForHandles(e.protos.LocateHandles(DriverBindingProtocol))
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].binding.Version() > candidates[j].binding.Version()
	})
	return candidates
}

// ConnectController implements EFI_BOOT_SERVICES.ConnectController (UEFI
// spec §7.3.12): it attempts to connect driverHandles (the caller's
// context-override list, tried before any other candidate) and every
// other installed driver binding to controller, and, if recursive, does
// the same for every child controller handle controller currently has
// attached. The recursive leg's per-child errors are discarded, matching
// the original's "ignore the return value to match behavior of edk2
// reference" comment.
func (e *Engine) ConnectController(controller protocoldb.Handle, driverHandles []protocoldb.Handle, remainingDevicePath *uint64, recursive bool) error {
	returnErr := e.connectSingleController(controller, driverHandles, remainingDevicePath)

	if recursive {
		for _, child := range e.childHandles(controller) {
			_ = e.ConnectController(child, nil, nil, true)
		}
	}

	return returnErr
}

func (e *Engine) connectSingleController(controller protocoldb.Handle, driverHandles []protocoldb.Handle, remainingDevicePath *uint64) error {
	if !e.protos.ValidateHandle(controller) {
		return efistatus.InvalidParameter.AsErrorf("connect: invalid controller handle %d", controller)
	}

	// Candidate order: the caller's context-override list first (UEFI
	// spec §7.3.12 source 1), then every other installed driver binding
	// by version (source 5 — this core has no Platform/Family/Bus
	// Specific Driver Override protocols to search, same as the
	// reference, which leaves those three sources permanently empty).
	candidates := e.candidatesForHandles(driverHandles)
	seen := make(map[protocoldb.Handle]bool, len(candidates))
	for _, c := range candidates {
		seen[c.handle] = true
	}
	for _, c := range e.allDriverBindings() {
		if !seen[c.handle] {
			candidates = append(candidates, c)
			seen[c.handle] = true
		}
	}

	started := false
	for {
		var startedThisRound []protocoldb.Handle
		for _, c := range candidates {
			if c.binding.Supported(controller, remainingDevicePath) != efistatus.Success {
				continue
			}
			startedThisRound = append(startedThisRound, c.handle)
			if c.binding.Start(controller, remainingDevicePath) == efistatus.Success {
				started = true
			}
		}
		if len(startedThisRound) == 0 {
			break
		}
		candidates = removeHandles(candidates, startedThisRound)
	}

	if started {
		return nil
	}
	if remainingDevicePath != nil && *remainingDevicePath == 0 {
		// An END device-path node still counts as success even if
		// nothing claimed it.
		return nil
	}
	return efistatus.NotFound.AsErrorf("connect: no driver claimed controller %d", controller)
}

func removeHandles(candidates []candidate, remove []protocoldb.Handle) []candidate {
	drop := make(map[protocoldb.Handle]bool, len(remove))
	for _, h := range remove {
		drop[h] = true
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if !drop[c.handle] {
			kept = append(kept, c)
		}
	}
	return kept
}

// childHandles returns every handle opened BY_CHILD_CONTROLLER against
// parent by any driver, deduplicated, implementing get_child_handles.
func (e *Engine) childHandles(parent protocoldb.Handle) []protocoldb.Handle {
	return e.childHandlesOpenedBy(parent, 0)
}

// childHandlesOpenedBy returns every handle opened BY_CHILD_CONTROLLER
// against parent, optionally restricted to usages opened by driver (0
// means any driver). Grounded on the per-driver child_handles
// computation inside core_disconnect_controller, generalized to the
// all-drivers case get_child_handles needs.
func (e *Engine) childHandlesOpenedBy(parent, driver protocoldb.Handle) []protocoldb.Handle {
	protocols, err := e.protos.GetProtocolsOnHandle(parent)
	if err != nil {
		return nil
	}

	seen := make(map[protocoldb.Handle]bool)
	var out []protocoldb.Handle
	for _, p := range protocols {
		infos, err := e.protos.GetOpenProtocolInformation(parent, p)
		if err != nil {
			continue
		}
		for _, info := range infos {
			if info.Attributes&protocoldb.ByChildController == 0 {
				continue
			}
			if driver != 0 && info.AgentHandle != driver {
				continue
			}
			if info.ControllerHandle == 0 || seen[info.ControllerHandle] {
				continue
			}
			seen[info.ControllerHandle] = true
			out = append(out, info.ControllerHandle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// driversManaging returns every driver handle currently holding a
// BY_DRIVER usage on controller, deduplicated.
func (e *Engine) driversManaging(controller protocoldb.Handle) ([]protocoldb.Handle, error) {
	protocols, err := e.protos.GetProtocolsOnHandle(controller)
	if err != nil {
		return nil, err
	}

	seen := make(map[protocoldb.Handle]bool)
	var out []protocoldb.Handle
	for _, p := range protocols {
		infos, err := e.protos.GetOpenProtocolInformation(controller, p)
		if err != nil {
			continue
		}
		for _, info := range infos {
			if info.Attributes&protocoldb.ByDriver == 0 {
				continue
			}
			if seen[info.AgentHandle] {
				continue
			}
			seen[info.AgentHandle] = true
			out = append(out, info.AgentHandle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DisconnectController implements EFI_BOOT_SERVICES.DisconnectController
// (UEFI spec §7.3.13): stop driverHandle (or, if zero, every driver
// currently managing controller) from managing controller, detaching
// childHandle (or, if zero, every child) first. Grounded on
// core_disconnect_controller.
func (e *Engine) DisconnectController(controller, driverHandle, childHandle protocoldb.Handle) error {
	if !e.protos.ValidateHandle(controller) {
		return efistatus.InvalidParameter.AsErrorf("connect: invalid controller handle %d", controller)
	}

	var drivers []protocoldb.Handle
	if driverHandle != 0 {
		drivers = []protocoldb.Handle{driverHandle}
	} else {
		var err error
		drivers, err = e.driversManaging(controller)
		if err != nil {
			return err
		}
	}

	stopCount := 0
	for _, driver := range drivers {
		children := e.childHandlesOpenedBy(controller, driver)
		total := len(children)
		if childHandle != 0 {
			filtered := children[:0]
			for _, c := range children {
				if c == childHandle {
					filtered = append(filtered, c)
				}
			}
			children = filtered
		}

		binding, ok := e.bindingFor(driver)
		if !ok {
			continue
		}

		status := efistatus.Success
		if len(children) > 0 {
			status = binding.Stop(controller, children)
		}
		if status == efistatus.Success && len(children) == total {
			status = binding.Stop(controller, nil)
		}
		if status == efistatus.Success {
			stopCount++
		}
	}

	if stopCount > 0 {
		return nil
	}
	return efistatus.NotFound.AsErrorf("connect: no driver stopped on controller %d", controller)
}
