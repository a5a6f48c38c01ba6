// Package protocoldb implements the UEFI protocol database: a
// handle-indexed registry mapping (handle, protocol GUID) pairs to
// installed interface pointers, with reference-counted open/close
// usage tracking and protocol-arrival notifications. Grounded on
// Platforms/QemuQ35Pkg/Library/UefiProtocolDbLib/src/lib.rs and the
// notification wiring in Platforms/QemuQ35Pkg/DxeRust/src/protocols.rs
// from the reference implementation.
package protocoldb

import (
	"sync"

	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
)

// Handle names a set of installed protocol interfaces. The zero Handle
// is never valid; handles are assigned 1, 2, 3, ... in installation
// order, with the database's backing slice indexed by handle-1.
type Handle uint64

// protocolInstance is the per-(handle, protocol) record: the interface
// pointer together with its open/close bookkeeping. Interfaces are
// represented as opaque uint64 identifiers rather than real pointers,
// matching this core's treatment of every UEFI-visible address as a
// symbolic bookkeeping value (see internal/gcd, internal/pool).
type protocolInstance struct {
	interfacePtr      uint64
	openedByDriver    bool
	openedByExclusive bool
	usage             []OpenInfo
}

// Db is the protocol database. The zero value is ready to use once
// wired to an event database with New.
type Db struct {
	mu     sync.Mutex
	events *eventdb.Db

	handles []map[guid.GUID]*protocolInstance

	registrations    map[uint64]*registration
	nextRegistration uint64
}

// New returns an empty Db whose notification callbacks signal events in
// events.
func New(events *eventdb.Db) *Db {
	return &Db{events: events, registrations: make(map[uint64]*registration)}
}

func (db *Db) validateHandleLocked(h Handle) bool {
	if h == 0 || int(h) > len(db.handles) {
		return false
	}
	return len(db.handles[h-1]) != 0
}

// ValidateHandle reports whether h names a currently valid handle (in
// range and carrying at least one installed protocol).
func (db *Db) ValidateHandle(h Handle) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.validateHandleLocked(h)
}

// InstallProtocolInterface installs protocol on handle (or a freshly
// allocated handle, if handle is nil), associating it with interfacePtr.
// Installing the same (handle, protocol) pair twice fails with
// InvalidParameter. Matching DEPEX/notify events are signalled after the
// database lock is released, per the ordering guarantee that
// protocol-notify events fire only once the installing call has released
// the protocol-DB lock.
func (db *Db) InstallProtocolInterface(handle *Handle, protocol guid.GUID, interfacePtr uint64) (Handle, error) {
	db.mu.Lock()

	var h Handle
	if handle != nil && *handle != 0 {
		if !db.validateHandleLocked(*handle) {
			db.mu.Unlock()
			return 0, efistatus.InvalidParameter.AsErrorf("protocoldb: install on invalid handle %d", *handle)
		}
		h = *handle
	} else {
		db.handles = append(db.handles, make(map[guid.GUID]*protocolInstance))
		h = Handle(len(db.handles))
	}

	entry := db.handles[h-1]
	if _, exists := entry[protocol]; exists {
		db.mu.Unlock()
		return 0, efistatus.InvalidParameter.AsErrorf("protocoldb: %s already installed on handle %d", protocol, h)
	}
	entry[protocol] = &protocolInstance{interfacePtr: interfacePtr}

	notifyEvents := db.drainNotifyEventsLocked(protocol, h)
	db.mu.Unlock()

	db.signal(notifyEvents)
	return h, nil
}

// UninstallProtocolInterface removes protocol from handle, provided
// interfacePtr matches the installed interface and no usage record holds
// it BY_DRIVER. The caller is expected to DisconnectController first and
// retry on AccessDenied; this database never drives a disconnect itself.
func (db *Db) UninstallProtocolInterface(handle Handle, protocol guid.GUID, interfacePtr uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		return err
	}
	if instance.interfacePtr != interfacePtr {
		return efistatus.NotFound.AsErrorf("protocoldb: interface mismatch on uninstall")
	}
	for _, u := range instance.usage {
		if u.Attributes&ByDriver != 0 {
			return efistatus.AccessDenied.AsErrorf("protocoldb: %s on handle %d still opened by driver", protocol, handle)
		}
	}
	delete(db.handles[handle-1], protocol)
	return nil
}

// ReinstallProtocolInterface atomically swaps the interface installed
// for (handle, protocol) from oldInterfacePtr to newInterfacePtr,
// preserving validity of handle even when protocol is its last
// remaining entry. Fails AccessDenied under the same BY_DRIVER condition
// as UninstallProtocolInterface, and signals notification events as if
// it were a fresh install.
func (db *Db) ReinstallProtocolInterface(handle Handle, protocol guid.GUID, oldInterfacePtr, newInterfacePtr uint64) error {
	db.mu.Lock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	if instance.interfacePtr != oldInterfacePtr {
		db.mu.Unlock()
		return efistatus.NotFound.AsErrorf("protocoldb: interface mismatch on reinstall")
	}
	for _, u := range instance.usage {
		if u.Attributes&ByDriver != 0 {
			db.mu.Unlock()
			return efistatus.AccessDenied.AsErrorf("protocoldb: %s on handle %d still opened by driver", protocol, handle)
		}
	}
	db.handles[handle-1][protocol] = &protocolInstance{interfacePtr: newInterfacePtr}

	notifyEvents := db.drainNotifyEventsLocked(protocol, handle)
	db.mu.Unlock()

	db.signal(notifyEvents)
	return nil
}

// GetInterfaceForHandle returns the interface installed for (handle,
// protocol), implementing HandleProtocol's underlying lookup.
func (db *Db) GetInterfaceForHandle(handle Handle, protocol guid.GUID) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	instance, err := db.lookupLocked(handle, protocol)
	if err != nil {
		return 0, err
	}
	return instance.interfacePtr, nil
}

// GetProtocolsOnHandle returns every protocol GUID installed on handle.
func (db *Db) GetProtocolsOnHandle(handle Handle) ([]guid.GUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.validateHandleLocked(handle) {
		return nil, efistatus.InvalidParameter.AsErrorf("protocoldb: invalid handle %d", handle)
	}
	out := make([]guid.GUID, 0, len(db.handles[handle-1]))
	for g := range db.handles[handle-1] {
		out = append(out, g)
	}
	sortGUIDs(out)
	return out, nil
}

func (db *Db) lookupLocked(handle Handle, protocol guid.GUID) (*protocolInstance, error) {
	if !db.validateHandleLocked(handle) {
		return nil, efistatus.InvalidParameter.AsErrorf("protocoldb: invalid handle %d", handle)
	}
	instance, ok := db.handles[handle-1][protocol]
	if !ok {
		return nil, efistatus.NotFound.AsErrorf("protocoldb: %s not installed on handle %d", protocol, handle)
	}
	return instance, nil
}

func (db *Db) signal(events []eventdb.ID) {
	var closed []eventdb.ID
	for _, id := range events {
		if err := db.events.Signal(id); err != nil {
			closed = append(closed, id)
		}
	}
	if len(closed) > 0 {
		db.unregisterClosedEvents(closed)
	}
}

func sortGUIDs(gs []guid.GUID) {
	for i := 1; i < len(gs); i++ {
		for j := i; j > 0 && less(gs[j], gs[j-1]); j-- {
			gs[j], gs[j-1] = gs[j-1], gs[j]
		}
	}
}

func less(a, b guid.GUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
