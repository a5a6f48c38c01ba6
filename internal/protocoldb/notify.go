package protocoldb

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
)

// Registration is the stable key RegisterProtocolNotify hands back to
// the caller, later passed to LocateByRegistration to walk handles that
// newly installed the registered protocol.
type Registration uint64

// registration tracks one RegisterProtocolNotify subscription: the
// protocol it watches, the event to signal on every matching install or
// reinstall, and the FIFO queue of handles observed since the last
// LocateByRegistration drained it.
type registration struct {
	protocol guid.GUID
	event    eventdb.ID
	pending  []Handle
}

// RegisterProtocolNotify subscribes event to future installs and
// reinstalls of protocol, returning a registration key. On every future
// install(protocol) or reinstall(protocol), event is signalled and the
// affected handle is appended to the registration's pending queue.
func (db *Db) RegisterProtocolNotify(protocol guid.GUID, event eventdb.ID) (Registration, error) {
	if !db.events.IsValid(event) {
		return 0, efistatus.InvalidParameter.AsErrorf("protocoldb: register-notify on invalid event")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextRegistration++
	id := db.nextRegistration
	db.registrations[id] = &registration{protocol: protocol, event: event}
	return Registration(id), nil
}

// drainNotifyEventsLocked appends handle to every registration watching
// protocol and returns the set of events to signal. Must be called with
// db.mu held; the caller signals the returned events only after
// releasing the lock.
func (db *Db) drainNotifyEventsLocked(protocol guid.GUID, handle Handle) []eventdb.ID {
	var events []eventdb.ID
	for _, r := range db.registrations {
		if r.protocol != protocol {
			continue
		}
		r.pending = append(r.pending, handle)
		events = append(events, r.event)
	}
	return events
}

// LocateByRegistration dequeues the next handle observed for reg since
// the last call, or NotFound if none is pending.
func (db *Db) LocateByRegistration(reg Registration) (Handle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.registrations[uint64(reg)]
	if !ok {
		return 0, efistatus.InvalidParameter.AsErrorf("protocoldb: unknown registration %d", reg)
	}
	if len(r.pending) == 0 {
		return 0, efistatus.NotFound.AsErrorf("protocoldb: no pending handle for registration %d", reg)
	}
	h := r.pending[0]
	r.pending = r.pending[1:]
	return h, nil
}

// unregisterClosedEvents drops every registration whose event is no
// longer valid, mirroring unregister_protocol_notify_events in the
// reference implementation's notification-signalling path.
func (db *Db) unregisterClosedEvents(closed []eventdb.ID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	closedSet := make(map[eventdb.ID]bool, len(closed))
	for _, id := range closed {
		closedSet[id] = true
	}
	for key, r := range db.registrations {
		if closedSet[r.event] {
			delete(db.registrations, key)
		}
	}
}
