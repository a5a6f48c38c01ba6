// Package archbridge adapts internal/protocoldb.Db to internal/sched's
// ProtocolDB interface. A real UEFI build installs an architectural
// protocol as a pointer to an in-memory structure, and protocoldb.Db
// mirrors that by storing an opaque uint64 "interface pointer" per
// protocol instance (see protocoldb's InstallProtocolInterface). This
// hosted core's architectural-protocol stand-ins
// (internal/collab/simulate.CPUArch/TimerArch) are live Go values with
// no address of their own, so something has to bridge the two: Bridge
// keeps a side table from the synthetic uint64 key protocoldb.Db hands
// back on lookup to the real Go value installed under it.
package archbridge

import (
	"sync"

	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// Bridge wraps a *protocoldb.Db, satisfying sched.ProtocolDB (LocateProtocol
// returning any, RegisterProtocolNotify returning a bare error) without
// internal/sched needing to know anything about this side table.
type Bridge struct {
	protos *protocoldb.Db

	mu       sync.Mutex
	registry map[uint64]any
	nextKey  uint64
}

// New returns a Bridge over protos.
func New(protos *protocoldb.Db) *Bridge {
	return &Bridge{protos: protos, registry: make(map[uint64]any)}
}

// InstallArchProtocol installs iface under protocol on a freshly minted
// handle, recording iface itself so a later LocateProtocol call returns
// the same Go value rather than the synthetic key protodb stores it
// under.
func (b *Bridge) InstallArchProtocol(protocol guid.GUID, iface any) (protocoldb.Handle, error) {
	b.mu.Lock()
	b.nextKey++
	key := b.nextKey
	b.registry[key] = iface
	b.mu.Unlock()

	h, err := b.protos.InstallProtocolInterface(nil, protocol, key)
	if err != nil {
		b.mu.Lock()
		delete(b.registry, key)
		b.mu.Unlock()
	}
	return h, err
}

// LocateProtocol implements sched.ProtocolDB.
func (b *Bridge) LocateProtocol(protocol guid.GUID) (any, error) {
	key, err := b.protos.LocateProtocol(protocol)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	iface := b.registry[key]
	b.mu.Unlock()
	return iface, nil
}

// RegisterProtocolNotify implements sched.ProtocolDB, discarding the
// registration handle protocoldb.Db.RegisterProtocolNotify returns:
// sched never needs to cancel the notify it registers through this path.
func (b *Bridge) RegisterProtocolNotify(protocol guid.GUID, event eventdb.ID) error {
	_, err := b.protos.RegisterProtocolNotify(protocol, event)
	return err
}
