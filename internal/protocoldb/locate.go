package protocoldb

import (
	"github.com/patina-fw/dxecore/internal/efistatus"
	"github.com/patina-fw/dxecore/internal/guid"
)

// LocateHandles returns every handle carrying protocol, in ascending
// handle order, implementing LocateHandle/LocateHandleBuffer's
// by-protocol search.
func (db *Db) LocateHandles(protocol guid.GUID) []Handle {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []Handle
	for i, entry := range db.handles {
		if len(entry) == 0 {
			continue
		}
		if _, ok := entry[protocol]; ok {
			out = append(out, Handle(i+1))
		}
	}
	return out
}

// AllHandles returns every currently valid handle, ignoring protocol,
// implementing LocateHandle's all-handles search.
func (db *Db) AllHandles() []Handle {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []Handle
	for i, entry := range db.handles {
		if len(entry) != 0 {
			out = append(out, Handle(i+1))
		}
	}
	return out
}

// LocateProtocol returns the interface for the first handle carrying
// protocol, in handle order, implementing the LocateProtocol boot
// service.
func (db *Db) LocateProtocol(protocol guid.GUID) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, entry := range db.handles {
		if instance, ok := entry[protocol]; ok {
			return instance.interfacePtr, nil
		}
	}
	return 0, efistatus.NotFound.AsErrorf("protocoldb: no handle carries %s", protocol)
}
