package debugsrv

import (
	"net/http"

	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

type handler struct {
	sess *Session
}

// index handles GET / with a directory of the endpoints this server
// answers, so a caller that only knows the debug address can discover
// the rest without consulting documentation.
func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"gcd_memory": "/gcd/memory",
		"protocols":  "/protocols",
		"events":     "/events",
		"dispatch":   "/dispatch",
	}
	if h.sess.Registry != nil {
		endpoints["metrics"] = "/metrics"
	}
	ok(w, endpoints)
}

// gcdMemory handles GET /gcd/memory: the full memory-space GCD map,
// exactly as GetMemorySpaceMap returns it.
func (h *handler) gcdMemory(w http.ResponseWriter, r *http.Request) {
	if h.sess.Memory == nil {
		errResponse(w, http.StatusServiceUnavailable, "no memory space attached to this session")
		return
	}
	ok(w, h.sess.Memory.GetMemorySpaceMap())
}

// protocolHandle is one handle's installed protocols, as reported by
// AllHandles/GetProtocolsOnHandle.
type protocolHandle struct {
	Handle    protocoldb.Handle `json:"handle"`
	Protocols []guid.GUID       `json:"protocols"`
}

// protocols handles GET /protocols: every handle currently registered
// in the protocol database, together with the protocols installed on
// it. Grounded on AllHandles/GetProtocolsOnHandle.
func (h *handler) protocols(w http.ResponseWriter, r *http.Request) {
	if h.sess.Protocols == nil {
		errResponse(w, http.StatusServiceUnavailable, "no protocol database attached to this session")
		return
	}

	handles := h.sess.Protocols.AllHandles()
	out := make([]protocolHandle, 0, len(handles))
	for _, hnd := range handles {
		protos, err := h.sess.Protocols.GetProtocolsOnHandle(hnd)
		if err != nil {
			continue
		}
		out = append(out, protocolHandle{Handle: hnd, Protocols: protos})
	}
	ok(w, out)
}

// events handles GET /events: every registered event plus the current
// pending-notification queue depth, via eventdb.Db.Snapshot — which,
// unlike NotificationsAbove, never consumes a queued notification.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if h.sess.Events == nil {
		errResponse(w, http.StatusServiceUnavailable, "no event table attached to this session")
		return
	}

	events, pendingCount := h.sess.Events.Snapshot()
	ok(w, map[string]any{
		"events":        events,
		"pending_count": pendingCount,
	})
}

// dispatch handles GET /dispatch: the FFS name GUID of every driver
// discovered but not yet dispatched, via Dispatcher.PendingDriverNames.
func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if h.sess.Dispatcher == nil {
		errResponse(w, http.StatusServiceUnavailable, "no dispatcher attached to this session")
		return
	}
	ok(w, map[string]any{
		"pending_drivers": h.sess.Dispatcher.PendingDriverNames(),
	})
}
