package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/internal/collab"
	"github.com/patina-fw/dxecore/internal/collab/simulate"
	"github.com/patina-fw/dxecore/internal/dispatcher"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/guid"
	"github.com/patina-fw/dxecore/internal/image"
	"github.com/patina-fw/dxecore/internal/pool"
	"github.com/patina-fw/dxecore/internal/protocoldb"
	"github.com/patina-fw/dxecore/internal/tpl"
)

type fakeResolver struct{}

func (fakeResolver) EntryPointFor(file collab.File) (image.EntryPointFunc, bool) { return nil, false }

func newTestSession(t *testing.T) *Session {
	t.Helper()
	domain := gcd.New(32, 0)
	_, err := domain.Memory.AddMemorySpace(gcd.MemorySystemMemory, 0x10000000, 0x1000000, 0)
	require.NoError(t, err)

	events := eventdb.New()
	protos := protocoldb.New(events)
	registry := pool.NewRegistry(&domain.Memory, 1)
	images := image.New(&domain.Memory, registry, protos, simulate.PEImageParser{})
	d := dispatcher.New(protos, images, fakeResolver{})

	return &Session{
		Memory:     &domain.Memory,
		Protocols:  protos,
		Events:     events,
		Dispatcher: d,
	}
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestIndexListsEndpoints(t *testing.T) {
	r := NewRouter(newTestSession(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "ok", resp.Status)
}

func TestGcdMemoryReportsAddedSpace(t *testing.T) {
	sess := newTestSession(t)
	r := NewRouter(sess)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gcd/memory", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	descriptors, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.NotEmpty(t, descriptors)
}

func TestProtocolsReportsInstalledHandle(t *testing.T) {
	sess := newTestSession(t)
	g := guid.New()
	_, err := sess.Protocols.InstallProtocolInterface(nil, g, 0xABCD)
	require.NoError(t, err)

	r := NewRouter(sess)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protocols", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	handles, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, handles, 1)
}

func TestEventsReportsRegisteredEventWithoutConsumingIt(t *testing.T) {
	sess := newTestSession(t)
	id, err := sess.Events.Create(eventdb.NotifyWait, tpl.Notify, func(eventdb.ID, any) {}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Events.QueueNotify(id))

	r := NewRouter(sess)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, data["pending_count"])

	it := sess.Events.NotificationsAbove(tpl.Application)
	_, stillPending := it.Next()
	assert.True(t, stillPending, "debug endpoint must not have drained the queue")
}

func TestDispatchReportsNoPendingDriversOnAFreshSession(t *testing.T) {
	sess := newTestSession(t)
	r := NewRouter(sess)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dispatch", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, data["pending_drivers"])
}

func TestEndpointsReportServiceUnavailableWithoutASession(t *testing.T) {
	r := NewRouter(&Session{})

	for _, path := range []string{"/gcd/memory", "/protocols", "/events", "/dispatch"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
