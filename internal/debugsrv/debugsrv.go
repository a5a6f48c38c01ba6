// Package debugsrv is a loopback-only HTTP introspection server for a
// running simulated core session. It answers read-only queries against
// the GCD memory map, the protocol database, the event table, and the
// driver dispatcher's pending list, so a session can be inspected from
// outside the process that hosts it. Grounded on
// pkg/controlplane/api/router.go's chi middleware stack and
// internal/controlplane/api/handlers/{health,response}.go's handler and
// response-envelope shape, trimmed to the unauthenticated, GET-only
// subset those files use for health probes: nothing here mutates state,
// so there is no auth layer to carry over.
package debugsrv

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patina-fw/dxecore/internal/dispatcher"
	"github.com/patina-fw/dxecore/internal/eventdb"
	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/logger"
	"github.com/patina-fw/dxecore/internal/protocoldb"
)

// Session bundles the state a running core exposes for inspection.
// Every field is read directly; nothing in this package mutates any of them.
type Session struct {
	Memory     *gcd.MemorySpace
	Protocols  *protocoldb.Db
	Events     *eventdb.Db
	Dispatcher *dispatcher.Dispatcher

	// Registry, if non-nil, is served at /metrics in Prometheus exposition
	// format. A session started without metrics enabled leaves this nil,
	// and the route answers 404 the way chi handles any unmounted path.
	Registry *prometheus.Registry
}

// NewRouter builds the chi router serving sess's introspection
// endpoints. Grounded on NewRouter's middleware stack: request ID,
// real IP, a request logger, panic recovery, and a timeout, all
// unauthenticated since nothing here mutates state.
func NewRouter(sess *Session) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	h := &handler{sess: sess}

	r.Get("/", h.index)
	r.Route("/gcd", func(r chi.Router) {
		r.Get("/memory", h.gcdMemory)
	})
	r.Get("/protocols", h.protocols)
	r.Get("/events", h.events)
	r.Get("/dispatch", h.dispatch)
	if sess.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(sess.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs each request's method, path and duration at debug
// level, matching requestLogger's shape without the healthcheck-path
// special case (every endpoint here is equally low-traffic).
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		logger.Debug("debugsrv request",
			"request_id", middleware.GetReqID(req.Context()),
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
