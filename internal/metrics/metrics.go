// Package metrics instruments the core with Prometheus collectors.
//
// Grounded on pkg/metrics and pkg/metrics/prometheus's optional-collector
// pattern: every recording method has a nil receiver guard, so a *Metrics
// obtained from a disabled registry (or simply left nil) costs nothing
// and every caller can pass it through unconditionally instead of
// threading an `if enabled` check to every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/patina-fw/dxecore/internal/gcd"
	"github.com/patina-fw/dxecore/internal/tpl"
)

// Metrics holds every collector this core exports. All fields are
// Prometheus collectors registered against the registry passed to New;
// nothing here is global state, so a process can stand up more than one
// simulated core session with independent metrics.
type Metrics struct {
	tplTransitions        *prometheus.CounterVec
	tplTransitionDuration *prometheus.HistogramVec
	eventQueueDepth       prometheus.Gauge
	poolBytesInUse        *prometheus.GaugeVec
	protocolHandleCount   prometheus.Gauge
	dispatchPasses        prometheus.Counter
	driverLoadDuration    *prometheus.HistogramVec
}

// New registers and returns a Metrics bound to reg. Passing nil disables
// metrics entirely: every method on the returned (nil) *Metrics is a
// no-op, matching the teacher's NewCacheMetrics/NewS3Metrics contract of
// "returns nil when metrics aren't enabled, callers pass nil onward for
// zero overhead".
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		tplTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dxecore_tpl_transitions_total",
				Help: "Total number of RaiseTPL calls by resulting level",
			},
			[]string{"level"},
		),
		tplTransitionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dxecore_tpl_transition_duration_seconds",
				Help:    "Duration of the RaiseTPL call by resulting level",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"level"},
		),
		eventQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dxecore_event_queue_depth",
				Help: "Number of signalled events currently queued for notification dispatch",
			},
		),
		poolBytesInUse: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dxecore_pool_bytes_in_use",
				Help: "Bytes currently outstanding from the typed pool allocator, by memory type",
			},
			[]string{"memory_type"},
		),
		protocolHandleCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dxecore_protocol_handle_count",
				Help: "Number of handles currently registered in the protocol database",
			},
		),
		dispatchPasses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dxecore_dispatcher_passes_total",
				Help: "Total number of driver dispatch passes executed",
			},
		),
		driverLoadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dxecore_driver_load_duration_seconds",
				Help:    "Time spent loading and starting a single driver, by driver name",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"driver"},
		),
	}
}

// ObserveTPLTransition records a RaiseTPL landing on level, and the
// duration the caller measured for it. internal/boottable passes the time
// the RaiseTPL call itself took; time spent at the raised level before
// RestoreTPL is not recorded.
func (m *Metrics) ObserveTPLTransition(level tpl.Level, duration time.Duration) {
	if m == nil {
		return
	}
	label := level.String()
	m.tplTransitions.WithLabelValues(label).Inc()
	m.tplTransitionDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// SetEventQueueDepth records the current depth of the signalled-event
// notification queue.
func (m *Metrics) SetEventQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.eventQueueDepth.Set(float64(depth))
}

// memoryTypeLabels names each gcd.MemoryType for Prometheus label
// values; gcd.MemoryType carries no String method of its own (it mirrors
// EFI_GCD_MEMORY_TYPE, a plain iota enum).
var memoryTypeLabels = map[gcd.MemoryType]string{
	gcd.MemoryNonExistent:    "non_existent",
	gcd.MemoryReserved:       "reserved",
	gcd.MemorySystemMemory:   "system_memory",
	gcd.MemoryMemoryMappedIO: "memory_mapped_io",
	gcd.MemoryPersistent:     "persistent",
	gcd.MemoryMoreReliable:   "more_reliable",
	gcd.MemoryUnaccepted:     "unaccepted",
}

// SetPoolBytesInUse records the bytes currently outstanding for memType.
func (m *Metrics) SetPoolBytesInUse(memType gcd.MemoryType, bytes uint64) {
	if m == nil {
		return
	}
	label, ok := memoryTypeLabels[memType]
	if !ok {
		label = "unknown"
	}
	m.poolBytesInUse.WithLabelValues(label).Set(float64(bytes))
}

// SetProtocolHandleCount records the current number of handles installed
// in the protocol database.
func (m *Metrics) SetProtocolHandleCount(count int) {
	if m == nil {
		return
	}
	m.protocolHandleCount.Set(float64(count))
}

// RecordDispatchPass increments the dispatch-pass counter by one.
func (m *Metrics) RecordDispatchPass() {
	if m == nil {
		return
	}
	m.dispatchPasses.Inc()
}

// ObserveDriverLoad records how long loading and starting the driver
// named name took.
func (m *Metrics) ObserveDriverLoad(name string, duration time.Duration) {
	if m == nil {
		return
	}
	m.driverLoadDuration.WithLabelValues(name).Observe(duration.Seconds())
}
