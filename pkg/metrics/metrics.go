// Package metrics holds the Prometheus instruments of the translator. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "a64rec"

// Metrics groups every instrument
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheBlocks        prometheus.Gauge
	Invalidations      prometheus.Counter
	Compiles           prometheus.Counter
	CompileFailures    prometheus.Counter
	CompileSeconds     prometheus.Histogram
	TranslatedInstrs   prometheus.Counter
	DispatchedBlocks   prometheus.Counter
	ProfileWriteErrors prometheus.Counter
}

// New creates the instruments and registers them with reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Block lookups that found an existing block.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Block lookups that created a block.",
		}),
		CacheBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "blocks",
			Help: "Blocks currently held by the cache.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "invalidations_total",
			Help: "Whole-cache invalidations.",
		}),
		Compiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compiles_total",
			Help: "Translation units compiled.",
		}),
		CompileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compile_failures_total",
			Help: "Translation units that failed to compile.",
		}),
		CompileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "compile_seconds",
			Help:    "Time spent translating and compiling one unit.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		TranslatedInstrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "translated_instructions_total",
			Help: "Guest instructions translated.",
		}),
		DispatchedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "dispatched_blocks_total",
			Help: "Compiled units entered by the dispatch loop.",
		}),
		ProfileWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "profile", Name: "write_errors_total",
			Help: "Profile records that could not be stored.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheHits, m.CacheMisses, m.CacheBlocks, m.Invalidations,
			m.Compiles, m.CompileFailures, m.CompileSeconds, m.TranslatedInstrs,
			m.DispatchedBlocks, m.ProfileWriteErrors,
		)
	}
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss(blocks int) {
	if m != nil {
		m.CacheMisses.Inc()
		m.CacheBlocks.Set(float64(blocks))
	}
}

func (m *Metrics) Invalidated() {
	if m != nil {
		m.Invalidations.Inc()
		m.CacheBlocks.Set(0)
	}
}

// Compiled records a successful unit
func (m *Metrics) Compiled(instructions int, took time.Duration) {
	if m != nil {
		m.Compiles.Inc()
		m.TranslatedInstrs.Add(float64(instructions))
		m.CompileSeconds.Observe(took.Seconds())
	}
}

func (m *Metrics) CompileFailed() {
	if m != nil {
		m.CompileFailures.Inc()
	}
}

func (m *Metrics) Dispatched() {
	if m != nil {
		m.DispatchedBlocks.Inc()
	}
}

func (m *Metrics) ProfileWriteFailed() {
	if m != nil {
		m.ProfileWriteErrors.Inc()
	}
}
