package guard

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// METRICS
// ============================================================================

// MetricsSnapshot is the point-in-time view returned by Engine.Metrics.
type MetricsSnapshot struct {
	TotalRequests       uint64  `json:"total_requests"`
	Granted             uint64  `json:"granted"`
	Denied              uint64  `json:"denied"`
	GrantRate           float64 `json:"grant_rate"`
	AvgEvaluationTimeMs float64 `json:"avg_evaluation_time_ms"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	AuditDropped        uint64  `json:"audit_dropped"`
}

// engineMetrics keeps hot-path counters as atomics and optionally mirrors
// them into prometheus collectors.
type engineMetrics struct {
	total       atomic.Uint64
	granted     atomic.Uint64
	denied      atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	auditDrops  atomic.Uint64
	evalTimeNs  atomic.Uint64
	// uncached counts every fully evaluated decision, including
	// terminal not-found denies that never reach the cache, so it is
	// the correct divisor for evalTimeNs.
	uncached atomic.Uint64

	promDecisions *prometheus.CounterVec
	promCacheHits prometheus.Counter
	promCacheMiss prometheus.Counter
	promDuration  prometheus.Histogram
}

func newEngineMetrics() *engineMetrics { return &engineMetrics{} }

// registerPrometheus attaches collectors to the given registerer.
func (m *engineMetrics) registerPrometheus(reg prometheus.Registerer) error {
	m.promDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guard",
		Name:      "decisions_total",
		Help:      "Access decisions by outcome.",
	}, []string{"decision"})
	m.promCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guard",
		Name:      "decision_cache_hits_total",
		Help:      "Decision cache hits.",
	})
	m.promCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guard",
		Name:      "decision_cache_misses_total",
		Help:      "Decision cache misses.",
	})
	m.promDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "guard",
		Name:      "evaluation_duration_seconds",
		Help:      "Full evaluation latency, uncached decisions only.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	for _, c := range []prometheus.Collector{m.promDecisions, m.promCacheHits, m.promCacheMiss, m.promDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *engineMetrics) recordDecision(dec *AccessDecision, elapsed time.Duration) {
	m.total.Add(1)
	if dec.Allowed() {
		m.granted.Add(1)
	} else {
		m.denied.Add(1)
	}
	if !dec.Cached {
		m.uncached.Add(1)
		m.evalTimeNs.Add(uint64(elapsed))
		if m.promDuration != nil {
			m.promDuration.Observe(elapsed.Seconds())
		}
	}
	if m.promDecisions != nil {
		m.promDecisions.WithLabelValues(string(dec.Decision)).Inc()
	}
}

func (m *engineMetrics) recordCacheHit() {
	m.cacheHits.Add(1)
	if m.promCacheHits != nil {
		m.promCacheHits.Inc()
	}
}

func (m *engineMetrics) recordCacheMiss() {
	m.cacheMisses.Add(1)
	if m.promCacheMiss != nil {
		m.promCacheMiss.Inc()
	}
}

func (m *engineMetrics) recordAuditDrop() { m.auditDrops.Add(1) }

func (m *engineMetrics) snapshot() MetricsSnapshot {
	total := m.total.Load()
	granted := m.granted.Load()
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	snap := MetricsSnapshot{
		TotalRequests: total,
		Granted:       granted,
		Denied:        m.denied.Load(),
		AuditDropped:  m.auditDrops.Load(),
	}
	if total > 0 {
		snap.GrantRate = float64(granted) / float64(total)
	}
	if n := m.uncached.Load(); n > 0 {
		snap.AvgEvaluationTimeMs = float64(m.evalTimeNs.Load()) / float64(n) / 1e6
	}
	if hits+misses > 0 {
		snap.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	return snap
}
