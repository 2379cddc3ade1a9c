package seatbridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Metrics holds the collectors exported by the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	DedupJoins    prometheus.Counter
	Invalidations *prometheus.CounterVec
	QueueWaiting  prometheus.Gauge
	BackendCalls  *prometheus.CounterVec
	Fallbacks     *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to stay isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "cache_hits_total",
			Help: "Requests answered from the response cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "cache_misses_total",
			Help: "Cacheable requests that needed a backend call.",
		}),
		DedupJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "dedup_joins_total",
			Help: "Requests attached to an identical in-flight call.",
		}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "cache_invalidations_total",
			Help: "Cache entries purged after mutations, by tag.",
		}, []string{"tag"}),
		QueueWaiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "seatbridge", Name: "queue_waiting",
			Help: "Calls waiting for an admission slot.",
		}),
		BackendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "backend_calls_total",
			Help: "Backend calls by backend, operation and outcome.",
		}, []string{"backend", "operation", "outcome"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seatbridge", Name: "fallbacks_total",
			Help: "Requests delegated from the primary to the legacy backend, by reason.",
		}, []string{"reason"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "seatbridge", Name: "breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"backend"}),
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) dedupJoin() {
	if m != nil {
		m.DedupJoins.Inc()
	}
}

func (m *Metrics) invalidated(tag Tag, n int) {
	if m != nil && n > 0 {
		m.Invalidations.WithLabelValues(string(tag)).Add(float64(n))
	}
}

func (m *Metrics) queueDelta(d float64) {
	if m != nil {
		m.QueueWaiting.Add(d)
	}
}

// ObserveCall records one backend call outcome.
func (m *Metrics) ObserveCall(backend string, op Operation, res *Result) {
	if m == nil {
		return
	}
	outcome := "success"
	if res == nil || !res.Success {
		outcome = "failure"
		if res != nil && res.Kind != "" {
			outcome = string(res.Kind)
		}
	}
	m.BackendCalls.WithLabelValues(backend, op.String(), outcome).Inc()
}

// ObserveFallback records a delegation to the legacy backend.
func (m *Metrics) ObserveFallback(reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(reason).Inc()
	}
}

// BreakerObserver returns a state change hook for NewCircuitBreaker.
func (m *Metrics) BreakerObserver(backend string) func(from, to gobreaker.State) {
	return func(_, to gobreaker.State) {
		if m == nil {
			return
		}
		m.BreakerState.WithLabelValues(backend).Set(float64(to))
	}
}
