// Package metrics implements the gateway's Prometheus instrumentation via
// github.com/prometheus/client_golang counters and histograms.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the process-wide instrument set. Construct one with New and
// share it across the orchestrator, caches, and rule store.
type Metrics struct {
	CacheRequests *prometheus.CounterVec // labels: tier={hot,warm}, outcome={hit,miss}
	CacheSets     *prometheus.CounterVec // labels: tier
	Evictions     prometheus.Counter
	Invalidations *prometheus.CounterVec // labels: scope={rule,provider,all}
	Errors        *prometheus.CounterVec // labels: kind (see internal/errs.Kind.String())
	OriginLatency *prometheus.HistogramVec // labels: strategy
	RulesWarmed   prometheus.Counter
}

// New registers every instrument against reg and returns the handle.
// Passing prometheus.NewRegistry() isolates tests from the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_requests_total",
			Help: "Cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		CacheSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_sets_total",
			Help: "Cache writes by tier.",
		}, []string{"tier"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_hot_cache_evictions_total",
			Help: "Expired entries removed by the periodic sweep of the hot and stream caches.",
		}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_invalidations_total",
			Help: "Cache invalidations by scope.",
		}, []string{"scope"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Errors by taxonomy kind.",
		}, []string{"kind"}),
		OriginLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_origin_call_duration_seconds",
			Help:    "Origin call latency by strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		RulesWarmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rules_warmed_total",
			Help: "Rules successfully populated by rule-cache warmup.",
		}),
	}

	reg.MustRegister(m.CacheRequests, m.CacheSets, m.Evictions, m.Invalidations, m.Errors, m.OriginLatency, m.RulesWarmed)
	return m
}

// Event is a fire-and-forget instrumentation signal: a single typed-tag
// sink so callers never import prometheus directly.
type Event struct {
	Name string
	Tags map[string]string
}

// Emit routes a single event to the matching instrument. Unknown event names
// are silently dropped — callers should not crash the hot path over a typo
// in an instrumentation call site.
func (m *Metrics) Emit(e Event) {
	switch e.Name {
	case "cache_hit":
		m.CacheRequests.WithLabelValues(e.Tags["tier"], "hit").Inc()
	case "cache_miss":
		m.CacheRequests.WithLabelValues(e.Tags["tier"], "miss").Inc()
	case "cache_set":
		m.CacheSets.WithLabelValues(e.Tags["tier"]).Inc()
	case "eviction":
		m.Evictions.Inc()
	case "invalidation":
		m.Invalidations.WithLabelValues(e.Tags["scope"]).Inc()
	case "error":
		m.Errors.WithLabelValues(e.Tags["kind"]).Inc()
	case "rule_warmed":
		m.RulesWarmed.Inc()
	}
}

// ObserveOriginLatency records one origin-call duration in seconds.
func (m *Metrics) ObserveOriginLatency(strategy string, seconds float64) {
	m.OriginLatency.WithLabelValues(strategy).Observe(seconds)
}
