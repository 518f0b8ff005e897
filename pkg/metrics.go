package vcache

// metrics.go is a thin abstraction over Prometheus so the validator can be
// used with or without metrics: a metricsSink interface with a noop and a
// Prometheus implementation, chosen by whether New was given
// WithMetrics(reg). Evictions and items are labeled by tier (verify/record);
// hits, misses and promotions are unlabeled.
//
// ┌───────────────────────────────┐
// │ Metric                 │ Type │
// ├─────────────────────────┼──────┤
// │ cfi_vcache_hits_total   │ Ctr  │ (verify-tier hits)
// │ cfi_vcache_misses_total │ Ctr  │ (verify-tier misses)
// │ cfi_vcache_promotions_total │ Ctr │
// │ cfi_vcache_evictions_total  │ Ctr │ (tier, counts freed slots not passes)
// │ cfi_vcache_items        │ Gge  │ (tier)
// └───────────────────────────────┘

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts away the concrete backend (Prometheus vs noop).
// Validate and promote only know about these methods.
type metricsSink interface {
	incHit()
	incMiss()
	incPromotion(n int)
	incEviction(tier string, n int)
	setItems(tier string, n int)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                 {}
func (noopMetrics) incMiss()                {}
func (noopMetrics) incPromotion(int)        {}
func (noopMetrics) incEviction(string, int) {}
func (noopMetrics) setItems(string, int)    {}

type promMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	promotions prometheus.Counter
	evictions  *prometheus.CounterVec
	items      *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"tier"}

	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfi_vcache",
			Name:      "hits_total",
			Help:      "Number of Validate calls that hit the verify tier.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfi_vcache",
			Name:      "misses_total",
			Help:      "Number of Validate calls that missed the verify tier.",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cfi_vcache",
			Name:      "promotions_total",
			Help:      "Number of signatures migrated from the record tier to the verify tier.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cfi_vcache",
			Name:      "evictions_total",
			Help:      "Number of entries evicted, by tier.",
		}, label),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cfi_vcache",
			Name:      "items",
			Help:      "Live entries held, by tier.",
		}, label),
	}

	reg.MustRegister(pm.hits, pm.misses, pm.promotions, pm.evictions, pm.items)
	return pm
}

func (m *promMetrics) incHit()  { m.hits.Inc() }
func (m *promMetrics) incMiss() { m.misses.Inc() }
func (m *promMetrics) incPromotion(n int) {
	if n > 0 {
		m.promotions.Add(float64(n))
	}
}
func (m *promMetrics) incEviction(tier string, n int) {
	if n > 0 {
		m.evictions.WithLabelValues(tier).Add(float64(n))
	}
}
func (m *promMetrics) setItems(tier string, n int) {
	m.items.WithLabelValues(tier).Set(float64(n))
}

// newMetricsSink chooses the implementation based on whether reg is nil.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
