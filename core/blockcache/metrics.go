package blockcache

import "github.com/prometheus/client_golang/prometheus"

type lookupKind string

const (
	lookupBlock    lookupKind = "block"
	lookupReceipts lookupKind = "receipts"
)

type cacheMetrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ethquery",
			Subsystem: "blockcache",
			Name:      "hits_total",
			Help:      "Cache lookups answered without provider I/O.",
		}, []string{"kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ethquery",
			Subsystem: "blockcache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to the provider.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses)
	}
	return m
}

func (m *cacheMetrics) observe(kind lookupKind, hit bool) {
	if hit {
		m.hits.WithLabelValues(string(kind)).Inc()
		return
	}
	m.misses.WithLabelValues(string(kind)).Inc()
}
