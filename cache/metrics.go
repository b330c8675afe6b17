package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	evictions     prometheus.Counter
	storageErrors *prometheus.CounterVec
}

// NewMetrics registers the counters for one named cache on reg.
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	labels := prometheus.Labels{"cache": name}
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baydir", Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups that returned a value.", ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baydir", Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that found nothing usable.", ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baydir", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries dropped to stay within max entries.", ConstLabels: labels,
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baydir", Subsystem: "cache", Name: "storage_errors_total",
			Help: "Persistent tier failures swallowed by the cache.", ConstLabels: labels,
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.storageErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) storageError(op Op) {
	if m != nil {
		m.storageErrors.WithLabelValues(string(op)).Inc()
	}
}
