// Package metrics exposes cache and mutation activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/mutation"
)

const namespace = "querysync"

// StatsSource reports coordinator counters.
type StatsSource interface {
	Stats() cache.Stats
}

// Metrics owns a registry with the cache collector and mutation counters.
type Metrics struct {
	Registry *prometheus.Registry

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	sessionEnds      prometheus.Counter
}

// New creates a registry. The cache collector is registered when source is
// non-nil.
func New(source StatsSource) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mutation",
				Name:      "submissions_total",
				Help:      "Total number of settled mutation submissions.",
			},
			[]string{"endpoint", "status"},
		),
		mutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mutation",
				Name:      "duration_seconds",
				Help:      "Duration of mutation submissions.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"endpoint"},
		),
		sessionEnds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "forced_logouts_total",
				Help:      "Sessions ended because the server rejected the token.",
			},
		),
	}

	m.Registry.MustRegister(m.mutations, m.mutationDuration, m.sessionEnds)
	if source != nil {
		m.Registry.MustRegister(NewCacheCollector(source))
	}
	return m
}

// ObserveMutation records a settled submission. It matches the signature of
// mutation.Options.OnSettled.
func (m *Metrics) ObserveMutation(rec mutation.Record) {
	m.mutations.WithLabelValues(rec.Endpoint, string(rec.Status)).Inc()
	if !rec.StartedAt.IsZero() && !rec.FinishedAt.IsZero() {
		m.mutationDuration.WithLabelValues(rec.Endpoint).Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	}
}

// ObserveForcedLogout records a session ended by a 401.
func (m *Metrics) ObserveForcedLogout() {
	m.sessionEnds.Inc()
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// CacheCollector turns coordinator Stats into metrics at scrape time.
type CacheCollector struct {
	source StatsSource

	lookups       *prometheus.Desc
	fetches       *prometheus.Desc
	deduplicated  *prometheus.Desc
	invalidations *prometheus.Desc
	superseded    *prometheus.Desc
	failures      *prometheus.Desc
	revived       *prometheus.Desc
	evicted       *prometheus.Desc
	active        *prometheus.Desc
}

// NewCacheCollector creates a collector reading from source.
func NewCacheCollector(source StatsSource) *CacheCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &CacheCollector{
		source:        source,
		lookups:       desc("lookups_total", "Query lookups by outcome.", "result"),
		fetches:       desc("fetches_total", "Network fetches started."),
		deduplicated:  desc("deduplicated_total", "Lookups that joined an in-flight fetch."),
		invalidations: desc("invalidations_total", "Entries marked stale by tag invalidation."),
		superseded:    desc("superseded_total", "Fetches whose response was discarded for a newer one."),
		failures:      desc("failures_total", "Fetches that ended rejected."),
		revived:       desc("idle_revived_total", "Entries restored from the idle pool."),
		evicted:       desc("idle_evictions_total", "Evictions reported by the idle pool."),
		active:        desc("active_entries", "Entries with at least one subscriber or fetch."),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.fetches
	ch <- c.deduplicated
	ch <- c.invalidations
	ch <- c.superseded
	ch <- c.failures
	ch <- c.revived
	ch <- c.evicted
	ch <- c.active
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.lookups, s.Hits, "hit")
	counter(c.lookups, s.Misses, "miss")
	counter(c.fetches, s.Fetches)
	counter(c.deduplicated, s.Deduplicated)
	counter(c.invalidations, s.Invalidations)
	counter(c.superseded, s.Superseded)
	counter(c.failures, s.Failures)
	counter(c.revived, s.IdleRevived)
	counter(c.evicted, s.IdleEvictions)
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveEntries))
}
