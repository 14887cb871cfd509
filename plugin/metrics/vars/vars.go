// Package vars holds the process-wide Prometheus collectors shared by every
// plugin that reports metrics. It plays the same role as upstream CoreDNS's
// own plugin/metrics/vars package: a single place other plugins import so
// that "coredns_forward_max_concurrent_rejects_total" and friends are
// registered exactly once and incremented directly from the plugin that
// observes the event, without routing through the metrics plugin itself.
package vars

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the Prometheus metric namespace every collector below is
// registered under, matching spec.md §6's literal metric names.
const Namespace = "coredns"

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "dns_requests_total",
		Help:      "Counter of DNS requests made per zone, protocol and family.",
	}, []string{"family", "proto", "server", "type", "view", "zone"})

	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "dns_responses_total",
		Help:      "Counter of responses per zone, plugin and rcode.",
	}, []string{"plugin", "rcode", "server", "view", "zone"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "dns_request_duration_seconds",
		Buckets:   []float64{0.00025, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064, 0.128, 0.256, 0.512, 1, 2, 4, 8},
		Help:      "Histogram of the time (in seconds) each request took.",
	}, []string{"server", "zone", "view"})

	RequestSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "dns_request_size_bytes",
		Buckets:   []float64{0, 100, 200, 300, 400, 511, 1023, 2047, 4095, 8291, 16000, 32000, 48000, 64000},
		Help:      "Size of the incoming request in bytes.",
	}, []string{"proto", "server", "zone", "view"})

	ResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "dns_response_size_bytes",
		Buckets:   []float64{0, 100, 200, 300, 400, 511, 1023, 2047, 4095, 8291, 16000, 32000, 48000, 64000},
		Help:      "Size of the returned response in bytes.",
	}, []string{"proto", "server", "zone", "view"})

	CacheEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_entries",
		Help:      "The number of elements in the cache, split by cache table.",
	}, []string{"server", "type", "zone"})

	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_requests_total",
		Help:      "The count of cache requests.",
	}, []string{"server", "zone"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "The count of cache hits, by cache table.",
	}, []string{"server", "type", "zone"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "The count of cache misses.",
	}, []string{"server", "zone"})

	ProxyRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "proxy_request_duration_seconds",
		Buckets:   []float64{0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064, 0.128, 0.256, 0.512, 1, 2, 4},
		Help:      "Histogram of the time each proxy request took.",
	}, []string{"to", "rcode"})

	ProxyConnCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "proxy_conn_cache_hits_total",
		Help:      "Counter of connection cache hits per upstream.",
	}, []string{"to"})

	ProxyConnCacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "proxy_conn_cache_misses_total",
		Help:      "Counter of connection cache misses per upstream.",
	}, []string{"to"})

	ForwardMaxConcurrentRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "forward_max_concurrent_rejects_total",
		Help:      "Counter of the number of queries rejected because of concurrency limit.",
	})

	PluginEnabled = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "plugin_enabled",
		Help:      "A metric that indicates whether a plugin is enabled on a per server and zone basis.",
	}, []string{"server", "zone", "name"})

	BuildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "A metric with a constant value labeled by version and revision.",
	}, []string{"version", "revision", "goversion"})

	ReloadVersionInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "reload_version_info",
		Help:      "A metric with the config hash value of the currently active configuration, labeled by hash.",
	}, []string{"hash"})

	ReloadFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "reload_failed_total",
		Help:      "Counter of the number of failed rehashes or reloads of the configuration file.",
	})
)

// collectors lists every metric above so Register can range over them once
// instead of repeating each at both definition and registration sites.
var collectors = []prometheus.Collector{
	RequestsTotal, ResponsesTotal, RequestDuration, RequestSize, ResponseSize,
	CacheEntries, CacheRequestsTotal, CacheHitsTotal, CacheMissesTotal,
	ProxyRequestDuration, ProxyConnCacheHitsTotal, ProxyConnCacheMissesTotal,
	ForwardMaxConcurrentRejects, PluginEnabled, BuildInfo, ReloadVersionInfo, ReloadFailedTotal,
}

var registerOnce = map[prometheus.Registerer]bool{}

// Register idempotently registers every collector above with reg. Safe to
// call from more than one plugin's setup function, and across reloads: a
// collector already registered with reg is skipped rather than erroring.
func Register(reg *prometheus.Registry) {
	if registerOnce[reg] {
		return
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	registerOnce[reg] = true
}
