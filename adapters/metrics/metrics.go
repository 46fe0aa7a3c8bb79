// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conduit"

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	// RPC metrics
	RPCLatency  *prometheus.HistogramVec
	RPCStatuses *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Registry metrics
	RegistryRebuilds *prometheus.CounterVec
	RegisteredRoutes *prometheus.GaugeVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grpc_request_latency_seconds",
				Help:      "Latency of calls handled through the RPC envelope",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"function", "kind"},
		),
		RPCStatuses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grpc_response_statuses_total",
				Help:      "Outcome of calls handled through the RPC envelope",
			},
			[]string{"function", "kind", "status"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Response cache hits by route",
			},
			[]string{"route"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Response cache misses by route",
			},
			[]string{"route"},
		),
		RegistryRebuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_rebuilds_total",
				Help:      "Rebuild broadcasts per protocol controller",
			},
			[]string{"controller"},
		),
		RegisteredRoutes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_routes",
				Help:      "Routes in the last rebuilt snapshot per protocol controller",
			},
			[]string{"controller"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
	}
}

// RPCObserved implements ports.Metrics.
func (c *Collector) RPCObserved(function, kind, status string, d time.Duration) {
	c.RPCLatency.WithLabelValues(function, kind).Observe(d.Seconds())
	c.RPCStatuses.WithLabelValues(function, kind, status).Inc()
}

// CacheLookup implements ports.Metrics.
func (c *Collector) CacheLookup(routeKey string, hit bool) {
	if hit {
		c.CacheHits.WithLabelValues(routeKey).Inc()
		return
	}
	c.CacheMisses.WithLabelValues(routeKey).Inc()
}

// RegistryRebuilt implements ports.Metrics.
func (c *Collector) RegistryRebuilt(controller string, routes int) {
	c.RegistryRebuilds.WithLabelValues(controller).Inc()
	c.RegisteredRoutes.WithLabelValues(controller).Set(float64(routes))
}

// ConfigReloaded records the outcome of a config reload.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
}
