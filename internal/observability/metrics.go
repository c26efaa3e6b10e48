package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/q99/cloudservices/pkg/discovery"
)

var (
	metricsMu sync.Mutex

	// MetricsRegistry holds every collector exported on /metrics. Nil until
	// InitMetrics runs.
	MetricsRegistry *prometheus.Registry

	// DiscoveryMetrics are the discovery collectors registered on
	// MetricsRegistry.
	DiscoveryMetrics *discovery.Metrics
)

// InitMetrics creates the process registry with runtime collectors and the
// discovery metrics. Repeated calls return the existing registry.
func InitMetrics() (*prometheus.Registry, *discovery.Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if MetricsRegistry != nil {
		return MetricsRegistry, DiscoveryMetrics
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	MetricsRegistry = reg
	DiscoveryMetrics = discovery.NewMetrics(reg)
	return MetricsRegistry, DiscoveryMetrics
}
