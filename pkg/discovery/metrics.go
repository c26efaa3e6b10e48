package discovery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the discovery collectors. A nil *Metrics records nothing.
type Metrics struct {
	ObjectsListed   *prometheus.CounterVec
	ObjectsAccepted *prometheus.CounterVec
	ObjectsRejected *prometheus.CounterVec
	DigestBytes     *prometheus.CounterVec
	PassDuration    *prometheus.HistogramVec
	PassesTotal     *prometheus.CounterVec
}

// NewMetrics creates the discovery collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ObjectsListed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudservices_discovery_objects_listed_total",
				Help: "Total number of listing entries evaluated by discovery",
			},
			[]string{"provider"},
		),
		ObjectsAccepted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudservices_discovery_objects_accepted_total",
				Help: "Total number of objects accepted as newly discovered",
			},
			[]string{"provider"},
		),
		ObjectsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudservices_discovery_objects_rejected_total",
				Help: "Total number of objects rejected, by filter stage",
			},
			[]string{"provider", "reason"},
		),
		DigestBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudservices_discovery_digest_bytes_total",
				Help: "Total bytes read while computing content digests",
			},
			[]string{"provider"},
		),
		PassDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudservices_discovery_pass_duration_seconds",
				Help:    "Duration of discovery passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		PassesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudservices_discovery_passes_total",
				Help: "Total number of discovery passes by status",
			},
			[]string{"provider", "status"},
		),
	}
}

func (m *Metrics) observe(providerName string, stats Stats) {
	if m == nil {
		return
	}
	m.ObjectsListed.WithLabelValues(providerName).Add(float64(stats.Listed))
	m.ObjectsAccepted.WithLabelValues(providerName).Add(float64(stats.Accepted))
	for reason, n := range stats.Rejected {
		m.ObjectsRejected.WithLabelValues(providerName, string(reason)).Add(float64(n))
	}
	m.DigestBytes.WithLabelValues(providerName).Add(float64(stats.DigestedBytes))
	m.PassDuration.WithLabelValues(providerName).Observe(stats.Duration.Seconds())
	m.PassesTotal.WithLabelValues(providerName, "success").Inc()
}

func (m *Metrics) observeFailure(providerName string, d time.Duration) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(providerName).Observe(d.Seconds())
	m.PassesTotal.WithLabelValues(providerName, "error").Inc()
}
