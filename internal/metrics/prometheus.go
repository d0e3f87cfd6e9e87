package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports Recorder events as Prometheus metrics.
type PrometheusRecorder struct {
	registrations   *prometheus.CounterVec
	authentications *prometheus.CounterVec
	authCacheHits   prometheus.Counter
	scanCandidates  prometheus.Histogram
	scanDuration    prometheus.Histogram
}

// NewPrometheus creates a PrometheusRecorder and registers it with reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_authentications_total",
			Help: "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		authCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygate_auth_cache_hits_total",
			Help: "Authentications answered from the auth cache.",
		}),
		scanCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_auth_scan_candidates",
			Help:    "Active users examined per authentication scan.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_auth_scan_duration_seconds",
			Help:    "Duration of the authentication scan.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		p.registrations,
		p.authentications,
		p.authCacheHits,
		p.scanCandidates,
		p.scanDuration,
	)

	return p
}

// IncRegistration counts a registration attempt by outcome.
func (p *PrometheusRecorder) IncRegistration(outcome string) {
	p.registrations.WithLabelValues(outcome).Inc()
}

// IncAuthentication counts an authentication attempt by outcome.
func (p *PrometheusRecorder) IncAuthentication(outcome string) {
	p.authentications.WithLabelValues(outcome).Inc()
}

// IncAuthCacheHit counts a cache hit.
func (p *PrometheusRecorder) IncAuthCacheHit() {
	p.authCacheHits.Inc()
}

// ObserveAuthScan records the size and duration of one scan.
func (p *PrometheusRecorder) ObserveAuthScan(candidates int, duration time.Duration) {
	p.scanCandidates.Observe(float64(candidates))
	p.scanDuration.Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
