package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	fallbacks      prometheus.Counter
}

// NewMetrics registers all collectors on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaddox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "askmaddox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaddox_audio_cache_lookups_total",
				Help: "Audio cache lookups by result",
			},
			[]string{"result"},
		),
		providerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askmaddox_provider_errors_total",
				Help: "Upstream provider failures",
			},
			[]string{"provider"},
		),
		fallbacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "askmaddox_transcribe_fallbacks_total",
				Help: "Transcriptions answered by the fallback configuration",
			},
		),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// CacheLookup records a synthesis cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ProviderError records an upstream failure.
func (m *Metrics) ProviderError(provider string) {
	m.providerErrors.WithLabelValues(provider).Inc()
}

// TranscribeFallback records a transcript produced by the fallback request.
func (m *Metrics) TranscribeFallback() {
	m.fallbacks.Inc()
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
