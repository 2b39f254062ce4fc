package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// FixesIngested counts location submissions by outcome (ok, invalid, not_found, error)
	FixesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fixes_ingested_total", Help: "Location fix submissions by outcome."},
		[]string{"result"},
	)
	// FixDeriveDuration records time spent deriving and persisting one fix
	FixDeriveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "fix_derive_seconds", Help: "Fix derivation latency in seconds.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5}},
	)
	// Assignments counts handle assignment attempts by outcome (ok, already_assigned, exhausted, conflict, error)
	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "assignments_total", Help: "Device handle assignments by outcome."},
		[]string{"outcome"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// LiveClients gauges currently connected live-feed clients by transport (sse, ws)
	LiveClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "live_clients", Help: "Connected live feed clients."},
		[]string{"transport"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(FixesIngested)
		Registry.MustRegister(FixDeriveDuration)
		Registry.MustRegister(Assignments)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(LiveClients)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
