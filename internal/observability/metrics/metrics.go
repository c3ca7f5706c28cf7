package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantfleet_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantfleet_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantfleet_provision_duration_seconds",
		Help:    "Duration of tenant provisioning runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"result"})

	cleanupSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantfleet_cleanup_steps_total",
		Help: "Count of teardown sub-steps by step name and result",
	}, []string{"step", "result"})

	deployedTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenantfleet_deployed_tenants",
		Help: "Number of registry rows with deployed=true",
	})

	orphanedResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tenantfleet_orphaned_resources",
		Help: "Resources present in one store with no counterpart in the others",
	}, []string{"kind"}) // kind: container, image, registry-row

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantfleet_webhook_events_total",
		Help: "Billing webhook events by outcome",
	}, []string{"outcome"}) // accepted, duplicate, locked, invalid
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveProvision records the duration of a provisioning run with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveCleanupStep increments the teardown counter for one sub-step.
func ObserveCleanupStep(step, result string) {
	cleanupSteps.WithLabelValues(step, result).Inc()
}

// SetDeployedTenants sets the deployed tenant gauge.
func SetDeployedTenants(count int) {
	if count < 0 {
		count = 0
	}
	deployedTenants.Set(float64(count))
}

// SetOrphaned sets the orphan gauge for one resource kind.
func SetOrphaned(kind string, count int) {
	if count < 0 {
		count = 0
	}
	orphanedResources.WithLabelValues(kind).Set(float64(count))
}

// ObserveWebhookEvent counts a billing webhook event by outcome.
func ObserveWebhookEvent(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}
