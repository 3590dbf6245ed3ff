// Package telemetry provides application-level observability for the manifest gateway.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<OMPG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Release publish and deletion counters per organization
//   - Extracted archive size histogram
//   - Policy gate rejection counter
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v2/:organization/zipfile)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as repository names or version strings.
//
// # Usage
//
// Import the package to register the metrics before the HTTP server starts listening,
// then use the exported vars directly:
//
//	telemetry.PushesTotal.WithLabelValues(org, "archive", "success").Inc()
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v2/:organization/koji/:nvr),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
// Pushes routinely take seconds because they download build archives and talk to the
// registry, so the upper buckets matter here.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Release lifecycle metrics — recorded by the publish/delete orchestrator.
//
// PushesTotal is a CounterVec with labels {organization, source, outcome} incremented
// once per publish attempt.  "source" is either "archive" (direct zip upload) or
// "build" (fetched from the build system); "outcome" is "success" or "failure".
//
// Example PromQL queries:
//   - Push failure rate:        sum(rate(pushes_total{outcome="failure"}[1h])) / sum(rate(pushes_total[1h]))
//   - Busiest organizations:    topk(5, sum by (organization) (pushes_total))
//
// ReleasesDeletedTotal is a CounterVec with label {organization} incremented once
// per release version actually removed from the registry.
var (
	PushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushes_total",
			Help: "Total number of release publish attempts, by organization, manifest source, and outcome.",
		},
		[]string{"organization", "source", "outcome"},
	)

	ReleasesDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releases_deleted_total",
			Help: "Total number of release versions deleted from the registry, by organization.",
		},
		[]string{"organization"},
	)
)

// ExtractedArchiveBytes is a Histogram of the total uncompressed size of accepted
// manifest archives.  Observations near the configured ceiling suggest the limit
// needs revisiting before uploads start getting rejected.
//
// Example PromQL queries:
//   - p95 archive size:  histogram_quantile(0.95, rate(extracted_archive_bytes_bucket[24h]))
var ExtractedArchiveBytes = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "extracted_archive_bytes",
		Help:    "Uncompressed size in bytes of manifest archives accepted for publishing.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	},
)

// PolicyGateRejectionsTotal is a CounterVec with label {organization} incremented
// whenever the release policy gate refuses a build.  A sustained non-zero rate for
// an organization usually means its gating policy and its build pipeline disagree.
//
// Example PromQL queries:
//   - Rejections by organization:  sum by (organization) (rate(policy_gate_rejections_total[1h]))
var PolicyGateRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "policy_gate_rejections_total",
		Help: "Total number of builds rejected by the release policy gate, by organization.",
	},
	[]string{"organization"},
)
