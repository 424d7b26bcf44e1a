// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the registry served by the HTTP handler. A dedicated
	// registry keeps tests from colliding with the global default.
	Registry = prometheus.NewRegistry()

	// GatewayRequests counts PPSR gateway calls by operation and outcome.
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carverify_gateway_requests_total",
			Help: "PPSR gateway calls by operation and outcome.",
		},
		[]string{"op", "outcome"}, // op: token/vin/search/certificate; outcome: ok/not_ready/error
	)

	// PollAttempts records how many attempts a poll needed before it settled.
	PollAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carverify_poll_attempts",
			Help:    "Attempts used by the certificate poller before success or failure.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
		[]string{"op", "result"},
	)

	// Workflows counts finished acquisition workflows by result.
	Workflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carverify_workflows_total",
			Help: "Report acquisition workflows by result.",
		},
		[]string{"result"},
	)

	// WorkflowDuration is the wall time of an acquisition workflow.
	WorkflowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carverify_workflow_duration_seconds",
			Help:    "Duration of report acquisition workflows.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
	)

	// MaintenanceBlocks counts requests rejected by the maintenance window.
	MaintenanceBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carverify_maintenance_blocks_total",
			Help: "Requests rejected during the PPSR maintenance window.",
		},
		[]string{"route"},
	)

	// Deliveries counts report emails by outcome.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carverify_deliveries_total",
			Help: "Report email deliveries by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		GatewayRequests,
		PollAttempts,
		Workflows,
		WorkflowDuration,
		MaintenanceBlocks,
		Deliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
