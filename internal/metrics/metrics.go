// Package metrics holds the prometheus collectors shared by the chain client,
// the migration orchestrator, the transaction monitor and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultReverted = "reverted"
	ResultError    = "error"
)

var (
	// DeploymentsTotal counts contract creations by contract name and result.
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20kit_deployments_total",
			Help: "Total number of contract deployments",
		},
		[]string{"contract", "result"},
	)

	// TransactionsTotal counts submitted transactions by kind (deploy, call, ether, token) and result.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20kit_transactions_total",
			Help: "Total number of submitted transactions",
		},
		[]string{"kind", "result"},
	)

	// NonceRetriesTotal counts resubmissions after nonce collisions.
	NonceRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erc20kit_nonce_retries_total",
			Help: "Total number of transaction resubmissions caused by nonce errors",
		},
	)

	// RPCRetriesTotal counts retried JSON-RPC HTTP requests.
	RPCRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erc20kit_rpc_retries_total",
			Help: "Total number of retried JSON-RPC HTTP requests",
		},
	)

	// ConfirmationSeconds observes the time between submission and receipt.
	ConfirmationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erc20kit_confirmation_seconds",
			Help:    "Time from transaction submission to receipt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// MonitorEventsTotal counts transfers reported by the monitor, by asset and status.
	MonitorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20kit_monitor_events_total",
			Help: "Total number of transfers reported by the transaction monitor",
		},
		[]string{"asset", "status"},
	)

	// MigrationRunsTotal counts orchestrator runs by outcome.
	MigrationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20kit_migration_runs_total",
			Help: "Total number of deployment-and-verification runs",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts API requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20kit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes API request latency by method and route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erc20kit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
