// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the checker's operations, including:
//   - Per-instance check counters (num_scanned, num_scanned_with_segment, num_check_failed)
//   - Per-instance observed object volume and check/enqueue latency
//   - Coordinator-level backlog gauges (pending queue depth, working set size)
//   - Metadata store and object store client instrumentation
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	// Create and register metrics
//	checkerMetrics := metrics.NewCheckerMetrics()
//	backlogMetrics := metrics.NewBacklogMetrics()
//
//	// Wire into the coordinator and checkers
//	coord := coordinator.New(cfg, meta, log, checkerMetrics, objMetrics)
//	scanner := metrics.NewCheckerStatsScanner(backlogMetrics, coord, 30*time.Second)
//	scanner.Start()
//
//	// Start metrics server
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values shared across operation metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
