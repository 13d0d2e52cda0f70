package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckerMetrics holds the per-instance and aggregate consistency-check
// gauges the coordinator and checker publish.
type CheckerMetrics struct {
	NumScanned            *prometheus.GaugeVec
	NumScannedWithSegment *prometheus.GaugeVec
	NumCheckFailed        *prometheus.GaugeVec
	InstanceVolume        *prometheus.GaugeVec
	CheckCostSeconds      *prometheus.GaugeVec
	EnqueueCostSeconds    *prometheus.GaugeVec
	LastSuccessTimeMs     *prometheus.GaugeVec
}

// NewCheckerMetrics creates and registers checker metrics with the default registry.
func NewCheckerMetrics() *CheckerMetrics {
	return newCheckerMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewCheckerMetricsWithRegistry creates checker metrics registered with a
// custom registry, used in tests to avoid colliding with the default registry.
func NewCheckerMetricsWithRegistry(reg prometheus.Registerer) *CheckerMetrics {
	return newCheckerMetrics(promauto.With(reg))
}

func newCheckerMetrics(f promauto.Factory) *CheckerMetrics {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "checker",
			Subsystem: "instance",
			Name:      name,
			Help:      help,
		}, []string{"instance_id"})
	}

	return &CheckerMetrics{
		NumScanned:            gauge("num_scanned", "Number of rowsets scanned in the most recent forward check."),
		NumScannedWithSegment: gauge("num_scanned_with_segment", "Number of scanned rowsets that claim at least one segment."),
		NumCheckFailed:        gauge("num_check_failed", "Number of check failures (malformed meta, missing objects, listing errors) in the most recent pass."),
		InstanceVolume:        gauge("instance_volume_bytes", "Total object bytes observed across tablet listings during the most recent pass."),
		CheckCostSeconds:      gauge("check_cost_seconds", "Wall-clock duration of the most recent full check pass."),
		EnqueueCostSeconds:    gauge("enqueue_cost_seconds", "Time an instance spent in the pending queue before a worker picked it up."),
		LastSuccessTimeMs:     gauge("last_success_time_ms", "Epoch millisecond timestamp of the instance's last successful check, mirrored from JobRecycle."),
	}
}

// RecordReport updates every per-instance gauge from one CheckReport.
func (m *CheckerMetrics) RecordReport(instanceID string, numScanned, numScannedWithSegment, numCheckFailed, instanceVolume int64, checkCostSeconds float64) {
	m.NumScanned.WithLabelValues(instanceID).Set(float64(numScanned))
	m.NumScannedWithSegment.WithLabelValues(instanceID).Set(float64(numScannedWithSegment))
	m.NumCheckFailed.WithLabelValues(instanceID).Set(float64(numCheckFailed))
	m.InstanceVolume.WithLabelValues(instanceID).Set(float64(instanceVolume))
	m.CheckCostSeconds.WithLabelValues(instanceID).Set(checkCostSeconds)
}

// RecordEnqueueCost records how long an instance waited in the pending queue.
func (m *CheckerMetrics) RecordEnqueueCost(instanceID string, seconds float64) {
	m.EnqueueCostSeconds.WithLabelValues(instanceID).Set(seconds)
}

// RecordLastSuccessTime mirrors JobRecycle.LastSuccessTimeMs into a gauge so
// the lifecycle alarm is visible to metrics-based alerting as well as logs.
func (m *CheckerMetrics) RecordLastSuccessTime(instanceID string, lastSuccessTimeMs int64) {
	m.LastSuccessTimeMs.WithLabelValues(instanceID).Set(float64(lastSuccessTimeMs))
}

// CheckerStatsProvider supplies the aggregate backlog counters the
// CheckerStatsScanner republishes on a fixed cadence, decoupling metric
// freshness from the coordinator's own event cadence.
type CheckerStatsProvider interface {
	// PendingQueueDepth returns the number of instances currently queued.
	PendingQueueDepth(ctx context.Context) (int, error)
	// WorkingSetSize returns the number of instances currently being checked.
	WorkingSetSize(ctx context.Context) (int, error)
}

// BacklogMetrics holds the coordinator-level gauges the scanner republishes.
type BacklogMetrics struct {
	PendingQueueDepth prometheus.Gauge
	WorkingSetSize    prometheus.Gauge
}

// NewBacklogMetrics creates and registers coordinator backlog metrics.
func NewBacklogMetrics() *BacklogMetrics {
	return newBacklogMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewBacklogMetricsWithRegistry creates backlog metrics on a custom registry.
func NewBacklogMetricsWithRegistry(reg prometheus.Registerer) *BacklogMetrics {
	return newBacklogMetrics(promauto.With(reg))
}

func newBacklogMetrics(f promauto.Factory) *BacklogMetrics {
	return &BacklogMetrics{
		PendingQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "checker",
			Subsystem: "coordinator",
			Name:      "pending_queue_depth",
			Help:      "Number of instances currently queued for a check.",
		}),
		WorkingSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "checker",
			Subsystem: "coordinator",
			Name:      "working_set_size",
			Help:      "Number of instances currently being checked by this replica.",
		}),
	}
}

// CheckerStatsScanner periodically polls a CheckerStatsProvider and
// republishes its counters as gauges, mirroring the reference system's
// GCBacklogScanner ticker-loop pattern.
type CheckerStatsScanner struct {
	metrics  *BacklogMetrics
	provider CheckerStatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCheckerStatsScanner creates a scanner that periodically updates backlog metrics.
func NewCheckerStatsScanner(metrics *BacklogMetrics, provider CheckerStatsProvider, interval time.Duration) *CheckerStatsScanner {
	return &CheckerStatsScanner{
		metrics:  metrics,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic backlog scanning.
func (s *CheckerStatsScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic backlog scanning.
func (s *CheckerStatsScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *CheckerStatsScanner) loop() {
	defer s.wg.Done()

	s.scanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *CheckerStatsScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if depth, err := s.provider.PendingQueueDepth(ctx); err != nil {
		slog.Warn("checker backlog scan failed", "provider", "pending_queue_depth", "error", err)
	} else {
		s.metrics.PendingQueueDepth.Set(float64(depth))
	}

	if size, err := s.provider.WorkingSetSize(ctx); err != nil {
		slog.Warn("checker backlog scan failed", "provider", "working_set_size", "error", err)
	} else {
		s.metrics.WorkingSetSize.Set(float64(size))
	}
}

// ScanOnce triggers a single scan and updates metrics. Useful for testing.
func (s *CheckerStatsScanner) ScanOnce() {
	s.scanOnce()
}
