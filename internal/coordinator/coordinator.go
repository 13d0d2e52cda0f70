// Package coordinator implements CheckerCoordinator: the per-replica worker
// pool, pending queue, and working set that ties together the vault
// registry, InstanceChecker, LeaseManager, and LifecycleInspector into one
// running daemon.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cloudkeep/checkerd/internal/checker"
	"github.com/cloudkeep/checkerd/internal/instance"
	"github.com/cloudkeep/checkerd/internal/lease"
	"github.com/cloudkeep/checkerd/internal/logging"
	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metrics"
	"github.com/cloudkeep/checkerd/internal/vault"
)

// Config holds every tunable the coordinator itself consumes.
type Config struct {
	OwnerEndpoint         string
	Concurrency           int
	CheckObjectIntervalMs int64
	LeaseExpiredMs        int64
	ReservedBufferDays    int64
	EnableInvertedCheck   bool
}

type pendingItem struct {
	info          instance.Info
	enqueueTimeMs int64
}

// Coordinator owns the pending queue, working map, worker pool, and the
// lease-renewal and lifecycle-inspection service goroutines.
type Coordinator struct {
	cfg        Config
	meta       metadata.MetadataStore
	log        *logging.Logger
	leaseM     *lease.Manager
	metrics    *metrics.CheckerMetrics
	objMetrics *metrics.ObjectStoreMetrics

	mu          sync.Mutex
	pendingList []pendingItem
	pendingMap  map[string]int64
	workingMap  map[string]*checker.InstanceChecker
	stopped     bool
	notEmpty    *sync.Cond

	wg sync.WaitGroup

	leaseStopCh chan struct{}
	leaseDoneCh chan struct{}
	inspStopCh  chan struct{}
	inspDoneCh  chan struct{}
}

// New constructs a Coordinator. Call Start to launch its goroutines.
func New(cfg Config, meta metadata.MetadataStore, log *logging.Logger, m *metrics.CheckerMetrics, objMetrics *metrics.ObjectStoreMetrics) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		meta:        meta,
		log:         log,
		leaseM:      lease.New(meta, cfg.OwnerEndpoint),
		metrics:     m,
		objMetrics:  objMetrics,
		pendingMap:  make(map[string]int64),
		workingMap:  make(map[string]*checker.InstanceChecker),
		leaseStopCh: make(chan struct{}),
		leaseDoneCh: make(chan struct{}),
		inspStopCh:  make(chan struct{}),
		inspDoneCh:  make(chan struct{}),
	}
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// Enqueue implements scanner.Enqueuer: it inserts an instance into the
// pending queue if (and only if) it is not already queued, deduplicating
// against already-pending instance IDs.
func (c *Coordinator) Enqueue(info instance.Info, enqueueTimeMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pendingMap[info.InstanceID]; ok {
		return false
	}
	c.pendingMap[info.InstanceID] = enqueueTimeMs
	c.pendingList = append(c.pendingList, pendingItem{info: info, enqueueTimeMs: enqueueTimeMs})
	c.notEmpty.Signal()
	return true
}

// PendingQueueDepth implements metrics.CheckerStatsProvider.
func (c *Coordinator) PendingQueueDepth(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingList), nil
}

// WorkingSetSize implements metrics.CheckerStatsProvider.
func (c *Coordinator) WorkingSetSize(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workingMap), nil
}

// Start launches N worker goroutines plus the lease-renewal service
// goroutine. The lifecycle inspector and scanner are started separately by
// the caller (cmd/checkerd) since they need instance enumeration that the
// coordinator itself does not own.
func (c *Coordinator) Start() {
	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
	go c.leaseLoop()
}

// Stop sets stopped, wakes every waiter, stops every in-flight
// InstanceChecker, then joins the worker pool.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	for _, ic := range c.workingMap {
		ic.Stop()
	}
	c.notEmpty.Broadcast()
	c.mu.Unlock()

	close(c.leaseStopCh)
	<-c.leaseDoneCh

	c.wg.Wait()
}

func (c *Coordinator) workerLoop() {
	defer c.wg.Done()
	for {
		item, ok := c.popPending()
		if !ok {
			return
		}
		c.runOne(item)
	}
}

// popPending blocks until the queue is non-empty or the coordinator is
// stopped.
func (c *Coordinator) popPending() (pendingItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pendingList) == 0 && !c.stopped {
		c.notEmpty.Wait()
	}
	if c.stopped && len(c.pendingList) == 0 {
		return pendingItem{}, false
	}

	item := c.pendingList[0]
	c.pendingList = c.pendingList[1:]
	delete(c.pendingMap, item.info.InstanceID)
	return item, true
}

func (c *Coordinator) runOne(item pendingItem) {
	instanceID := item.info.InstanceID

	c.mu.Lock()
	if _, already := c.workingMap[instanceID]; already {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx := context.Background()

	ic := checker.New(c.meta, instanceID, c.log, c.objMetrics)
	if err := ic.Init(ctx, item.info.ObjInfo); err != nil {
		c.log.Warnf("coordinator: init checker failed", map[string]any{"instanceId": instanceID, "error": err})
		return
	}

	acquired, err := c.leaseM.Prepare(ctx, instanceID, c.cfg.CheckObjectIntervalMs, lease.NowMs())
	if err != nil {
		c.log.Warnf("coordinator: prepare lease failed", map[string]any{"instanceId": instanceID, "error": err})
		return
	}
	if !acquired {
		return
	}

	c.mu.Lock()
	c.workingMap[instanceID] = ic
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.workingMap, instanceID)
		c.mu.Unlock()
	}()

	if c.metrics != nil {
		c.metrics.RecordEnqueueCost(instanceID, float64(lease.NowMs()-item.enqueueTimeMs)/1000)
	}

	startedMs := lease.NowMs()
	report, err := ic.DoCheck(ctx)
	if err != nil {
		c.log.Errorf("coordinator: forward check failed", map[string]any{"instanceId": instanceID, "error": err})
		return
	}

	result := report.ForwardResult
	if c.cfg.EnableInvertedCheck && result != checker.ResultTerminal {
		invReport, err := ic.DoInvertedCheck(ctx)
		if err != nil || invReport.InvertedResult != checker.ResultOK {
			result = checker.ResultTerminal
		}
	}

	checkCostSeconds := float64(lease.NowMs()-startedMs) / 1000
	if c.metrics != nil {
		c.metrics.RecordReport(instanceID, report.NumScanned, report.NumScannedWithSegment, report.NumCheckFailed, report.InstanceVolumeBytes, checkCostSeconds)
	}

	if result == checker.ResultTerminal {
		// The lease is allowed to expire so another replica can retry;
		// calling Finish here would prematurely release it to a replica
		// that has not actually completed the pass.
		return
	}

	if ic.Stopped() {
		// Externally stopped (lease loss): exit without finalizing.
		return
	}

	if err := c.leaseM.Finish(ctx, instanceID, result == checker.ResultOK, lease.NowMs()); err != nil {
		c.log.Warnf("coordinator: finish lease failed", map[string]any{"instanceId": instanceID, "error": err})
	}
}

// leaseLoop is the LeaseManager service goroutine: every
// lease_expired_ms/3, snapshot working_map keys and renew each lease,
// signaling Stop() on any InstanceChecker whose lease was lost.
func (c *Coordinator) leaseLoop() {
	defer close(c.leaseDoneCh)

	interval := time.Duration(c.cfg.LeaseExpiredMs/3) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.leaseStopCh:
			return
		case <-ticker.C:
			c.renewAll()
		}
	}
}

func (c *Coordinator) renewAll() {
	c.mu.Lock()
	snapshot := make(map[string]*checker.InstanceChecker, len(c.workingMap))
	for id, ic := range c.workingMap {
		snapshot[id] = ic
	}
	c.mu.Unlock()

	ctx := context.Background()
	nowMs := lease.NowMs()
	for instanceID, ic := range snapshot {
		switch c.leaseM.Renew(ctx, instanceID, c.cfg.LeaseExpiredMs, nowMs) {
		case lease.RenewLost:
			c.log.Warnf("coordinator: lease lost, stopping checker", map[string]any{"instanceId": instanceID})
			ic.Stop()
		case lease.RenewTransientError:
			// leave the checker running, next tick retries.
		}
	}
}

// StartLifecycleInspection runs a LifecycleInspector in a service goroutine
// on the given interval. It is separate from Start because it needs access
// to each instance's registry, which the coordinator does not retain after
// a checker finishes.
func (c *Coordinator) StartLifecycleInspection(inspector *checker.LifecycleInspector, instances func(ctx context.Context) ([]instance.Info, error), registryFor func(ctx context.Context, info instance.Info) (*vault.Registry, error), interval time.Duration) {
	go func() {
		defer close(c.inspDoneCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			infos, err := instances(ctx)
			if err != nil {
				c.log.Warnf("coordinator: list instances for lifecycle inspection failed", map[string]any{"error": err})
				return
			}
			nowMs := lease.NowMs()
			for _, info := range infos {
				reg, err := registryFor(ctx, info)
				if err != nil {
					c.log.Warnf("coordinator: build registry for lifecycle inspection failed", map[string]any{"instanceId": info.InstanceID, "error": err})
					continue
				}
				if err := inspector.DoInspect(ctx, info, reg, nowMs); err != nil {
					c.log.Warnf("coordinator: lifecycle inspection failed", map[string]any{"instanceId": info.InstanceID, "error": err})
				}
			}
		}

		run()
		for {
			select {
			case <-c.inspStopCh:
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// StopLifecycleInspection stops the lifecycle inspection service goroutine
// started by StartLifecycleInspection.
func (c *Coordinator) StopLifecycleInspection() {
	close(c.inspStopCh)
	<-c.inspDoneCh
}
