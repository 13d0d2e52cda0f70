package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudkeep/checkerd/internal/logging"
	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metadata/keys"
	"github.com/cloudkeep/checkerd/internal/metrics"
	"github.com/cloudkeep/checkerd/internal/vault"
)

// ErrStopped is not returned by DoCheck or DoInvertedCheck: a checker that
// observes its stop flag reports ResultTerminal instead of an error.
var ErrStopped = errors.New("checker: stopped")

// listPageSize bounds one metadata List() call during a full-range scan.
const listPageSize = 512

// InstanceChecker performs forward and inverted reconciliation for a single
// instance. One InstanceChecker is constructed per scheduled check; it is not
// reused across instances.
type InstanceChecker struct {
	meta       metadata.MetadataStore
	instanceID string
	registry   *vault.Registry
	log        *logging.Logger
	objMetrics *metrics.ObjectStoreMetrics

	stop stopFlag

	cache tabletFileCache
}

// New constructs an InstanceChecker. Call Init before DoCheck/DoInvertedCheck.
// objMetrics may be nil, in which case the vaults resolved by Init record no
// object-store metrics.
func New(meta metadata.MetadataStore, instanceID string, log *logging.Logger, objMetrics *metrics.ObjectStoreMetrics) *InstanceChecker {
	return &InstanceChecker{
		meta:       meta,
		instanceID: instanceID,
		log:        log.With(map[string]any{"instanceId": instanceID}),
		objMetrics: objMetrics,
	}
}

// Init resolves the instance's storage vault registry. The registry is
// snapshotted once here and not refreshed mid-scan; a vault added after
// Init is a failure for this run, not a terminal error.
func (c *InstanceChecker) Init(ctx context.Context, legacyObjInfo []vault.Descriptor) error {
	reg, err := vault.Build(ctx, c.meta, c.instanceID, legacyObjInfo, c.objMetrics)
	if err != nil {
		return fmt.Errorf("checker: init registry for %q: %w", c.instanceID, err)
	}
	c.registry = reg
	return nil
}

// Stop requests cooperative early exit. Safe to call concurrently with a
// running DoCheck/DoInvertedCheck; observed at iteration boundaries.
func (c *InstanceChecker) Stop() {
	c.stop.Stop()
}

// Stopped reports whether Stop has been called.
func (c *InstanceChecker) Stopped() bool {
	return c.stop.Stopped()
}

// DoCheck performs the forward reconciliation pass: for every rowset of the
// instance, confirm every segment it claims is physically present in its
// vault.
func (c *InstanceChecker) DoCheck(ctx context.Context) (*CheckReport, error) {
	report := &CheckReport{InstanceID: c.instanceID}
	c.cache.reset()

	begin, end := keys.MetaRowsetScanRange(c.instanceID)
	start := begin
	truncated := false

scan:
	for {
		if c.stop.Stopped() {
			truncated = true
			break scan
		}

		page, err := c.meta.List(ctx, start, end, listPageSize)
		if err != nil {
			c.log.Errorf("forward check: list rowsets failed", map[string]any{"error": err})
			truncated = true
			break scan
		}

		for _, kv := range page {
			if c.stop.Stopped() {
				truncated = true
				break scan
			}
			c.checkOneRowset(ctx, kv.Key, kv.Value, report)
		}

		if len(page) < listPageSize {
			break
		}
		start = page[len(page)-1].Key + "\x00"
	}

	if truncated {
		report.ForwardResult = ResultTerminal
	} else if report.NumCheckFailed == 0 {
		report.ForwardResult = ResultOK
	} else {
		report.ForwardResult = ResultDiverged
	}
	return report, nil
}

func (c *InstanceChecker) checkOneRowset(ctx context.Context, key string, value []byte, report *CheckReport) {
	var rs RowsetMeta
	if err := json.Unmarshal(value, &rs); err != nil {
		c.log.Warnf("forward check: malformed rowset meta", map[string]any{"key": key, "error": err})
		report.NumCheckFailed++
		return
	}

	report.NumScanned++
	if rs.NumSegments == 0 {
		return
	}
	report.NumScannedWithSegment++

	if !c.cache.valid || c.cache.tabletID != rs.TabletID {
		if !c.refreshTabletCache(ctx, rs, report) {
			return
		}
	}

	for seg := 0; seg < rs.NumSegments; seg++ {
		if c.stop.Stopped() {
			return
		}
		path := c.cache.vault.SegmentPath(rs.TabletID, rs.RowsetIDV2, seg)
		if _, ok := c.cache.files[path]; ok {
			continue
		}
		c.resolveMiss(ctx, rs, key, path, report)
	}
}

func (c *InstanceChecker) refreshTabletCache(ctx context.Context, rs RowsetMeta, report *CheckReport) bool {
	c.cache.reset()

	v, ok := c.registry.Lookup(rs.ResourceID)
	if !ok {
		c.log.Warnf("forward check: unknown vault", map[string]any{"resourceId": rs.ResourceID, "tabletId": rs.TabletID})
		report.NumCheckFailed++
		return false
	}

	objs, err := v.Store.List(ctx, v.TabletPath(rs.TabletID))
	if err != nil {
		c.log.Warnf("forward check: list tablet failed", map[string]any{"tabletId": rs.TabletID, "error": err})
		report.NumCheckFailed++
		return false
	}

	files := make(map[string]struct{}, len(objs))
	for _, o := range objs {
		files[o.Key] = struct{}{}
		report.InstanceVolumeBytes += o.Size
	}

	c.cache.valid = true
	c.cache.tabletID = rs.TabletID
	c.cache.files = files
	c.cache.vault = v
	return true
}

// resolveMiss implements a race-safe re-read: a listing miss is only a
// real failure if the rowset KV entry still exists. If the rowset was
// deleted between the listing and this compare, it was a benign race.
func (c *InstanceChecker) resolveMiss(ctx context.Context, rs RowsetMeta, rowsetKey, path string, report *CheckReport) {
	result, err := c.meta.Get(ctx, rowsetKey)
	if err != nil {
		c.log.Warnf("forward check: re-read after miss failed", map[string]any{"key": rowsetKey, "error": err})
		report.NumCheckFailed++
		return
	}
	if !result.Exists {
		// Deleted between our listing and our compare: benign race, not a miss.
		return
	}

	c.log.Warnf("forward check: missing segment object", map[string]any{
		"path": path, "key": rowsetKey, "tabletId": rs.TabletID, "resourceId": rs.ResourceID,
	})
	report.NumCheckFailed++
	report.Missing = append(report.Missing, MissingObject{Path: path, Key: rowsetKey})
}
