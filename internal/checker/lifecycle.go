package checker

import (
	"context"

	"github.com/cloudkeep/checkerd/internal/instance"
	"github.com/cloudkeep/checkerd/internal/lease"
	"github.com/cloudkeep/checkerd/internal/logging"
	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metrics"
	"github.com/cloudkeep/checkerd/internal/vault"
)

// msPerDay converts a day count to milliseconds.
const msPerDay = 24 * 60 * 60 * 1000

// lifecycleSentinel marks "no S3 vault, skip this instance".
const lifecycleSentinel = -1

// LifecycleInspector is a pure alarm: it never writes state. It emits a
// WARNING log when an instance's last checked time has fallen behind its
// storage vaults' object-expiration window, and records the instance's
// last-success gauge on every inspection of an instance with an S3 vault.
type LifecycleInspector struct {
	meta               metadata.MetadataStore
	log                *logging.Logger
	metrics            *metrics.CheckerMetrics
	reservedBufferDays int64
}

// NewLifecycleInspector constructs a LifecycleInspector.
func NewLifecycleInspector(meta metadata.MetadataStore, log *logging.Logger, m *metrics.CheckerMetrics, reservedBufferDays int64) *LifecycleInspector {
	return &LifecycleInspector{
		meta:               meta,
		log:                log,
		metrics:            m,
		reservedBufferDays: reservedBufferDays,
	}
}

// DoInspect runs the per-instance lifecycle check: an instance whose last
// checked/succeeded time has fallen too far behind its storage vaults'
// object-expiration window gets one WARNING log.
func (li *LifecycleInspector) DoInspect(ctx context.Context, info instance.Info, reg *vault.Registry, nowMs int64) error {
	if info.IsDeleted() {
		return nil
	}

	lifetimeDays, ok := minS3LifecycleDays(ctx, reg)
	if !ok {
		return nil
	}

	var expirationDays int64
	if lifetimeDays > li.reservedBufferDays {
		expirationDays = lifetimeDays - li.reservedBufferDays
	} else {
		expirationDays = lifetimeDays
	}
	expirationMs := expirationDays * msPerDay

	lastCtimeMs := info.CtimeMs
	rec, found, err := lease.Get(ctx, li.meta, info.InstanceID)
	if err != nil {
		return err
	}
	if found && rec.LastCtimeMs > 0 {
		lastCtimeMs = rec.LastCtimeMs
	}

	if li.metrics != nil {
		li.metrics.RecordLastSuccessTime(info.InstanceID, rec.LastSuccessTimeMs)
	}

	if nowMs-lastCtimeMs >= expirationMs {
		li.log.Warnf("lifecycle inspector: instance check is overdue relative to object expiration", map[string]any{
			"instanceId":   info.InstanceID,
			"lastCtimeMs":  lastCtimeMs,
			"expirationMs": expirationMs,
			"lifetimeDays": lifetimeDays,
		})
	}
	return nil
}

// minS3LifecycleDays returns the minimum lifecycle-days setting across every
// S3 vault in the registry. ok is false when the registry has no S3 vault
// (the inspector has nothing to compare against and must skip the instance).
func minS3LifecycleDays(ctx context.Context, reg *vault.Registry) (days int64, ok bool) {
	min := int64(lifecycleSentinel)
	for _, v := range reg.All() {
		if v.Type != vault.TypeS3 || v.Lifecycle == nil {
			continue
		}
		d, has, err := v.Lifecycle.GetLifecycleDays(ctx)
		if err != nil || !has {
			continue
		}
		if min == lifecycleSentinel || d < min {
			min = d
		}
	}
	if min == lifecycleSentinel {
		return 0, false
	}
	return min, true
}
