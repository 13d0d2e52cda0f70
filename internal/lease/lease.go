// Package lease implements the per-instance JobRecycle coordination record
// that gives one replica exclusive right to check an instance for a bounded
// time. Unlike the reference system's ephemeral-session locks, the lease
// here carries an explicit
// lease_expiration_ms field: ownership is a CAS on that field, not a
// property of the owning process's KV session, so a lease can be renewed
// and broken independently of connection liveness.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metadata/keys"
)

// Status is the lifecycle state of a JobRecycle record.
type Status string

const (
	StatusIdle Status = "IDLE"
	StatusBusy Status = "BUSY"
)

// JobRecycle is the coordination record for one instance's checker job,
// stored at keys.JobCheckKeyPath(instance_id).
type JobRecycle struct {
	InstanceID        string `json:"instanceId"`
	OwnerEndpoint     string `json:"ownerEndpoint"`
	LeaseExpirationMs int64  `json:"leaseExpirationMs"`
	Status            Status `json:"status"`
	LastCtimeMs       int64  `json:"lastCtimeMs"`
	LastSuccessTimeMs int64  `json:"lastSuccessTimeMs"`
}

// RenewResult is the three-way outcome of a lease renewal attempt.
type RenewResult int

const (
	// RenewExtended means the lease was successfully extended.
	RenewExtended RenewResult = iota
	// RenewLost means the lease is absent, owned by someone else, or was
	// rewritten between Renew's read and its conditional write: the caller
	// must stop the corresponding checker. Renew does not compare the
	// record's expiration with now, so an expired lease that this endpoint
	// still owns is extended rather than reported lost.
	RenewLost
	// RenewTransientError means the renewal attempt failed for a reason
	// that does not imply loss of ownership; the caller should retry next tick.
	RenewTransientError
)

// Manager acquires, renews, and releases JobRecycle leases on behalf of one
// replica, identified by ownerEndpoint.
type Manager struct {
	meta          metadata.MetadataStore
	ownerEndpoint string
}

// New constructs a lease Manager for one replica.
func New(meta metadata.MetadataStore, ownerEndpoint string) *Manager {
	return &Manager{meta: meta, ownerEndpoint: ownerEndpoint}
}

// Prepare installs a new
// JobRecycle owned by this endpoint with lease_expiration_ms = now +
// leaseDurationMs, succeeding only if no record exists, the existing record
// is expired, or the existing record is already owned by this endpoint.
// acquired is false (with nil error) when another replica currently owns
// an unexpired lease.
func (m *Manager) Prepare(ctx context.Context, instanceID string, leaseDurationMs int64, nowMs int64) (acquired bool, err error) {
	key := keys.JobCheckKeyPath(instanceID)

	result, err := m.meta.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lease: get job record for %q: %w", instanceID, err)
	}

	rec := JobRecycle{InstanceID: instanceID}
	expectedVersion := metadata.NoVersion
	if result.Exists {
		if err := json.Unmarshal(result.Value, &rec); err != nil {
			return false, fmt.Errorf("lease: unmarshal job record for %q: %w", instanceID, err)
		}
		if rec.OwnerEndpoint != m.ownerEndpoint && nowMs < rec.LeaseExpirationMs {
			return false, nil
		}
		expectedVersion = result.Version
	}

	rec.InstanceID = instanceID
	rec.OwnerEndpoint = m.ownerEndpoint
	rec.LeaseExpirationMs = nowMs + leaseDurationMs
	rec.Status = StatusBusy

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("lease: marshal job record for %q: %w", instanceID, err)
	}

	var putErr error
	if result.Exists {
		_, putErr = m.meta.Put(ctx, key, data, metadata.WithExpectedVersion(expectedVersion))
	} else {
		_, putErr = m.meta.Put(ctx, key, data, metadata.WithExpectedVersion(metadata.NoVersion))
	}
	if putErr != nil {
		if errors.Is(putErr, metadata.ErrVersionMismatch) {
			// Lost the race to another replica's concurrent Prepare.
			return false, nil
		}
		return false, fmt.Errorf("lease: put job record for %q: %w", instanceID, putErr)
	}

	return true, nil
}

// Renew extends the lease if this
// endpoint still owns it, and reports loss otherwise.
func (m *Manager) Renew(ctx context.Context, instanceID string, leaseDurationMs int64, nowMs int64) RenewResult {
	key := keys.JobCheckKeyPath(instanceID)

	result, err := m.meta.Get(ctx, key)
	if err != nil {
		return RenewTransientError
	}
	if !result.Exists {
		return RenewLost
	}

	var rec JobRecycle
	if err := json.Unmarshal(result.Value, &rec); err != nil {
		return RenewTransientError
	}
	if rec.OwnerEndpoint != m.ownerEndpoint {
		return RenewLost
	}

	rec.LeaseExpirationMs = nowMs + leaseDurationMs
	data, err := json.Marshal(rec)
	if err != nil {
		return RenewTransientError
	}

	if _, err := m.meta.Put(ctx, key, data, metadata.WithExpectedVersion(result.Version)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return RenewLost
		}
		return RenewTransientError
	}
	return RenewExtended
}

// Finish writes status=IDLE,
// clears the lease, sets last_ctime_ms, and on success also updates
// last_success_time_ms. Finish is a no-op (not an error) if the record no
// longer exists or is owned by someone else — the lease already moved on.
func (m *Manager) Finish(ctx context.Context, instanceID string, success bool, ctimeMs int64) error {
	key := keys.JobCheckKeyPath(instanceID)

	result, err := m.meta.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lease: get job record for %q: %w", instanceID, err)
	}
	if !result.Exists {
		return nil
	}

	var rec JobRecycle
	if err := json.Unmarshal(result.Value, &rec); err != nil {
		return fmt.Errorf("lease: unmarshal job record for %q: %w", instanceID, err)
	}
	if rec.OwnerEndpoint != m.ownerEndpoint {
		return nil
	}

	rec.Status = StatusIdle
	rec.LeaseExpirationMs = 0
	rec.LastCtimeMs = ctimeMs
	if success {
		rec.LastSuccessTimeMs = ctimeMs
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lease: marshal job record for %q: %w", instanceID, err)
	}

	_, err = m.meta.Put(ctx, key, data, metadata.WithExpectedVersion(result.Version))
	if err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			// Someone else's Prepare beat us to it; nothing more to do.
			return nil
		}
		return fmt.Errorf("lease: put job record for %q: %w", instanceID, err)
	}
	return nil
}

// Get reads the current JobRecycle record for an instance, used by
// LifecycleInspector to read last_ctime_ms. ok is false if no record exists.
func Get(ctx context.Context, meta metadata.MetadataStore, instanceID string) (rec JobRecycle, ok bool, err error) {
	result, err := meta.Get(ctx, keys.JobCheckKeyPath(instanceID))
	if err != nil {
		return JobRecycle{}, false, err
	}
	if !result.Exists {
		return JobRecycle{}, false, nil
	}
	if err := json.Unmarshal(result.Value, &rec); err != nil {
		return JobRecycle{}, false, err
	}
	return rec, true, nil
}

// NowMs returns the current wall-clock time in milliseconds. Prepare, Renew
// and Finish do not call it; they take the time as a parameter, which callers
// obtain from NowMs and tests supply as fixed values.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
