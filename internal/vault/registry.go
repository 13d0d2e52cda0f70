package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metadata/keys"
	"github.com/cloudkeep/checkerd/internal/metrics"
)

// Registry maps a resource_id to its resolved Vault for one instance.
// It is built once per InstanceChecker.Init call and never refreshed
// mid-scan; a vault added after Init is a failure for that run, not a
// terminal error, bounded by how often the instance is rescheduled.
type Registry struct {
	instanceID string
	byResource map[string]*Vault
}

// Build constructs the vault registry for an instance: one entry per legacy
// ObjInfo descriptor, plus one entry per storage_vault_key record found by a
// full-range KV scan. A malformed record or an accessor construction failure
// is fatal: a partial registry must not be used.
func Build(ctx context.Context, meta metadata.MetadataStore, instanceID string, legacyObjInfo []Descriptor, m *metrics.ObjectStoreMetrics) (*Registry, error) {
	r := &Registry{
		instanceID: instanceID,
		byResource: make(map[string]*Vault),
	}

	for i, d := range legacyObjInfo {
		if d.ID == "" {
			d.ID = fmt.Sprintf("legacy-%d", i)
		}
		v, err := BuildVault(ctx, d, m)
		if err != nil {
			return nil, fmt.Errorf("vault: init legacy vault %q: %w", d.ID, err)
		}
		r.byResource[v.ID] = v
	}

	begin := keys.StorageVaultPrefix(instanceID)
	end := keys.StorageVaultEndKey(instanceID)
	const pageSize = 256
	start := begin
	for {
		page, err := meta.List(ctx, start, end, pageSize)
		if err != nil {
			return nil, fmt.Errorf("vault: list vaults for %q: %w", instanceID, err)
		}
		for _, kv := range page {
			var d Descriptor
			if err := json.Unmarshal(kv.Value, &d); err != nil {
				return nil, fmt.Errorf("vault: unmarshal vault at %q: %w", kv.Key, err)
			}
			v, err := BuildVault(ctx, d, m)
			if err != nil {
				return nil, fmt.Errorf("vault: init vault %q: %w", d.ID, err)
			}
			r.byResource[v.ID] = v
		}
		if len(page) < pageSize {
			break
		}
		start = page[len(page)-1].Key + "\x00"
	}

	return r, nil
}

// NewRegistryForTesting builds a Registry directly from already-resolved
// vaults, bypassing Build's accessor construction. Lets checker/coordinator
// tests exercise reconciliation against a fake objectstore.Store without
// dialing a real S3 endpoint or HDFS NameNode.
func NewRegistryForTesting(instanceID string, vaults map[string]*Vault) *Registry {
	return &Registry{instanceID: instanceID, byResource: vaults}
}

// Lookup returns the vault for a resource_id, or false if unknown.
func (r *Registry) Lookup(resourceID string) (*Vault, bool) {
	v, ok := r.byResource[resourceID]
	return v, ok
}

// All returns every resolved vault keyed by resource_id, used by the
// inverted reconciliation pass which must visit every vault once.
func (r *Registry) All() map[string]*Vault {
	return r.byResource
}

// Len returns the number of resolved vaults, used in tests and logging.
func (r *Registry) Len() int {
	return len(r.byResource)
}
