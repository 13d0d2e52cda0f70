// Package instance defines the control-plane-owned tenant record that the
// checker reads but never writes.
package instance

import "github.com/cloudkeep/checkerd/internal/vault"

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusNormal  Status = "NORMAL"
	StatusDeleted Status = "DELETED"
)

// Info is the control-plane record for one tenant, read from
// keys.InstanceInfoKeyPath. The checker never writes this record.
type Info struct {
	InstanceID string `json:"instanceId"`
	Status     Status `json:"status"`
	CtimeMs    int64  `json:"ctimeMs"`

	// ObjInfo holds legacy vault descriptors embedded directly in the
	// instance record, predating the per-vault KV entries under
	// keys.StorageVaultPrefix. Both sources are merged by the registry.
	ObjInfo []vault.Descriptor `json:"objInfo,omitempty"`

	// ResourceIDs references named storage vaults stored separately under
	// keys.StorageVaultPrefix(instanceId).
	ResourceIDs []string `json:"resourceIds,omitempty"`
}

// IsDeleted reports whether the instance should be skipped by the scanner.
func (i Info) IsDeleted() bool {
	return i.Status == StatusDeleted
}
