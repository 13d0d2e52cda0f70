// Package keys provides key encoding/decoding for the checker's keyspace.
// Keys use zero-padded numeric encoding for lexicographic ordering, so that
// a single metadata store range scan visits tablets and rowset versions in
// ascending numeric order.
//
// Layout:
//
//	/checker/v1/instances/<instanceId>/info
//	/checker/v1/instances/<instanceId>/vault/<vaultId>
//	/checker/v1/instances/<instanceId>/meta/rowset/<tabletIdZ>/<versionZ>
//	/checker/v1/jobs/check/<instanceId>
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Key component widths for zero-padded encoding.
const (
	// TabletIDWidth is the number of digits for zero-padded tablet IDs.
	// Width 20 is well beyond the max int64 value (9223372036854775807).
	TabletIDWidth = 20

	// VersionWidth is the number of digits for zero-padded rowset versions.
	VersionWidth = 20
)

// Key prefixes.
const (
	// Prefix is the root prefix for all checker keys.
	Prefix = "/checker/v1"

	// InstancesPrefix is the prefix for per-instance keys.
	InstancesPrefix = Prefix + "/instances"

	// JobsCheckPrefix is the prefix for per-instance job-recycle records.
	JobsCheckPrefix = Prefix + "/jobs/check"
)

// Common errors.
var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")

	// ErrInvalidTabletID is returned when a tablet ID value is negative.
	ErrInvalidTabletID = errors.New("keys: tablet id must be non-negative")

	// ErrInvalidVersion is returned when a rowset version value is negative.
	ErrInvalidVersion = errors.New("keys: version must be non-negative")
)

// EncodeUint64 encodes an unsigned 64-bit integer as a zero-padded
// decimal string of the specified width for lexicographic ordering.
func EncodeUint64(v uint64, width int) string {
	return fmt.Sprintf("%0*d", width, v)
}

// DecodeUint64 decodes a zero-padded decimal string back to uint64.
// Leading zeros are handled correctly by strconv.ParseUint.
func DecodeUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// EncodeInt64 encodes a signed 64-bit integer as a zero-padded
// decimal string. Negative values are not supported and return an error.
func EncodeInt64(v int64, width int) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("keys: negative value %d not supported", v)
	}
	return fmt.Sprintf("%0*d", width, v), nil
}

// DecodeInt64 decodes a zero-padded decimal string back to int64.
func DecodeInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// =============================================================================
// Instance keys
// =============================================================================

// InstanceInfoKeyPath returns the key for an instance's control-plane record.
// Format: /checker/v1/instances/<instanceId>/info
func InstanceInfoKeyPath(instanceID string) string {
	return fmt.Sprintf("%s/%s/info", InstancesPrefix, instanceID)
}

// InstanceInfoPrefix returns the prefix for listing every instance's info record.
func InstanceInfoPrefix() string {
	return InstancesPrefix + "/"
}

// ParseInstanceInfoKey extracts the instance ID from an instance info key.
func ParseInstanceInfoKey(key string) (instanceID string, err error) {
	prefix := InstancesPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "info" {
		return "", ErrInvalidKey
	}
	return parts[0], nil
}

// =============================================================================
// Storage vault keys
// =============================================================================

// StorageVaultKeyPath returns the key for one storage vault descriptor.
// Format: /checker/v1/instances/<instanceId>/vault/<vaultId>
func StorageVaultKeyPath(instanceID, vaultID string) string {
	return fmt.Sprintf("%s/%s/vault/%s", InstancesPrefix, instanceID, vaultID)
}

// StorageVaultPrefix returns the prefix for listing all vaults of an instance.
func StorageVaultPrefix(instanceID string) string {
	return fmt.Sprintf("%s/%s/vault/", InstancesPrefix, instanceID)
}

// StorageVaultEndKey returns the exclusive end of the vault range for an instance.
func StorageVaultEndKey(instanceID string) string {
	return fmt.Sprintf("%s/%s/vault0", InstancesPrefix, instanceID)
}

// ParseStorageVaultKey extracts the instance and vault IDs from a vault key.
func ParseStorageVaultKey(key string) (instanceID, vaultID string, err error) {
	prefix := InstancesPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", "", ErrInvalidKey
	}
	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/vault/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[0], parts[1], nil
}

// =============================================================================
// Rowset meta keys, read by the forward and inverted reconciliation passes.
// =============================================================================

// MetaRowsetKeyPath returns the key for one rowset's metadata.
// Format: /checker/v1/instances/<instanceId>/meta/rowset/<tabletIdZ>/<versionZ>
func MetaRowsetKeyPath(instanceID string, tabletID, version int64) (string, error) {
	if tabletID < 0 {
		return "", ErrInvalidTabletID
	}
	if version < 0 {
		return "", ErrInvalidVersion
	}
	tabletZ := EncodeUint64(uint64(tabletID), TabletIDWidth)
	versionZ := EncodeUint64(uint64(version), VersionWidth)
	return fmt.Sprintf("%s/%s/meta/rowset/%s/%s", InstancesPrefix, instanceID, tabletZ, versionZ), nil
}

// MetaRowsetScanRange returns [begin, end) covering every rowset of an instance,
// in tablet-id ascending order, suitable for a full-range scan.
func MetaRowsetScanRange(instanceID string) (begin, end string) {
	base := fmt.Sprintf("%s/%s/meta/rowset/", InstancesPrefix, instanceID)
	return base, base + "\xff"
}

// MetaRowsetTabletPrefix returns the prefix covering every rowset version of one tablet.
func MetaRowsetTabletPrefix(instanceID string, tabletID int64) (string, error) {
	if tabletID < 0 {
		return "", ErrInvalidTabletID
	}
	tabletZ := EncodeUint64(uint64(tabletID), TabletIDWidth)
	return fmt.Sprintf("%s/%s/meta/rowset/%s/", InstancesPrefix, instanceID, tabletZ), nil
}

// ParseMetaRowsetKey extracts the instance, tablet ID and version from a rowset key.
func ParseMetaRowsetKey(key string) (instanceID string, tabletID, version int64, err error) {
	prefix := InstancesPrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", 0, 0, ErrInvalidKey
	}
	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/meta/rowset/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, 0, ErrInvalidKey
	}
	tail := strings.Split(parts[1], "/")
	if len(tail) != 2 {
		return "", 0, 0, ErrInvalidKey
	}
	t, err := DecodeUint64(tail[0])
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: invalid tablet id: %v", ErrInvalidKey, err)
	}
	v, err := DecodeUint64(tail[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: invalid version: %v", ErrInvalidKey, err)
	}
	return parts[0], int64(t), int64(v), nil
}

// =============================================================================
// Job-recycle (lease) keys, used by the lease manager and coordinator.
// =============================================================================

// JobCheckKeyPath returns the key for an instance's checker job-recycle record.
// Format: /checker/v1/jobs/check/<instanceId>
func JobCheckKeyPath(instanceID string) string {
	return fmt.Sprintf("%s/%s", JobsCheckPrefix, instanceID)
}

// ParseJobCheckKey extracts the instance ID from a job-recycle key.
func ParseJobCheckKey(key string) (instanceID string, err error) {
	prefix := JobsCheckPrefix + "/"
	if !strings.HasPrefix(key, prefix) || len(key) <= len(prefix) {
		return "", ErrInvalidKey
	}
	return key[len(prefix):], nil
}
