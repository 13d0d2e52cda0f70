// Package vault resolves a storage vault descriptor to a concrete object-store
// accessor and knows the tablet/segment path layout used to locate rowset data.
package vault

import (
	"context"
	"fmt"

	"github.com/cloudkeep/checkerd/internal/metrics"
	"github.com/cloudkeep/checkerd/internal/objectstore"
	"github.com/cloudkeep/checkerd/internal/objectstore/hdfs"
	"github.com/cloudkeep/checkerd/internal/objectstore/s3"
)

// Type identifies the backing technology of a storage vault.
type Type string

const (
	TypeS3   Type = "s3"
	TypeHDFS Type = "hdfs"
)

// PathLayoutVersion selects the on-disk path grammar for tablet/segment paths.
// v0 is the legacy flat layout; v1 namespaces the tablet component with a
// fixed width so lexicographic listing order matches tablet-id order.
type PathLayoutVersion int

const (
	PathLayoutLegacy     PathLayoutVersion = 0
	PathLayoutNamespaced PathLayoutVersion = 1
)

// Descriptor is the persisted form of a storage vault, as stored under
// keys.StorageVaultKeyPath.
type Descriptor struct {
	ID                string            `json:"id"`
	Type              Type              `json:"type"`
	Endpoint          string            `json:"endpoint"`
	Bucket            string            `json:"bucket"`
	Region            string            `json:"region,omitempty"`
	AccessKey         string            `json:"accessKey,omitempty"`
	SecretKey         string            `json:"secretKey,omitempty"`
	UsePathStyle      bool              `json:"usePathStyle,omitempty"`
	PathLayoutVersion PathLayoutVersion `json:"pathLayoutVersion"`
}

// LifecycleStore is implemented by accessors that can report bucket-level
// object retention policy and versioning state. Only S3-compatible vaults
// support this; HDFS vaults have no equivalent and leave it nil.
type LifecycleStore interface {
	// CheckVersioning returns an error if the bucket has an unsafe versioning
	// configuration (e.g. suspended versioning with pending deletes).
	CheckVersioning(ctx context.Context) error

	// GetLifecycleDays returns the minimum expiration-in-days across the
	// bucket's lifecycle rules. ok is false if no rule applies.
	GetLifecycleDays(ctx context.Context) (days int64, ok bool, err error)
}

// Vault wraps a resolved accessor with the path-layout knowledge needed by
// the reconciliation algorithms.
type Vault struct {
	Descriptor
	Store     objectstore.Store
	Lifecycle LifecycleStore // nil when the vault type has no lifecycle concept
}

// TabletPath returns the listing prefix under which every segment of a
// tablet is stored.
func (v *Vault) TabletPath(tabletID int64) string {
	switch v.PathLayoutVersion {
	case PathLayoutNamespaced:
		return fmt.Sprintf("data/%019d/", tabletID)
	default:
		return fmt.Sprintf("data/%d/", tabletID)
	}
}

// SegmentPath returns the exact object path of one rowset segment.
func (v *Vault) SegmentPath(tabletID int64, rowsetID string, segIdx int) string {
	return fmt.Sprintf("%s%s_%d.dat", v.TabletPath(tabletID), rowsetID, segIdx)
}

// DataPrefix returns the prefix under which every tablet of this vault lives,
// used by the inverted reconciliation pass.
func (v *Vault) DataPrefix() string {
	return "data/"
}

// NewAccessor constructs the object-store accessor and, where supported, the
// lifecycle accessor for a descriptor. The returned Store records per-operation
// metrics through m when m is non-nil; the lifecycle accessor, when present,
// always talks to the raw unwrapped accessor since lifecycle lookups are rare
// config reads, not per-object hot-path calls.
func NewAccessor(ctx context.Context, d Descriptor, m *metrics.ObjectStoreMetrics) (objectstore.Store, LifecycleStore, error) {
	var recorder objectstore.ObjectStoreMetricsRecorder
	if m != nil {
		recorder = m
	}

	switch d.Type {
	case TypeS3:
		store, err := s3.New(ctx, s3.Config{
			Endpoint:        d.Endpoint,
			Bucket:          d.Bucket,
			Region:          d.Region,
			AccessKeyID:     d.AccessKey,
			SecretAccessKey: d.SecretKey,
			UsePathStyle:    d.UsePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("vault: new s3 accessor for %q: %w", d.ID, err)
		}
		return objectstore.NewInstrumentedStore(store, recorder), store, nil
	case TypeHDFS:
		store, err := hdfs.New(hdfs.Config{
			NameNode: d.Endpoint,
			BasePath: d.Bucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("vault: new hdfs accessor for %q: %w", d.ID, err)
		}
		return objectstore.NewInstrumentedStore(store, recorder), nil, nil
	default:
		return nil, nil, fmt.Errorf("vault: unknown vault type %q for %q", d.Type, d.ID)
	}
}

// BuildVault resolves a descriptor into a ready-to-use Vault.
func BuildVault(ctx context.Context, d Descriptor, m *metrics.ObjectStoreMetrics) (*Vault, error) {
	store, lifecycle, err := NewAccessor(ctx, d, m)
	if err != nil {
		return nil, err
	}
	return &Vault{Descriptor: d, Store: store, Lifecycle: lifecycle}, nil
}
