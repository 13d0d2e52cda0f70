// Package checker implements the forward and inverted reconciliation
// algorithms that compare an instance's rowset metadata against the objects
// actually present in its storage vaults.
package checker

import (
	"sync/atomic"

	"github.com/cloudkeep/checkerd/internal/vault"
)

// Result is the outcome of one reconciliation pass.
type Result int

const (
	// ResultOK means the pass completed with no divergences.
	ResultOK Result = iota
	// ResultDiverged means the pass completed but found missing or orphan objects.
	ResultDiverged
	// ResultTerminal means the pass could not complete (truncated KV iteration,
	// unrecoverable listing error); the caller must not finalize the job.
	ResultTerminal
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultDiverged:
		return "DIVERGED"
	case ResultTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// RowsetMeta is a committed rowset read from keys.MetaRowsetKeyPath.
type RowsetMeta struct {
	TabletID    int64  `json:"tabletId"`
	Version     int64  `json:"version"`
	RowsetIDV2  string `json:"rowsetIdV2"`
	ResourceID  string `json:"resourceId"`
	NumSegments int    `json:"numSegments"`
}

// MissingObject records one forward-check divergence.
type MissingObject struct {
	Path string
	Key  string
}

// OrphanObject records one inverted-check divergence.
type OrphanObject struct {
	Path string
}

// CheckReport summarizes one full pass (forward and, if enabled, inverted)
// over a single instance.
type CheckReport struct {
	InstanceID             string
	StartedAtMs            int64
	FinishedAtMs           int64
	NumScanned             int64
	NumScannedWithSegment  int64
	NumCheckFailed         int64
	InstanceVolumeBytes    int64
	ForwardResult          Result
	InvertedResult         Result
	Missing                []MissingObject
	Orphans                []OrphanObject
}

// tabletFileCache is a transient per-tablet object listing cache, refreshed
// only when the tablet id changes. It is correct only because rowsets of one
// tablet are consecutive in KV key order (keys.MetaRowsetKeyPath sorts by
// tablet id); an unordered scan would need an LRU over tablets instead.
type tabletFileCache struct {
	valid    bool
	tabletID int64
	files    map[string]struct{}
	vault    *vault.Vault
}

func (c *tabletFileCache) reset() {
	c.valid = false
	c.files = nil
	c.vault = nil
}

// stopFlag is the cooperative-cancellation signal shared between a running
// InstanceChecker and the lease manager / coordinator that may need to stop it.
type stopFlag struct {
	stopped atomic.Bool
}

func (f *stopFlag) Stop() {
	f.stopped.Store(true)
}

func (f *stopFlag) Stopped() bool {
	return f.stopped.Load()
}
