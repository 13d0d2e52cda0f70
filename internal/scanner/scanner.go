// Package scanner periodically enumerates instances from the control plane
// and feeds newly-discovered, non-deleted instances into the coordinator's
// pending queue.
package scanner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cloudkeep/checkerd/internal/instance"
	"github.com/cloudkeep/checkerd/internal/logging"
	"github.com/cloudkeep/checkerd/internal/metadata"
	"github.com/cloudkeep/checkerd/internal/metadata/keys"
)

// Filter decides whether an instance should be scheduled for a check.
// nil Filter accepts every non-deleted instance.
type Filter interface {
	Allow(instanceID string) bool
}

// Enqueuer is the subset of the coordinator's pending-queue API the scanner
// needs; implemented by coordinator.Coordinator.
type Enqueuer interface {
	Enqueue(info instance.Info, enqueueTimeMs int64) (enqueued bool)
}

// listPageSize bounds one control-plane List call during a scan pass.
const listPageSize = 256

// Scanner runs on a fixed interval: it lists every instance, skips
// filtered-out or deleted ones, and pushes the rest to the coordinator's
// queue (which itself deduplicates against already-pending instance IDs).
type Scanner struct {
	meta     metadata.MetadataStore
	enqueuer Enqueuer
	filter   Filter
	interval time.Duration
	log      *logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scanner. filter may be nil to accept every instance.
func New(meta metadata.MetadataStore, enqueuer Enqueuer, filter Filter, interval time.Duration, log *logging.Logger) *Scanner {
	return &Scanner{
		meta:     meta,
		enqueuer: enqueuer,
		filter:   filter,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the scan loop in a new goroutine.
func (s *Scanner) Start() {
	go s.loop()
}

// Stop requests the scan loop to exit and blocks until it has.
func (s *Scanner) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scanner) loop() {
	defer close(s.doneCh)

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

func (s *Scanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	begin := keys.InstanceInfoPrefix()
	end := begin + "\xff"
	start := begin

	for {
		page, err := s.meta.List(ctx, start, end, listPageSize)
		if err != nil {
			s.log.Errorf("scanner: list instances failed", map[string]any{"error": err})
			return
		}
		if len(page) == 0 {
			return
		}

		advanced := false
		for _, kv := range page {
			// The instances/ range interleaves info, vault, and rowset keys
			// for each instance; only /info records describe an instance.
			if !strings.HasSuffix(kv.Key, "/info") {
				continue
			}
			instanceID, err := keys.ParseInstanceInfoKey(kv.Key)
			if err != nil {
				continue
			}

			var info instance.Info
			if err := json.Unmarshal(kv.Value, &info); err != nil {
				s.log.Warnf("scanner: malformed instance record", map[string]any{"key": kv.Key, "error": err})
			} else {
				s.considerInstance(info, nowMs)
			}

			// Skip past every other key belonging to this instance (vault,
			// meta/rowset) rather than listing through them one page at a time.
			start = keys.InstanceInfoPrefix() + instanceID + "0"
			advanced = true
		}

		if len(page) < listPageSize {
			return
		}
		if !advanced {
			start = page[len(page)-1].Key + "\x00"
		}
	}
}

func (s *Scanner) considerInstance(info instance.Info, nowMs int64) {
	if info.IsDeleted() {
		return
	}
	if s.filter != nil && !s.filter.Allow(info.InstanceID) {
		return
	}
	s.enqueuer.Enqueue(info, nowMs)
}

// AllowDenyFilter implements Filter from a whitelist/blacklist pair, matching
// the recycle_whitelist/recycle_blacklist configuration options. An
// empty whitelist means "no whitelist restriction"; a non-empty whitelist
// is evaluated before the blacklist.
type AllowDenyFilter struct {
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

// NewAllowDenyFilter builds a Filter from id lists.
func NewAllowDenyFilter(whitelist, blacklist []string) *AllowDenyFilter {
	f := &AllowDenyFilter{}
	if len(whitelist) > 0 {
		f.whitelist = make(map[string]struct{}, len(whitelist))
		for _, id := range whitelist {
			f.whitelist[id] = struct{}{}
		}
	}
	if len(blacklist) > 0 {
		f.blacklist = make(map[string]struct{}, len(blacklist))
		for _, id := range blacklist {
			f.blacklist[id] = struct{}{}
		}
	}
	return f
}

// Allow implements Filter.
func (f *AllowDenyFilter) Allow(instanceID string) bool {
	if f.whitelist != nil {
		if _, ok := f.whitelist[instanceID]; !ok {
			return false
		}
	}
	if f.blacklist != nil {
		if _, ok := f.blacklist[instanceID]; ok {
			return false
		}
	}
	return true
}
