package checker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cloudkeep/checkerd/internal/metadata/keys"
	"github.com/cloudkeep/checkerd/internal/vault"
)

// rowsetTabletCache is the inverted pass's analogue of tabletFileCache: the
// set of rowset_id_v2 values still present in KV for one tablet.
type rowsetTabletCache struct {
	valid    bool
	tabletID int64
	rowsets  map[string]struct{}
}

func (c *rowsetTabletCache) reset() {
	c.valid = false
	c.rowsets = nil
}

// DoInvertedCheck performs the inverted reconciliation pass: for every
// object under a vault's data/ prefix, confirm that its owning rowset still
// exists in KV. Any orphan or unparseable path makes the result
// ResultDiverged; a listing or KV error, or a stop, makes it ResultTerminal.
// Inverted check exists to surface orphans, not to be a second
// authoritative source of truth.
func (c *InstanceChecker) DoInvertedCheck(ctx context.Context) (*CheckReport, error) {
	report := &CheckReport{InstanceID: c.instanceID}

	for resourceID, v := range c.registry.All() {
		if c.stop.Stopped() {
			report.InvertedResult = ResultTerminal
			return report, nil
		}

		result := c.invertedCheckVault(ctx, resourceID, v, report)
		if result == ResultTerminal {
			report.InvertedResult = ResultTerminal
			return report, nil
		}
		if result == ResultDiverged {
			report.InvertedResult = ResultDiverged
		}
	}

	if report.InvertedResult != ResultDiverged {
		report.InvertedResult = ResultOK
	}
	return report, nil
}

func (c *InstanceChecker) invertedCheckVault(ctx context.Context, resourceID string, v *vault.Vault, report *CheckReport) Result {
	objs, err := v.Store.List(ctx, v.DataPrefix())
	if err != nil {
		c.log.Errorf("inverted check: list vault failed", map[string]any{"resourceId": resourceID, "error": err})
		return ResultTerminal
	}

	var cache rowsetTabletCache
	diverged := false

	for _, o := range objs {
		if c.stop.Stopped() {
			return ResultTerminal
		}

		tabletID, rowsetID, ok := parseDataPath(o.Key, v.PathLayoutVersion)
		if !ok {
			c.log.Warnf("inverted check: unparseable object path", map[string]any{"resourceId": resourceID, "path": o.Key})
			report.Orphans = append(report.Orphans, OrphanObject{Path: o.Key})
			diverged = true
			continue
		}

		if !cache.valid || cache.tabletID != tabletID {
			rowsets, err := c.loadTabletRowsets(ctx, tabletID)
			if err != nil {
				c.log.Errorf("inverted check: load tablet rowsets failed", map[string]any{"tabletId": tabletID, "error": err})
				return ResultTerminal
			}
			cache.valid = true
			cache.tabletID = tabletID
			cache.rowsets = rowsets
		}

		if _, ok := cache.rowsets[rowsetID]; !ok {
			c.log.Warnf("inverted check: orphan object", map[string]any{"resourceId": resourceID, "tabletId": tabletID, "rowsetId": rowsetID, "path": o.Key})
			report.Orphans = append(report.Orphans, OrphanObject{Path: o.Key})
			diverged = true
		}
	}

	if diverged {
		return ResultDiverged
	}
	return ResultOK
}

// loadTabletRowsets reads every rowset_id_v2 present in KV for one tablet.
func (c *InstanceChecker) loadTabletRowsets(ctx context.Context, tabletID int64) (map[string]struct{}, error) {
	prefix, err := keys.MetaRowsetTabletPrefix(c.instanceID, tabletID)
	if err != nil {
		return nil, err
	}
	end := prefix + "\xff"

	rowsets := make(map[string]struct{})
	start := prefix
	for {
		page, err := c.meta.List(ctx, start, end, listPageSize)
		if err != nil {
			return nil, err
		}
		for _, kv := range page {
			var rs RowsetMeta
			if err := json.Unmarshal(kv.Value, &rs); err != nil {
				continue
			}
			rowsets[rs.RowsetIDV2] = struct{}{}
		}
		if len(page) < listPageSize {
			break
		}
		start = page[len(page)-1].Key + "\x00"
	}
	return rowsets, nil
}

// parseDataPath splits an object path under a vault's data/ prefix into its
// tablet id and rowset id, according to the vault's path layout version. An
// unrecognized layout version or malformed path yields ok == false rather
// than panicking.
func parseDataPath(p string, layout vault.PathLayoutVersion) (tabletID int64, rowsetID string, ok bool) {
	parts := strings.Split(p, "/")
	if len(parts) < 3 {
		return 0, "", false
	}
	tabletPart, filename := parts[len(parts)-2], parts[len(parts)-1]

	switch layout {
	case vault.PathLayoutLegacy, vault.PathLayoutNamespaced:
		id, err := strconv.ParseInt(tabletPart, 10, 64)
		if err != nil {
			return 0, "", false
		}
		tabletID = id
	default:
		return 0, "", false
	}

	idx := strings.LastIndex(filename, "_")
	if idx <= 0 {
		return 0, "", false
	}
	if !strings.HasSuffix(filename, ".dat") {
		return 0, "", false
	}
	rowsetID = filename[:idx]
	if rowsetID == "" {
		return 0, "", false
	}
	return tabletID, rowsetID, true
}

