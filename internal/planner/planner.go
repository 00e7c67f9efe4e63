package planner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nicferr/anacsync/internal/catalog"
	"github.com/nicferr/anacsync/internal/fsutil"
	"github.com/nicferr/anacsync/internal/inventory"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/utils"
)

// Reasons a resource lands in the plan.
const (
	ReasonMissing     = "missing"
	ReasonETagChanged = "etag_changed"
	ReasonSizeChanged = "size_changed"
)

// Item is one planned download. Immutable once written to the plan file.
type Item struct {
	DatasetSlug  string `json:"dataset_slug"`
	ResourceURL  string `json:"resource_url"`
	DestPath     string `json:"dest_path"`
	Reason       string `json:"reason"`
	ExpectedSize *int64 `json:"expected_size,omitempty"`
	ExpectedETag string `json:"expected_etag,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
}

// Build diffs the crawled catalog against the local inventory and returns
// the items that need downloading. Change detection prefers the sidecar
// (which carries the etag the file was downloaded under) and falls back
// to size comparison against the inventory record.
func Build(datasets []catalog.Dataset, inv map[string]inventory.Record, rootDir string, store *sidecar.Store) ([]Item, error) {
	var items []Item
	for _, ds := range datasets {
		for _, res := range ds.Resources {
			name := res.Name
			if name == "" {
				name = filepath.Base(res.URL)
			}
			dest := filepath.Join(rootDir, ds.Slug, utils.SanitizeFilename(name))

			local, haveLocal := inv[dest]
			sc, err := store.Load(dest)
			if err != nil {
				return nil, err
			}

			reason := ""
			switch {
			case !haveLocal && (sc == nil || !sc.Terminal()):
				reason = ReasonMissing
			case sc != nil && sc.Terminal() && res.ETag != "" && sc.ETag != "" && res.ETag != sc.ETag:
				reason = ReasonETagChanged
			case haveLocal && res.Size != nil && local.Size != *res.Size:
				reason = ReasonSizeChanged
			}
			if reason == "" {
				continue
			}
			items = append(items, Item{
				DatasetSlug:  ds.Slug,
				ResourceURL:  res.URL,
				DestPath:     dest,
				Reason:       reason,
				ExpectedSize: res.Size,
				ExpectedETag: res.ETag,
				ResourceName: name,
			})
		}
	}
	return items, nil
}

// WritePlan appends the items to a timestamped NDJSON plan file under
// <state>/plans and returns its path.
func WritePlan(stateDir string, items []Item) (string, error) {
	path := filepath.Join(stateDir, "plans", fmt.Sprintf("plan-%s.jsonl", time.Now().UTC().Format("20060102-150405")))
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return "", err
		}
		if err := fsutil.AppendLine(path, line); err != nil {
			return "", err
		}
	}
	return path, nil
}

// LoadPlan reads a plan file back, skipping blank or malformed lines the
// way every NDJSON reader in the state dir does.
func LoadPlan(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var items []Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item Item
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

// LatestPlan returns the newest plan file in the state dir, or "" when
// none exists.
func LatestPlan(stateDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(stateDir, "plans", "plan-*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest, nil
}
