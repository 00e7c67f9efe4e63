package catalog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/nicferr/anacsync/internal/fsutil"
)

// Resource is one downloadable artifact inside a dataset.
type Resource struct {
	Name   string `json:"name,omitempty"`
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
	Size   *int64 `json:"size,omitempty"`
	ETag   string `json:"etag,omitempty"`
}

// Dataset is one catalog entry. Records append to
// <state>/catalog/datasets.jsonl; the newest record per slug wins on
// read.
type Dataset struct {
	Slug      string     `json:"slug"`
	Title     string     `json:"title,omitempty"`
	Resources []Resource `json:"resources"`
	FetchedAt string     `json:"fetched_at"`
}

func filePath(stateDir string) string {
	return filepath.Join(stateDir, "catalog", "datasets.jsonl")
}

// Append records a crawled dataset.
func Append(stateDir string, ds Dataset) error {
	if ds.FetchedAt == "" {
		ds.FetchedAt = time.Now().UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	return fsutil.AppendLine(filePath(stateDir), line)
}

// Load reads the catalog back, collapsing repeated crawls of a slug to
// the latest record, preserving first-seen order.
func Load(stateDir string) ([]Dataset, error) {
	f, err := os.Open(filePath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	index := make(map[string]int)
	var datasets []Dataset
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ds Dataset
		if err := json.Unmarshal(line, &ds); err != nil {
			continue
		}
		if i, ok := index[ds.Slug]; ok {
			datasets[i] = ds
			continue
		}
		index[ds.Slug] = len(datasets)
		datasets = append(datasets, ds)
	}
	return datasets, scanner.Err()
}
