package inventory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nicferr/anacsync/internal/fsutil"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/utils"
	"github.com/nicferr/anacsync/internal/verify"
)

// Record describes one file under the mirror root.
type Record struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	ModTime   string `json:"mtime"`
	SHA256    string `json:"sha256,omitempty"`
	ScannedAt string `json:"scanned_at"`
}

func filePath(stateDir string) string {
	return filepath.Join(stateDir, "local", "inventory.jsonl")
}

// Scan walks rootDir and snapshots the inventory file. Working artifacts
// (.part, .meta.json, .tmp) are not inventory. With hash enabled each
// file is read once for its sha256, except files whose sidecar already
// carries a hash for the same size.
func Scan(rootDir, stateDir string, hash bool, store *sidecar.Store) ([]Record, error) {
	log := utils.GetLogger("inventory")
	var records []Record
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, sidecar.PartSuffix) ||
			strings.HasSuffix(name, sidecar.MetaSuffix) ||
			strings.HasSuffix(name, ".tmp") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rec := Record{
			Path:      path,
			Size:      fi.Size(),
			ModTime:   fi.ModTime().UTC().Format(time.RFC3339),
			ScannedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if hash {
			if sc, _ := store.Load(path); sc != nil && sc.SHA256 != "" &&
				sc.ContentLength != nil && *sc.ContentLength == fi.Size() {
				rec.SHA256 = sc.SHA256
			} else {
				sum, _, herr := verify.FileSHA256(path)
				if herr != nil {
					log.Warn().Str("op", "inventory").Err(herr).Msgf("Could not hash %s", path)
				} else {
					rec.SHA256 = sum
				}
			}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := write(stateDir, records); err != nil {
		return nil, err
	}
	return records, nil
}

// write snapshots the whole inventory through the atomic rename path.
func write(stateDir string, records []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return fsutil.WriteFileAtomic(filePath(stateDir), buf.Bytes(), 0644)
}

// Load reads the inventory keyed by path.
func Load(stateDir string) (map[string]Record, error) {
	f, err := os.Open(filePath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, err
	}
	defer f.Close()
	records := make(map[string]Record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records[rec.Path] = rec
	}
	return records, scanner.Err()
}
