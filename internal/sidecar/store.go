package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nicferr/anacsync/internal/fsutil"
)

const (
	MetaSuffix = ".meta.json"
	PartSuffix = ".part"
)

func MetaPath(dest string) string { return dest + MetaSuffix }
func PartPath(dest string) string { return dest + PartSuffix }

// Store serializes sidecar mutations per destination path. All writes go
// through the atomic tmp+rename path.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{locks: make(map[string]*sync.Mutex)}
}

func (st *Store) lock(dest string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.locks[dest]
	if !ok {
		l = &sync.Mutex{}
		st.locks[dest] = l
	}
	return l
}

// Load reads the sidecar for dest, or returns nil when none exists.
func (st *Store) Load(dest string) (*Sidecar, error) {
	data, err := os.ReadFile(MetaPath(dest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading sidecar: %v", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("error parsing sidecar: %v", err)
	}
	return &sc, nil
}

// Save persists the sidecar atomically.
func (st *Store) Save(dest string, sc *Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(MetaPath(dest), data, 0644)
}

// Update applies fn to the current sidecar (creating an empty one when
// missing) under the per-path lock and persists the result.
func (st *Store) Update(dest string, fn func(*Sidecar)) (*Sidecar, error) {
	l := st.lock(dest)
	l.Lock()
	defer l.Unlock()
	sc, err := st.Load(dest)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		sc = &Sidecar{}
	}
	fn(sc)
	if err := st.Save(dest, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Commit finalizes a verified download: rename <dest>.part over <dest>,
// fsync the directory, then write the terminal sidecar carrying the hash.
// Order matters for crash safety; a crash between rename and sidecar write
// leaves a final file with a non-terminal sidecar, which re-verifies on
// the next run.
func (st *Store) Commit(dest string, sc *Sidecar, sha256Hex, strategy string) error {
	l := st.lock(dest)
	l.Lock()
	defer l.Unlock()
	if err := fsutil.RenameAtomic(PartPath(dest), dest); err != nil {
		return fmt.Errorf("error finalizing download: %v", err)
	}
	sc.SHA256 = sha256Hex
	sc.DownloadedAt = time.Now().UTC().Format(time.RFC3339)
	sc.Strategy = strategy
	return st.Save(dest, sc)
}

// Discard removes the partial file and resets the sidecar's progress
// state, keeping identity fields.
func (st *Store) Discard(dest string, note string) (*Sidecar, error) {
	if err := os.Remove(PartPath(dest)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return st.Update(dest, func(sc *Sidecar) {
		sc.ResetProgress()
		if note != "" {
			sc.Notes = note
		}
	})
}
