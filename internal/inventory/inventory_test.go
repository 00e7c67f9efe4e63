package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/verify"
)

func TestScanSkipsWorkingArtifacts(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ds"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ds", "a.json"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ds", "b.json.part"), []byte("bb"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ds", "a.json.meta.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ds", "c.json.tmp"), []byte("c"), 0644))

	records, err := Scan(root, state, false, sidecar.NewStore())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, filepath.Join(root, "ds", "a.json"), records[0].Path)
	assert.Equal(t, int64(3), records[0].Size)
	assert.Empty(t, records[0].SHA256)
}

func TestScanWithHashReusesSidecarDigest(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	store := sidecar.NewStore()

	hashed := filepath.Join(root, "hashed.bin")
	fresh := filepath.Join(root, "fresh.bin")
	require.NoError(t, os.WriteFile(hashed, []byte("known"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("unknown"), 0644))

	size := int64(5)
	_, err := store.Update(hashed, func(sc *sidecar.Sidecar) {
		sc.URL = "u"
		sc.SHA256 = "feedface"
		sc.ContentLength = &size
	})
	require.NoError(t, err)

	records, err := Scan(root, state, true, store)
	require.NoError(t, err)

	byPath := make(map[string]Record)
	for _, rec := range records {
		byPath[rec.Path] = rec
	}
	assert.Equal(t, "feedface", byPath[hashed].SHA256, "sidecar digest avoids rehashing")

	wantSum, _, err := verify.FileSHA256(fresh)
	require.NoError(t, err)
	assert.Equal(t, wantSum, byPath[fresh].SHA256)
}

func TestScanSnapshotLoad(t *testing.T) {
	root := t.TempDir()
	state := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.bin"), []byte("x"), 0644))

	_, err := Scan(root, state, false, sidecar.NewStore())
	require.NoError(t, err)

	loaded, err := Load(state)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	rec, ok := loaded[filepath.Join(root, "x.bin")]
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Size)
}

func TestLoadMissingInventory(t *testing.T) {
	loaded, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
