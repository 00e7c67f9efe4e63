package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapParseRoundTrip(t *testing.T) {
	b, err := ParseBitmap("10110")
	require.NoError(t, err)
	assert.Equal(t, 5, b.Len())
	assert.True(t, b.IsSet(0))
	assert.False(t, b.IsSet(1))
	assert.Equal(t, 3, b.Count())
	assert.Equal(t, "10110", b.String())
	assert.False(t, b.Complete())
	assert.Equal(t, 1, b.NextUnset(0))
	assert.Equal(t, 4, b.NextUnset(3))

	_, err = ParseBitmap("10x1")
	assert.Error(t, err)
}

func TestBitmapPackedFormAccepted(t *testing.T) {
	b := NewBitmap(12)
	b.Set(0)
	b.Set(5)
	b.Set(11)
	packed := b.Packed()
	parsed, err := ParseBitmap(packed)
	require.NoError(t, err)
	assert.Equal(t, b.String(), parsed.String())

	_, err = ParseBitmap("base64:notanumber:AAAA")
	assert.Error(t, err)
	_, err = ParseBitmap("base64:64:AA==")
	assert.Error(t, err, "declared length longer than payload")
}

func TestBitmapJSONUsesASCII(t *testing.T) {
	b, err := ParseBitmap("101")
	require.NoError(t, err)
	data, err := b.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"101"`, string(data))

	var back Bitmap
	require.NoError(t, back.UnmarshalJSON([]byte(`"base64:3:oA=="`)))
	assert.Equal(t, "101", back.String())
}

func TestSegmentGeometry(t *testing.T) {
	assert.Equal(t, 0, SegmentCount(0, 4), "empty file has no segments")
	assert.Equal(t, 1, SegmentCount(3, 4))
	assert.Equal(t, 2, SegmentCount(8, 4))
	assert.Equal(t, 3, SegmentCount(9, 4))

	start, end := SegmentRange(2, 9, 4)
	assert.Equal(t, int64(8), start)
	assert.Equal(t, int64(8), end, "tail segment may be shorter")
}

func TestRecountBytesHonorsTail(t *testing.T) {
	size := int64(10)
	sc := &Sidecar{ContentLength: &size}
	segs := sc.EnsureSegments(10, 4)
	segs.Bitmap.Set(0)
	segs.Bitmap.Set(2) // tail, 2 bytes
	sc.RecountBytes()
	assert.Equal(t, int64(6), sc.BytesWritten)
}

func TestStoreLoadSaveUpdate(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "file.json")
	store := NewStore()

	sc, err := store.Load(dest)
	require.NoError(t, err)
	assert.Nil(t, sc, "missing sidecar loads as nil")

	_, err = store.Update(dest, func(s *Sidecar) {
		s.URL = "https://example.org/file.json"
		s.BytesWritten = 42
	})
	require.NoError(t, err)

	sc, err = store.Load(dest)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, int64(42), sc.BytesWritten)
	assert.False(t, sc.Terminal())

	// No stray tmp files from the atomic write path.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestCommitRenamesPartAndSealsSidecar(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.bin")
	store := NewStore()

	require.NoError(t, os.WriteFile(PartPath(dest), []byte("payload"), 0644))
	sc, err := store.Update(dest, func(s *Sidecar) {
		s.URL = "https://example.org/data.bin"
		s.BytesWritten = 7
	})
	require.NoError(t, err)

	require.NoError(t, store.Commit(dest, sc, "deadbeef", "s1_dynamic"))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	_, err = os.Stat(PartPath(dest))
	assert.True(t, os.IsNotExist(err))

	final, err := store.Load(dest)
	require.NoError(t, err)
	assert.True(t, final.Terminal())
	assert.Equal(t, "deadbeef", final.SHA256)
	assert.Equal(t, "s1_dynamic", final.Strategy)
	assert.NotEmpty(t, final.DownloadedAt)
}

func TestDiscardResetsProgressKeepsIdentity(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "data.bin")
	store := NewStore()

	require.NoError(t, os.WriteFile(PartPath(dest), []byte("half"), 0644))
	size := int64(100)
	_, err := store.Update(dest, func(s *Sidecar) {
		s.URL = "https://example.org/data.bin"
		s.ETag = `"v1"`
		s.ContentLength = &size
		s.EnsureSegments(100, 10)
		s.Segments.Bitmap.Set(0)
		s.RecountBytes()
	})
	require.NoError(t, err)

	sc, err := store.Discard(dest, "validator changed between runs")
	require.NoError(t, err)
	assert.Zero(t, sc.BytesWritten)
	assert.Nil(t, sc.Segments)
	assert.Equal(t, "https://example.org/data.bin", sc.URL)
	assert.Equal(t, "validator changed between runs", sc.Notes)
	_, err = os.Stat(PartPath(dest))
	assert.True(t, os.IsNotExist(err))
}
