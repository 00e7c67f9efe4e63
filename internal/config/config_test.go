package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, KnownStrategies, cfg.Downloader.Strategies)
	assert.Equal(t, 3, cfg.Downloader.RetriesPerStrategy)
	assert.Equal(t, 300, cfg.Downloader.SwitchAfterSecondsWithoutProgress)
	assert.Equal(t, []int{2, 6, 12}, cfg.Downloader.DynamicChunksMB)
	assert.Equal(t, 4, cfg.Downloader.SparseSegmentMB)
	assert.Equal(t, int64(32768), cfg.Downloader.OverlapBytes)
	assert.True(t, cfg.Downloader.EnableCurl)
	assert.Equal(t, "curl", cfg.Downloader.CurlPath)
	assert.Equal(t, 1.0, cfg.Downloader.RateLimitRPS)
	assert.Equal(t, 10, cfg.HTTP.TimeoutConnectS)
	assert.Equal(t, 60, cfg.HTTP.TimeoutReadS)
	assert.False(t, cfg.HTTP.HTTP2)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Downloader.Strategies, cfg.Downloader.Strategies)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anacsync.yaml")
	body := `
root_dir: /srv/mirror
downloader:
  strategies: [s2_sparse, s1_dynamic]
  retries_per_strategy: 5
  sparse_segment_mb: 8
  enable_curl: false
http:
  timeout_read_s: 120
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/mirror", cfg.RootDir)
	assert.Equal(t, []string{"s2_sparse", "s1_dynamic"}, cfg.Downloader.Strategies)
	assert.Equal(t, 5, cfg.Downloader.RetriesPerStrategy)
	assert.Equal(t, 8, cfg.Downloader.SparseSegmentMB)
	assert.False(t, cfg.Downloader.EnableCurl)
	assert.Equal(t, 120, cfg.HTTP.TimeoutReadS)
	// Untouched knobs keep defaults.
	assert.Equal(t, int64(32768), cfg.Downloader.OverlapBytes)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anacsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("downloader:\n  strategies: [s9_warp]\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadChunkTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anacsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("downloader:\n  dynamic_chunks_mb: [2, 6]\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConcurrencyClamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anacsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("downloader:\n  max_concurrency: 8\n"), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Downloader.MaxConcurrency, "never more than two concurrent downloads")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.RootDir = "/srv/x"
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/x", back.RootDir)
}
