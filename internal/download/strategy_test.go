package download

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/sidecar"
)

func TestSparseOrderCoversAllSegmentsOnce(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 16, 101} {
		order := sparseOrder(n)
		require.Len(t, order, n, "n=%d", n)
		seen := append([]int(nil), order...)
		sort.Ints(seen)
		for i, v := range seen {
			assert.Equal(t, i, v, "n=%d order %v", n, order)
		}
	}
}

func TestSparseOrderEdgesFirstThenMiddle(t *testing.T) {
	order := sparseOrder(9)
	assert.Equal(t, 0, order[0])
	assert.Equal(t, 8, order[1])
	assert.Equal(t, 4, order[2], "bisection visits the middle next")
}

func TestChunkSizeTable(t *testing.T) {
	req := &Request{Cfg: config.Default().Downloader}
	mb := int64(1024 * 1024)

	small := 10 * mb
	medium := 100 * mb
	large := 400 * mb

	// Table values round up to segment multiples (4 MB default).
	assert.Equal(t, 4*mb, req.chunkSize(&small))
	assert.Equal(t, 8*mb, req.chunkSize(&medium))
	assert.Equal(t, 12*mb, req.chunkSize(&large))
	assert.Equal(t, 4*mb, req.chunkSize(nil))
}

func TestMarkLinearRoundsDownToSegments(t *testing.T) {
	seg := int64(1024 * 1024)
	total := int64(3*seg + 1000)
	sc := &sidecar.Sidecar{ContentLength: &total}

	hw := markLinear(sc, seg+5000, total, seg)
	assert.Equal(t, seg, hw, "mid-segment progress rounds down")
	assert.Equal(t, "1000", sc.Segments.Bitmap.String())
	assert.Equal(t, seg, sc.BytesWritten)

	hw = markLinear(sc, total, total, seg)
	assert.Equal(t, total, hw)
	assert.True(t, sc.Segments.Bitmap.Complete())
	assert.Equal(t, total, sc.BytesWritten, "tail segment counts its true length")
}

func TestContiguousPrefixWithHoles(t *testing.T) {
	seg := int64(1024 * 1024)
	total := int64(4 * seg)
	bitmap, err := sidecar.ParseBitmap("1011")
	require.NoError(t, err)
	sc := &sidecar.Sidecar{
		ContentLength: &total,
		Segments:      &sidecar.Segments{Size: seg, Bitmap: bitmap},
	}
	assert.Equal(t, seg, contiguousPrefix(sc, total, seg), "prefix stops at the first hole")

	hw := skipMarked(sc, 2*seg, total, total, seg)
	assert.Equal(t, 4*seg, hw, "marked run after the hole is skipped")
}

func TestShortConnChunkDividesSegment(t *testing.T) {
	cfg := config.Default().Downloader
	cfg.SparseSegmentMB = 4
	s := &shortConnStrategy{}

	cfg.SnailChunksKB = 1024
	assert.Equal(t, int64(1024*1024), s.chunk(&Request{Cfg: cfg}))

	cfg.SnailChunksKB = 3 * 1024 // does not divide 4 MB; halves until it does
	chunk := s.chunk(&Request{Cfg: cfg})
	assert.Zero(t, int64(4*1024*1024)%chunk)

	cfg.SnailChunksKB = 64 * 1024 // larger than the segment clamps to it
	assert.Equal(t, int64(4*1024*1024), s.chunk(&Request{Cfg: cfg}))
}

func TestCurlExitCodeMapping(t *testing.T) {
	cases := []struct {
		code   int
		class  Class
		render string
	}{
		{6, ClassFatal, "dns_unresolved"},
		{7, ClassRetryable, "connection_error"},
		{18, ClassRetryable, "truncated_body"},
		{23, ClassFatal, "disk_full"},
		{28, ClassRetryable, "read_timeout"},
		{33, ClassUnsupported, "range_not_satisfiable"},
		{99, ClassRetryable, "curl_exit:99"},
	}
	for _, tc := range cases {
		err := curlExitError(tc.code, "boom")
		assert.Equal(t, tc.class, err.Class, "exit %d", tc.code)
		assert.Equal(t, tc.render, err.Render, "exit %d", tc.code)
	}
}

func TestCurlNotApplicableWhenDisabled(t *testing.T) {
	cfg := config.Default().Downloader
	cfg.EnableCurl = false
	s := &curlStrategy{}
	assert.False(t, s.Applicable(nil, cfg))

	cfg.EnableCurl = true
	cfg.CurlPath = "/nonexistent/curl-binary"
	assert.False(t, s.Applicable(nil, cfg))
}

func TestErrorClassStrings(t *testing.T) {
	assert.Equal(t, "retryable", ClassRetryable.String())
	assert.Equal(t, "stalled", ClassStalled.String())
	assert.Equal(t, "validator_changed", ClassValidatorChanged.String())
	assert.Equal(t, "integrity_failed", ClassIntegrityFailed.String())
	assert.Equal(t, "unsupported", ClassUnsupported.String())
	assert.Equal(t, "fatal", ClassFatal.String())
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ClassRetryable, classifyStatus(503).Class)
	assert.Equal(t, "http_5xx:503", classifyStatus(503).Render)
	assert.Equal(t, ClassRetryable, classifyStatus(429).Class)
	assert.Equal(t, ClassFatal, classifyStatus(403).Class)
	assert.Equal(t, ClassUnsupported, classifyStatus(416).Class)
	assert.Equal(t, ClassUnsupported, classifyStatus(404).Class)
}
