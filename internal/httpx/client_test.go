package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return New(Config{
		TimeoutConnect: 5 * time.Second,
		TimeoutRead:    5 * time.Second,
		UserAgent:      "anacsync-test",
		Headers:        map[string]string{"X-Extra": "yes"},
		RateLimitRPS:   1000,
	})
}

func TestDoInjectsSharedHeaders(t *testing.T) {
	var gotUA, gotEncoding, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		gotExtra = r.Header.Get("X-Extra")
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "anacsync-test", gotUA)
	assert.Equal(t, "identity", gotEncoding, "identity keeps Content-Length meaningful")
	assert.Equal(t, "yes", gotExtra)
}

func TestRangeGetHeaders(t *testing.T) {
	var gotRange, gotIfRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotIfRange = r.Header.Get("If-Range")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	c := testClient()
	resp, err := c.RangeGet(context.Background(), srv.URL, 100, 199, `"v1"`)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "bytes=100-199", gotRange)
	assert.Equal(t, `"v1"`, gotIfRange)

	resp, err = c.RangeGet(context.Background(), srv.URL, 100, -1, "")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "bytes=100-", gotRange)
	assert.Empty(t, gotIfRange)

	resp, err = c.TailGet(context.Background(), srv.URL, 512, "")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "bytes=-512", gotRange)
}

func TestShortGetClosesConnection(t *testing.T) {
	var gotConnection string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	resp, err := testClient().ShortGet(context.Background(), srv.URL, 0, 99, "")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "close", gotConnection)
}

func TestProbeViaHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
		w.Header().Set("ETag", `"v7"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	info, err := testClient().Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, info.ContentLength)
	assert.Equal(t, int64(12345), *info.ContentLength)
	assert.Equal(t, `"v7"`, info.ETag)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", info.LastModified)
	assert.True(t, info.AcceptRanges)
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 0-0/99999")
		w.Header().Set("Content-Length", "1")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "x")
	}))
	defer srv.Close()

	info, err := testClient().Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "bytes=0-0", sawRange)
	require.NotNil(t, info.ContentLength)
	assert.Equal(t, int64(99999), *info.ContentLength)
	assert.True(t, info.AcceptRanges, "a 206 to bytes=0-0 proves range support")
}

func TestProbeReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	info, err := testClient().Probe(context.Background(), srv.URL)
	require.Error(t, err)
	require.NotNil(t, info)
	assert.Equal(t, http.StatusNotFound, info.StatusCode)
}

func TestParseContentRangeTotal(t *testing.T) {
	total, ok := parseContentRangeTotal("bytes 0-99/1000")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), total)

	_, ok = parseContentRangeTotal("bytes 0-99/*")
	assert.False(t, ok)
	_, ok = parseContentRangeTotal("garbage")
	assert.False(t, ok)
}
