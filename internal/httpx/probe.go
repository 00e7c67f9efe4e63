package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ProbeInfo carries what the origin told us about a resource before any
// transfer starts.
type ProbeInfo struct {
	ContentLength *int64
	ETag          string
	LastModified  string
	AcceptRanges  bool
	FinalURL      string
	StatusCode    int
}

// Probe attempts HEAD and, when the server rejects it, falls back to a
// GET with Range: bytes=0-0 whose body is closed as soon as headers are
// in. The returned identity stays the request URL; FinalURL records where
// redirects landed.
func (c *Client) Probe(ctx context.Context, url string) (*ProbeInfo, error) {
	if err := c.Throttle(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if headAcceptable(resp.StatusCode) {
			return infoFromResponse(resp, false), nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed &&
			resp.StatusCode != http.StatusNotImplemented && resp.StatusCode != http.StatusForbidden {
			return &ProbeInfo{StatusCode: resp.StatusCode, FinalURL: resp.Request.URL.String()},
				fmt.Errorf("probe failed: HTTP %d", resp.StatusCode)
		}
	}

	// HEAD unsupported or refused; a one-byte ranged GET yields the same
	// headers.
	greq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	greq.Header.Set("Range", "bytes=0-0")
	gresp, err := c.Do(greq)
	if err != nil {
		return nil, err
	}
	gresp.Body.Close()
	if gresp.StatusCode >= 400 {
		return &ProbeInfo{StatusCode: gresp.StatusCode, FinalURL: gresp.Request.URL.String()},
			fmt.Errorf("probe failed: HTTP %d", gresp.StatusCode)
	}
	return infoFromResponse(gresp, true), nil
}

func headAcceptable(status int) bool {
	return status >= 200 && status < 300
}

func infoFromResponse(resp *http.Response, ranged bool) *ProbeInfo {
	info := &ProbeInfo{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
	}
	info.AcceptRanges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	if ranged && resp.StatusCode == http.StatusPartialContent {
		// A 206 to bytes=0-0 proves range support even without the
		// Accept-Ranges header; total size comes from Content-Range.
		info.AcceptRanges = true
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			info.ContentLength = &total
		}
		return info
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			info.ContentLength = &n
		}
	}
	return info
}

// parseContentRangeTotal extracts the complete length from a
// "bytes a-b/total" header; "*" totals are unknown.
func parseContentRangeTotal(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, false
	}
	slash := strings.IndexByte(v, '/')
	if slash < 0 {
		return 0, false
	}
	total := strings.TrimSpace(v[slash+1:])
	if total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
