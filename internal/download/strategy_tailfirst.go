package download

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/sidecar"
)

// tailFirstStrategy (s5_tailfirst) pulls the final segment before
// anything else. A server that truncates or misreports length fails
// cheaply here instead of after a long transfer; once the tail checks
// out, the remainder fills in ascending order.
type tailFirstStrategy struct{}

func (s *tailFirstStrategy) Name() string { return StrategyTailFirst }

func (s *tailFirstStrategy) Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool {
	return info != nil && info.AcceptRanges && info.ContentLength != nil
}

func (s *tailFirstStrategy) Fetch(ctx context.Context, req *Request) Result {
	info := req.Info
	if info == nil || info.ContentLength == nil {
		return Result{Strategy: s.Name(), Err: newError(ClassUnsupported, "length_unknown", nil)}
	}
	total := *info.ContentLength
	if total == 0 {
		return finishEmpty(req, s.Name())
	}
	segSize := req.segmentSize()
	nSegs := sidecar.SegmentCount(total, segSize)
	tailStart, tailEnd := sidecar.SegmentRange(nSegs-1, total, segSize)
	tailLen := tailEnd - tailStart + 1

	sc, err := req.Store.Update(req.Dest, func(sc *sidecar.Sidecar) {
		sc.EnsureSegments(total, segSize)
		sc.RecountBytes()
	})
	if err != nil {
		return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
	}

	f, err := req.openPart(info.ContentLength)
	if err != nil {
		return Result{Strategy: s.Name(), Err: err}
	}
	defer f.Close()

	var attemptBytes int64
	if !sc.Segments.Bitmap.IsSet(nSegs - 1) {
		resp, err := req.Client.TailGet(ctx, req.URL, tailLen, sc.ETag)
		if err != nil {
			return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
		}
		if resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				// Range ignored: resume is invalid for this resource.
				req.resetPartial("validator changed during transfer")
				return Result{Strategy: s.Name(), Err: errValidatorChanged()}
			}
			return Result{Strategy: s.Name(), Err: classifyStatus(resp.StatusCode)}
		}
		// The tail probe doubles as a length consistency check.
		if reported, ok := parseTotal(resp.Header.Get("Content-Range")); ok && reported != total {
			resp.Body.Close()
			req.resetPartial("content length changed")
			return Result{Strategy: s.Name(), Err: errValidatorChanged()}
		}
		if err := checkETag(resp.Header.Get("ETag"), sc.ETag); err != nil {
			resp.Body.Close()
			req.resetPartial("validator changed during transfer")
			return Result{Strategy: s.Name(), Err: err}
		}
		written, copyErr := copyBody(ctx, f, tailStart, resp.Body, req.Monitor)
		resp.Body.Close()
		if copyErr == nil && written < tailLen {
			copyErr = newError(ClassRetryable, "truncated_body",
				fmt.Errorf("tail got %d of %d bytes", written, tailLen))
		}
		if copyErr != nil {
			return Result{Strategy: s.Name(), BytesWritten: written, Err: copyErr}
		}
		if err := f.Sync(); err != nil {
			return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, err)}
		}
		attemptBytes += written
		if _, err := req.Store.Update(req.Dest, func(s *sidecar.Sidecar) {
			segs := s.EnsureSegments(total, segSize)
			segs.Bitmap.Set(nSegs - 1)
			s.RecountBytes()
		}); err != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: classifyTransport(ctx, err)}
		}
	}

	// Tail verified; fill the head linearly up to the tail segment.
	chunk := req.chunkSize(info.ContentLength)
	written, err := linearFill(ctx, req, f, total, tailStart, chunk,
		func(ctx context.Context, start, end int64, ifRange string) (*http.Response, error) {
			return req.Client.RangeGet(ctx, req.URL, start, end, ifRange)
		})
	attemptBytes += written
	if err != nil {
		return Result{Strategy: s.Name(), BytesWritten: attemptBytes, ETag: info.ETag, Err: err}
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: attemptBytes, ETag: info.ETag}
}

func parseTotal(contentRange string) (int64, bool) {
	var a, b, total int64
	if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &a, &b, &total); err != nil {
		return 0, false
	}
	return total, true
}
