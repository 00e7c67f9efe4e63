package download

import (
	"context"
	"fmt"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/sidecar"
)

// sparseStrategy (s2_sparse) fetches fixed-size segments in a non-linear
// order with one ranged GET per segment, marking bitmap bits as segments
// fsync. Servers that degrade on long sequential reads never see one.
type sparseStrategy struct{}

func (s *sparseStrategy) Name() string { return StrategySparse }

func (s *sparseStrategy) Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool {
	return info != nil && info.AcceptRanges && info.ContentLength != nil
}

func (s *sparseStrategy) Fetch(ctx context.Context, req *Request) Result {
	info := req.Info
	if info == nil || info.ContentLength == nil {
		return Result{Strategy: s.Name(), Err: newError(ClassUnsupported, "length_unknown", nil)}
	}
	total := *info.ContentLength
	if total == 0 {
		return finishEmpty(req, s.Name())
	}
	segSize := req.segmentSize()

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
	for _, idx := range sparseOrder(sc.Segments.Bitmap.Len()) {
		if sc.Segments.Bitmap.IsSet(idx) {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: classifyTransport(ctx, cerr)}
		}
		start, end := sidecar.SegmentRange(idx, total, segSize)
		resp, err := req.Client.RangeGet(ctx, req.URL, start, end, sc.ETag)
		if err != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: classifyTransport(ctx, err)}
		}
		if err := checkRangeResponse(resp, start); err != nil {
			resp.Body.Close()
			if ClassOf(err) == ClassValidatorChanged {
				req.resetPartial("validator changed during transfer")
			}
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: err}
		}
		if err := checkETag(resp.Header.Get("ETag"), sc.ETag); err != nil {
			resp.Body.Close()
			req.resetPartial("validator changed during transfer")
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: err}
		}
		written, copyErr := copyBody(ctx, f, start, resp.Body, req.Monitor)
		resp.Body.Close()
		want := end - start + 1
		if copyErr == nil && written < want {
			copyErr = newError(ClassRetryable, "truncated_body",
				fmt.Errorf("segment %d got %d of %d bytes", idx, written, want))
		}
		if copyErr != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: copyErr}
		}
		if err := f.Sync(); err != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: classifyTransport(ctx, err)}
		}
		attemptBytes += written
		sc, err = req.Store.Update(req.Dest, func(s *sidecar.Sidecar) {
			segs := s.EnsureSegments(total, segSize)
			segs.Bitmap.Set(idx)
			s.RecountBytes()
		})
		if err != nil {
			return Result{Strategy: s.Name(), BytesWritten: attemptBytes, Err: classifyTransport(ctx, err)}
		}
	}
	if !sc.Segments.Bitmap.Complete() {
		return Result{Strategy: s.Name(), BytesWritten: attemptBytes,
			Err: newError(ClassRetryable, "segments_incomplete", nil)}
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: attemptBytes, ETag: info.ETag}
}

// sparseOrder yields segment 0, the last segment, then the remaining
// indices by repeated bisection so probes land all over the file early.
func sparseOrder(n int) []int {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	order := make([]int, 0, n)
	order = append(order, 0, n-1)
	type span struct{ lo, hi int }
	queue := []span{{1, n - 2}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.lo > cur.hi {
			continue
		}
		mid := cur.lo + (cur.hi-cur.lo)/2
		order = append(order, mid)
		queue = append(queue, span{cur.lo, mid - 1}, span{mid + 1, cur.hi})
	}
	return order
}
