package download

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/sidecar"
)

// dynamicStrategy (s1_dynamic) streams missing bytes linearly with
// keep-alive ranged GETs, sizing chunks from the content length. When the
// origin does not support ranges it degrades to a whole-body GET.
type dynamicStrategy struct{}

func (s *dynamicStrategy) Name() string { return StrategyDynamic }

func (s *dynamicStrategy) Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool {
	return true
}

func (s *dynamicStrategy) Fetch(ctx context.Context, req *Request) Result {
	info := req.Info
	if info == nil || !info.AcceptRanges || info.ContentLength == nil {
		return s.wholeBody(ctx, req)
	}
	total := *info.ContentLength
	if total == 0 {
		return finishEmpty(req, s.Name())
	}
	f, err := req.openPart(info.ContentLength)
	if err != nil {
		return Result{Strategy: s.Name(), Err: err}
	}
	defer f.Close()

	chunk := req.chunkSize(info.ContentLength)
	written, err := linearFill(ctx, req, f, total, total, chunk,
		func(ctx context.Context, start, end int64, ifRange string) (*http.Response, error) {
			return req.Client.RangeGet(ctx, req.URL, start, end, ifRange)
		})
	if err != nil {
		return Result{Strategy: s.Name(), BytesWritten: written, ETag: info.ETag, Err: err}
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: written, ETag: info.ETag}
}

// wholeBody is the degraded path: one GET, streamed into the partial file
// from offset zero, with periodic checkpoints of bytes_written and no
// bitmap. The size is recorded post-hoc when the origin omitted
// Content-Length.
func (s *dynamicStrategy) wholeBody(ctx context.Context, req *Request) Result {
	resp, err := req.Client.Get(ctx, req.URL)
	if err != nil {
		return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Strategy: s.Name(), Err: classifyStatus(resp.StatusCode)}
	}
	etag := resp.Header.Get("ETag")

	// No ranges means no resume: a fresh attempt refetches everything, so
	// drop any prior partial state before truncating the file under it.
	if sc, _ := req.Store.Load(req.Dest); sc != nil && sc.BytesWritten > 0 {
		if err := req.resetPartial("restarted whole-body transfer"); err != nil {
			return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
		}
	}

	f, err := req.openPart(nil)
	if err != nil {
		return Result{Strategy: s.Name(), Err: err}
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
	}

	checkpointEvery := req.chunkSize(req.infoLength())
	var written, lastCheckpoint int64
	buf := make([]byte, copyBufferSize)
	for {
		if cerr := ctx.Err(); cerr != nil {
			return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, cerr)}
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], written); werr != nil {
				return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, werr)}
			}
			written += int64(n)
			if req.Monitor != nil {
				req.Monitor.Add(int64(n))
			}
			if written-lastCheckpoint >= checkpointEvery {
				if err := checkpointWholeBody(req, f, written, etag, false); err != nil {
					return Result{Strategy: s.Name(), BytesWritten: written, Err: err}
				}
				lastCheckpoint = written
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, rerr)}
		}
	}
	if resp.ContentLength > 0 && written < resp.ContentLength {
		return Result{Strategy: s.Name(), BytesWritten: written,
			Err: newError(ClassRetryable, "truncated_body", nil)}
	}
	if err := checkpointWholeBody(req, f, written, etag, true); err != nil {
		return Result{Strategy: s.Name(), BytesWritten: written, Err: err}
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: written, ETag: etag}
}

func (r *Request) infoLength() *int64 {
	if r.Info == nil {
		return nil
	}
	return r.Info.ContentLength
}

func checkpointWholeBody(req *Request, f interface{ Sync() error }, written int64, etag string, final bool) error {
	if err := f.Sync(); err != nil {
		return classifyTransport(context.Background(), err)
	}
	_, err := req.Store.Update(req.Dest, func(sc *sidecar.Sidecar) {
		sc.BytesWritten = written
		if final && sc.ContentLength == nil {
			// Post-hoc size record for origins that omit Content-Length.
			size := written
			sc.ContentLength = &size
		}
		if etag != "" {
			sc.ETag = etag
		}
	})
	if err != nil {
		return classifyTransport(context.Background(), err)
	}
	return nil
}

// finishEmpty handles content_length = 0: create the empty partial and
// report success so the normal verify and commit path runs.
func finishEmpty(req *Request, name string) Result {
	f, err := req.openPart(nil)
	if err != nil {
		return Result{Strategy: name, Err: err}
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return Result{Strategy: name, Err: classifyTransport(context.Background(), err)}
	}
	if err := f.Sync(); err != nil {
		return Result{Strategy: name, Err: classifyTransport(context.Background(), err)}
	}
	if _, err := req.Store.Update(req.Dest, func(sc *sidecar.Sidecar) {
		sc.BytesWritten = 0
	}); err != nil {
		return Result{Strategy: name, Err: classifyTransport(context.Background(), err)}
	}
	var etag string
	if req.Info != nil {
		etag = req.Info.ETag
	}
	return Result{OK: true, Strategy: name, ETag: etag}
}
