package download

import (
	"context"
	"net/http"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
)

// shortConnStrategy (s4_shortconn) transfers small chunks with
// Connection: close on every request, for servers that grow unstable over
// a persistent connection. Ordering is S1's ascending fill.
type shortConnStrategy struct{}

func (s *shortConnStrategy) Name() string { return StrategyShortConn }

func (s *shortConnStrategy) Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool {
	return true
}

// chunk returns the snail chunk size clamped so it evenly divides the
// segment size and bitmap alignment holds.
func (s *shortConnStrategy) chunk(req *Request) int64 {
	chunk := int64(req.Cfg.SnailChunksKB) * 1024
	seg := req.segmentSize()
	if chunk <= 0 || chunk > seg {
		return seg
	}
	for seg%chunk != 0 {
		chunk /= 2
	}
	if chunk < 64*1024 {
		chunk = 64 * 1024
		for seg%chunk != 0 && chunk > 1 {
			chunk /= 2
		}
	}
	return chunk
}

func (s *shortConnStrategy) Fetch(ctx context.Context, req *Request) Result {
	info := req.Info
	if info == nil || !info.AcceptRanges || info.ContentLength == nil {
		// Without ranges a short-connection chunk walk is impossible; S1's
		// whole-body GET (on a keep-alive connection) runs in its place.
		d := &dynamicStrategy{}
		res := d.wholeBody(ctx, req)
		res.Strategy = s.Name()
		return res
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

	written, err := linearFill(ctx, req, f, total, total, s.chunk(req),
		func(ctx context.Context, start, end int64, ifRange string) (*http.Response, error) {
			return req.Client.ShortGet(ctx, req.URL, start, end, ifRange)
		})
	if err != nil {
		return Result{Strategy: s.Name(), BytesWritten: written, ETag: info.ETag, Err: err}
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: written, ETag: info.ETag}
}
