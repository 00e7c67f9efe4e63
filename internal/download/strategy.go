package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/sidecar"
)

// Strategy names as they appear in configuration, sidecars, and history.
const (
	StrategyDynamic   = "s1_dynamic"
	StrategySparse    = "s2_sparse"
	StrategyCurl      = "s3_curl"
	StrategyShortConn = "s4_shortconn"
	StrategyTailFirst = "s5_tailfirst"
)

// Request carries everything a strategy needs for one attempt. Strategies
// write only the partial file and checkpoint through the sidecar store;
// the final file is the manager's to create.
type Request struct {
	URL          string
	Dest         string
	DatasetSlug  string
	ResourceName string

	Info    *httpx.ProbeInfo
	Client  *httpx.Client
	Store   *sidecar.Store
	Cfg     config.DownloaderConfig
	Monitor *Monitor
	Log     zerolog.Logger
}

// Result is what a strategy attempt reports back. Errors carry a class
// from the closed taxonomy; strategies never panic upward.
type Result struct {
	OK           bool
	BytesWritten int64 // bytes written during this attempt
	Strategy     string
	ETag         string
	Err          error
}

type Strategy interface {
	Name() string
	// Applicable decides from probe results and config whether this
	// strategy can run at all; inapplicable strategies are skipped by the
	// cascade without an attempt record.
	Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool
	Fetch(ctx context.Context, req *Request) Result
}

// Registry returns the closed set of strategies keyed by name.
func Registry() map[string]Strategy {
	return map[string]Strategy{
		StrategyDynamic:   &dynamicStrategy{},
		StrategySparse:    &sparseStrategy{},
		StrategyCurl:      &curlStrategy{},
		StrategyShortConn: &shortConnStrategy{},
		StrategyTailFirst: &tailFirstStrategy{},
	}
}

const copyBufferSize = 256 * 1024

func (r *Request) segmentSize() int64 {
	return int64(r.Cfg.SparseSegmentMB) * 1024 * 1024
}

// chunkSize picks the transfer chunk from the configured size table and
// rounds it up to a multiple of the segment size so range boundaries stay
// aligned with the bitmap.
func (r *Request) chunkSize(contentLength *int64) int64 {
	table := r.Cfg.DynamicChunksMB
	mb := int64(table[0])
	if contentLength != nil {
		sizeMB := *contentLength / (1024 * 1024)
		switch {
		case sizeMB < 50:
			mb = int64(table[0])
		case sizeMB < 300:
			mb = int64(table[1])
		default:
			mb = int64(table[2])
		}
	}
	chunk := mb * 1024 * 1024
	seg := r.segmentSize()
	if chunk%seg != 0 {
		chunk = ((chunk / seg) + 1) * seg
	}
	return chunk
}

// openPart opens <dest>.part for writing, creating parents as needed.
// When size is known the file is extended to its final length so sparse
// WriteAt calls land where they should.
func (r *Request) openPart(size *int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(r.Dest), 0755); err != nil {
		return nil, classifyTransport(context.Background(), err)
	}
	f, err := os.OpenFile(sidecar.PartPath(r.Dest), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, classifyTransport(context.Background(), err)
	}
	if size != nil {
		if fi, err := f.Stat(); err == nil && fi.Size() != *size {
			if err := f.Truncate(*size); err != nil {
				f.Close()
				return nil, classifyTransport(context.Background(), err)
			}
		}
	}
	return f, nil
}

// copyBody streams a response body into the partial file at offset,
// feeding progress ticks and honoring cooperative cancellation at every
// read boundary. Returns bytes written, which may be short of the range
// on error.
func copyBody(ctx context.Context, f *os.File, offset int64, body io.Reader, mon *Monitor) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, classifyTransport(ctx, err)
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.WriteAt(buf[:n], offset+written); werr != nil {
				return written, classifyTransport(ctx, werr)
			}
			written += int64(n)
			if mon != nil {
				mon.Add(int64(n))
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, classifyTransport(ctx, rerr)
		}
	}
}

// checkRangeResponse validates the status of a ranged request. A 200 to a
// nonzero-offset range means the server ignored the Range header (or
// If-Range rejected the validator): resume is invalid.
func checkRangeResponse(resp *http.Response, offset int64) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return nil
	case http.StatusOK:
		if offset > 0 {
			return errValidatorChanged()
		}
		return nil
	default:
		return classifyStatus(resp.StatusCode)
	}
}

// checkETag compares an observed response ETag against the sidecar's.
func checkETag(observed, stored string) error {
	if observed != "" && stored != "" && observed != stored {
		return errValidatorChanged()
	}
	return nil
}

// resetPartial clears the partial file and bitmap after a validator
// change or before a whole-body restart; these are the only places a
// strategy shrinks bytes_written.
func (r *Request) resetPartial(note string) error {
	_, err := r.Store.Discard(r.Dest, note)
	return err
}

// markLinear checkpoints linear progress up to highWater: every fully
// covered segment gets its bit, and bytes_written follows the bitmap.
// highWater values that end mid-segment are rounded down so the bitmap
// never claims unfsynced bytes.
func markLinear(sc *sidecar.Sidecar, highWater, total, segSize int64) int64 {
	segs := sc.EnsureSegments(total, segSize)
	if highWater > total {
		highWater = total
	}
	if highWater < total {
		highWater -= highWater % segSize
	}
	n := segs.Bitmap.Len()
	for i := 0; i < n; i++ {
		segEnd := int64(i+1) * segSize
		if segEnd > total {
			segEnd = total
		}
		if segEnd <= highWater {
			segs.Bitmap.Set(i)
		}
	}
	sc.RecountBytes()
	return highWater
}

// contiguousPrefix returns the byte length of the unbroken run of marked
// segments from offset zero. Without a bitmap it falls back to
// bytes_written, which whole-body mode maintains linearly.
func contiguousPrefix(sc *sidecar.Sidecar, total, segSize int64) int64 {
	if sc.Segments == nil || sc.Segments.Bitmap.Len() == 0 {
		return sc.BytesWritten
	}
	var hw int64
	n := sc.Segments.Bitmap.Len()
	for i := 0; i < n; i++ {
		if !sc.Segments.Bitmap.IsSet(i) {
			break
		}
		end := int64(i+1) * sc.Segments.Size
		if end > total {
			end = total
		}
		hw = end
	}
	return hw
}

// skipMarked advances past segments a previous attempt already completed.
func skipMarked(sc *sidecar.Sidecar, hw, total, limit, segSize int64) int64 {
	if sc.Segments == nil {
		return hw
	}
	for hw < limit {
		i := int(hw / sc.Segments.Size)
		if i >= sc.Segments.Bitmap.Len() || !sc.Segments.Bitmap.IsSet(i) {
			return hw
		}
		end := int64(i+1) * sc.Segments.Size
		if end > total {
			end = total
		}
		hw = end
	}
	return hw
}

// linearFill downloads [resumeFrom, limit) in ascending chunk order with
// per-chunk checkpoints. Both S1's ranged mode, S4 (with short
// connections), and S5's head fill share it; issueRange abstracts the
// request flavor.
func linearFill(ctx context.Context, req *Request, f *os.File, total, limit, chunk int64,
	issueRange func(ctx context.Context, start, end int64, ifRange string) (*http.Response, error)) (int64, error) {

	segSize := req.segmentSize()
	sc, err := req.Store.Load(req.Dest)
	if err != nil {
		return 0, classifyTransport(ctx, err)
	}
	if sc == nil {
		sc = &sidecar.Sidecar{URL: req.URL}
	}
	// Resume from the contiguous marked prefix, not bytes_written: a prior
	// sparse attempt may have left holes behind scattered segments.
	hw := contiguousPrefix(sc, total, segSize)
	if hw > limit {
		hw = limit
	}
	ifRange := sc.ETag
	resumePoint := hw
	var attemptBytes int64

	for hw < limit {
		hw = skipMarked(sc, hw, total, limit, segSize)
		if hw >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return attemptBytes, classifyTransport(ctx, err)
		}
		start := hw
		reqStart := start
		if start == resumePoint && start > 0 && req.Cfg.OverlapBytes > 0 {
			// The first request of a resumed transfer starts an overlap
			// before the high-water mark and rewrites it, repairing any
			// tail block lost before its fsync.
			reqStart = start - req.Cfg.OverlapBytes
			if reqStart < 0 {
				reqStart = 0
			}
		}
		end := start + chunk
		if end > limit {
			end = limit
		}
		resp, err := issueRange(ctx, reqStart, end-1, ifRange)
		if err != nil {
			return attemptBytes, classifyTransport(ctx, err)
		}
		if err := checkRangeResponse(resp, reqStart); err != nil {
			resp.Body.Close()
			if ClassOf(err) == ClassValidatorChanged {
				req.resetPartial("validator changed during transfer")
			}
			return attemptBytes, err
		}
		if err := checkETag(resp.Header.Get("ETag"), ifRange); err != nil {
			resp.Body.Close()
			req.resetPartial("validator changed during transfer")
			return attemptBytes, err
		}
		written, copyErr := copyBody(ctx, f, reqStart, resp.Body, req.Monitor)
		resp.Body.Close()

		newHW := reqStart + written
		if newHW > hw {
			if err := f.Sync(); err != nil {
				return attemptBytes, classifyTransport(ctx, err)
			}
			var checkpointed int64
			updated, uerr := req.Store.Update(req.Dest, func(s *sidecar.Sidecar) {
				checkpointed = markLinear(s, newHW, total, segSize)
			})
			if uerr != nil {
				return attemptBytes, classifyTransport(ctx, uerr)
			}
			sc = updated
			attemptBytes += newHW - hw
			if checkpointed > hw {
				hw = checkpointed
			}
		}
		if copyErr != nil {
			return attemptBytes, copyErr
		}
		if newHW < end {
			return attemptBytes, newError(ClassRetryable, "truncated_body",
				fmt.Errorf("range ended at %d, expected %d", newHW, end))
		}
		hw = newHW
	}
	return attemptBytes, nil
}
