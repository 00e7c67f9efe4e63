package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/sidecar"
)

// curlStrategy (s3_curl) shells out to curl with resume against the
// partial file. Useful when the in-process transport and the origin
// disagree about something neither side will admit to.
type curlStrategy struct{}

const curlRateLimit = "2M"

func (s *curlStrategy) Name() string { return StrategyCurl }

func (s *curlStrategy) Applicable(info *httpx.ProbeInfo, cfg config.DownloaderConfig) bool {
	if !cfg.EnableCurl {
		return false
	}
	_, err := exec.LookPath(cfg.CurlPath)
	return err == nil
}

func (s *curlStrategy) Fetch(ctx context.Context, req *Request) Result {
	part := sidecar.PartPath(req.Dest)
	if err := os.MkdirAll(filepath.Dir(part), 0755); err != nil {
		return Result{Strategy: s.Name(), Err: classifyTransport(ctx, err)}
	}
	var before int64
	if fi, err := os.Stat(part); err == nil {
		before = fi.Size()
	}
	args := []string{
		"--silent", "--show-error", "--fail",
		"--location", "--max-redirs", "10",
		"--retry", strconv.Itoa(req.Cfg.RetriesPerStrategy),
		"--retry-delay", "2",
		"--limit-rate", curlRateLimit,
		"--continue-at", "-",
		"--output", part,
		req.URL,
	}
	cmd := exec.CommandContext(ctx, req.Cfg.CurlPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// curl owns the socket, so liveness comes from watching the partial
	// file grow.
	watchDone := make(chan struct{})
	go s.watchProgress(ctx, req, part, watchDone)

	err := cmd.Run()
	close(watchDone)

	fi, statErr := os.Stat(part)
	var size int64
	if statErr == nil {
		size = fi.Size()
	}
	written := size - before

	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, cerr)}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Strategy: s.Name(), BytesWritten: written, Err: curlExitError(exitErr.ExitCode(), stderr.String())}
		}
		return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, err)}
	}

	if req.Info != nil && req.Info.ContentLength != nil && size != *req.Info.ContentLength {
		return Result{Strategy: s.Name(), BytesWritten: written,
			Err: newError(ClassRetryable, "truncated_body",
				fmt.Errorf("curl wrote %d of %d bytes", size, *req.Info.ContentLength))}
	}

	// The tool wrote linearly; checkpoint the whole file as covered.
	if _, uerr := req.Store.Update(req.Dest, func(sc *sidecar.Sidecar) {
		if req.Info != nil && req.Info.ContentLength != nil {
			markLinear(sc, size, *req.Info.ContentLength, req.segmentSize())
		} else {
			sc.BytesWritten = size
			recorded := size
			sc.ContentLength = &recorded
		}
	}); uerr != nil {
		return Result{Strategy: s.Name(), BytesWritten: written, Err: classifyTransport(ctx, uerr)}
	}
	var etag string
	if req.Info != nil {
		etag = req.Info.ETag
	}
	return Result{OK: true, Strategy: s.Name(), BytesWritten: written, ETag: etag}
}

// watchProgress polls the partial file size and forwards deltas as
// progress ticks until the command finishes.
func (s *curlStrategy) watchProgress(ctx context.Context, req *Request, part string, done <-chan struct{}) {
	var last int64
	if fi, err := os.Stat(part); err == nil {
		last = fi.Size()
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fi, err := os.Stat(part)
			if err != nil {
				continue
			}
			if n := fi.Size(); n > last {
				if req.Monitor != nil {
					req.Monitor.Add(n - last)
				}
				last = n
			}
		}
	}
}

func curlExitError(code int, stderr string) *Error {
	switch code {
	case 6:
		return newError(ClassFatal, "dns_unresolved", fmt.Errorf("curl: %s", stderr))
	case 7:
		return newError(ClassRetryable, "connection_error", fmt.Errorf("curl: %s", stderr))
	case 18:
		return newError(ClassRetryable, "truncated_body", fmt.Errorf("curl: %s", stderr))
	case 22:
		return newError(ClassRetryable, "curl_http_error", fmt.Errorf("curl: %s", stderr))
	case 23:
		return newError(ClassFatal, "disk_full", fmt.Errorf("curl: %s", stderr))
	case 28:
		return newError(ClassRetryable, "read_timeout", fmt.Errorf("curl: %s", stderr))
	case 33, 36:
		return newError(ClassUnsupported, "range_not_satisfiable", fmt.Errorf("curl: %s", stderr))
	default:
		return newError(ClassRetryable, fmt.Sprintf("curl_exit:%d", code), fmt.Errorf("curl: %s", stderr))
	}
}
