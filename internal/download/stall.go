package download

import (
	"context"
	"sync/atomic"
	"time"
)

// Monitor observes progress ticks from a running strategy and cancels the
// attempt's context when bytes_written stops advancing for the configured
// threshold. Cancellation is cooperative: strategies check the context at
// chunk and segment boundaries, so in-flight I/O completes and is
// checkpointed before the strategy returns.
type Monitor struct {
	threshold time.Duration
	bytes     atomic.Int64
	lastTick  atomic.Int64 // monotonic-ish nanos of last progress
}

func NewMonitor(threshold time.Duration) *Monitor {
	m := &Monitor{threshold: threshold}
	m.lastTick.Store(time.Now().UnixNano())
	return m
}

// Add records n freshly written bytes. Called by strategies at least once
// per second while actively transferring.
func (m *Monitor) Add(n int64) {
	if n <= 0 {
		return
	}
	m.bytes.Add(n)
	m.lastTick.Store(time.Now().UnixNano())
}

// Bytes returns the bytes observed so far in this attempt.
func (m *Monitor) Bytes() int64 { return m.bytes.Load() }

// Stalled reports whether the threshold has elapsed without progress.
func (m *Monitor) Stalled() bool {
	if m.threshold <= 0 {
		return false
	}
	last := time.Unix(0, m.lastTick.Load())
	return time.Since(last) >= m.threshold
}

// Watch derives a context that is canceled with a stalled cause once no
// progress is observed within the threshold. The returned stop func must
// be called when the attempt ends.
func (m *Monitor) Watch(ctx context.Context) (context.Context, func()) {
	if m.threshold <= 0 {
		return ctx, func() {}
	}
	wctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-wctx.Done():
				return
			case <-ticker.C:
				if m.Stalled() {
					cancel(errStalled())
					return
				}
			}
		}
	}()
	return wctx, func() {
		close(done)
		cancel(nil)
	}
}
