package download

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorCancelsOnStall(t *testing.T) {
	mon := NewMonitor(1 * time.Second)
	ctx, stop := mon.Watch(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("monitor did not cancel a stalled attempt")
	}
	err := classifyTransport(ctx, ctx.Err())
	assert.Equal(t, ClassStalled, err.Class)
	assert.Equal(t, "stalled", err.Render)
}

func TestMonitorProgressPreventsCancel(t *testing.T) {
	mon := NewMonitor(1 * time.Second)
	ctx, stop := mon.Watch(context.Background())
	defer stop()

	// Tick faster than the threshold for a while.
	for i := 0; i < 6; i++ {
		time.Sleep(300 * time.Millisecond)
		mon.Add(1024)
	}
	require.NoError(t, ctx.Err())
	assert.Equal(t, int64(6*1024), mon.Bytes())
}

func TestMonitorZeroThresholdNeverStalls(t *testing.T) {
	mon := NewMonitor(0)
	ctx, stop := mon.Watch(context.Background())
	defer stop()
	assert.False(t, mon.Stalled())
	require.NoError(t, ctx.Err())
}

func TestWatchPropagatesParentCancel(t *testing.T) {
	mon := NewMonitor(time.Minute)
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := mon.Watch(parent)
	defer stop()
	cancel()
	<-ctx.Done()
	err := classifyTransport(ctx, ctx.Err())
	assert.Equal(t, ClassFatal, err.Class)
	assert.Equal(t, "interrupted", err.Render)
}
