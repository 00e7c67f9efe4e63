package history

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndTail(t *testing.T) {
	state := t.TempDir()
	log := Open(state)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Attempt{
			RunID:       "run-1",
			ResourceURL: "https://example.org/f",
			DestPath:    "/data/f",
			Strategy:    "s1_dynamic",
			Bytes:       int64(i),
			OK:          i == 4,
		}))
	}

	all, err := log.Tail(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.False(t, all[0].OK)
	assert.True(t, all[4].OK)

	last2, err := log.Tail(2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, int64(3), last2[0].Bytes)
	assert.Equal(t, int64(4), last2[1].Bytes)
}

func TestTailMissingFile(t *testing.T) {
	attempts, err := Open(t.TempDir()).Tail(10)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestRecordsAreOnePerLine(t *testing.T) {
	state := t.TempDir()
	log := Open(state)
	require.NoError(t, log.Append(Attempt{RunID: "r", Strategy: "s2_sparse", OK: true}))
	require.NoError(t, log.Append(Attempt{RunID: "r", Strategy: "s2_sparse", OK: false, Error: "stalled"}))

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"))
		assert.True(t, strings.HasSuffix(line, "}"))
	}
}
