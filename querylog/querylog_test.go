package querylog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_traceCreatesFileOnDemand(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	l, err := New(dir, clock)
	require.NoError(t, err)

	l.Trace(0x1234, "recursing for example.com.")
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(filepath.Join(dir, "log-4660.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "recursing for example.com.")
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\.\d{3}\] `, string(contents))
}

func Test_traceAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	l, err := New(dir, clock)
	require.NoError(t, err)

	l.Trace(1, "first line")
	l.Trace(1, "second line")
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(filepath.Join(dir, "log-1.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "first line")
	assert.Contains(t, string(contents), "second line")
}

func Test_newRemovesStaleTraceFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "log-999.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := New(dir, clockwork.NewFakeClock())
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
