package logging

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestFileName(t *testing.T) {
	day := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "server_20240102.log", FileName("server", day))
}

func TestNew_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer := New("peer", Options{Level: "info", Format: "json", Dir: dir})

	logger.Info("client_added", "client_id", 1)
	logger.Debug("below_level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName("peer", time.Now())))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"client_added"`)
	assert.Contains(t, string(data), `"component":"peer"`)
	assert.NotContains(t, string(data), "below_level")
}

func TestNew_UnusableDirStillLogs(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	logger, closer := New("server", Options{Dir: filepath.Join(blocker, "logs")})
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("still_here") })
	assert.NoError(t, closer.Close())
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write([]byte) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestQuietWriter_SwallowsFailures(t *testing.T) {
	fw := &failingWriter{}
	q := &quietWriter{w: fw}

	n, err := q.Write([]byte("one"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = q.Write([]byte("two"))
	assert.NoError(t, err)
	assert.Equal(t, 1, fw.calls, "writer is abandoned after the first failure")
}
