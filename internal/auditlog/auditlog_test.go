package auditlog

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerWritesFormattedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.log")
	log := slog.New(NewHandler(path, slog.LevelInfo))

	log.Info("server started", "model", "sonar-pro")
	log.Warn("odd response")
	log.Error("request failed", "error", "boom")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "["), "line should start with a timestamp")
	assert.Contains(t, lines[0], "] INFO: server started model=sonar-pro")
	assert.Contains(t, lines[1], "] WARN: odd response")
	assert.Contains(t, lines[2], "] ERROR: request failed error=boom")
}

func TestHandlerLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.log")
	log := slog.New(NewHandler(path, slog.LevelInfo))

	log.Debug("noisy detail")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "debug record should not create the file")
}

func TestHandlerWithAttrs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.log")
	log := slog.New(NewHandler(path, slog.LevelInfo)).With("tool", "perplexity_ask")

	log.Info("processing")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO: processing tool=perplexity_ask")
}

func TestCompactionKeepsRecentHalf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-server.log")

	var buf bytes.Buffer
	for i := range 100 {
		fmt.Fprintf(&buf, "entry-%03d\n", i)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	h := NewHandler(path, slog.LevelInfo)
	h.maxBytes = 1 // force the size check to trip on the next write

	slog.New(h).Info("after compaction")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	// 100 entries plus the trailing newline split to 101 lines; the back
	// half is 51, minus the empty tail, plus the new entry.
	assert.InDelta(t, 51, len(lines), 2)
	assert.Equal(t, "entry-050", lines[0], "retained lines should be the most recent ones")
	assert.Contains(t, lines[len(lines)-1], "INFO: after compaction")
	assert.NotContains(t, string(data), "entry-049")
}

func TestFallbackOnUnwritablePath(t *testing.T) {
	// A directory path makes every file operation fail.
	h := NewHandler(t.TempDir(), slog.LevelInfo)
	var buf bytes.Buffer
	h.fallback = slog.NewTextHandler(&buf, nil)

	err := h.Handle(t.Context(), record("still logged"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "still logged")
}

func record(msg string) slog.Record {
	var r slog.Record
	r.Message = msg
	r.Level = slog.LevelError
	return r
}
