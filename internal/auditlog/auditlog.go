package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// MaxLogSize is the nominal cap on the log file. Compaction keeps the back
// half of the file by line count, so the real size after compaction can still
// exceed the cap when line lengths are uneven; the bound is approximate.
const MaxLogSize = 20 * 1024 * 1024

// Handler is a slog.Handler that appends human-readable lines to a single
// file. Stdin and stdout carry the MCP protocol, so the file is the only
// place diagnostics can go; stderr is reserved as a last-resort fallback.
type Handler struct {
	path     string
	maxBytes int64
	level    slog.Level
	fallback slog.Handler
	attrs    []slog.Attr
}

// NewHandler returns a handler appending to the file at path. Records below
// level are dropped.
func NewHandler(path string, level slog.Level) *Handler {
	return &Handler{
		path:     path,
		maxBytes: MaxLogSize,
		level:    level,
		fallback: tint.NewHandler(os.Stderr, &tint.Options{Level: level}),
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle writes one `[timestamp] LEVEL: message key=value ...` line. File
// failures degrade to the stderr fallback; logging never fails the caller's
// operation, so the returned error is always nil unless the fallback itself
// fails.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "[%s] %s: %s", ts.Format(time.RFC3339), r.Level.String(), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	if err := h.append(b.String()); err != nil {
		fmt.Fprintf(os.Stderr, "audit log write failed: %v\n", err)
		return h.fallback.Handle(context.Background(), r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	h2.fallback = h.fallback.WithAttrs(attrs)
	return &h2
}

func (h *Handler) WithGroup(string) slog.Handler {
	// Groups are flattened; the file is read by humans, not parsed.
	return h
}

// append writes one line, compacting first if the file has grown past the
// cap. Concurrent writers can race on the size check; the log is diagnostic,
// so an occasional double compaction is acceptable.
func (h *Handler) append(line string) error {
	if info, err := os.Stat(h.path); err == nil && info.Size() >= h.maxBytes {
		if err := h.compact(); err != nil {
			// Compaction failed; start the file over rather than grow
			// without bound.
			return os.WriteFile(h.path, []byte(line), 0o644)
		}
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// compact rewrites the file keeping the newer half of its lines.
func (h *Handler) compact() error {
	content, err := os.ReadFile(h.path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(content), "\n")
	return os.WriteFile(h.path, []byte(strings.Join(lines[len(lines)/2:], "\n")), 0o644)
}
