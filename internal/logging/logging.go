// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Dir    string // empty = no log file
}

// New returns a logger for component that writes to stderr and, when
// opts.Dir is set, to <Dir>/<component>_YYYYMMDD.log. The returned closer
// releases the file. Failing to open or write the file never fails logging.
func New(component string, opts Options) (*slog.Logger, io.Closer) {
	file := openDailyFile(opts.Dir, component, time.Now())

	var out io.Writer = os.Stderr
	if file != nil {
		out = io.MultiWriter(os.Stderr, &quietWriter{w: file})
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler).With("component", component)
	if file == nil {
		return logger, io.NopCloser(nil)
	}
	return logger, file
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileName is the log file name for component on day.
func FileName(component string, day time.Time) string {
	return fmt.Sprintf("%s_%s.log", component, day.Format("20060102"))
}

func openDailyFile(dir, component string, now time.Time) *os.File {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName(component, now)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return f
}

// quietWriter reports success even when the underlying write fails, so a
// full disk cannot stop the MultiWriter from reaching stderr. After the
// first failure it stops trying.
type quietWriter struct {
	mu     sync.Mutex
	w      io.Writer
	broken bool
}

func (q *quietWriter) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.broken {
		if _, err := q.w.Write(p); err != nil {
			q.broken = true
		}
	}
	return len(p), nil
}
