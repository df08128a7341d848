package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"log/syslog"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", errors.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

// verbosityLevel maps -v 0|1|2 to errors only, informational, debug.
func verbosityLevel(v int) (LogLevel, error) {
	switch {
	case v < 0:
		return "", errors.Errorf("invalid verbosity %d (must be 0, 1 or 2)", v)
	case v == 0:
		return LogLevelError, nil
	case v == 1:
		return LogLevelInfo, nil
	default:
		return LogLevelDebug, nil
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates a text logger on w filtered at level.
func setupLogger(level LogLevel, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setupSyslogLogger logs to the system logger (facility daemon). Record levels map to
// syslog priorities.
func setupSyslogLogger(level LogLevel) (*slog.Logger, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, syslogTag)
	if err != nil {
		return nil, errors.Wrap(err, "connect to syslog")
	}
	return slog.New(newSyslogHandler(w, level.slogLevel())), nil
}

// syslogWriter is the subset of *syslog.Writer the handler uses.
type syslogWriter interface {
	Err(m string) error
	Warning(m string) error
	Info(m string) error
	Debug(m string) error
}

// syslogHandler formats records with a text handler into a shared buffer, then sends
// each line at the matching syslog priority.
type syslogHandler struct {
	slog.Handler

	mu  *sync.Mutex
	buf *bytes.Buffer
	w   syslogWriter
}

func newSyslogHandler(w syslogWriter, level slog.Level) *syslogHandler {
	buf := &bytes.Buffer{}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// syslog stamps its own time and priority.
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			return a
		},
	}
	return &syslogHandler{
		Handler: slog.NewTextHandler(buf, opts),
		mu:      &sync.Mutex{},
		buf:     buf,
		w:       w,
	}
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	line := strings.TrimSuffix(h.buf.String(), "\n")

	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(line)
	default:
		return h.w.Debug(line)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &syslogHandler{Handler: h.Handler.WithAttrs(attrs), mu: h.mu, buf: h.buf, w: h.w}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	return &syslogHandler{Handler: h.Handler.WithGroup(name), mu: h.mu, buf: h.buf, w: h.w}
}
