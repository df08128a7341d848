package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"Debug":   LogLevelDebug,
	}
	for in, want := range cases {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestVerbosityLevel(t *testing.T) {
	cases := map[int]LogLevel{0: LogLevelError, 1: LogLevelInfo, 2: LogLevelDebug, 5: LogLevelDebug}
	for v, want := range cases {
		got, err := verbosityLevel(v)
		if err != nil || got != want {
			t.Errorf("verbosityLevel(%d) = %q, %v; want %q", v, got, err, want)
		}
	}
	if _, err := verbosityLevel(-1); err == nil {
		t.Error("expected error for negative verbosity")
	}
}

func TestSetupLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(LogLevelInfo, &buf)

	logger.Debug("hidden")
	logger.Info("setting target volume", "raw", 42)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record leaked at info level: %s", out)
	}
	if !strings.Contains(out, "raw=42") {
		t.Errorf("expected info record, got %s", out)
	}
}

type fakeSyslog struct {
	lines map[string][]string
}

func (f *fakeSyslog) record(prio, m string) error {
	if f.lines == nil {
		f.lines = make(map[string][]string)
	}
	f.lines[prio] = append(f.lines[prio], m)
	return nil
}

func (f *fakeSyslog) Err(m string) error     { return f.record("err", m) }
func (f *fakeSyslog) Warning(m string) error { return f.record("warning", m) }
func (f *fakeSyslog) Info(m string) error    { return f.record("info", m) }
func (f *fakeSyslog) Debug(m string) error   { return f.record("debug", m) }

func TestSyslogHandler_MapsPriorities(t *testing.T) {
	w := &fakeSyslog{}
	logger := slog.New(newSyslogHandler(w, slog.LevelDebug)).With("component", "watch")

	logger.Error("boom")
	logger.Warn("careful")
	logger.Info("hello", "raw", 7)
	logger.Debug("details")

	for _, prio := range []string{"err", "warning", "info", "debug"} {
		if len(w.lines[prio]) != 1 {
			t.Fatalf("expected one %s line, got %v", prio, w.lines)
		}
	}
	line := w.lines["info"][0]
	if strings.Contains(line, "time=") || strings.Contains(line, "level=") {
		t.Errorf("syslog line carries time or level: %q", line)
	}
	if !strings.Contains(line, "component=watch") || !strings.Contains(line, "raw=7") {
		t.Errorf("unexpected syslog line: %q", line)
	}
}
