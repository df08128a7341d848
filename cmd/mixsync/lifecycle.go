package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Lifecycle Guard
// ============================================================================
//
// The guard owns the single-instance lock and the one teardown path. Every way
// out of the daemon (signal, fatal device error, startup failure after the lock
// was taken) ends in Shutdown, which runs exactly once.
//
// ============================================================================

// SignalShutdown is the cancellation cause recorded when a termination signal arrives.
type SignalShutdown struct {
	Signal os.Signal
}

func (s *SignalShutdown) Error() string { return "received " + s.Signal.String() }

// Guard holds the lock file and performs teardown.
type Guard struct {
	logger *slog.Logger

	lockPath string
	lockFile *os.File

	once sync.Once
}

func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: logger}
}

// AcquireLock takes an exclusive non-blocking lock on path and writes our pid into it.
// A lock held elsewhere returns LockBusyError and leaves the file untouched.
func (g *Guard) AcquireLock(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create lock directory %s", dir)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open lock file %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockBusyError{Path: path}
		}
		return errors.Wrapf(err, "lock %s", path)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "truncate lock file %s", path)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write lock file %s", path)
	}

	g.lockPath = path
	g.lockFile = f
	g.logger.Debug("lock acquired", "path", path, "pid", os.Getpid())
	return nil
}

// NotifyContext returns a context canceled on SIGINT or SIGTERM. The signal is
// available afterwards through context.Cause as a *SignalShutdown.
func (g *Guard) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigc:
			cancel(&SignalShutdown{Signal: sig})
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigc)
		cancel(context.Canceled)
	}
}

// Shutdown is the single teardown. It closes every handle (nil handles are fine),
// removes and unlocks the lock file, then logs why the daemon stopped.
// Later calls do nothing.
func (g *Guard) Shutdown(cause error, handles ...io.Closer) {
	g.once.Do(func() {
		for _, h := range handles {
			if h == nil {
				continue
			}
			if err := h.Close(); err != nil {
				g.logger.Warn("closing mixer handle failed", "error", err)
			}
		}

		g.releaseLock()

		var sig *SignalShutdown
		switch {
		case cause == nil || errors.Is(cause, context.Canceled):
			g.logger.Info("shutting down", "reason", "stopped")
		case errors.As(cause, &sig):
			g.logger.Info("shutting down", "reason", sig.Signal.String())
		default:
			g.logger.Error("shutting down after fatal error", "error", cause)
		}
	})
}

func (g *Guard) releaseLock() {
	if g.lockFile == nil {
		return
	}
	// Remove before unlocking so a new instance never locks a file we then delete.
	if err := os.Remove(g.lockPath); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("removing lock file failed", "path", g.lockPath, "error", err)
	}
	_ = unix.Flock(int(g.lockFile.Fd()), unix.LOCK_UN)
	if err := g.lockFile.Close(); err != nil {
		g.logger.Warn("closing lock file failed", "path", g.lockPath, "error", err)
	}
	g.lockFile = nil
}

// exitCode maps the daemon's final error to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var (
		sig  *SignalShutdown
		busy *LockBusyError
	)
	switch {
	case errors.As(err, &sig), errors.As(err, &busy), errors.Is(err, context.Canceled):
		return 0
	default:
		return 1
	}
}
