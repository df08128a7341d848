package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// newDaemonLogger logs to syslog in the detached child and to stderr otherwise.
func newDaemonLogger(cfg Config) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	if isDaemonChild() {
		return setupSyslogLogger(level)
	}
	return setupLogger(level, os.Stderr), nil
}

// runDaemon takes the lock, opens both mixers and runs the watch loop plus the
// optional state surfaces until a signal or a fatal error. Every exit after the
// lock is taken goes through guard.Shutdown. Conditions that end in exit status 0
// (signal, already running) return nil.
func runDaemon(ctx context.Context, cfg Config, open DeviceOpener, logger *slog.Logger) error {
	guard := NewGuard(logger)
	if err := guard.AcquireLock(cfg.Daemon.LockFile); err != nil {
		var busy *LockBusyError
		if errors.As(err, &busy) {
			logger.Warn("exiting: only one instance of mixsync can run", "lock_file", busy.Path)
			return nil
		}
		return err
	}

	ctx, stop := guard.NotifyContext(ctx)
	defer stop()

	var src, dst *MixerHandle
	err := func() error {
		var err error
		src, err = OpenMixerHandle(open, cfg.Source.Device, cfg.Source.Control, logger.With("side", "source"))
		if err != nil {
			return err
		}
		dst, err = OpenMixerHandle(open, cfg.Target.Device, cfg.Target.Control, logger.With("side", "target"))
		if err != nil {
			return err
		}
		return runSync(ctx, cfg, src, dst, logger)
	}()

	// A signal wins over the context.Canceled it produces downstream.
	cause := err
	if c := context.Cause(ctx); c != nil && (err == nil || errors.Is(err, context.Canceled)) {
		cause = c
	}
	guard.Shutdown(cause, src, dst)

	if exitCode(cause) == 0 {
		return nil
	}
	return cause
}

// runSync derives the gain and runs the synchronizer alongside the enabled state
// surfaces. The first fatal error stops everything.
func runSync(ctx context.Context, cfg Config, src, dst *MixerHandle, logger *slog.Logger) error {
	mode, err := parseMappingMode(cfg.Mapping.Mode)
	if err != nil {
		return &ConfigurationError{Msg: err.Error()}
	}

	gain, err := ComputeGain(src.Range(), dst.Range(), cfg.Mapping.MaxVolume, mode)
	if err != nil {
		return err
	}
	logger.Debug("multiplier and differential", "multiplier", gain.Multiplier, "offset", gain.Offset)
	if gain.Muted {
		logger.Warn("maximum volume ceiling is at most 1, target stays muted", "max_volume", cfg.Mapping.MaxVolume)
	}

	broadcastBuf := 0
	if cfg.State.WsAddr != "" {
		broadcastBuf = stateBroadcastBuffer
	}
	store := NewStateStore(StateSnapshot{
		Source:    ControlState{Device: src.Device, Control: src.ControlName, Range: src.Range()},
		Target:    ControlState{Device: dst.Device, Control: dst.ControlName, Range: dst.Range()},
		Mode:      mode,
		MaxVolume: cfg.Mapping.MaxVolume,
		Gain:      gain,
		StartedAt: time.Now(),
	}, broadcastBuf)

	syncer := NewSynchronizer(SynchronizerConfig{
		Source: src,
		Target: dst,
		Gain:   gain,
		Mode:   mode,
		State:  store,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := syncer.Run(gctx); err != nil {
			return err
		}
		// Run only returns nil once gctx is done; report why.
		return context.Cause(gctx)
	})

	if addr := cfg.State.WsAddr; addr != "" {
		hub := NewHub(logger, wsClientSendBuffer, stateBroadcastBuffer)
		srv := NewStateServer(logger, store, hub)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, hub, store.Broadcasts(), logger)
			return nil
		})
		g.Go(func() error {
			return runStateServer(gctx, addr, srv.Handler(), logger)
		})
	}

	if path := cfg.State.StatusSocket; path != "" {
		g.Go(func() error {
			return runStatusServer(gctx, path, store, logger)
		})
	}

	logger.Info("synchronizing",
		"source", src.Device+"/"+src.ControlName,
		"target", dst.Device+"/"+dst.ControlName,
		"mode", mode,
		"max_volume", cfg.Mapping.MaxVolume)

	return g.Wait()
}
