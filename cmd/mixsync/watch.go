package main

import (
	"context"
	"errors"
)

// ============================================================================
// Watch Loop
// ============================================================================
//
// States:
//   - Idle: blocked in source.Wait with no timeout
//   - Processing: drain every pending notification, then one read + Apply
//
// Rules:
//   - One Apply per wake-up, no matter how many notifications were coalesced.
//   - Wait, drain and read failures end the loop; the caller owns teardown.
//   - A failed target write is logged and the loop keeps going.
//   - ctx cancellation ends the loop with a nil error.
//
// ============================================================================

// Run applies the mapping once, then follows source notifications until ctx is done
// or a fatal error occurs.
func (s *Synchronizer) Run(ctx context.Context) error {
	// Subscribe before the first read so no change falls between the two.
	if err := s.source.Subscribe(); err != nil {
		return &DeviceWaitError{Err: err}
	}

	// Source and target may already disagree before any event arrives.
	if err := s.step(); err != nil {
		return err
	}

	for {
		if err := s.source.Wait(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.logger.Debug("watch loop stopping (context canceled)")
				return nil
			}
			return &DeviceWaitError{Err: err}
		}

		n, err := s.source.Drain()
		if err != nil {
			return &DeviceWaitError{Err: err}
		}
		s.logger.Debug("mixer events drained", "events", n)

		if err := s.step(); err != nil {
			return err
		}
	}
}

// step reads the source once and applies it.
func (s *Synchronizer) step() error {
	raw, err := s.source.Read()
	if err != nil {
		return &DeviceReadError{Err: err}
	}

	if _, err := s.Apply(raw); err != nil {
		if isWriteError(err) {
			s.logger.Warn("setting target mixer failed", "raw", raw, "error", err)
			return nil
		}
		return err
	}
	return nil
}
