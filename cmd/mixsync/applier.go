package main

import (
	"context"
	"log/slog"
	"time"
)

// ApplyResult is the outcome of one Apply call.
type ApplyResult int

const (
	ApplyUnchanged ApplyResult = iota
	ApplyApplied
)

func (r ApplyResult) String() string {
	switch r {
	case ApplyApplied:
		return "applied"
	default:
		return "unchanged"
	}
}

// sourceMixer is what the watch loop needs from the source handle.
type sourceMixer interface {
	Read() (int64, error)
	Subscribe() error
	Wait(ctx context.Context) error
	Drain() (int, error)
}

// targetMixer is what the applier needs from the target handle.
type targetMixer interface {
	Range() MixerRange
	WriteRaw(value int64) error
	WriteNormalized(fraction float64) error
}

// volumeCache is the last source raw value handed to the target. An empty cache never
// matches, so the first apply after startup always writes.
type volumeCache struct {
	value int64
	valid bool
}

// Synchronizer is the engine's context object. It is owned by the goroutine running
// Run; nothing else touches the handles, gain or cache.
type Synchronizer struct {
	source sourceMixer
	target targetMixer
	gain   GainParameters
	mode   MappingMode

	cache volumeCache

	state  *StateStore
	logger *slog.Logger
	now    func() time.Time
}

// SynchronizerConfig bundles what NewSynchronizer needs.
type SynchronizerConfig struct {
	Source sourceMixer
	Target targetMixer
	Gain   GainParameters
	Mode   MappingMode

	// State receives every apply outcome. Optional.
	State *StateStore
}

// NewSynchronizer builds a synchronizer with an empty cache.
func NewSynchronizer(cfg SynchronizerConfig, logger *slog.Logger) *Synchronizer {
	mode := cfg.Mode
	if mode == "" {
		mode = MappingNormalized
	}
	return &Synchronizer{
		source: cfg.Source,
		target: cfg.Target,
		gain:   cfg.Gain,
		mode:   mode,
		state:  cfg.State,
		logger: logger,
		now:    time.Now,
	}
}

// Apply maps a freshly read source raw value onto the target.
//
// Duplicate values (multi-channel controls fire one event per channel) return
// ApplyUnchanged without touching the target. A failed write returns a DeviceWriteError;
// the cache keeps the new value, so only the next distinct change retries.
func (s *Synchronizer) Apply(raw int64) (ApplyResult, error) {
	if s.cache.valid && s.cache.value == raw {
		s.state.recordSkipped()
		return ApplyUnchanged, nil
	}
	s.cache = volumeCache{value: raw, valid: true}

	var (
		targetValue float64
		err         error
	)
	switch s.mode {
	case MappingLinear:
		v := linearTarget(raw, s.gain, s.target.Range())
		targetValue = float64(v)
		err = s.target.WriteRaw(v)
	default:
		targetValue = normalizedTarget(raw, s.gain)
		err = s.target.WriteNormalized(targetValue)
	}

	if err != nil {
		s.state.recordFailed(raw, err, s.now())
		return ApplyUnchanged, &DeviceWriteError{Err: err}
	}

	s.logger.Info("setting target volume", "raw", raw, "target_value", targetValue, "mode", s.mode)
	s.state.recordApplied(raw, targetValue, s.now())
	return ApplyApplied, nil
}

// normalizedTarget returns the 0..1 request handed to the perceptual write.
func normalizedTarget(raw int64, gain GainParameters) float64 {
	if gain.Muted {
		return 0
	}
	f := 0.01 * (float64(raw)*gain.Multiplier - float64(gain.Offset))
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// linearTarget returns the raw target value, truncated and clamped to the target range.
// Out-of-range results are clamped rather than skipped, unlike alsa-lib's
// snd_mixer_selem_set_playback_volume_all, which rejects them.
func linearTarget(raw int64, gain GainParameters, rng MixerRange) int64 {
	if gain.Muted {
		return rng.Min
	}
	v := int64(float64(raw)*gain.Multiplier - float64(gain.Offset))
	if v < rng.Min {
		return rng.Min
	}
	if v > rng.Max {
		return rng.Max
	}
	return v
}
