package main

import (
	"errors"
	"math"
	"testing"
)

func newTestSynchronizer(t *testing.T, src *fakeSource, dst *fakeTarget, ceiling int, mode MappingMode) *Synchronizer {
	t.Helper()
	srcRange := NewMixerRange(0, 100)
	gain, err := ComputeGain(srcRange, dst.Range(), ceiling, mode)
	if err != nil {
		t.Fatalf("ComputeGain: %v", err)
	}
	return NewSynchronizer(SynchronizerConfig{
		Source: src,
		Target: dst,
		Gain:   gain,
		Mode:   mode,
		State:  NewStateStore(StateSnapshot{Mode: mode, Gain: gain}, 0),
	}, discardLogger())
}

func TestApply_LinearUnity(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingLinear)

	res, err := s.Apply(50)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res != ApplyApplied {
		t.Fatalf("expected applied, got %s", res)
	}
	if got := dst.rawWrites(); len(got) != 1 || got[0] != 50 {
		t.Fatalf("expected one write of 50, got %v", got)
	}
}

func TestApply_LinearCeilingTen(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 10, MappingLinear)

	if _, err := s.Apply(80); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := dst.rawWrites(); len(got) != 1 || got[0] != 40 {
		t.Fatalf("expected one write of 40, got %v", got)
	}
}

func TestApply_SameValueTwiceIsUnchanged(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingLinear)

	if res, _ := s.Apply(42); res != ApplyApplied {
		t.Fatalf("first apply: expected applied, got %s", res)
	}
	res, err := s.Apply(42)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res != ApplyUnchanged {
		t.Fatalf("second apply: expected unchanged, got %s", res)
	}
	if dst.writes() != 1 {
		t.Fatalf("expected exactly 1 write, got %d", dst.writes())
	}
	if snap := s.state.Snapshot(); snap.Applied != 1 || snap.Skipped != 1 {
		t.Errorf("expected applied=1 skipped=1, got applied=%d skipped=%d", snap.Applied, snap.Skipped)
	}
}

func TestApply_FirstValueZeroStillWrites(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingLinear)

	if res, _ := s.Apply(0); res != ApplyApplied {
		t.Fatalf("expected applied on empty cache, got %s", res)
	}
	if dst.writes() != 1 {
		t.Fatalf("expected 1 write, got %d", dst.writes())
	}
}

func TestApply_DuplicateSequence(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingLinear)

	for _, v := range []int64{30, 30, 45} {
		if _, err := s.Apply(v); err != nil {
			t.Fatalf("Apply(%d): %v", v, err)
		}
	}
	got := dst.rawWrites()
	if len(got) != 2 || got[0] != 30 || got[1] != 45 {
		t.Fatalf("expected writes [30 45], got %v", got)
	}
}

func TestApply_WriteFailureIsDeviceWriteError(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	dst.failNext = 1
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingLinear)

	_, err := s.Apply(20)
	var we *DeviceWriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected DeviceWriteError, got %v", err)
	}
	if !errors.Is(err, errFakeWrite) {
		t.Errorf("expected wrapped write failure, got %v", err)
	}

	// Next distinct change goes through.
	if res, err := s.Apply(21); err != nil || res != ApplyApplied {
		t.Fatalf("expected applied after failure, got %s / %v", res, err)
	}
	if snap := s.state.Snapshot(); snap.Failed != 1 || snap.Applied != 1 || snap.LastError != "" {
		t.Errorf("unexpected snapshot counters: %+v", snap)
	}
}

func TestApply_NormalizedWritesFraction(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 255))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 100, MappingNormalized)

	if _, err := s.Apply(50); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if len(dst.norm) != 1 {
		t.Fatalf("expected 1 normalized write, got %d", len(dst.norm))
	}
	if math.Abs(dst.norm[0]-0.5) > 1e-9 {
		t.Errorf("expected fraction 0.5, got %v", dst.norm[0])
	}
}

func TestNormalizedTarget_Monotonic(t *testing.T) {
	for _, ceiling := range []int{2, 10, 50, 75, 100} {
		gain, err := ComputeGain(NewMixerRange(0, 151), NewMixerRange(-20, 80), ceiling, MappingNormalized)
		if err != nil {
			t.Fatalf("ComputeGain: %v", err)
		}
		prev := math.Inf(-1)
		for raw := int64(0); raw <= 151; raw++ {
			f := normalizedTarget(raw, gain)
			if f < prev {
				t.Fatalf("ceiling %d: fraction decreased at raw %d (%v < %v)", ceiling, raw, f, prev)
			}
			if f < 0 || f > 1 {
				t.Fatalf("fraction out of [0,1]: %v", f)
			}
			prev = f
		}
	}
}

func TestLinearTarget_ClampsToTargetRange(t *testing.T) {
	rng := NewMixerRange(0, 100)
	gain := GainParameters{Multiplier: 2, Offset: 0}
	if got := linearTarget(80, gain, rng); got != 100 {
		t.Errorf("expected clamp to 100, got %d", got)
	}
	gain = GainParameters{Multiplier: 1, Offset: 10}
	if got := linearTarget(5, gain, rng); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
	gain = GainParameters{Multiplier: 0.33, Offset: 0}
	if got := linearTarget(10, gain, rng); got != 3 {
		t.Errorf("expected truncation to 3, got %d", got)
	}
}

func TestApply_ZeroCeilingMutesTarget(t *testing.T) {
	dst := newFakeTarget(NewMixerRange(0, 100))
	s := newTestSynchronizer(t, newFakeSource(0), dst, 0, MappingLinear)

	for _, v := range []int64{10, 90} {
		if _, err := s.Apply(v); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	for _, w := range dst.rawWrites() {
		if w != 0 {
			t.Fatalf("expected muted target, got write %d", w)
		}
	}
}

func TestApply_ZeroCeilingMutesWhenSourceStartsBelowTarget(t *testing.T) {
	srcRange := NewMixerRange(-50, 50)
	dstRange := NewMixerRange(0, 100)

	for _, mode := range []MappingMode{MappingLinear, MappingNormalized} {
		gain, err := ComputeGain(srcRange, dstRange, 0, mode)
		if err != nil {
			t.Fatalf("ComputeGain(%s): %v", mode, err)
		}
		if gain.Offset != -50 {
			t.Fatalf("expected offset -50, got %d", gain.Offset)
		}

		dst := newFakeTarget(dstRange)
		s := NewSynchronizer(SynchronizerConfig{
			Source: newFakeSource(0),
			Target: dst,
			Gain:   gain,
			Mode:   mode,
		}, discardLogger())

		for _, v := range []int64{-50, 0, 50} {
			if _, err := s.Apply(v); err != nil {
				t.Fatalf("%s Apply(%d): %v", mode, v, err)
			}
		}

		switch mode {
		case MappingLinear:
			got := dst.rawWrites()
			if len(got) != 3 {
				t.Fatalf("expected three linear writes, got %v", got)
			}
			for _, w := range got {
				if w != dstRange.Min {
					t.Errorf("linear: expected target minimum %d, got %d", dstRange.Min, w)
				}
			}
		case MappingNormalized:
			dst.mu.Lock()
			got := append([]float64(nil), dst.norm...)
			dst.mu.Unlock()
			if len(got) != 3 {
				t.Fatalf("expected three normalized writes, got %v", got)
			}
			for _, f := range got {
				if f != 0 {
					t.Errorf("normalized: expected fraction 0, got %v", f)
				}
			}
		}
	}
}
