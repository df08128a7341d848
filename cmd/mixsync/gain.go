package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// MixerRange is a control's raw value range as reported by the driver.
type MixerRange struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Range int64 `json:"range"`
}

// NewMixerRange builds a range from min/max.
func NewMixerRange(min, max int64) MixerRange {
	return MixerRange{Min: min, Max: max, Range: max - min}
}

// MappingMode selects how source values are mapped onto the target.
type MappingMode string

const (
	MappingNormalized MappingMode = "normalized"
	MappingLinear     MappingMode = "linear"
)

func parseMappingMode(s string) (MappingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(MappingNormalized):
		return MappingNormalized, nil
	case string(MappingLinear):
		return MappingLinear, nil
	default:
		return "", errors.Errorf("invalid mapping mode: %s (must be normalized or linear)", s)
	}
}

// GainParameters is derived once at startup and read by every loop iteration.
// Muted pins the target to its minimum regardless of the source value.
type GainParameters struct {
	Multiplier float64 `json:"multiplier"`
	Offset     int64   `json:"offset"`
	Muted      bool    `json:"muted"`
}

// effectiveCeiling compresses the 0-100 user ceiling onto the scale used by the multiplier.
// The 50*log10 curve is empirically tuned; keep it as is. The result is a whole number
// (ceiling 50 gives 84, not 84.95); ceilingEpsilon keeps exact decades such as 100 from
// truncating one step low.
func effectiveCeiling(ceilingPercent int) float64 {
	if ceilingPercent <= 1 {
		return 0
	}
	return math.Trunc(50*math.Log10(float64(ceilingPercent)) + ceilingEpsilon)
}

const ceilingEpsilon = 1e-9

// ComputeGain derives the multiplier/offset pair mapping source raw values onto the target.
//
// A ceiling of 0 or 1 yields a zero multiplier and Muted set: the target is held at
// its minimum whatever the offset between the two ranges.
func ComputeGain(source, target MixerRange, ceilingPercent int, mode MappingMode) (GainParameters, error) {
	if ceilingPercent < 0 || ceilingPercent > 100 {
		return GainParameters{}, &DomainError{Msg: fmt.Sprintf("ceiling %d out of range [0,100]", ceilingPercent)}
	}
	if source.Range == 0 {
		return GainParameters{}, &DomainError{Msg: "source control has an empty range"}
	}
	if target.Range == 0 {
		return GainParameters{}, &DomainError{Msg: "target control has an empty range"}
	}

	ceil := effectiveCeiling(ceilingPercent)
	gain := GainParameters{Offset: source.Min - target.Min, Muted: ceil == 0}

	switch mode {
	case MappingNormalized:
		gain.Multiplier = (100 / float64(source.Range)) * (ceil / 100)
	case MappingLinear:
		gain.Multiplier = (float64(target.Range) / float64(source.Range)) * (ceil / 100)
	default:
		return GainParameters{}, &DomainError{Msg: fmt.Sprintf("unknown mapping mode %q", mode)}
	}

	return gain, nil
}
