package main

import (
	"math"

	"github.com/pkg/errors"
)

// dB metadata attached to mixer controls, as returned by the control TLV read.
// All gains are in 1/100 dB.
const (
	tlvTypeContainer    = 0
	tlvTypeDBScale      = 1
	tlvTypeDBLinear     = 2
	tlvTypeDBRange      = 3
	tlvTypeDBMinMax     = 4
	tlvTypeDBMinMaxMute = 5

	tlvDBScaleMuteBit = 0x10000
	tlvDBScaleStep    = 0xffff

	dbGainMute = -9999999

	// Controls spanning at most this many 1/100 dB are mapped linearly in dB
	// instead of through the perceptual curve.
	maxLinearDBScale = 24 * 100

	maxTLVRangeDepth = 4
)

// dbTLV is one dB description block: a type word plus its payload.
type dbTLV struct {
	Type    uint32
	Payload []uint32
}

// parseDBTLV finds the dB block in a raw TLV word stream, descending into containers.
func parseDBTLV(words []uint32) (*dbTLV, error) {
	if len(words) < 2 {
		return nil, errors.New("tlv too short")
	}
	typ := words[0]
	n := int(words[1] / 4)
	if 2+n > len(words) {
		return nil, errors.Errorf("tlv length %d exceeds buffer", words[1])
	}
	payload := words[2 : 2+n]

	switch typ {
	case tlvTypeContainer:
		for pos := 0; pos+2 <= len(payload); {
			sub := int(payload[pos+1] / 4)
			if pos+2+sub > len(payload) {
				break
			}
			if tlv, err := parseDBTLV(payload[pos : pos+2+sub]); err == nil {
				return tlv, nil
			}
			pos += 2 + sub
		}
		return nil, errors.New("no dB information in tlv container")
	case tlvTypeDBScale, tlvTypeDBMinMax, tlvTypeDBMinMaxMute, tlvTypeDBLinear:
		if len(payload) < 2 {
			return nil, errors.Errorf("tlv type %d: short payload", typ)
		}
		return &dbTLV{Type: typ, Payload: payload}, nil
	case tlvTypeDBRange:
		return &dbTLV{Type: typ, Payload: payload}, nil
	default:
		return nil, errors.Errorf("tlv type %d carries no dB information", typ)
	}
}

// rangeItem is one entry of a dB range table.
type rangeItem struct {
	rawMin, rawMax int64
	tlv            dbTLV
}

func (t *dbTLV) rangeItems() ([]rangeItem, error) {
	var items []rangeItem
	p := t.Payload
	for pos := 0; pos+4 <= len(p); {
		sub := int(p[pos+3] / 4)
		if pos+4+sub > len(p) {
			return nil, errors.New("dB range item exceeds tlv")
		}
		items = append(items, rangeItem{
			rawMin: int64(int32(p[pos])),
			rawMax: int64(int32(p[pos+1])),
			tlv:    dbTLV{Type: p[pos+2], Payload: p[pos+4 : pos+4+sub]},
		})
		pos += 4 + sub
	}
	if len(items) == 0 {
		return nil, errors.New("empty dB range")
	}
	return items, nil
}

func (t *dbTLV) word(i int) int64 {
	if i >= len(t.Payload) {
		return 0
	}
	return int64(int32(t.Payload[i]))
}

// dBRange returns the gain at rawMin and rawMax.
func (t *dbTLV) dBRange(rawMin, rawMax int64) (lo, hi int64, err error) {
	return t.dBRangeDepth(rawMin, rawMax, 0)
}

func (t *dbTLV) dBRangeDepth(rawMin, rawMax int64, depth int) (lo, hi int64, err error) {
	if depth > maxTLVRangeDepth {
		return 0, 0, errors.New("dB range nested too deep")
	}
	if t.Type != tlvTypeDBRange && len(t.Payload) < 2 {
		return 0, 0, errors.Errorf("tlv type %d: short payload", t.Type)
	}
	switch t.Type {
	case tlvTypeDBRange:
		items, err := t.rangeItems()
		if err != nil {
			return 0, 0, err
		}
		for i, it := range items {
			subLo, subHi, err := it.tlv.dBRangeDepth(it.rawMin, it.rawMax, depth+1)
			if err != nil {
				return 0, 0, err
			}
			if i == 0 || subLo < lo {
				lo = subLo
			}
			if i == 0 || subHi > hi {
				hi = subHi
			}
		}
		return lo, hi, nil
	case tlvTypeDBScale:
		step := int64(t.Payload[1] & tlvDBScaleStep)
		lo = t.word(0)
		if t.Payload[1]&tlvDBScaleMuteBit != 0 {
			lo = dbGainMute
		}
		return lo, t.word(0) + step*(rawMax-rawMin), nil
	case tlvTypeDBMinMax, tlvTypeDBMinMaxMute, tlvTypeDBLinear:
		return t.word(0), t.word(1), nil
	default:
		return 0, 0, errors.Errorf("tlv type %d carries no dB information", t.Type)
	}
}

// fromDB converts a gain to the raw value that produces it. xdir > 0 rounds up,
// anything else rounds down.
func (t *dbTLV) fromDB(rawMin, rawMax, gain int64, xdir int) (int64, error) {
	return t.fromDBDepth(rawMin, rawMax, gain, xdir, 0)
}

func (t *dbTLV) fromDBDepth(rawMin, rawMax, gain int64, xdir, depth int) (int64, error) {
	if depth > maxTLVRangeDepth {
		return 0, errors.New("dB range nested too deep")
	}
	if t.Type != tlvTypeDBRange && len(t.Payload) < 2 {
		return 0, errors.Errorf("tlv type %d: short payload", t.Type)
	}
	switch t.Type {
	case tlvTypeDBRange:
		items, err := t.rangeItems()
		if err != nil {
			return 0, err
		}
		var prevMax int64
		for i, it := range items {
			subMax := min(it.rawMax, rawMax)
			lo, hi, err := it.tlv.dBRangeDepth(it.rawMin, subMax, depth+1)
			if err == nil && gain >= lo && gain <= hi {
				return it.tlv.fromDBDepth(it.rawMin, subMax, gain, xdir, depth+1)
			}
			if err == nil && gain < lo {
				if xdir > 0 || i == 0 {
					return it.rawMin, nil
				}
				return prevMax, nil
			}
			prevMax = subMax
		}
		return prevMax, nil

	case tlvTypeDBScale:
		lo := t.word(0)
		step := int64(t.Payload[1] & tlvDBScaleStep)
		hi := lo + step*(rawMax-rawMin)
		mute := t.Payload[1]&tlvDBScaleMuteBit != 0
		return stepFromDB(lo, hi, rawMin, rawMax, gain, xdir, mute), nil

	case tlvTypeDBMinMax, tlvTypeDBMinMaxMute:
		mute := t.Type == tlvTypeDBMinMaxMute
		return stepFromDB(t.word(0), t.word(1), rawMin, rawMax, gain, xdir, mute), nil

	case tlvTypeDBLinear:
		lo, hi := t.word(0), t.word(1)
		switch {
		case gain <= lo:
			return rawMin, nil
		case gain >= hi:
			return rawMax, nil
		}
		vmin := 0.0
		if lo > dbGainMute {
			vmin = math.Pow(10, float64(lo)/2000)
		}
		vmax := 1.0
		if hi != 0 {
			vmax = math.Pow(10, float64(hi)/2000)
		}
		v := math.Pow(10, float64(gain)/2000)
		v = (v - vmin) * float64(rawMax-rawMin) / (vmax - vmin)
		if xdir > 0 {
			v = math.Ceil(v)
		}
		return int64(v) + rawMin, nil

	default:
		return 0, errors.Errorf("tlv type %d carries no dB information", t.Type)
	}
}

// stepFromDB inverts an evenly stepped dB scale.
func stepFromDB(lo, hi, rawMin, rawMax, gain int64, xdir int, mute bool) int64 {
	switch {
	case gain <= lo:
		if gain > dbGainMute && xdir > 0 && mute {
			return rawMin + 1
		}
		return rawMin
	case gain >= hi:
		return rawMax
	}
	v := (gain - lo) * (rawMax - rawMin)
	if xdir > 0 {
		v += (hi - lo) - 1
	}
	return v/(hi-lo) + rawMin
}

// normalizedToRaw maps a 0..1 volume request onto a raw control value the way desktop
// mixers present volume. Wide dB spans follow a 60 dB/decade curve; narrow spans are
// linear in dB. Without dB data the mapping is linear in raw units.
func normalizedToRaw(fraction float64, rawMin, rawMax int64, db *dbTLV) int64 {
	fraction = math.Max(0, math.Min(1, fraction))

	if db != nil {
		if lo, hi, err := db.dBRange(rawMin, rawMax); err == nil && lo < hi {
			var gain int64
			if hi-lo <= maxLinearDBScale {
				gain = lrint(fraction*float64(hi-lo)) + lo
			} else {
				f := fraction
				if lo != dbGainMute {
					minNorm := math.Pow(10, float64(lo-hi)/6000)
					f = f*(1-minNorm) + minNorm
				}
				if f <= 0 {
					gain = dbGainMute
				} else {
					gain = lrint(6000*math.Log10(f)) + hi
				}
			}
			if v, err := db.fromDB(rawMin, rawMax, gain, 0); err == nil {
				return max(rawMin, min(rawMax, v))
			}
		}
	}

	return lrint(fraction*float64(rawMax-rawMin)) + rawMin
}

func lrint(x float64) int64 { return int64(math.RoundToEven(x)) }
