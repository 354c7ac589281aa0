// Package trigger reconstructs where the trigger crossing really happened
// relative to the position the capture window nominally places it at.
package trigger

import "github.com/scopebridge/pkg/device"

// SearchRadius is how far, in samples, Analog looks either side of the
// nominal index for the real crossing.
const SearchRadius = 10

// Analog returns the fractional sample offset of the threshold crossing from
// the nominal trigger index len(buf)*pct/100. ok is false when no crossing
// lies within SearchRadius, in which case no correction should be applied.
//
// Codes are stored inverted, so the interpolated fraction p between the
// samples around an index maps to -(1-p) samples.
func Analog(buf []byte, pct float64, threshold uint8) (phase float32, ok bool) {
	nominal := int(float64(len(buf)) * pct / 100)

	if f, ok := interpolate(buf, nominal, threshold); ok {
		return f, true
	}
	for d := 1; d <= SearchRadius; d++ {
		for _, off := range [2]int{d, -d} {
			if f, ok := interpolate(buf, nominal+off, threshold); ok {
				return f + float32(off), true
			}
		}
	}
	return 0, false
}

// interpolate checks for a crossing between buf[i-1] and buf[i].
func interpolate(buf []byte, i int, threshold uint8) (float32, bool) {
	if i < 1 || i >= len(buf) {
		return 0, false
	}
	before := float32(buf[i-1])
	after := float32(buf[i])
	if after == before {
		return 0, false
	}
	p := (float32(threshold) - before) / (after - before)
	f := -(1 - p)
	if f > -1 && f <= 0 {
		return f, true
	}
	return 0, false
}

// Digital returns the signed number of samples the reported trace must be
// shifted by: the corrected trigger bit position minus the nominal one.
// buf is the trigger channel's packed samples (8 per byte, LSB first) and
// actualBit the engine-reported position, which is byte-granular.
func Digital(buf []byte, pct float64, actualBit uint64, edge device.Edge) int32 {
	nominal := int64(float64(len(buf)*8) * pct / 100)
	actual := int64(actualBit)

	idx := actualBit / 8
	if idx >= uint64(len(buf)) {
		return int32(actual - nominal)
	}
	b := buf[idx]
	if b == 0x00 || b == 0xFF {
		return int32(actual - nominal)
	}

	var seekHigh bool
	switch edge {
	case device.EdgeRising:
		seekHigh = true
	case device.EdgeFalling:
		seekHigh = false
	default:
		seekHigh = b&1 == 0
	}

	aligned := actual &^ 7
	for bit := 0; bit < 8; bit++ {
		high := b&(1<<bit) != 0
		if high == seekHigh {
			return int32(aligned + int64(bit) - nominal)
		}
	}
	return int32(actual - nominal)
}
