package engine

type rateQuirk struct {
	reported uint64
	enabled  int
}

// rateQuirks lists sample-rate reports that need correcting, keyed by the
// reported rate and the number of enabled channels, mapping to the divisor
// that yields the real per-channel rate.
//
// At 1 GHz with both channels on, the engine reports the aggregate
// interleaved rate as if it were per channel.
var rateQuirks = map[rateQuirk]uint64{
	{reported: 1_000_000_000, enabled: 2}: 2,
}

// EffectiveRate corrects a reported sample rate for known engine quirks.
func EffectiveRate(reported uint64, enabled int) uint64 {
	if d, ok := rateQuirks[rateQuirk{reported, enabled}]; ok {
		return reported / d
	}
	return reported
}

// SamplePeriod returns the per-channel sample period in fs.
func SamplePeriod(reported uint64, enabled int) int64 {
	rate := EffectiveRate(reported, enabled)
	if rate == 0 {
		return 0
	}
	return int64(1_000_000_000_000_000 / rate)
}
