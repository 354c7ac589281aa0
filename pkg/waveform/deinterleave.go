package waveform

// Deinterleave splits a buffer holding k streams round-robin, one byte per
// stream per step, into k owned buffers of n bytes each. A buffer shorter
// than n*k yields only the complete steps it holds.
func Deinterleave(buf []byte, k, n int) [][]byte {
	if k <= 0 {
		return nil
	}
	if limit := len(buf) / k; n > limit || n < 0 {
		n = limit
	}
	out := make([][]byte, k)
	for j := range out {
		out[j] = make([]byte, n)
	}
	for i := 0; i < n; i++ {
		step := buf[i*k : i*k+k]
		for j, b := range step {
			out[j][i] = b
		}
	}
	return out
}

// DeinterleaveAnalog splits a DSO capture: one sample byte per channel per
// step, n samples per channel.
func DeinterleaveAnalog(buf []byte, k, n int) [][]byte {
	return Deinterleave(buf, k, n)
}

// DeinterleaveLogic splits a logic capture: one byte holding 8 samples per
// channel per step. The per-channel buffers stay packed.
func DeinterleaveLogic(buf []byte, k int) [][]byte {
	if k <= 0 {
		return nil
	}
	return Deinterleave(buf, k, len(buf)/k)
}

// UnpackBits expands packed samples (LSB first) to one 0/1 byte each.
func UnpackBits(packed []byte) []byte {
	out := make([]byte, len(packed)*8)
	for i, b := range packed {
		for bit := 0; bit < 8; bit++ {
			out[i*8+bit] = (b >> bit) & 1
		}
	}
	return out
}

// clipped reports whether any sample sits on the ADC's reported extremes.
func clipped(samples []byte, lo, hi uint32) bool {
	for _, s := range samples {
		if uint32(s) == lo || uint32(s) == hi {
			return true
		}
	}
	return false
}
