package waveform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeinterleaveAnalog(t *testing.T) {
	const k, n = 3, 50
	want := make([][]byte, k)
	buf := make([]byte, 0, k*n)
	for j := range want {
		want[j] = make([]byte, n)
		for i := range want[j] {
			want[j][i] = byte(j*100 + i)
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			buf = append(buf, want[j][i])
		}
	}

	got := DeinterleaveAnalog(buf, k, n)
	require.Equal(t, want, got)

	// Output buffers are owned, not views of the capture buffer.
	buf[0] = 0xEE
	require.Equal(t, byte(0), got[0][0])
}

func TestDeinterleaveLogic(t *testing.T) {
	// Two channels, four 8-sample blocks each.
	buf := []byte{
		0x01, 0xF0,
		0x02, 0xE0,
		0x03, 0xD0,
		0x04, 0xC0,
	}
	got := DeinterleaveLogic(buf, 2)
	require.Equal(t, [][]byte{
		{0x01, 0x02, 0x03, 0x04},
		{0xF0, 0xE0, 0xD0, 0xC0},
	}, got)
}

func TestDeinterleaveShortBuffer(t *testing.T) {
	got := Deinterleave([]byte{1, 2, 3, 4, 5}, 2, 10)
	require.Equal(t, [][]byte{{1, 3}, {2, 4}}, got)

	require.Nil(t, Deinterleave([]byte{1, 2}, 0, 1))
}

func TestDeinterleaveSingleChannel(t *testing.T) {
	buf := []byte{9, 8, 7}
	got := DeinterleaveAnalog(buf, 1, 3)
	require.Equal(t, [][]byte{{9, 8, 7}}, got)
}

func TestUnpackBits(t *testing.T) {
	got := UnpackBits([]byte{0x05, 0x80})
	require.Equal(t, []byte{
		1, 0, 1, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 1,
	}, got)
}

func TestClipped(t *testing.T) {
	require.False(t, clipped([]byte{1, 128, 254}, 0, 255))
	require.True(t, clipped([]byte{1, 255, 254}, 0, 255))
	require.True(t, clipped([]byte{0}, 0, 255))
	require.True(t, clipped([]byte{28, 100}, 28, 228))
}
