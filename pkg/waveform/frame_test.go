package waveform

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalogFrameLayout(t *testing.T) {
	f := &Frame{
		Seq:    7,
		Period: 10_000_000,
		Channels: []ChannelFrame{{
			Index:   1,
			Samples: []byte{10, 20, 30},
			Cal:     Calibration{Scale: -0.5, Offset: -64, TrigPhase: -0.25, Clipping: true},
		}},
	}
	b := f.AppendTo(nil)
	require.Len(t, b, f.Size())
	require.Len(t, b, 8+2+8+8+8+13+3)

	le := binary.LittleEndian
	require.Equal(t, uint64(7), le.Uint64(b[0:]))
	require.Equal(t, uint16(1), le.Uint16(b[8:]))
	require.Equal(t, uint64(10_000_000), le.Uint64(b[10:]))
	require.Equal(t, uint64(1), le.Uint64(b[18:]))
	require.Equal(t, uint64(3), le.Uint64(b[26:]))
	require.Equal(t, float32(-0.5), math.Float32frombits(le.Uint32(b[34:])))
	require.Equal(t, float32(-64), math.Float32frombits(le.Uint32(b[38:])))
	require.Equal(t, float32(-0.25), math.Float32frombits(le.Uint32(b[42:])))
	require.Equal(t, byte(1), b[46])
	require.Equal(t, []byte{10, 20, 30}, b[47:])

	got, err := ReadFrame(bytes.NewReader(b), false)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDigitalFrameLayout(t *testing.T) {
	f := &Frame{
		Seq:     2,
		Period:  1_000_000,
		Digital: true,
		Channels: []ChannelFrame{
			{Index: 0, Samples: []byte{0, 1, 1, 0}, Cal: Calibration{FirstSample: -3}},
			{Index: 3, Samples: []byte{1, 1, 1, 1}, Cal: Calibration{FirstSample: -3}},
		},
	}
	b := f.AppendTo(nil)
	require.Len(t, b, f.Size())
	require.Equal(t, int32(-3), int32(binary.LittleEndian.Uint32(b[34:])))

	got, err := ReadFrame(bytes.NewReader(b), true)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestReadFrameTruncated(t *testing.T) {
	f := &Frame{Seq: 1, Channels: []ChannelFrame{{Samples: make([]byte, 16)}}}
	b := f.AppendTo(nil)

	_, err := ReadFrame(bytes.NewReader(b[:len(b)-1]), false)
	require.Error(t, err)
}

func TestAck(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAck(&buf, 41, 8))
	require.Equal(t, ackSize, buf.Len())

	last, size, err := ReadAck(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(41), last)
	require.Equal(t, uint64(8), size)
}
