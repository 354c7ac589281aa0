package waveform

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Data-plane wire format, little-endian:
//
//	seq u64, numChannels u16, period i64 (fs)
//	per channel: index u64, count u64, calibration, count sample bytes
//
// Analog calibration is scale f32, offset f32, trigphase f32, clipping u8.
// Digital calibration is firstSample i32.
const (
	headerSize       = 8 + 2 + 8
	channelHdrSize   = 8 + 8
	analogCalibSize  = 4 + 4 + 4 + 1
	digitalCalibSize = 4
	ackSize          = 16

	// maxFrameSamples bounds ReadFrame allocations against a corrupt stream.
	maxFrameSamples = 1 << 30
)

// Calibration is the per-channel block that follows the channel header.
type Calibration struct {
	Scale     float32
	Offset    float32
	TrigPhase float32
	Clipping  bool

	FirstSample int32
}

type ChannelFrame struct {
	Index   uint64
	Samples []byte
	Cal     Calibration
}

// Frame is one admitted acquisition.
type Frame struct {
	Seq      uint64
	Period   int64
	Digital  bool
	Channels []ChannelFrame
}

// Size is the encoded length of f.
func (f *Frame) Size() int {
	n := headerSize
	for _, ch := range f.Channels {
		n += channelHdrSize + len(ch.Samples)
		if f.Digital {
			n += digitalCalibSize
		} else {
			n += analogCalibSize
		}
	}
	return n
}

// AppendTo encodes f onto dst.
func (f *Frame) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.Seq)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Channels)))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(f.Period))
	for _, ch := range f.Channels {
		dst = binary.LittleEndian.AppendUint64(dst, ch.Index)
		dst = binary.LittleEndian.AppendUint64(dst, uint64(len(ch.Samples)))
		if f.Digital {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(ch.Cal.FirstSample))
		} else {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(ch.Cal.Scale))
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(ch.Cal.Offset))
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(ch.Cal.TrigPhase))
			var clip byte
			if ch.Cal.Clipping {
				clip = 1
			}
			dst = append(dst, clip)
		}
		dst = append(dst, ch.Samples...)
	}
	return dst
}

// ReadFrame decodes one frame. The data plane does not carry the mode, so
// the caller says whether to expect digital calibration blocks.
func ReadFrame(r io.Reader, digital bool) (*Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	f := &Frame{
		Seq:     binary.LittleEndian.Uint64(hdr[0:]),
		Period:  int64(binary.LittleEndian.Uint64(hdr[10:])),
		Digital: digital,
	}
	n := int(binary.LittleEndian.Uint16(hdr[8:]))

	calSize := analogCalibSize
	if digital {
		calSize = digitalCalibSize
	}
	buf := make([]byte, channelHdrSize+calSize)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("channel %d header: %w", i, err)
		}
		ch := ChannelFrame{Index: binary.LittleEndian.Uint64(buf[0:])}
		count := binary.LittleEndian.Uint64(buf[8:])
		if count > maxFrameSamples {
			return nil, fmt.Errorf("channel %d: sample count %d too large", i, count)
		}
		cal := buf[channelHdrSize:]
		if digital {
			ch.Cal.FirstSample = int32(binary.LittleEndian.Uint32(cal[0:]))
		} else {
			ch.Cal.Scale = math.Float32frombits(binary.LittleEndian.Uint32(cal[0:]))
			ch.Cal.Offset = math.Float32frombits(binary.LittleEndian.Uint32(cal[4:]))
			ch.Cal.TrigPhase = math.Float32frombits(binary.LittleEndian.Uint32(cal[8:]))
			ch.Cal.Clipping = cal[12] != 0
		}
		ch.Samples = make([]byte, count)
		if _, err := io.ReadFull(r, ch.Samples); err != nil {
			return nil, fmt.Errorf("channel %d samples: %w", i, err)
		}
		f.Channels = append(f.Channels, ch)
	}
	return f, nil
}

// WriteAck sends a client acknowledgement record.
func WriteAck(w io.Writer, lastAcked, windowSize uint64) error {
	var b [ackSize]byte
	binary.LittleEndian.PutUint64(b[0:], lastAcked)
	binary.LittleEndian.PutUint64(b[8:], windowSize)
	_, err := w.Write(b[:])
	return err
}

// ReadAck reads one acknowledgement record.
func ReadAck(r io.Reader) (lastAcked, windowSize uint64, err error) {
	var b [ackSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(b[0:]), binary.LittleEndian.Uint64(b[8:]), nil
}
