package device

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scopebridge/pkg/engine"
)

func TestSelectVDiv(t *testing.T) {
	options := []uint64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

	cases := []struct {
		name   string
		target float64
		want   uint64
	}{
		{"exact entry", 500, 500},
		{"between entries", 750, 500},
		{"just below entry", 19.99, 10},
		{"smallest entry", 10, 10},
		{"largest entry", 5000, 5000},
		{"above every entry", 6000, 5000},
		{"below every entry", 5, 10},
		{"zero", 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SelectVDiv(options, tc.target)
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}

	_, ok := SelectVDiv(nil, 100)
	require.False(t, ok)
}

func TestDelayPercent(t *testing.T) {
	// 1000 samples at 100 MHz is a 10 us window, 1e10 fs.
	require.InDelta(t, 50, DelayPercent(5e9, 1000, 100_000_000), 1e-9)
	require.InDelta(t, 100, DelayPercent(1e10, 1000, 100_000_000), 1e-9)
	require.InDelta(t, 0, DelayPercent(0, 1000, 100_000_000), 1e-9)
	require.True(t, math.IsNaN(DelayPercent(1, 0, 100_000_000)))
}

func TestSetTriggerDelay(t *testing.T) {
	cases := []struct {
		name      string
		delayFs   float64
		wantDelay float64
		wantPct   uint8
	}{
		{"middle", 5e9, 5e9, 50},
		{"lower bound", 0, 0, 0},
		{"upper bound", 1e10, 1e10, 100},
		{"rounds to nearest percent", 2.46e9, 2.46e9, 25},
		{"past the window resets", 1.01e10, 0, 0},
		{"negative resets", -1e9, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, sim := newTestState(t, engine.ModeAnalog)
			require.NoError(t, s.SetTriggerDelay(tc.delayFs))
			require.Equal(t, tc.wantDelay, s.TriggerDelay())
			require.Equal(t, float64(tc.wantPct), s.TriggerPercent())

			native, err := engine.Get[uint8](sim, engine.Device, engine.KeyHorizTriggerPos)
			require.NoError(t, err)
			require.Equal(t, tc.wantPct, native)
		})
	}
}

func TestSetTriggerDelayInterleavedRate(t *testing.T) {
	s, sim := newTestState(t, engine.ModeAnalog)
	ctx := context.Background()
	require.NoError(t, s.SetChannelEnabled(ctx, 1, true))
	require.NoError(t, s.SetRate(1_000_000_000))
	require.NoError(t, s.SetDepth(1000))

	// 1 GHz with two channels samples at 500 MHz each: a 2e9 fs window.
	require.NoError(t, s.SetTriggerDelay(1.5e9))
	require.Equal(t, 1.5e9, s.TriggerDelay())
	require.Equal(t, float64(75), s.TriggerPercent())

	native, err := engine.Get[uint8](sim, engine.Device, engine.KeyHorizTriggerPos)
	require.NoError(t, err)
	require.Equal(t, uint8(75), native)

	// With one channel the same rate is a 1e9 fs window.
	require.NoError(t, s.SetChannelEnabled(ctx, 1, false))
	require.NoError(t, s.SetTriggerDelay(1.5e9))
	require.Equal(t, float64(0), s.TriggerDelay())
	require.Equal(t, float64(0), s.TriggerPercent())
}

func TestCalibration(t *testing.T) {
	s, _ := newTestState(t, engine.ModeAnalog)

	// 1 V/div over 10 divisions, full 0..255 ADC range.
	scale, offset, err := s.Calibration(0)
	require.NoError(t, err)
	require.InDelta(t, -10.0/255, scale, 1e-6)
	require.InDelta(t, 128*(-10.0/255), offset, 1e-5)

	_, _, err = s.Calibration(7)
	require.ErrorIs(t, err, ErrNoChannel)
}

func TestCalibrationNarrowADC(t *testing.T) {
	sim := engine.NewSimulator(engine.SimConfig{Mode: engine.ModeAnalog})
	require.NoError(t, engine.Set(sim, engine.Device, engine.KeyRefMin, uint32(28)))
	require.NoError(t, engine.Set(sim, engine.Device, engine.KeyRefMax, uint32(228)))
	s, err := New(sim, Options{StopTimeout: time.Millisecond})
	require.NoError(t, err)

	// rangeFactor = 255/200
	scale, offset, err := s.Calibration(0)
	require.NoError(t, err)
	require.InDelta(t, -0.05, scale, 1e-6)
	require.InDelta(t, -6.4, offset, 1e-5)
}

func TestSetRange(t *testing.T) {
	s, sim := newTestState(t, engine.ModeAnalog)

	cases := []struct {
		volts float64
		want  uint64
	}{
		{5, 500},
		{0.55, 50},
		{1000, 5000},
		{0.01, 10},
	}
	for _, tc := range cases {
		got, err := s.SetRange(1, tc.volts)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "range %g V", tc.volts)

		ch, _ := s.Channel(1)
		require.Equal(t, tc.want, ch.VDiv)
		vdiv, err := engine.Get[uint64](sim, 1, engine.KeyProbeVDiv)
		require.NoError(t, err)
		require.Equal(t, tc.want, vdiv)
	}

	_, err := s.SetRange(5, 1)
	require.ErrorIs(t, err, ErrNoChannel)
}

func TestSetTriggerLevel(t *testing.T) {
	s, sim := newTestState(t, engine.ModeAnalog)

	cases := []struct {
		volts float64
		want  uint8
	}{
		{0, 128},
		{2, 77},
		{-2, 179},
		{100, 0},
		{-100, 255},
	}
	for _, tc := range cases {
		require.NoError(t, s.SetTriggerLevel(tc.volts))
		for _, ch := range s.Channels() {
			require.Equal(t, tc.want, ch.Threshold, "%g V on ch %d", tc.volts, ch.Index)
			code, err := engine.Get[uint8](sim, ch.Index, engine.KeyTriggerValue)
			require.NoError(t, err)
			require.Equal(t, tc.want, code)
		}
	}
}

func TestSetTriggerChannel(t *testing.T) {
	s, sim := newTestState(t, engine.ModeAnalog)

	require.NoError(t, s.SetTriggerChannel(1))
	require.Equal(t, 1, s.TriggerChannel())
	src, _ := engine.Get[uint8](sim, engine.Device, engine.KeyTriggerSource)
	require.Equal(t, uint8(1), src)

	require.ErrorIs(t, s.SetTriggerChannel(4), ErrNoChannel)
	require.Equal(t, 1, s.TriggerChannel())
}

func TestSetCoupling(t *testing.T) {
	s, sim := newTestState(t, engine.ModeAnalog)

	require.NoError(t, s.SetCoupling(0, engine.CouplingAC))
	ch, _ := s.Channel(0)
	require.Equal(t, engine.CouplingAC, ch.Coupling)
	c, _ := engine.Get[uint8](sim, 0, engine.KeyProbeCoupling)
	require.Equal(t, engine.CouplingAC, c)
}
