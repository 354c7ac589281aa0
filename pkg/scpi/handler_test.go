package scpi

import (
	"bytes"
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
)

func newTestHandler(t *testing.T, mode engine.Mode) (*Handler, *device.State) {
	t.Helper()
	sim := engine.NewSimulator(engine.SimConfig{
		Vendor:   "Vendor",
		Model:    "Model",
		Mode:     mode,
		Channels: 2,
	})
	state, err := device.New(sim, device.Options{
		ReadyTimeout: 20 * time.Millisecond,
		StopTimeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	return NewHandler(state, nil), state
}

func query(t *testing.T, h *Handler, line string) string {
	t.Helper()
	reply, ok := h.Handle(context.Background(), line)
	require.True(t, ok, "no reply to %q", line)
	return reply
}

func command(t *testing.T, h *Handler, line string) {
	t.Helper()
	reply, ok := h.Handle(context.Background(), line)
	require.False(t, ok, "unexpected reply %q to %q", reply, line)
}

func TestDeviceQueries(t *testing.T) {
	h, _ := newTestHandler(t, engine.ModeAnalog)

	require.Equal(t, "Vendor,Model,NOSERIAL,NOVERSION", query(t, h, "*IDN?"))
	require.Equal(t, "2", query(t, h, "CHANS?"))
	require.Equal(t, "1000000,10000000,100000000,500000000,1000000000", query(t, h, "RATES?"))
	require.Equal(t, "1000,8000,64000,1000000", query(t, h, "DEPTHS?"))
	require.Equal(t, "100000000", query(t, h, "RATE?"))
	require.Equal(t, "1000", query(t, h, "DEPTH?"))
	require.Equal(t, "analog", query(t, h, "MODE?"))
}

func TestRateAndDepth(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)

	command(t, h, "RATE 500000000")
	require.Equal(t, uint64(500_000_000), state.Rate())
	command(t, h, "RATE 1e9")
	require.Equal(t, "1000000000", query(t, h, "RATE?"))
	command(t, h, "DEPTH 8000")
	require.Equal(t, uint64(8000), state.Depth())

	command(t, h, "RATE fast")
	command(t, h, "DEPTH")
	command(t, h, "DEPTH 0")
	require.Equal(t, uint64(1_000_000_000), state.Rate())
	require.Equal(t, uint64(8000), state.Depth())
}

func TestUnknownIsIgnored(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)
	before := state.Snapshot()

	for _, line := range []string{
		"FOO",
		"FOO?",
		"X:ON",
		"7:ON",
		"12:ON",
		"TRIG:BOGUS 1",
		"TRIG:LEV?",
		"0:COUP XX1M",
		"0:COUP",
		"TRIG:EDGE:DIR UP",
		"TRIG:SOU X",
		"TRIG:SOU 9",
	} {
		command(t, h, line)
	}
	require.Equal(t, before, state.Snapshot())
}

func TestEmptyCommandNameIsLogged(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)
	before := state.Snapshot()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	for _, line := range []string{"0:", "?", "TRIG:"} {
		buf.Reset()
		command(t, h, line)
		require.Contains(t, buf.String(), "Warning:", "line %q", line)
		require.Contains(t, buf.String(), "no command name", "line %q", line)
	}
	require.Equal(t, before, state.Snapshot())
}

func TestAcquisitionCommands(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)

	command(t, h, "START")
	require.True(t, state.Armed())
	require.False(t, state.OneShot())

	command(t, h, "STOP")
	require.False(t, state.Armed())

	command(t, h, "SINGLE")
	require.True(t, state.Armed())
	require.True(t, state.OneShot())
	command(t, h, "STOP")

	command(t, h, "FORCE")
	require.True(t, state.OneShot())
	command(t, h, "STOP")
	require.False(t, state.Armed())
}

func TestChannelCommands(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)

	command(t, h, "0:OFF")
	require.Equal(t, 1, state.CountEnabledChannels())
	ch0, _ := state.Channel(0)
	require.True(t, ch0.Enabled, "last channel stays on")

	command(t, h, "1:ON")
	command(t, h, "0:OFF")
	require.Equal(t, 1, state.CountEnabledChannels())
	command(t, h, "1:OFF")
	require.Equal(t, 1, state.CountEnabledChannels())

	command(t, h, "1:COUP AC1M")
	ch1, _ := state.Channel(1)
	require.Equal(t, engine.CouplingAC, ch1.Coupling)
	command(t, h, "1:COUP DC1M")
	ch1, _ = state.Channel(1)
	require.Equal(t, engine.CouplingDC, ch1.Coupling)

	command(t, h, "1:RANGE 5")
	ch1, _ = state.Channel(1)
	require.Equal(t, uint64(500), ch1.VDiv)

	command(t, h, "1:OFFS 0.5")
	require.Equal(t, ch1, mustChannel(t, state, 1))
}

func mustChannel(t *testing.T, s *device.State, i int) device.Channel {
	t.Helper()
	ch, ok := s.Channel(i)
	require.True(t, ok)
	return ch
}

func TestEnableGuardSurvivesAnySequence(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)
	lines := []string{"0:OFF", "1:ON", "1:OFF", "0:OFF", "1:OFF", "1:ON", "0:OFF", "1:OFF", "0:ON", "0:OFF"}
	for _, l := range lines {
		command(t, h, l)
		require.GreaterOrEqual(t, state.CountEnabledChannels(), 1, "after %s", l)
	}
}

func TestTriggerCommands(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)

	command(t, h, "TRIG:DELAY 5e9")
	require.Equal(t, float64(50), state.TriggerPercent())
	command(t, h, "TRIG:DELAY 1e12")
	require.Equal(t, float64(0), state.TriggerPercent())
	require.Equal(t, float64(0), state.TriggerDelay())

	command(t, h, "TRIG:SOU 1")
	require.Equal(t, 1, state.TriggerChannel())

	command(t, h, "TRIG:EDGE:DIR FALLING")
	require.Equal(t, device.EdgeFalling, state.TriggerDirection())
	command(t, h, "TRIG:EDGE:DIR ANY")
	require.Equal(t, device.EdgeFalling, state.TriggerDirection(), "ANY is digital only")

	command(t, h, "TRIG:LEV 2")
	for _, ch := range state.Channels() {
		require.Equal(t, uint8(77), ch.Threshold)
	}
}

func TestEdgeAnyDigital(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeDigital)
	require.Equal(t, "digital", query(t, h, "MODE?"))
	command(t, h, "TRIG:EDGE:DIR ANY")
	require.Equal(t, device.EdgeAny, state.TriggerDirection())
}

func TestReconfigureWhileArmedRearms(t *testing.T) {
	h, state := newTestHandler(t, engine.ModeAnalog)
	command(t, h, "SINGLE")
	command(t, h, "DEPTH 8000")
	require.True(t, state.Armed())
	require.True(t, state.OneShot())
	command(t, h, "1:ON")
	require.True(t, state.Armed())
	require.Equal(t, 2, state.CountEnabledChannels())
}
