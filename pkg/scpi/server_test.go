package scpi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
	"github.com/scopebridge/pkg/waveform"
)

// serve starts a control server, and a data server when data is true, on
// loopback listeners.
func serve(t *testing.T, state *device.State, data bool) (controlAddr, dataAddr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	controlLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 2)
	go func() { done <- NewServer(NewHandler(state, nil), time.Second).Serve(ctx, controlLn) }()
	n := 1

	if data {
		dataLn, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		srv := waveform.NewServer(state, waveform.Config{InitialWindow: 4, IdlePoll: 10 * time.Millisecond}, nil, nil)
		go func() { done <- srv.Serve(ctx, dataLn) }()
		dataAddr = dataLn.Addr().String()
		n++
	}

	t.Cleanup(func() {
		cancel()
		for i := 0; i < n; i++ {
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("server did not shut down")
				return
			}
		}
	})
	return controlLn.Addr().String(), dataAddr
}

func newState(t *testing.T, mode engine.Mode) *device.State {
	t.Helper()
	sim := engine.NewSimulator(engine.SimConfig{
		Vendor:   "Vendor",
		Model:    "Model",
		Mode:     mode,
		Channels: 2,
		Interval: 2 * time.Millisecond,
	})
	state, err := device.New(sim, device.Options{
		ReadyTimeout: 200 * time.Millisecond,
		StopTimeout:  time.Second,
	})
	require.NoError(t, err)
	return state
}

func TestControlServer(t *testing.T) {
	state := newState(t, engine.ModeAnalog)
	addr, _ := serve(t, state, false)

	c, err := Dial(addr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	idn, err := c.Query("*IDN?")
	require.NoError(t, err)
	require.Equal(t, "Vendor,Model,NOSERIAL,NOVERSION", idn)

	// Unknown lines get no reply and leave the connection usable.
	require.NoError(t, c.Write("BOGUS:THING 1"))
	require.NoError(t, c.Write("NOPE?"))

	// Semicolons separate commands on one line.
	rate, err := c.Query("RATE 10000000;RATE?")
	require.NoError(t, err)
	require.Equal(t, "10000000", rate)

	chans, err := c.Query("CHANS?")
	require.NoError(t, err)
	require.Equal(t, "2", chans)
}

func TestControlServerManyClients(t *testing.T) {
	state := newState(t, engine.ModeAnalog)
	addr, _ := serve(t, state, false)

	a, err := Dial(addr, 2*time.Second)
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(addr, 2*time.Second)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Write("DEPTH 64000"))
	// A query on a orders the write before b looks.
	_, err = a.Query("DEPTH?")
	require.NoError(t, err)
	depth, err := b.Query("DEPTH?")
	require.NoError(t, err)
	require.Equal(t, "64000", depth)
}

func TestEndToEnd(t *testing.T) {
	state := newState(t, engine.ModeAnalog)
	controlAddr, dataAddr := serve(t, state, true)

	c, err := Dial(controlAddr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	idn, err := c.Query("*IDN?")
	require.NoError(t, err)
	require.Equal(t, "Vendor,Model,NOSERIAL,NOVERSION", idn)

	for _, cmd := range []string{"0:ON", "1:ON", "TRIG:SOU 0", "RATE 1000000000"} {
		require.NoError(t, c.Write(cmd))
	}
	_, err = c.Query("RATE?")
	require.NoError(t, err)

	data, err := net.DialTimeout("tcp", dataAddr, time.Second)
	require.NoError(t, err)
	defer data.Close()
	require.NoError(t, waveform.WriteAck(data, 0, 4))

	require.NoError(t, c.Write("START"))

	enabled := state.CountEnabledChannels()
	require.Equal(t, 2, enabled)
	period := int64(1e15 / engine.EffectiveRate(1_000_000_000, enabled))
	require.Equal(t, int64(2_000_000), period)

	var last uint64
	for i := 0; i < 5; i++ {
		data.SetReadDeadline(time.Now().Add(5 * time.Second))
		f, err := waveform.ReadFrame(data, false)
		require.NoError(t, err)
		require.Len(t, f.Channels, enabled)
		require.Equal(t, period, f.Period)
		require.Equal(t, last+1, f.Seq)
		last = f.Seq
		require.NoError(t, waveform.WriteAck(data, f.Seq, 4))
	}

	require.NoError(t, c.Write("STOP"))
	_, err = c.Query("*IDN?")
	require.NoError(t, err)
	require.False(t, state.Armed())
	require.False(t, state.Running())
}
