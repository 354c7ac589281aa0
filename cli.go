package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
)

// runList prints what the engine offers and exits; it does not open any
// listener.
func runList(w io.Writer, state *device.State) error {
	eng := state.Engine()
	fmt.Fprintf(w, "--- %s %s ---\n", eng.Vendor(), eng.Model())
	fmt.Fprintf(w, "Mode: %s\n", state.Mode())

	fmt.Fprintln(w, "Channels:")
	for _, ch := range state.Channels() {
		on := "off"
		if ch.Enabled {
			on = "on"
		}
		fmt.Fprintf(w, "  %d  %-4s %-3s %d mV/div x%d\n", ch.Index, ch.Name, on, ch.VDiv, ch.Factor)
	}

	for _, opt := range []struct {
		label string
		key   engine.Key
	}{
		{"Sample rates (Hz)", engine.KeySampleRate},
		{"Depths (samples)", engine.KeyLimitSamples},
		{"Volts/div (mV)", engine.KeyProbeVDiv},
	} {
		vals, err := engine.List[uint64](eng, engine.Device, opt.key)
		if err != nil {
			fmt.Fprintf(w, "%s: unavailable (%v)\n", opt.label, err)
			continue
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "%s: %s\n", opt.label, strings.Join(parts, ", "))
	}

	fmt.Fprintf(w, "Current: rate=%d Hz depth=%d trigger=ch%d %s @%.0f%%\n",
		state.Rate(), state.Depth(), state.TriggerChannel(), state.TriggerDirection(), state.TriggerPercent())
	return nil
}
