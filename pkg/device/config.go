package device

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/scopebridge/pkg/engine"
)

// FemtosPerSecond is the time unit of the data plane.
const FemtosPerSecond = 1e15

func sortOptions(v []uint64) {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
}

// SelectVDiv picks the volts/division step for a target in mV/div from an
// ascending table: the greatest entry not above target. Targets above every
// entry get the largest entry; targets below every entry get the smallest.
func SelectVDiv(options []uint64, targetMV float64) (uint64, bool) {
	if len(options) == 0 {
		return 0, false
	}
	selected := options[0]
	for _, o := range options {
		if float64(o) <= targetMV {
			selected = o
		}
	}
	return selected, true
}

// DelayPercent converts a trigger delay in fs to a percentage of the
// capture window (depth samples at rate Hz per channel).
func DelayPercent(delayFs float64, depth, rate uint64) float64 {
	if depth == 0 || rate == 0 {
		return math.NaN()
	}
	period := FemtosPerSecond / float64(rate)
	return delayFs / (float64(depth) * period) * 100
}

// Calibration returns the volts-per-code scale and offset for channel ch:
// volts = code*scale - offset.
func (s *State) Calibration(ch int) (scale, offset float32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch < 0 || ch >= len(s.channels) {
		return 0, 0, fmt.Errorf("calibration ch %d: %w", ch, ErrNoChannel)
	}
	sc, off := s.calibrationLocked(ch)
	return float32(sc), float32(off), nil
}

func (s *State) calibrationLocked(ch int) (scale, offset float64) {
	vdivV := float64(s.channels[ch].VDiv) / 1000
	scale = -s.rangeFactor / 255 * (vdivV * float64(s.divisions))
	offset = 128 * scale
	return scale, offset
}

func (s *State) SetRate(hz uint64) error {
	if err := engine.Set(s.eng, engine.Device, engine.KeySampleRate, hz); err != nil {
		return err
	}
	s.mu.Lock()
	s.rate = hz
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

func (s *State) SetDepth(samples uint64) error {
	if err := engine.Set(s.eng, engine.Device, engine.KeyLimitSamples, samples); err != nil {
		return err
	}
	s.mu.Lock()
	s.depth = samples
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// SetTriggerDelay places the trigger delayFs into the capture window, sized
// from the per-channel rate the data plane reports. A delay that maps outside
// [0,100] percent resets the delay to zero.
func (s *State) SetTriggerDelay(delayFs float64) error {
	s.mu.Lock()
	rate := engine.EffectiveRate(s.rate, s.countEnabledLocked())
	pct := DelayPercent(delayFs, s.depth, rate)
	s.mu.Unlock()

	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		log.Printf("Warning: trigger delay %g fs is %.2f%% of the window, resetting delay to 0", delayFs, pct)
		delayFs, pct = 0, 0
	}

	native := uint8(math.Round(pct))
	if err := engine.Set(s.eng, engine.Device, engine.KeyHorizTriggerPos, native); err != nil {
		return err
	}
	s.mu.Lock()
	s.delayFs = delayFs
	s.trigPct = native
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

func (s *State) SetTriggerChannel(ch int) error {
	if _, ok := s.Channel(ch); !ok {
		return fmt.Errorf("trigger source %d: %w", ch, ErrNoChannel)
	}
	if err := engine.Set(s.eng, engine.Device, engine.KeyTriggerSource, uint8(ch)); err != nil {
		return err
	}
	s.mu.Lock()
	s.trigSource = ch
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// SetTriggerDirection sets the edge; EdgeAny is only meaningful for logic
// captures.
func (s *State) SetTriggerDirection(e Edge) error {
	if e == EdgeAny && s.Mode() != engine.ModeDigital {
		return fmt.Errorf("edge %v: %w", e, ErrInvalidMode)
	}
	if err := engine.Set(s.eng, engine.Device, engine.KeyTriggerSlope, uint8(e)); err != nil {
		return err
	}
	s.mu.Lock()
	s.edge = e
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// SetTriggerLevel converts volts to a raw code for every channel and writes
// each channel's trigger value slot; the trigger source picks which one is
// live.
func (s *State) SetTriggerLevel(volts float64) error {
	s.mu.Lock()
	codes := make([]uint8, len(s.channels))
	for i := range s.channels {
		scale, offset := s.calibrationLocked(i)
		codes[i] = codeFor(volts, scale, offset)
	}
	s.mu.Unlock()

	for i, code := range codes {
		if err := engine.Set(s.eng, i, engine.KeyTriggerValue, code); err != nil {
			return err
		}
		s.mu.Lock()
		s.channels[i].Threshold = code
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

func codeFor(volts, scale, offset float64) uint8 {
	if scale == 0 {
		return 128
	}
	code := math.Round((volts + offset) / scale)
	if code < 0 {
		return 0
	}
	if code > 255 {
		return 255
	}
	return uint8(code)
}

func (s *State) SetCoupling(ch int, coupling uint8) error {
	if _, ok := s.Channel(ch); !ok {
		return fmt.Errorf("coupling ch %d: %w", ch, ErrNoChannel)
	}
	if err := engine.Set(s.eng, ch, engine.KeyProbeCoupling, coupling); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels[ch].Coupling = coupling
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// SetRange selects the volts/division step for a requested full-scale span.
func (s *State) SetRange(ch int, volts float64) (uint64, error) {
	if _, ok := s.Channel(ch); !ok {
		return 0, fmt.Errorf("range ch %d: %w", ch, ErrNoChannel)
	}
	s.mu.Lock()
	target := volts / float64(s.divisions) * 1000
	selected, ok := SelectVDiv(s.vdivs, target)
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("range ch %d: no volts/div table: %w", ch, engine.ErrUnsupported)
	}

	if err := engine.Set(s.eng, ch, engine.KeyProbeVDiv, selected); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.channels[ch].VDiv = selected
	s.notifyLocked()
	s.mu.Unlock()
	return selected, nil
}

// SetChannelEnabled toggles a probe. The engine misbehaves when a probe is
// toggled mid-session, so a running session is stopped first and re-armed
// after the config-correction ritual.
func (s *State) SetChannelEnabled(ctx context.Context, ch int, on bool) error {
	c, ok := s.Channel(ch)
	if !ok {
		return fmt.Errorf("enable ch %d: %w", ch, ErrNoChannel)
	}
	if c.Enabled == on {
		return nil
	}
	if !on && s.CountEnabledChannels() <= 1 {
		return ErrLastChannel
	}

	oneShot := s.OneShot()
	wasRunning := s.StopCaptureSync(ctx)

	if err := engine.Set(s.eng, ch, engine.KeyProbeEnable, on); err != nil {
		if wasRunning {
			s.Arm(oneShot)
		}
		return err
	}
	s.mu.Lock()
	s.channels[ch].Enabled = on
	s.notifyLocked()
	s.mu.Unlock()

	if err := s.ForceCorrectConfig(ctx); err != nil {
		log.Printf("Warning: config correction after ch %d enable=%v: %v", ch, on, err)
	}
	if wasRunning {
		s.Arm(oneShot)
	}
	return nil
}

// StopCaptureSync clears the run flag, asks the engine to stop and waits up
// to StopTimeout for the session to end. It reports whether capture had been
// armed.
func (s *State) StopCaptureSync(ctx context.Context) bool {
	s.mu.Lock()
	was := s.armed
	s.armed = false
	s.oneShot = false
	s.notifyLocked()
	s.mu.Unlock()

	if err := s.eng.Stop(); err != nil {
		log.Printf("Warning: engine stop: %v", err)
	}
	if !s.waitFor(ctx, s.opts.StopTimeout, func() bool { return !s.running }) {
		log.Printf("Warning: session still running after %v", s.opts.StopTimeout)
	}
	return was
}

// ForceCorrectConfig re-pushes settings the engine silently drops across
// mode transitions, then cycles the session.
func (s *State) ForceCorrectConfig(ctx context.Context) error {
	s.mu.Lock()
	analog := s.mode == engine.ModeAnalog
	armed := s.armed
	oneShot := s.oneShot
	s.mu.Unlock()

	if analog && armed {
		if !s.WaitReady(ctx, s.opts.ReadyTimeout) {
			log.Printf("Warning: no captured frame within %v, correcting config anyway", s.opts.ReadyTimeout)
		}
	}

	s.mu.Lock()
	rate, depth, pct := s.rate, s.depth, s.trigPct
	factors := make([]uint64, len(s.channels))
	for i, ch := range s.channels {
		factors[i] = ch.Factor
	}
	s.mu.Unlock()

	if err := engine.Set(s.eng, engine.Device, engine.KeySampleRate, rate); err != nil {
		return err
	}
	if err := engine.Set(s.eng, engine.Device, engine.KeyLimitSamples, depth); err != nil {
		return err
	}
	if err := engine.Set(s.eng, engine.Device, engine.KeyHorizTriggerPos, pct); err != nil {
		return err
	}
	for i, f := range factors {
		if err := engine.Set(s.eng, i, engine.KeyProbeFactor, f); err != nil {
			return err
		}
	}

	if s.StopCaptureSync(ctx) {
		s.Arm(oneShot)
	}
	return nil
}
