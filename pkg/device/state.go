// Package device holds the cached session state of the bridged instrument and
// the rules for changing it: calibration math, trigger placement, channel
// enable guards and the config-correction ritual the engine needs after a
// reconfiguration.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scopebridge/pkg/engine"
)

var (
	ErrLastChannel = errors.New("device: refusing to disable the last enabled channel")
	ErrNoChannel   = errors.New("device: no such channel")
	ErrInvalidMode = errors.New("device: not valid in current mode")
)

// Edge is the trigger edge direction.
type Edge uint8

const (
	EdgeRising  = Edge(engine.SlopeRising)
	EdgeFalling = Edge(engine.SlopeFalling)
	EdgeAny     = Edge(engine.SlopeAny)
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "RISING"
	case EdgeFalling:
		return "FALLING"
	case EdgeAny:
		return "ANY"
	}
	return fmt.Sprintf("EDGE(%d)", uint8(e))
}

// ParseEdge maps the protocol spelling to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "RISING":
		return EdgeRising, nil
	case "FALLING":
		return EdgeFalling, nil
	case "ANY":
		return EdgeAny, nil
	}
	return 0, fmt.Errorf("unknown edge %q", s)
}

// Channel is the cached view of one probe.
type Channel struct {
	Index     int         `json:"index"`
	Name      string      `json:"name"`
	Kind      engine.Mode `json:"kind"`
	Enabled   bool        `json:"enabled"`
	Coupling  uint8       `json:"coupling"`
	VDiv      uint64      `json:"vdiv_mv"`
	Factor    uint64      `json:"factor"`
	Threshold uint8       `json:"threshold"`
}

// Options bounds the waits the state layer performs on the engine.
type Options struct {
	// ReadyTimeout caps how long ForceCorrectConfig waits for a running
	// session to deliver its first frame.
	ReadyTimeout time.Duration
	// StopTimeout caps how long StopCaptureSync waits for the session to end.
	StopTimeout time.Duration
	// Divisions is used when the engine does not report KeyNumVDiv.
	Divisions int
}

// State is the single session context shared by the control and data planes.
type State struct {
	eng  engine.Engine
	opts Options

	mu       sync.Mutex
	changed  chan struct{}
	channels []Channel

	mode       engine.Mode
	rate       uint64
	depth      uint64
	trigSource int
	edge       Edge
	delayFs    float64
	trigPct    uint8

	refMin      uint32
	refMax      uint32
	rangeFactor float64
	vdivs       []uint64
	divisions   int

	armed    bool
	oneShot  bool
	running  bool
	captured bool
}

// New reads the engine's configuration once and caches it.
func New(eng engine.Engine, opts Options) (*State, error) {
	if opts.Divisions <= 0 {
		opts.Divisions = 10
	}

	s := &State{
		eng:     eng,
		opts:    opts,
		changed: make(chan struct{}),
	}

	var err error
	s.mode = engine.Mode(engine.GetOr(eng, engine.Device, engine.KeyOperationMode, uint8(engine.ModeAnalog)))
	if s.rate, err = engine.Get[uint64](eng, engine.Device, engine.KeySampleRate); err != nil {
		return nil, fmt.Errorf("read sample rate: %w", err)
	}
	if s.depth, err = engine.Get[uint64](eng, engine.Device, engine.KeyLimitSamples); err != nil {
		return nil, fmt.Errorf("read sample depth: %w", err)
	}
	s.trigPct = engine.GetOr(eng, engine.Device, engine.KeyHorizTriggerPos, uint8(50))
	s.trigSource = int(engine.GetOr(eng, engine.Device, engine.KeyTriggerSource, uint8(0)))
	s.edge = Edge(engine.GetOr(eng, engine.Device, engine.KeyTriggerSlope, engine.SlopeRising))
	s.refMin = engine.GetOr(eng, engine.Device, engine.KeyRefMin, uint32(0))
	s.refMax = engine.GetOr(eng, engine.Device, engine.KeyRefMax, uint32(255))
	s.rangeFactor = rangeFactor(s.refMin, s.refMax)
	s.divisions = int(engine.GetOr(eng, engine.Device, engine.KeyNumVDiv, uint32(opts.Divisions)))

	if s.vdivs, err = engine.List[uint64](eng, engine.Device, engine.KeyProbeVDiv); err != nil {
		log.Printf("Warning: no volts/div table from engine: %v", err)
	}
	sortOptions(s.vdivs)

	for _, ch := range eng.Channels() {
		s.channels = append(s.channels, Channel{
			Index:     ch.Index,
			Name:      ch.Name,
			Kind:      s.mode,
			Enabled:   engine.GetOr(eng, ch.Index, engine.KeyProbeEnable, false),
			Coupling:  engine.GetOr(eng, ch.Index, engine.KeyProbeCoupling, engine.CouplingDC),
			VDiv:      engine.GetOr(eng, ch.Index, engine.KeyProbeVDiv, uint64(1000)),
			Factor:    engine.GetOr(eng, ch.Index, engine.KeyProbeFactor, uint64(1)),
			Threshold: engine.GetOr(eng, ch.Index, engine.KeyTriggerValue, uint8(128)),
		})
	}
	if len(s.channels) == 0 {
		return nil, fmt.Errorf("engine reports no channels")
	}
	if s.countEnabledLocked() == 0 {
		if err := engine.Set(eng, 0, engine.KeyProbeEnable, true); err != nil {
			return nil, fmt.Errorf("enable channel 0: %w", err)
		}
		s.channels[0].Enabled = true
	}
	return s, nil
}

func rangeFactor(refMin, refMax uint32) float64 {
	if refMax <= refMin {
		return 1
	}
	return 255 / float64(refMax-refMin)
}

// notifyLocked wakes every waiter; caller holds s.mu.
func (s *State) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Changed returns a channel that is closed on the next state change.
func (s *State) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// waitFor blocks until pred (evaluated under s.mu) holds, ctx ends or
// timeout elapses. A non-positive timeout checks pred once.
func (s *State) waitFor(ctx context.Context, timeout time.Duration, pred func() bool) bool {
	s.mu.Lock()
	ok := pred()
	ch := s.changed
	s.mu.Unlock()
	if ok || timeout <= 0 {
		return ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ch:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
		s.mu.Lock()
		ok = pred()
		ch = s.changed
		s.mu.Unlock()
		if ok {
			return true
		}
	}
}

// WaitArmed blocks up to timeout for the run flag.
func (s *State) WaitArmed(ctx context.Context, timeout time.Duration) bool {
	return s.waitFor(ctx, timeout, func() bool { return s.armed })
}

// WaitReady blocks up to timeout for a running session with a captured frame,
// as marked by the data plane or reported by the engine itself.
func (s *State) WaitReady(ctx context.Context, timeout time.Duration) bool {
	return s.waitFor(ctx, timeout, func() bool {
		if s.running && s.captured {
			return true
		}
		st := s.eng.Status()
		return st.Running && st.Captured
	})
}

// Engine returns the bridged engine.
func (s *State) Engine() engine.Engine { return s.eng }

func (s *State) Mode() engine.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *State) Rate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *State) Depth() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

func (s *State) TriggerChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trigSource
}

func (s *State) TriggerDirection() Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edge
}

// TriggerDelay returns the stored delay in fs.
func (s *State) TriggerDelay() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delayFs
}

// TriggerPercent is the device-native trigger position, percent of window.
func (s *State) TriggerPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.trigPct)
}

// Refs returns the ADC codes the hardware reports as its extremes.
func (s *State) Refs() (lo, hi uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refMin, s.refMax
}

// VDivOptions returns the ascending volts/division table in mV.
func (s *State) VDivOptions() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.vdivs...)
}

func (s *State) Divisions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.divisions
}

// Channels returns a copy of every channel in device order.
func (s *State) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Channel(nil), s.channels...)
}

// Acquisition is the configuration a capture was taken under.
type Acquisition struct {
	Channels       []Channel // enabled, device order
	Rate           uint64
	TriggerChannel int
	TriggerPercent float64
	Edge           Edge
}

// Acquisition snapshots the settings that decide a capture's layout and
// trigger placement. Channels cannot change while a session runs, so a
// snapshot taken on delivery holds for the packet.
func (s *State) Acquisition() Acquisition {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := Acquisition{
		Rate:           s.rate,
		TriggerChannel: s.trigSource,
		TriggerPercent: float64(s.trigPct),
		Edge:           s.edge,
	}
	for _, ch := range s.channels {
		if ch.Enabled {
			a.Channels = append(a.Channels, ch)
		}
	}
	return a
}

// Channel returns the cached channel at index i.
func (s *State) Channel(i int) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.channels) {
		return Channel{}, false
	}
	return s.channels[i], true
}

func (s *State) CountEnabledChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countEnabledLocked()
}

func (s *State) countEnabledLocked() int {
	n := 0
	for _, ch := range s.channels {
		if ch.Enabled {
			n++
		}
	}
	return n
}

// Armed reports the run flag.
func (s *State) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *State) OneShot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oneShot
}

func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Arm sets the run flag; the streaming engine starts a session once it sees it.
func (s *State) Arm(oneShot bool) {
	s.mu.Lock()
	s.armed = true
	s.oneShot = oneShot
	s.notifyLocked()
	s.mu.Unlock()
}

// FinishOneShot clears the run flag if the current arm was one-shot.
func (s *State) FinishOneShot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || !s.oneShot {
		return false
	}
	s.armed = false
	s.oneShot = false
	s.notifyLocked()
	return true
}

// MarkRunning records that a session started.
func (s *State) MarkRunning() {
	s.mu.Lock()
	s.running = true
	s.captured = false
	s.notifyLocked()
	s.mu.Unlock()
}

// MarkCaptured records that the running session delivered a frame.
func (s *State) MarkCaptured() {
	s.mu.Lock()
	if !s.captured {
		s.captured = true
		s.notifyLocked()
	}
	s.mu.Unlock()
}

// MarkStopped records that the session ended.
func (s *State) MarkStopped() {
	s.mu.Lock()
	s.running = false
	s.captured = false
	s.notifyLocked()
	s.mu.Unlock()
}

// Snapshot is a JSON-friendly copy of the state.
type Snapshot struct {
	Mode          string    `json:"mode"`
	Rate          uint64    `json:"rate_hz"`
	Depth         uint64    `json:"depth"`
	TriggerSource int       `json:"trigger_source"`
	TriggerEdge   string    `json:"trigger_edge"`
	TriggerDelay  float64   `json:"trigger_delay_fs"`
	TriggerPct    uint8     `json:"trigger_pct"`
	Armed         bool      `json:"armed"`
	OneShot       bool      `json:"one_shot"`
	Running       bool      `json:"running"`
	Captured      bool      `json:"captured"`
	Channels      []Channel `json:"channels"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:          s.mode.String(),
		Rate:          s.rate,
		Depth:         s.depth,
		TriggerSource: s.trigSource,
		TriggerEdge:   s.edge.String(),
		TriggerDelay:  s.delayFs,
		TriggerPct:    s.trigPct,
		Armed:         s.armed,
		OneShot:       s.oneShot,
		Running:       s.running,
		Captured:      s.captured,
		Channels:      append([]Channel(nil), s.channels...),
	}
}
