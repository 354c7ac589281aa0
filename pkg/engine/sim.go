package engine

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"
)

// SimConfig configures the simulated instrument.
type SimConfig struct {
	Vendor   string
	Model    string
	Channels int
	Mode     Mode
	Interval time.Duration // time between captures within a session

	// Signal shape, in samples per period.
	PeriodSamples int
	Amplitude     float64 // ADC codes, peak
}

const (
	simDefaultRate  = 100_000_000
	simDefaultDepth = 1000
)

// Simulator is an in-process Engine producing sine (analog) or square
// (digital) captures with the trigger placed near the configured position.
type Simulator struct {
	cfg      SimConfig
	channels []Channel

	mu      sync.Mutex
	dev     map[Key]any
	probe   []map[Key]any
	lists   map[Key]any
	feed    func(Packet)
	rng     *rand.Rand
	started bool
	running bool
	capt    bool
	stop    chan struct{}
	stopped bool
}

// NewSimulator builds a simulator with sane defaults for unset fields.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Vendor == "" {
		cfg.Vendor = "ScopeBridge"
	}
	if cfg.Model == "" {
		cfg.Model = "SIM-2"
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.PeriodSamples <= 0 {
		cfg.PeriodSamples = 100
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 100
	}

	s := &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	s.dev = map[Key]any{
		KeySampleRate:      uint64(simDefaultRate),
		KeyLimitSamples:    uint64(simDefaultDepth),
		KeyHorizTriggerPos: uint8(50),
		KeyTriggerSource:   uint8(0),
		KeyTriggerSlope:    SlopeRising,
		KeyUnitBits:        uint8(8),
		KeyRefMin:          uint32(0),
		KeyRefMax:          uint32(255),
		KeyOperationMode:   uint8(cfg.Mode),
		KeyNumVDiv:         uint32(10),
	}
	if cfg.Mode == ModeDigital {
		s.dev[KeyUnitBits] = uint8(1)
	}
	s.lists = map[Key]any{
		KeySampleRate:   []uint64{1_000_000, 10_000_000, 100_000_000, 500_000_000, 1_000_000_000},
		KeyLimitSamples: []uint64{1000, 8000, 64000, 1_000_000},
		KeyProbeVDiv:    []uint64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}

	for i := 0; i < cfg.Channels; i++ {
		s.channels = append(s.channels, Channel{Index: i, Name: fmt.Sprintf("%d", i)})
		s.probe = append(s.probe, map[Key]any{
			KeyProbeEnable:   i == 0,
			KeyProbeCoupling: CouplingDC,
			KeyProbeVDiv:     uint64(1000),
			KeyProbeFactor:   uint64(1),
			KeyTriggerValue:  uint8(128),
		})
	}
	return s
}

func (s *Simulator) Vendor() string { return s.cfg.Vendor }
func (s *Simulator) Model() string  { return s.cfg.Model }

func (s *Simulator) Channels() []Channel {
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

func (s *Simulator) store(ch int) (map[Key]any, error) {
	if ch == Device {
		return s.dev, nil
	}
	if ch < 0 || ch >= len(s.probe) {
		return nil, fmt.Errorf("channel %d: %w", ch, ErrInvalidValue)
	}
	return s.probe[ch], nil
}

func (s *Simulator) ConfigGet(ch int, key Key) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store(ch)
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, ErrUnsupported
	}
	return v, nil
}

func (s *Simulator) ConfigSet(ch int, key Key, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store(ch)
	if err != nil {
		return err
	}
	cur, ok := m[key]
	if !ok {
		return ErrUnsupported
	}
	if reflect.TypeOf(cur) != reflect.TypeOf(v) {
		return ErrType
	}

	switch key {
	case KeySampleRate, KeyLimitSamples:
		if v.(uint64) == 0 {
			return ErrInvalidValue
		}
	case KeyHorizTriggerPos:
		if v.(uint8) > 100 {
			return ErrInvalidValue
		}
	case KeyTriggerSource:
		if int(v.(uint8)) >= len(s.channels) {
			return ErrInvalidValue
		}
	case KeyOperationMode:
		// Mode transitions drop timebase settings back to defaults, like
		// the hardware this stands in for.
		if cur.(uint8) != v.(uint8) {
			m[KeySampleRate] = uint64(simDefaultRate)
			m[KeyLimitSamples] = uint64(simDefaultDepth)
		}
	}
	m[key] = v
	return nil
}

func (s *Simulator) ConfigList(ch int, key Key) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lists[key]
	if !ok {
		return nil, ErrUnsupported
	}
	return v, nil
}

func (s *Simulator) SetFeed(fn func(Packet)) {
	s.mu.Lock()
	s.feed = fn
	s.mu.Unlock()
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSessionActive
	}
	s.started = true
	s.running = true
	s.capt = false
	s.stopped = false
	s.stop = make(chan struct{})
	return nil
}

// Run delivers captures until Stop is called.
func (s *Simulator) Run() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNoSession
	}
	stop := s.stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.started = false
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}

		packets := s.capture()
		for _, p := range packets {
			select {
			case <-stop:
				return nil
			default:
			}
			s.mu.Lock()
			fn := s.feed
			s.mu.Unlock()
			if fn != nil {
				fn(p)
			}
		}

		s.mu.Lock()
		s.capt = true
		s.mu.Unlock()
	}
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started && !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	return nil
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Captured: s.capt}
}

// capture synthesizes one capture worth of packets from the current
// configuration.
func (s *Simulator) capture() []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := s.dev[KeyLimitSamples].(uint64)
	pct := float64(s.dev[KeyHorizTriggerPos].(uint8))
	mode := Mode(s.dev[KeyOperationMode].(uint8))

	var enabled []int
	for i, m := range s.probe {
		if m[KeyProbeEnable].(bool) {
			enabled = append(enabled, i)
		}
	}
	k := len(enabled)
	if k == 0 {
		return nil
	}

	if mode == ModeDigital {
		return s.logicCapture(depth, pct, k)
	}

	n := int(depth)
	data := make([]byte, n*k)
	trig := float64(n)*pct/100 + s.rng.Float64()
	period := float64(s.cfg.PeriodSamples)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			t := float64(i) - trig
			chPhase := float64(j) * (math.Pi / 4)
			dither := s.rng.Float64() - 0.5

			// Codes are stored inverted around 128: rising volts fall in code.
			val := 128 - s.cfg.Amplitude*math.Sin(2*math.Pi*t/period+chPhase) + dither
			if val > 255 {
				val = 255
			}
			if val < 0 {
				val = 0
			}
			data[i*k+j] = byte(val)
		}
	}
	return []Packet{Header{}, DSO{NumSamples: uint64(n), Data: data}, End{}}
}

func (s *Simulator) logicCapture(depth uint64, pct float64, k int) []Packet {
	nbytes := int(depth / 8)
	nbits := nbytes * 8
	period := s.cfg.PeriodSamples
	if period < 2 {
		period = 2
	}
	half := period / 2

	rising := int(float64(nbits)*pct/100) + s.rng.Intn(8)
	level := func(i int) bool {
		d := (i - rising) % period
		if d < 0 {
			d += period
		}
		return d < half
	}

	data := make([]byte, nbytes*k)
	for b := 0; b < nbytes; b++ {
		var v byte
		for bit := 0; bit < 8; bit++ {
			if level(b*8 + bit) {
				v |= 1 << bit
			}
		}
		for j := 0; j < k; j++ {
			data[b*k+j] = v
		}
	}

	pos := uint64(rising) &^ 7
	return []Packet{Header{}, Trigger{Pos: pos}, Logic{Data: data}, End{}}
}
