// Package engine describes the acquisition engine the bridge drives: channel
// enumeration, a keyed configuration store and a push feed of capture packets.
//
// The bridge never talks to hardware directly. Anything that satisfies Engine
// can be bridged; Simulator is the in-process implementation used for
// development and tests.
package engine

import (
	"errors"
	"fmt"
)

// Device addresses device-level configuration keys (no channel).
const Device = -1

var (
	ErrUnsupported   = errors.New("engine: key not supported")
	ErrType          = errors.New("engine: value type mismatch")
	ErrInvalidValue  = errors.New("engine: invalid value")
	ErrSessionActive = errors.New("engine: session already active")
	ErrNoSession     = errors.New("engine: no session started")
)

// Key is a device-native configuration code.
type Key int

const (
	KeySampleRate      Key = iota // uint64, Hz
	KeyLimitSamples               // uint64, samples per channel
	KeyHorizTriggerPos            // uint8, percent of capture window
	KeyTriggerSource              // uint8, channel index
	KeyTriggerSlope               // uint8, Slope*
	KeyTriggerValue               // uint8 per channel, raw threshold code
	KeyProbeEnable                // bool per channel
	KeyProbeCoupling              // uint8 per channel, Coupling*
	KeyProbeVDiv                  // uint64 per channel, mV/div
	KeyProbeFactor                // uint64 per channel, attenuation
	KeyUnitBits                   // uint8
	KeyRefMin                     // uint32, lowest ADC code reported
	KeyRefMax                     // uint32, highest ADC code reported
	KeyOperationMode              // uint8, Mode
	KeyNumVDiv                    // uint32, vertical divisions on screen
)

func (k Key) String() string {
	switch k {
	case KeySampleRate:
		return "SAMPLERATE"
	case KeyLimitSamples:
		return "LIMIT_SAMPLES"
	case KeyHorizTriggerPos:
		return "HORIZ_TRIGGERPOS"
	case KeyTriggerSource:
		return "TRIGGER_SOURCE"
	case KeyTriggerSlope:
		return "TRIGGER_SLOPE"
	case KeyTriggerValue:
		return "TRIGGER_VALUE"
	case KeyProbeEnable:
		return "PROBE_EN"
	case KeyProbeCoupling:
		return "PROBE_COUPLING"
	case KeyProbeVDiv:
		return "PROBE_VDIV"
	case KeyProbeFactor:
		return "PROBE_FACTOR"
	case KeyUnitBits:
		return "UNIT_BITS"
	case KeyRefMin:
		return "REF_MIN"
	case KeyRefMax:
		return "REF_MAX"
	case KeyOperationMode:
		return "OPERATION_MODE"
	case KeyNumVDiv:
		return "NUM_VDIV"
	}
	return fmt.Sprintf("KEY(%d)", int(k))
}

// Mode is the value of KeyOperationMode.
type Mode uint8

const (
	ModeDigital Mode = 0
	ModeAnalog  Mode = 1
)

func (m Mode) String() string {
	if m == ModeAnalog {
		return "analog"
	}
	return "digital"
}

// Values of KeyProbeCoupling.
const (
	CouplingDC uint8 = 0
	CouplingAC uint8 = 1
)

// Values of KeyTriggerSlope.
const (
	SlopeRising  uint8 = 0
	SlopeFalling uint8 = 1
	SlopeAny     uint8 = 2
)

// Channel is one probe as enumerated by the engine.
type Channel struct {
	Index int
	Name  string
}

// Status reports the session lifecycle as the engine sees it.
type Status struct {
	Running  bool
	Captured bool // at least one data packet delivered in this session
}

// Engine is the acquisition engine contract.
//
// The feed callback is invoked on the engine's own goroutine; the packet and
// its buffers are owned by the receiver once delivered.
type Engine interface {
	Vendor() string
	Model() string
	Channels() []Channel

	ConfigGet(ch int, key Key) (any, error)
	ConfigSet(ch int, key Key, v any) error
	ConfigList(ch int, key Key) (any, error)

	SetFeed(fn func(Packet))
	Start() error
	Run() error
	Stop() error
	Status() Status
}
