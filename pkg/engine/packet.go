package engine

// Packet is one item of the capture feed.
type Packet interface {
	packet()
}

// Header opens a capture.
type Header struct{}

// End closes a capture.
type End struct{}

// Trigger carries the bit position at which the engine saw the trigger.
// Only logic captures report it.
type Trigger struct {
	Pos uint64
}

// DSO is an analog capture: NumSamples per enabled channel, one byte per
// channel per sample step, round-robin in device channel order.
type DSO struct {
	NumSamples uint64
	Data       []byte
}

// Logic is a digital capture: one byte (8 samples, LSB first) per enabled
// channel per step, round-robin in device channel order.
type Logic struct {
	Data []byte
}

func (Header) packet()  {}
func (End) packet()     {}
func (Trigger) packet() {}
func (DSO) packet()     {}
func (Logic) packet()   {}
