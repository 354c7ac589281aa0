package waveform

import "sync/atomic"

type credit struct {
	lastAcked uint64
	size      uint64
}

// Window is the data-plane credit window. The frame producer is the only
// writer of the produced counter; the acknowledgement reader is the only
// writer of the credit pair, which it publishes as one value.
type Window struct {
	produced atomic.Uint64
	credit   atomic.Pointer[credit]
}

// NewWindow returns a window allowing size unacknowledged frames.
func NewWindow(size uint64) *Window {
	w := &Window{}
	w.credit.Store(&credit{size: size})
	return w
}

// Admit reserves the next sequence number, or reports false when the client
// already has a full window of frames outstanding.
func (w *Window) Admit() (uint64, bool) {
	produced := w.produced.Load()
	if w.outstanding(produced) >= w.credit.Load().size {
		return 0, false
	}
	seq := produced + 1
	w.produced.Store(seq)
	return seq, true
}

// Ack publishes a client acknowledgement.
func (w *Window) Ack(lastAcked, size uint64) {
	w.credit.Store(&credit{lastAcked: lastAcked, size: size})
}

// Produced is the last admitted sequence number.
func (w *Window) Produced() uint64 {
	return w.produced.Load()
}

// Outstanding is the number of admitted frames not yet acknowledged.
func (w *Window) Outstanding() uint64 {
	return w.outstanding(w.produced.Load())
}

// Size is the current credit.
func (w *Window) Size() uint64 {
	return w.credit.Load().size
}

func (w *Window) outstanding(produced uint64) uint64 {
	c := w.credit.Load()
	if c.lastAcked >= produced {
		return 0
	}
	return produced - c.lastAcked
}
