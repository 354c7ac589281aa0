// Package waveform is the data plane: it turns the engine's capture feed into
// a credit-windowed binary frame stream for a single connected client.
package waveform

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
	"github.com/scopebridge/pkg/journal"
	"github.com/scopebridge/pkg/metrics"
	"github.com/scopebridge/pkg/trigger"
)

// Config tunes the data plane.
type Config struct {
	// InitialWindow is the credit a client has before its first ack.
	InitialWindow uint64
	// WriteTimeout bounds a single frame write; exceeding it drops the client.
	WriteTimeout time.Duration
	// IdlePoll bounds each wait for the run flag so shutdown is noticed.
	IdlePoll time.Duration
	// SendBuffer sets SO_SNDBUF on the data socket when positive.
	SendBuffer int
}

// Server streams frames to one data-plane client at a time.
type Server struct {
	state   *device.State
	eng     engine.Engine
	cfg     Config
	metrics *metrics.Metrics
	journal *journal.Writer
}

// NewServer wires the data plane to the shared session state. m and j may be
// nil.
func NewServer(state *device.State, cfg Config, m *metrics.Metrics, j *journal.Writer) *Server {
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 100 * time.Millisecond
	}
	return &Server{
		state:   state,
		eng:     state.Engine(),
		cfg:     cfg,
		metrics: m,
		journal: j,
	}
}

// Serve accepts data-plane clients until ctx is cancelled. A client's
// failure ends only that client's stream.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("data plane accept: %w", err)
		}

		log.Printf("Client connected to data plane from %s", conn.RemoteAddr())
		s.metrics.DataClient(1)
		if err := s.serveClient(ctx, conn); err != nil {
			log.Printf("Data plane stream ended: %v", err)
		}
		conn.Close()
		s.metrics.DataClient(-1)
		log.Println("Data plane client disconnected")
	}
}

// serveClient runs acquisition sessions for one client until it goes away,
// the engine fails or ctx is cancelled.
func (s *Server) serveClient(ctx context.Context, conn net.Conn) error {
	if err := tuneSocket(conn, s.cfg.SendBuffer); err != nil {
		log.Printf("Warning: failed to tune data socket, performance may be poor: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	st := newStream(s, conn)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	go st.readAcks()

	// Ending the client or the process must unblock a running session.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-st.done:
			cancel()
		case <-ctx.Done():
		}
		if err := s.eng.Stop(); err != nil {
			log.Printf("Warning: engine stop: %v", err)
		}
	}()

	// The engine delivers on its own goroutine; hand packets over one at a
	// time to the consumer below. A packet can outlive its session in the
	// hand-over, so it carries the settings it was captured under.
	feed := make(chan capture, 1)
	s.eng.SetFeed(func(p engine.Packet) {
		c := capture{packet: p}
		switch p.(type) {
		case engine.DSO, engine.Logic:
			c.acq = s.state.Acquisition()
		}
		select {
		case feed <- c:
		case <-ctx.Done():
		}
	})
	defer s.eng.SetFeed(nil)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case c := <-feed:
				st.handle(c)
			case <-ctx.Done():
				return
			}
		}
	}()

	for ctx.Err() == nil {
		if !s.state.WaitArmed(ctx, s.cfg.IdlePoll) {
			continue
		}

		if err := s.eng.Start(); err != nil {
			return fmt.Errorf("session start: %w", err)
		}
		s.state.MarkRunning()
		s.metrics.SessionStarted()

		// A stop that raced the start found no session to stop.
		if ctx.Err() != nil || !s.state.Armed() {
			if err := s.eng.Stop(); err != nil {
				log.Printf("Warning: engine stop: %v", err)
			}
		}

		err := s.eng.Run()
		s.state.MarkStopped()
		if err != nil {
			return fmt.Errorf("session run: %w", err)
		}
	}
	return st.Err()
}

// capture is one feed packet and the acquisition settings at delivery.
type capture struct {
	packet engine.Packet
	acq    device.Acquisition
}

// stream is the per-client half of the data plane.
type stream struct {
	srv  *Server
	conn net.Conn
	win  *Window

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	// Consumer goroutine only.
	trigBit  uint64
	haveTrig bool
	buf      []byte
}

func newStream(srv *Server, conn net.Conn) *stream {
	return &stream{
		srv:  srv,
		conn: conn,
		win:  NewWindow(srv.cfg.InitialWindow),
		done: make(chan struct{}),
	}
}

// fail ends the client's participation; the first error wins.
func (st *stream) fail(err error) {
	st.closeOnce.Do(func() {
		st.errMu.Lock()
		st.err = err
		st.errMu.Unlock()
		close(st.done)
		st.conn.Close()
	})
}

func (st *stream) Err() error {
	st.errMu.Lock()
	defer st.errMu.Unlock()
	return st.err
}

func (st *stream) dead() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

func (st *stream) readAcks() {
	for {
		last, size, err := ReadAck(st.conn)
		if err != nil {
			st.fail(fmt.Errorf("ack read: %w", err))
			return
		}
		st.win.Ack(last, size)
		st.srv.metrics.Window(st.win.Outstanding(), size)
	}
}

func (st *stream) handle(c capture) {
	switch p := c.packet.(type) {
	case engine.Header, engine.End:
	case engine.Trigger:
		st.trigBit = p.Pos
		st.haveTrig = true
	case engine.DSO:
		st.frame(c.acq, p.Data, int(p.NumSamples), false)
	case engine.Logic:
		st.frame(c.acq, p.Data, 0, true)
	}
}

// frame admits, builds and sends one frame candidate.
func (st *stream) frame(acq device.Acquisition, data []byte, n int, digital bool) {
	state := st.srv.state
	m := st.srv.metrics
	state.MarkCaptured()

	if st.dead() {
		return
	}
	if !state.Armed() {
		m.FrameDropped(metrics.DropStopped)
		return
	}
	seq, ok := st.win.Admit()
	if !ok {
		m.FrameDropped(metrics.DropWindow)
		return
	}

	start := time.Now()
	f := st.build(acq, seq, data, n, digital)
	st.haveTrig = false

	st.buf = f.AppendTo(st.buf[:0])
	if st.srv.cfg.WriteTimeout > 0 {
		st.conn.SetWriteDeadline(time.Now().Add(st.srv.cfg.WriteTimeout))
	}
	if _, err := st.conn.Write(st.buf); err != nil {
		st.fail(fmt.Errorf("send frame %d: %w", seq, err))
		return
	}
	m.FrameSent(len(st.buf), time.Since(start).Seconds())
	m.Window(st.win.Outstanding(), st.win.Size())
	st.record(f)

	if state.FinishOneShot() {
		if err := st.srv.eng.Stop(); err != nil {
			log.Printf("Warning: engine stop after single capture: %v", err)
		}
	}
}

func (st *stream) build(acq device.Acquisition, seq uint64, data []byte, n int, digital bool) *Frame {
	state := st.srv.state
	chans := acq.Channels
	k := len(chans)

	f := &Frame{
		Seq:     seq,
		Period:  engine.SamplePeriod(acq.Rate, k),
		Digital: digital,
	}

	var bufs [][]byte
	if digital {
		bufs = DeinterleaveLogic(data, k)
	} else {
		bufs = DeinterleaveAnalog(data, k, n)
	}

	trig := -1
	for j, ch := range chans {
		if ch.Index == acq.TriggerChannel {
			trig = j
		}
	}
	pct := acq.TriggerPercent

	if digital {
		var first int32
		if trig >= 0 && st.haveTrig {
			first = trigger.Digital(bufs[trig], pct, st.trigBit, acq.Edge)
		}
		for j, ch := range chans {
			f.Channels = append(f.Channels, ChannelFrame{
				Index:   uint64(ch.Index),
				Samples: UnpackBits(bufs[j]),
				Cal:     Calibration{FirstSample: first},
			})
		}
		return f
	}

	var phase float32
	if trig >= 0 {
		if p, ok := trigger.Analog(bufs[trig], pct, chans[trig].Threshold); ok {
			phase = p
		}
	}
	lo, hi := state.Refs()
	for j, ch := range chans {
		scale, offset, err := state.Calibration(ch.Index)
		if err != nil {
			log.Printf("Warning: %v", err)
		}
		f.Channels = append(f.Channels, ChannelFrame{
			Index:   uint64(ch.Index),
			Samples: bufs[j],
			Cal: Calibration{
				Scale:     scale,
				Offset:    offset,
				TrigPhase: phase,
				Clipping:  clipped(bufs[j], lo, hi),
			},
		})
	}
	return f
}

func (st *stream) record(f *Frame) {
	if st.srv.journal == nil {
		return
	}
	now := time.Now().UnixNano()
	entries := make([]journal.Entry, 0, len(f.Channels))
	for _, ch := range f.Channels {
		entries = append(entries, journal.Entry{
			TimeUnixNano: now,
			Seq:          f.Seq,
			Channel:      ch.Index,
			SampleCount:  uint64(len(ch.Samples)),
			PeriodFs:     f.Period,
			Digital:      f.Digital,
			Scale:        ch.Cal.Scale,
			Offset:       ch.Cal.Offset,
			TrigPhase:    ch.Cal.TrigPhase,
			Clipping:     ch.Cal.Clipping,
			FirstSample:  ch.Cal.FirstSample,
		})
	}
	if err := st.srv.journal.Append(entries...); err != nil {
		log.Printf("Warning: %v", err)
	}
}
