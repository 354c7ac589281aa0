// Package metrics instruments the control and data planes with Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Frame drop reasons.
const (
	DropStopped = "stopped"
	DropWindow  = "window"
)

type Metrics struct {
	framesSent    prometheus.Counter
	framesDropped *prometheus.CounterVec
	bytesSent     prometheus.Counter
	sendLatency   prometheus.Histogram
	outstanding   prometheus.Gauge
	window        prometheus.Gauge
	sessions      prometheus.Counter
	dataClients   prometheus.Gauge
	commands      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopebridge_frames_sent_total",
			Help: "Frames admitted by the credit window and written to the data plane.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scopebridge_frames_dropped_total",
			Help: "Captured frames not sent, by reason.",
		}, []string{"reason"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopebridge_data_bytes_sent_total",
			Help: "Bytes written to the data plane.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scopebridge_frame_send_seconds",
			Help:    "Time to build and write one frame.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopebridge_window_outstanding",
			Help: "Frames sent but not yet acknowledged.",
		}),
		window: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopebridge_window_size",
			Help: "Credit window last granted by the client.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopebridge_sessions_started_total",
			Help: "Acquisition sessions started on the engine.",
		}),
		dataClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopebridge_data_clients",
			Help: "Connected data-plane clients.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scopebridge_commands_total",
			Help: "Control-plane lines processed, by subject and outcome.",
		}, []string{"subject", "result"}),
	}

	reg.MustRegister(
		m.framesSent,
		m.framesDropped,
		m.bytesSent,
		m.sendLatency,
		m.outstanding,
		m.window,
		m.sessions,
		m.dataClients,
		m.commands,
	)
	return m
}

func (m *Metrics) FrameSent(bytes int, seconds float64) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(bytes))
	m.sendLatency.Observe(seconds)
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Window(outstanding, size uint64) {
	if m == nil {
		return
	}
	m.outstanding.Set(float64(outstanding))
	m.window.Set(float64(size))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) DataClient(delta float64) {
	if m == nil {
		return
	}
	m.dataClients.Add(delta)
}

// Command counts one control line; result is "ok" or "ignored".
func (m *Metrics) Command(subject, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(subject, result).Inc()
}
