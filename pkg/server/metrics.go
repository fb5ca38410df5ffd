package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	sessions       prometheus.Gauge
	messages       *prometheus.CounterVec
	rejectedFrames prometheus.Counter
	avatarRequests *prometheus.CounterVec
	broadcastFails prometheus.Counter
}

// NewMetrics registers the server collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "hsschat_server_sessions",
			Help: "Connected websocket sessions",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsschat_server_messages_total",
			Help: "Chat messages accepted, by kind (public, private, system)",
		}, []string{"kind"}),
		rejectedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "hsschat_server_rejected_frames_total",
			Help: "Inbound frames that were not valid commands",
		}),
		avatarRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsschat_server_avatar_requests_total",
			Help: "Avatar uploads and removals, by operation and result",
		}, []string{"op", "result"}),
		broadcastFails: f.NewCounter(prometheus.CounterOpts{
			Name: "hsschat_server_write_failures_total",
			Help: "Frames that could not be written to a session",
		}),
	}
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRejectedFrame() {
	if m == nil {
		return
	}
	m.rejectedFrames.Inc()
}

func (m *Metrics) RecordAvatar(op, result string) {
	if m == nil {
		return
	}
	m.avatarRequests.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.broadcastFails.Inc()
}
