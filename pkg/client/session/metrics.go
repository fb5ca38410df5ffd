package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the reconciler does with the event stream. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	eventsApplied   *prometheus.CounterVec
	droppedMessages *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	commandsSent    *prometheus.CounterVec
}

// NewMetrics registers the client collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		eventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsschat_client_events_applied_total",
			Help: "Server events applied to the session, by type",
		}, []string{"type"}),
		droppedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsschat_client_dropped_messages_total",
			Help: "Private messages dropped because no channel could be resolved",
		}, []string{"reason"}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hsschat_client_decode_failures_total",
			Help: "Inbound frames that failed to decode",
		}),
		commandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hsschat_client_commands_sent_total",
			Help: "Commands handed to the connection, by type",
		}, []string{"type"}),
	}
}

// RecordEvent counts an applied server event
func (m *Metrics) RecordEvent(msgType string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(msgType).Inc()
}

// RecordDropped counts a dropped private message
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedMessages.WithLabelValues(reason).Inc()
}

// RecordDecodeFailure counts an undecodable frame
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// RecordCommand counts an outbound command
func (m *Metrics) RecordCommand(msgType string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(msgType).Inc()
}
