// Package metrics wires the fleet-facing counters onto the shared
// Prometheus collector and feeds them from hub traffic and registry
// signals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"flightworks/gcs/pkg/monitoring"
)

// Metrics holds the server-specific instruments. It implements the hub
// traffic-stats interface.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec

	connectedClients *prometheus.GaugeVec
	trackedObjects   *prometheus.GaugeVec
	activeReceipts   *prometheus.GaugeVec
}

// New registers the fleet instruments on the collector.
func New(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		messagesReceived: collector.NewCounter(
			"messages_received_total", "Inbound protocol messages by type", []string{"type"}),
		messagesSent: collector.NewCounter(
			"messages_sent_total", "Outbound protocol messages by type", []string{"type"}),
		messagesDropped: collector.NewCounter(
			"messages_dropped_total", "Outbound messages dropped by reason", []string{"reason"}),
		connectedClients: collector.NewGauge(
			"connected_clients", "Connected clients by channel type", []string{"channel_type"}),
		trackedObjects: collector.NewGauge(
			"tracked_objects", "Registered objects by type", []string{"object_type"}),
		activeReceipts: collector.NewGauge(
			"active_receipts", "Live command receipts", nil),
	}
}

// MessageReceived counts one inbound message.
func (m *Metrics) MessageReceived(msgType string) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(msgType string) {
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// MessageDropped counts one dropped outbound message.
func (m *Metrics) MessageDropped(reason string) {
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// SetConnectedClients records the client count of one channel type.
func (m *Metrics) SetConnectedClients(channelType string, n int) {
	m.connectedClients.WithLabelValues(channelType).Set(float64(n))
}

// SetTrackedObjects records the object count of one object type.
func (m *Metrics) SetTrackedObjects(objectType string, n int) {
	m.trackedObjects.WithLabelValues(objectType).Set(float64(n))
}

// SetActiveReceipts records the number of live receipts.
func (m *Metrics) SetActiveReceipts(n int) {
	m.activeReceipts.WithLabelValues().Set(float64(n))
}
