// Package metrics exposes Prometheus instrumentation for the belt link.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaz8081/navibelt/internal/ble"
)

const namespace = "navibelt"

// QueueSource is the part of ble.Queue the metrics observe.
type QueueSource interface {
	OnOperationDone(fn func(*ble.Operation)) (unsubscribe func())
	OnNotification(fn func(ble.Notification)) (unsubscribe func())
}

// LinkSource is the part of ble.Link the metrics observe.
type LinkSource interface {
	OnStateChange(fn func(ble.ConnectionState)) (unsubscribe func())
	OnFailure(fn func(error)) (unsubscribe func())
}

// Metrics holds the navibelt collectors.
type Metrics struct {
	operations         *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	malformed          *prometheus.CounterVec
	connectionState    *prometheus.GaugeVec
	reconnects         prometheus.Counter
	connectionFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gatt_operations_total",
			Help:      "GATT operations that reached a final state, by kind and result.",
		}, []string{"kind", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications received, by characteristic.",
		}, []string{"characteristic"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Notification payloads dropped as malformed, by characteristic.",
		}, []string{"characteristic"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 for the others.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Transitions into the reconnecting state.",
		}),
		connectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Terminal connection failures, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.operations,
		m.notifications,
		m.malformed,
		m.connectionState,
		m.reconnects,
		m.connectionFailures,
	)
	m.setState(ble.StateDisconnected)
	return m
}

// ObserveQueue counts completed operations and received notifications.
func (m *Metrics) ObserveQueue(q QueueSource) (unsubscribe func()) {
	unsubOps := q.OnOperationDone(func(op *ble.Operation) {
		m.operations.WithLabelValues(op.Kind.String(), op.State().String()).Inc()
	})
	unsubNotes := q.OnNotification(func(n ble.Notification) {
		m.notifications.WithLabelValues(ble.CharacteristicName(n.Char)).Inc()
	})
	return func() {
		unsubOps()
		unsubNotes()
	}
}

// ObserveLink tracks the connection state, reconnect attempts and failures.
func (m *Metrics) ObserveLink(l LinkSource) (unsubscribe func()) {
	unsubState := l.OnStateChange(func(s ble.ConnectionState) {
		if s == ble.StateReconnecting {
			m.reconnects.Inc()
		}
		m.setState(s)
	})
	unsubFail := l.OnFailure(func(err error) {
		m.connectionFailures.WithLabelValues(FailureReason(err)).Inc()
	})
	return func() {
		unsubState()
		unsubFail()
	}
}

// MalformedPacket counts a dropped payload. It matches belt.Options.OnMalformed.
func (m *Metrics) MalformedPacket(char string, _ error) {
	m.malformed.WithLabelValues(char).Inc()
}

func (m *Metrics) setState(current ble.ConnectionState) {
	for s := ble.StateDisconnected; s <= ble.StateConnected; s++ {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

// FailureReason maps a link failure to a metric label. The most specific
// cause wins.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ble.ErrNoDeviceFound):
		return "no_device_found"
	case errors.Is(err, ble.ErrScanFailed):
		return "scan_failed"
	case errors.Is(err, ble.ErrPairingFailed):
		return "pairing_failed"
	case errors.Is(err, ble.ErrHandshakeFailed):
		return "handshake_failed"
	case errors.Is(err, ble.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ble.ErrConnectionFailed):
		return "connection_failed"
	}
	return "other"
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
