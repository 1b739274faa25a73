package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chaz8081/navibelt/internal/ble"
	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

type fakeQueue struct {
	ops   event.Broadcaster[*ble.Operation]
	notes event.Broadcaster[ble.Notification]
}

func (q *fakeQueue) OnOperationDone(fn func(*ble.Operation)) func() { return q.ops.Subscribe(fn) }
func (q *fakeQueue) OnNotification(fn func(ble.Notification)) func() {
	return q.notes.Subscribe(fn)
}

type fakeLink struct {
	states   event.Broadcaster[ble.ConnectionState]
	failures event.Broadcaster[error]
}

func (l *fakeLink) OnStateChange(fn func(ble.ConnectionState)) func() { return l.states.Subscribe(fn) }
func (l *fakeLink) OnFailure(fn func(error)) func()                   { return l.failures.Subscribe(fn) }

var (
	_ QueueSource = (*ble.Queue)(nil)
	_ LinkSource  = (*ble.Link)(nil)
)

func TestObserveQueue(t *testing.T) {
	m := New(prometheus.NewRegistry())
	q := &fakeQueue{}
	unsub := m.ObserveQueue(q)

	q.notes.Publish(ble.Notification{Char: ble.KeepAliveUUID, Data: []byte{0x01, 0x01}})
	q.notes.Publish(ble.Notification{Char: ble.KeepAliveUUID, Data: []byte{0x01, 0x02}})
	q.notes.Publish(ble.Notification{Char: ble.BatteryStatusUUID})

	if got := testutil.ToFloat64(m.notifications.WithLabelValues("keep_alive")); got != 2 {
		t.Errorf("keep_alive notifications = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("battery")); got != 1 {
		t.Errorf("battery notifications = %v, want 1", got)
	}

	unsub()
	q.notes.Publish(ble.Notification{Char: ble.BatteryStatusUUID})
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("battery")); got != 1 {
		t.Errorf("battery notifications after unsubscribe = %v, want 1", got)
	}
}

type stubChar struct {
	uuid     string
	writeErr error
}

func (c *stubChar) UUID() string                    { return c.uuid }
func (c *stubChar) Read() ([]byte, error)           { return nil, nil }
func (c *stubChar) Write(data []byte, _ bool) error { return c.writeErr }
func (c *stubChar) Subscribe(func([]byte)) error    { return nil }
func (c *stubChar) Unsubscribe() error              { return nil }
func (c *stubChar) MTU() (int, error)               { return 23, nil }

func TestObserveQueueOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	timers := timer.New()
	defer timers.Close()
	q := ble.NewQueue(timers, time.Second)
	m.ObserveQueue(q)
	q.Attach([]ble.Characteristic{
		&stubChar{uuid: ble.VibrationUUID},
		&stubChar{uuid: ble.BuzzerUUID, writeErr: errors.New("gatt error")},
	})

	ops := []*ble.Operation{
		ble.NewWrite(ble.VibrationUUID, []byte{0x01}),
		ble.NewWrite(ble.VibrationUUID, []byte{0x02}),
		ble.NewWrite(ble.BuzzerUUID, []byte{0x03}),
	}
	for _, op := range ops {
		if !q.Enqueue(op) {
			t.Fatalf("Enqueue(%v) = false", op)
		}
	}
	for _, op := range ops {
		<-op.Done()
	}

	want := `
# HELP navibelt_gatt_operations_total GATT operations that reached a final state, by kind and result.
# TYPE navibelt_gatt_operations_total counter
navibelt_gatt_operations_total{kind="write",result="failed"} 1
navibelt_gatt_operations_total{kind="write",result="success"} 2
`
	waitForCount := func() bool {
		return testutil.CollectAndCount(m.operations) == 2 &&
			testutil.ToFloat64(m.operations.WithLabelValues("write", "success")) == 2
	}
	deadline := time.Now().Add(time.Second)
	for !waitForCount() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "navibelt_gatt_operations_total"); err != nil {
		t.Error(err)
	}
}

func TestObserveLink(t *testing.T) {
	m := New(prometheus.NewRegistry())
	l := &fakeLink{}
	m.ObserveLink(l)

	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial disconnected gauge = %v, want 1", got)
	}

	for _, s := range []ble.ConnectionState{
		ble.StateConnecting, ble.StateHandshake, ble.StateConnected,
		ble.StateReconnecting, ble.StateConnecting, ble.StateReconnecting,
	} {
		l.states.Publish(s)
	}

	if got := testutil.ToFloat64(m.reconnects); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("reconnecting")); got != 1 {
		t.Errorf("reconnecting gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("connected")); got != 0 {
		t.Errorf("connected gauge = %v, want 0", got)
	}

	l.failures.Publish(fmt.Errorf("%w: %w", ble.ErrConnectionLost, errors.New("supervision timeout")))
	l.failures.Publish(fmt.Errorf("%w: %w", ble.ErrConnectionFailed, ble.ErrPairingFailed))
	if got := testutil.ToFloat64(m.connectionFailures.WithLabelValues("connection_lost")); got != 1 {
		t.Errorf("connection_lost failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionFailures.WithLabelValues("pairing_failed")); got != 1 {
		t.Errorf("pairing_failed failures = %v, want 1", got)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ble.ErrNoDeviceFound, "no_device_found"},
		{fmt.Errorf("%w: adapter off", ble.ErrScanFailed), "scan_failed"},
		{fmt.Errorf("%w: %w", ble.ErrConnectionFailed, ble.ErrHandshakeFailed), "handshake_failed"},
		{fmt.Errorf("%w: link down", ble.ErrConnectionFailed), "connection_failed"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := FailureReason(tt.err); got != tt.want {
			t.Errorf("FailureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMalformedPacketAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.MalformedPacket("battery", errors.New("short"))
	m.MalformedPacket("battery", errors.New("short"))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), `navibelt_malformed_packets_total{characteristic="battery"} 2`) {
		t.Errorf("metrics output missing malformed counter:\n%s", body)
	}
}
