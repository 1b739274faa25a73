package belt

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
)

func TestHandshakeCompletes(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.connect(t)

	wantSubs := []string{ble.KeepAliveUUID, ble.ButtonPressUUID, ble.ParamNotifyUUID, ble.BatteryStatusUUID}
	if got := h.belt.subscribed(); !slices.Equal(got, wantSubs) {
		t.Errorf("subscriptions = %v, want %v", got, wantSubs)
	}
	wantReqs := [][]byte{{0x01, 0x01}, {0x01, 0x02}, {0x01, 0x04}}
	got := h.belt.char(ble.ParamRequestUUID).written()
	if len(got) != len(wantReqs) {
		t.Fatalf("parameter requests = % x, want % x", got, wantReqs)
	}
	for i := range wantReqs {
		if !bytes.Equal(got[i], wantReqs[i]) {
			t.Errorf("request %d = % x, want % x", i, got[i], wantReqs[i])
		}
	}

	if m := h.ctrl.Mode(); m != protocol.ModeApp {
		t.Errorf("Mode() = %v, want App", m)
	}
	if i, ok := h.ctrl.DefaultIntensity(); !ok || i != 50 {
		t.Errorf("DefaultIntensity() = %d, %v; want 50, true", i, ok)
	}
	if v, ok := h.ctrl.FirmwareVersion(); !ok || v != 47 {
		t.Errorf("FirmwareVersion() = %d, %v; want 47, true", v, ok)
	}
	if v, ok := h.ctrl.Parameter(protocol.ParamCompassAccuracySignal); !ok || v != 0 {
		t.Errorf("Parameter(CompassAccuracySignal) = %d, %v; want 0, true", v, ok)
	}
	if a := h.store.saved(); a != testAddress {
		t.Errorf("saved address = %q, want %q", a, testAddress)
	}
	if !h.ctrl.Connected() {
		t.Error("Connected() = false after handshake")
	}

	// Only connection states are published while the handshake runs.
	var states []ble.ConnectionState
	for _, ev := range h.events.all() {
		sc, ok := ev.(ConnectionStateChanged)
		if !ok {
			t.Errorf("unexpected event during handshake: %#v", ev)
			continue
		}
		states = append(states, sc.State)
	}
	if want := []ble.ConnectionState{ble.StateHandshake, ble.StateConnected}; !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *simBelt)
	}{
		{"subscription fails", func(b *simBelt) { b.char(ble.BatteryStatusUUID).notifyErr = errSim }},
		{"parameter write fails", func(b *simBelt) { b.char(ble.ParamRequestUUID).writeErr = errSim }},
		{"firmware read fails", func(b *simBelt) { b.char(ble.FirmwareInfoUUID).readErr = errSim }},
		// The mode answer is accepted, the intensity answer is out of range.
		{"intensity answer malformed", func(b *simBelt) { b.intensity = 200 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultOptions())
			tt.setup(h.belt)
			h.startHandshake()
			waitFor(t, "handshake result", func() bool { return len(h.link.handshakeResults()) == 1 })
			if got := h.link.handshakeResults(); got[0] {
				t.Fatal("handshake succeeded, want failure")
			}
			if a := h.store.saved(); a != "" {
				t.Errorf("saved address = %q after failed handshake", a)
			}
			// The remaining handshake requests still run; their answers
			// must not surface as events.
			waitFor(t, "queue drained", func() bool { return h.queue.Len() == 0 })
			time.Sleep(50 * time.Millisecond)
			if got := h.link.handshakeResults(); len(got) != 1 {
				t.Errorf("handshake results = %v, want one", got)
			}
			for _, ev := range h.events.all() {
				if _, ok := ev.(ConnectionStateChanged); !ok {
					t.Errorf("event published after failed handshake: %#v", ev)
				}
			}
		})
	}
}

func TestHandshakeTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.HandshakeTimeout = 100 * time.Millisecond
	h := newHarness(t, opts)
	h.belt.silent = true
	h.startHandshake()

	waitFor(t, "handshake result", func() bool { return len(h.link.handshakeResults()) == 1 })
	if h.link.handshakeResults()[0] {
		t.Fatal("handshake succeeded without parameter answers")
	}
}

func TestHandshakeAbortedByDisconnect(t *testing.T) {
	opts := DefaultOptions()
	opts.HandshakeTimeout = 100 * time.Millisecond
	h := newHarness(t, opts)
	h.belt.silent = true
	h.startHandshake()
	h.link.states.Publish(ble.StateReconnecting)

	time.Sleep(200 * time.Millisecond)
	if got := h.link.handshakeResults(); len(got) != 0 {
		t.Errorf("handshake results = %v after the link went down, want none", got)
	}
}

func TestCacheClearedWhenLinkDrops(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.connect(t)
	h.belt.char(ble.BatteryStatusUUID).notify(protocol.EncodeBatteryStatus(protocol.BatteryStatus{
		PowerStatus: protocol.PowerOnBattery, Level: 80, VoltageMV: 4000,
	}))
	waitFor(t, "battery", func() bool { _, ok := h.ctrl.Battery(); return ok })

	h.link.states.Publish(ble.StateReconnecting)

	if m := h.ctrl.Mode(); m != protocol.ModeUnknown {
		t.Errorf("Mode() = %v, want Unknown", m)
	}
	if _, ok := h.ctrl.DefaultIntensity(); ok {
		t.Error("DefaultIntensity() still cached")
	}
	if _, ok := h.ctrl.FirmwareVersion(); ok {
		t.Error("FirmwareVersion() still cached")
	}
	if _, ok := h.ctrl.Battery(); ok {
		t.Error("Battery() still cached")
	}
	if _, ok := h.ctrl.Parameter(protocol.ParamMode); ok {
		t.Error("Parameter(Mode) still cached")
	}
	if err := h.ctrl.ChangeMode(protocol.ModeApp); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ChangeMode after drop = %v, want ErrNotConnected", err)
	}
}

func TestConnectionFailurePublished(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.link.failures.Publish(ble.ErrConnectionLost)

	got := eventsOf[ConnectionFailed](h.events)
	if len(got) != 1 || !errors.Is(got[0].Err, ble.ErrConnectionLost) {
		t.Errorf("ConnectionFailed events = %v", got)
	}
}
