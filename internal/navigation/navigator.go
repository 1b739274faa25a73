// Package navigation maps navigation intents onto belt commands and keeps
// the navigation state in step with the belt mode.
package navigation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/navibelt/internal/belt"
	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

// DefaultDebounce is the minimum interval between two navigation commands.
const DefaultDebounce = 100 * time.Millisecond

// NoSignal navigates without vibrating.
const NoSignal protocol.Signal = -1

// navigationChannel is the channel repeated signals play on by default.
const navigationChannel = 2

const debounceTimerKey = "navigation/debounce"

// ErrNotNavigating is returned by UpdateSignal outside Navigating.
var ErrNotNavigating = errors.New("navigation: not navigating")

// State is the navigation state.
type State int

const (
	Stopped State = iota
	Paused
	Navigating
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Navigating:
		return "navigating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Belt is the part of the communication controller used for navigation.
type Belt interface {
	Subscribe(fn func(belt.Event)) (unsubscribe func())
	Connected() bool
	Mode() protocol.Mode
	ChangeMode(m protocol.Mode) error
	VibrateAtAngle(angle int, signal protocol.Signal, opts ...belt.VibrationOption) error
	VibrateAtBearing(bearing int, signal protocol.Signal, opts ...belt.VibrationOption) error
	StopVibration(channels ...int) error
}

// Event is published by the Navigator.
type Event interface {
	navigationEvent()
}

// StateChanged reports a new navigation state.
type StateChanged struct {
	State State
}

// ModeDrift reports a belt mode that disagreed with the navigation state.
type ModeDrift struct {
	State State
	Mode  protocol.Mode
}

func (StateChanged) navigationEvent() {}
func (ModeDrift) navigationEvent()    {}

// Navigator is the navigation state machine.
type Navigator struct {
	belt     Belt
	timers   *timer.Scheduler
	debounce time.Duration

	mu        sync.Mutex
	state     State
	direction int
	bearing   bool
	signal    protocol.Signal
	// pausedByUs is set while the belt is in Pause because this navigator
	// asked for it.
	pausedByUs bool
	// awaitingApp is set while a change to App mode is outstanding.
	awaitingApp bool
	lastSent    time.Time

	events event.Broadcaster[Event]
	unsub  func()
}

// NewNavigator returns a stopped navigator bound to b. A non-positive
// debounce selects DefaultDebounce.
func NewNavigator(b Belt, timers *timer.Scheduler, debounce time.Duration) *Navigator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	n := &Navigator{belt: b, timers: timers, debounce: debounce, signal: NoSignal}
	n.unsub = b.Subscribe(n.handleBeltEvent)
	return n
}

// Subscribe registers fn for navigation events.
func (n *Navigator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return n.events.Subscribe(fn)
}

// Close detaches the navigator from the belt.
func (n *Navigator) Close() {
	n.unsub()
	n.timers.Cancel(debounceTimerKey)
}

// State returns the navigation state.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Start starts navigating towards direction, an angle relative to the belt
// front or a magnetic bearing. signal must be NoSignal or a repeated
// directional signal. While navigating, Start updates the live signal.
func (n *Navigator) Start(direction int, bearing bool, signal protocol.Signal) error {
	if err := checkSignal(signal); err != nil {
		return err
	}
	n.mu.Lock()
	n.direction, n.bearing, n.signal = direction, bearing, signal
	var events []Event
	if n.state == Navigating {
		n.requestSendLocked()
	} else {
		events = n.setStateLocked(Navigating)
		n.pausedByUs = false
		if n.belt.Connected() {
			n.enterAppLocked()
		}
	}
	n.mu.Unlock()
	n.events.PublishAll(events)
	return nil
}

// UpdateSignal changes the live navigation signal. Updates are sent at most
// once per debounce interval; the last update wins.
func (n *Navigator) UpdateSignal(direction int, bearing bool, signal protocol.Signal) error {
	if err := checkSignal(signal); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Navigating {
		return ErrNotNavigating
	}
	n.direction, n.bearing, n.signal = direction, bearing, signal
	n.requestSendLocked()
	return nil
}

// Pause pauses navigation. The belt is only asked to pause when it is in
// App mode.
func (n *Navigator) Pause() {
	n.mu.Lock()
	if n.state != Navigating {
		n.mu.Unlock()
		return
	}
	events := n.setStateLocked(Paused)
	n.timers.Cancel(debounceTimerKey)
	n.awaitingApp = false
	if n.belt.Connected() && n.belt.Mode() == protocol.ModeApp {
		n.pausedByUs = true
		n.changeModeLocked(protocol.ModePause)
	}
	n.mu.Unlock()
	n.events.PublishAll(events)
}

// Stop stops navigation. The belt is sent to Wait mode when it is in App
// mode, or in a Pause this navigator requested.
func (n *Navigator) Stop() {
	n.mu.Lock()
	if n.state == Stopped {
		n.mu.Unlock()
		return
	}
	events := n.setStateLocked(Stopped)
	n.timers.Cancel(debounceTimerKey)
	n.awaitingApp = false
	if n.belt.Connected() {
		switch mode := n.belt.Mode(); {
		case mode == protocol.ModeApp, mode == protocol.ModePause && n.pausedByUs:
			n.changeModeLocked(protocol.ModeWait)
		}
	}
	n.pausedByUs = false
	n.mu.Unlock()
	n.events.PublishAll(events)
}

func checkSignal(s protocol.Signal) error {
	if s == NoSignal {
		return nil
	}
	if !s.Valid() || !s.Repeated() || !s.Directional() {
		return fmt.Errorf("navigation: %w: signal %s is not a repeated directional signal", protocol.ErrInvalidArgument, s)
	}
	return nil
}

func (n *Navigator) setStateLocked(s State) []Event {
	if n.state == s {
		return nil
	}
	slog.Info("[NAV] state changed", "from", n.state, "to", s)
	n.state = s
	return []Event{StateChanged{State: s}}
}

// enterAppLocked sends the navigation command when the belt is in App mode,
// and otherwise asks for App mode first.
func (n *Navigator) enterAppLocked() {
	if n.belt.Mode() == protocol.ModeApp {
		n.awaitingApp = false
		n.requestSendLocked()
		return
	}
	n.awaitingApp = true
	n.changeModeLocked(protocol.ModeApp)
}

func (n *Navigator) changeModeLocked(m protocol.Mode) {
	if err := n.belt.ChangeMode(m); err != nil {
		slog.Warn("[NAV] mode change failed", "mode", m, "error", err)
	}
}

// requestSendLocked sends now if the debounce interval has passed, or
// schedules one deferred send at its end. A pending send picks up the latest
// values when it fires.
func (n *Navigator) requestSendLocked() {
	if n.awaitingApp || n.timers.Pending(debounceTimerKey) {
		return
	}
	wait := n.debounce - time.Since(n.lastSent)
	if wait <= 0 {
		n.sendLocked()
		return
	}
	n.timers.Schedule(debounceTimerKey, wait, n.flush)
}

func (n *Navigator) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Navigating && !n.awaitingApp {
		n.sendLocked()
	}
}

func (n *Navigator) sendLocked() {
	if !n.belt.Connected() {
		return
	}
	n.lastSent = time.Now()
	var err error
	switch {
	case n.signal == NoSignal:
		err = n.belt.StopVibration(navigationChannel)
	case n.bearing:
		err = n.belt.VibrateAtBearing(n.direction, n.signal, belt.WithChannel(navigationChannel))
	default:
		err = n.belt.VibrateAtAngle(n.direction, n.signal, belt.WithChannel(navigationChannel))
	}
	if err != nil {
		slog.Warn("[NAV] navigation command failed", "error", err)
	}
}

func (n *Navigator) handleBeltEvent(ev belt.Event) {
	var events []Event
	n.mu.Lock()
	switch ev := ev.(type) {
	case belt.ConnectionStateChanged:
		n.connectionChangedLocked(ev.State)
	case belt.ModeChanged:
		if !ev.ByButton {
			events = n.modeChangedLocked(ev.Mode)
		}
	case belt.ButtonPressed:
		events = n.buttonPressedLocked(ev.Press)
	}
	n.mu.Unlock()
	n.events.PublishAll(events)
}

func (n *Navigator) connectionChangedLocked(s ble.ConnectionState) {
	if s != ble.StateConnected {
		n.timers.Cancel(debounceTimerKey)
		n.awaitingApp = false
		return
	}
	switch n.state {
	case Navigating:
		n.enterAppLocked()
	case Paused:
		if n.pausedByUs && n.belt.Mode() == protocol.ModeApp {
			n.changeModeLocked(protocol.ModePause)
		}
	}
}

// modeChangedLocked resynchronizes after a mode change the belt made on its
// own. The belt is steered back to the state this navigator last intended.
func (n *Navigator) modeChangedLocked(m protocol.Mode) []Event {
	if m == protocol.ModeUnknown || m == protocol.ModeStandby {
		return nil
	}
	if m != protocol.ModePause {
		n.pausedByUs = n.pausedByUs && m == protocol.ModeApp
	}
	switch n.state {
	case Navigating:
		if m == protocol.ModeApp {
			n.awaitingApp = false
			n.requestSendLocked()
			return nil
		}
		if n.awaitingApp {
			return nil
		}
		slog.Warn("[NAV] belt left App mode while navigating", "mode", m)
		n.awaitingApp = true
		n.changeModeLocked(protocol.ModeApp)
		return []Event{ModeDrift{State: n.state, Mode: m}}
	case Paused:
		if m != protocol.ModeApp {
			return nil
		}
		slog.Warn("[NAV] belt entered App mode while paused", "mode", m)
		n.pausedByUs = true
		n.changeModeLocked(protocol.ModePause)
		return []Event{ModeDrift{State: n.state, Mode: m}}
	}
	return nil
}

// buttonPressedLocked lets a physical button press override the navigation
// state.
func (n *Navigator) buttonPressedLocked(p protocol.ButtonPress) []Event {
	next := p.SubsequentMode
	if next == protocol.ModeStandby || n.state == Stopped {
		return nil
	}
	switch p.Button {
	case protocol.ButtonPause:
		if next == protocol.ModePause && n.state == Navigating {
			n.pausedByUs = false
			n.awaitingApp = false
			n.timers.Cancel(debounceTimerKey)
			return n.setStateLocked(Paused)
		}
		if next == protocol.ModeApp && n.state == Paused {
			return n.resumeLocked()
		}
	case protocol.ButtonHome:
		if next == protocol.ModeApp {
			if n.state == Paused {
				return n.resumeLocked()
			}
			return nil
		}
		n.pausedByUs = false
		n.awaitingApp = false
		n.timers.Cancel(debounceTimerKey)
		return n.setStateLocked(Stopped)
	default:
		if next == protocol.ModeApp || n.state != Navigating {
			return nil
		}
		n.awaitingApp = false
		n.timers.Cancel(debounceTimerKey)
		return n.setStateLocked(Paused)
	}
	return nil
}

func (n *Navigator) resumeLocked() []Event {
	events := n.setStateLocked(Navigating)
	n.pausedByUs = false
	n.awaitingApp = false
	n.requestSendLocked()
	return events
}
