package belt

import (
	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
)

// Event is published by the Controller. Device-state events are only
// published once the handshake has completed.
type Event interface {
	beltEvent()
}

// ConnectionStateChanged reports a new application-visible connection state.
type ConnectionStateChanged struct {
	State ble.ConnectionState
}

// ConnectionFailed reports a terminal link failure. Err wraps one of the ble
// failure sentinels.
type ConnectionFailed struct {
	Err error
}

// ModeChanged reports a new belt mode. ByButton is set when the change came
// from a button-press notification.
type ModeChanged struct {
	Mode     protocol.Mode
	ByButton bool
}

// ButtonPressed reports a physical button press.
type ButtonPressed struct {
	Press protocol.ButtonPress
}

// DefaultIntensityChanged reports a new default vibration intensity.
type DefaultIntensityChanged struct {
	Intensity int
}

// ParameterChanged reports any parameter notification.
type ParameterChanged struct {
	Parameter protocol.Parameter
}

// BatteryChanged reports a new battery snapshot.
type BatteryChanged struct {
	Status protocol.BatteryStatus
}

// OrientationChanged reports a new orientation snapshot.
type OrientationChanged struct {
	Orientation protocol.Orientation
}

func (ConnectionStateChanged) beltEvent()  {}
func (ConnectionFailed) beltEvent()        {}
func (ModeChanged) beltEvent()             {}
func (ButtonPressed) beltEvent()           {}
func (DefaultIntensityChanged) beltEvent() {}
func (ParameterChanged) beltEvent()        {}
func (BatteryChanged) beltEvent()          {}
func (OrientationChanged) beltEvent()      {}
