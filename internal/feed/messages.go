package feed

import (
	"github.com/chaz8081/navibelt/internal/belt"
	"github.com/chaz8081/navibelt/internal/navigation"
)

// ConnectionPayload is sent with "connection" and "connection_failed".
type ConnectionPayload struct {
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// ModePayload is sent with "mode".
type ModePayload struct {
	Mode     string `json:"mode"`
	ByButton bool   `json:"by_button"`
}

// ButtonPayload is sent with "button".
type ButtonPayload struct {
	Button       string `json:"button"`
	PreviousMode string `json:"previous_mode"`
	NextMode     string `json:"next_mode"`
}

// BatteryPayload is sent with "battery".
type BatteryPayload struct {
	Level      float64 `json:"level"`
	Power      string  `json:"power"`
	CurrentMA  int     `json:"current_ma"`
	VoltageMV  int     `json:"voltage_mv"`
	RemainingS float64 `json:"remaining_s"`
}

// ParameterPayload is sent with "parameter" and "intensity".
type ParameterPayload struct {
	Parameter string `json:"parameter"`
	Value     int    `json:"value"`
}

// OrientationPayload is sent with "orientation".
type OrientationPayload struct {
	Heading  int  `json:"heading"`
	Accuracy *int `json:"accuracy,omitempty"`
}

// NavigationPayload is sent with "navigation" and "mode_drift".
type NavigationPayload struct {
	State string `json:"state"`
	Mode  string `json:"mode,omitempty"`
}

// BeltMessage converts a controller event. ok is false for events that are
// not forwarded.
func BeltMessage(ev belt.Event) (msg Message, ok bool) {
	switch ev := ev.(type) {
	case belt.ConnectionStateChanged:
		return Message{Type: "connection", Payload: ConnectionPayload{State: ev.State.String()}}, true
	case belt.ConnectionFailed:
		return Message{Type: "connection_failed", Payload: ConnectionPayload{Error: ev.Err.Error()}}, true
	case belt.ModeChanged:
		return Message{Type: "mode", Payload: ModePayload{Mode: ev.Mode.String(), ByButton: ev.ByButton}}, true
	case belt.ButtonPressed:
		return Message{Type: "button", Payload: ButtonPayload{
			Button:       ev.Press.Button.String(),
			PreviousMode: ev.Press.PreviousMode.String(),
			NextMode:     ev.Press.SubsequentMode.String(),
		}}, true
	case belt.DefaultIntensityChanged:
		return Message{Type: "intensity", Payload: ParameterPayload{Parameter: "default_intensity", Value: ev.Intensity}}, true
	case belt.ParameterChanged:
		return Message{Type: "parameter", Payload: ParameterPayload{
			Parameter: ev.Parameter.ID.String(),
			Value:     ev.Parameter.Value,
		}}, true
	case belt.BatteryChanged:
		return Message{Type: "battery", Payload: BatteryPayload{
			Level:      ev.Status.Level,
			Power:      ev.Status.PowerStatus.String(),
			CurrentMA:  ev.Status.CurrentMA,
			VoltageMV:  ev.Status.VoltageMV,
			RemainingS: ev.Status.Remaining.Seconds(),
		}}, true
	case belt.OrientationChanged:
		return Message{Type: "orientation", Payload: OrientationPayload{
			Heading:  ev.Orientation.BeltHeading,
			Accuracy: ev.Orientation.Accuracy,
		}}, true
	}
	return Message{}, false
}

// NavigationMessage converts a navigator event.
func NavigationMessage(ev navigation.Event) (msg Message, ok bool) {
	switch ev := ev.(type) {
	case navigation.StateChanged:
		return Message{Type: "navigation", Payload: NavigationPayload{State: ev.State.String()}}, true
	case navigation.ModeDrift:
		return Message{Type: "mode_drift", Payload: NavigationPayload{State: ev.State.String(), Mode: ev.Mode.String()}}, true
	}
	return Message{}, false
}
