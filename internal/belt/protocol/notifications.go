package protocol

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// BatteryStatusMinLen is the shortest valid battery notification.
	BatteryStatusMinLen = 9
	// batteryExtraLen is the length that carries the extra diagnostics.
	batteryExtraLen = 13
	// OrientationLen is the length of a full orientation notification.
	OrientationLen = 16
	// orientationMinLen covers the sensor id and belt heading.
	orientationMinLen = 3
	// ButtonPressMinLen is the shortest valid button-press notification.
	ButtonPressMinLen = 5

	// remainingTimeUnit is the resolution of the time-to-empty/full field.
	remainingTimeUnit = 5625 * time.Millisecond
)

// BatteryDiagnostics are the optional readings of long battery packets.
type BatteryDiagnostics struct {
	CapacityMAh  int
	TemperatureC float64
}

// BatteryStatus is a snapshot of a battery notification.
type BatteryStatus struct {
	PowerStatus PowerStatus
	Level       float64 // percent
	// Remaining is the time to empty when discharging, or to full when charging.
	Remaining   time.Duration
	CurrentMA   int
	VoltageMV   int
	Diagnostics *BatteryDiagnostics
}

// DecodeBatteryStatus decodes a battery notification. Any payload of at
// least BatteryStatusMinLen bytes decodes; unknown power status codes map to
// PowerUnknown.
func DecodeBatteryStatus(b []byte) (BatteryStatus, error) {
	if len(b) < BatteryStatusMinLen {
		return BatteryStatus{}, malformed("battery status length %d", len(b))
	}
	ps := PowerStatus(b[0])
	if ps > PowerExternal {
		ps = PowerUnknown
	}
	s := BatteryStatus{
		PowerStatus: ps,
		Level:       float64(binary.LittleEndian.Uint16(b[1:])) / 256,
		Remaining:   time.Duration(binary.LittleEndian.Uint16(b[3:])) * remainingTimeUnit,
		CurrentMA:   int(int16(binary.LittleEndian.Uint16(b[5:]))),
		VoltageMV:   int(binary.LittleEndian.Uint16(b[7:])),
	}
	if len(b) >= batteryExtraLen {
		s.Diagnostics = &BatteryDiagnostics{
			CapacityMAh:  int(binary.LittleEndian.Uint16(b[9:])),
			TemperatureC: float64(int16(binary.LittleEndian.Uint16(b[11:]))) / 10,
		}
	}
	return s, nil
}

// EncodeBatteryStatus renders s in the notification layout. It is the inverse
// of DecodeBatteryStatus for every value that function produces.
func EncodeBatteryStatus(s BatteryStatus) []byte {
	n := BatteryStatusMinLen
	if s.Diagnostics != nil {
		n = batteryExtraLen
	}
	b := make([]byte, n)
	b[0] = byte(s.PowerStatus)
	binary.LittleEndian.PutUint16(b[1:], uint16(int(s.Level*256)))
	binary.LittleEndian.PutUint16(b[3:], uint16(int(s.Remaining/remainingTimeUnit)))
	binary.LittleEndian.PutUint16(b[5:], uint16(s.CurrentMA))
	binary.LittleEndian.PutUint16(b[7:], uint16(s.VoltageMV))
	if s.Diagnostics != nil {
		binary.LittleEndian.PutUint16(b[9:], uint16(s.Diagnostics.CapacityMAh))
		binary.LittleEndian.PutUint16(b[11:], uint16(int(math.Round(s.Diagnostics.TemperatureC*10))))
	}
	return b
}

// Orientation is a snapshot of an orientation notification. Nil fields were
// not reported; a non-nil zero is a real reading.
type Orientation struct {
	SensorID          int
	BeltHeading       int
	ControlBoxHeading *int
	ControlBoxRoll    *int
	ControlBoxPitch   *int
	Accuracy          *int
	// Sensor status values are 0..3; out-of-range bytes decode as unknown.
	MagnetometerStatus  *int
	AccelerometerStatus *int
	GyroscopeStatus     *int
	FusionStatus        *int
	Inaccurate          *bool
}

// DecodeOrientation decodes an orientation notification. Older firmware sends
// truncated packets; missing trailing fields decode as unknown.
func DecodeOrientation(b []byte) (Orientation, error) {
	if len(b) < orientationMinLen || len(b) > OrientationLen {
		return Orientation{}, malformed("orientation length %d", len(b))
	}
	o := Orientation{
		SensorID:    int(b[0]),
		BeltHeading: int(int16(binary.LittleEndian.Uint16(b[1:]))),
	}
	if o.BeltHeading < -360 || o.BeltHeading > 360 {
		return Orientation{}, malformed("belt heading %d", o.BeltHeading)
	}
	o.ControlBoxHeading = optInt16(b, 3)
	o.ControlBoxRoll = optInt16(b, 5)
	o.ControlBoxPitch = optInt16(b, 7)
	o.Accuracy = optInt16(b, 9)
	o.MagnetometerStatus = optStatus(b, 11)
	o.AccelerometerStatus = optStatus(b, 12)
	o.GyroscopeStatus = optStatus(b, 13)
	o.FusionStatus = optStatus(b, 14)
	if len(b) > 15 {
		v := b[15] != 0
		o.Inaccurate = &v
	}
	return o, nil
}

func optInt16(b []byte, i int) *int {
	if len(b) < i+2 {
		return nil
	}
	v := int(int16(binary.LittleEndian.Uint16(b[i:])))
	return &v
}

func optStatus(b []byte, i int) *int {
	if len(b) <= i || b[i] > 3 {
		return nil
	}
	v := int(b[i])
	return &v
}

// ButtonPress is a decoded button-press notification.
type ButtonPress struct {
	Button         Button
	PreviousMode   Mode
	SubsequentMode Mode
}

// DecodeButtonPress decodes a button-press notification.
func DecodeButtonPress(b []byte) (ButtonPress, error) {
	if len(b) < ButtonPressMinLen {
		return ButtonPress{}, malformed("button press length %d", len(b))
	}
	button, ok := ParseButton(b[0])
	if !ok {
		return ButtonPress{}, malformed("button 0x%02x", b[0])
	}
	prev, ok := ParseMode(b[3])
	if !ok {
		return ButtonPress{}, malformed("previous mode 0x%02x", b[3])
	}
	next, ok := ParseMode(b[4])
	if !ok {
		return ButtonPress{}, malformed("subsequent mode 0x%02x", b[4])
	}
	return ButtonPress{Button: button, PreviousMode: prev, SubsequentMode: next}, nil
}

// Parameter is a decoded parameter notification.
type Parameter struct {
	ID    ParameterID
	Value int
	// Feedback is set on default-intensity notifications that carry the
	// vibration-feedback flag.
	Feedback bool
}

// DecodeParameter decodes a parameter notification: 0x01, parameter id, value.
func DecodeParameter(b []byte) (Parameter, error) {
	if len(b) < 3 || b[0] != paramRequest {
		return Parameter{}, malformed("parameter notification % x", b)
	}
	p := Parameter{ID: ParameterID(b[1])}
	switch p.ID {
	case ParamMode:
		m, ok := ParseMode(b[2])
		if !ok {
			return Parameter{}, malformed("mode 0x%02x", b[2])
		}
		p.Value = int(m)
	case ParamDefaultIntensity:
		if int(b[2]) > MaxIntensity {
			return Parameter{}, malformed("default intensity %d", b[2])
		}
		p.Value = int(b[2])
		p.Feedback = len(b) >= 5 && b[4] != 0
	case ParamHeadingOffset:
		if len(b) < 4 {
			return Parameter{}, malformed("heading offset length %d", len(b))
		}
		p.Value = int(binary.LittleEndian.Uint16(b[2:]))
		if p.Value >= 360 {
			return Parameter{}, malformed("heading offset %d", p.Value)
		}
	case ParamCompassAccuracySignal:
		if b[2] > 1 {
			return Parameter{}, malformed("compass accuracy signal 0x%02x", b[2])
		}
		p.Value = int(b[2])
	default:
		return Parameter{}, malformed("unknown parameter 0x%02x", b[1])
	}
	return p, nil
}

// DecodeKeepAlive extracts the current mode from a keep-alive notification.
func DecodeKeepAlive(b []byte) (Mode, error) {
	if len(b) < 2 {
		return ModeUnknown, malformed("keep-alive length %d", len(b))
	}
	m, ok := ParseMode(b[1])
	if !ok {
		return ModeUnknown, malformed("keep-alive mode 0x%02x", b[1])
	}
	return m, nil
}

// DecodeFirmwareVersion decodes the firmware-info characteristic value.
func DecodeFirmwareVersion(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, malformed("firmware info length %d", len(b))
	}
	return int(binary.LittleEndian.Uint16(b)), nil
}
