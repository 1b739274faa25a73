// Package protocol implements the byte-level packet codec of the belt:
// command packets written to the control service and the notification
// payloads the belt sends back.
//
// Command value objects validate their ranges when constructed; encoding a
// constructed value never fails.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPacket is returned when a notification payload has the wrong
	// length or an out-of-range field.
	ErrMalformedPacket = errors.New("protocol: malformed packet")
	// ErrInvalidArgument is returned when a command value is out of range.
	ErrInvalidArgument = errors.New("protocol: invalid argument")
)

const (
	// MaxChannels is the number of independent vibration channels.
	MaxChannels = 6
	// MaxMotors is the number of vibromotors addressable by index or mask.
	MaxMotors = 16
	// MaxIntensity is the highest explicit intensity in percent.
	MaxIntensity = 100
	// DefaultIntensity asks the belt to use its default vibration intensity.
	DefaultIntensity = 0xAAAA
	// pulseDefaultIntensity is DefaultIntensity in the one-byte pulse field.
	pulseDefaultIntensity = 0xAA
	// IterationsUnlimited repeats a pattern until stopped.
	IterationsUnlimited = 0
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// validIntensity accepts 0..MaxIntensity and DefaultIntensity.
func validIntensity(i int) bool {
	return (i >= 0 && i <= MaxIntensity) || i == DefaultIntensity
}

// normalizeDegrees maps any angle to [0, 360).
func normalizeDegrees(a int) int {
	a %= 360
	if a < 0 {
		a += 360
	}
	return a
}

// orientationValue validates and normalizes v for orientation type t.
func orientationValue(t OrientationType, v int) (int, error) {
	switch t {
	case OrientationAngle, OrientationMagneticBearing:
		return normalizeDegrees(v), nil
	case OrientationMotorIndex:
		if v < 0 || v >= MaxMotors {
			return 0, invalid("motor index %d out of range [0,%d)", v, MaxMotors)
		}
		return v, nil
	case OrientationBinaryMask:
		if v < 0 || v > 0xFFFF {
			return 0, invalid("motor mask 0x%x out of range", v)
		}
		return v, nil
	default:
		return 0, invalid("orientation type 0x%02x", uint8(t))
	}
}
