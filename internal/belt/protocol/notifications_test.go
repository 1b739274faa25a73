package protocol

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func TestDecodeBatteryStatus(t *testing.T) {
	raw := []byte{
		0x02,       // charging
		0x80, 0x4B, // 75.5 %
		0x10, 0x00, // 16 * 5.625 s = 90 s
		0x9C, 0xFF, // -100 mA
		0x68, 0x10, // 4200 mV
	}
	s, err := DecodeBatteryStatus(raw)
	if err != nil {
		t.Fatalf("DecodeBatteryStatus() error = %v", err)
	}
	if s.PowerStatus != PowerCharging {
		t.Errorf("PowerStatus = %v, want Charging", s.PowerStatus)
	}
	if s.Level != 75.5 {
		t.Errorf("Level = %v, want 75.5", s.Level)
	}
	if s.Remaining != 90*time.Second {
		t.Errorf("Remaining = %v, want 90s", s.Remaining)
	}
	if s.CurrentMA != -100 {
		t.Errorf("CurrentMA = %d, want -100", s.CurrentMA)
	}
	if s.VoltageMV != 4200 {
		t.Errorf("VoltageMV = %d, want 4200", s.VoltageMV)
	}
	if s.Diagnostics != nil {
		t.Errorf("Diagnostics = %+v, want nil for 9-byte packet", s.Diagnostics)
	}

	long := append(append([]byte{}, raw...), 0xD0, 0x07, 0xFB, 0x00)
	s, err = DecodeBatteryStatus(long)
	if err != nil {
		t.Fatalf("DecodeBatteryStatus(long) error = %v", err)
	}
	if s.Diagnostics == nil || s.Diagnostics.CapacityMAh != 2000 || s.Diagnostics.TemperatureC != 25.1 {
		t.Errorf("Diagnostics = %+v, want {2000 25.1}", s.Diagnostics)
	}
}

func TestDecodeBatteryStatusTooShort(t *testing.T) {
	for n := 0; n < BatteryStatusMinLen; n++ {
		if _, err := DecodeBatteryStatus(make([]byte, n)); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("len %d: error = %v, want ErrMalformedPacket", n, err)
		}
	}
}

// Arbitrary payloads of valid length must decode, and decoding the re-encoded
// fields must give the same snapshot.
func TestBatteryStatusArbitraryBytesStable(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		b := make([]byte, BatteryStatusMinLen+rng.Intn(8))
		rng.Read(b)
		first, err := DecodeBatteryStatus(b)
		if err != nil {
			t.Fatalf("DecodeBatteryStatus(% x) error = %v", b, err)
		}
		second, err := DecodeBatteryStatus(EncodeBatteryStatus(first))
		if err != nil {
			t.Fatalf("decode of re-encoded % x error = %v", b, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("unstable decode for % x:\n  first  %+v\n  second %+v", b, first, second)
		}
	}
}

func TestDecodeOrientationFull(t *testing.T) {
	raw := []byte{
		0x01,       // sensor id
		0x5A, 0x00, // belt heading 90
		0x5B, 0x00, // box heading 91
		0xFE, 0xFF, // roll -2
		0x03, 0x00, // pitch 3
		0x00, 0x00, // accuracy 0
		0x03, 0x02, 0x01, 0x07, // statuses, last unknown
		0x01, // inaccurate
	}
	o, err := DecodeOrientation(raw)
	if err != nil {
		t.Fatalf("DecodeOrientation() error = %v", err)
	}
	if o.SensorID != 1 || o.BeltHeading != 90 {
		t.Errorf("SensorID/BeltHeading = %d/%d, want 1/90", o.SensorID, o.BeltHeading)
	}
	checkInt(t, "ControlBoxHeading", o.ControlBoxHeading, 91)
	checkInt(t, "ControlBoxRoll", o.ControlBoxRoll, -2)
	checkInt(t, "ControlBoxPitch", o.ControlBoxPitch, 3)
	// Zero accuracy is a reading, not an unknown.
	checkInt(t, "Accuracy", o.Accuracy, 0)
	checkInt(t, "MagnetometerStatus", o.MagnetometerStatus, 3)
	checkInt(t, "AccelerometerStatus", o.AccelerometerStatus, 2)
	checkInt(t, "GyroscopeStatus", o.GyroscopeStatus, 1)
	if o.FusionStatus != nil {
		t.Errorf("FusionStatus = %d, want unknown", *o.FusionStatus)
	}
	if o.Inaccurate == nil || !*o.Inaccurate {
		t.Errorf("Inaccurate = %v, want true", o.Inaccurate)
	}
}

func TestDecodeOrientationTruncated(t *testing.T) {
	o, err := DecodeOrientation([]byte{0x00, 0x10, 0x00, 0x20, 0x00})
	if err != nil {
		t.Fatalf("DecodeOrientation() error = %v", err)
	}
	checkInt(t, "ControlBoxHeading", o.ControlBoxHeading, 32)
	if o.Accuracy != nil || o.ControlBoxRoll != nil || o.Inaccurate != nil {
		t.Errorf("missing fields should be unknown: %+v", o)
	}

	for _, bad := range [][]byte{nil, {0x00, 0x01}, make([]byte, 17), {0x00, 0x00, 0x10}} {
		if _, err := DecodeOrientation(bad); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("DecodeOrientation(% x) error = %v, want ErrMalformedPacket", bad, err)
		}
	}
}

func checkInt(t *testing.T, name string, got *int, want int) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = unknown, want %d", name, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %d, want %d", name, *got, want)
	}
}

func TestDecodeButtonPress(t *testing.T) {
	p, err := DecodeButtonPress([]byte{0x02, 0x00, 0x00, 0x03, 0x04})
	if err != nil {
		t.Fatalf("DecodeButtonPress() error = %v", err)
	}
	want := ButtonPress{Button: ButtonPause, PreviousMode: ModeApp, SubsequentMode: ModePause}
	if p != want {
		t.Errorf("DecodeButtonPress() = %+v, want %+v", p, want)
	}

	for _, bad := range [][]byte{
		{0x02, 0x00, 0x00, 0x03},
		{0x09, 0x00, 0x00, 0x03, 0x04},
		{0x02, 0x00, 0x00, 0x30, 0x04},
		{0x02, 0x00, 0x00, 0x03, 0xFF},
	} {
		if _, err := DecodeButtonPress(bad); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("DecodeButtonPress(% x) error = %v, want ErrMalformedPacket", bad, err)
		}
	}
}

func TestDecodeParameter(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    Parameter
		wantErr bool
	}{
		{"mode", []byte{0x01, 0x01, 0x03}, Parameter{ID: ParamMode, Value: int(ModeApp)}, false},
		{"intensity", []byte{0x01, 0x02, 0x32, 0x00, 0x01}, Parameter{ID: ParamDefaultIntensity, Value: 50, Feedback: true}, false},
		{"heading offset", []byte{0x01, 0x03, 0x2C, 0x01}, Parameter{ID: ParamHeadingOffset, Value: 300}, false},
		{"accuracy signal", []byte{0x01, 0x04, 0x01}, Parameter{ID: ParamCompassAccuracySignal, Value: 1}, false},
		{"bad mode", []byte{0x01, 0x01, 0x42}, Parameter{}, true},
		{"intensity too high", []byte{0x01, 0x02, 0xC8}, Parameter{}, true},
		{"heading out of range", []byte{0x01, 0x03, 0x70, 0x01}, Parameter{}, true},
		{"unknown id", []byte{0x01, 0x55, 0x00}, Parameter{}, true},
		{"wrong prefix", []byte{0x02, 0x01, 0x03}, Parameter{}, true},
		{"short", []byte{0x01, 0x01}, Parameter{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParameter(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPacket) {
					t.Errorf("error = %v, want ErrMalformedPacket", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeKeepAliveAndFirmware(t *testing.T) {
	m, err := DecodeKeepAlive([]byte{0x01, 0x02})
	if err != nil || m != ModeCompass {
		t.Errorf("DecodeKeepAlive = %v, %v; want Compass", m, err)
	}
	if _, err := DecodeKeepAlive([]byte{0x01}); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("DecodeKeepAlive(short) error = %v", err)
	}

	v, err := DecodeFirmwareVersion([]byte{0x34, 0x00, 0x99})
	if err != nil || v != 52 {
		t.Errorf("DecodeFirmwareVersion = %d, %v; want 52", v, err)
	}
	if _, err := DecodeFirmwareVersion([]byte{0x34}); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("DecodeFirmwareVersion(short) error = %v", err)
	}
}
