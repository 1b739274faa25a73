package protocol

import "fmt"

// Mode is the operating mode of the belt.
type Mode uint8

const (
	ModeStandby     Mode = 0x00
	ModeWait        Mode = 0x01
	ModeCompass     Mode = 0x02
	ModeApp         Mode = 0x03
	ModePause       Mode = 0x04
	ModeCalibration Mode = 0x05
	ModeCrossing    Mode = 0x06
	// ModeUnknown is the cached mode while disconnected. It is never sent.
	ModeUnknown Mode = 0xFF
)

var modeNames = map[Mode]string{
	ModeStandby:     "Standby",
	ModeWait:        "Wait",
	ModeCompass:     "Compass",
	ModeApp:         "App",
	ModePause:       "Pause",
	ModeCalibration: "Calibration",
	ModeCrossing:    "Crossing",
	ModeUnknown:     "Unknown",
}

// ParseMode maps a wire byte to a Mode. ModeUnknown's byte is not a valid
// wire value and is rejected.
func ParseMode(b byte) (Mode, bool) {
	m := Mode(b)
	if m == ModeUnknown {
		return ModeUnknown, false
	}
	_, ok := modeNames[m]
	if !ok {
		return ModeUnknown, false
	}
	return m, true
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(0x%02x)", uint8(m))
}

// Button identifies a physical button on the control box.
type Button uint8

const (
	ButtonPower   Button = 0x01
	ButtonPause   Button = 0x02
	ButtonCompass Button = 0x03
	ButtonHome    Button = 0x04
)

// ParseButton maps a wire byte to a Button.
func ParseButton(b byte) (Button, bool) {
	switch Button(b) {
	case ButtonPower, ButtonPause, ButtonCompass, ButtonHome:
		return Button(b), true
	}
	return 0, false
}

func (b Button) String() string {
	switch b {
	case ButtonPower:
		return "Power"
	case ButtonPause:
		return "Pause"
	case ButtonCompass:
		return "Compass"
	case ButtonHome:
		return "Home"
	default:
		return fmt.Sprintf("Button(0x%02x)", uint8(b))
	}
}

// Pattern is the vibration pattern identifier used in channel configurations.
type Pattern uint8

const (
	PatternNoVibration Pattern = 0x00
	PatternContinuous  Pattern = 0x01
	PatternSingleShort Pattern = 0x02
	PatternSingleLong  Pattern = 0x03
	PatternDoubleShort Pattern = 0x04
	PatternDoubleLong  Pattern = 0x05
	PatternGradual     Pattern = 0x06
)

// ParsePattern maps a wire byte to a Pattern.
func ParsePattern(b byte) (Pattern, bool) {
	if Pattern(b) <= PatternGradual {
		return Pattern(b), true
	}
	return 0, false
}

// OrientationType selects how the orientation value of a command is read.
type OrientationType uint8

const (
	OrientationBinaryMask      OrientationType = 0x00
	OrientationAngle           OrientationType = 0x01
	OrientationMotorIndex      OrientationType = 0x02
	OrientationMagneticBearing OrientationType = 0x03
)

// ParseOrientationType maps a wire byte to an OrientationType.
func ParseOrientationType(b byte) (OrientationType, bool) {
	if OrientationType(b) <= OrientationMagneticBearing {
		return OrientationType(b), true
	}
	return 0, false
}

// ResetProgressOption tells a pulse command what to do with the progress of a
// pulse already running on the same channel.
type ResetProgressOption uint8

const (
	ResetNone    ResetProgressOption = 0x00
	ResetPulse   ResetProgressOption = 0x01
	ResetPattern ResetProgressOption = 0x02
	ResetAll     ResetProgressOption = 0x03
)

// ParseResetProgressOption maps a wire byte to a ResetProgressOption.
func ParseResetProgressOption(b byte) (ResetProgressOption, bool) {
	if ResetProgressOption(b) <= ResetAll {
		return ResetProgressOption(b), true
	}
	return 0, false
}

// PowerStatus is the power source reported in battery notifications.
type PowerStatus uint8

const (
	PowerUnknown   PowerStatus = 0x00
	PowerOnBattery PowerStatus = 0x01
	PowerCharging  PowerStatus = 0x02
	PowerExternal  PowerStatus = 0x03
)

func (p PowerStatus) String() string {
	switch p {
	case PowerOnBattery:
		return "OnBattery"
	case PowerCharging:
		return "Charging"
	case PowerExternal:
		return "External"
	default:
		return "Unknown"
	}
}

// ParameterID identifies a belt parameter on the parameter characteristics.
type ParameterID uint8

const (
	ParamMode                  ParameterID = 0x01
	ParamDefaultIntensity      ParameterID = 0x02
	ParamHeadingOffset         ParameterID = 0x03
	ParamCompassAccuracySignal ParameterID = 0x04
)

func (p ParameterID) String() string {
	switch p {
	case ParamMode:
		return "Mode"
	case ParamDefaultIntensity:
		return "DefaultIntensity"
	case ParamHeadingOffset:
		return "HeadingOffset"
	case ParamCompassAccuracySignal:
		return "CompassAccuracySignal"
	default:
		return fmt.Sprintf("Parameter(0x%02x)", uint8(p))
	}
}

// Sound is a predefined buzzer sound.
type Sound uint8

const (
	SoundBell           Sound = 0x00
	SoundSuccess        Sound = 0x01
	SoundWarning        Sound = 0x02
	SoundError          Sound = 0x03
	SoundBatteryWarning Sound = 0x04
)

// ResetOption selects what a reset request resets.
type ResetOption uint8

const (
	ResetRestart    ResetOption = 0x00
	ResetParameters ResetOption = 0x01
	ResetPairings   ResetOption = 0x02
)
