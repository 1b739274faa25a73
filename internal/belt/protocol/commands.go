package protocol

import (
	"encoding/binary"
	"time"
)

const (
	pulseOpcode     = 0x40
	stopOpcode      = 0x30
	paramRequest    = 0x01
	paramWriteFlag  = 0x80
	paramReset      = 0x0F
	toneOpcode      = 0x01
	soundOpcode     = 0x02
	keepAliveAckVal = 0x01

	// ChannelConfigurationLen is the size of a channel configuration packet.
	ChannelConfigurationLen = 18
	// PulseLen is the size of a pulse command packet.
	PulseLen = 17
	// MaxToneSteps is the longest tone pattern the buzzer accepts.
	MaxToneSteps = 9
	// MaxToneFrequencyKHz is the highest frequency representable in a tone step.
	MaxToneFrequencyKHz = 255.0 / 32
	// MaxToneStepDuration is the longest duration of a tone step.
	MaxToneStepDuration = 2550 * time.Millisecond
)

// ChannelParams are the fields of a channel configuration command.
type ChannelParams struct {
	Channel         int
	Pattern         Pattern
	Intensity       int // percent, or DefaultIntensity
	OrientationType OrientationType
	Orientation     int
	Iterations      int // IterationsUnlimited or 1..255
	Period          time.Duration
	InitialDelay    time.Duration
	Exclusive       bool
	ClearOthers     bool
}

// ChannelConfiguration is a validated channel configuration command.
type ChannelConfiguration struct {
	p ChannelParams
}

// NewChannelConfiguration validates p. Angles and bearings are normalized to
// [0, 360).
func NewChannelConfiguration(p ChannelParams) (ChannelConfiguration, error) {
	if p.Channel < 0 || p.Channel >= MaxChannels {
		return ChannelConfiguration{}, invalid("channel %d out of range [0,%d)", p.Channel, MaxChannels)
	}
	if _, ok := ParsePattern(byte(p.Pattern)); !ok {
		return ChannelConfiguration{}, invalid("pattern 0x%02x", uint8(p.Pattern))
	}
	if !validIntensity(p.Intensity) {
		return ChannelConfiguration{}, invalid("intensity %d", p.Intensity)
	}
	o, err := orientationValue(p.OrientationType, p.Orientation)
	if err != nil {
		return ChannelConfiguration{}, err
	}
	p.Orientation = o
	if p.Iterations < 0 || p.Iterations > 0xFF {
		return ChannelConfiguration{}, invalid("iterations %d", p.Iterations)
	}
	if err := validMillis("period", p.Period); err != nil {
		return ChannelConfiguration{}, err
	}
	if err := validMillis("initial delay", p.InitialDelay); err != nil {
		return ChannelConfiguration{}, err
	}
	return ChannelConfiguration{p: p}, nil
}

func validMillis(name string, d time.Duration) error {
	if d < 0 || d.Milliseconds() > 0xFFFF {
		return invalid("%s %v out of range", name, d)
	}
	return nil
}

// Params returns the validated fields.
func (c ChannelConfiguration) Params() ChannelParams { return c.p }

// Bytes renders the 18-byte packet.
func (c ChannelConfiguration) Bytes() []byte {
	b := make([]byte, ChannelConfigurationLen)
	b[0] = byte(c.p.Channel)
	b[1] = byte(c.p.Pattern)
	binary.LittleEndian.PutUint16(b[2:], uint16(c.p.Intensity))
	// b[4:6] reserved
	b[6] = byte(c.p.OrientationType)
	binary.LittleEndian.PutUint16(b[7:], uint16(c.p.Orientation))
	// b[9:11] reserved
	b[11] = byte(c.p.Iterations)
	binary.LittleEndian.PutUint16(b[12:], uint16(c.p.Period.Milliseconds()))
	binary.LittleEndian.PutUint16(b[14:], uint16(c.p.InitialDelay.Milliseconds()))
	b[16] = boolByte(c.p.Exclusive)
	b[17] = boolByte(c.p.ClearOthers)
	return b
}

// ParseChannelConfiguration decodes a packet produced by Bytes.
func ParseChannelConfiguration(b []byte) (ChannelParams, error) {
	if len(b) != ChannelConfigurationLen {
		return ChannelParams{}, malformed("channel configuration length %d", len(b))
	}
	pattern, ok := ParsePattern(b[1])
	if !ok {
		return ChannelParams{}, malformed("pattern 0x%02x", b[1])
	}
	ot, ok := ParseOrientationType(b[6])
	if !ok {
		return ChannelParams{}, malformed("orientation type 0x%02x", b[6])
	}
	return ChannelParams{
		Channel:         int(b[0]),
		Pattern:         pattern,
		Intensity:       int(binary.LittleEndian.Uint16(b[2:])),
		OrientationType: ot,
		Orientation:     int(binary.LittleEndian.Uint16(b[7:])),
		Iterations:      int(b[11]),
		Period:          time.Duration(binary.LittleEndian.Uint16(b[12:])) * time.Millisecond,
		InitialDelay:    time.Duration(binary.LittleEndian.Uint16(b[14:])) * time.Millisecond,
		Exclusive:       b[16] != 0,
		ClearOthers:     b[17] != 0,
	}, nil
}

// PulseParams are the fields of a pulse command.
type PulseParams struct {
	Channel           int
	OrientationType   OrientationType
	Orientation       int
	Intensity         int // percent, or DefaultIntensity
	OnDuration        time.Duration
	PulsePeriod       time.Duration
	PulseIterations   int // 1..255
	PatternPeriod     time.Duration
	PatternIterations int // IterationsUnlimited or 1..255
	Reset             ResetProgressOption
	Exclusive         bool
	ClearOthers       bool
}

// Pulse is a validated pulse command.
type Pulse struct {
	p PulseParams
}

// NewPulse validates p.
func NewPulse(p PulseParams) (Pulse, error) {
	if p.Channel < 0 || p.Channel >= MaxChannels {
		return Pulse{}, invalid("channel %d out of range [0,%d)", p.Channel, MaxChannels)
	}
	if !validIntensity(p.Intensity) {
		return Pulse{}, invalid("intensity %d", p.Intensity)
	}
	o, err := orientationValue(p.OrientationType, p.Orientation)
	if err != nil {
		return Pulse{}, err
	}
	p.Orientation = o
	for _, d := range []struct {
		name string
		v    time.Duration
	}{{"on duration", p.OnDuration}, {"pulse period", p.PulsePeriod}, {"pattern period", p.PatternPeriod}} {
		if err := validMillis(d.name, d.v); err != nil {
			return Pulse{}, err
		}
	}
	if p.OnDuration <= 0 {
		return Pulse{}, invalid("on duration must be > 0")
	}
	if p.PulsePeriod < p.OnDuration {
		return Pulse{}, invalid("pulse period %v shorter than on duration %v", p.PulsePeriod, p.OnDuration)
	}
	if p.PulseIterations < 1 || p.PulseIterations > 0xFF {
		return Pulse{}, invalid("pulse iterations %d", p.PulseIterations)
	}
	if p.PatternIterations < 0 || p.PatternIterations > 0xFF {
		return Pulse{}, invalid("pattern iterations %d", p.PatternIterations)
	}
	if p.PatternPeriod < p.PulsePeriod*time.Duration(p.PulseIterations) {
		return Pulse{}, invalid("pattern period %v shorter than %d pulses of %v", p.PatternPeriod, p.PulseIterations, p.PulsePeriod)
	}
	if _, ok := ParseResetProgressOption(byte(p.Reset)); !ok {
		return Pulse{}, invalid("reset option 0x%02x", uint8(p.Reset))
	}
	return Pulse{p: p}, nil
}

// Params returns the validated fields.
func (c Pulse) Params() PulseParams { return c.p }

// Bytes renders the 17-byte packet.
func (c Pulse) Bytes() []byte {
	b := make([]byte, PulseLen)
	b[0] = pulseOpcode
	b[1] = byte(c.p.Channel)
	b[2] = byte(c.p.OrientationType)
	binary.LittleEndian.PutUint16(b[3:], uint16(c.p.Orientation))
	if c.p.Intensity == DefaultIntensity {
		b[5] = pulseDefaultIntensity
	} else {
		b[5] = byte(c.p.Intensity)
	}
	binary.LittleEndian.PutUint16(b[6:], uint16(c.p.OnDuration.Milliseconds()))
	b[8] = byte(c.p.PulseIterations)
	b[9] = byte(c.p.PatternIterations)
	binary.LittleEndian.PutUint16(b[10:], uint16(c.p.PulsePeriod.Milliseconds()))
	binary.LittleEndian.PutUint16(b[12:], uint16(c.p.PatternPeriod.Milliseconds()))
	b[14] = byte(c.p.Reset)
	b[15] = boolByte(c.p.Exclusive)
	b[16] = boolByte(c.p.ClearOthers)
	return b
}

// ParsePulse decodes a packet produced by Pulse.Bytes.
func ParsePulse(b []byte) (PulseParams, error) {
	if len(b) != PulseLen || b[0] != pulseOpcode {
		return PulseParams{}, malformed("pulse packet % x", b)
	}
	ot, ok := ParseOrientationType(b[2])
	if !ok {
		return PulseParams{}, malformed("orientation type 0x%02x", b[2])
	}
	reset, ok := ParseResetProgressOption(b[14])
	if !ok {
		return PulseParams{}, malformed("reset option 0x%02x", b[14])
	}
	intensity := int(b[5])
	if b[5] == pulseDefaultIntensity {
		intensity = DefaultIntensity
	}
	return PulseParams{
		Channel:           int(b[1]),
		OrientationType:   ot,
		Orientation:       int(binary.LittleEndian.Uint16(b[3:])),
		Intensity:         intensity,
		OnDuration:        time.Duration(binary.LittleEndian.Uint16(b[6:])) * time.Millisecond,
		PulseIterations:   int(b[8]),
		PatternIterations: int(b[9]),
		PulsePeriod:       time.Duration(binary.LittleEndian.Uint16(b[10:])) * time.Millisecond,
		PatternPeriod:     time.Duration(binary.LittleEndian.Uint16(b[12:])) * time.Millisecond,
		Reset:             reset,
		Exclusive:         b[15] != 0,
		ClearOthers:       b[16] != 0,
	}, nil
}

// ToneStep is one step of a buzzer tone pattern. A zero frequency is silence.
type ToneStep struct {
	FrequencyKHz float64
	Duration     time.Duration
}

// TonePattern is a validated buzzer tone pattern.
type TonePattern struct {
	steps []ToneStep
}

// NewTonePattern validates steps. Frequencies are quantized to 1/32 kHz and
// durations to 10 ms when encoded.
func NewTonePattern(steps []ToneStep) (TonePattern, error) {
	if len(steps) == 0 || len(steps) > MaxToneSteps {
		return TonePattern{}, invalid("tone pattern needs 1..%d steps, got %d", MaxToneSteps, len(steps))
	}
	for i, s := range steps {
		if s.FrequencyKHz < 0 || s.FrequencyKHz > MaxToneFrequencyKHz {
			return TonePattern{}, invalid("step %d frequency %.3f kHz", i, s.FrequencyKHz)
		}
		if s.Duration < 0 || s.Duration > MaxToneStepDuration {
			return TonePattern{}, invalid("step %d duration %v", i, s.Duration)
		}
	}
	cp := make([]ToneStep, len(steps))
	copy(cp, steps)
	return TonePattern{steps: cp}, nil
}

// Bytes renders the 2+2n byte packet.
func (t TonePattern) Bytes() []byte {
	n := len(t.steps)
	b := make([]byte, 2+2*n)
	b[0] = toneOpcode
	b[1] = byte(n)
	for i, s := range t.steps {
		b[2+i] = byte(s.FrequencyKHz*32 + 0.5)
		b[2+n+i] = byte((s.Duration + 5*time.Millisecond) / (10 * time.Millisecond))
	}
	return b
}

// ModeChangeRequest asks the belt to switch to mode m.
func ModeChangeRequest(m Mode) ([]byte, error) {
	if _, ok := ParseMode(byte(m)); !ok {
		return nil, invalid("mode %v", m)
	}
	return []byte{paramRequest, paramWriteFlag | byte(ParamMode), byte(m), 0x00}, nil
}

// DefaultIntensityRequest changes the default vibration intensity. When
// feedback is true the belt vibrates once at the new intensity.
func DefaultIntensityRequest(intensity int, feedback bool) ([]byte, error) {
	if intensity < 0 || intensity > MaxIntensity {
		return nil, invalid("default intensity %d", intensity)
	}
	return []byte{paramRequest, paramWriteFlag | byte(ParamDefaultIntensity), byte(intensity), 0x00, boolByte(feedback)}, nil
}

// HeadingOffsetRequest changes the heading offset in degrees.
func HeadingOffsetRequest(offset int) []byte {
	b := []byte{paramRequest, paramWriteFlag | byte(ParamHeadingOffset), 0, 0}
	binary.LittleEndian.PutUint16(b[2:], uint16(normalizeDegrees(offset)))
	return b
}

// CompassAccuracySignalRequest enables or disables the inaccurate-compass
// vibration signal.
func CompassAccuracySignalRequest(enable bool) []byte {
	return []byte{paramRequest, paramWriteFlag | byte(ParamCompassAccuracySignal), boolByte(enable), 0x00}
}

// ParameterReadRequest asks the belt to notify the value of id.
func ParameterReadRequest(id ParameterID) []byte {
	return []byte{paramRequest, byte(id)}
}

// ParameterWriteRequest renders a write of an integer parameter value.
func ParameterWriteRequest(id ParameterID, value int) ([]byte, error) {
	switch id {
	case ParamMode:
		return ModeChangeRequest(Mode(value))
	case ParamDefaultIntensity:
		return DefaultIntensityRequest(value, false)
	case ParamHeadingOffset:
		return HeadingOffsetRequest(value), nil
	case ParamCompassAccuracySignal:
		return CompassAccuracySignalRequest(value != 0), nil
	default:
		return nil, invalid("parameter %v", id)
	}
}

// ResetRequest asks the belt to reset.
func ResetRequest(opt ResetOption) ([]byte, error) {
	if opt > ResetPairings {
		return nil, invalid("reset option 0x%02x", uint8(opt))
	}
	return []byte{paramRequest, paramWriteFlag | paramReset, byte(opt), 0x00}, nil
}

// StopVibration stops the given channels, or all channels when none are given.
func StopVibration(channels ...int) ([]byte, error) {
	if len(channels) == 0 {
		return []byte{stopOpcode, 0xFF}, nil
	}
	var mask byte
	for _, ch := range channels {
		if ch < 0 || ch >= MaxChannels {
			return nil, invalid("channel %d out of range [0,%d)", ch, MaxChannels)
		}
		mask |= 1 << ch
	}
	return []byte{stopOpcode, mask}, nil
}

// SoundRequest plays a predefined sound.
func SoundRequest(s Sound) ([]byte, error) {
	if s > SoundBatteryWarning {
		return nil, invalid("sound 0x%02x", uint8(s))
	}
	return []byte{soundOpcode, byte(s)}, nil
}

// KeepAliveAck is written back on the keep-alive characteristic after each
// keep-alive notification.
func KeepAliveAck() []byte {
	return []byte{keepAliveAckVal}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
