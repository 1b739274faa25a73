package belt

import (
	"fmt"
	"time"

	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
)

// Minimum firmware versions of optional features.
const (
	MinFirmwareOrientation = 40
	MinFirmwarePulse       = 45
	MinFirmwareTonePattern = 46
)

const (
	// minAudibleIntensity is the lowest explicit intensity the motors render.
	minAudibleIntensity  = 5
	defaultChannel       = 1
	defaultRepeatChannel = 2
)

// VibrationOption adjusts a vibration or pulse command.
type VibrationOption func(*vibrationOptions)

type vibrationOptions struct {
	intensity  *int
	channel    *int
	stopOthers bool
}

// WithIntensity sets the intensity in percent. Zero stops the channel.
func WithIntensity(percent int) VibrationOption {
	return func(o *vibrationOptions) { o.intensity = &percent }
}

// WithChannel selects the vibration channel.
func WithChannel(channel int) VibrationOption {
	return func(o *vibrationOptions) { o.channel = &channel }
}

// WithStopOtherChannels clears every other channel when the command starts.
func WithStopOtherChannels() VibrationOption {
	return func(o *vibrationOptions) { o.stopOthers = true }
}

// vibrationTarget is the resolved channel and intensity of a command.
type vibrationTarget struct {
	channel    int
	intensity  int
	stopOthers bool
}

// resolve applies the defaulting rules shared by every vibration command.
func resolve(opts []VibrationOption, repeated bool) (vibrationTarget, error) {
	var o vibrationOptions
	for _, opt := range opts {
		opt(&o)
	}
	t := vibrationTarget{
		channel:    defaultChannel,
		intensity:  protocol.DefaultIntensity,
		stopOthers: o.stopOthers,
	}
	if repeated {
		t.channel = defaultRepeatChannel
	}
	if o.channel != nil {
		t.channel = *o.channel
	}
	if t.channel < 0 || t.channel >= protocol.MaxChannels {
		return t, fmt.Errorf("belt: %w: channel %d", protocol.ErrInvalidArgument, t.channel)
	}
	if o.intensity != nil {
		i, err := normalizeIntensity(*o.intensity)
		if err != nil {
			return t, err
		}
		t.intensity = i
	}
	return t, nil
}

// normalizeIntensity raises 1..4 to the lowest perceptible intensity.
func normalizeIntensity(i int) (int, error) {
	switch {
	case i == protocol.DefaultIntensity, i == 0:
		return i, nil
	case i < 0 || i > protocol.MaxIntensity:
		return 0, fmt.Errorf("belt: %w: intensity %d", protocol.ErrInvalidArgument, i)
	case i < minAudibleIntensity:
		return minAudibleIntensity, nil
	}
	return i, nil
}

// checkModeLocked enforces that outside App mode only single signals on
// channel 0 may be played.
func (c *Controller) checkModeLocked(t vibrationTarget, repeated bool) error {
	if c.conn != ble.StateConnected {
		return ErrNotConnected
	}
	if c.cache.mode == protocol.ModeApp {
		return nil
	}
	if t.channel != 0 || repeated || t.stopOthers {
		return fmt.Errorf("%w: %s", ErrWrongMode, c.cache.mode)
	}
	return nil
}

func (c *Controller) checkFirmwareLocked(minVersion int, feature string) error {
	if c.cache.firmware < minVersion {
		return fmt.Errorf("%w: %s needs %d, belt has %d", ErrUnsupportedFirmware, feature, minVersion, c.cache.firmware)
	}
	return nil
}

// sendLocked writes data to char and logs a failed write.
func (c *Controller) sendLocked(char string, data []byte) error {
	if !c.enqueueLocked(ble.NewWrite(char, data), logFailure) {
		return ErrNotConnected
	}
	return nil
}

// send writes data to char once the handshake has completed.
func (c *Controller) send(char string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != ble.StateConnected {
		return ErrNotConnected
	}
	return c.sendLocked(char, data)
}

// VibrateAtAngle plays a directional signal at angle degrees relative to the
// belt front, clockwise.
func (c *Controller) VibrateAtAngle(angle int, signal protocol.Signal, opts ...VibrationOption) error {
	return c.vibrate(signal, true, protocol.OrientationAngle, angle, opts)
}

// VibrateAtBearing plays a directional signal at a magnetic bearing.
func (c *Controller) VibrateAtBearing(bearing int, signal protocol.Signal, opts ...VibrationOption) error {
	return c.vibrate(signal, true, protocol.OrientationMagneticBearing, bearing, opts)
}

// VibrateAtPositions plays a non-directional signal on the motors in mask.
// An empty mask stops the channel.
func (c *Controller) VibrateAtPositions(mask uint16, signal protocol.Signal, opts ...VibrationOption) error {
	return c.vibrate(signal, false, protocol.OrientationBinaryMask, int(mask), opts)
}

// Signal plays a non-directional signal on its predefined motors.
func (c *Controller) Signal(signal protocol.Signal, opts ...VibrationOption) error {
	shape, ok := signal.Shape()
	if !ok {
		return fmt.Errorf("belt: %w: signal %d", protocol.ErrInvalidArgument, int(signal))
	}
	return c.vibrate(signal, false, protocol.OrientationBinaryMask, int(shape.Positions), opts)
}

func (c *Controller) vibrate(signal protocol.Signal, directional bool, ot protocol.OrientationType, orientation int, opts []VibrationOption) error {
	shape, ok := signal.Shape()
	if !ok {
		return fmt.Errorf("belt: %w: signal %d", protocol.ErrInvalidArgument, int(signal))
	}
	if shape.Directional != directional {
		return fmt.Errorf("belt: %w: signal %s is not %s", protocol.ErrInvalidArgument, signal, directionality(directional))
	}
	t, err := resolve(opts, shape.Repeated)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkModeLocked(t, shape.Repeated); err != nil {
		return err
	}
	if t.intensity == 0 || (ot == protocol.OrientationBinaryMask && orientation == 0) {
		return c.stopLocked(t.channel)
	}
	cmd, err := protocol.NewChannelConfiguration(protocol.ChannelParams{
		Channel:         t.channel,
		Pattern:         shape.Pattern,
		Intensity:       t.intensity,
		OrientationType: ot,
		Orientation:     orientation,
		Iterations:      shape.Iterations,
		Period:          shape.Period,
		ClearOthers:     t.stopOthers,
	})
	if err != nil {
		return fmt.Errorf("belt: vibrate %s: %w", signal, err)
	}
	return c.sendLocked(ble.VibrationUUID, cmd.Bytes())
}

func directionality(directional bool) string {
	if directional {
		return "directional"
	}
	return "non-directional"
}

// Pulse describes the timing of a pulse command.
type Pulse struct {
	OnDuration        time.Duration
	Period            time.Duration
	Iterations        int
	PatternPeriod     time.Duration
	PatternIterations int // protocol.IterationsUnlimited repeats until stopped
	Reset             protocol.ResetProgressOption
}

// PulseAtAngle plays a pulse at angle degrees relative to the belt front.
func (c *Controller) PulseAtAngle(angle int, p Pulse, opts ...VibrationOption) error {
	return c.pulse(protocol.OrientationAngle, angle, p, opts)
}

// PulseAtBearing plays a pulse at a magnetic bearing.
func (c *Controller) PulseAtBearing(bearing int, p Pulse, opts ...VibrationOption) error {
	return c.pulse(protocol.OrientationMagneticBearing, bearing, p, opts)
}

// PulseAtPositions plays a pulse on the motors in mask. An empty mask stops
// the channel.
func (c *Controller) PulseAtPositions(mask uint16, p Pulse, opts ...VibrationOption) error {
	return c.pulse(protocol.OrientationBinaryMask, int(mask), p, opts)
}

func (c *Controller) pulse(ot protocol.OrientationType, orientation int, p Pulse, opts []VibrationOption) error {
	repeated := p.PatternIterations == protocol.IterationsUnlimited
	t, err := resolve(opts, repeated)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkModeLocked(t, repeated); err != nil {
		return err
	}
	if err := c.checkFirmwareLocked(MinFirmwarePulse, "pulse"); err != nil {
		return err
	}
	if t.intensity == 0 || (ot == protocol.OrientationBinaryMask && orientation == 0) {
		return c.stopLocked(t.channel)
	}
	cmd, err := protocol.NewPulse(protocol.PulseParams{
		Channel:           t.channel,
		OrientationType:   ot,
		Orientation:       orientation,
		Intensity:         t.intensity,
		OnDuration:        p.OnDuration,
		PulsePeriod:       p.Period,
		PulseIterations:   p.Iterations,
		PatternPeriod:     p.PatternPeriod,
		PatternIterations: p.PatternIterations,
		Reset:             p.Reset,
		ClearOthers:       t.stopOthers,
	})
	if err != nil {
		return fmt.Errorf("belt: pulse: %w", err)
	}
	return c.sendLocked(ble.VibrationUUID, cmd.Bytes())
}

// StopVibration stops the given channels, or every channel when none is
// given.
func (c *Controller) StopVibration(channels ...int) error {
	data, err := protocol.StopVibration(channels...)
	if err != nil {
		return fmt.Errorf("belt: stop vibration: %w", err)
	}
	return c.send(ble.VibrationUUID, data)
}

func (c *Controller) stopLocked(channel int) error {
	data, err := protocol.StopVibration(channel)
	if err != nil {
		return fmt.Errorf("belt: stop vibration: %w", err)
	}
	return c.sendLocked(ble.VibrationUUID, data)
}

// ChangeMode asks the belt to enter m. The cached mode changes when the
// belt confirms with a parameter notification.
func (c *Controller) ChangeMode(m protocol.Mode) error {
	if m == protocol.ModeUnknown || m == protocol.ModeCalibration {
		return fmt.Errorf("belt: %w: cannot request mode %s", protocol.ErrInvalidArgument, m)
	}
	data, err := protocol.ModeChangeRequest(m)
	if err != nil {
		return fmt.Errorf("belt: change mode: %w", err)
	}
	return c.send(ble.ParamRequestUUID, data)
}

// ChangeDefaultVibrationIntensity sets the default intensity. feedback asks
// the belt to vibrate at the new intensity.
func (c *Controller) ChangeDefaultVibrationIntensity(percent int, feedback bool) error {
	if percent == 0 || percent == protocol.DefaultIntensity {
		return fmt.Errorf("belt: %w: default intensity %d", protocol.ErrInvalidArgument, percent)
	}
	i, err := normalizeIntensity(percent)
	if err != nil {
		return err
	}
	data, err := protocol.DefaultIntensityRequest(i, feedback)
	if err != nil {
		return fmt.Errorf("belt: change default intensity: %w", err)
	}
	return c.send(ble.ParamRequestUUID, data)
}

// RequestParameterValue asks the belt to notify the value of id.
func (c *Controller) RequestParameterValue(id protocol.ParameterID) error {
	switch id {
	case protocol.ParamMode, protocol.ParamDefaultIntensity, protocol.ParamHeadingOffset, protocol.ParamCompassAccuracySignal:
	default:
		return fmt.Errorf("belt: %w: parameter %s", protocol.ErrInvalidArgument, id)
	}
	return c.send(ble.ParamRequestUUID, protocol.ParameterReadRequest(id))
}

// ChangeParameterValue writes a parameter. Mode and default intensity follow
// the rules of ChangeMode and ChangeDefaultVibrationIntensity.
func (c *Controller) ChangeParameterValue(id protocol.ParameterID, value int) error {
	switch id {
	case protocol.ParamMode:
		m, ok := protocol.ParseMode(byte(value))
		if value < 0 || value > 0xFF || !ok {
			return fmt.Errorf("belt: %w: mode %d", protocol.ErrInvalidArgument, value)
		}
		return c.ChangeMode(m)
	case protocol.ParamDefaultIntensity:
		return c.ChangeDefaultVibrationIntensity(value, false)
	}
	data, err := protocol.ParameterWriteRequest(id, value)
	if err != nil {
		return fmt.Errorf("belt: change parameter: %w", err)
	}
	return c.send(ble.ParamRequestUUID, data)
}

// PlaySound plays a predefined buzzer sound.
func (c *Controller) PlaySound(s protocol.Sound) error {
	data, err := protocol.SoundRequest(s)
	if err != nil {
		return fmt.Errorf("belt: play sound: %w", err)
	}
	return c.send(ble.BuzzerUUID, data)
}

// PlayTonePattern plays a sequence of buzzer tones.
func (c *Controller) PlayTonePattern(steps []protocol.ToneStep) error {
	pattern, err := protocol.NewTonePattern(steps)
	if err != nil {
		return fmt.Errorf("belt: tone pattern: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != ble.StateConnected {
		return ErrNotConnected
	}
	if err := c.checkFirmwareLocked(MinFirmwareTonePattern, "tone pattern"); err != nil {
		return err
	}
	return c.sendLocked(ble.BuzzerUUID, pattern.Bytes())
}

// Reset restarts the belt or resets its parameters or pairings.
func (c *Controller) Reset(opt protocol.ResetOption) error {
	data, err := protocol.ResetRequest(opt)
	if err != nil {
		return fmt.Errorf("belt: reset: %w", err)
	}
	return c.send(ble.ParamRequestUUID, data)
}

// SetOrientationNotifications subscribes to or unsubscribes from orientation
// notifications. The cached orientation is cleared when they are disabled.
func (c *Controller) SetOrientationNotifications(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != ble.StateConnected {
		return ErrNotConnected
	}
	if err := c.checkFirmwareLocked(MinFirmwareOrientation, "orientation notifications"); err != nil {
		return err
	}
	if c.orientation == active {
		return nil
	}
	op := ble.NewSetNotify(ble.OrientationUUID, active)
	if !c.enqueueLocked(op, c.orientationSubscribed) {
		return ErrNotConnected
	}
	c.orientation = active
	if !active {
		c.cache.orientation = nil
	}
	return nil
}

func (c *Controller) orientationSubscribed(op *ble.Operation) {
	if op.State() == ble.OpSuccess {
		return
	}
	logFailure(op)
	c.mu.Lock()
	c.orientation = !op.Enable
	c.mu.Unlock()
}
