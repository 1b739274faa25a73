package belt

import (
	"log/slog"

	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
)

// handleNotification decodes n, updates the cache and publishes the
// resulting events. Malformed payloads leave the cache untouched.
func (c *Controller) handleNotification(n ble.Notification) {
	var (
		events     []Event
		err        error
		disconnect bool
	)
	c.mu.Lock()
	switch n.Char {
	case ble.KeepAliveUUID:
		var m protocol.Mode
		if m, err = protocol.DecodeKeepAlive(n.Data); err == nil {
			ack := ble.NewWrite(ble.KeepAliveUUID, protocol.KeepAliveAck())
			if !c.enqueueLocked(ack, ackDone) {
				slog.Warn("[BELT] keep-alive ack not sent", "error", ble.ErrNotConnected)
			}
			events = c.setModeLocked(m, false)
		}
	case ble.ButtonPressUUID:
		var press protocol.ButtonPress
		if press, err = protocol.DecodeButtonPress(n.Data); err == nil {
			if !c.quietLocked() {
				events = append(events, ButtonPressed{Press: press})
			}
			events = append(events, c.setModeLocked(press.SubsequentMode, true)...)
			disconnect = press.SubsequentMode == protocol.ModeStandby
		}
	case ble.ParamNotifyUUID:
		var p protocol.Parameter
		if p, err = protocol.DecodeParameter(n.Data); err == nil {
			events = c.applyParameterLocked(p)
			c.markHandshakeLocked(p.ID)
		}
	case ble.BatteryStatusUUID:
		var s protocol.BatteryStatus
		if s, err = protocol.DecodeBatteryStatus(n.Data); err == nil {
			c.cache.battery = &s
			if !c.quietLocked() {
				events = append(events, BatteryChanged{Status: s})
			}
		}
	case ble.OrientationUUID:
		var o protocol.Orientation
		if o, err = protocol.DecodeOrientation(n.Data); err == nil {
			c.cache.orientation = &o
			if !c.quietLocked() {
				events = append(events, OrientationChanged{Orientation: o})
			}
		}
	case ble.SensorParamNotifyUUID, ble.DebugOutputUUID:
		slog.Debug("[BELT] notification", "char", ble.CharacteristicName(n.Char), "data", n.Data)
	}
	c.mu.Unlock()

	if err != nil {
		name := ble.CharacteristicName(n.Char)
		slog.Warn("[BELT] dropped malformed notification", "char", name, "data", n.Data, "error", err)
		if c.opts.OnMalformed != nil {
			c.opts.OnMalformed(name, err)
		}
		return
	}
	c.events.PublishAll(events)
	if disconnect {
		slog.Info("[BELT] belt is powering off, disconnecting")
		c.link.Disconnect()
	}
}

func ackDone(op *ble.Operation) {
	if op.State() != ble.OpSuccess {
		slog.Warn("[BELT] keep-alive ack failed", "state", op.State(), "error", op.Err())
	}
}

// quietLocked reports whether state changes are cached without events. This
// holds while a handshake runs and after it failed, until the link settles.
// Late answers to the failed handshake's queued requests stay silent.
func (c *Controller) quietLocked() bool {
	return !c.live
}

// setModeLocked caches m and returns the event to publish, if any.
func (c *Controller) setModeLocked(m protocol.Mode, byButton bool) []Event {
	changed := c.cache.mode != m
	c.cache.mode = m
	c.cache.params[protocol.ParamMode] = int(m)
	if !changed || c.quietLocked() {
		return nil
	}
	return []Event{ModeChanged{Mode: m, ByButton: byButton}}
}

// applyParameterLocked caches p and returns the events to publish.
func (c *Controller) applyParameterLocked(p protocol.Parameter) []Event {
	var events []Event
	switch p.ID {
	case protocol.ParamMode:
		events = c.setModeLocked(protocol.Mode(p.Value), false)
	case protocol.ParamDefaultIntensity:
		changed := c.cache.intensity != p.Value
		c.cache.intensity = p.Value
		if changed && !c.quietLocked() {
			events = append(events, DefaultIntensityChanged{Intensity: p.Value})
		}
	}
	c.cache.params[p.ID] = p.Value
	if c.quietLocked() {
		return nil
	}
	return append(events, ParameterChanged{Parameter: p})
}
