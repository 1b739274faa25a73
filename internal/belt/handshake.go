package belt

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
)

// handshakeSubscriptions are enabled in this order before any request.
var handshakeSubscriptions = []string{
	ble.KeepAliveUUID,
	ble.ButtonPressUUID,
	ble.ParamNotifyUUID,
	ble.BatteryStatusUUID,
}

// handshakeParameters are requested after the subscriptions.
var handshakeParameters = []protocol.ParameterID{
	protocol.ParamMode,
	protocol.ParamDefaultIntensity,
	protocol.ParamCompassAccuracySignal,
}

// handshake tracks the progress of one handshake run.
type handshake struct {
	subscribed int
	mode       bool
	intensity  bool
	firmware   bool
}

func (h *handshake) complete() bool {
	return h.subscribed == len(handshakeSubscriptions) && h.mode && h.intensity && h.firmware
}

// parameterResponse matches a parameter notification for id.
func parameterResponse(id protocol.ParameterID) func([]byte) bool {
	prefix := protocol.ParameterReadRequest(id)
	return func(b []byte) bool {
		return len(b) > len(prefix) && bytes.HasPrefix(b, prefix)
	}
}

// startHandshake resets the cache and enqueues every handshake step. The
// steps run in queue order; the handshake completes when the last required
// value has arrived.
func (c *Controller) startHandshake() {
	c.mu.Lock()
	c.abortHandshakeLocked()
	c.cache = unknownState()
	hs := &handshake{}
	c.hs = hs
	slog.Info("[BELT] handshake started", "address", c.link.Address())

	var steps []*ble.Operation
	for _, uuid := range handshakeSubscriptions {
		steps = append(steps, ble.NewSetNotify(uuid, true))
	}
	for _, id := range handshakeParameters {
		steps = append(steps, ble.NewWriteAwaitNotify(ble.ParamRequestUUID,
			protocol.ParameterReadRequest(id), ble.ParamNotifyUUID, parameterResponse(id)))
	}
	steps = append(steps, ble.NewRead(ble.FirmwareInfoUUID))

	for _, op := range steps {
		if !c.enqueueLocked(op, func(op *ble.Operation) { c.handshakeStep(hs, op) }) {
			c.mu.Unlock()
			c.finishHandshake(hs, fmt.Errorf("enqueue %s: %w", op, ble.ErrNotConnected))
			return
		}
	}
	c.mu.Unlock()
	c.timers.Schedule(handshakeTimerKey, c.opts.HandshakeTimeout, func() {
		c.finishHandshake(hs, fmt.Errorf("timed out after %v", c.opts.HandshakeTimeout))
	})
}

// handshakeStep accounts for one completed handshake operation.
func (c *Controller) handshakeStep(hs *handshake, op *ble.Operation) {
	if op.State() != ble.OpSuccess {
		c.finishHandshake(hs, fmt.Errorf("%s: %s: %v", op, op.State(), op.Err()))
		return
	}
	c.mu.Lock()
	if c.hs != hs {
		c.mu.Unlock()
		return
	}
	switch op.Kind {
	case ble.OpSetNotify:
		hs.subscribed++
	case ble.OpWriteAwaitNotify:
		p, err := protocol.DecodeParameter(op.Result())
		if err != nil {
			c.mu.Unlock()
			c.finishHandshake(hs, fmt.Errorf("%s: %w", op, err))
			return
		}
		c.applyParameterLocked(p)
		c.markHandshakeLocked(p.ID)
	case ble.OpRead:
		v, err := protocol.DecodeFirmwareVersion(op.Result())
		if err != nil {
			c.mu.Unlock()
			c.finishHandshake(hs, fmt.Errorf("%s: %w", op, err))
			return
		}
		c.cache.firmware = v
		hs.firmware = true
	}
	done := hs.complete()
	c.mu.Unlock()
	if done {
		c.finishHandshake(hs, nil)
	}
}

// markHandshakeLocked records that the handshake received parameter id.
func (c *Controller) markHandshakeLocked(id protocol.ParameterID) {
	if c.hs == nil {
		return
	}
	switch id {
	case protocol.ParamMode:
		c.hs.mode = true
	case protocol.ParamDefaultIntensity:
		c.hs.intensity = true
	}
}

// finishHandshake reports the outcome of hs to the link once.
func (c *Controller) finishHandshake(hs *handshake, cause error) {
	c.mu.Lock()
	if c.hs != hs {
		c.mu.Unlock()
		return
	}
	c.hs = nil
	firmware := c.cache.firmware
	mode := c.cache.mode
	if cause == nil {
		c.live = true
		c.enqueueLocked(ble.NewRequestMTU(ble.VibrationUUID), func(op *ble.Operation) {
			if op.State() == ble.OpSuccess && len(op.Result()) >= 2 {
				slog.Debug("[BELT] negotiated MTU", "mtu", int(op.Result()[0])|int(op.Result()[1])<<8)
			}
		})
	}
	c.mu.Unlock()
	c.timers.Cancel(handshakeTimerKey)

	address := c.link.Address()
	if cause != nil {
		slog.Warn("[BELT] handshake failed", "address", address, "error", fmt.Errorf("%w: %w", ble.ErrHandshakeFailed, cause))
		c.link.HandshakeFinished(false)
		return
	}
	slog.Info("[BELT] handshake complete", "address", address, "firmware", firmware, "mode", mode)
	if c.opts.Store != nil {
		if err := c.opts.Store.SaveLastAddress(address); err != nil {
			slog.Warn("[BELT] failed to save belt address", "address", address, "error", err)
		}
	}
	c.link.HandshakeFinished(true)
}

// abortHandshakeLocked drops a running handshake without reporting it.
func (c *Controller) abortHandshakeLocked() {
	if c.hs == nil {
		return
	}
	c.hs = nil
	c.timers.Cancel(handshakeTimerKey)
}
