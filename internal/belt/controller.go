// Package belt implements the communication controller of the belt: the
// handshake run on every new link, the cached device state, the command
// methods and the decoding of notifications into typed events.
package belt

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

var (
	// ErrNotConnected is returned by commands issued before the handshake
	// has completed.
	ErrNotConnected = ble.ErrNotConnected
	// ErrWrongMode is returned when the cached belt mode does not allow a
	// command.
	ErrWrongMode = errors.New("belt: command not allowed in current mode")
	// ErrUnsupportedFirmware is returned when the belt firmware is too old
	// for a command.
	ErrUnsupportedFirmware = errors.New("belt: unsupported firmware version")
)

// Link is the connection state machine as seen by the controller.
type Link interface {
	OnStateChange(fn func(ble.ConnectionState)) (unsubscribe func())
	OnFailure(fn func(error)) (unsubscribe func())
	HandshakeFinished(ok bool)
	Disconnect()
	Address() string
}

// Transport carries GATT operations to the belt.
type Transport interface {
	Enqueue(op *ble.Operation) bool
	OnOperationDone(fn func(*ble.Operation)) (unsubscribe func())
	OnNotification(fn func(ble.Notification)) (unsubscribe func())
}

// AddressStore persists the address of the last belt that completed a
// handshake.
type AddressStore interface {
	SaveLastAddress(address string) error
}

// DefaultHandshakeTimeout bounds the whole handshake.
const DefaultHandshakeTimeout = 15 * time.Second

const handshakeTimerKey = "belt/handshake"

// Options configure a Controller.
type Options struct {
	HandshakeTimeout time.Duration
	// Store receives the belt address after each successful handshake.
	Store AddressStore
	// OnMalformed is called for every dropped notification payload.
	OnMalformed func(char string, err error)
}

// DefaultOptions returns the production options.
func DefaultOptions() Options {
	return Options{HandshakeTimeout: DefaultHandshakeTimeout}
}

// Controller owns the cached device state of the connected belt.
type Controller struct {
	link      Link
	transport Transport
	timers    *timer.Scheduler
	opts      Options

	mu          sync.Mutex
	conn        ble.ConnectionState
	cache       deviceState
	hs          *handshake
	live        bool // state changes are published; set by a successful handshake
	pending     map[*ble.Operation]func(*ble.Operation)
	orientation bool // orientation notifications requested

	events event.Broadcaster[Event]
	unsubs []func()
}

// deviceState is the cached snapshot of the belt.
type deviceState struct {
	mode        protocol.Mode
	intensity   int
	firmware    int
	battery     *protocol.BatteryStatus
	orientation *protocol.Orientation
	params      map[protocol.ParameterID]int
}

func unknownState() deviceState {
	return deviceState{
		mode:      protocol.ModeUnknown,
		intensity: -1,
		firmware:  -1,
		params:    make(map[protocol.ParameterID]int),
	}
}

// NewController binds a controller to link and transport.
func NewController(link Link, transport Transport, timers *timer.Scheduler, opts Options) *Controller {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c := &Controller{
		link:      link,
		transport: transport,
		timers:    timers,
		opts:      opts,
		cache:     unknownState(),
		pending:   make(map[*ble.Operation]func(*ble.Operation)),
	}
	c.unsubs = []func(){
		transport.OnOperationDone(c.operationDone),
		transport.OnNotification(c.handleNotification),
		link.OnStateChange(c.connectionChanged),
		link.OnFailure(func(err error) {
			c.events.Publish(ConnectionFailed{Err: err})
		}),
	}
	return c
}

// Subscribe registers fn for controller events.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// Close detaches the controller from its link and transport.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.hs = nil
	c.mu.Unlock()
	c.timers.Cancel(handshakeTimerKey)
	for _, u := range unsubs {
		u()
	}
}

// ConnectionState returns the last connection state reported by the link.
func (c *Controller) ConnectionState() ble.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connected reports whether the handshake has completed on the current link.
func (c *Controller) Connected() bool {
	return c.ConnectionState() == ble.StateConnected
}

// Mode returns the cached belt mode, ModeUnknown while disconnected.
func (c *Controller) Mode() protocol.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.mode
}

// DefaultIntensity returns the cached default vibration intensity.
func (c *Controller) DefaultIntensity() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.intensity, c.cache.intensity >= 0
}

// FirmwareVersion returns the cached firmware version.
func (c *Controller) FirmwareVersion() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.firmware, c.cache.firmware >= 0
}

// Battery returns the last battery snapshot.
func (c *Controller) Battery() (protocol.BatteryStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache.battery == nil {
		return protocol.BatteryStatus{}, false
	}
	return *c.cache.battery, true
}

// Orientation returns the last orientation snapshot.
func (c *Controller) Orientation() (protocol.Orientation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache.orientation == nil {
		return protocol.Orientation{}, false
	}
	return *c.cache.orientation, true
}

// Parameter returns the cached value of a parameter.
func (c *Controller) Parameter(id protocol.ParameterID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.params[id]
	return v, ok
}

func (c *Controller) connectionChanged(s ble.ConnectionState) {
	c.mu.Lock()
	prev := c.conn
	c.conn = s
	c.live = s == ble.StateConnected
	var start bool
	switch s {
	case ble.StateHandshake:
		start = true
	case ble.StateConnected:
	default:
		if prev == ble.StateHandshake || prev == ble.StateConnected {
			c.abortHandshakeLocked()
			c.cache = unknownState()
			c.orientation = false
			clear(c.pending)
			slog.Info("[BELT] cached state cleared", "state", s)
		}
	}
	c.mu.Unlock()

	c.events.Publish(ConnectionStateChanged{State: s})
	if start {
		c.startHandshake()
	}
}

// enqueueLocked hands op to the transport and registers done for its
// completion.
func (c *Controller) enqueueLocked(op *ble.Operation, done func(*ble.Operation)) bool {
	if done != nil {
		c.pending[op] = done
	}
	if !c.transport.Enqueue(op) {
		delete(c.pending, op)
		return false
	}
	return true
}

func (c *Controller) operationDone(op *ble.Operation) {
	c.mu.Lock()
	done, ok := c.pending[op]
	delete(c.pending, op)
	c.mu.Unlock()
	if ok {
		done(op)
	}
}

// logFailure is the completion callback of fire-and-forget commands.
func logFailure(op *ble.Operation) {
	if op.State() != ble.OpSuccess {
		slog.Warn("[BELT] command failed", "op", op.String(), "state", op.State(), "error", op.Err())
	}
}
