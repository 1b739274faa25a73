package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

// LinkState is the transport-level state owned by the Link.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkDiscoveringServices
	LinkPairing
	LinkConnected
	LinkReconnecting
	LinkDisconnecting
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkDiscoveringServices:
		return "discovering_services"
	case LinkPairing:
		return "pairing"
	case LinkConnected:
		return "connected"
	case LinkReconnecting:
		return "reconnecting"
	case LinkDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

// ConnectionState is the application-visible connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateScanning
	StatePairing
	StateConnecting
	StateDiscoveringServices
	// StateHandshake means the link is up and the controller is running
	// its handshake.
	StateHandshake
	StateReconnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StatePairing:
		return "pairing"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateHandshake:
		return "handshake"
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

const (
	linkTimerPrefix   = "link/"
	linkConnectKey    = "link/connect"
	linkDiscoveryKey  = "link/discovery"
	linkSupervisorKey = "link/supervision"
	linkReconnectKey  = "link/reconnect"
)

// LinkConfig holds the timing and retry policy of a Link.
type LinkConfig struct {
	ConnectTimeout     time.Duration
	DiscoveryTimeout   time.Duration
	SupervisionTimeout time.Duration
	ReconnectDelay     time.Duration
	ReconnectMaxDelay  time.Duration
	// InitialAttempts is the number of reconnects allowed before the first
	// successful handshake.
	InitialAttempts int
	// EstablishedAttempts is the number of reconnects allowed once a
	// handshake has succeeded. It is restored on every successful handshake.
	EstablishedAttempts int
}

// DefaultLinkConfig returns the production policy.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		ConnectTimeout:      10 * time.Second,
		DiscoveryTimeout:    10 * time.Second,
		SupervisionTimeout:  6 * time.Second,
		ReconnectDelay:      500 * time.Millisecond,
		ReconnectMaxDelay:   5 * time.Second,
		InitialAttempts:     2,
		EstablishedAttempts: 5,
	}
}

func (c LinkConfig) withDefaults() LinkConfig {
	d := DefaultLinkConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if c.SupervisionTimeout <= 0 {
		c.SupervisionTimeout = d.SupervisionTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = c.ReconnectDelay
	}
	if c.InitialAttempts < 0 {
		c.InitialAttempts = d.InitialAttempts
	}
	if c.EstablishedAttempts < 0 {
		c.EstablishedAttempts = d.EstablishedAttempts
	}
	return c
}

// Events consumed by Link.step.
type (
	linkEvent interface{ linkEvent() }

	connectRequest    struct{ address string }
	scanRequest       struct{}
	disconnectRequest struct{}
	scanUpdate        struct{ ev ScanEvent }
	dialResult        struct {
		attempt uint64
		conn    Connection
		err     error
	}
	discoveryResult struct {
		attempt uint64
		chars   []Characteristic
		bonded  bool
		err     error
	}
	pairingUpdate   struct{ res PairingResult }
	handshakeResult struct{ ok bool }
	linkDown        struct{ attempt uint64 }
	timerExpired    struct {
		attempt uint64
		cause   error
	}
	retryDue    struct{ attempt uint64 }
	closeDone   struct{ attempt uint64 }
	gattTraffic struct{}
)

func (connectRequest) linkEvent()    {}
func (scanRequest) linkEvent()       {}
func (disconnectRequest) linkEvent() {}
func (scanUpdate) linkEvent()        {}
func (dialResult) linkEvent()        {}
func (discoveryResult) linkEvent()   {}
func (pairingUpdate) linkEvent()     {}
func (handshakeResult) linkEvent()   {}
func (linkDown) linkEvent()          {}
func (timerExpired) linkEvent()      {}
func (retryDue) linkEvent()          {}
func (closeDone) linkEvent()         {}
func (gattTraffic) linkEvent()       {}

// Link is the connection state machine. It owns the physical connection and
// composes the Scanner, the Pairer and the Queue into
// scan, connect, discover, pair, supervise and reconnect.
//
// Every input, whether an API call, a platform callback or a timer, is fed
// to step under one mutex. step never calls out: it records side effects in
// an outbox that is drained in order once the mutex is released.
type Link struct {
	adapter Adapter
	scanner *Scanner
	pairer  *Pairer
	queue   *Queue
	timers  *timer.Scheduler
	cfg     LinkConfig

	mu          sync.Mutex
	state       LinkState
	published   ConnectionState
	scanning    bool
	address     string
	conn        Connection
	chars       []Characteristic
	cancelDial  context.CancelFunc
	attempt     uint64
	established bool
	ready       bool
	retries     int
	backoff     *backoff.ExponentialBackOff
	failure     error
	outbox      []func()
	draining    bool
	closed      bool

	states   event.Broadcaster[ConnectionState]
	failures event.Broadcaster[error]
	unsubs   []func()
}

// NewLink wires a Link on top of its collaborators. Zero fields of cfg take
// their DefaultLinkConfig values.
func NewLink(adapter Adapter, scanner *Scanner, pairer *Pairer, queue *Queue, timers *timer.Scheduler, cfg LinkConfig) *Link {
	cfg = cfg.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectDelay
	b.MaxInterval = cfg.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	// The attempt budget bounds reconnects, not elapsed time.
	b.MaxElapsedTime = 0
	b.Reset()

	l := &Link{
		adapter: adapter,
		scanner: scanner,
		pairer:  pairer,
		queue:   queue,
		timers:  timers,
		cfg:     cfg,
		backoff: b,
	}
	l.unsubs = []func(){
		scanner.OnEvent(func(ev ScanEvent) { l.handle(scanUpdate{ev}) }),
		pairer.OnResult(func(res PairingResult) { l.handle(pairingUpdate{res}) }),
		queue.OnOperationDone(func(op *Operation) {
			if s := op.State(); s == OpSuccess || s == OpFailed {
				l.handle(gattTraffic{})
			}
		}),
		queue.OnNotification(func(Notification) { l.handle(gattTraffic{}) }),
	}
	return l
}

// Queue returns the operation queue bound to the link.
func (l *Link) Queue() *Queue { return l.queue }

// OnStateChange registers fn for ConnectionState changes.
func (l *Link) OnStateChange(fn func(ConnectionState)) (unsubscribe func()) {
	return l.states.Subscribe(fn)
}

// OnFailure registers fn for terminal failures. The error wraps one of
// ErrScanFailed, ErrNoDeviceFound, ErrConnectionFailed or ErrConnectionLost.
func (l *Link) OnFailure(fn func(error)) (unsubscribe func()) {
	return l.failures.Subscribe(fn)
}

// State returns the application-visible connection state.
func (l *Link) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectionStateLocked()
}

// LinkState returns the transport-level state.
func (l *Link) LinkState() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Address returns the address of the current or last belt.
func (l *Link) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// Connect connects to the belt at address. It returns ErrBusy unless the
// link is disconnected.
func (l *Link) Connect(address string) error {
	if address == "" {
		return fmt.Errorf("ble: connect: empty address")
	}
	return l.handle(connectRequest{address: address})
}

// ScanAndConnect scans for a belt and connects to the first one found.
func (l *Link) ScanAndConnect() error {
	return l.handle(scanRequest{})
}

// Disconnect tears the link down without reporting a failure.
func (l *Link) Disconnect() {
	l.handle(disconnectRequest{})
}

// HandshakeFinished reports the outcome of the controller's handshake.
// Success makes the link Connected; failure triggers a reconnect.
func (l *Link) HandshakeFinished(ok bool) {
	l.handle(handshakeResult{ok: ok})
}

// Close disconnects and detaches the link from its collaborators.
func (l *Link) Close() {
	l.Disconnect()
	l.mu.Lock()
	l.closed = true
	unsubs := l.unsubs
	l.unsubs = nil
	l.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// handle runs one transition and then drains the outbox, unless another
// goroutine is already draining it.
func (l *Link) handle(ev linkEvent) error {
	l.mu.Lock()
	err := l.step(ev)
	if cs := l.connectionStateLocked(); cs != l.published {
		prev := l.published
		l.published = cs
		l.emit(func() {
			slog.Info("[BLE] connection state", "from", prev, "to", cs)
			l.states.Publish(cs)
		})
	}
	if f := l.failure; f != nil {
		l.failure = nil
		l.emit(func() { l.failures.Publish(f) })
	}
	if l.draining {
		l.mu.Unlock()
		return err
	}
	l.draining = true
	l.mu.Unlock()
	l.drain()
	return err
}

func (l *Link) drain() {
	for {
		l.mu.Lock()
		if len(l.outbox) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		f := l.outbox[0]
		l.outbox[0] = nil
		l.outbox = l.outbox[1:]
		l.mu.Unlock()
		f()
	}
}

func (l *Link) emit(f func()) {
	l.outbox = append(l.outbox, f)
}

// step is the transition function. It runs with l.mu held.
func (l *Link) step(ev linkEvent) error {
	switch ev := ev.(type) {
	case connectRequest:
		if l.closed || l.state != LinkDisconnected || l.scanning {
			return ErrBusy
		}
		l.address = ev.address
		l.beginLocked()
		l.dialLocked()

	case scanRequest:
		if l.closed || l.state != LinkDisconnected || l.scanning {
			return ErrBusy
		}
		l.scanning = true
		l.emit(func() {
			if err := l.scanner.Start(true); errors.Is(err, ErrBusy) {
				l.handle(scanUpdate{ScanEvent{Kind: ScanFailed, Err: fmt.Errorf("%w: %w", ErrScanFailed, err)}})
			}
		})

	case scanUpdate:
		if !l.scanning {
			return nil
		}
		switch ev.ev.Kind {
		case DeviceFound:
			l.scanning = false
			l.address = ev.ev.Device.Address
			l.emit(l.scanner.Stop)
			l.beginLocked()
			l.dialLocked()
		case NoDeviceFound:
			l.scanning = false
			l.failure = ErrNoDeviceFound
		case ScanFailed:
			l.scanning = false
			l.failure = ev.ev.Err
		case ScanFinished:
			l.scanning = false
		}

	case disconnectRequest:
		if l.scanning {
			l.scanning = false
			l.emit(l.scanner.Stop)
		}
		if l.state == LinkDisconnected || l.state == LinkDisconnecting {
			return nil
		}
		slog.Info("[BLE] disconnecting", "address", l.address)
		l.teardownLocked()
		l.retries = 0
		l.closeLocked()

	case dialResult:
		if ev.attempt != l.attempt || l.state != LinkConnecting {
			if ev.conn != nil {
				stale := ev.conn
				l.emit(func() { _ = stale.Disconnect() })
			}
			return nil
		}
		l.timers.Cancel(linkConnectKey)
		l.cancelDial = nil
		if ev.err != nil {
			l.lostLocked(fmt.Errorf("connect %s: %w", l.address, ev.err))
			return nil
		}
		l.conn = ev.conn
		l.state = LinkDiscoveringServices
		attempt := l.attempt
		ev.conn.OnDisconnect(func() { l.handle(linkDown{attempt}) })
		l.schedule(linkDiscoveryKey, l.cfg.DiscoveryTimeout, timerExpired{attempt, errDiscoveryTimeout})
		go l.discover(attempt, ev.conn)

	case discoveryResult:
		if ev.attempt != l.attempt || l.state != LinkDiscoveringServices {
			return nil
		}
		l.timers.Cancel(linkDiscoveryKey)
		if ev.err != nil {
			l.lostLocked(ev.err)
			return nil
		}
		l.chars = ev.chars
		if ev.bonded {
			l.enterConnectedLocked()
			return nil
		}
		l.state = LinkPairing
		addr := l.address
		l.emit(func() { _ = l.pairer.Start(addr) })

	case pairingUpdate:
		if l.state != LinkPairing || ev.res.Address != l.address {
			return nil
		}
		if ev.res.Err != nil {
			l.lostLocked(ev.res.Err)
			return nil
		}
		l.enterConnectedLocked()

	case handshakeResult:
		if l.state != LinkConnected || l.ready {
			return nil
		}
		if !ev.ok {
			l.lostLocked(ErrHandshakeFailed)
			return nil
		}
		l.ready = true
		l.established = true
		l.retries = l.cfg.EstablishedAttempts
		l.backoff.Reset()

	case linkDown:
		if ev.attempt != l.attempt {
			return nil
		}
		switch l.state {
		case LinkConnecting, LinkDiscoveringServices, LinkPairing, LinkConnected:
			l.lostLocked(errLinkDown)
		}

	case timerExpired:
		if ev.attempt != l.attempt {
			return nil
		}
		switch {
		case ev.cause == errConnectTimeout && l.state == LinkConnecting,
			ev.cause == errDiscoveryTimeout && l.state == LinkDiscoveringServices,
			ev.cause == errSupervisionTimeout && l.state == LinkConnected:
			l.lostLocked(ev.cause)
		}

	case retryDue:
		if ev.attempt == l.attempt && l.state == LinkReconnecting {
			l.dialLocked()
		}

	case closeDone:
		if ev.attempt == l.attempt && l.state == LinkDisconnecting {
			l.state = LinkDisconnected
		}

	case gattTraffic:
		if l.state == LinkConnected {
			l.schedule(linkSupervisorKey, l.cfg.SupervisionTimeout, timerExpired{l.attempt, errSupervisionTimeout})
		}
	}
	return nil
}

func (l *Link) schedule(key string, d time.Duration, ev linkEvent) {
	l.timers.Schedule(key, d, func() { l.handle(ev) })
}

// beginLocked starts a new session with the initial reconnect budget.
func (l *Link) beginLocked() {
	l.established = false
	l.retries = l.cfg.InitialAttempts
	l.backoff.Reset()
}

func (l *Link) dialLocked() {
	l.attempt++
	attempt := l.attempt
	l.state = LinkConnecting
	l.ready = false
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ConnectTimeout)
	l.cancelDial = cancel
	l.schedule(linkConnectKey, l.cfg.ConnectTimeout, timerExpired{attempt, errConnectTimeout})

	addr := l.address
	slog.Info("[BLE] connecting", "address", addr, "attempt", attempt)
	go func() {
		defer cancel()
		if err := l.adapter.Enable(); err != nil {
			l.handle(dialResult{attempt: attempt, err: err})
			return
		}
		conn, err := l.adapter.Connect(ctx, addr)
		l.handle(dialResult{attempt: attempt, conn: conn, err: err})
	}()
}

func (l *Link) discover(attempt uint64, conn Connection) {
	chars, err := discoverProfile(conn)
	bonded := false
	if err == nil {
		bonded = l.pairer.IsBonded(conn.Address())
	}
	l.handle(discoveryResult{attempt: attempt, chars: chars, bonded: bonded, err: err})
}

// discoverProfile resolves every characteristic of Profile. A missing
// required service or characteristic fails the whole discovery.
func discoverProfile(conn Connection) ([]Characteristic, error) {
	uuids, err := conn.DiscoverServices()
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	found := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		found[strings.ToLower(u)] = true
	}

	var chars []Characteristic
	for _, svc := range Profile {
		if !found[svc.UUID] {
			if svc.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: %s", errPartialDiscovery, svc.UUID)
		}
		for _, uuid := range svc.Characteristics {
			c, err := conn.DiscoverCharacteristic(svc.UUID, uuid)
			if err != nil {
				if svc.Optional {
					slog.Debug("[BLE] optional characteristic missing", "char", CharacteristicName(uuid), "error", err)
					continue
				}
				return nil, fmt.Errorf("discover %s: %w", CharacteristicName(uuid), err)
			}
			chars = append(chars, c)
		}
	}
	return chars, nil
}

func (l *Link) enterConnectedLocked() {
	l.state = LinkConnected
	l.ready = false
	chars := l.chars
	l.emit(func() { l.queue.Attach(chars) })
	l.schedule(linkSupervisorKey, l.cfg.SupervisionTimeout, timerExpired{l.attempt, errSupervisionTimeout})
}

// teardownLocked drops the current connection attempt: timers, in-flight
// dial, queued operations, pairing and the platform connection.
func (l *Link) teardownLocked() {
	l.attempt++
	l.timers.CancelPrefix(linkTimerPrefix)
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	conn := l.conn
	pairing := l.state == LinkPairing
	l.conn = nil
	l.chars = nil
	l.ready = false
	l.emit(func() {
		l.queue.Detach()
		if pairing {
			l.pairer.Stop()
		}
		if conn != nil {
			if err := conn.Disconnect(); err != nil {
				slog.Debug("[BLE] disconnect", "error", err)
			}
		}
	})
}

// lostLocked handles a failure at any stage: reconnect while the budget
// lasts, otherwise close and report.
func (l *Link) lostLocked(cause error) {
	l.teardownLocked()
	if l.retries > 0 {
		l.retries--
		l.state = LinkReconnecting
		delay := l.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = l.cfg.ReconnectMaxDelay
		}
		slog.Warn("[BLE] link lost, reconnecting",
			"cause", cause, "delay", delay, "retries_left", l.retries, "established", l.established)
		l.schedule(linkReconnectKey, delay, retryDue{l.attempt})
		return
	}
	base := ErrConnectionFailed
	if l.established {
		base = ErrConnectionLost
	}
	l.failure = fmt.Errorf("%w: %w", base, cause)
	slog.Error("[BLE] giving up", "address", l.address, "error", l.failure)
	l.closeLocked()
}

func (l *Link) closeLocked() {
	l.state = LinkDisconnecting
	attempt := l.attempt
	l.emit(func() { l.handle(closeDone{attempt}) })
}

func (l *Link) connectionStateLocked() ConnectionState {
	if l.scanning {
		return StateScanning
	}
	switch l.state {
	case LinkConnecting:
		return StateConnecting
	case LinkDiscoveringServices:
		return StateDiscoveringServices
	case LinkPairing:
		return StatePairing
	case LinkConnected:
		if l.ready {
			return StateConnected
		}
		return StateHandshake
	case LinkReconnecting:
		return StateReconnecting
	}
	return StateDisconnected
}
