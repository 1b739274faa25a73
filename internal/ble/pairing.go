package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

// DefaultPairingTimeout bounds a bonding attempt.
const DefaultPairingTimeout = 20 * time.Second

const pairingTimerKey = "pairing/timeout"

var (
	errPairingTimeout = errors.New("bonding did not complete")
	errBondRejected   = errors.New("bonding rejected")
)

// BondState is the OS-level bonding state of a peer.
type BondState int

const (
	BondNone BondState = iota
	Bonding
	Bonded
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "none"
	case Bonding:
		return "bonding"
	case Bonded:
		return "bonded"
	}
	return fmt.Sprintf("BondState(%d)", int(s))
}

// Bonder is the OS bonding service.
type Bonder interface {
	// Bonded reports whether address is bonded.
	Bonded(address string) (bool, error)
	// Bond asks the OS to bond with address. The outcome is reported to
	// WatchBond subscribers.
	Bond(address string) error
	// WatchBond calls fn, from another goroutine, on every bonding state
	// change of address until stop is called. stop must not block.
	WatchBond(address string, fn func(BondState)) (stop func(), err error)
}

// PairingResult reports the end of a pairing attempt. Err is nil on success.
type PairingResult struct {
	Address string
	Err     error
}

// Pairer coordinates one bonding attempt at a time.
type Pairer struct {
	bonder  Bonder
	timers  *timer.Scheduler
	timeout time.Duration

	mu      sync.Mutex
	address string // peer being bonded, empty when idle
	gen     uint64
	stop    func()

	results event.Broadcaster[PairingResult]
}

// NewPairer returns a Pairer. A non-positive timeout selects
// DefaultPairingTimeout.
func NewPairer(bonder Bonder, timers *timer.Scheduler, timeout time.Duration) *Pairer {
	if timeout <= 0 {
		timeout = DefaultPairingTimeout
	}
	return &Pairer{bonder: bonder, timers: timers, timeout: timeout}
}

// OnResult registers fn for pairing outcomes.
func (p *Pairer) OnResult(fn func(PairingResult)) (unsubscribe func()) {
	return p.results.Subscribe(fn)
}

// IsBonded reports whether address is bonded. Lookup errors count as not
// bonded.
func (p *Pairer) IsBonded(address string) bool {
	ok, err := p.bonder.Bonded(address)
	if err != nil {
		slog.Warn("[BLE] bond state lookup failed", "address", address, "error", err)
		return false
	}
	return ok
}

// Pairing reports whether an attempt is outstanding.
func (p *Pairer) Pairing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address != ""
}

// Start bonds with address. An already bonded peer succeeds immediately.
// Starting again for the peer being bonded is a no-op; starting for another
// peer returns ErrBusy.
func (p *Pairer) Start(address string) error {
	p.mu.Lock()
	busy, err := p.busyLocked(address)
	p.mu.Unlock()
	if busy {
		return err
	}

	// Bond lookups and watch setup are bus round-trips and run unlocked;
	// the attempt is re-checked once they return.
	bonded := p.IsBonded(address)

	p.mu.Lock()
	if busy, err := p.busyLocked(address); busy {
		p.mu.Unlock()
		return err
	}
	if bonded {
		p.mu.Unlock()
		slog.Info("[BLE] already bonded", "address", address)
		p.results.Publish(PairingResult{Address: address})
		return nil
	}
	p.gen++
	gen := p.gen
	p.address = address
	p.timers.Schedule(pairingTimerKey, p.timeout, func() { p.finish(gen, errPairingTimeout) })
	p.mu.Unlock()

	stop, err := p.bonder.WatchBond(address, func(s BondState) { p.onState(gen, s) })
	if err != nil {
		err = fmt.Errorf("watch bond state: %w", err)
		p.finish(gen, err)
		return fmt.Errorf("%w: %s: %w", ErrPairingFailed, address, err)
	}
	p.mu.Lock()
	if gen != p.gen {
		// Stopped or timed out meanwhile.
		p.mu.Unlock()
		stop()
		return nil
	}
	p.stop = stop
	p.mu.Unlock()

	slog.Info("[BLE] bonding", "address", address, "timeout", p.timeout)
	if err := p.bonder.Bond(address); err != nil {
		p.finish(gen, err)
		return fmt.Errorf("%w: %s: %w", ErrPairingFailed, address, err)
	}
	return nil
}

// busyLocked reports whether an attempt is outstanding. err is ErrBusy when
// that attempt is for another peer.
func (p *Pairer) busyLocked(address string) (bool, error) {
	switch p.address {
	case "":
		return false, nil
	case address:
		return true, nil
	}
	return true, ErrBusy
}

// Stop abandons the outstanding attempt without reporting a result.
func (p *Pairer) Stop() {
	p.mu.Lock()
	if p.address == "" {
		p.mu.Unlock()
		return
	}
	stop := p.resetLocked()
	p.mu.Unlock()
	stop()
}

func (p *Pairer) resetLocked() (stop func()) {
	stop = p.stop
	if stop == nil {
		stop = func() {}
	}
	p.gen++
	p.address = ""
	p.stop = nil
	p.timers.Cancel(pairingTimerKey)
	return stop
}

func (p *Pairer) onState(gen uint64, s BondState) {
	slog.Debug("[BLE] bond state changed", "state", s)
	switch s {
	case Bonded:
		p.finish(gen, nil)
	case BondNone:
		p.finish(gen, errBondRejected)
	}
}

func (p *Pairer) finish(gen uint64, cause error) {
	p.mu.Lock()
	if gen != p.gen || p.address == "" {
		p.mu.Unlock()
		return
	}
	address := p.address
	stop := p.resetLocked()
	p.mu.Unlock()
	stop()

	res := PairingResult{Address: address}
	if cause != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrPairingFailed, address, cause)
		slog.Error("[BLE] bonding failed", "address", address, "error", cause)
	} else {
		slog.Info("[BLE] bonded", "address", address)
	}
	p.results.Publish(res)
}
