package ble

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/chaz8081/navibelt/internal/event"
	"github.com/chaz8081/navibelt/internal/timer"
)

// DefaultScanTimeout bounds a scan window.
const DefaultScanTimeout = 5 * time.Second

// DefaultNamePattern matches the advertised names of belts.
var DefaultNamePattern = regexp.MustCompile(`(?i)^(naviguertel|feelspace)`)

const scanTimerKey = "scan/timeout"

// ScanEventKind classifies scanner events.
type ScanEventKind int

const (
	ScanStarted ScanEventKind = iota
	DeviceFound
	// ScanFinished reports the end of a scan window or an explicit Stop.
	ScanFinished
	// NoDeviceFound replaces ScanFinished when a scan started for
	// scan-and-connect ends without a match.
	NoDeviceFound
	ScanFailed
)

func (k ScanEventKind) String() string {
	switch k {
	case ScanStarted:
		return "started"
	case DeviceFound:
		return "device_found"
	case ScanFinished:
		return "finished"
	case NoDeviceFound:
		return "no_device_found"
	case ScanFailed:
		return "failed"
	}
	return fmt.Sprintf("ScanEventKind(%d)", int(k))
}

// ScanEvent is published by the Scanner.
type ScanEvent struct {
	Kind   ScanEventKind
	Device Advertisement // DeviceFound only
	Err    error         // ScanFailed only
}

// Scanner discovers belts by advertised name. Each address is reported at
// most once per scan.
type Scanner struct {
	adapter Adapter
	timers  *timer.Scheduler
	pattern *regexp.Regexp
	timeout time.Duration

	mu       sync.Mutex
	scanning bool
	gen      uint64
	cancel   context.CancelFunc
	seen     map[string]bool
	found    bool
	connect  bool

	events event.Broadcaster[ScanEvent]
}

// NewScanner returns a Scanner. A nil pattern selects DefaultNamePattern and
// a non-positive timeout DefaultScanTimeout.
func NewScanner(adapter Adapter, timers *timer.Scheduler, pattern *regexp.Regexp, timeout time.Duration) *Scanner {
	if pattern == nil {
		pattern = DefaultNamePattern
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &Scanner{adapter: adapter, timers: timers, pattern: pattern, timeout: timeout}
}

// OnEvent registers fn for scanner events.
func (s *Scanner) OnEvent(fn func(ScanEvent)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// Scanning reports whether a scan window is open.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Start opens a scan window. With forConnect set, a window that closes
// without a match ends in NoDeviceFound instead of ScanFinished. Starting
// while a scan is running returns ErrBusy.
func (s *Scanner) Start(forConnect bool) error {
	if s.Scanning() {
		return ErrBusy
	}
	// Powering on the radio may block; it runs unlocked.
	if err := s.adapter.Enable(); err != nil {
		err = fmt.Errorf("%w: enable adapter: %w", ErrScanFailed, err)
		s.events.Publish(ScanEvent{Kind: ScanFailed, Err: err})
		return err
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	gen := s.gen
	s.scanning = true
	s.cancel = cancel
	s.seen = make(map[string]bool)
	s.found = false
	s.connect = forConnect
	s.timers.Schedule(scanTimerKey, s.timeout, func() { s.expire(gen) })
	s.mu.Unlock()

	slog.Info("[BLE] scan started", "timeout", s.timeout, "pattern", s.pattern.String())
	s.events.Publish(ScanEvent{Kind: ScanStarted})

	go func() {
		err := s.adapter.Scan(ctx, func(adv Advertisement) { s.report(gen, adv) })
		if err != nil && ctx.Err() == nil {
			s.fail(gen, err)
		}
	}()
	return nil
}

// Stop closes the scan window. It is safe to call at any time.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()

	slog.Info("[BLE] scan stopped")
	s.events.Publish(ScanEvent{Kind: ScanFinished})
}

func (s *Scanner) closeLocked() {
	s.scanning = false
	s.gen++
	s.cancel()
	s.cancel = nil
	s.timers.Cancel(scanTimerKey)
}

func (s *Scanner) report(gen uint64, adv Advertisement) {
	s.mu.Lock()
	if !s.scanning || gen != s.gen || !s.pattern.MatchString(adv.Name) || s.seen[adv.Address] {
		s.mu.Unlock()
		return
	}
	s.seen[adv.Address] = true
	s.found = true
	s.mu.Unlock()

	slog.Info("[BLE] belt found", "name", adv.Name, "address", adv.Address, "rssi", adv.RSSI)
	s.events.Publish(ScanEvent{Kind: DeviceFound, Device: adv})
}

func (s *Scanner) expire(gen uint64) {
	s.mu.Lock()
	if !s.scanning || gen != s.gen {
		s.mu.Unlock()
		return
	}
	kind := ScanFinished
	if s.connect && !s.found {
		kind = NoDeviceFound
	}
	s.closeLocked()
	s.mu.Unlock()

	slog.Info("[BLE] scan window elapsed", "result", kind)
	s.events.Publish(ScanEvent{Kind: kind})
}

func (s *Scanner) fail(gen uint64, err error) {
	s.mu.Lock()
	if !s.scanning || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()

	err = fmt.Errorf("%w: %w", ErrScanFailed, err)
	slog.Error("[BLE] scan failed", "error", err)
	s.events.Publish(ScanEvent{Kind: ScanFailed, Err: err})
}
