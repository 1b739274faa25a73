// Package timer provides the cancellable timer facility shared by the link,
// controller and navigation layers. Each key holds at most one pending timer:
// scheduling a key again replaces whatever was pending under it.
package timer

import (
	"strings"
	"sync"
	"time"
)

// Scheduler runs delayed callbacks keyed by name.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*entry
	gen    uint64
	closed bool
}

type entry struct {
	t   *time.Timer
	gen uint64
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*entry)}
}

// Schedule arranges for fn to run after d. A timer already pending under key
// is cancelled first. fn runs on its own goroutine with no scheduler lock held.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e, ok := s.timers[key]; ok {
		e.t.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen}
	// The callback blocks on s.mu until this function returns, so e.t is set
	// before fire can look at it.
	e.t = time.AfterFunc(d, func() { s.fire(key, gen, fn) })
	s.timers[key] = e
}

func (s *Scheduler) fire(key string, gen uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.gen != gen {
		// Cancelled or replaced after the runtime already started the callback.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()
	fn()
}

// Cancel stops the timer pending under key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(s.timers, key)
	return true
}

// CancelPrefix stops every pending timer whose key starts with prefix and
// returns how many were cancelled.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.timers {
		if strings.HasPrefix(key, prefix) {
			e.t.Stop()
			delete(s.timers, key)
			n++
		}
	}
	return n
}

// Pending reports whether a timer is scheduled under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Close cancels all timers. Later calls to Schedule are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.timers {
		e.t.Stop()
		delete(s.timers, key)
	}
	s.closed = true
}
