package app

import (
	"sync"
	"time"
)

// LobbyIndex is the scheduler index reserved for the lobby window.
const LobbyIndex = -1

// Timer is the handle returned by a TimerFunc.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f to run once after d on its own goroutine.
type TimerFunc func(d time.Duration, f func()) Timer

// RealTimers is the production TimerFunc.
func RealTimers(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// deadline is a DeadlineExpired event for one armed countdown.
type deadline struct {
	index int
	gen   uint64
}

// Scheduler owns at most one outstanding deadline timer.
//
// Every Arm bumps a generation counter; an expiry is only handed to the
// session when its generation is still current, and Accept consumes it so
// each countdown produces a single DeadlineExpired.
type Scheduler struct {
	after   TimerFunc
	deliver func(deadline)

	mu    sync.Mutex
	timer Timer
	gen   uint64
	index int
	armed bool
}

func newScheduler(after TimerFunc, deliver func(deadline)) *Scheduler {
	if after == nil {
		after = RealTimers
	}
	return &Scheduler{after: after, deliver: deliver}
}

// Arm replaces any pending countdown with a fresh one of the full duration.
func (s *Scheduler) Arm(index int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.index = index
	s.armed = true
	s.timer = s.after(d, func() { s.fire(gen, index) })
}

// Disarm cancels the pending countdown. Safe to call with nothing armed.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
	s.gen++
}

// Armed reports the index of the pending countdown, if any.
func (s *Scheduler) Armed() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index, s.armed
}

// Accept consumes an expiry. It returns false for expiries of replaced or
// disarmed countdowns and for repeats.
func (s *Scheduler) Accept(d deadline) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed || d.gen != s.gen || d.index != s.index {
		return false
	}
	s.armed = false
	s.timer = nil
	return true
}

func (s *Scheduler) fire(gen uint64, index int) {
	s.mu.Lock()
	current := s.armed && gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.deliver(deadline{index: index, gen: gen})
}
