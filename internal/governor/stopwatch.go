package governor

import (
	"sync"
	"time"
)

// stopwatch accumulates elapsed time from an arbitrary monotonic source.
// Start and Stop are idempotent so a phase transition can never double-count.
type stopwatch struct {
	mu      sync.Mutex
	now     func() time.Duration
	elapsed time.Duration
	started time.Duration
	running bool
}

func newStopwatch(now func() time.Duration) *stopwatch {
	return &stopwatch{now: now}
}

func (s *stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.started = s.now()
	s.running = true
}

func (s *stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if d := s.now() - s.started; d > 0 {
		s.elapsed += d
	}
	s.running = false
}

// Elapsed returns the accumulated time, including the current run if any.
func (s *stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.elapsed
	if s.running {
		if d := s.now() - s.started; d > 0 {
			e += d
		}
	}
	return e
}

func (s *stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var processStart = time.Now()

// monotonicNow reads the monotonic clock as an offset from process start.
func monotonicNow() time.Duration {
	return time.Since(processStart)
}
