package clock

import (
	"sync"
	"time"
)

// Clock is the trusted current-time source for all domain time windows
// (policy expiration, escrow grace period). The core never reads the ambient
// wall clock directly — every component takes an injected Clock.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock. Used by the service binary.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
