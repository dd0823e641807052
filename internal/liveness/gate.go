// Package liveness implements a blink-based gate in front of attendance
// recording. It deters holding a printed photo to the camera; it is not an
// anti-spoofing guarantee.
package liveness

import (
	"sync"
	"time"
)

// DefaultTimeout is how long a confirmed blink stays valid without a new
// open-eye observation.
const DefaultTimeout = 3 * time.Second

// closedRun is the number of consecutive eyes-closed observations that must
// precede an eyes-open one to count as a blink.
const closedRun = 2

type State int

const (
	Wait State = iota
	Blinked
)

func (s State) String() string {
	if s == Blinked {
		return "BLINKED"
	}
	return "WAIT"
}

// Gate is the WAIT/BLINKED state machine. It is safe for concurrent use; the
// pipeline feeds it while the web API reads its state.
type Gate struct {
	timeout time.Duration

	mu          sync.Mutex
	state       State
	closed      int
	confirmedAt time.Time
}

// NewGate creates a gate in WAIT. A non-positive timeout selects DefaultTimeout.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{timeout: timeout}
}

// expireLocked reverts BLINKED to WAIT once the window has passed.
func (g *Gate) expireLocked(now time.Time) {
	if g.state == Blinked && now.Sub(g.confirmedAt) > g.timeout {
		g.state = Wait
		g.closed = 0
	}
}

// Observe feeds one eye-state sample and returns the resulting state.
// Closed, closed, open moves WAIT to BLINKED; while BLINKED an open-eye
// sample renews the window.
func (g *Gate) Observe(eyesOpen bool, now time.Time) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.expireLocked(now)

	if !eyesOpen {
		g.closed++
		return g.state
	}

	switch {
	case g.closed >= closedRun:
		g.state = Blinked
		g.confirmedAt = now
	case g.state == Blinked:
		g.confirmedAt = now
	}
	g.closed = 0
	return g.state
}

// Allow reports whether a match may be recorded at now.
func (g *Gate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(now)
	return g.state == Blinked
}

// State returns the current state without applying the timeout.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
