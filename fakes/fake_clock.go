// Code generated by counterfeiter. Hand-maintained in this repo because
// the module does not invoke go:generate during build, but kept in the
// shape counterfeiter would emit for pkg/clock.Clock so it drops in
// cleanly once regenerated for real.
package fakes

import (
	"sync"
	"time"

	"github.com/pulsegrid/telemetry-collector/pkg/clock"
)

// FakeClock is a manually advanced clock.Clock for deterministic tests
// of the liveness sweep and client pacing.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*FakeTicker
}

// NewFakeClock returns a FakeClock seeded at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) NewTicker(d time.Duration) clock.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTicker{c: make(chan time.Time, 1), interval: d}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake clock forward by d and sends the new time to
// every ticker that has not been stopped, whatever its interval; a tick
// is dropped if that ticker's one-slot channel is still full.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		select {
		case t.c <- f.now:
		default:
		}
	}
}

// FakeTicker is the clock.Ticker counterpart to FakeClock.
type FakeTicker struct {
	c        chan time.Time
	interval time.Duration
	stopped  bool
}

func (t *FakeTicker) C() <-chan time.Time { return t.c }
func (t *FakeTicker) Stop()               { t.stopped = true }
