// Package seqtrack classifies arriving sequence numbers for one device
// against a sliding window over the modular 2^16 sequence space,
// adapted from the wraparound/out-of-order handling in
// pkg/sfu/utils/wraparound.go and pkg/sfu/sequencer.go of the teacher
// repo this module was built from (see /DESIGN.md).
package seqtrack

import (
	"sync"

	"go.uber.org/atomic"
)

// Classification is the outcome of feeding one sequence number to a
// Tracker, per spec.md §4.2.
type Classification int

const (
	Normal Classification = iota
	Duplicate
	Delayed
	OutOfWindow
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "NORMAL"
	case Duplicate:
		return "DUPLICATE"
	case Delayed:
		return "DELAYED"
	case OutOfWindow:
		return "OUT_OF_WINDOW"
	default:
		return "UNKNOWN"
	}
}

// DefaultWindowSize is the window_size from spec.md §3/§4.2.
const DefaultWindowSize = 512

const halfSpace = 1 << 15 // 2^15, the forward/backward tie-break boundary

// Tracker holds one device's view of the sequence space: the last
// accepted forward sequence (head), the bounded "seen" set, and the
// bounded "missing" set of sequence numbers implied by a forward jump.
// Zero value is not usable; construct with New.
type Tracker struct {
	mu sync.Mutex

	windowSize int
	initialized bool
	head        uint16

	seen    map[uint16]struct{}
	missing map[uint16]struct{}

	totalReceived           atomic.Uint64
	totalDroppedOutOfWindow atomic.Uint64
}

// New creates a Tracker with the given window size. windowSize must be
// in (0, 2^15]; 0 selects DefaultWindowSize.
func New(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if windowSize > halfSpace {
		windowSize = halfSpace
	}
	return &Tracker{
		windowSize: windowSize,
		seen:       make(map[uint16]struct{}, windowSize),
		missing:    make(map[uint16]struct{}),
	}
}

// Head returns the last accepted forward sequence number and whether
// the tracker has observed anything yet.
func (t *Tracker) Head() (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.head, t.initialized
}

// Stats returns the lifetime received/out-of-window counters.
func (t *Tracker) Stats() (totalReceived, totalDroppedOutOfWindow uint64) {
	return t.totalReceived.Load(), t.totalDroppedOutOfWindow.Load()
}

// Classify applies the algorithm from spec.md §4.2 to seq and returns
// its classification plus gapFlag, which is true exactly when this is a
// NORMAL observation whose forward jump skipped at least one sequence
// number (spec.md S3/P6b).
func (t *Tracker) Classify(seq uint16) (class Classification, gapFlag bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalReceived.Inc()

	if !t.initialized {
		t.head = seq
		t.initialized = true
		t.seen = map[uint16]struct{}{seq: {}}
		return Normal, false
	}

	forward := seq - t.head // uint16 wraparound gives the modular distance

	if forward == 0 {
		return Duplicate, false
	}

	if forward <= halfSpace {
		// Forward motion (I5: distance exactly 2^15 counts as forward).
		gapFlag = forward > 1
		if gapFlag {
			t.markMissing(t.head+1, seq-1)
		}
		t.head = seq
		t.seen[seq] = struct{}{}
		delete(t.missing, seq)
		t.prune()
		return Normal, gapFlag
	}

	// Backward motion: backward = 2^16 - forward, which is < 2^15 here.
	backward := -forward // unsigned wraparound: 0 - forward
	if int(backward) >= t.windowSize {
		t.totalDroppedOutOfWindow.Inc()
		return OutOfWindow, false
	}
	if _, wasMissing := t.missing[seq]; wasMissing {
		delete(t.missing, seq)
		t.seen[seq] = struct{}{}
		return Delayed, false
	}
	return Duplicate, false
}

// markMissing records every sequence number in (from..to), inclusive,
// as missing, capped to the most recent windowSize entries so memory
// stays bounded even after a very large forward jump.
func (t *Tracker) markMissing(from, to uint16) {
	count := int(to-from) + 1
	if count > t.windowSize {
		// keep only the windowSize entries closest to `to` (the new head)
		from = to - uint16(t.windowSize-1)
		count = t.windowSize
	}
	s := from
	for i := 0; i < count; i++ {
		t.missing[s] = struct{}{}
		s++
	}
}

// prune drops seen/missing entries that have fallen more than
// windowSize behind the current head.
func (t *Tracker) prune() {
	for s := range t.seen {
		if t.behind(s) >= t.windowSize {
			delete(t.seen, s)
		}
	}
	for s := range t.missing {
		if t.behind(s) >= t.windowSize {
			delete(t.missing, s)
		}
	}
}

// behind returns how far s sits behind the current head, modularly.
func (t *Tracker) behind(s uint16) int {
	return int(t.head - s)
}

// MissingCount reports the number of sequence numbers currently
// considered skipped forward of the head; exposed for tests and
// diagnostics.
func (t *Tracker) MissingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.missing)
}
