package seqtrack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstObservationIsNormal(t *testing.T) {
	tr := New(DefaultWindowSize)
	class, gap := tr.Classify(100)
	require.Equal(t, Normal, class)
	require.False(t, gap)
	head, ok := tr.Head()
	require.True(t, ok)
	require.EqualValues(t, 100, head)
}

func TestForwardByOneNeverGaps(t *testing.T) {
	tr := New(DefaultWindowSize)
	tr.Classify(1)
	class, gap := tr.Classify(2)
	require.Equal(t, Normal, class)
	require.False(t, gap) // P6(a)
}

func TestDistanceZeroIsDuplicate(t *testing.T) {
	tr := New(DefaultWindowSize)
	tr.Classify(10)
	class, _ := tr.Classify(10)
	require.Equal(t, Duplicate, class) // P6(c)
}

func TestForwardJumpMarksGapAndDelayedFill(t *testing.T) {
	// S3: sequences 10, 11, 12; 11 lost then arrives late.
	tr := New(DefaultWindowSize)
	tr.Classify(10)
	class12, gap12 := tr.Classify(12)
	require.Equal(t, Normal, class12)
	require.True(t, gap12)
	require.Equal(t, 1, tr.MissingCount())

	class11, _ := tr.Classify(11)
	require.Equal(t, Delayed, class11)
	require.Equal(t, 0, tr.MissingCount())
}

func TestDuplicateReplayDoesNotMoveHead(t *testing.T) {
	tr := New(DefaultWindowSize)
	tr.Classify(10)
	tr.Classify(11)
	head, _ := tr.Head()
	require.EqualValues(t, 11, head)

	class, _ := tr.Classify(10) // replay of an older, already-seen sequence
	require.Equal(t, Duplicate, class)
	headAfter, _ := tr.Head()
	require.Equal(t, head, headAfter) // L2: duplicate never alters head
}

func TestBackwardAtWindowBoundary(t *testing.T) {
	// B3: backward distance exactly window_size is OUT_OF_WINDOW; window_size-1 may be DELAYED.
	tr := New(512)
	tr.Classify(1000)
	tr.Classify(1000 - 512) // exactly 512 behind head -> out of window
	class, _ := tr.Classify(uint16(1000 - 512))
	require.Equal(t, OutOfWindow, class)
}

func TestBackwardOneLessThanWindowCanBeDelayed(t *testing.T) {
	tr := New(512)
	// create a huge forward jump so everything behind is marked missing,
	// then fill the slot exactly 511 behind the new head.
	tr.Classify(0)
	tr.Classify(600) // gap covers 1..599, capped to the most recent 512
	late := uint16(600 - 511)
	class, _ := tr.Classify(late)
	require.Equal(t, Delayed, class)
}

func TestSequenceRollover(t *testing.T) {
	// S4: head=65534 then 65535, 0, 1 in order, all NORMAL, no gap.
	tr := New(DefaultWindowSize)
	tr.Classify(65534)
	for _, seq := range []uint16{65535, 0, 1} {
		class, gap := tr.Classify(seq)
		require.Equal(t, Normal, class)
		require.False(t, gap)
	}
	head, _ := tr.Head()
	require.EqualValues(t, 1, head)
}

func TestDistanceExactlyHalfSpaceIsForward(t *testing.T) {
	tr := New(DefaultWindowSize)
	tr.Classify(0)
	class, _ := tr.Classify(1 << 15)
	require.Equal(t, Normal, class)
}

func TestMissingSetBoundedByWindowSize(t *testing.T) {
	tr := New(64)
	tr.Classify(0)
	tr.Classify(10_000) // far larger jump than the window
	require.LessOrEqual(t, tr.MissingCount(), 64)
}

func TestTotalCounters(t *testing.T) {
	tr := New(4)
	tr.Classify(100)
	tr.Classify(90) // backward, more than window behind -> out of window
	received, dropped := tr.Stats()
	require.EqualValues(t, 2, received)
	require.EqualValues(t, 1, dropped)
}
