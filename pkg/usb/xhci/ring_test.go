package xhci

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRingWrapsAndFlipsCycleAtLinkBoundary is property 6: after enqueueing
// exactly TRBs_per_ring-1 entries (filling every slot but the trailing LINK
// TRB), the LINK TRB must carry the cycle bit the ring was producing under,
// and the next Enqueue must land back at index 0 stamped with the flipped
// cycle.
func TestRingWrapsAndFlipsCycleAtLinkBoundary(t *testing.T) {
	const capacity = 4 // 3 real slots + 1 trailing LINK TRB
	r := NewRing(capacity)

	for i := 0; i < capacity-1; i++ {
		trb := TRB{Parameter: uint64(i)}
		slot := r.Enqueue(trb)
		require.Equal(t, i, slot)
	}

	snap := r.Snapshot()
	link := snap[capacity-1]
	require.Equal(t, TRBLink, link.trbType())
	require.True(t, link.cycle(), "LINK TRB must be stamped with the producer cycle in effect when the ring wrapped")

	// The next enqueue must land at slot 0 again, now stamped with the
	// flipped cycle bit.
	next := TRB{Parameter: 0xA5}
	slot := r.Enqueue(next)
	require.Equal(t, 0, slot)

	snap = r.Snapshot()
	require.False(t, snap[0].cycle(), "cycle bit must flip after the ring wraps past its LINK TRB")
}

// TestEventRingDrainStopsAtCycleMismatch is the event-ring half of the same
// property: Drain must stop at the first TRB whose cycle bit doesn't match
// the consumer's local cycle, and must flip+wrap its own cycle exactly at
// the ring's physical end (it has no LINK TRB of its own).
func TestEventRingDrainStopsAtCycleMismatch(t *testing.T) {
	const length = 4
	e := NewEventRing(length)

	for i := 0; i < length-1; i++ {
		e.Post(TRB{Parameter: uint64(i)})
	}

	var drained []uint64
	n := e.Drain(func(trb TRB) { drained = append(drained, trb.Parameter) })
	require.Equal(t, length-1, n)
	require.Equal(t, []uint64{0, 1, 2}, drained)

	// One more Drain call with nothing new posted must stop immediately:
	// the next slot's cycle bit hasn't been written by Post yet, so it
	// still reads as the opposite (zero-value) cycle.
	n = e.Drain(func(TRB) { t.Fatal("must not invoke fn with no new events posted") })
	require.Equal(t, 0, n)

	// Post one more event: it lands in the last physical slot (index 3),
	// and wraps+flips cycle on the slot after it.
	e.Post(TRB{Parameter: 99})
	drained = nil
	n = e.Drain(func(trb TRB) { drained = append(drained, trb.Parameter) })
	require.Equal(t, 1, n)
	require.Equal(t, []uint64{99}, drained)
}
