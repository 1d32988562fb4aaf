package xhci

import "sync"

// Ring is a fixed-array TRB ring with a tail LINK TRB (toggle-cycle set)
// pointing back at its own base, matching "stamping it with
// the ring's current cycle; when the ring's enqueue index hits the tail
// LINK TRB, stamp the LINK TRB with the current cycle and flip cycle."
// Used for the command ring and every per-endpoint transfer ring.
type Ring struct {
	mu sync.Mutex
	entries []TRB
	enqueue int
	cycle bool
}

// NewRing allocates a ring of the given capacity (including the trailing
// LINK TRB slot), cycle bit initialized to 1 (DCS=1 convention).
func NewRing(capacity int) *Ring {
	r := &Ring{entries: make([]TRB, capacity), cycle: true}
	link := newLinkTRB()
	link.setCycle(true)
	r.entries[capacity-1] = link
	return r
}

func newLinkTRB() TRB {
	t := TRB{}
	t.setType(TRBLink)
	t.Control |= 1 << 1 // toggle-cycle
	return t
}

// Enqueue appends trb at the current producer position, stamping it with
// the ring's current cycle bit, and advances past the LINK TRB (flipping
// cycle) when the tail is reached. Returns the physical slot index used,
// for diagnostics/tests.
func (r *Ring) Enqueue(trb TRB) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	trb.setCycle(r.cycle)
	slot := r.enqueue
	r.entries[slot] = trb
	r.enqueue++

	if r.enqueue == len(r.entries)-1 {
		// Stamp the LINK TRB with the current cycle, then flip and wrap.
		link := r.entries[len(r.entries)-1]
		link.setCycle(r.cycle)
		r.entries[len(r.entries)-1] = link
		r.cycle = !r.cycle
		r.enqueue = 0
	}
	return slot
}

// Snapshot returns a copy of the ring's entries, for tests.
func (r *Ring) Snapshot() []TRB {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TRB, len(r.entries))
	copy(out, r.entries)
	return out
}

// EventRing is the host-side consumer state for the primary event ring:
// fixed TRB array the backend posts into, plus a local dequeue index and
// cycle the poller advances while cycle(event[dequeue]) == local_cycle.
type EventRing struct {
	mu sync.Mutex
	entries []TRB
	write int
	dequeue int
	cycle bool
}

// NewEventRing allocates an event ring of the given fixed length
// (64+ entries).
func NewEventRing(length int) *EventRing {
	return &EventRing{entries: make([]TRB, length), cycle: true}
}

// Post writes one event TRB at the ring's current write position,
// stamping it with the write-side cycle, and wraps/flips at the end.
func (e *EventRing) Post(trb TRB) {
	e.mu.Lock()
	defer e.mu.Unlock()
	trb.setCycle(e.cycle)
	e.entries[e.write] = trb
	e.write++
	if e.write == len(e.entries) {
		e.write = 0
		e.cycle = !e.cycle
	}
}

// Drain invokes fn for every event TRB whose cycle matches the local
// cycle, advancing the dequeue pointer and flipping local cycle on wrap,
// stopping at the first TRB whose cycle doesn't match.
func (e *EventRing) Drain(fn func(TRB)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for {
		trb := e.entries[e.dequeue]
		if trb.cycle() != e.cycle {
			break
		}
		fn(trb)
		e.dequeue++
		if e.dequeue == len(e.entries) {
			e.dequeue = 0
			e.cycle = !e.cycle
		}
		n++
		if n > len(e.entries) {
			break // defensive: never spin more than one full lap
		}
	}
	return n
}
