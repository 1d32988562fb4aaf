package compositor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ethereal-os/devicecore/pkg/compositor/proto"
)

func fillOpaque(shm []byte, r, g, b byte) {
	for i := 0; i+3 < len(shm); i += 4 {
		shm[i+0] = b
		shm[i+1] = g
		shm[i+2] = r
		shm[i+3] = 0xFF
	}
}

// TestCreateWindowCentersAndInsertsAtHead covers window centering and
// head-insertion at creation time.
func TestCreateWindowCentersAndInsertsAtHead(t *testing.T) {
	c := New(640, 480, nil)
	w, err := c.CreateWindow(uuid.New(), 0, 200, 100)
	require.NoError(t, err)
	require.Equal(t, int32(220), w.Bounds.X)
	require.Equal(t, int32(190), w.Bounds.Y)
	require.Equal(t, LayerDefault, w.Layer)
	require.Len(t, c.layers[LayerDefault].windows, 1)
}

// TestDestroyWindowFreesIDForReuse covers the id-bitmap free/reuse path.
func TestDestroyWindowFreesIDForReuse(t *testing.T) {
	c := New(640, 480, nil)
	w1, _ := c.CreateWindow(uuid.New(), 0, 50, 50)
	_, ok := c.DestroyWindow(w1.ID)
	require.True(t, ok)

	w2, err := c.CreateWindow(uuid.New(), 0, 50, 50)
	require.NoError(t, err)
	require.Equal(t, w1.ID, w2.ID)
}

// TestDragProducesScenarioS6Position implements S6: a window
// at (100,100) 200x200, left-down at (150,150), move to (300,300)
// produces a window at (250,250).
func TestDragProducesScenarioS6Position(t *testing.T) {
	c := New(800, 600, nil)
	w, err := c.CreateWindow(uuid.New(), 0, 200, 200)
	require.NoError(t, err)
	w.Bounds = Rect{X: 100, Y: 100, W: 200, H: 200}
	c.pointerX, c.pointerY = 150, 150

	c.HandleMouseUpdate(0, 0, buttonLeft, 0) // button-down at (150,150)
	require.NotNil(t, c.dragging)
	require.Equal(t, w.ID, c.dragging.ID)

	// Move the pointer from (150,150) to (300,300) in sensitivity-scaled
	// steps: dx=dy=50 raw maps to 150 screen pixels per mouseSensitivity.
	c.HandleMouseUpdate(50, 50, buttonLeft, 0)

	require.Equal(t, int32(250), w.Bounds.X)
	require.Equal(t, int32(250), w.Bounds.Y)
}

// TestClampedDragStillRoutesCrossingAndButtonUp covers Testable Property 8
// under a clamped drag: crossing/motion detection must keep running every
// frame a drag is in progress, not just when idle. A window dragged toward
// a screen edge can stall against its clamp while the pointer keeps moving
// underneath a second (stationary, higher-stacked) window; the dragged
// window must still receive MOUSE_EXIT the moment the pointer is no longer
// over it, and the eventual MOUSE_BUTTON_UP must target whichever window the
// pointer actually ends up over, never a window that never got its exit.
func TestClampedDragStillRoutesCrossingAndButtonUp(t *testing.T) {
	c := New(800, 600, nil)

	// B sits in the overlay layer (always checked first by hitTest,
	// regardless of focus-driven z shuffling in LayerDefault) near the
	// right edge, and never moves.
	b, _ := c.CreateWindow(uuid.New(), 2, 40, 40)
	b.Bounds = Rect{X: 760, Y: 100, W: 40, H: 40}
	b.Subscriptions = proto.EventMouseEnter | proto.EventMouseDrag | proto.EventMouseButtonUp

	a, _ := c.CreateWindow(uuid.New(), 0, 300, 300)
	a.Bounds = Rect{X: 400, Y: 100, W: 300, H: 300}
	a.Subscriptions = proto.EventMouseButtonDown | proto.EventMouseExit

	// Move onto A from outside first, so hovered==A before the drag
	// starts (mirroring how a real click is always preceded by motion).
	c.pointerX, c.pointerY = 0, 0
	c.HandleMouseUpdate(140, 50, 0, 0) // -> (420, 150), inside A only

	down := c.HandleMouseUpdate(0, 0, buttonLeft, 0)
	requireHasEvent(t, down, proto.TypeMouseButtonDown, a.ID)
	require.Equal(t, a, c.dragging)

	// Drag far enough right that A's clamp stalls it (its right edge
	// pinned to the screen edge) while the pointer keeps moving into B's
	// fixed region.
	drag := c.HandleMouseUpdate(120, -10, buttonLeft, 0) // -> (780, 120)
	require.Equal(t, int32(500), a.Bounds.X, "A must be clamped to the screen's right edge")
	requireHasEvent(t, drag, proto.TypeMouseExit, a.ID)
	requireHasEvent(t, drag, proto.TypeMouseEnter, b.ID)
	requireHasEvent(t, drag, proto.TypeMouseDrag, b.ID)

	up := c.HandleMouseUpdate(0, 0, 0, 0)
	requireHasEvent(t, up, proto.TypeMouseButtonUp, b.ID)
	for _, ev := range up {
		require.NotEqual(t, a.ID, ev.WindowID, "A already received its exit; button-up must not also target it")
	}
}

// TestDamageQueueCoversMovedWindowUnion covers Testable Property 7: the
// union of regions marked for redraw on a frame covers every pixel whose
// color differs from the previous frame.
func TestDamageQueueCoversMovedWindowUnion(t *testing.T) {
	c := New(800, 600, nil)
	w, _ := c.CreateWindow(uuid.New(), 0, 200, 200)
	w.Bounds = Rect{X: 100, Y: 100, W: 200, H: 200}
	fillOpaque(w.Shm, 255, 0, 0)
	c.ResetFrame()

	old := w.Bounds
	newBounds := Rect{X: 250, Y: 250, W: 200, H: 200}
	w.Bounds = newBounds
	c.queueRegionUpdateExcluding(old.Union(newBounds), w.ID)
	c.queueRegionUpdate(newBounds)

	union := old.Union(newBounds)
	covered := Rect{}
	for _, d := range c.damage {
		covered = covered.Union(d)
	}
	require.Equal(t, union, covered)
}

// TestButtonDownOverDefaultWindowFocuses covers the focus-promotion half
// of mouse routing paragraph.
func TestButtonDownOverDefaultWindowFocuses(t *testing.T) {
	c := New(800, 600, nil)
	w, _ := c.CreateWindow(uuid.New(), 0, 200, 200)
	w.Subscriptions = proto.EventFocused
	c.pointerX, c.pointerY = w.Bounds.X+10, w.Bounds.Y+10

	events := c.HandleMouseUpdate(0, 0, buttonLeft, 0)
	require.Equal(t, w, c.focused)

	var sawFocused bool
	for _, ev := range events {
		if ev.Type == proto.TypeFocused && ev.WindowID == w.ID {
			sawFocused = true
		}
	}
	require.True(t, sawFocused)
}

// TestMouseButtonDownUpInvariant covers Testable Property 8: every
// MOUSE_BUTTON_DOWN delivered to a window is eventually followed by a
// matching MOUSE_BUTTON_UP (in this sequence, with no exit in between).
func TestMouseButtonDownUpInvariant(t *testing.T) {
	c := New(800, 600, nil)
	w, _ := c.CreateWindow(uuid.New(), 0, 200, 200)
	w.Subscriptions = proto.EventMouseButtonDown | proto.EventMouseButtonUp
	c.pointerX, c.pointerY = w.Bounds.X+10, w.Bounds.Y+10

	down := c.HandleMouseUpdate(0, 0, buttonLeft, 0)
	up := c.HandleMouseUpdate(0, 0, 0, 0)

	requireHasEvent(t, down, proto.TypeMouseButtonDown, w.ID)
	requireHasEvent(t, up, proto.TypeMouseButtonUp, w.ID)
}

// TestTwoSimultaneousButtonChangesAreRejected covers the "two changes in
// one frame are rejected with a warning" rule.
func TestTwoSimultaneousButtonChangesAreRejected(t *testing.T) {
	c := New(800, 600, nil)
	events := c.HandleMouseUpdate(0, 0, buttonLeft|buttonRight, 0)
	for _, ev := range events {
		require.NotEqual(t, proto.TypeMouseButtonDown, ev.Type)
	}
}

func requireHasEvent(t *testing.T, events []OutboundEvent, typ proto.Type, wid uint32) {
	t.Helper()
	for _, ev := range events {
		if ev.Type == typ && ev.WindowID == wid {
			return
		}
	}
	t.Fatalf("expected event %v for window %d, got %+v", typ, wid, events)
}
