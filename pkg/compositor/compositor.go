// Package compositor implements Celestial, the single-threaded cooperative
// window compositor of: window lifecycle and z-order, damage
// accumulation, and mouse/keyboard event synthesis. It is modeled after
// pkg/virtualizers drivers, which run their control loop as
// one goroutine polling non-blocking state rather than fanning work out
// across goroutines — the compositor's "world" is a single owned struct
// walked once per frame.
package compositor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethereal-os/devicecore/pkg/compositor/proto"
)

const (
	mouseSensitivity = 3
	cursorW, cursorH = 16, 16
)

// OutboundEvent is a decoded compositor event paired with the window it
// targets and the client that owns it, ready for the server to encode and
// deliver (subject to that window's subscription mask).
type OutboundEvent struct {
	WindowID uint32
	ClientID uuid.UUID
	Type proto.Type
	Payload interface{}
}

// updateEntry is one entry of the per-frame update queue: a window and
// the sub-rectangle of its buffer, in window-local coordinates, that must
// be blended into the framebuffer this frame.
type updateEntry struct {
	Window *Window
	Local Rect
}

// Compositor owns every window, the pointer/focus/drag state machine, and
// the output framebuffer. Exported methods take mu themselves; unexported
// helpers assume the caller already holds it. The compositor is driven by
// one cooperative loop (the server's Tick), never concurrently.
type Compositor struct {
	mu sync.Mutex

	ScreenW, ScreenH int32

	ids idBitmap
	layers [layerCount]zlist
	windowsByID map[uint32]*Window

	focused *Window
	hovered *Window
	pointerX int32
	pointerY int32
	buttons uint8

	dragging *Window
	dragOffsetX int32
	dragOffsetY int32

	damage []Rect
	updateQueue []updateEntry

	framebuffer []byte // 4*ScreenW*ScreenH, BGRA

	log *logrus.Logger
}

// New builds an empty compositor for a screen of the given size.
func New(screenW, screenH int32, log *logrus.Logger) *Compositor {
	if log == nil {
		log = logrus.New()
	}
	return &Compositor{
		ScreenW: screenW,
		ScreenH: screenH,
		windowsByID: make(map[uint32]*Window),
		framebuffer: make([]byte, 4*int(screenW)*int(screenH)),
		log: log,
	}
}

// layerOf maps a CreateWindow request's flags to a z-order layer.
func layerOf(flags uint32) Layer {
	switch {
	case flags&1 != 0:
		return LayerBackground
	case flags&2 != 0:
		return LayerOverlay
	default:
		return LayerDefault
	}
}

// CreateWindow allocates an id and shared pixel buffer for a new window,
// centers its initial geometry, and inserts it at the head of its layer's
// z-list.
func (c *Compositor) CreateWindow(clientID uuid.UUID, flags, width, height uint32) (*Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.ids.alloc()
	if !ok {
		return nil, errNoWindowIDs
	}
	x := (c.ScreenW - int32(width)) / 2
	y := (c.ScreenH - int32(height)) / 2
	w := &Window{
		ID: id,
		Layer: layerOf(flags),
		Bounds: Rect{X: x, Y: y, W: int32(width), H: int32(height)},
		Shm: make([]byte, 4*int(width)*int(height)),
		ShmKey: id, // process-local: the id doubles as the shm handle
		clientID: clientID,
	}
	c.windowsByID[id] = w
	c.layers[w.Layer].pushHead(w)
	c.queueRegionUpdate(w.Bounds)
	return w, nil
}

// DestroyWindow unlinks a window from its z-list, frees its shared memory
// and id bit, and reports whether a close event should be broadcast.
func (c *Compositor) DestroyWindow(id uint32) (*Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windowsByID[id]
	if !ok {
		return nil, false
	}
	c.layers[w.Layer].remove(id)
	delete(c.windowsByID, id)
	c.ids.free(id)
	if c.focused == w {
		c.focused = nil
	}
	if c.hovered == w {
		c.hovered = nil
	}
	if c.dragging == w {
		c.dragging = nil
	}
	c.queueRegionUpdate(w.Bounds)
	return w, true
}

// Subscribe installs w's event subscription bitmask.
func (c *Compositor) Subscribe(id uint32, events uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windowsByID[id]
	if !ok {
		return false
	}
	w.Subscriptions = events
	return true
}

// deliverable reports whether w has subscribed to event kind t.
func deliverable(w *Window, t proto.Type) bool {
	bit, ok := subscriptionBit(t)
	if !ok {
		return true // events with no subscription bit (e.g. Closed) always deliver
	}
	return w.Subscriptions&bit != 0
}

func subscriptionBit(t proto.Type) (uint32, bool) {
	switch t {
	case proto.TypeMouseEnter:
		return proto.EventMouseEnter, true
	case proto.TypeMouseMotion:
		return proto.EventMouseMotion, true
	case proto.TypeMouseButtonDown:
		return proto.EventMouseButtonDown, true
	case proto.TypeMouseButtonUp:
		return proto.EventMouseButtonUp, true
	case proto.TypeMouseDrag:
		return proto.EventMouseDrag, true
	case proto.TypeMouseExit:
		return proto.EventMouseExit, true
	case proto.TypeMouseScroll:
		return proto.EventMouseScroll, true
	case proto.TypeFocused:
		return proto.EventFocused, true
	case proto.TypeUnfocused:
		return proto.EventUnfocused, true
	case proto.TypeKeyEvent:
		return proto.EventKeyEvent, true
	default:
		return 0, false
	}
}

// emit appends ev to out if w has subscribed to it.
func emit(out *[]OutboundEvent, w *Window, t proto.Type, payload interface{}) {
	if w == nil || !deliverable(w, t) {
		return
	}
	*out = append(*out, OutboundEvent{WindowID: w.ID, ClientID: w.clientID, Type: t, Payload: payload})
}

// hitTest returns the topmost window under (x, y), checking overlay, then
// default, then background, matching visual stacking order.
func (c *Compositor) hitTest(x, y int32) *Window {
	for _, l := range []Layer{LayerOverlay, LayerDefault, LayerBackground} {
		if w := c.layers[l].topmostAt(x, y); w != nil {
			return w
		}
	}
	return nil
}

// ResetFrame clears the per-frame clip/update state.
func (c *Compositor) ResetFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.damage = nil
	c.updateQueue = nil
}

// Window returns window id's current state, for GET_WINDOW_INFO replies.
func (c *Compositor) Window(id uint32) (*Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windowsByID[id]
	return w, ok
}

// BeginDrag starts a client-requested drag on window id, capturing the pointer offset exactly as an
// implicit button-down drag would.
func (c *Compositor) BeginDrag(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windowsByID[id]
	if !ok {
		return false
	}
	c.dragging = w
	c.dragOffsetX = w.Bounds.X - c.pointerX
	c.dragOffsetY = w.Bounds.Y - c.pointerY
	return true
}

// EndDrag stops dragging window id if it is the one currently dragging.
func (c *Compositor) EndDrag(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging != nil && c.dragging.ID == id {
		c.dragging = nil
	}
}

// Damage returns the clip rectangles accumulated so far this frame.
func (c *Compositor) Damage() []Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Rect, len(c.damage))
	copy(out, c.damage)
	return out
}
