package compositor

import "github.com/ethereal-os/devicecore/pkg/compositor/proto"

const (
	buttonLeft uint8 = 1 << 0
	buttonRight uint8 = 1 << 1
	buttonMiddle uint8 = 1 << 2
)

// HandleMouseUpdate applies one decoded PS/2-style mouse sample (already
// sign-extended and overflow-cleared by pkg/input) to the pointer and
// drag/focus state machines, returning the events synthesized this frame.
// Called at most once per frame, matching the frame algorithm's "read at
// most one mouse update packet" step.
func (c *Compositor) HandleMouseUpdate(dx, dy int, newButtons uint8, scroll int8) []OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []OutboundEvent

	oldX, oldY := c.pointerX, c.pointerY
	c.pointerX = clamp32(c.pointerX+int32(dx*mouseSensitivity), 0, c.ScreenW-cursorW)
	c.pointerY = clamp32(c.pointerY+int32(dy*mouseSensitivity), 0, c.ScreenH-cursorH)
	moved := c.pointerX != oldX || c.pointerY != oldY

	oldButtons := c.buttons
	added := newButtons &^ oldButtons
	removed := oldButtons &^ newButtons
	c.buttons = newButtons

	switch {
	case popcount(added) == 1 && popcount(removed) == 0:
		c.handleButtonDown(added, &out)
	case popcount(removed) == 1 && popcount(added) == 0:
		c.handleButtonUp(removed, &out)
	case added != 0 || removed != 0:
		c.log.Warnf("compositor: more than one mouse button changed in a single frame (added=%#x removed=%#x); ignoring", added, removed)
	}

	if c.dragging != nil {
		c.updateDrag()
	}
	if moved {
		// Crossing/motion detection runs unconditionally, drag or not: a
		// dragged window can still stall against a screen edge clamp while
		// the pointer keeps moving, and the pointer leaving its bounds must
		// still synthesize MOUSE_EXIT so a later button-up targets whatever
		// the pointer is actually over.
		c.handleMotionAndCrossing(oldX, oldY, &out)
	}

	if scroll != 0 {
		target := c.hitTest(c.pointerX, c.pointerY)
		emit(&out, target, proto.TypeMouseScroll, proto.MouseEventPayload{
				WindowID: windowID(target), X: c.pointerX, Y: c.pointerY, Scroll: scroll,
			})
	}

	return out
}

func popcount(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func windowID(w *Window) uint32 {
	if w == nil {
		return 0
	}
	return w.ID
}

// handleButtonDown implements left-press focus promotion and the start
// of a drag: on button-down, the compositor stores the offset
// (window.x - pointer.x, window.y - pointer.y).
func (c *Compositor) handleButtonDown(bit uint8, out *[]OutboundEvent) {
	target := c.hitTest(c.pointerX, c.pointerY)
	emit(out, target, proto.TypeMouseButtonDown, proto.MouseEventPayload{
			WindowID: windowID(target), X: c.pointerX, Y: c.pointerY, Button: bit,
		})

	if bit != buttonLeft || target == nil {
		return
	}

	if target.Layer == LayerDefault && target != c.focused {
		emit(out, c.focused, proto.TypeUnfocused, proto.FocusEventPayload{WindowID: windowID(c.focused)})
		c.focused = target
		c.layers[LayerDefault].pushTail(target)
		emit(out, target, proto.TypeFocused, proto.FocusEventPayload{WindowID: target.ID})
	}

	c.dragging = target
	c.dragOffsetX = target.Bounds.X - c.pointerX
	c.dragOffsetY = target.Bounds.Y - c.pointerY
}

// handleButtonUp clears drag state on left release.
func (c *Compositor) handleButtonUp(bit uint8, out *[]OutboundEvent) {
	target := c.hitTest(c.pointerX, c.pointerY)
	emit(out, target, proto.TypeMouseButtonUp, proto.MouseEventPayload{
			WindowID: windowID(target), X: c.pointerX, Y: c.pointerY, Button: bit,
		})
	if bit == buttonLeft {
		c.dragging = nil
	}
}

// updateDrag repositions the dragged window to pointer+offset, clamped to
// the screen, and queues the union of its old and new rects for redraw.
func (c *Compositor) updateDrag() {
	w := c.dragging
	old := w.Bounds
	newX := clamp32(c.pointerX+c.dragOffsetX, 0, c.ScreenW-w.Bounds.W)
	newY := clamp32(c.pointerY+c.dragOffsetY, 0, c.ScreenH-w.Bounds.H)
	if newX == old.X && newY == old.Y {
		return
	}
	w.Bounds = Rect{X: newX, Y: newY, W: old.W, H: old.H}

	union := old.Union(w.Bounds)
	c.queueRegionUpdateExcluding(union, w.ID)
	c.queueRegionUpdate(w.Bounds)
}

// handleMotionAndCrossing synthesizes MOUSE_MOTION/MOUSE_DRAG and
// ENTER/EXIT pairs on a boundary crossing.
func (c *Compositor) handleMotionAndCrossing(oldX, oldY int32, out *[]OutboundEvent) {
	under := c.hitTest(c.pointerX, c.pointerY)
	if under != c.hovered {
		emit(out, c.hovered, proto.TypeMouseExit, proto.MouseEventPayload{WindowID: windowID(c.hovered), X: oldX, Y: oldY})
		emit(out, under, proto.TypeMouseEnter, proto.MouseEventPayload{WindowID: windowID(under), X: c.pointerX, Y: c.pointerY})
		c.hovered = under
	}

	evType := proto.TypeMouseMotion
	if c.buttons&buttonLeft != 0 {
		evType = proto.TypeMouseDrag
	}
	emit(out, under, evType, proto.MouseEventPayload{
			WindowID: windowID(under), X: c.pointerX, Y: c.pointerY, Button: c.buttons,
		})
}

// HandleKeyByte routes a decoded keyboard event to the focused window
// only.
func (c *Compositor) HandleKeyByte(scancode uint8, key rune, pressed bool) []OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []OutboundEvent
	emit(&out, c.focused, proto.TypeKeyEvent, proto.KeyEventPayload{
			WindowID: windowID(c.focused), Scancode: scancode, Key: uint32(key), Pressed: pressed,
		})
	return out
}
