package compositor

// queueRegionUpdate implements the "region update helper" of this package
// Given a screen-space rect, find every window whose bounds
// intersect it (background layer first, then default, then overlay), compute the
// intersection in window-local coordinates, and push it to the update
// queue. It also records the rect as frame damage.
func (c *Compositor) queueRegionUpdate(rect Rect) {
	c.queueRegionUpdateExcluding(rect, 0)
}

// queueRegionUpdateExcluding is queueRegionUpdate but skips the named
// window id, used while dragging to avoid the moved window's own old
// position repainting itself as ghosting.
func (c *Compositor) queueRegionUpdateExcluding(rect Rect, excludeID uint32) {
	if rect.Empty() {
		return
	}
	c.damage = append(c.damage, rect)
	for _, l := range []Layer{LayerBackground, LayerDefault, LayerOverlay} {
		for _, w := range c.layers[l].windows {
			if w.ID == excludeID {
				continue
			}
			sub := rect.Intersect(w.Bounds)
			if sub.Empty() {
				continue
			}
			local := sub.Translate(-w.Bounds.X, -w.Bounds.Y)
			c.updateQueue = append(c.updateQueue, updateEntry{Window: w, Local: local})
		}
	}
}

// Present drains the update queue, alpha-blending each window's shared
// buffer region into the framebuffer under its clip rect, then overdraws
// the mouse sprite and returns the final frame.
func (c *Compositor) Present() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range c.updateQueue {
		c.blend(u)
	}
	c.updateQueue = nil
	c.drawCursor()

	out := make([]byte, len(c.framebuffer))
	copy(out, c.framebuffer)
	return out
}

// blend alpha-composites one update-queue entry's window-local rect from
// the window's shared buffer into the framebuffer at its screen position.
// Per, a torn read of a mid-write shm region is an accepted
// eventual-consistency cost, not a correctness bug.
func (c *Compositor) blend(u updateEntry) {
	w := u.Window
	for row := int32(0); row < u.Local.H; row++ {
		srcY := u.Local.Y + row
		dstY := w.Bounds.Y + srcY
		if dstY < 0 || dstY >= c.ScreenH {
			continue
		}
		for col := int32(0); col < u.Local.W; col++ {
			srcX := u.Local.X + col
			dstX := w.Bounds.X + srcX
			if dstX < 0 || dstX >= c.ScreenW {
				continue
			}
			srcOff := 4 * (srcY*w.Bounds.W + srcX)
			dstOff := 4 * (dstY*c.ScreenW + dstX)
			if int(srcOff)+4 > len(w.Shm) || int(dstOff)+4 > len(c.framebuffer) {
				continue
			}
			alphaBlendPixel(c.framebuffer[dstOff:dstOff+4], w.Shm[srcOff:srcOff+4])
		}
	}
}

// alphaBlendPixel blends src (B,G,R,A) over dst in place using src's
// alpha channel.
func alphaBlendPixel(dst, src []byte) {
	a := uint32(src[3])
	if a == 0xFF {
		copy(dst, src[:4])
		return
	}
	for i := 0; i < 3; i++ {
		dst[i] = byte((uint32(src[i])*a + uint32(dst[i])*(255-a)) / 255)
	}
	dst[3] = 0xFF
}

// drawCursor overdraws a solid cursorW x cursorH sprite at the pointer
// position (step 6 of the frame algorithm). A real cursor sprite has
// transparency around its hotspot; this one is opaque, matching the
// minimal arrow glyph; fine pixel-level cursor art is out of scope here.
func (c *Compositor) drawCursor() {
	for row := int32(0); row < cursorH; row++ {
		y := c.pointerY + row
		if y < 0 || y >= c.ScreenH {
			continue
		}
		for col := int32(0); col < cursorW; col++ {
			x := c.pointerX + col
			if x < 0 || x >= c.ScreenW {
				continue
			}
			off := 4 * (y*c.ScreenW + x)
			c.framebuffer[off+0] = 0xFF
			c.framebuffer[off+1] = 0xFF
			c.framebuffer[off+2] = 0xFF
			c.framebuffer[off+3] = 0xFF
		}
	}
}
