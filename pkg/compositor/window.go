package compositor

import "github.com/google/uuid"

// Layer is the z-order list a window lives in.
type Layer int

const (
	LayerBackground Layer = iota
	LayerDefault
	LayerOverlay
	layerCount
)

// Window is one compositor-owned surface: geometry, the client's shared
// pixel buffer, its layer/subscription state, and the client that created
// it (events are written back down that client's connection).
type Window struct {
	ID uint32
	Layer Layer
	Bounds Rect

	// Shm is the backing pixel buffer, sized 4*Width*Height (32bpp), per
	// In this process-local compositor it's a plain slice
	// standing in for the shared-memory region a real client would map;
	// ShmKey is the value reported to clients over the wire.
	Shm []byte
	ShmKey uint32

	Subscriptions uint32
	clientID uuid.UUID
}

// idBitmap allocates 32-bit window ids from a fixed bitmap, matching
// "allocate an id from a bitmap (32-bit-indexed)".
type idBitmap struct {
	bits [8]uint32 // 8*32 = 256 ids
}

func (b *idBitmap) alloc() (uint32, bool) {
	for word := range b.bits {
		if b.bits[word] == 0xFFFFFFFF {
			continue
		}
		for bit := uint32(0); bit < 32; bit++ {
			if b.bits[word]&(1<<bit) == 0 {
				b.bits[word] |= 1 << bit
				return uint32(word)*32 + bit, true
			}
		}
	}
	return 0, false
}

func (b *idBitmap) free(id uint32) {
	word, bit := id/32, id%32
	if int(word) < len(b.bits) {
		b.bits[word] &^= 1 << bit
	}
}

// zlist is the doubly-traversable insertion-ordered window list for one
// layer. New windows go to the head ; focus promotion moves a window to the tail.
type zlist struct {
	windows []*Window
}

func (z *zlist) pushHead(w *Window) {
	z.windows = append([]*Window{w}, z.windows...)
}

func (z *zlist) pushTail(w *Window) {
	z.remove(w.ID)
	z.windows = append(z.windows, w)
}

func (z *zlist) remove(id uint32) {
	for i, w := range z.windows {
		if w.ID == id {
			z.windows = append(z.windows[:i], z.windows[i+1:]...)
			return
		}
	}
}

// topmostAt returns the first (topmost-drawn-last, so iterate in reverse)
// window in the list whose bounds contain (x, y).
func (z *zlist) topmostAt(x, y int32) *Window {
	for i := len(z.windows) - 1; i >= 0; i-- {
		if z.windows[i].Bounds.Contains(x, y) {
			return z.windows[i]
		}
	}
	return nil
}
