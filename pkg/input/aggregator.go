package input

// Aggregator publishes decoded keyboard and mouse events from the two PS/2
// ports as structured events, consumed upstream via the VFS
// gateway's /device/keyboard and /device/mouse nodes.
type Aggregator struct {
	keyboard Keyboard
	mouse *Mouse

	KeyEvents chan KeyEvent
	MouseEvents chan MouseEvent
}

// NewAggregator builds an aggregator for a mouse reporting either 3- or
// 4-byte packets, per the device kind the controller handshake observed.
func NewAggregator(mouseKind DeviceKind) *Aggregator {
	fourByte := mouseKind == DeviceMouseWithScroll || mouseKind == DeviceMouseWith5Button
	return &Aggregator{
		mouse: NewMouse(fourByte),
		KeyEvents: make(chan KeyEvent, 16),
		MouseEvents: make(chan MouseEvent, 16),
	}
}

// FeedKeyboardByte decodes one keyboard IRQ byte and publishes the result.
// It never blocks: a full KeyEvents channel drops the event, matching the
// discipline of an interrupt handler that may not block.
func (a *Aggregator) FeedKeyboardByte(b uint8) {
	ev := a.keyboard.Feed(b)
	select {
	case a.KeyEvents <- ev:
	default:
	}
}

// FeedMouseByte decodes one mouse IRQ byte and publishes the result only
// once a full, non-duplicate packet has been assembled.
func (a *Aggregator) FeedMouseByte(b uint8) {
	ev, ok := a.mouse.Feed(b)
	if !ok {
		return
	}
	select {
	case a.MouseEvents <- ev:
	default:
	}
}
