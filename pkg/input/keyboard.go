package input

// scancodeUnshifted and scancodeShifted are the scancode-set-1 translation
// tables, indexed by the lower 7 bits of a make/break byte.
// A zero entry marks a scancode with no printable ASCII mapping (function
// keys, arrows, and similar are left for a richer keymap layer above this
// package).
var scancodeUnshifted = [128]rune{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0A: '9', 0x0B: '0',
	0x0C: '-', 0x0D: '=',
	0x0F: '\t',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1A: '[', 0x1B: ']', 0x1C: '\n',
	0x1E: 'a', 0x1F: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x27: ';', 0x28: '\'', 0x29: '`',
	0x2B: '\\',
	0x2C: 'z', 0x2D: 'x', 0x2E: 'c', 0x2F: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm',
	0x33: ',', 0x34: '.', 0x35: '/',
	0x37: '*',
	0x39: ' ',
}

var scancodeShifted = [128]rune{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0A: '(', 0x0B: ')',
	0x0C: '_', 0x0D: '+',
	0x0F: '\t',
	0x10: 'Q', 0x11: 'W', 0x12: 'E', 0x13: 'R', 0x14: 'T',
	0x15: 'Y', 0x16: 'U', 0x17: 'I', 0x18: 'O', 0x19: 'P',
	0x1A: '{', 0x1B: '}', 0x1C: '\n',
	0x1E: 'A', 0x1F: 'S', 0x20: 'D', 0x21: 'F', 0x22: 'G',
	0x23: 'H', 0x24: 'J', 0x25: 'K', 0x26: 'L',
	0x27: ':', 0x28: '"', 0x29: '~',
	0x2B: '|',
	0x2C: 'Z', 0x2D: 'X', 0x2E: 'C', 0x2F: 'V', 0x30: 'B',
	0x31: 'N', 0x32: 'M',
	0x33: '<', 0x34: '>', 0x35: '?',
	0x37: '*',
	0x39: ' ',
}

const (
	scancodeLeftShiftMake = 0x2A
	scancodeRightShiftMake = 0x36
	scancodeLeftShiftBreak = 0xAA
	scancodeRightShiftBreak = 0xB6
)

// KeyEvent is a decoded keyboard event.
type KeyEvent struct {
	Scancode uint8
	Key rune
	Pressed bool
}

// Keyboard decodes scancode-set-1 bytes one at a time, tracking sticky
// shift state across make/break pairs.
type Keyboard struct {
	shift bool
}

// Feed consumes one raw byte from the data port. Bit 7 distinguishes
// release (1) from press (0); the lower 7 bits index the translation
// table selected by the current shift state.
func (k *Keyboard) Feed(b uint8) KeyEvent {
	pressed := b&0x80 == 0
	code := b & 0x7F

	switch b {
	case scancodeLeftShiftMake, scancodeRightShiftMake:
		k.shift = true
	case scancodeLeftShiftBreak, scancodeRightShiftBreak:
		k.shift = false
	}

	table := &scancodeUnshifted
	if k.shift {
		table = &scancodeShifted
	}
	return KeyEvent{Scancode: b, Key: table[code], Pressed: pressed}
}
