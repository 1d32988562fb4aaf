package input

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIdentifiesKeyboardAndMouse(t *testing.T) {
	ports := newSimPorts(true, DeviceKeyboardMF2, DeviceMouseWithScroll)
	c, err := Init(ports)
	require.NoError(t, err)
	require.True(t, c.DualChannel())
	require.Equal(t, DeviceKeyboardMF2, c.Port1Kind())
	require.Equal(t, DeviceMouseWithScroll, c.Port2Kind())
}

func TestInitSingleChannelSkipsPort2(t *testing.T) {
	ports := newSimPorts(false, DeviceKeyboardMF2, DeviceNone)
	c, err := Init(ports)
	require.NoError(t, err)
	require.False(t, c.DualChannel())
	require.Equal(t, DeviceKeyboardMF2, c.Port1Kind())
	require.Equal(t, DeviceNone, c.Port2Kind())
}

func TestKeyboardShiftTogglesTable(t *testing.T) {
	var kb Keyboard

	ev := kb.Feed(0x1E) // 'a' make
	require.Equal(t, 'a', ev.Key)
	require.True(t, ev.Pressed)

	kb.Feed(0x2A) // left shift make
	ev = kb.Feed(0x1E)
	require.Equal(t, 'A', ev.Key)

	kb.Feed(0xAA) // left shift break
	ev = kb.Feed(0x1E)
	require.Equal(t, 'a', ev.Key)
}

func TestKeyboardReleaseBitDistinguishesPressFromRelease(t *testing.T) {
	var kb Keyboard
	ev := kb.Feed(0x9E) // 'a' break (0x1E | 0x80)
	require.False(t, ev.Pressed)
	require.Equal(t, 'a', ev.Key)
}

func TestMouseDecodesThreeBytePacket(t *testing.T) {
	m := NewMouse(false)
	_, ok := m.Feed(0x08) // sync bit set, no buttons, no sign
	require.False(t, ok)
	_, ok = m.Feed(10) // dx = 10
	require.False(t, ok)
	ev, ok := m.Feed(5) // dy = 5
	require.True(t, ok)
	require.Equal(t, 10, ev.DX)
	require.Equal(t, 5, ev.DY)
}

func TestMouseSignExtendsNegativeDeltas(t *testing.T) {
	m := NewMouse(false)
	m.Feed(0x08 | 0x10 | 0x20) // sync + X sign + Y sign
	m.Feed(0xF6) // 246 -> -10 after sign extension
	ev, ok := m.Feed(0xFB) // 251 -> -5
	require.True(t, ok)
	require.Equal(t, -10, ev.DX)
	require.Equal(t, -5, ev.DY)
}

// TestMouseSuppressesIdenticalSuccessiveEvents covers:
// "identical successive events (no motion, no scroll, no button change)
// are suppressed."
func TestMouseSuppressesIdenticalSuccessiveEvents(t *testing.T) {
	m := NewMouse(false)
	m.Feed(0x08)
	m.Feed(0)
	_, ok := m.Feed(0)
	require.True(t, ok) // first zero-motion packet is new information

	m.Feed(0x08)
	m.Feed(0)
	_, ok = m.Feed(0)
	require.False(t, ok) // identical to the previous: suppressed
}

func TestMouseFourBytePacketCarriesScroll(t *testing.T) {
	m := NewMouse(true)
	m.Feed(0x08)
	m.Feed(0)
	m.Feed(0)
	ev, ok := m.Feed(0xFF) // -1: scroll up per spec's sign convention
	require.True(t, ok)
	require.EqualValues(t, -1, ev.Scroll)
}

func TestAggregatorPublishesDecodedEvents(t *testing.T) {
	a := NewAggregator(DeviceMouseStandard)

	a.FeedKeyboardByte(0x1E)
	select {
	case ev := <-a.KeyEvents:
		require.Equal(t, 'a', ev.Key)
	default:
		t.Fatal("expected a key event")
	}

	a.FeedMouseByte(0x08)
	a.FeedMouseByte(3)
	a.FeedMouseByte(0)
	select {
	case ev := <-a.MouseEvents:
		require.Equal(t, 3, ev.DX)
	default:
		t.Fatal("expected a mouse event")
	}
}
