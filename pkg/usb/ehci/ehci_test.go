package ehci

import (
	"context"
	"testing"

	"github.com/ethereal-os/devicecore/pkg/usb"
	"github.com/stretchr/testify/require"
)

func TestResetBringsUpAsyncAndPeriodicSchedules(t *testing.T) {
	sim := &SimBackend{}
	c := NewController(sim, []usb.Speed{usb.SpeedHigh})
	require.NoError(t, c.Reset(context.Background()))

	c.mu.Lock()
	require.True(t, c.qhSlots[c.asyncHeadIdx].Head)
	require.Equal(t, c.asyncHeadIdx, c.qhSlots[c.asyncHeadIdx].Next)
	c.mu.Unlock()
}

func TestEnumerateHighSpeedPortStaysOnEHCI(t *testing.T) {
	sim := &SimBackend{}
	c := NewController(sim, []usb.Speed{usb.SpeedHigh})
	require.NoError(t, c.Reset(context.Background()))

	dev, companion, err := c.EnumeratePort(0)
	require.NoError(t, err)
	require.False(t, companion)
	require.Equal(t, usb.SpeedHigh, dev.Speed)
}

func TestEnumerateFullSpeedPortHandsOffToCompanion(t *testing.T) {
	sim := &SimBackend{}
	c := NewController(sim, []usb.Speed{usb.SpeedFull})
	require.NoError(t, c.Reset(context.Background()))

	_, companion, err := c.EnumeratePort(0)
	require.NoError(t, err)
	require.True(t, companion)
}

func TestControlTransferReadsDeviceDescriptor(t *testing.T) {
	descriptor := make([]byte, 18)
	descriptor[0] = 18
	descriptor[1] = 0x01
	descriptor[7] = 64 // bMaxPacketSize0

	sim := &SimBackend{DeviceDescriptor: descriptor}
	c := NewController(sim, []usb.Speed{usb.SpeedHigh})
	require.NoError(t, c.Reset(context.Background()))

	buf := make([]byte, 8)
	setup := usb.GetDescriptorSetup(usb.DescriptorDevice, 8)
	err := c.ControlTransfer(context.Background(), 0, 0, setup, buf, true)
	require.NoError(t, err)
	require.Equal(t, uint8(18), buf[0])
	require.Equal(t, uint8(64), buf[7])

	c.mu.Lock()
	require.Equal(t, c.asyncHeadIdx, c.qhSlots[c.asyncHeadIdx].Next) // QH unlinked after return
	c.mu.Unlock()
}

// TestAsyncScheduleStaysCircularUnderOverlappingTransfers covers the array-
// based async schedule's core invariant: with two QH slots spliced in at
// once, unlinking the first (non-head) one must leave the second still
// reachable from the anchor, and the list must close back on itself by
// index alone — no slot's Next may dangle after the unlink.
func TestAsyncScheduleStaysCircularUnderOverlappingTransfers(t *testing.T) {
	sim := &SimBackend{}
	c := NewController(sim, []usb.Speed{usb.SpeedHigh})
	require.NoError(t, c.Reset(context.Background()))

	first, err := c.allocateQH()
	require.NoError(t, err)
	c.spliceAsync(first)

	second, err := c.allocateQH()
	require.NoError(t, err)
	c.spliceAsync(second)

	c.unlinkAsync(first)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.False(t, c.qhSlots[first].inUse)
	require.Equal(t, second, c.qhSlots[c.asyncHeadIdx].Next)
	require.Equal(t, c.asyncHeadIdx, c.qhSlots[second].Next)
}
