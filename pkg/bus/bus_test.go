package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanFiltersByClass(t *testing.T) {
	b := NewPCIBus()
	nvme := DeviceID{Bus: 0, Slot: 4, Func: 0, Class: 0x01, Subclass: 0x08, VendorID: 0x8086}
	ehci := DeviceID{Bus: 0, Slot: 5, Func: 0, Class: 0x0C, Subclass: 0x03, ProgIF: 0x20}
	b.AddDevice(nvme, [6]BAR{{Kind: BARMem64, PhysAddr: 0xF0000000, Size: 0x4000}})
	b.AddDevice(ehci, [6]BAR{{Kind: BARMem32, PhysAddr: 0xF1000000, Size: 0x1000}})

	var found []DeviceID
	err := b.Scan(ScanFilter{Class: 0x01}, func(d DeviceID) { found = append(found, d) })
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, nvme, found[0])
}

func TestReadBARUnavailable(t *testing.T) {
	b := NewPCIBus()
	dev := DeviceID{Slot: 1}
	b.AddDevice(dev, [6]BAR{{Kind: BARMem32, PhysAddr: 0x1000, Size: 0x100}})

	_, err := b.ReadBAR(dev, 1)
	require.Error(t, err)
}

func TestMapMMIORoundTrip(t *testing.T) {
	b := NewPCIBus()
	dev := DeviceID{Slot: 2}
	b.AddDevice(dev, [6]BAR{{Kind: BARMem32, PhysAddr: 0x2000, Size: 0x1000}})

	addr, err := b.MapMMIO(0x2000, 0x1000, MMIOUncached)
	require.NoError(t, err)
	require.EqualValues(t, 0x2000, addr)

	window := b.MMIOWindow(0x2000)
	require.Len(t, window, 0x1000)
}

func TestRegisterAndFireIRQ(t *testing.T) {
	b := NewPCIBus()
	fired := false
	err := b.RegisterIRQ(11, IRQPin, func(ctx interface{}) {
			fired = true
			require.Equal(t, "ctx", ctx)
		}, "ctx")
	require.NoError(t, err)
	require.True(t, b.Fire(11))
	require.True(t, fired)
	require.False(t, b.Fire(99))
}
