// Package ata implements the two-channel ATA PIO engine of:
// device detection (ATA vs ATAPI vs absent) via IDENTIFY, and 28-/48-bit LBA
// PIO transfers. It is grounded on binary-struct-over-
// encoding/binary style (pkg/ext, pkg/vdecompiler) applied to live register
// I/O instead of a flat disk image.
package ata

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/bus"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

// Kind classifies what channel detection found in a device slot.
type Kind int

const (
	KindAbsent Kind = iota
	KindATA
	KindATAPI
)

// Channel models one of the two legacy ATA channels (primary/secondary),
// each with a master and slave slot. A single channel-wide mutex serializes
// all I/O; the IRQ handler only counts deliveries, since this transport is
// PIO-polling only.
type Channel struct {
	mu sync.Mutex
	ports Ports
	devices [2]*Device

	bus bus.Bus
	busDev bus.DeviceID
	irq int
	irqCount int
}

// AttachBus records the PCI identity and legacy IRQ line Detect should
// confirm through b before touching the ports. Channels that never call
// AttachBus skip bus verification entirely, matching an ISA-routed
// controller that predates PCI enumeration.
func (c *Channel) AttachBus(b bus.Bus, dev bus.DeviceID, irq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = b
	c.busDev = dev
	c.irq = irq
}

// onInterrupt is the channel's IRQ handler: it only tallies delivery counts
// for diagnostics, since this transport is PIO-polling only and never
// drives real work from the interrupt line itself.
func (c *Channel) onInterrupt(ctx interface{}) {
	c.mu.Lock()
	c.irqCount++
	c.mu.Unlock()
}

// IRQCount reports how many times the registered IRQ handler has fired, for
// diagnostics and tests.
func (c *Channel) IRQCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqCount
}

// verifyBus confirms the attached bus still enumerates busDev, reads its
// first BAR, and (re)registers the IRQ handler. A Channel with no attached
// bus skips straight through.
func (c *Channel) verifyBus() error {
	c.mu.Lock()
	b, dev, irq := c.bus, c.busDev, c.irq
	c.mu.Unlock()
	if b == nil {
		return nil
	}

	found := false
	if err := b.Scan(bus.ScanFilter{Class: dev.Class, Subclass: dev.Subclass}, func(d bus.DeviceID) {
			if d == dev {
				found = true
			}
		}); err != nil {
		return err
	}
	if !found {
		return ioerr.ENOTSUP
	}

	if _, err := b.ReadBAR(dev, 0); err != nil {
		return err
	}

	return b.RegisterIRQ(irq, bus.IRQPin, c.onInterrupt, nil)
}

// Device is one detected ATA/ATAPI device on a channel.
type Device struct {
	channel *Channel
	slave bool
	kind Kind
	identity block.Identity
	geometry block.Geometry
	lba48 bool
}

// NewChannel wraps ports (a real or simulated I/O-port backend). It does not
// probe the device slots; Detect does.
func NewChannel(ports Ports) *Channel {
	return &Channel{ports: ports}
}

func (c *Channel) selectDevice(slave bool) {
	sel := DevSelBase
	if slave {
		sel |= DevSelSlave
	}
	c.ports.Out8(RegHDDevSel, uint8(sel))
}

func (c *Channel) waitWhileBusy(deadline time.Time) error {
	for {
		status := c.ports.In8(RegStatus)
		if status&StatusBSY == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ioerr.ETIMEDOUT
		}
	}
}

func (c *Channel) waitDRQOrErr(deadline time.Time) (drq bool, err error) {
	for {
		status := c.ports.In8(RegStatus)
		if status&StatusBSY == 0 {
			if status&StatusERR != 0 {
				return false, ioerr.EIO
			}
			if status&StatusDRQ != 0 {
				return true, nil
			}
			return false, nil
		}
		if time.Now().After(deadline) {
			return false, ioerr.ETIMEDOUT
		}
	}
}

// Detect performs the three-step detection sequence of for
// both the master and slave slots, populating c.devices for whichever are
// present.
func (c *Channel) Detect() error {
	if err := c.verifyBus(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for slot := 0; slot < 2; slot++ {
		slave := slot == 1
		dev, err := c.detectSlot(slave)
		if err != nil {
			return err
		}
		c.devices[slot] = dev
	}
	return nil
}

func (c *Channel) detectSlot(slave bool) (*Device, error) {
	deadline := time.Now().Add(2 * time.Second)
	c.selectDevice(slave)
	if err := c.waitWhileBusy(deadline); err != nil {
		return nil, nil // no device responding; treated as absent
	}

	cmd := uint8(CmdIdentify)
	c.ports.Out8(RegSecCount0, 0)
	c.ports.Out8(RegLBA0, 0)
	c.ports.Out8(RegLBA1, 0)
	c.ports.Out8(RegLBA2, 0)
	c.ports.Out8(RegCommand, cmd)

	if c.ports.In8(RegStatus) == 0 {
		return nil, nil // absent
	}

	if err := c.waitWhileBusy(deadline); err != nil {
		return nil, err
	}

	lba1 := c.ports.In8(RegLBA1)
	lba2 := c.ports.In8(RegLBA2)

	status := c.ports.In8(RegStatus)
	kind := KindATA
	if status&StatusERR != 0 {
		switch {
		case lba1 == 0x14 && lba2 == 0xEB:
			kind = KindATAPI
		case lba1 == 0x69 && lba2 == 0x96:
			kind = KindATAPI
		default:
			return nil, nil
		}
		// re-issue IDENTIFY PACKET for an ATAPI device.
		c.ports.Out8(RegCommand, CmdIdentifyPacket)
		if err := c.waitWhileBusy(deadline); err != nil {
			return nil, err
		}
	} else {
		switch {
		case lba1 == 0x00 && lba2 == 0x00:
			kind = KindATA
		case lba1 == 0x3C && lba2 == 0xC3:
			kind = KindATA
		case lba1 == 0xFF && lba2 == 0xFF:
			return nil, nil
		}
	}

	drq, err := c.waitDRQOrErr(deadline)
	if err != nil {
		return nil, err
	}
	if !drq {
		return nil, nil
	}

	words := make([]uint16, 256)
	for i := range words {
		words[i] = c.ports.In16(RegData)
	}

	dev := &Device{
		channel: c,
		slave: slave,
		kind: kind,
	}
	dev.parseIdentify(words)
	return dev, nil
}

// parseIdentify decodes the 256-word IDENTIFY buffer into Identity and
// Geometry, byte-swapping the ASCII fields since the hardware delivers
// each word little-endian but the two ASCII bytes within it big-endian.
func (d *Device) parseIdentify(words []uint16) {
	d.identity.Model = swappedASCII(words[27:47])
	d.identity.Serial = swappedASCII(words[10:20])
	d.identity.Revision = swappedASCII(words[23:27])
	d.identity.Vendor = "ATA"

	d.geometry.SectorSize = 512

	commandSets := words[83]
	lba48Supported := commandSets&(1<<10) != 0
	d.lba48 = lba48Supported

	lba28 := uint64(words[60]) | uint64(words[61])<<16
	if lba48Supported {
		var lba48 uint64
		for i := 0; i < 4; i++ {
			lba48 |= uint64(words[100+i]) << (16 * i)
		}
		d.geometry.SectorCount = lba48
	} else {
		d.geometry.SectorCount = lba28
	}
}

func swappedASCII(words []uint16) string {
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(buf[i*2:], w)
	}
	return strings.TrimSpace(string(buf))
}

// Master returns the detected master device, or nil if absent.
func (c *Channel) Master() *Device { return c.devices[0] }

// Slave returns the detected slave device, or nil if absent.
func (c *Channel) Slave() *Device { return c.devices[1] }

// Kind reports whether this device was detected as ATA, ATAPI, or absent.
func (d *Device) Kind() Kind { return d.kind }

// Identity implements block.Device.
func (d *Device) Identity() block.Identity { return d.identity }

// Geometry implements block.Device.
func (d *Device) Geometry() block.Geometry { return d.geometry }

func (d *Device) use48Bit(lba uint64) bool {
	return lba >= (1<<28) && d.lba48
}

func (c *Channel) programLBA(d *Device, lba uint64, count uint32) {
	sel := DevSelBase | DevSelLBA
	if d.slave {
		sel |= DevSelSlave
	}

	if d.use48Bit(lba) {
		c.ports.Out8(RegHDDevSel, uint8(sel|0x40))
		c.ports.Out8(RegSecCount0, uint8(count>>8))
		c.ports.Out8(RegLBA0, uint8(lba>>24))
		c.ports.Out8(RegLBA1, uint8(lba>>32))
		c.ports.Out8(RegLBA2, uint8(lba>>40))
		c.ports.Out8(RegSecCount0, uint8(count))
		c.ports.Out8(RegLBA0, uint8(lba))
		c.ports.Out8(RegLBA1, uint8(lba>>8))
		c.ports.Out8(RegLBA2, uint8(lba>>16))
	} else {
		sel |= uint8(lba>>24) & 0x0F
		c.ports.Out8(RegHDDevSel, sel)
		c.ports.Out8(RegSecCount0, uint8(count))
		c.ports.Out8(RegLBA0, uint8(lba))
		c.ports.Out8(RegLBA1, uint8(lba>>8))
		c.ports.Out8(RegLBA2, uint8(lba>>16))
	}
}

// ReadSectors implements block.Device for an ATA (non-ATAPI) device.
func (d *Device) ReadSectors(lba uint64, count uint32, buf []byte) (int, error) {
	if err := block.ValidateTransfer(d.geometry, count, buf); err != nil {
		return 0, err
	}
	if d.kind != KindATA {
		return 0, ioerr.ENOTSUP
	}

	c := d.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if err := c.waitWhileBusy(deadline); err != nil {
		return 0, err
	}
	c.programLBA(d, lba, count)

	cmd := uint8(CmdReadPIO)
	if d.use48Bit(lba) {
		cmd = CmdReadPIOExt
	}
	c.ports.Out8(RegCommand, cmd)

	for s := uint32(0); s < count; s++ {
		drq, err := c.waitDRQOrErr(deadline)
		if err != nil {
			return int(s), err
		}
		if !drq {
			return int(s), ioerr.EIO
		}
		for w := 0; w < 256; w++ {
			v := c.ports.In16(RegData)
			binary.LittleEndian.PutUint16(buf[int(s)*512+w*2:], v)
		}
	}

	return int(count), nil
}

// WriteSectors implements block.Device for an ATA (non-ATAPI) device,
// following every write with CACHE_FLUSH
func (d *Device) WriteSectors(lba uint64, count uint32, buf []byte) (int, error) {
	if err := block.ValidateTransfer(d.geometry, count, buf); err != nil {
		return 0, err
	}
	if d.kind != KindATA {
		return 0, ioerr.ENOTSUP
	}

	c := d.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if err := c.waitWhileBusy(deadline); err != nil {
		return 0, err
	}
	c.programLBA(d, lba, count)

	cmd := uint8(CmdWritePIO)
	ext := d.use48Bit(lba)
	if ext {
		cmd = CmdWritePIOExt
	}
	c.ports.Out8(RegCommand, cmd)

	for s := uint32(0); s < count; s++ {
		drq, err := c.waitDRQOrErr(deadline)
		if err != nil {
			return int(s), err
		}
		if !drq {
			return int(s), ioerr.EIO
		}
		for w := 0; w < 256; w++ {
			v := binary.LittleEndian.Uint16(buf[int(s)*512+w*2:])
			c.ports.Out16(RegData, v)
		}
	}

	flush := uint8(CmdCacheFlush)
	if ext {
		flush = CmdCacheFlushExt
	}
	c.ports.Out8(RegCommand, flush)
	if err := c.waitWhileBusy(deadline); err != nil {
		return int(count), err
	}

	return int(count), nil
}

// String renders a human-readable summary, used by hexactl's device list.
func (d *Device) String() string {
	kind := "ata"
	if d.kind == KindATAPI {
		kind = "atapi"
	}
	return fmt.Sprintf("%s model=%q serial=%q sectors=%d", kind, d.identity.Model, d.identity.Serial, d.geometry.SectorCount)
}
