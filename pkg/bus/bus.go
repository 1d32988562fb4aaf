// Package bus models the Bus/Interrupt Substrate: PCI enumeration, BAR
// access, MMIO mapping and interrupt registration (component A of the
// device I/O core). pkg/block/ata and pkg/block/nvme attach it at bring-up
// (AttachBus + Reset/Detect verifying Scan+ReadBAR+RegisterIRQ before the
// device is usable); pkg/usb's EHCI/xHCI controllers own their BAR-mapped
// register windows directly and don't go through this package.
//
// PCIBus, a software model usable in any build (and the one every other
// package's tests run against), implements Bus. HostBus in bus_linux.go
// documents the real wiring point on a Linux host; it has only a Scan
// method, which always returns an error, and does not implement Bus.
package bus

import (
	"fmt"
	"sync"

	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

// BARKind identifies the address space a Base Address Register decodes.
type BARKind int

const (
	BARUnavailable BARKind = iota
	BARIO
	BARMem32
	BARMem64
)

// DeviceID identifies a bus device for Scan's filter and callback.
type DeviceID struct {
	Bus, Slot, Func int
	VendorID uint16
	DeviceID uint16
	Class uint8
	Subclass uint8
	ProgIF uint8
}

// BAR describes one Base Address Register as read back from config space.
type BAR struct {
	Kind BARKind
	PhysAddr uint64
	Size uint64
	Prefetch bool
}

// ScanFilter restricts Scan to devices matching non-zero fields.
type ScanFilter struct {
	Class, Subclass uint8
	VendorID uint16
	DeviceID uint16
}

// MMIOAttr selects the caching behaviour MapMMIO should apply.
type MMIOAttr int

const (
	MMIOUncached MMIOAttr = iota
	MMIOWriteCombining
)

// IRQHandler is a non-blocking interrupt callback. It runs with interrupts
// locally masked on the delivering CPU and must not block or take any lock
// that could be held across a suspending wait.
type IRQHandler func(ctx interface{})

// IRQMode selects legacy pin-routed delivery or message-signaled interrupts.
type IRQMode int

const (
	IRQPin IRQMode = iota
	IRQMSI
)

// Bus is the contract the rest of the device core depends on. All four
// operations may report "unavailable"; callers degrade
// (MSI -> pin interrupt, MEM64 -> MEM32, unreadable BAR -> driver abort).
type Bus interface {
	Scan(filter ScanFilter, fn func(DeviceID)) error
	ReadBAR(dev DeviceID, index int) (BAR, error)
	MapMMIO(phys uint64, size uint64, attr MMIOAttr) (uintptr, error)
	RegisterIRQ(irq int, mode IRQMode, handler IRQHandler, ctx interface{}) error
}

type irqReg struct {
	mode IRQMode
	handler IRQHandler
	ctx interface{}
}

// PCIBus is a software model of a flat PCI config space plus an MMIO arena,
// backed by in-process byte slices. It is concurrency-safe: config space
// access is serialized by one bus-wide lock.
type PCIBus struct {
	mu sync.Mutex
	devices []deviceEntry
	mmio map[uint64][]byte
	irqs map[int]irqReg
	nextMMIOAddr uint64
}

type deviceEntry struct {
	id DeviceID
	bars [6]BAR
}

// NewPCIBus returns an empty software PCI bus model.
func NewPCIBus() *PCIBus {
	return &PCIBus{
		mmio: make(map[uint64][]byte),
		irqs: make(map[int]irqReg),
		nextMMIOAddr: 0x0800_0000,
	}
}

// AddDevice registers a synthetic device with the bus. It is a test/harness
// helper, not part of the Bus interface: real firmware enumerates PCI, this
// bus model is populated by whoever is hosting the simulation.
func (b *PCIBus) AddDevice(id DeviceID, bars [6]BAR) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, bar := range bars {
		if bar.Kind == BARUnavailable || bar.Size == 0 {
			continue
		}
		if _, ok := b.mmio[bar.PhysAddr]; !ok && bar.Kind != BARIO {
			b.mmio[bar.PhysAddr] = make([]byte, bar.Size)
		}
		bars[i] = bar
	}
	b.devices = append(b.devices, deviceEntry{id: id, bars: bars})
}

// Scan enumerates devices matching filter, invoking fn for each match in
// registration order.
func (b *PCIBus) Scan(filter ScanFilter, fn func(DeviceID)) error {
	b.mu.Lock()
	matches := make([]DeviceID, 0, len(b.devices))
	for _, d := range b.devices {
		if filter.Class != 0 && d.id.Class != filter.Class {
			continue
		}
		if filter.Subclass != 0 && d.id.Subclass != filter.Subclass {
			continue
		}
		if filter.VendorID != 0 && d.id.VendorID != filter.VendorID {
			continue
		}
		if filter.DeviceID != 0 && d.id.DeviceID != filter.DeviceID {
			continue
		}
		matches = append(matches, d.id)
	}
	b.mu.Unlock()

	for _, m := range matches {
		fn(m)
	}
	return nil
}

// ReadBAR returns BAR index for dev, or BARUnavailable with an error if the
// device or index is unknown.
func (b *PCIBus) ReadBAR(dev DeviceID, index int) (BAR, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index > 5 {
		return BAR{}, ioerr.Wrap(ioerr.KindInvalid, "bar index out of range", nil)
	}
	for _, d := range b.devices {
		if d.id == dev {
			bar := d.bars[index]
			if bar.Kind == BARUnavailable {
				return BAR{}, fmt.Errorf("bar %d unavailable: %w", index, ioerr.EIO)
			}
			return bar, nil
		}
	}
	return BAR{}, fmt.Errorf("device not found: %w", ioerr.EINVAL)
}

// MapMMIO returns a process-local address standing in for a virtual mapping
// of the physical range [phys, phys+size). Real firmware would install page
// table entries here; the software model just hands back a slice-backed
// window that MMIO-reading drivers can treat as volatile memory.
func (b *PCIBus) MapMMIO(phys uint64, size uint64, attr MMIOAttr) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	region, ok := b.mmio[phys]
	if !ok || uint64(len(region)) < size {
		return 0, fmt.Errorf("mmio range [%#x,%#x) not backed: %w", phys, phys+size, ioerr.EIO)
	}
	return uintptr(phys), nil
}

// MMIOWindow exposes the backing bytes for a previously mapped region, for
// use by drivers that were handed back a virtual address from MapMMIO.
func (b *PCIBus) MMIOWindow(phys uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mmio[phys]
}

// RegisterIRQ attaches handler to irq. Re-registering the same irq replaces
// the previous handler, matching how a driver reprogramming MSI-X would
// expect to behave.
func (b *PCIBus) RegisterIRQ(irq int, mode IRQMode, handler IRQHandler, ctx interface{}) error {
	if handler == nil {
		return ioerr.EINVAL
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.irqs[irq] = irqReg{mode: mode, handler: handler, ctx: ctx}
	return nil
}

// Fire invokes the handler registered for irq, if any. It is the software
// model's stand-in for hardware raising the interrupt line; handlers run
// synchronously on the calling goroutine, matching the "runs with
// interrupts masked, may not block" contract drivers are written against.
func (b *PCIBus) Fire(irq int) bool {
	b.mu.Lock()
	reg, ok := b.irqs[irq]
	b.mu.Unlock()
	if !ok {
		return false
	}
	reg.handler(reg.ctx)
	return true
}
