package xhci

import (
	"context"
	"sync"

	"github.com/ethereal-os/devicecore/pkg/ioerr"
	"github.com/ethereal-os/devicecore/pkg/usb"
)

const (
	commandRingSize = 64
	eventRingSize = 64
	maxSlots = 32
)

// Backend executes one command or transfer TRB batch against a simulated
// or real xHCI device, playing the same seam role pkg/block/nvme's Backend
// plays for the NVMe queue-pair protocol (see pkg/block/nvme/controller.go).
type Backend interface {
	// ExecuteCommand runs one command TRB and reports its completion code
	// plus, for ENABLE_SLOT, the assigned slot ID.
	ExecuteCommand(cmd TRB) (completionCode uint8, slotID uint8)
	// ExecuteTransfer runs a control-transfer TRB chain against the given
	// slot/endpoint and returns the completion code plus the device
	// descriptor bytes observed (for the mps fix-up path).
	ExecuteTransfer(slotID uint8, epIndex int, trbs []TRB) (completionCode uint8, observed []byte)
}

type slotState struct {
	input *InputContext
	output *OutputContext
	ep0 *Ring
	rings map[int]*Ring
}

// Controller is an in-process xHCI host controller driver: DCBAA, command
// ring, primary event ring, and per-slot device contexts.
type Controller struct {
	backend Backend

	mu sync.Mutex
	running bool

	dcbaa [maxSlots + 1]uint64 // handles into the context handle table
	commandRing *Ring
	eventRing *EventRing
	nextSlot uint8

	slots map[uint8]*slotState

	cmdWaitersMu sync.Mutex
	cmdWaiters map[int]chan TRB

	xferWaitersMu sync.Mutex
	xferWaiters map[int]chan TRB
	nextXferSeq int

	ports []portState
}

type portState struct {
	connected bool
	speed usb.Speed
	csc bool
}

// NewController builds a controller driven by backend, with root-hub ports
// reporting the given speeds (use -1 entries for disconnected ports).
func NewController(backend Backend, portSpeeds []usb.Speed) *Controller {
	c := &Controller{
		backend: backend,
		slots: make(map[uint8]*slotState),
		cmdWaiters: make(map[int]chan TRB),
		xferWaiters: make(map[int]chan TRB),
	}
	c.ports = make([]portState, len(portSpeeds))
	for i, sp := range portSpeeds {
		if sp >= 0 {
			c.ports[i] = portState{connected: true, speed: sp, csc: true}
		}
	}
	return c
}

// Reset allocates a fresh command ring and primary event ring, restarts
// slot numbering at 1, and marks the controller running. No registers are
// modeled: it performs no halt or HCRESET, does not program MaxSlotsEn,
// CRCR or the event ring registers, and allocates no scratchpad buffers;
// the DCBAA is the controller's fixed dcbaa array.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commandRing = NewRing(commandRingSize)
	c.eventRing = NewEventRing(eventRingSize)
	c.nextSlot = 1
	c.running = true
	return nil
}

// EnumeratePort reports a connected+change-asserted port for re-enumeration,
// matching "iterate PORTSC registers; for any port with CCS
// set and CSC asserted". Calling it clears the change bit, as the real
// reset/PRC/WRC-clear sequence would.
func (c *Controller) EnumeratePort(port int) (connected bool, speed usb.Speed, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if port < 0 || port >= len(c.ports) {
		return false, 0, ioerr.EINVAL
	}
	p := &c.ports[port]
	if !p.connected || !p.csc {
		return false, 0, nil
	}
	p.csc = false
	return true, p.speed, nil
}

// submitCommand enqueues cmd onto the command ring, rings the doorbell
// (executes it on its own goroutine against the backend), and waits for
// its Command Completion Event, bounded by ctx.
func (c *Controller) submitCommand(ctx context.Context, cmd TRB) (TRB, error) {
	c.mu.Lock()
	slot := c.commandRing.Enqueue(cmd)
	c.mu.Unlock()

	ch := make(chan TRB, 1)
	c.cmdWaitersMu.Lock()
	c.cmdWaiters[slot] = ch
	c.cmdWaitersMu.Unlock()

	go func() {
		code, slotID := c.backend.ExecuteCommand(cmd)
		event := TRB{Parameter: uint64(slot)}
		event.setType(TRBCommandCompletionEvent)
		event.Status = uint32(code) << 24
		event.Control |= uint32(slotID) << 24
		c.deliverEvent(event)
	}()

	select {
	case completion := <-ch:
		c.cmdWaitersMu.Lock()
		delete(c.cmdWaiters, slot)
		c.cmdWaitersMu.Unlock()
		code := uint8(completion.Status >> 24)
		if code != CompletionSuccess {
			return completion, ioerr.EIO
		}
		return completion, nil
	case <-ctx.Done():
		return TRB{}, ioerr.ETIMEDOUT
	}
}

// deliverEvent posts trb to the primary event ring and drains it,
// dispatching Command Completion and Transfer events to their waiters —
// the event-ring poller of, run inline per delivery rather
// than as a standing goroutine since this model has exactly one source of
// events at a time per submitter.
func (c *Controller) deliverEvent(trb TRB) {
	c.eventRing.Post(trb)
	c.eventRing.Drain(func(ev TRB) {
			switch ev.trbType() {
			case TRBCommandCompletionEvent:
				slot := int(ev.Parameter)
				c.cmdWaitersMu.Lock()
				ch, ok := c.cmdWaiters[slot]
				c.cmdWaitersMu.Unlock()
				if ok {
					ch <- ev
				}
			case TRBTransferEvent:
				key := int(ev.Parameter)
				c.xferWaitersMu.Lock()
				ch, ok := c.xferWaiters[key]
				c.xferWaitersMu.Unlock()
				if ok {
					ch <- ev
				}
			case TRBPortStatusChangeEvent:
				// re-enumeration is driven by EnumeratePort polling in this
				// model; nothing further to do here.
			}
		})
}

// EnableSlot issues ENABLE_SLOT and returns the assigned slot ID.
func (c *Controller) EnableSlot(ctx context.Context) (uint8, error) {
	completion, err := c.submitCommand(ctx, newEnableSlotTRB())
	if err != nil {
		return 0, err
	}
	slotID := uint8(completion.Control >> 24)

	c.mu.Lock()
	c.slots[slotID] = &slotState{rings: make(map[int]*Ring)}
	c.mu.Unlock()
	return slotID, nil
}

// BringUpDevice runs bring-up steps 2-6 of for a device just
// enabled on slot: context allocation, EP0 transfer ring, input context
// programming, the two-phase ADDRESS_DEVICE, and the descriptor-driven mps
// fix-up via EVALUATE_CONTEXT.
func (c *Controller) BringUpDevice(ctx context.Context, slotID uint8, rootPort int, speed usb.Speed) (usb.DeviceDescriptor, error) {
	c.mu.Lock()
	st := c.slots[slotID]
	c.mu.Unlock()
	if st == nil {
		return usb.DeviceDescriptor{}, ioerr.EINVAL
	}

	st.output = &OutputContext{}
	c.mu.Lock()
	c.dcbaa[slotID] = handle(st.output)
	c.mu.Unlock()

	st.ep0 = NewRing(32)
	st.rings[0] = st.ep0

	st.input = &InputContext{AddFlags: 0x3}
	st.input.Slot = SlotContext{RootHubPort: rootPort, Speed: speed, ContextEntries: 1}
	st.input.Endpoints[0] = EndpointContext{
		EPType: usb.Control,
		MaxPacketSize: speed.DefaultMaxPacketSize(),
		TRDequeue: st.ep0,
	}
	inputHandle := handle(st.input)

	if _, err := c.submitCommand(ctx, newAddressDeviceTRB(inputHandle, slotID, true)); err != nil {
		return usb.DeviceDescriptor{}, err
	}
	if _, err := c.submitCommand(ctx, newAddressDeviceTRB(inputHandle, slotID, false)); err != nil {
		return usb.DeviceDescriptor{}, err
	}
	st.output.Slot = st.input.Slot
	st.output.Endpoints[0] = st.input.Endpoints[0]

	first8 := make([]byte, 8)
	setup := usb.GetDescriptorSetup(usb.DescriptorDevice, 8)
	if err := c.controlTransferInto(ctx, slotID, 0, setup, first8, true); err != nil {
		return usb.DeviceDescriptor{}, err
	}

	observedMPS := int(first8[7])
	if observedMPS != 0 {
		st.input.AddFlags = 0x1
		st.input.Endpoints[0].MaxPacketSize = observedMPS
		if _, err := c.submitCommand(ctx, newEvaluateContextTRB(inputHandle, slotID)); err != nil {
			return usb.DeviceDescriptor{}, err
		}
		st.output.Endpoints[0].MaxPacketSize = observedMPS
	}

	full := make([]byte, 18)
	setup = usb.GetDescriptorSetup(usb.DescriptorDevice, 18)
	if err := c.controlTransferInto(ctx, slotID, 0, setup, full, true); err != nil {
		return usb.DeviceDescriptor{}, err
	}

	var desc usb.DeviceDescriptor
	desc.Length = full[0]
	desc.DescriptorType = full[1]
	desc.MaxPacketSize0 = full[7]
	return desc, nil
}

// ConfigureEndpoint implements "Endpoint configuration":
// allocates a transfer ring, fills the input context's endpoint context,
// updates context_entries, and issues CONFIGURE_ENDPOINT.
func (c *Controller) ConfigureEndpoint(ctx context.Context, slotID uint8, ep usb.EndpointDescriptor) error {
	c.mu.Lock()
	st := c.slots[slotID]
	c.mu.Unlock()
	if st == nil {
		return ioerr.EINVAL
	}

	idx := usb.ContextEndpointIndex(ep.EndpointAddress)
	ring := NewRing(32)
	st.rings[idx] = ring

	st.input.AddFlags = (1 << uint(idx)) | 1
	st.input.Endpoints[idx-1] = EndpointContext{
		EPType: ep.Type(),
		Direction: ep.Dir(),
		MaxPacketSize: int(ep.MaxPacketSize),
		Interval: int(ep.Interval),
		TRDequeue: ring,
	}
	if idx > st.input.Slot.ContextEntries {
		st.input.Slot.ContextEntries = idx
	}
	inputHandle := handle(st.input)

	_, err := c.submitCommand(ctx, newConfigureEndpointTRB(inputHandle, slotID))
	if err != nil {
		return err
	}
	st.output.Endpoints[idx-1] = st.input.Endpoints[idx-1]
	return nil
}

// ControlTransfer runs a SETUP/[DATA]/STATUS GET_DESCRIPTOR(Device)
// transfer of len(data) bytes on EP0 of the given slot.
func (c *Controller) ControlTransfer(ctx context.Context, slotID uint8, data []byte, dirIn bool) error {
	setup := usb.GetDescriptorSetup(usb.DescriptorDevice, uint16(len(data)))
	return c.controlTransferInto(ctx, slotID, 0, setup, data, dirIn)
}

func (c *Controller) controlTransferInto(ctx context.Context, slotID uint8, epIndex int, setup usb.SetupPacket, data []byte, dirIn bool) error {
	c.mu.Lock()
	st := c.slots[slotID]
	c.mu.Unlock()
	if st == nil || st.ep0 == nil {
		return ioerr.EINVAL
	}

	setupHandle := handle(setup)
	trt := uint32(0)
	if len(data) > 0 {
		if dirIn {
			trt = 3
		} else {
			trt = 2
		}
	}

	var trbs []TRB
	trbs = append(trbs, newSetupStageTRB(setupHandle, trt))
	if len(data) > 0 {
		trbs = append(trbs, newDataStageTRB(handle(data), uint32(len(data)), dirIn))
	}
	trbs = append(trbs, newStatusStageTRB(!dirIn || len(data) == 0))

	c.mu.Lock()
	ring := st.rings[epIndex]
	key := c.nextXferSeq
	c.nextXferSeq++
	for _, t := range trbs {
		ring.Enqueue(t)
	}
	c.mu.Unlock()

	ch := make(chan TRB, 1)
	c.xferWaitersMu.Lock()
	if c.xferWaiters == nil {
		c.xferWaiters = make(map[int]chan TRB)
	}
	c.xferWaiters[key] = ch
	c.xferWaitersMu.Unlock()

	go func() {
		code, observed := c.backend.ExecuteTransfer(slotID, epIndex, trbs)
		if len(observed) > 0 && dirIn {
			copy(data, observed)
		}
		event := TRB{Parameter: uint64(key)}
		event.setType(TRBTransferEvent)
		event.Status = uint32(code) << 24
		event.Control |= uint32(slotID) << 24
		c.deliverEvent(event)
	}()

	select {
	case completion := <-ch:
		c.xferWaitersMu.Lock()
		delete(c.xferWaiters, key)
		c.xferWaitersMu.Unlock()
		if uint8(completion.Status>>24) != CompletionSuccess {
			return ioerr.EIO
		}
		return nil
	case <-ctx.Done():
		return ioerr.ETIMEDOUT
	}
}
