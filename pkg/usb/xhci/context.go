package xhci

import "github.com/ethereal-os/devicecore/pkg/usb"

// SlotContext holds the fields of the xHCI slot context this engine
// programs: root-hub port, route string, speed, and context-entries.
type SlotContext struct {
	RootHubPort int
	RouteString uint32
	Speed usb.Speed
	ContextEntries int
}

// EndpointContext holds the fields of one xHCI endpoint context this
// engine programs.
type EndpointContext struct {
	EPType usb.TransferType
	Direction usb.Direction
	ErrorCount int
	MaxPacketSize int
	MaxBurst int
	Interval int
	AvgTRBLength int
	TRDequeue *Ring
}

// InputContext is the input context device bring-up programs: add-flags
// plus a slot context and up to 31 endpoint contexts. EP0 is at index 0;
// any other endpoint with context index n (this package's
// "n = (addr & 0x0F)*2 + (IN?1:0)" convention) is at index n-1.
type InputContext struct {
	AddFlags uint32
	Slot SlotContext
	Endpoints [31]EndpointContext
}

// OutputContext is the device context the controller itself maintains,
// installed at DCBAA[slot_id].
type OutputContext struct {
	Slot SlotContext
	Endpoints [31]EndpointContext
}
