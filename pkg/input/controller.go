package input

import "github.com/ethereal-os/devicecore/pkg/ioerr"

// DeviceKind classifies what responded to a port's reset/identify sequence.
type DeviceKind int

const (
	DeviceNone DeviceKind = iota
	DeviceMouseStandard
	DeviceMouseWithScroll
	DeviceMouseWith5Button
	DeviceKeyboardMF2
	DeviceKeyboardUnknown
)

// Controller is an initialized 8042 PS/2 controller with up to two ports
// identified.
type Controller struct {
	ports Ports
	dualChannel bool
	port1Kind DeviceKind
	port2Kind DeviceKind
}

func (c *Controller) waitOutputFull() {
	for c.ports.In8(PortStatus)&StatusOutputFull == 0 {
	}
}

func (c *Controller) waitInputEmpty() {
	for c.ports.In8(PortStatus)&StatusInputFull != 0 {
	}
}

func (c *Controller) sendCommand(cmd uint8) {
	c.waitInputEmpty()
	c.ports.Out8(PortCommand, cmd)
}

func (c *Controller) readData() uint8 {
	c.waitOutputFull()
	return c.ports.In8(PortData)
}

func (c *Controller) writeData(v uint8) {
	c.waitInputEmpty()
	c.ports.Out8(PortData, v)
}

// Init runs the controller initialization handshake :
// disable both ports, drain the output buffer, self-test the controller
// (expect 0x55), probe dual-channel support via the configuration byte,
// test each port (expect 0x00), then reset each device and classify its
// identification bytes.
func Init(ports Ports) (*Controller, error) {
	c := &Controller{ports: ports}

	c.sendCommand(CmdDisablePort1)
	c.sendCommand(CmdDisablePort2)

	// Drain any stale byte left in the output buffer.
	for c.ports.In8(PortStatus)&StatusOutputFull != 0 {
		c.ports.In8(PortData)
	}

	c.sendCommand(CmdSelfTest)
	if c.readData() != SelfTestPass {
		return nil, ioerr.EIO
	}

	c.sendCommand(CmdReadConfig)
	ccb := c.readData()
	c.dualChannel = ccb&ccbPort2Clock != 0
	ccb &^= ccbPort1IRQ | ccbPort2IRQ
	c.sendCommand(CmdWriteConfig)
	c.writeData(ccb)

	c.sendCommand(CmdTestPort1)
	if c.readData() != PortTestPass {
		return nil, ioerr.EIO
	}
	if c.dualChannel {
		c.sendCommand(CmdTestPort2)
		if c.readData() != PortTestPass {
			c.dualChannel = false
		}
	}

	c.sendCommand(CmdEnablePort1)
	c.port1Kind = c.resetAndIdentify(false)
	if c.dualChannel {
		c.sendCommand(CmdEnablePort2)
		c.port2Kind = c.resetAndIdentify(true)
	}

	return c, nil
}

func (c *Controller) resetAndIdentify(port2 bool) DeviceKind {
	if port2 {
		c.sendCommand(CmdWriteToPort2)
	}
	c.writeData(0xFF) // device reset command

	if c.readData() != DevAck {
		return DeviceNone
	}
	if c.readData() != DevResetOK {
		return DeviceNone
	}

	// Identify: the device may send zero, one, or two ID bytes.
	id0 := c.readData()
	switch id0 {
	case 0x00:
		return DeviceMouseStandard
	case 0x03:
		return DeviceMouseWithScroll
	case 0x04:
		return DeviceMouseWith5Button
	case 0xAB:
		id1 := c.readData()
		switch id1 {
		case 0x83, 0x41, 0xC1:
			return DeviceKeyboardMF2
		default:
			return DeviceKeyboardUnknown
		}
	default:
		return DeviceKeyboardUnknown
	}
}

func (c *Controller) DualChannel() bool { return c.dualChannel }
func (c *Controller) Port1Kind() DeviceKind { return c.port1Kind }
func (c *Controller) Port2Kind() DeviceKind { return c.port2Kind }

// ReadByte reads one raw byte from the data port, for a keyboard or mouse
// IRQ handler to feed to its own decoder.
func (c *Controller) ReadByte() uint8 { return c.readData() }
