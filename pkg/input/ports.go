// Package input implements the PS/2 input aggregator: the
// controller handshake, keyboard scancode-set-1 translation, and mouse
// packet decode/dedup, published as structured events. The port-I/O
// abstraction mirrors pkg/block/ata's Ports interface (same "in/out
// instruction surface, simulated in tests" idiom), adapted to the PS/2
// controller's single 8042 register pair instead of an ATA channel's
// register block.
package input

// Ports is the 8042 controller's I/O surface: one data port and one
// status/command port, matching pkg/block/ata.Ports shape.
type Ports interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
}

// Standard 8042 port numbers and status/command bits.
const (
	PortData = 0x60
	PortStatus = 0x64
	PortCommand = 0x64

	StatusOutputFull = 1 << 0
	StatusInputFull = 1 << 1

	CmdDisablePort1 = 0xAD
	CmdDisablePort2 = 0xA7
	CmdEnablePort1 = 0xAE
	CmdEnablePort2 = 0xA8
	CmdReadConfig = 0x20
	CmdWriteConfig = 0x60
	CmdSelfTest = 0xAA
	CmdTestPort1 = 0xAB
	CmdTestPort2 = 0xA9
	CmdWriteToPort2 = 0xD4

	SelfTestPass = 0x55
	PortTestPass = 0x00

	DevResetOK = 0xAA
	DevAck = 0xFA
)

// CCB (controller configuration byte) bits.
const (
	ccbPort1IRQ = 1 << 0
	ccbPort2IRQ = 1 << 1
	ccbPort2Clock = 1 << 5
)
