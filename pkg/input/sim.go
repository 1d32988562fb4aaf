package input

// simPorts is an in-process 8042 controller model: a byte queue for the
// data port, replying to the init handshake and per-port device reset
// exactly as real hardware would sequence it, enough to drive Init()
// without real silicon (mirrors pkg/block/ata/sim.go's "scripted register
// responses" idiom).
type simPorts struct {
	queue []uint8

	ccb uint8
	lastCommand uint8
	toPort2 bool

	port1Kind DeviceKind
	port2Kind DeviceKind
}

func newSimPorts(dualChannel bool, port1Kind, port2Kind DeviceKind) *simPorts {
	s := &simPorts{port1Kind: port1Kind, port2Kind: port2Kind}
	if dualChannel {
		s.ccb = ccbPort2Clock
	}
	return s
}

func (s *simPorts) push(b uint8) { s.queue = append(s.queue, b) }

func (s *simPorts) In8(port uint16) uint8 {
	switch port {
	case PortStatus:
		if len(s.queue) > 0 {
			return StatusOutputFull
		}
		return 0
	case PortData:
		if len(s.queue) == 0 {
			return 0
		}
		b := s.queue[0]
		s.queue = s.queue[1:]
		return b
	}
	return 0
}

func (s *simPorts) Out8(port uint16, v uint8) {
	if port == PortCommand {
		s.lastCommand = v
		switch v {
		case CmdSelfTest:
			s.push(SelfTestPass)
		case CmdReadConfig:
			s.push(s.ccb)
		case CmdTestPort1, CmdTestPort2:
			s.push(PortTestPass)
		case CmdWriteToPort2:
			s.toPort2 = true
		}
		return
	}

	// port == PortData.
	if s.lastCommand == CmdWriteConfig {
		s.ccb = v
		s.lastCommand = 0
		return
	}

	target := s.port1Kind
	toPort2 := s.toPort2
	s.toPort2 = false
	if toPort2 {
		target = s.port2Kind
	}

	if v == 0xFF { // device reset
		if target == DeviceNone {
			return // no device on this port: no reply
		}
		s.push(DevAck)
		s.push(DevResetOK)
		switch target {
		case DeviceMouseStandard:
			s.push(0x00)
		case DeviceMouseWithScroll:
			s.push(0x03)
		case DeviceMouseWith5Button:
			s.push(0x04)
		case DeviceKeyboardMF2:
			s.push(0xAB)
			s.push(0x83)
		}
	}
}
