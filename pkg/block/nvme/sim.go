package nvme

import (
	"bytes"
	"encoding/binary"
)

// SimDevice is an in-process NVMe device model implementing Backend. It
// backs one namespace with an in-memory byte slice and answers Identify,
// CREATE_CQ/CREATE_SQ, and read/write commands synchronously — enough to
// exercise Controller's queue-pair protocol without real silicon, starting
// from a freshly formatted namespace.
type SimDevice struct {
	Model, Serial, Firmware string
	SectorSize uint32
	disk []byte
}

// NewSimDevice builds a simulated controller/namespace pair backed by disk.
func NewSimDevice(disk []byte, model, serial, firmware string) *SimDevice {
	return &SimDevice{Model: model, Serial: serial, Firmware: firmware, SectorSize: 512, disk: disk}
}

func (d *SimDevice) Execute(qid int, entry *SQEntry) (status uint16, dw0 uint32) {
	opcode := entry.raw[0]
	prp1 := binary.LittleEndian.Uint64(entry.raw[24:])
	buf := prpLookup(prp1)

	switch {
	case qid == -1 && opcode == opIdentify:
		cns := binary.LittleEndian.Uint32(entry.raw[40:])
		switch cns {
		case cnsController:
			d.fillIdentifyController(buf)
		case cnsActiveNSList:
			binary.LittleEndian.PutUint32(buf[0:], 1)
		case cnsNamespace:
			d.fillIdentifyNamespace(buf)
		}
		return 0, 0
	case qid == -1 && (opcode == opCreateCQ || opcode == opCreateSQ):
		return 0, 0
	case opcode == opRead:
		return d.doIO(entry, buf, false)
	case opcode == opWrite:
		return d.doIO(entry, buf, true)
	}
	return 0, 0
}

func (d *SimDevice) fillIdentifyController(buf []byte) {
	var raw identifyControllerRaw
	raw.VendorID = 0x8086
	copy(raw.SerialNumber[:], pad(d.Serial, 20))
	copy(raw.ModelNumber[:], pad(d.Model, 40))
	copy(raw.Firmware[:], pad(d.Firmware, 8))

	out := new(bytes.Buffer)
	_ = binary.Write(out, binary.LittleEndian, &raw)
	copy(buf, out.Bytes())
}

func (d *SimDevice) fillIdentifyNamespace(buf []byte) {
	nsze := uint64(len(d.disk)) / uint64(d.SectorSize)
	var raw identifyNamespaceRaw
	raw.NSZE = nsze
	raw.NCAP = nsze
	raw.NUSE = nsze
	raw.NLBAF = 0
	raw.FLBAS = 0
	raw.LBAF[0] = uint32(lbadsFor(d.SectorSize)) << 16

	out := new(bytes.Buffer)
	_ = binary.Write(out, binary.LittleEndian, &raw)
	copy(buf, out.Bytes())
}

func lbadsFor(sectorSize uint32) uint8 {
	var shift uint8
	for s := sectorSize; s > 1; s >>= 1 {
		shift++
	}
	return shift
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}

func (d *SimDevice) doIO(entry *SQEntry, buf []byte, write bool) (status uint16, dw0 uint32) {
	lba := uint64(binary.LittleEndian.Uint32(entry.raw[40:])) | uint64(binary.LittleEndian.Uint32(entry.raw[44:]))<<32
	nlb := binary.LittleEndian.Uint32(entry.raw[48:]) + 1

	off := lba * uint64(d.SectorSize)
	length := uint64(nlb) * uint64(d.SectorSize)
	if off+length > uint64(len(d.disk)) {
		return 1, 0 // non-zero status -> EIO
	}

	if write {
		copy(d.disk[off:off+length], buf)
	} else {
		copy(buf, d.disk[off:off+length])
	}
	return 0, 0
}
