package nvme

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// ControllerIdentity holds the fields of the Identify Controller structure
// this engine actually consumes, laid out per NVMe Base Specification and
// cross-checked against other_examples/a4ce66e1_dswarbrick-smart__nvme.go's
// nvmeIdentController (VendorID, Ssvid, SerialNumber, ModelNumber, Firmware
// field offsets match).
type ControllerIdentity struct {
	VendorID uint16
	Ssvid uint16
	Serial string
	Model string
	Firmware string
}

// identifyControllerRaw is the on-wire 4096-byte Identify Controller data
// structure, truncated to the leading fields this engine reads.
type identifyControllerRaw struct {
	VendorID uint16
	Ssvid uint16
	SerialNumber [20]byte
	ModelNumber [40]byte
	Firmware [8]byte
}

func parseControllerIdentity(data []byte) ControllerIdentity {
	var raw identifyControllerRaw
	_ = binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw)
	return ControllerIdentity{
		VendorID: raw.VendorID,
		Ssvid: raw.Ssvid,
		Serial: strings.TrimSpace(string(raw.SerialNumber[:])),
		Model: strings.TrimSpace(string(raw.ModelNumber[:])),
		Firmware: strings.TrimSpace(string(raw.Firmware[:])),
	}
}

// identifyNamespaceRaw is the leading portion of the Identify Namespace
// structure: namespace size (NSZE) and the active LBA format index/table.
type identifyNamespaceRaw struct {
	NSZE uint64
	NCAP uint64
	NUSE uint64
	NSFeat uint8
	NLBAF uint8
	FLBAS uint8
	_ [101]byte
	LBAF [16]uint32
}

func parseNamespaceIdentity(data []byte) (sectorSize uint32, sectors uint64) {
	var raw identifyNamespaceRaw
	_ = binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw)
	idx := raw.FLBAS & 0x0F
	lbaf := raw.LBAF[idx]
	lbads := uint8(lbaf >> 16)
	return 1 << lbads, raw.NSZE
}
