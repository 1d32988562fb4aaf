package ata

import (
	"encoding/binary"
	"time"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

// ATAPI SCSI command opcodes relevant to this engine.
const (
	scsiReadCapacity = 0x25
	scsiRead12 = 0xA8
)

// packet issues a 12-byte SCSI packet via ATA_CMD_PACKET and returns the
// device's reply, sized from LBA1/LBA2 as the ATAPI protocol dictates.
func (d *Device) packet(cdb [12]byte, out []byte) (int, error) {
	c := d.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	c.selectDevice(d.slave)
	if err := c.waitWhileBusy(deadline); err != nil {
		return 0, err
	}

	// byte count limit, one PIO transfer worth of reply.
	c.ports.Out8(RegFeatures, 0)
	c.ports.Out8(RegLBA1, uint8(len(out)))
	c.ports.Out8(RegLBA2, uint8(len(out)>>8))
	c.ports.Out8(RegCommand, CmdPacket)

	drq, err := c.waitDRQOrErr(deadline)
	if err != nil {
		return 0, err
	}
	if !drq {
		return 0, ioerr.EIO
	}

	for i := 0; i < 6; i++ {
		v := binary.LittleEndian.Uint16(cdb[i*2:])
		c.ports.Out16(RegData, v)
	}

	drq, err = c.waitDRQOrErr(deadline)
	if err != nil {
		return 0, err
	}
	if !drq {
		return 0, ioerr.EIO
	}

	replyLo := c.ports.In8(RegLBA1)
	replyHi := c.ports.In8(RegLBA2)
	replySize := int(replyLo) | int(replyHi)<<8
	if replySize > len(out) {
		replySize = len(out)
	}

	for i := 0; i < replySize; i += 2 {
		v := c.ports.In16(RegData)
		binary.LittleEndian.PutUint16(out[i:], v)
	}

	return replySize, nil
}

// ReadCapacity issues the SCSI READ CAPACITY(10) command and derives the
// device's geometry from the (last_LBA, block_size) pair it returns, per
//: "device capacity is (last_LBA+1)*block_size".
func (d *Device) ReadCapacity() (block.Geometry, error) {
	var cdb [12]byte
	cdb[0] = scsiReadCapacity

	reply := make([]byte, 8)
	n, err := d.packet(cdb, reply)
	if err != nil {
		return block.Geometry{}, err
	}
	if n < 8 {
		return block.Geometry{}, ioerr.EIO
	}

	lastLBA := binary.BigEndian.Uint32(reply[0:4])
	blockSize := binary.BigEndian.Uint32(reply[4:8])

	d.geometry = block.Geometry{SectorSize: blockSize, SectorCount: uint64(lastLBA) + 1}
	return d.geometry, nil
}

// ReadSectorsATAPI issues SCSI READ(12) for count blocks starting at lba.
// It is distinct from Device.ReadSectors because ATAPI transfers are
// mediated by a SCSI packet rather than a native ATA command.
func (d *Device) ReadSectorsATAPI(lba uint64, count uint32, buf []byte) (int, error) {
	if d.kind != KindATAPI {
		return 0, ioerr.ENOTSUP
	}
	if err := block.ValidateTransfer(d.geometry, count, buf); err != nil {
		return 0, err
	}

	var cdb [12]byte
	cdb[0] = scsiRead12
	binary.BigEndian.PutUint32(cdb[2:], uint32(lba))
	binary.BigEndian.PutUint32(cdb[6:], count)

	n, err := d.packet(cdb, buf)
	if err != nil {
		return 0, err
	}
	return n / int(d.geometry.SectorSize), nil
}
