package nvme

import (
	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

const pageSize = 4096

// Namespace implements block.Device over one NVMe namespace, splitting each
// request into PRP1-only sub-requests of at most one page, since
// PRP2/PRP lists are out of scope here.
type Namespace struct {
	ctrl *Controller
	nsid uint32
	sectorSize uint32
	sectors uint64
	ioQID int
}

func (n *Namespace) Identity() block.Identity {
	return block.Identity{
		Model: n.ctrl.Identity.Model,
		Serial: n.ctrl.Identity.Serial,
		Vendor: "NVMe",
	}
}

func (n *Namespace) Geometry() block.Geometry {
	return block.Geometry{SectorSize: n.sectorSize, SectorCount: n.sectors}
}

func (n *Namespace) ioQueue() *pendingQueue {
	n.ctrl.mu.Lock()
	defer n.ctrl.mu.Unlock()
	return n.ctrl.ioQueues[n.ioQID]
}

func (n *Namespace) sectorsPerPage() uint32 {
	return pageSize / n.sectorSize
}

// ReadSectors implements block.Device, splitting into page-sized
// sub-requests.
func (n *Namespace) ReadSectors(lba uint64, count uint32, buf []byte) (int, error) {
	return n.transfer(opRead, lba, count, buf)
}

// WriteSectors implements block.Device, splitting into page-sized
// sub-requests.
func (n *Namespace) WriteSectors(lba uint64, count uint32, buf []byte) (int, error) {
	return n.transfer(opWrite, lba, count, buf)
}

func (n *Namespace) transfer(opcode uint8, lba uint64, count uint32, buf []byte) (int, error) {
	geom := n.Geometry()
	if err := block.ValidateTransfer(geom, count, buf); err != nil {
		return 0, err
	}

	pq := n.ioQueue()
	if pq == nil {
		return 0, ioerr.ENOTSUP
	}

	perPage := n.sectorsPerPage()
	if perPage == 0 {
		perPage = 1
	}

	done := uint32(0)
	for done < count {
		chunk := count - done
		if chunk > perPage {
			chunk = perPage
		}

		off := uint64(done) * uint64(geom.SectorSize)
		sub := buf[off : off+uint64(chunk)*uint64(geom.SectorSize)]

		ctx, cancel := DefaultDeadline()
		var entry SQEntry
		entry.SetOpcode(opcode)
		entry.SetNSID(n.nsid)
		entry.SetPRP1(dataHandle(sub))
		entry.SetDW10(uint32(lba + uint64(done)))
		entry.SetDW11(uint32((lba + uint64(done)) >> 32))
		entry.SetDW12(chunk - 1) // nlb = count-1

		_, err := n.ctrl.submitAndWait(ctx, pq, entry)
		cancel()
		if err != nil {
			return int(done), err
		}

		done += chunk
	}

	return int(count), nil
}
