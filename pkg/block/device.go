// Package block defines the uniform block-device contract 
// shared by the ATA PIO engine (pkg/block/ata) and the NVMe engine
// (pkg/block/nvme), and consumed in turn by the filesystem engines in
// pkg/ext2 and pkg/fat.
package block

import "github.com/ethereal-os/devicecore/pkg/ioerr"

// Identity names a block device the way defines it.
type Identity struct {
	Model string
	Serial string
	Vendor string
	Revision string
}

// Geometry is a block device's physical properties.
type Geometry struct {
	SectorSize uint32
	SectorCount uint64
}

// Device is the contract every block transport in this module satisfies.
// Reads and writes are sector-aligned and integral; a caller wanting a
// partial sector must read-modify-write its own buffer.
type Device interface {
	Identity() Identity
	Geometry() Geometry

	// ReadSectors reads count sectors starting at lba into buf, which must
	// be at least count*SectorSize bytes. It returns the number of sectors
	// actually read, or a negative count is never returned — failures are
	// reported via err using the ioerr sentinel kinds (EIO, ETIMEDOUT,
	// EINVAL).
	ReadSectors(lba uint64, count uint32, buf []byte) (int, error)

	// WriteSectors writes count sectors starting at lba from buf.
	WriteSectors(lba uint64, count uint32, buf []byte) (int, error)
}

// ValidateTransfer checks the sector-alignment invariant shared by every
// Device implementation's ReadSectors/WriteSectors. Transports call this
// first so that EINVAL is synchronous and never touches hardware.
func ValidateTransfer(geom Geometry, count uint32, buf []byte) error {
	if count == 0 {
		return ioerr.EINVAL
	}
	need := uint64(count) * uint64(geom.SectorSize)
	if uint64(len(buf)) < need {
		return ioerr.EINVAL
	}
	return nil
}
