package main

import (
	"os"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

const fileBlockSectorSize = 512

// fileBlockDevice adapts a plain disk image file to the block.Device
// contract so hexactl's mount subcommand can exercise the filesystem
// engines against a real file without a simulated ATA/NVMe controller
// underneath — the same role vdisk's raw image writer plays for the
// original build pipeline, here read back out through pkg/vfs instead.
type fileBlockDevice struct {
	f *os.File
	sector uint64
}

func openFileBlockDevice(path string) (*fileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBlockDevice{f: f, sector: uint64(fi.Size()) / fileBlockSectorSize}, nil
}

func (d *fileBlockDevice) Identity() block.Identity {
	return block.Identity{Model: "HEXACTL DISK IMAGE", Vendor: "ethereal", Revision: "1"}
}

func (d *fileBlockDevice) Geometry() block.Geometry {
	return block.Geometry{SectorSize: fileBlockSectorSize, SectorCount: d.sector}
}

func (d *fileBlockDevice) ReadSectors(lba uint64, count uint32, buf []byte) (int, error) {
	if err := block.ValidateTransfer(d.Geometry(), count, buf); err != nil {
		return 0, err
	}
	n, err := d.f.ReadAt(buf[:uint64(count)*fileBlockSectorSize], int64(lba*fileBlockSectorSize))
	if err != nil {
		return 0, ioerr.Wrap(ioerr.KindIO, "read image", err)
	}
	return n / fileBlockSectorSize, nil
}

func (d *fileBlockDevice) WriteSectors(lba uint64, count uint32, buf []byte) (int, error) {
	if err := block.ValidateTransfer(d.Geometry(), count, buf); err != nil {
		return 0, err
	}
	n, err := d.f.WriteAt(buf[:uint64(count)*fileBlockSectorSize], int64(lba*fileBlockSectorSize))
	if err != nil {
		return 0, ioerr.Wrap(ioerr.KindIO, "write image", err)
	}
	return n / fileBlockSectorSize, nil
}

func (d *fileBlockDevice) Close() error { return d.f.Close() }
