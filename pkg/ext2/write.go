package ext2

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

// firstBlockOfGroup returns the first filesystem block number belonging to
// block group g (pkg/ext layout convention: block 0 is unused
// when block_size==1024, reserved for the boot block, so group 0 starts at
// block 1; otherwise the superblock lives inside block 0 and group 0
// starts at block 0).
func (fs *FS) firstBlockOfGroup(g int) int {
	base := 0
	if fs.blockSize == 1024 {
		base = 1
	}
	return base + g*int(fs.sb.BlocksPerGroup)
}

func (fs *FS) writeBlock(blockNo int, data []byte) error {
	sectorSize := int(fs.dev.Geometry().SectorSize)
	need := (len(data) + sectorSize - 1) / sectorSize
	buf := make([]byte, need*sectorSize)
	copy(buf, data)
	lba := fs.blockToLBA(blockNo)
	_, err := fs.dev.WriteSectors(lba, uint32(need), buf)
	return err
}

// allocateBlock finds the first free bit in group g's block bitmap, marks
// it used, decrements the superblock and BGD free-block counters, and
// returns the allocated block's absolute number.
func (fs *FS) allocateBlock(g int) (int, error) {
	if g < 0 || g >= len(fs.bgdt) {
		return 0, ioerr.ENOSPC
	}
	bgd := &fs.bgdt[g]
	bitmap, err := fs.loadBlock(int(bgd.BlockBitmapBlockAddr))
	if err != nil {
		return 0, err
	}

	blocksInGroup := int(fs.sb.BlocksPerGroup)
	idx := -1
	for i := 0; i < blocksInGroup; i++ {
		byteIdx, bit := i/8, uint(i%8)
		if bitmap[byteIdx]&(1<<bit) == 0 {
			bitmap[byteIdx] |= 1 << bit
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ioerr.ENOSPC
	}

	if err := fs.writeBlock(int(bgd.BlockBitmapBlockAddr), bitmap); err != nil {
		return 0, err
	}

	bgd.UnallocatedBlocks--
	fs.sb.UnallocatedBlocks--
	if err := fs.persistMetadata(); err != nil {
		return 0, err
	}

	return fs.firstBlockOfGroup(g) + idx, nil
}

// allocateInode finds the first free bit in group g's inode bitmap, marks
// it used, and decrements free-inode counters.
func (fs *FS) allocateInode(g int) (int, error) {
	if g < 0 || g >= len(fs.bgdt) {
		return 0, ioerr.ENOSPC
	}
	bgd := &fs.bgdt[g]
	bitmap, err := fs.loadBlock(int(bgd.InodeBitmapBlockAddr))
	if err != nil {
		return 0, err
	}

	inodesInGroup := int(fs.sb.InodesPerGroup)
	idx := -1
	for i := 0; i < inodesInGroup; i++ {
		byteIdx, bit := i/8, uint(i%8)
		if bitmap[byteIdx]&(1<<bit) == 0 {
			bitmap[byteIdx] |= 1 << bit
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ioerr.ENOSPC
	}

	if err := fs.writeBlock(int(bgd.InodeBitmapBlockAddr), bitmap); err != nil {
		return 0, err
	}

	bgd.UnallocatedInodes--
	fs.sb.UnallocatedInodes--
	if err := fs.persistMetadata(); err != nil {
		return 0, err
	}

	return g*int(fs.sb.InodesPerGroup) + idx + 1, nil
}

// persistMetadata writes the in-memory superblock and BGD table back to
// disk, so counter changes survive a remount.
func (fs *FS) persistMetadata() error {
	sectorSize := int64(fs.dev.Geometry().SectorSize)
	sbBuf := make([]byte, 512)
	out := new(bytes.Buffer)
	if err := binary.Write(out, binary.LittleEndian, &fs.sb); err != nil {
		return err
	}
	copy(sbBuf, out.Bytes())
	sbSector := fs.partLBA + uint64(1024/sectorSize)
	if _, err := fs.dev.WriteSectors(sbSector, uint32((512+int(sectorSize)-1)/int(sectorSize)), sbBuf); err != nil {
		return err
	}

	bgdBlock := 1
	if fs.blockSize == 1024 {
		bgdBlock = 2
	}
	buf := new(bytes.Buffer)
	for i := range fs.bgdt {
		if err := binary.Write(buf, binary.LittleEndian, &fs.bgdt[i]); err != nil {
			return err
		}
	}
	return fs.writeBlock(bgdBlock, buf.Bytes())
}

// writeInode persists inode back to its slot in the inode table.
func (fs *FS) writeInode(ino int, inode *Inode) error {
	bgno := (ino - 1) / int(fs.sb.InodesPerGroup)
	inodeOffset := (ino - 1) % int(fs.sb.InodesPerGroup)
	tableBlock := int(fs.bgdt[bgno].InodeTableBlockAddr)
	byteOffset := inodeOffset * fs.inodeSize

	blocksIn := byteOffset / int(fs.blockSize)
	offsetInBlock := byteOffset % int(fs.blockSize)

	block, err := fs.loadBlock(tableBlock + blocksIn)
	if err != nil {
		return err
	}
	out := new(bytes.Buffer)
	if err := binary.Write(out, binary.LittleEndian, inode); err != nil {
		return err
	}
	copy(block[offsetInBlock:], out.Bytes())
	return fs.writeBlock(tableBlock+blocksIn, block)
}

// Write stores data at byte offset offset within inode, allocating
// additional direct blocks as needed and zero-filling any block a sparse
// offset skips past. A write whose end (offset+len(data)) would require an
// indirect block is rejected outright — every length this engine's write
// path supports fits within the 12 direct pointers.
//
// A zero offset that shortens the file (len(data) < inode.Size()) truncates,
// matching whole-file overwrite semantics; a non-zero offset only ever
// grows or overwrites within the current bounds, never truncates, since a
// caller writing at an offset has no way to express "and discard everything
// past it".
func (fs *FS) Write(ino int, inode *Inode, offset int64, data []byte) error {
	if offset < 0 {
		return ioerr.EINVAL
	}
	end := offset + int64(len(data))
	blocksNeeded := int((end + fs.blockSize - 1) / fs.blockSize)
	if blocksNeeded > len(inode.DirectPointer) {
		return ioerr.ENOTSUP
	}

	blocksHad := int((inode.Size() + fs.blockSize - 1) / fs.blockSize)

	for i := blocksHad; i < blocksNeeded; i++ {
		blk, err := fs.allocateBlock(0)
		if err != nil {
			return err
		}
		inode.DirectPointer[i] = uint32(blk)
		inode.Sectors += uint32(fs.blockSize / 512)
		// Newly allocated blocks start zeroed, not whatever stale content
		// the device happened to hold, so a sparse offset that skips past
		// one reads back as zero rather than garbage.
		if err := fs.writeBlock(blk, make([]byte, fs.blockSize)); err != nil {
			return err
		}
	}

	remaining := data
	pos := offset
	for len(remaining) > 0 {
		blockIdx := int(pos / fs.blockSize)
		inBlock := int(pos % fs.blockSize)
		buf, err := fs.loadBlock(int(inode.DirectPointer[blockIdx]))
		if err != nil {
			return err
		}
		n := copy(buf[inBlock:], remaining)
		if err := fs.writeBlock(int(inode.DirectPointer[blockIdx]), buf); err != nil {
			return err
		}
		remaining = remaining[n:]
		pos += int64(n)
	}

	newSize := end
	if offset == 0 {
		newSize = int64(len(data))
	} else if old := inode.Size(); old > newSize {
		newSize = old
	}
	inode.SizeLower = uint32(newSize)
	inode.SizeUpper = uint32(uint64(newSize) >> 32)
	return fs.writeInode(ino, inode)
}

// addDirent appends a directory entry of (inodeNo, type, name) to dir's
// data, allocating a new block for it if the directory is currently empty
// (a freshly created directory must enumerate as exactly [".", ".."]).
func (fs *FS) addDirent(dirIno int, dir *Inode, inodeNo int, entType uint8, name string) error {
	entrySize := 8 + len(name)
	entrySize = (entrySize + 3) &^ 3 // 4-byte align

	var blockNo int
	if dir.Sectors == 0 {
		blk, err := fs.allocateBlock(0)
		if err != nil {
			return err
		}
		blockNo = blk
		dir.DirectPointer[0] = uint32(blk)
		dir.Sectors = uint32(fs.blockSize / 512)
		dir.SizeLower = uint32(fs.blockSize)
	} else {
		blockNo = int(dir.DirectPointer[0])
	}

	block, err := fs.loadBlock(blockNo)
	if err != nil {
		return err
	}

	off := 0
	newOff := -1
	newRecLen := 0
	for off < len(block) {
		var d Dirent
		_ = binary.Read(bytes.NewReader(block[off:]), binary.LittleEndian, &d)
		if d.Size == 0 {
			break
		}
		actualSize := 8 + int(d.NameLen)
		actualSize = (actualSize + 3) &^ 3
		if d.InodeNo == 0 && int(d.Size) >= entrySize {
			newOff = off
			newRecLen = int(d.Size)
			break
		}
		if d.InodeNo != 0 && int(d.Size)-actualSize >= entrySize {
			// Split this entry's trailing slack off into a new one: shrink
			// it to its own actual size and place the new entry right
			// after it, inheriting the rest of its rec_len.
			binary.LittleEndian.PutUint16(block[off+4:], uint16(actualSize))
			newOff = off + actualSize
			newRecLen = int(d.Size) - actualSize
			break
		}
		off += int(d.Size)
	}
	if newOff < 0 {
		return ioerr.ENOSPC
	}

	binary.LittleEndian.PutUint32(block[newOff:], uint32(inodeNo))
	binary.LittleEndian.PutUint16(block[newOff+4:], uint16(newRecLen))
	block[newOff+6] = byte(len(name))
	block[newOff+7] = entType
	copy(block[newOff+8:], name)

	if err := fs.writeBlock(blockNo, block); err != nil {
		return err
	}
	return fs.writeInode(dirIno, dir)
}

// Mkdir creates directory name under parent parentIno, installing the
// "." and ".." self-referential entries and incrementing the parent's
// link count (S4 scenario).
func (fs *FS) Mkdir(parentIno int, name string, mode uint16) (int, error) {
	parent, err := fs.ResolveInode(parentIno)
	if err != nil {
		return 0, err
	}
	if !parent.IsDirectory() {
		return 0, ioerr.EINVAL
	}

	newIno, err := fs.allocateInode(0)
	if err != nil {
		return 0, err
	}

	newInode := &Inode{Permissions: InodeTypeDirectory | mode, Links: 2}
	blk, err := fs.allocateBlock(0)
	if err != nil {
		return 0, err
	}
	newInode.DirectPointer[0] = uint32(blk)
	newInode.Sectors = uint32(fs.blockSize / 512)
	newInode.SizeLower = uint32(fs.blockSize)

	block := make([]byte, fs.blockSize)
	selfEntryLen := direntLen(".")
	writeDirent(block, 0, newIno, uint16(selfEntryLen), ".")
	writeDirent(block, selfEntryLen, parentIno, uint16(len(block)-selfEntryLen), "..")
	if err := fs.writeBlock(blk, block); err != nil {
		return 0, err
	}
	if err := fs.writeInode(newIno, newInode); err != nil {
		return 0, err
	}

	if err := fs.addDirent(parentIno, parent, newIno, 2, name); err != nil {
		return 0, err
	}

	parent.Links++
	if err := fs.writeInode(parentIno, parent); err != nil {
		return 0, err
	}

	return newIno, nil
}

func direntLen(name string) int {
	n := 8 + len(name)
	return (n + 3) &^ 3
}

func writeDirent(block []byte, off int, ino int, entSize uint16, name string) {
	binary.LittleEndian.PutUint32(block[off:], uint32(ino))
	binary.LittleEndian.PutUint16(block[off+4:], entSize)
	block[off+6] = byte(len(name))
	block[off+7] = 2 // directory
	copy(block[off+8:], name)
}
