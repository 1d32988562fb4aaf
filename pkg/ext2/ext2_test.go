package ext2

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/stretchr/testify/require"
)

// memDevice is a minimal in-memory block.Device used to build and mount
// synthetic ext2 images without real hardware.
type memDevice struct {
	sectorSize uint32
	data []byte
}

func newMemDevice(sectors int, sectorSize uint32) *memDevice {
	return &memDevice{sectorSize: sectorSize, data: make([]byte, sectors*int(sectorSize))}
}

func (m *memDevice) Identity() block.Identity { return block.Identity{Model: "memtest"} }
func (m *memDevice) Geometry() block.Geometry {
	return block.Geometry{SectorSize: m.sectorSize, SectorCount: uint64(len(m.data)) / uint64(m.sectorSize)}
}
func (m *memDevice) ReadSectors(lba uint64, count uint32, buf []byte) (int, error) {
	off := lba * uint64(m.sectorSize)
	n := uint64(count) * uint64(m.sectorSize)
	copy(buf, m.data[off:off+n])
	return int(count), nil
}
func (m *memDevice) WriteSectors(lba uint64, count uint32, buf []byte) (int, error) {
	off := lba * uint64(m.sectorSize)
	n := uint64(count) * uint64(m.sectorSize)
	copy(m.data[off:off+n], buf)
	return int(count), nil
}

const (
	testBlockSize = 1024
	testBlocksPerGrp = 8192
	testInodesPerGrp = 128
)

// buildImage constructs a minimal one-block-group ext2 image: superblock,
// BGDT, block+inode bitmaps, inode table, root directory (inode 2) with
// "." and "..", and one file inode (inode 12) whose data spans direct
// pointers plus a singly-indirect block, exercising the scanPointers
// recursive walk.
func buildImage(t *testing.T, fileData []byte) *memDevice {
	t.Helper()
	dev := newMemDevice(4096, 512)

	sb := Superblock{
		TotalInodes: testInodesPerGrp,
		TotalBlocks: 2048,
		BlockSizeUnshifted: 0, // 1024 << 0 == 1024
		BlocksPerGroup: testBlocksPerGrp,
		InodesPerGroup: testInodesPerGrp,
		Signature: Signature,
		VersionMajor: 0,
	}

	// Layout (in 1024-byte blocks): 0=boot, 1=superblock, 2=BGDT,
	// 3=block bitmap, 4=inode bitmap, 5..12=inode table (8 blocks of
	// 1024/128=8 inodes each), 13+=data blocks.
	const (
		blkBGDT = 2
		blkBlockBitmap = 3
		blkInodeBitmap = 4
		blkInodeTable = 5
		inodeTableBlocks = 8
		firstDataBlock = blkInodeTable + inodeTableBlocks
	)

	bgd := BlockGroupDescriptor{
		BlockBitmapBlockAddr: blkBlockBitmap,
		InodeBitmapBlockAddr: blkInodeBitmap,
		InodeTableBlockAddr: blkInodeTable,
	}

	writeRaw := func(blockNo int, b []byte) {
		lba := uint64(blockNo * 2) // 1024/512 = 2 sectors per block
		dev.WriteSectors(lba, 2, padTo(b, 1024))
	}

	sbBuf := new(bytes.Buffer)
	require.NoError(t, binary.Write(sbBuf, binary.LittleEndian, &sb))
	// superblock lives at byte 1024 == block 1 for block_size 1024
	writeRaw(1, sbBuf.Bytes())

	bgdBuf := new(bytes.Buffer)
	require.NoError(t, binary.Write(bgdBuf, binary.LittleEndian, &bgd))
	writeRaw(blkBGDT, bgdBuf.Bytes())

	// Mark absolute blocks [1..firstDataBlock) used (bit 0 == block 1,
	// since block_size==1024 puts group 0's first block at 1).
	blockBitmap := make([]byte, 1024)
	markUsed := func(absoluteBlock int) { blockBitmap[(absoluteBlock-1)/8] |= 1 << uint((absoluteBlock-1)%8) }
	for b := 1; b < firstDataBlock; b++ {
		markUsed(b)
	}

	inodeBitmap := make([]byte, 1024)
	inodeBitmap[0] = 0x03 // inodes 1,2 reserved/root used
	inodeBitmap[1] = 0x08 // inode 12 used (bit 3 of byte 1 == inode 12)

	inodeTable := make([]byte, inodeTableBlocks*1024)

	writeInodeAt := func(ino int, inode Inode) {
		off := (ino - 1) * 128
		buf := new(bytes.Buffer)
		require.NoError(t, binary.Write(buf, binary.LittleEndian, &inode))
		copy(inodeTable[off:], buf.Bytes())
	}

	// Root directory inode 2: one data block with "." and "..".
	rootDataBlock := firstDataBlock
	markUsed(rootDataBlock)
	rootInode := Inode{Permissions: InodeTypeDirectory | 0755, Links: 2, Sectors: 2, SizeLower: 1024}
	rootInode.DirectPointer[0] = uint32(rootDataBlock)
	writeInodeAt(2, rootInode)

	rootBlock := make([]byte, 1024)
	writeDirentRaw(rootBlock, 0, 2, 12, ".")
	writeDirentRaw(rootBlock, 12, 2, 1024-12, "..")
	writeRaw(rootDataBlock, rootBlock)

	// File inode 12: data spans 2 direct blocks + a singly-indirect
	// block referencing 2 more data blocks (4 blocks total, 4096 bytes).
	direct0 := firstDataBlock + 1
	direct1 := firstDataBlock + 2
	indirectBlock := firstDataBlock + 3
	indirData0 := firstDataBlock + 4
	indirData1 := firstDataBlock + 5
	for _, b := range []int{direct0, direct1, indirectBlock, indirData0, indirData1} {
		markUsed(b)
	}

	fileInode := Inode{Permissions: InodeTypeRegularFile | 0644, Links: 1}
	fileInode.DirectPointer[0] = uint32(direct0)
	fileInode.DirectPointer[1] = uint32(direct1)
	fileInode.SinglyIndirect = uint32(indirectBlock)
	fileInode.SizeLower = uint32(len(fileData))
	fileInode.Sectors = uint32((len(fileData) + 511) / 512)
	writeInodeAt(12, fileInode)

	writeRaw(direct0, fileData[0:1024])
	writeRaw(direct1, fileData[1024:2048])

	indirBuf := make([]byte, 1024)
	binary.LittleEndian.PutUint32(indirBuf[0:], uint32(indirData0))
	binary.LittleEndian.PutUint32(indirBuf[4:], uint32(indirData1))
	writeRaw(indirectBlock, indirBuf)
	writeRaw(indirData0, fileData[2048:3072])
	writeRaw(indirData1, fileData[3072:4096])

	writeRaw(blkBlockBitmap, blockBitmap)
	writeRaw(blkInodeBitmap, inodeBitmap)
	for i := 0; i < inodeTableBlocks; i++ {
		writeRaw(blkInodeTable+i, inodeTable[i*1024:(i+1)*1024])
	}

	return dev
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func writeDirentRaw(block []byte, off int, ino int, recLen uint16, name string) {
	binary.LittleEndian.PutUint32(block[off:], uint32(ino))
	binary.LittleEndian.PutUint16(block[off+4:], recLen)
	block[off+6] = byte(len(name))
	block[off+7] = 2
	copy(block[off+8:], name)
}

func TestMountAndResolveRootInode(t *testing.T) {
	dev := buildImage(t, bytes.Repeat([]byte{0x42}, 4096))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	root, err := fs.ResolveInode(2)
	require.NoError(t, err)
	require.True(t, root.IsDirectory())

	entries, err := fs.Readdir(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, "..", entries[1].Name)
}

// TestSinglyIndirectDataReadsBackByteIdentical exercises property 1's
// core machinery via the singly-indirect path : data spanning direct pointers plus an indirect block reads
// back byte-identical.
func TestSinglyIndirectDataReadsBackByteIdentical(t *testing.T) {
	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i % 251)
	}
	dev := buildImage(t, want)
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	fileInode, err := fs.ResolveInode(12)
	require.NoError(t, err)
	require.True(t, fileInode.IsRegularFile())
	require.EqualValues(t, len(want), fileInode.Size())

	rdr, err := fs.Open(fileInode)
	require.NoError(t, err)
	got := make([]byte, len(want))
	n, err := rdr.Read(got)
	for n < len(got) && err == nil {
		var k int
		k, err = rdr.Read(got[n:])
		n += k
	}
	require.True(t, err == nil)
	require.Equal(t, want, got)
}

// TestWriteRoundTrip is this package's testable property 1 restricted to the
// direct-pointer range this engine's write path supports.
func TestWriteRoundTrip(t *testing.T) {
	dev := buildImage(t, bytes.Repeat([]byte{0}, 4096))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	inode, err := fs.ResolveInode(12)
	require.NoError(t, err)

	payload := []byte("hello ext2 world, round tripping through direct pointers")
	require.NoError(t, fs.Write(12, inode, 0, payload))

	reloaded, err := fs.ResolveInode(12)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), reloaded.Size())

	rdr, err := fs.Open(reloaded)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	_, err = rdr.Read(got)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// TestSparseOffsetWriteZeroFillsGapAndPersistsAcrossRemount is this package's
// sparse-write-extension property: a write starting past the current EOF,
// at an offset that skips an entire untouched block, must zero-fill the gap
// rather than leave stale device content, grow the free-block counters by
// exactly the blocks it allocated, and survive a remount.
func TestSparseOffsetWriteZeroFillsGapAndPersistsAcrossRemount(t *testing.T) {
	dev := buildImage(t, bytes.Repeat([]byte{0}, 4096))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	freeBlocksBefore := fs.sb.UnallocatedBlocks

	inode, err := fs.ResolveInode(12)
	require.NoError(t, err)
	blocksHad := int((inode.Size() + fs.blockSize - 1) / fs.blockSize)

	// Inode 12 already has 4 direct/indirect-referenced blocks of data from
	// buildImage, but Write only ever grows the direct-pointer range (it
	// never walks the indirect block), so the write path's own notion of
	// "blocks had" starts from inode.Size() regardless of how that size was
	// produced. Offset targets the 6th direct-pointer block (index 5),
	// deliberately skipping blocks beyond blocksHad that the write never
	// touches directly.
	offset := int64(5) * fs.blockSize
	payload := []byte("tail payload written past a sparse gap")
	require.NoError(t, fs.Write(12, inode, offset, payload))

	blocksAfter := int((inode.Size() + fs.blockSize - 1) / fs.blockSize)
	newBlocks := blocksAfter - blocksHad
	require.Equal(t, fs.sb.UnallocatedBlocks, freeBlocksBefore-uint32(newBlocks))

	// The gap block (index 4, between the 4 pre-existing blocks and the
	// newly written tail) must read back as zero, not stale device bytes.
	gapBlock, err := fs.loadBlock(int(inode.DirectPointer[4]))
	require.NoError(t, err)
	require.Equal(t, make([]byte, fs.blockSize), gapBlock)

	rdr, err := fs.Open(inode)
	require.NoError(t, err)
	tail := make([]byte, len(payload))
	_, err = io.CopyN(io.Discard, rdr, offset)
	require.NoError(t, err)
	_, err = io.ReadFull(rdr, tail)
	require.NoError(t, err)
	require.Equal(t, payload, tail)

	// Remount from the same backing device and confirm the write, the
	// size, and the free-block accounting all survive.
	fs2, err := Mount(dev, 0)
	require.NoError(t, err)
	require.Equal(t, freeBlocksBefore-uint32(newBlocks), fs2.sb.UnallocatedBlocks)

	reloaded, err := fs2.ResolveInode(12)
	require.NoError(t, err)
	require.EqualValues(t, offset+int64(len(payload)), reloaded.Size())

	rdr2, err := fs2.Open(reloaded)
	require.NoError(t, err)
	tail2 := make([]byte, len(payload))
	_, err = io.CopyN(io.Discard, rdr2, offset)
	require.NoError(t, err)
	_, err = io.ReadFull(rdr2, tail2)
	require.NoError(t, err)
	require.Equal(t, payload, tail2)
}

// TestMkdirProducesDotAndDotDot is S4: mkdir on an (effectively) fresh
// directory yields exactly [".", ".."] and bumps the parent's link count.
func TestMkdirProducesDotAndDotDot(t *testing.T) {
	dev := buildImage(t, bytes.Repeat([]byte{0}, 4096))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	root, err := fs.ResolveInode(2)
	require.NoError(t, err)
	linksBefore := root.Links

	newIno, err := fs.Mkdir(2, "sub", 0755)
	require.NoError(t, err)

	newDir, err := fs.ResolveInode(newIno)
	require.NoError(t, err)
	entries, err := fs.Readdir(newDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, "..", entries[1].Name)

	root, err = fs.ResolveInode(2)
	require.NoError(t, err)
	require.Equal(t, linksBefore+1, root.Links)

	rootEntries, err := fs.Readdir(root)
	require.NoError(t, err)
	var found bool
	for _, e := range rootEntries {
		if e.Name == "sub" {
			found = true
		}
	}
	require.True(t, found)
}
