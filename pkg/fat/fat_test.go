package fat

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/stretchr/testify/require"
)

// memDevice is a minimal in-memory block.Device used to build and mount
// synthetic FAT images without real hardware (mirrors pkg/ext2's test
// fixture of the same name).
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

// buildFAT12Image constructs a minimal one-FAT FAT12 volume: 1 reserved
// (boot) sector, 1 FAT sector, 1 root-directory sector (16 entries), and 7
// one-sector clusters. The root directory holds a single file named
// "HelloWorld.txt" via two LFN fragments plus its 8.3 entry, occupying
// cluster 2 whose FAT entry is the FAT12 end-of-chain sentinel.
func buildFAT12Image(t *testing.T, fileData []byte) *memDevice {
	t.Helper()
	const sectorSize = 512
	dev := newMemDevice(10, sectorSize)

	boot := make([]byte, sectorSize)
	boot[0] = 0xEB
	boot[1] = 0x3C
	boot[2] = 0x90
	binary.LittleEndian.PutUint16(boot[11:], sectorSize) // BytesPerSector
	boot[13] = 1 // SectorsPerCluster
	binary.LittleEndian.PutUint16(boot[14:], 1) // ReservedSectors
	boot[16] = 1 // NumFATs
	binary.LittleEndian.PutUint16(boot[17:], 16) // RootEntCnt (1 sector)
	binary.LittleEndian.PutUint16(boot[19:], 10) // TotSec16
	boot[21] = 0xF0 // MediaType
	binary.LittleEndian.PutUint16(boot[22:], 1) // FATSz16
	binary.LittleEndian.PutUint16(boot[510:], 0xAA55)
	require.NoError(t, writeAt(dev, 0, boot))

	fat := make([]byte, sectorSize)
	// Cluster 2's 12-bit entry (byte offset c+c/2 == 3) set to the FAT12
	// end-of-chain sentinel 0xFFF.
	fat[3] = 0xFF
	fat[4] = 0x0F
	require.NoError(t, writeAt(dev, 1, fat))

	root := make([]byte, sectorSize)
	name := "HelloWorld.txt"
	units := utf16Units(name)
	// order=1 fragment: first 13 units.
	frag1 := padLFNUnits(units[0:13])
	// order=2|last fragment: remaining unit(s), null-terminated, 0xFFFF-filled.
	frag2 := padLFNUnits(units[13:])

	writeLFNEntry(root[0:32], 2|lfnLastEntryBit, frag2)
	writeLFNEntry(root[32:64], 1, frag1)
	writeShortEntry(root[64:96], "HELLOW~1TXT", attrArchive, 2, uint32(len(fileData)))
	require.NoError(t, writeAt(dev, 2, root))

	require.NoError(t, writeAt(dev, 3, padTo(fileData, sectorSize)))

	return dev
}

func writeAt(dev *memDevice, sector uint32, buf []byte) error {
	_, err := dev.WriteSectors(uint64(sector), 1, padTo(buf, int(dev.sectorSize)))
	return err
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// utf16Units renders an ASCII name as UTF-16 code units (no surrogates
// needed for this test's name set).
func utf16Units(s string) []uint16 {
	units := make([]uint16, len(s))
	for i, r := range s {
		units[i] = uint16(r)
	}
	return units
}

// padLFNUnits pads a short UTF-16 run to 13 units: a null terminator
// immediately after the real characters, then 0xFFFF filler, matching the
// on-disk convention for a name that doesn't exactly fill its last
// fragment.
func padLFNUnits(units []uint16) []uint16 {
	out := make([]uint16, 13)
	copy(out, units)
	if len(units) < 13 {
		out[len(units)] = 0x0000
		for i := len(units) + 1; i < 13; i++ {
			out[i] = 0xFFFF
		}
	}
	return out
}

func writeLFNEntry(rec []byte, order uint8, units []uint16) {
	l := rawLFNEntry{Order: order, Attr: attrLFN}
	copy(l.Name1[:], units[0:5])
	copy(l.Name2[:], units[5:11])
	copy(l.Name3[:], units[11:13])
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &l)
	copy(rec, buf.Bytes())
}

func writeShortEntry(rec []byte, packedName string, attr uint8, cluster uint32, size uint32) {
	d := rawDirent{Attr: attr, FstClusLO: uint16(cluster), FstClusHI: uint16(cluster >> 16), FileSize: size}
	copy(d.Name[:], packedName)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &d)
	copy(rec, buf.Bytes())
}

func TestMountClassifiesFAT12ByClusterCount(t *testing.T) {
	dev := buildFAT12Image(t, []byte("hello, fat world"))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)
	require.Equal(t, Type12, fs.Type())
}

// TestFAT12ClusterChainTerminatesOnSentinel is property 4: given a
// synthetic FAT12 buffer with a known chain, the walker yields exactly
// that sequence and terminates on the first value >=0xFF8.
func TestFAT12ClusterChainTerminatesOnSentinel(t *testing.T) {
	dev := buildFAT12Image(t, []byte("hello, fat world"))
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	chain, err := fs.ClusterChain(2)
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, chain)
}

// TestLFNFileReadsBackByteForByte is S5: a FAT12 image containing a single
// file with long name "HelloWorld.txt" has both finddir("HelloWorld.txt")
// returning an entry of size N and read(entry, 0, N) returning the file
// contents byte-for-byte.
func TestLFNFileReadsBackByteForByte(t *testing.T) {
	want := []byte("Hello from a long file name test, FAT12 style!")
	dev := buildFAT12Image(t, want)
	fs, err := Mount(dev, 0)
	require.NoError(t, err)

	entries, err := fs.Readdir(fs.RootCluster())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "HelloWorld.txt", entries[0].Name)
	require.EqualValues(t, len(want), entries[0].Size)

	entry, err := fs.Lookup("HelloWorld.txt")
	require.NoError(t, err)
	require.Equal(t, entries[0].Cluster, entry.Cluster)

	rdr, err := fs.Open(entry)
	require.NoError(t, err)
	got, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
