package fat

import (
	"io"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
	"github.com/ethereal-os/devicecore/pkg/vfs"
)

// node adapts a FAT directory entry to the vfs.Node capability interface.
type node struct {
	fs *FS
	entry DirectoryEntry
}

func (n *node) Attr() vfs.Attr {
	kind := vfs.KindFile
	if n.entry.IsDir {
		kind = vfs.KindDirectory
	}
	return vfs.Attr{Name: n.entry.Name, Kind: kind, Size: int64(n.entry.Size)}
}

func (n *node) Read(p []byte, offset int64) (int, error) {
	if n.entry.IsDir {
		return 0, ioerr.EINVAL
	}
	rdr, err := n.fs.Open(n.entry)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rdr, offset); err != nil {
			return 0, err
		}
	}
	return io.ReadFull(rdr, p)
}

func (n *node) Write(p []byte, offset int64) (int, error) {
	// FAT write paths are an explicit Non-goal.
	return 0, ioerr.ENOTSUP
}

func (n *node) Readdir() ([]vfs.DirEntry, error) {
	entries, err := n.fs.Readdir(n.entry.Cluster)
	if err != nil {
		return nil, err
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := vfs.KindFile
		if e.IsDir {
			kind = vfs.KindDirectory
		}
		out = append(out, vfs.DirEntry{Name: e.Name, Kind: kind})
	}
	return out, nil
}

func (n *node) Lookup(name string) (vfs.Node, error) {
	if !n.entry.IsDir {
		return nil, ioerr.ENOTSUP
	}
	entries, err := n.fs.Readdir(n.entry.Cluster)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return &node{fs: n.fs, entry: e}, nil
		}
	}
	return nil, ioerr.EINVAL
}

func (n *node) Create(name string, mode uint16) (vfs.Node, error) {
	return nil, ioerr.ENOTSUP
}

func (n *node) Mkdir(name string, mode uint16) (vfs.Node, error) {
	return nil, ioerr.ENOTSUP
}

// Register installs FAT under the name "vfat" in the VFS mount registry
// per named-registry pattern.
func Register() {
	vfs.RegisterFilesystem("vfat", mountNode)
}

func init() {
	Register()
}

func mountNode(dev block.Device, partLBA uint64) (vfs.Node, error) {
	fs, err := Mount(dev, partLBA)
	if err != nil {
		return nil, err
	}
	root := DirectoryEntry{IsDir: true, Cluster: fs.RootCluster()}
	return &node{fs: fs, entry: root}, nil
}
