package ext2

import (
	"io"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
	"github.com/ethereal-os/devicecore/pkg/vfs"
)

// node adapts an ext2 inode to the vfs.Node capability interface.
type node struct {
	fs *FS
	ino int
	in *Inode
}

func kindOf(in *Inode) vfs.Kind {
	switch {
	case in.IsDirectory():
		return vfs.KindDirectory
	case in.IsSymlink():
		return vfs.KindSymlink
	default:
		return vfs.KindFile
	}
}

func (n *node) Attr() vfs.Attr {
	return vfs.Attr{
		Kind: kindOf(n.in),
		Mode: n.in.Permissions &^ InodeTypeMask,
		UID: n.in.UID,
		GID: n.in.GID,
		Size: n.in.Size(),
		ATime: n.in.LastAccessTime,
		MTime: n.in.ModificationTime,
		CTime: n.in.CreationTime,
	}
}

func (n *node) Read(p []byte, offset int64) (int, error) {
	if n.in.IsDirectory() {
		return 0, ioerr.EINVAL
	}
	rdr, err := n.fs.Open(n.in)
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
	if err := n.fs.Write(n.ino, n.in, offset, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (n *node) Readdir() ([]vfs.DirEntry, error) {
	entries, err := n.fs.Readdir(n.in)
	if err != nil {
		return nil, err
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := vfs.KindFile
		if child, err := n.fs.ResolveInode(e.Inode); err == nil {
			kind = kindOf(child)
		}
		out = append(out, vfs.DirEntry{Name: e.Name, Kind: kind})
	}
	return out, nil
}

func (n *node) Lookup(name string) (vfs.Node, error) {
	if !n.in.IsDirectory() {
		return nil, ioerr.ENOTSUP
	}
	entries, err := n.fs.Readdir(n.in)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			child, err := n.fs.ResolveInode(e.Inode)
			if err != nil {
				return nil, err
			}
			return &node{fs: n.fs, ino: e.Inode, in: child}, nil
		}
	}
	return nil, ioerr.EINVAL
}

func (n *node) Create(name string, mode uint16) (vfs.Node, error) {
	return nil, ioerr.ENOTSUP
}

func (n *node) Mkdir(name string, mode uint16) (vfs.Node, error) {
	if !n.in.IsDirectory() {
		return nil, ioerr.ENOTSUP
	}
	newIno, err := n.fs.Mkdir(n.ino, name, mode)
	if err != nil {
		return nil, err
	}
	child, err := n.fs.ResolveInode(newIno)
	if err != nil {
		return nil, err
	}
	return &node{fs: n.fs, ino: newIno, in: child}, nil
}

// Register installs ext2 under the name "ext2" in the VFS mount registry
// per named-registry pattern
// (pkg/virtualizers.Register).
func Register() {
	vfs.RegisterFilesystem("ext2", mountNode)
}

func init() {
	Register()
}

func mountNode(dev block.Device, partLBA uint64) (vfs.Node, error) {
	fs, err := Mount(dev, partLBA)
	if err != nil {
		return nil, err
	}
	root, err := fs.ResolveInode(2)
	if err != nil {
		return nil, err
	}
	return &node{fs: fs, ino: 2, in: root}, nil
}
