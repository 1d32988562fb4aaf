// Package vfs implements the thin VFS gateway of: each
// filesystem driver presents a Node exposing attributes and operation
// slots; the gateway only dispatches to them. The mount registry follows
// pkg/virtualizers pattern (package-level map populated by
// each backend's init(), looked up by a string type key) — see
// pkg/virtualizers/virtualizer.go's registeredVirtualizers/Register.
package vfs

import (
	"strings"
	"sync"

	"github.com/ethereal-os/devicecore/pkg/block"
	"github.com/ethereal-os/devicecore/pkg/ioerr"
)

// Kind is a node's type attribute set.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindBlockDevice
	KindCharDevice
	KindSymlink
	KindPipe
	KindSocket
)

// Attr is a node's metadata, independent of which backend populated it.
type Attr struct {
	Name string
	Kind Kind
	Mode uint16
	UID uint16
	GID uint16
	Size int64
	ATime uint32
	MTime uint32
	CTime uint32
}

// DirEntry is one entry yielded by Node.Readdir.
type DirEntry struct {
	Name string
	Kind Kind
}

// Node is the capability interface every filesystem backend's entries
// satisfy. A leaf node need not implement every slot meaningfully: e.g. in
// the ext2 and FAT backends a directory's Read returns EINVAL, and ext2
// rejects a regular file's Readdir with EINVAL, matching "the VFS invokes the slots;
// implementations... populate them per entry kind."
type Node interface {
	Attr() Attr
	Read(p []byte, offset int64) (int, error)
	Write(p []byte, offset int64) (int, error)
	Readdir() ([]DirEntry, error)
	Lookup(name string) (Node, error)
	Create(name string, mode uint16) (Node, error)
	Mkdir(name string, mode uint16) (Node, error)
}

// MountFunc mounts a backend filesystem over a block device at a
// partition-relative sector offset, returning its root Node.
type MountFunc func(dev block.Device, partLBA uint64) (Node, error)

var (
	registryMu sync.RWMutex
	registry = make(map[string]MountFunc)
)

// RegisterFilesystem adds a named, mountable filesystem backend. Backends
// call this from their own init() (ext2.Register, fat.Register), matching
// named/registry-based pluggable backend pattern.
func RegisterFilesystem(name string, mount MountFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = mount
}

// MountRegistry records the live mounts by target path: Mount resolves a
// filesystem by name and stores the returned root Node here, so Lookup
// path resolution is done by the registry, not by the backend itself.
type MountRegistry struct {
	mu sync.RWMutex
	mounts map[string]*mountEntry
}

type mountEntry struct {
	target string
	root Node
}

// NewMountRegistry builds an empty registry of live mounts.
func NewMountRegistry() *MountRegistry {
	return &MountRegistry{mounts: make(map[string]*mountEntry)}
}

// Mount mounts fsName (a name previously passed to RegisterFilesystem) from
// dev/partLBA at target "(source-path, target-path) →
// root-node | errno".
func (r *MountRegistry) Mount(fsName, target string, dev block.Device, partLBA uint64) (Node, error) {
	registryMu.RLock()
	mountFn, ok := registry[fsName]
	registryMu.RUnlock()
	if !ok {
		return nil, ioerr.ENOTSUP
	}
	root, err := mountFn(dev, partLBA)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.mounts[target] = &mountEntry{target: target, root: root}
	r.mu.Unlock()
	return root, nil
}

// Unmount drops a live mount at target.
func (r *MountRegistry) Unmount(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounts, target)
}

// Resolve finds the mount whose target is the longest prefix of path, and
// returns that mount's root plus path's remainder relative to it — the
// gateway's only routing logic.
func (r *MountRegistry) Resolve(path string) (Node, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *mountEntry
	for _, m := range r.mounts {
		if m.target == "/" || strings.HasPrefix(path, m.target) {
			if best == nil || len(m.target) > len(best.target) {
				best = m
			}
		}
	}
	if best == nil {
		return nil, "", ioerr.EINVAL
	}
	rel := strings.TrimPrefix(path, best.target)
	return best.root, strings.TrimPrefix(rel, "/"), nil
}

// Lookup walks a full path to the innermost Node, crossing into whichever
// mount owns it first.
func (r *MountRegistry) Lookup(path string) (Node, error) {
	root, rel, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	node := root
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return node, nil
	}
	for _, part := range strings.Split(rel, "/") {
		node, err = node.Lookup(part)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}
