// Package tmpfs is a minimal in-memory vnode driver: the "concrete
// filesystem driver" spec.md §1 scopes out, provided here so the VFS
// layer (internal/vfs) can actually be exercised without a disk or a
// network filesystem. See internal/ninepfs for a second, protocol-backed
// driver used for mmap/file-object demonstrations.
package tmpfs

import (
	"sync"
	"sync/atomic"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
	"github.com/sandia-minimega/minimega/internal/vfs"
	"github.com/sandia-minimega/minimega/internal/vm"
)

var nextInode int64

func allocInode() int64 {
	return atomic.AddInt64(&nextInode, 1)
}

// FS is a whole in-memory filesystem: just enough shared state (the frame
// allocator backing mmap'd regular files) for its vnodes' Ops to use.
type FS struct {
	Alloc hal.FrameAllocator
}

func New(alloc hal.FrameAllocator) *FS {
	return &FS{Alloc: alloc}
}

// dirData is the tmpfs-private state of a directory vnode.
type dirData struct {
	mu      sync.Mutex
	entries map[string]*vfs.Vnode
	order   []string // insertion order, for stable Readdir
}

// fileData is the tmpfs-private state of a regular-file vnode.
type fileData struct {
	mu   sync.Mutex
	data []byte
}

// NewRoot creates a fresh empty root directory vnode.
func (fs *FS) NewRoot() *vfs.Vnode {
	v := vfs.New(fs, vfs.ModeDir, allocInode())
	v.Data = &dirData{entries: map[string]*vfs.Vnode{}}
	return v
}

func dirDataOf(v *vfs.Vnode) *dirData { return v.Data.(*dirData) }

func (fs *FS) Lookup(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.entries[name]
	if !ok {
		return nil, kerrno.ENOENT
	}
	v.Ref()
	return v, nil
}

func (fs *FS) Create(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; ok {
		return nil, kerrno.EEXIST
	}

	v := vfs.New(fs, vfs.ModeRegular, allocInode())
	v.Data = &fileData{}
	d.entries[name] = v
	d.order = append(d.order, name)

	v.Ref()
	return v, nil
}

func (fs *FS) Mkdir(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; ok {
		return nil, kerrno.EEXIST
	}

	v := fs.NewRoot()
	d.entries[name] = v
	d.order = append(d.order, name)
	return v, nil
}

func (fs *FS) Rmdir(dir *vfs.Vnode, name string) error {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.entries[name]
	if !ok {
		return kerrno.ENOENT
	}
	if !target.IsDir() {
		return kerrno.ENOTDIR
	}
	if len(dirDataOf(target).entries) > 0 {
		return kerrno.ENOTEMPTY
	}

	delete(d.entries, name)
	d.order = removeName(d.order, name)
	return nil
}

func (fs *FS) Mknod(dir *vfs.Vnode, name string, mode vfs.Mode, dev int) (*vfs.Vnode, error) {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; ok {
		return nil, kerrno.EEXIST
	}

	v := vfs.New(fs, mode, allocInode())
	v.Dev = dev
	d.entries[name] = v
	d.order = append(d.order, name)
	return v, nil
}

func (fs *FS) Link(dir *vfs.Vnode, name string, target *vfs.Vnode) error {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[name]; ok {
		return kerrno.EEXIST
	}

	target.Ref()
	d.entries[name] = target
	d.order = append(d.order, name)
	return nil
}

func (fs *FS) Unlink(dir *vfs.Vnode, name string) error {
	d := dirDataOf(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.entries[name]
	if !ok {
		return kerrno.ENOENT
	}

	delete(d.entries, name)
	d.order = removeName(d.order, name)
	target.Put()
	return nil
}

func (fs *FS) Read(v *vfs.Vnode, pos int64, buf []byte) (int, error) {
	if v.Mode == vfs.ModeChar || v.Mode == vfs.ModeBlock {
		return 0, kerrno.ENXIO
	}

	f := v.Data.(*fileData)
	f.mu.Lock()
	defer f.mu.Unlock()

	if pos >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[pos:])
	return n, nil
}

func (fs *FS) Write(v *vfs.Vnode, pos int64, buf []byte) (int, error) {
	if v.Mode == vfs.ModeChar || v.Mode == vfs.ModeBlock {
		return 0, kerrno.ENXIO
	}

	f := v.Data.(*fileData)
	f.mu.Lock()
	defer f.mu.Unlock()

	end := pos + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[pos:end], buf)
	return len(buf), nil
}

func (fs *FS) Readdir(v *vfs.Vnode, pos int64, out *vfs.Dirent) (int, error) {
	d := dirDataOf(v)
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := int(pos)
	if idx >= len(d.order) {
		return 0, nil
	}

	name := d.order[idx]
	out.Name = name
	out.Inode = d.entries[name].Inode
	return 1, nil
}

func (fs *FS) Stat(v *vfs.Vnode, out *vfs.Stat) error {
	out.Inode = v.Inode
	out.Mode = v.Mode
	out.Dev = v.Dev

	if v.Mode == vfs.ModeRegular {
		if f, ok := v.Data.(*fileData); ok {
			f.mu.Lock()
			out.Length = int64(len(f.data))
			f.mu.Unlock()
		}
	} else {
		out.Length = v.Length
	}
	return nil
}

// Mmap backs a regular file with a vm.FileObj reading/writing through the
// in-memory byte slice directly (no page cache miss is ever possible,
// since the "disk" already lives in RAM -- this still exercises the full
// shadow/COW machinery in internal/vm exactly as a real file would).
func (fs *FS) Mmap(v *vfs.Vnode) (vm.MMObj, error) {
	if v.Mode != vfs.ModeRegular {
		return nil, kerrno.ENXIO
	}
	f := v.Data.(*fileData)

	read := func(pagenum int, buf []byte) (int, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		off := pagenum * vm.PageSize
		if off >= len(f.data) {
			return 0, nil
		}
		n := copy(buf, f.data[off:])
		return n, nil
	}

	write := func(pagenum int, buf []byte) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		off := pagenum * vm.PageSize
		end := off + len(buf)
		if end > len(f.data) {
			grown := make([]byte, end)
			copy(grown, f.data)
			f.data = grown
		}
		copy(f.data[off:end], buf)
		return nil
	}

	obj := vm.NewFile(fs.Alloc, read, write)
	obj.Ref()
	return obj, nil
}

func removeName(order []string, name string) []string {
	for i, n := range order {
		if n == name {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
