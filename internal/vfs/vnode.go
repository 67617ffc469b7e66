// Package vfs implements the virtual file system namespace, path
// resolution, and per-process descriptor table described in spec.md §4.E.
package vfs

import (
	"sync"

	"github.com/sandia-minimega/minimega/internal/vm"
)

// Mode is a vnode's type.
type Mode int

const (
	ModeRegular Mode = iota + 1
	ModeDir
	ModeChar
	ModeBlock
)

// Stat mirrors the subset of file metadata the core's stat(2) reports.
type Stat struct {
	Inode  int64
	Mode   Mode
	Length int64
	Dev    int
}

// Dirent is one entry produced by Readdir.
type Dirent struct {
	Inode int64
	Name  string
}

// Ops is the per-filesystem vtable spec.md §1 requires of a concrete
// driver: {lookup, create, mkdir, rmdir, mknod, link, unlink, read, write,
// readdir, stat, mmap}.
type Ops interface {
	Lookup(dir *Vnode, name string) (*Vnode, error)
	Create(dir *Vnode, name string) (*Vnode, error)
	Mkdir(dir *Vnode, name string) (*Vnode, error)
	Rmdir(dir *Vnode, name string) error
	Mknod(dir *Vnode, name string, mode Mode, dev int) (*Vnode, error)
	Link(dir *Vnode, name string, target *Vnode) error
	Unlink(dir *Vnode, name string) error
	Read(v *Vnode, pos int64, buf []byte) (int, error)
	Write(v *Vnode, pos int64, buf []byte) (int, error)
	Readdir(v *Vnode, pos int64, out *Dirent) (int, error)
	Stat(v *Vnode, out *Stat) error
	Mmap(v *Vnode) (vm.MMObj, error)
}

// Vnode is a reference-counted handle to a file-system object (spec.md §3).
type Vnode struct {
	mu       sync.Mutex
	refcount int

	Inode  int64
	Mode   Mode
	Length int64
	Dev    int

	Ops  Ops
	Data interface{} // filesystem-private state

	mmobj vm.MMObj
}

func New(ops Ops, mode Mode, inode int64) *Vnode {
	return &Vnode{refcount: 1, Ops: ops, Mode: mode, Inode: inode}
}

func (v *Vnode) Ref() {
	v.mu.Lock()
	v.refcount++
	v.mu.Unlock()
}

// Put releases one reference. The concrete driver owns destruction of the
// underlying object when the count reaches zero; the in-memory drivers in
// this module keep vnodes alive for the process lifetime and rely on Go's
// GC, matching spec.md's "persistent state: none" note (there is no disk
// object to flush).
func (v *Vnode) Put() {
	v.mu.Lock()
	v.refcount--
	v.mu.Unlock()
}

func (v *Vnode) Refcount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refcount
}

func (v *Vnode) IsDir() bool { return v.Mode == ModeDir }

// Mmap implements vm.FileBacking: returns the vnode's lazily-allocated
// mmobj, creating it via the driver's Mmap op on first use.
func (v *Vnode) Mmap() (vm.MMObj, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mmobj != nil {
		v.mmobj.Ref()
		return v.mmobj, nil
	}

	obj, err := v.Ops.Mmap(v)
	if err != nil {
		return nil, err
	}
	v.mmobj = obj
	return obj, nil
}
