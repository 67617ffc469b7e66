package vfs

import "sync"

// FMode is the access-mode mask carried by a FileEntry.
type FMode int

const (
	FRead FMode = 1 << iota
	FWrite
	FAppend
)

// FileEntry is a reference-counted open-file object (spec.md §3). Multiple
// descriptor slots, even across processes, may reference the same entry;
// the entry owns exactly one reference on its vnode.
type FileEntry struct {
	mu       sync.Mutex
	refcount int

	Vnode *Vnode
	Pos   int64
	Mode  FMode
}

func NewFileEntry(v *Vnode, mode FMode) *FileEntry {
	v.Ref()
	return &FileEntry{refcount: 1, Vnode: v, Mode: mode}
}

func (f *FileEntry) Ref() {
	f.mu.Lock()
	f.refcount++
	f.mu.Unlock()
}

// Put releases one reference; when the last reference goes away, the
// entry's vnode reference is released too.
func (f *FileEntry) Put() {
	f.mu.Lock()
	f.refcount--
	zero := f.refcount == 0
	f.mu.Unlock()

	if zero {
		f.Vnode.Put()
	}
}

func (f *FileEntry) Refcount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refcount
}
