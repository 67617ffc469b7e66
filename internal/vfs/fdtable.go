package vfs

import (
	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// Open-flag bit layout, per spec.md §6 (exact encoding required).
const (
	ORdOnly = 0
	OWrOnly = 1
	ORdWr   = 2

	OCreat  = 1 << 8
	OAppend = 1 << 10

	validFlagMask = 0x3 | OCreat | OAppend
)

// Whence values for Lseek.
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// DefaultDescriptors is the typical fixed descriptor-table size spec.md
// §3 mentions ("size N, typically 32").
const DefaultDescriptors = 32

// Namespace is one process's view of the filesystem: its descriptor
// table and current-working-directory vnode. Root is shared across every
// process in the kernel.
type Namespace struct {
	Root  *Vnode
	Cwd   *Vnode
	Files []*FileEntry
}

// NewNamespace creates an empty descriptor table of n slots, with cwd
// (ref bumped) as the initial working directory.
func NewNamespace(root, cwd *Vnode, n int) *Namespace {
	if n <= 0 {
		n = DefaultDescriptors
	}
	cwd.Ref()
	return &Namespace{Root: root, Cwd: cwd, Files: make([]*FileEntry, n)}
}

// Clone duplicates the descriptor table (sharing entries, bumping each
// entry's refcount) and bumps the cwd reference, per fork step 6.
func (ns *Namespace) Clone() *Namespace {
	nn := &Namespace{
		Root:  ns.Root,
		Cwd:   ns.Cwd,
		Files: make([]*FileEntry, len(ns.Files)),
	}
	nn.Cwd.Ref()

	for i, f := range ns.Files {
		if f != nil {
			f.Ref()
			nn.Files[i] = f
		}
	}
	return nn
}

// Destroy closes every open descriptor and releases cwd, per proc_cleanup.
func (ns *Namespace) Destroy() {
	for fd := range ns.Files {
		if ns.Files[fd] != nil {
			_ = ns.Close(fd)
		}
	}
	ns.Cwd.Put()
}

func (ns *Namespace) validFD(fd int) error {
	if fd < 0 || fd >= len(ns.Files) {
		return kerrno.EBADF
	}
	if ns.Files[fd] == nil {
		return kerrno.EBADF
	}
	return nil
}

func (ns *Namespace) allocFD() (int, error) {
	for i, f := range ns.Files {
		if f == nil {
			return i, nil
		}
	}
	return -1, kerrno.EMFILE
}

// Open implements open(2): validates flags, resolves path (honoring
// O_CREAT), rejects writing to a directory, and installs a fresh file
// entry at a free descriptor slot.
func (ns *Namespace) Open(path string, flags int) (int, error) {
	if flags&^validFlagMask != 0 {
		return -1, kerrno.EINVAL
	}
	accessMode := flags & 0x3
	if accessMode == 3 {
		return -1, kerrno.EINVAL
	}

	fd, err := ns.allocFD()
	if err != nil {
		return -1, err
	}

	vn, err := OpenNamev(path, flags, nil, ns.Cwd, ns.Root)
	if err != nil {
		return -1, err
	}

	var mode FMode
	switch accessMode {
	case ORdOnly:
		mode = FRead
	case OWrOnly:
		mode = FWrite
	case ORdWr:
		mode = FRead | FWrite
	}
	if flags&OAppend != 0 {
		mode |= FAppend
	}

	if mode&(FWrite|FAppend) != 0 && vn.IsDir() {
		vn.Put()
		return -1, kerrno.EISDIR
	}

	fe := NewFileEntry(vn, mode)
	vn.Put() // fe holds its own reference now

	ns.Files[fd] = fe
	return fd, nil
}

// Close releases the descriptor slot. Exactly one Put per open reference.
func (ns *Namespace) Close(fd int) error {
	if err := ns.validFD(fd); err != nil {
		return err
	}
	fe := ns.Files[fd]
	ns.Files[fd] = nil
	fe.Put()
	return nil
}

func (ns *Namespace) Read(fd int, buf []byte) (int, error) {
	if err := ns.validFD(fd); err != nil {
		return -1, err
	}
	fe := ns.Files[fd]
	if fe.Mode&FRead == 0 {
		return -1, kerrno.EBADF
	}
	if fe.Vnode.IsDir() {
		return -1, kerrno.EISDIR
	}

	fe.mu.Lock()
	pos := fe.Pos
	fe.mu.Unlock()

	n, err := fe.Vnode.Ops.Read(fe.Vnode, pos, buf)
	if err != nil {
		return -1, err
	}

	fe.mu.Lock()
	fe.Pos += int64(n)
	fe.mu.Unlock()

	return n, nil
}

func (ns *Namespace) Write(fd int, buf []byte) (int, error) {
	if err := ns.validFD(fd); err != nil {
		return -1, err
	}
	fe := ns.Files[fd]
	if fe.Mode&FWrite == 0 {
		return -1, kerrno.EBADF
	}

	if fe.Mode&FAppend != 0 {
		if _, err := ns.Lseek(fd, 0, SeekEnd); err != nil {
			return -1, err
		}
	}

	fe.mu.Lock()
	pos := fe.Pos
	fe.mu.Unlock()

	n, err := fe.Vnode.Ops.Write(fe.Vnode, pos, buf)
	if err != nil {
		return -1, err
	}

	fe.mu.Lock()
	fe.Pos += int64(n)
	newPos := fe.Pos
	fe.mu.Unlock()

	if fe.Vnode.Mode == ModeRegular && newPos > fe.Vnode.Length {
		fe.Vnode.Length = newPos
	}

	return n, nil
}

func (ns *Namespace) Dup(fd int) (int, error) {
	if err := ns.validFD(fd); err != nil {
		return -1, err
	}
	nfd, err := ns.allocFD()
	if err != nil {
		return -1, err
	}
	ns.Files[fd].Ref()
	ns.Files[nfd] = ns.Files[fd]
	return nfd, nil
}

func (ns *Namespace) Dup2(oldfd, newfd int) (int, error) {
	if err := ns.validFD(oldfd); err != nil {
		return -1, err
	}
	if newfd < 0 || newfd >= len(ns.Files) {
		return -1, kerrno.EBADF
	}
	if oldfd == newfd {
		return newfd, nil
	}
	if ns.Files[newfd] != nil {
		if err := ns.Close(newfd); err != nil {
			return -1, err
		}
	}
	ns.Files[oldfd].Ref()
	ns.Files[newfd] = ns.Files[oldfd]
	return newfd, nil
}

func (ns *Namespace) Lseek(fd int, off int64, whence int) (int64, error) {
	if err := ns.validFD(fd); err != nil {
		return -1, err
	}
	fe := ns.Files[fd]

	fe.mu.Lock()
	defer fe.mu.Unlock()

	var newPos int64
	switch whence {
	case SeekSet:
		newPos = off
	case SeekCur:
		newPos = fe.Pos + off
	case SeekEnd:
		newPos = fe.Vnode.Length + off
	default:
		return -1, kerrno.EINVAL
	}

	if newPos < 0 {
		return -1, kerrno.EINVAL
	}

	fe.Pos = newPos
	return newPos, nil
}

func (ns *Namespace) Getdent(fd int, out *Dirent) (int, error) {
	if err := ns.validFD(fd); err != nil {
		return -1, err
	}
	fe := ns.Files[fd]
	if !fe.Vnode.IsDir() {
		return -1, kerrno.ENOTDIR
	}

	fe.mu.Lock()
	pos := fe.Pos
	fe.mu.Unlock()

	n, err := fe.Vnode.Ops.Readdir(fe.Vnode, pos, out)
	if err != nil {
		return -1, err
	}

	fe.mu.Lock()
	fe.Pos += int64(n)
	fe.mu.Unlock()

	return n, nil
}

func (ns *Namespace) Mknod(path string, mode Mode, dev int) error {
	if mode != ModeChar && mode != ModeBlock {
		return kerrno.EINVAL
	}
	parent, name, err := DirNamev(path, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer parent.Put()

	var existing *Vnode
	if err := Lookup(parent, name, &existing); err == nil {
		return kerrno.EEXIST
	}

	_, err = parent.Ops.Mknod(parent, name, mode, dev)
	return err
}

func (ns *Namespace) Mkdir(path string) error {
	parent, name, err := DirNamev(path, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer parent.Put()

	if name == "" || name == "." || name == ".." {
		return kerrno.EINVAL
	}

	_, err = parent.Ops.Mkdir(parent, name)
	return err
}

func (ns *Namespace) Rmdir(path string) error {
	parent, name, err := DirNamev(path, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer parent.Put()

	if name == "." {
		return kerrno.EINVAL
	}
	if name == ".." {
		return kerrno.ENOTEMPTY
	}

	return parent.Ops.Rmdir(parent, name)
}

func (ns *Namespace) Unlink(path string) error {
	parent, name, err := DirNamev(path, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer parent.Put()

	var target *Vnode
	if err := Lookup(parent, name, &target); err != nil {
		return err
	}
	if target.IsDir() {
		return kerrno.EISDIR
	}

	return parent.Ops.Unlink(parent, name)
}

func (ns *Namespace) Link(from, to string) error {
	var src *Vnode
	if err := func() error {
		parent, name, err := DirNamev(from, nil, ns.Cwd, ns.Root)
		if err != nil {
			return err
		}
		defer parent.Put()
		return Lookup(parent, name, &src)
	}(); err != nil {
		return err
	}

	parent, name, err := DirNamev(to, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer parent.Put()

	var existing *Vnode
	if err := Lookup(parent, name, &existing); err == nil {
		return kerrno.EEXIST
	}

	return parent.Ops.Link(parent, name, src)
}

// Rename is link(old,new) followed by unlink(old): explicitly
// non-atomic, per spec.md §9's open question.
func (ns *Namespace) Rename(oldpath, newpath string) error {
	if err := ns.Link(oldpath, newpath); err != nil {
		return err
	}
	return ns.Unlink(oldpath)
}

func (ns *Namespace) Chdir(path string) error {
	vn, err := OpenNamev(path, 0, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	if !vn.IsDir() {
		vn.Put()
		return kerrno.ENOTDIR
	}

	ns.Cwd.Put()
	ns.Cwd = vn
	return nil
}

// FileAt returns the open file entry installed at fd, for callers (e.g.
// internal/kernel's mmap) that need the underlying vnode directly.
func (ns *Namespace) FileAt(fd int) (*FileEntry, error) {
	if err := ns.validFD(fd); err != nil {
		return nil, err
	}
	return ns.Files[fd], nil
}

func (ns *Namespace) Stat(path string, out *Stat) error {
	vn, err := OpenNamev(path, 0, nil, ns.Cwd, ns.Root)
	if err != nil {
		return err
	}
	defer vn.Put()

	return vn.Ops.Stat(vn, out)
}
