package ninepfs

import (
	"sync/atomic"

	"github.com/Harvey-OS/ninep/protocol"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
	"github.com/sandia-minimega/minimega/internal/vfs"
	"github.com/sandia-minimega/minimega/internal/vm"
)

// FS is the vfs.Ops driver: a 9P mount over Server, addressed by
// re-walking from the attach fid on every call (this core's vnode vtable
// has no open/close hooks to anchor a longer-lived fid to, so each
// operation's fid is scoped to that operation alone).
type FS struct {
	alloc  hal.FrameAllocator
	srv    *protocol.Server
	ns     protocol.NineServer
	rootFd protocol.FID

	nextFid uint64
}

// handle is the ninepfs-private vnode state: the path components from the
// mount root.
type handle struct {
	path []string
}

// New mounts a fresh in-memory 9P tree, attaching once at fid 0 for the
// lifetime of the driver.
func New(alloc hal.FrameAllocator) (*FS, error) {
	backing := NewServer()
	srv, err := protocol.NewServer(backing)
	if err != nil {
		return nil, err
	}

	fs := &FS{alloc: alloc, srv: srv, ns: srv.NineServer(), rootFd: 0}
	if _, err := fs.ns.Rattach(fs.rootFd, protocol.NOFID, "kernel", ""); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FS) allocFid() protocol.FID {
	return protocol.FID(atomic.AddUint64(&fs.nextFid, 1))
}

// walk attaches a fresh fid to path (possibly empty, meaning the mount
// root) and returns it along with the QID of the final component. Caller
// must Rclunk the fid when done.
func (fs *FS) walk(path []string) (protocol.FID, protocol.QID, error) {
	fid := fs.allocFid()
	qids, err := fs.ns.Rwalk(fs.rootFd, fid, path)
	if err != nil {
		return 0, protocol.QID{}, translate(err)
	}
	var q protocol.QID
	if len(qids) > 0 {
		q = qids[len(qids)-1]
	}
	return fid, q, nil
}

func translate(err error) error {
	if e, ok := err.(kerrno.Errno); ok {
		return e
	}
	return kerrno.EFAULT
}

func modeOf(q protocol.QID) vfs.Mode {
	if q.Type&protocol.QTDIR != 0 {
		return vfs.ModeDir
	}
	return vfs.ModeRegular
}

func vnodeFor(fs *FS, path []string, q protocol.QID) *vfs.Vnode {
	v := vfs.New(fs, modeOf(q), int64(q.Path))
	v.Data = &handle{path: append([]string(nil), path...)}
	return v
}

// NewRoot returns the mount's root directory vnode.
func (fs *FS) NewRoot() *vfs.Vnode {
	return vnodeFor(fs, nil, protocol.QID{Type: protocol.QTDIR})
}

func pathOf(v *vfs.Vnode) []string { return v.Data.(*handle).path }

func (fs *FS) Lookup(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	path := append(append([]string(nil), pathOf(dir)...), name)
	fid, q, err := fs.walk(path)
	if err != nil {
		return nil, err
	}
	defer fs.ns.Rclunk(fid)
	return vnodeFor(fs, path, q), nil
}

func (fs *FS) Create(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	fid, _, err := fs.walk(pathOf(dir))
	if err != nil {
		return nil, err
	}
	defer fs.ns.Rclunk(fid)

	q, _, err := fs.ns.Rcreate(fid, name, 0, protocol.ORDWR)
	if err != nil {
		return nil, translate(err)
	}
	return vnodeFor(fs, append(append([]string(nil), pathOf(dir)...), name), q), nil
}

func (fs *FS) Mkdir(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	fid, _, err := fs.walk(pathOf(dir))
	if err != nil {
		return nil, err
	}
	defer fs.ns.Rclunk(fid)

	q, _, err := fs.ns.Rcreate(fid, name, protocol.Perm(protocol.DMDIR), protocol.OREAD)
	if err != nil {
		return nil, translate(err)
	}
	return vnodeFor(fs, append(append([]string(nil), pathOf(dir)...), name), q), nil
}

func (fs *FS) Rmdir(dir *vfs.Vnode, name string) error {
	return fs.remove(dir, name)
}

func (fs *FS) Unlink(dir *vfs.Vnode, name string) error {
	return fs.remove(dir, name)
}

func (fs *FS) remove(dir *vfs.Vnode, name string) error {
	path := append(append([]string(nil), pathOf(dir)...), name)
	fid, _, err := fs.walk(path)
	if err != nil {
		return err
	}
	return translate(fs.ns.Rremove(fid))
}

func (fs *FS) Mknod(dir *vfs.Vnode, name string, mode vfs.Mode, dev int) (*vfs.Vnode, error) {
	return nil, kerrno.ENXIO
}

func (fs *FS) Link(dir *vfs.Vnode, name string, target *vfs.Vnode) error {
	return kerrno.ENXIO
}

func (fs *FS) Read(v *vfs.Vnode, pos int64, buf []byte) (int, error) {
	fid, _, err := fs.walk(pathOf(v))
	if err != nil {
		return 0, err
	}
	defer fs.ns.Rclunk(fid)

	if _, _, err := fs.ns.Ropen(fid, protocol.OREAD); err != nil {
		return 0, translate(err)
	}

	data, err := fs.ns.Rread(fid, protocol.Offset(pos), protocol.Count(len(buf)))
	if err != nil {
		return 0, translate(err)
	}
	return copy(buf, data), nil
}

func (fs *FS) Write(v *vfs.Vnode, pos int64, buf []byte) (int, error) {
	fid, _, err := fs.walk(pathOf(v))
	if err != nil {
		return 0, err
	}
	defer fs.ns.Rclunk(fid)

	if _, _, err := fs.ns.Ropen(fid, protocol.ORDWR); err != nil {
		return 0, translate(err)
	}

	n, err := fs.ns.Rwrite(fid, protocol.Offset(pos), buf)
	if err != nil {
		return 0, translate(err)
	}
	return int(n), nil
}

func (fs *FS) Readdir(v *vfs.Vnode, pos int64, out *vfs.Dirent) (int, error) {
	fid, _, err := fs.walk(pathOf(v))
	if err != nil {
		return 0, err
	}
	defer fs.ns.Rclunk(fid)

	raw, err := fs.ns.Rread(fid, protocol.Offset(pos), 0)
	if err != nil {
		return 0, translate(err)
	}
	if raw == nil {
		return 0, nil
	}

	var ent Dirent
	if err := decodeDirent(raw, &ent); err != nil {
		return 0, kerrno.EFAULT
	}

	out.Name = ent.Name
	out.Inode = int64(ent.QID.Path)
	return 1, nil
}

func (fs *FS) Stat(v *vfs.Vnode, out *vfs.Stat) error {
	fid, _, err := fs.walk(pathOf(v))
	if err != nil {
		return err
	}
	defer fs.ns.Rclunk(fid)

	raw, err := fs.ns.Rstat(fid)
	if err != nil {
		return translate(err)
	}

	var blob StatBlob
	if err := decodeStat(raw, &blob); err != nil {
		return kerrno.EFAULT
	}

	out.Inode = int64(blob.Dir.QID.Path)
	out.Length = int64(blob.Dir.Length)
	if blob.Dir.Mode&protocol.DMDIR != 0 {
		out.Mode = vfs.ModeDir
	} else {
		out.Mode = vfs.ModeRegular
	}
	return nil
}

// Mmap backs a regular file with a vm.FileObj whose page reads/writes go
// through Rread/Rwrite, exercising the same shadow/COW machinery as
// internal/tmpfs's Mmap but over the 9P fid interface.
func (fs *FS) Mmap(v *vfs.Vnode) (vm.MMObj, error) {
	path := pathOf(v)

	read := func(pagenum int, buf []byte) (int, error) {
		fid, _, err := fs.walk(path)
		if err != nil {
			return 0, err
		}
		defer fs.ns.Rclunk(fid)
		if _, _, err := fs.ns.Ropen(fid, protocol.OREAD); err != nil {
			return 0, translate(err)
		}
		data, err := fs.ns.Rread(fid, protocol.Offset(pagenum*vm.PageSize), protocol.Count(len(buf)))
		if err != nil {
			return 0, translate(err)
		}
		return copy(buf, data), nil
	}

	write := func(pagenum int, buf []byte) error {
		fid, _, err := fs.walk(path)
		if err != nil {
			return err
		}
		defer fs.ns.Rclunk(fid)
		if _, _, err := fs.ns.Ropen(fid, protocol.ORDWR); err != nil {
			return translate(err)
		}
		_, err = fs.ns.Rwrite(fid, protocol.Offset(pagenum*vm.PageSize), buf)
		return translate(err)
	}

	obj := vm.NewFile(fs.alloc, read, write)
	obj.Ref()
	return obj, nil
}
