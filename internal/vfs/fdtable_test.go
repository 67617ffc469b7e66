package vfs_test

import (
	"testing"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
	"github.com/sandia-minimega/minimega/internal/tmpfs"
	"github.com/sandia-minimega/minimega/internal/vfs"
)

func newNS(t *testing.T) *vfs.Namespace {
	t.Helper()
	alloc := hal.NewSimFrameAllocator(256)
	fs := tmpfs.New(alloc)
	root := fs.NewRoot()
	return vfs.NewNamespace(root, root, 0)
}

func TestOpenCreateWriteReadRoundTrip(t *testing.T) {
	ns := newNS(t)

	fd, err := ns.Open("/greeting", vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ns.Write(fd, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := ns.Close(fd); err != nil {
		t.Fatal(err)
	}

	fd, err = ns.Open("/greeting", vfs.ORdOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer ns.Close(fd)

	buf := make([]byte, 16)
	n, err := ns.Read(fd, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read %q, want %q", buf[:n], "hello")
	}
}

func TestOpenWithoutCreateMissingFileIsENOENT(t *testing.T) {
	ns := newNS(t)
	if _, err := ns.Open("/nope", vfs.ORdOnly); err != kerrno.ENOENT {
		t.Fatalf("err = %v, want ENOENT", err)
	}
}

func TestOpenWriteModeOnDirectoryIsEISDIR(t *testing.T) {
	ns := newNS(t)
	if err := ns.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := ns.Open("/d", vfs.OWrOnly); err != kerrno.EISDIR {
		t.Fatalf("err = %v, want EISDIR", err)
	}
}

func TestReadOnBadFDIsEBADF(t *testing.T) {
	ns := newNS(t)
	if _, err := ns.Read(99, make([]byte, 1)); err != kerrno.EBADF {
		t.Fatalf("err = %v, want EBADF", err)
	}
}

func TestCloseFreesDescriptorSlot(t *testing.T) {
	ns := newNS(t)
	fd, err := ns.Open("/a", vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		t.Fatal(err)
	}
	if err := ns.Close(fd); err != nil {
		t.Fatal(err)
	}
	if err := ns.Close(fd); err != kerrno.EBADF {
		t.Fatalf("double-close err = %v, want EBADF", err)
	}
}

func TestDescriptorTableExhaustionIsEMFILE(t *testing.T) {
	alloc := hal.NewSimFrameAllocator(256)
	fs := tmpfs.New(alloc)
	root := fs.NewRoot()
	ns := vfs.NewNamespace(root, root, 2)

	if _, err := ns.Open("/a", vfs.OWrOnly|vfs.OCreat); err != nil {
		t.Fatal(err)
	}
	if _, err := ns.Open("/b", vfs.OWrOnly|vfs.OCreat); err != nil {
		t.Fatal(err)
	}
	if _, err := ns.Open("/c", vfs.OWrOnly|vfs.OCreat); err != kerrno.EMFILE {
		t.Fatalf("err = %v, want EMFILE", err)
	}
}

func TestMkdirRmdirLifecycle(t *testing.T) {
	ns := newNS(t)
	if err := ns.Mkdir("/sub"); err != nil {
		t.Fatal(err)
	}
	if err := ns.Mkdir("/sub/inner"); err != nil {
		t.Fatal(err)
	}

	if err := ns.Rmdir("/sub"); err != kerrno.ENOTEMPTY {
		t.Fatalf("rmdir of a non-empty dir: err = %v, want ENOTEMPTY", err)
	}

	if err := ns.Rmdir("/sub/inner"); err != nil {
		t.Fatal(err)
	}
	if err := ns.Rmdir("/sub"); err != nil {
		t.Fatalf("rmdir of now-empty dir failed: %v", err)
	}
}

func TestUnlinkDirectoryIsEISDIR(t *testing.T) {
	ns := newNS(t)
	if err := ns.Mkdir("/d"); err != nil {
		t.Fatal(err)
	}
	if err := ns.Unlink("/d"); err != kerrno.EISDIR {
		t.Fatalf("err = %v, want EISDIR", err)
	}
}

func TestDupSharesFilePosition(t *testing.T) {
	ns := newNS(t)
	fd, err := ns.Open("/f", vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ns.Write(fd, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	ns.Close(fd)

	fd, err = ns.Open("/f", vfs.ORdOnly)
	if err != nil {
		t.Fatal(err)
	}
	dupfd, err := ns.Dup(fd)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	if _, err := ns.Read(fd, buf); err != nil {
		t.Fatal(err)
	}
	// Dup shares the FileEntry but Pos lives on that shared entry, so a
	// read through either fd advances the same cursor.
	n, err := ns.Read(dupfd, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "4567" {
		t.Fatalf("dup'd read got %q, want %q (shared position continues)", buf[:n], "4567")
	}
}

func TestChdirRelativeResolution(t *testing.T) {
	ns := newNS(t)
	if err := ns.Mkdir("/sub"); err != nil {
		t.Fatal(err)
	}
	if err := ns.Chdir("/sub"); err != nil {
		t.Fatal(err)
	}
	fd, err := ns.Open("rel", vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		t.Fatal(err)
	}
	ns.Close(fd)

	if _, err := ns.Open("/sub/rel", vfs.ORdOnly); err != nil {
		t.Fatalf("expected /sub/rel to exist after relative create: %v", err)
	}
}

func TestCloneSharesEntriesAndBumpsRefcount(t *testing.T) {
	ns := newNS(t)
	fd, err := ns.Open("/f", vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		t.Fatal(err)
	}

	clone := ns.Clone()
	defer clone.Destroy()

	fe, err := clone.FileAt(fd)
	if err != nil {
		t.Fatal(err)
	}
	if fe == nil {
		t.Fatal("expected cloned namespace to share the open file entry")
	}
	if fe.Refcount() != 2 {
		t.Fatalf("refcount = %d, want 2 (original + clone)", fe.Refcount())
	}
}
