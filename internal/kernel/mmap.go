package kernel

import (
	"github.com/sandia-minimega/minimega/internal/vfs"
	"github.com/sandia-minimega/minimega/internal/vm"
)

func ceilDiv(n, d int) int { return (n + d - 1) / d }

// DoMmap implements spec.md §4.C's mmap: validates the request, resolves
// an fd to its vnode for file-backed mappings, and installs the
// resulting vma via the process's address-space map. Returns the actual
// start address chosen (which may differ from addr when flags doesn't
// include FlagFixed).
func (k *Kernel) DoMmap(proc *Process, addr uintptr, length int, prot vm.Prot, flags vm.Flags, fd int, off int64) (uintptr, error) {
	if length <= 0 {
		return 0, EINVAL
	}
	shared := flags&vm.FlagShared != 0
	private := flags&vm.FlagPrivate != 0
	if shared == private {
		return 0, EINVAL
	}
	if off < 0 || off%vm.PageSize != 0 {
		return 0, EINVAL
	}
	if flags&vm.FlagFixed != 0 {
		if addr%vm.PageSize != 0 || addr < uintptr(vm.UserMemLowVFN)*vm.PageSize {
			return 0, EINVAL
		}
	}

	var backing vm.FileBacking
	if flags&vm.FlagAnon == 0 {
		fe, err := proc.NS.FileAt(fd)
		if err != nil {
			return 0, err
		}
		if fe.Mode&vfs.FRead == 0 {
			return 0, EINVAL
		}
		if shared && prot&vm.ProtWrite != 0 && fe.Mode&vfs.FWrite == 0 {
			return 0, EINVAL
		}
		if fe.Mode&vfs.FAppend != 0 && prot&vm.ProtWrite != 0 {
			return 0, EINVAL
		}
		backing = fe.Vnode
	}

	npages := ceilDiv(length, vm.PageSize)
	pageOff := int(off / vm.PageSize)

	var lopage int
	if flags&vm.FlagFixed != 0 {
		lopage = vm.AddrToPN(addr)
	}

	vma, err := proc.AddrSpace.Map(backing, lopage, npages, prot, flags, pageOff, vm.LOHI)
	if err != nil {
		return 0, err
	}

	proc.PageDir.UnmapRange(uintptr(vma.Start)*vm.PageSize, npages)
	proc.PageDir.FlushTLB(uintptr(vma.Start)*vm.PageSize, npages)

	return uintptr(vma.Start) * vm.PageSize, nil
}

// DoMunmap implements spec.md §4.C's munmap.
func (k *Kernel) DoMunmap(proc *Process, addr uintptr, length int) error {
	if addr%vm.PageSize != 0 || length <= 0 {
		return EINVAL
	}
	lopage := vm.AddrToPN(addr)
	npages := ceilDiv(length, vm.PageSize)
	return proc.AddrSpace.Remove(proc.PageDir, lopage, npages)
}

// DoBrk implements spec.md §4.C's brk: addr == 0 just reports the current
// break; otherwise the heap region [StartBrk, Brk) is grown or shrunk to
// end at addr, mapping/unmapping whole pages as needed.
func (k *Kernel) DoBrk(proc *Process, addr uintptr) (uintptr, error) {
	if addr == 0 {
		return proc.Brk, nil
	}
	if addr < proc.StartBrk {
		return 0, EINVAL
	}

	curEnd := ceilDiv(int(proc.Brk), vm.PageSize)
	newEnd := ceilDiv(int(addr), vm.PageSize)

	if newEnd > curEnd {
		if !proc.AddrSpace.IsRangeEmpty(curEnd, newEnd-curEnd) {
			return 0, ENOMEM
		}
		_, err := proc.AddrSpace.Map(nil, curEnd, newEnd-curEnd,
			vm.ProtRead|vm.ProtWrite, vm.FlagPrivate|vm.FlagAnon|vm.FlagFixed, 0, vm.LOHI)
		if err != nil {
			return 0, err
		}
	} else if newEnd < curEnd {
		if err := proc.AddrSpace.Remove(proc.PageDir, newEnd, curEnd-newEnd); err != nil {
			return 0, err
		}
	}

	proc.Brk = addr
	return proc.Brk, nil
}
