package kernel

import (
	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
	"github.com/sandia-minimega/minimega/internal/vm"
)

// HandlePageFault resolves a fault at vaddr against curproc's address
// space and installs the resulting translation in curproc's page table.
// An unresolvable fault (bad address, permission mismatch, malformed
// PTE) kills curproc with exit status EFAULT, per spec.md §4.D.
func (k *Kernel) HandlePageFault(curproc *Process, curthr *Thread, vaddr uintptr, cause vm.FaultCause) {
	vfn := vm.AddrToPN(vaddr)

	frame, writable, err := curproc.AddrSpace.HandleFault(vfn, cause)
	if err != nil {
		k.Kill(curproc, int(kerrno.EFAULT), curproc, curthr)
		return
	}

	flags := hal.PTPresent | hal.PTUser
	if writable {
		flags |= hal.PTWrite
	}

	_ = curproc.PageDir.Map(vm.PageAlign(vaddr), frame.PAddr, flags)
}
