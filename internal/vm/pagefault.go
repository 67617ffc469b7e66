package vm

import (
	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// HandleFault resolves a page fault against this map, per spec.md §4.D
// steps 1-4. It does not touch the page table or kill anyone -- callers
// (internal/kernel) own pt_map and the EFAULT-kills-the-process policy.
// The returned bool reports whether the WRITE page-table flag should be
// set (true only when the fault itself was a write).
func (m *Map) HandleFault(vfn int, cause FaultCause) (*hal.Frame, bool, error) {
	if cause&FaultReserved != 0 {
		return nil, false, kerrno.EFAULT
	}

	vma := m.Lookup(vfn)
	if vma == nil {
		return nil, false, kerrno.EFAULT
	}

	if vma.Prot&ProtRead == 0 {
		return nil, false, kerrno.EFAULT
	}
	if cause&FaultWrite != 0 && vma.Prot&ProtWrite == 0 {
		return nil, false, kerrno.EFAULT
	}
	if cause&FaultExec != 0 && vma.Prot&ProtExec == 0 {
		return nil, false, kerrno.EFAULT
	}

	pagenum := vma.Off + (vfn - vma.Start)
	forwrite := cause&FaultWrite != 0

	frame, err := vma.MMObj.LookupPage(pagenum, forwrite)
	if err != nil {
		return nil, false, kerrno.EFAULT
	}

	return frame, forwrite, nil
}
