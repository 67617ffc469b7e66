// Package vm implements the address-space map, the memory-object (mmobj)
// chain that realizes copy-on-write, and the page-fault resolver described
// in spec.md §4.C/§4.D.
package vm

import "github.com/sandia-minimega/minimega/internal/hal"

// Prot is the protection bitmask carried by a Vmarea.
type Prot int

const (
	ProtNone  Prot = 0
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2
)

// Flags is the Vmarea flag bitmask.
type Flags int

const (
	FlagShared  Flags = 1 << 0
	FlagPrivate Flags = 1 << 1
	FlagFixed   Flags = 1 << 2
	FlagAnon    Flags = 1 << 3
)

// Direction controls which end of the map FindRange searches from.
type Direction int

const (
	LOHI Direction = iota
	HILO
)

const PageSize = hal.PageSize

// User virtual-address range, expressed in page numbers (vfns). Page 0 is
// reserved so that a null pointer dereference always faults.
const (
	UserMemLowVFN  = 1
	UserMemHighVFN = 1 << 20 // 4GiB / 4KiB
)

// FaultCause describes why handlePagefault was invoked.
type FaultCause int

const (
	FaultRead FaultCause = 1 << iota
	FaultWrite
	FaultExec
	FaultReserved // malformed PTE; always fatal
)

// AddrToPN converts a byte address to its page number.
func AddrToPN(addr uintptr) int {
	return int(addr >> hal.PageShift)
}

// PageAlign rounds addr down to the start of its page.
func PageAlign(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}
