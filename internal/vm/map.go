package vm

import (
	"container/list"
	"sync"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kassert"
	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// Map is an address-space map: an ordered, non-overlapping list of
// vmareas whose union lies in user virtual-address range (spec.md §3/§4.C).
type Map struct {
	mu    sync.Mutex
	areas list.List // of *Vmarea, ascending by Start

	Owner interface{} // back-pointer to the owning process, opaque here
	Alloc hal.FrameAllocator
}

func NewMap(alloc hal.FrameAllocator) *Map {
	return &Map{Alloc: alloc}
}

// Insert installs vma into the map in ascending-Start order.
// Preconditions (asserted): m and vma non-nil, vma not already owned,
// Start < End, and [Start,End) lies within user range.
func (m *Map) Insert(vma *Vmarea) {
	kassert.True(m != nil && vma != nil, "Insert: nil map or vma")
	kassert.True(vma.Owner == nil, "Insert: vma already owned")
	kassert.True(vma.Start < vma.End, "Insert: empty or inverted range")
	kassert.True(vma.Start >= UserMemLowVFN && vma.End <= UserMemHighVFN,
		"Insert: range outside user memory")

	vma.Owner = m

	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.areas.Front(); e != nil; e = e.Next() {
		if e.Value.(*Vmarea).Start > vma.Start {
			vma.mapElem = m.areas.InsertBefore(vma, e)
			return
		}
	}
	vma.mapElem = m.areas.PushBack(vma)
}

func (m *Map) unlink(vma *Vmarea) {
	if vma.mapElem != nil {
		m.areas.Remove(vma.mapElem)
		vma.mapElem = nil
	}
}

// FindRange performs a first-fit search over free gaps within user
// virtual-address range for npages contiguous pages.
func (m *Map) FindRange(npages int, dir Direction) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.areas.Len() == 0 {
		if npages > UserMemHighVFN-UserMemLowVFN {
			return -1
		}
		if dir == LOHI {
			return UserMemLowVFN
		}
		return UserMemHighVFN - npages
	}

	if dir == LOHI {
		prevEnd := UserMemLowVFN
		for e := m.areas.Front(); e != nil; e = e.Next() {
			v := e.Value.(*Vmarea)
			if v.Start-prevEnd >= npages {
				return prevEnd
			}
			prevEnd = v.End
		}
		if UserMemHighVFN-prevEnd >= npages {
			return prevEnd
		}
		return -1
	}

	nextStart := UserMemHighVFN
	for e := m.areas.Back(); e != nil; e = e.Prev() {
		v := e.Value.(*Vmarea)
		if nextStart-v.End >= npages {
			return nextStart - npages
		}
		nextStart = v.Start
	}
	if nextStart-UserMemLowVFN >= npages {
		return nextStart - npages
	}
	return -1
}

// Lookup returns the vma containing vfn, or nil.
func (m *Map) Lookup(vfn int) *Vmarea {
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.areas.Front(); e != nil; e = e.Next() {
		v := e.Value.(*Vmarea)
		if vfn >= v.Start && vfn < v.End {
			return v
		}
	}
	return nil
}

// IsRangeEmpty reports whether no existing vma overlaps [start,start+npages).
func (m *Map) IsRangeEmpty(start, npages int) bool {
	end := start + npages
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.areas.Front(); e != nil; e = e.Next() {
		v := e.Value.(*Vmarea)
		if v.Start < end && start < v.End {
			return false
		}
	}
	return true
}

// Clone creates a new map with the same numeric vma fields, owner set to
// newMap, and mmobj left nil (fork fills in shadows/shares afterward).
func (m *Map) Clone(alloc hal.FrameAllocator) *Map {
	nm := NewMap(alloc)

	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.areas.Front(); e != nil; e = e.Next() {
		src := e.Value.(*Vmarea)
		clone := &Vmarea{
			Start: src.Start,
			End:   src.End,
			Off:   src.Off,
			Prot:  src.Prot,
			Flags: src.Flags,
		}
		nm.Insert(clone)
	}
	return nm
}

// Areas returns a snapshot slice of the map's vmareas in ascending order.
func (m *Map) Areas() []*Vmarea {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]*Vmarea, 0, m.areas.Len())
	for e := m.areas.Front(); e != nil; e = e.Next() {
		res = append(res, e.Value.(*Vmarea))
	}
	return res
}

// Map is the central mapping primitive of spec.md §4.C. backing is nil for
// an anonymous mapping. Preconditions asserted as documented there.
func (m *Map) Map(backing FileBacking, lopage, npages int, prot Prot, flags Flags, off int, dir Direction) (*Vmarea, error) {
	kassert.True(m != nil, "Map: nil map")
	kassert.True(npages > 0, "Map: npages <= 0")
	kassert.True(prot&^(ProtRead|ProtWrite|ProtExec) == 0, "Map: bad prot bits")
	oneOf := flags&FlagShared != 0
	other := flags&FlagPrivate != 0
	kassert.True(oneOf != other, "Map: flags must contain exactly one of SHARED/PRIVATE")
	kassert.True(off%1 == 0 && off >= 0, "Map: off must be a non-negative page offset")

	start := lopage
	if lopage == 0 {
		start = m.FindRange(npages, dir)
		if start < 0 {
			return nil, kerrno.ENOMEM
		}
	} else {
		kassert.True(lopage >= UserMemLowVFN && lopage+npages <= UserMemHighVFN,
			"Map: fixed range outside user memory")
		if !m.IsRangeEmpty(lopage, npages) {
			if err := m.Remove(nil, lopage, npages); err != nil {
				return nil, err
			}
		}
	}

	var backingObj MMObj
	var err error
	if backing != nil {
		backingObj, err = backing.Mmap()
		if err != nil {
			return nil, err
		}
	} else {
		backingObj = NewAnon(m.Alloc)
		backingObj.Ref()
	}

	vma := &Vmarea{
		Start: start,
		End:   start + npages,
		Off:   off,
		Prot:  prot,
		Flags: flags,
	}

	if flags&FlagPrivate != 0 {
		s := NewShadow(m.Alloc, backingObj)
		s.Ref()
		vma.MMObj = s
		linkBottom(vma, s.bottom)
	} else {
		backingObj.Ref()
		vma.MMObj = backingObj
	}

	m.Insert(vma)
	return vma, nil
}

// Remove implements the four overlap cases of spec.md §4.C. pt may be nil,
// in which case no page-table entries are unmapped; Map passes nil when a
// fixed mapping replaces existing areas, and so do tests that only
// exercise the vma bookkeeping.
func (m *Map) Remove(pt hal.PageTable, lopage, npages int) error {
	L, H := lopage, lopage+npages

	for _, v := range m.Areas() {
		if v.End <= L || v.Start >= H {
			continue
		}

		switch {
		case v.Start < L && H < v.End:
			// straddle: split into two
			tail := &Vmarea{
				Start: H,
				End:   v.End,
				Off:   v.Off + (H - v.Start),
				Prot:  v.Prot,
				Flags: v.Flags,
			}

			orig := v.MMObj
			if v.Flags&FlagPrivate != 0 {
				unlinkBottom(v, orig.BottomObj())

				s1 := NewShadow(m.Alloc, orig)
				s2 := NewShadow(m.Alloc, orig)
				orig.Ref() // one extra inbound reference from the two new shadows

				v.MMObj = s1
				s1.Ref()
				linkBottom(v, s1.bottom)

				tail.MMObj = s2
				s2.Ref()
				linkBottom(tail, s2.bottom)
			} else {
				orig.Ref()
				tail.MMObj = orig
			}

			v.End = L
			m.Insert(tail)

		case v.Start < L && L < v.End && v.End <= H:
			v.End = L

		case L <= v.Start && v.Start < H && H < v.End:
			v.Off += H - v.Start
			v.Start = H

		case L <= v.Start && v.End <= H:
			m.unlink(v)
			unlinkBottom(v, v.MMObj.BottomObj())
			v.MMObj.Put()
		}

		if pt != nil {
			pt.UnmapRange(uintptr(L)*PageSize, H-L)
			pt.FlushTLB(uintptr(L)*PageSize, H-L)
		}
	}

	return nil
}

// Destroy tears down the whole map: every vma is unlinked, its bottom-link
// removed if PRIVATE, its mmobj released, and the vma freed.
func (m *Map) Destroy() {
	for _, v := range m.Areas() {
		m.unlink(v)
		unlinkBottom(v, v.MMObj.BottomObj())
		v.MMObj.Put()
	}
}

// Read copies count bytes starting at vaddr out of the map into dst.
func (m *Map) Read(vaddr uintptr, dst []byte) error {
	return m.walk(vaddr, dst, false)
}

// Write copies len(src) bytes from src into the map starting at vaddr.
func (m *Map) Write(vaddr uintptr, src []byte) error {
	return m.walk(vaddr, src, true)
}

func (m *Map) walk(vaddr uintptr, buf []byte, write bool) error {
	remaining := buf
	addr := vaddr

	for len(remaining) > 0 {
		vfn := AddrToPN(addr)
		vma := m.Lookup(vfn)
		if vma == nil {
			return kerrno.EFAULT
		}

		pagenum := vma.Off + (vfn - vma.Start)
		frame, err := vma.MMObj.LookupPage(pagenum, write)
		if err != nil {
			return err
		}

		pageOff := int(addr % PageSize)
		n := PageSize - pageOff
		if n > len(remaining) {
			n = len(remaining)
		}

		frame.Lock()
		if write {
			copy(frame.Data[pageOff:pageOff+n], remaining[:n])
			frame.Dirty = true
		} else {
			copy(remaining[:n], frame.Data[pageOff:pageOff+n])
		}
		frame.Unlock()

		if write {
			vma.MMObj.DirtyPage(pagenum)
		}

		remaining = remaining[n:]
		addr += uintptr(n)
	}

	return nil
}
