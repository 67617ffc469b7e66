package vm

import "container/list"

// Vmarea is a half-open virtual-page range [Start, End) within one address
// space, per spec.md §3.
type Vmarea struct {
	Start, End int // vfn
	Off        int // page offset into MMObj
	Prot       Prot
	Flags      Flags

	Owner *Map
	MMObj MMObj

	mapElem    *list.Element // link in Owner's ordered list
	bottomElem *list.Element // link in bottom-object's weak vma list (PRIVATE only)
}

// linkBottom links v into bottom's weak vma back-index; only called for
// PRIVATE vmas, per spec.md invariant 6.
func linkBottom(v *Vmarea, bottom MMObj) {
	if b, ok := bottom.(interface{ AddVMA(interface{}) }); ok {
		b.AddVMA(v)
	}
}

func unlinkBottom(v *Vmarea, bottom MMObj) {
	if bottom == nil {
		return
	}
	if b, ok := bottom.(interface{ RemoveVMA(interface{}) }); ok {
		b.RemoveVMA(v)
	}
}

// LinkBottom and UnlinkBottom are exported so internal/kernel can maintain
// the weak back-index when it builds fork's new shadow objects directly
// (fork's vma rewiring happens outside this package's Map/Remove helpers).
func LinkBottom(v *Vmarea, bottom MMObj)   { linkBottom(v, bottom) }
func UnlinkBottom(v *Vmarea, bottom MMObj) { unlinkBottom(v, bottom) }
