package kernel

import (
	"github.com/sandia-minimega/minimega/internal/kassert"
	"github.com/sandia-minimega/minimega/internal/sched"
	"github.com/sandia-minimega/minimega/internal/vm"
)

// UserlandEntry is where a freshly forked child thread resumes execution.
// It stands in for "return from the fork trap with regs restored",
// which is hardware-specific and out of scope here.
type UserlandEntry func(k *Kernel, t *Thread, regs *Regs)

// Fork implements spec.md §4.B's eight-step protocol: clone the address
// space, install new shadow objects over every PRIVATE mapping (in both
// parent and child), unmap the parent's hardware translations so the next
// access in either process re-faults through the new objects, create the
// child process and thread, duplicate the descriptor table, and make the
// child runnable. It returns the child's pid to the parent.
func (k *Kernel) Fork(curproc *Process, curthr *Thread, regs *Regs, entry UserlandEntry) (int, error) {
	kassert.True(curproc != nil && curthr != nil, "Fork: nil process or thread")
	kassert.True(regs != nil, "Fork: nil regs")

	// Step 1: clone the vma list (numeric fields only; mmobj filled below).
	newMap := curproc.AddrSpace.Clone(k.Alloc)

	origAreas := curproc.AddrSpace.Areas()
	cloneAreas := newMap.Areas()
	kassert.True(len(origAreas) == len(cloneAreas), "Fork: cloned map has different vma count")

	// Step 2: for every PRIVATE vma, both sides get a fresh shadow object
	// over the original backing; for SHARED vmas, both sides just share
	// the same backing with its refcount bumped once more.
	for i, orig := range origAreas {
		clone := cloneAreas[i]
		om := orig.MMObj

		if orig.Flags&vm.FlagPrivate != 0 {
			sNew := vm.NewShadow(k.Alloc, om)
			sNew.Ref()
			clone.MMObj = sNew
			vm.LinkBottom(clone, sNew.BottomObj())

			sOld := vm.NewShadow(k.Alloc, om)
			sOld.Ref()
			om.Ref() // one extra inbound reference: the original's two shadow children
			orig.MMObj = sOld
			// orig's own *Vmarea pointer is unchanged, so its entry in the
			// bottom object's weak back-index (added when it was first
			// mapped) is still correct -- no relink needed.
		} else {
			om.Ref()
			clone.MMObj = om
		}
	}

	// Step 3: the parent's existing hardware translations for its whole
	// user range are now stale (they point at objects whose refcounts
	// just changed meaning); drop them so the next access re-faults.
	curproc.PageDir.UnmapRange(uintptr(vm.UserMemLowVFN)*vm.PageSize, vm.UserMemHighVFN-vm.UserMemLowVFN)
	curproc.PageDir.FlushTLB(0, 0)

	// Step 4: create the child process, swapping in the map we just built
	// in place of the fresh empty one ProcCreate allocates by default.
	child, err := k.ProcCreate(curproc.Name, curproc)
	if err != nil {
		newMap.Destroy()
		return -1, err
	}
	child.AddrSpace.Destroy()
	child.AddrSpace = newMap
	newMap.Owner = child

	// Step 6: duplicate the descriptor table and cwd reference.
	child.NS.Cwd.Put()
	child.NS = curproc.NS.Clone()

	// Step 7: carry over brk bookkeeping.
	child.StartBrk = curproc.StartBrk
	child.Brk = curproc.Brk

	// Step 5: clone the calling thread's scheduling metadata.
	childThread := k.ThreadClone(curthr)
	childThread.Proc = child
	child.mu.Lock()
	child.Threads = append(child.Threads, childThread)
	child.mu.Unlock()

	childRegs := ForkSetupStack(regs, regs.Esp)

	// Step 8: make the new thread runnable. It won't actually run until
	// the parent gives up the kernel lock (sleeps, yields, or exits).
	go func() {
		k.Sched.Enter(childThread.S)
		entry(k, childThread, childRegs)
		if childThread.S.State() != sched.Exited {
			k.Exit(child, childThread, 0)
		}
		k.Sched.Retire()
	}()

	return child.Pid, nil
}
