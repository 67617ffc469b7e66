package kernel

import (
	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/vfs"
)

// idleEntry never returns: the idle process exists only to hold the CPU
// (and the kernel lock) when no other thread is runnable, per spec.md
// §4.A's note that pid 0 is never killed or reaped.
func idleEntry(k *Kernel, t *Thread, a, b interface{}) {
	for {
		k.Sched.Yield(t.S)
	}
}

// Boot creates the kernel, the idle process (pid 0), and the init process
// (pid 1) running initEntry, and returns the booted kernel along with
// init's thread. Call this once before scheduling any other work.
func Boot(alloc hal.FrameAllocator, root *vfs.Vnode, initEntry Entry) (*Kernel, *Thread, error) {
	k := New(alloc, root)

	idle, err := k.ProcCreate("idle", nil)
	if err != nil {
		return nil, nil, err
	}
	k.ThreadCreate(idle, idleEntry, nil, nil)

	init, err := k.ProcCreate("init", idle)
	if err != nil {
		return nil, nil, err
	}
	initThread := k.ThreadCreate(init, initEntry, nil, nil)

	return k, initThread, nil
}
