package kernel

import (
	"github.com/sandia-minimega/minimega/internal/klog"
	"github.com/sandia-minimega/minimega/internal/sched"
)

// Entry is the function a new kernel thread begins executing at, per
// spec.md §4.A's kthread_create. a and b are opaque arguments, matching
// the two-argument entry-point convention used by thread_clone.
type Entry func(k *Kernel, t *Thread, a, b interface{})

// ThreadCreate allocates a Thread attached to proc and starts its
// goroutine, which first waits its turn for the kernel lock (Enter) and
// then runs entry(a, b). The goroutine releases the kernel lock for good
// when entry returns, mirroring a thread that falls off the end of its
// entry point without calling Exit explicitly.
func (k *Kernel) ThreadCreate(proc *Process, entry Entry, a, b interface{}) *Thread {
	t := newThread(proc)

	proc.mu.Lock()
	proc.Threads = append(proc.Threads, t)
	proc.mu.Unlock()

	go func() {
		k.Sched.Enter(t.S)
		entry(k, t, a, b)
		if t.S.State() != sched.Exited {
			k.Exit(proc, t, 0)
		}
		k.Sched.Retire()
	}()

	return t
}

// ThreadClone allocates a new Thread, detached from any process, that is
// a deep copy of src's scheduling metadata (stack size only -- the Go
// runtime owns the real stack/registers). Used by Fork; the caller is
// responsible for attaching the result to a process and starting its
// goroutine.
func (k *Kernel) ThreadClone(src *Thread) *Thread {
	return &Thread{S: sched.NewThread(), KStackSize: src.KStackSize}
}

// Exit marks curthr exited with status, cancels every other thread
// belonging to curproc, and tears curproc down via ProcCleanup. It returns
// to its caller; callers treat that return as the end of curthr's kernel
// code and do nothing further with curproc.
func (k *Kernel) Exit(curproc *Process, curthr *Thread, status int) {
	curproc.mu.Lock()
	others := make([]*Thread, 0, len(curproc.Threads))
	for _, th := range curproc.Threads {
		if th != curthr {
			others = append(others, th)
		}
	}
	curproc.mu.Unlock()

	for _, th := range others {
		k.Sched.Cancel(th.S, status)
	}

	curthr.S.Exit(status)
	k.ProcCleanup(curproc, status)
}

// ProcCleanup tears down curproc's resources: closes its filesystem
// namespace, destroys its address space, reparents its children to init,
// and wakes its parent's waiters, per spec.md §4.A's proc_cleanup.
func (k *Kernel) ProcCleanup(curproc *Process, status int) {
	if curproc == k.Idle {
		klog.Fatal("kernel: idle process exited")
	}
	if curproc.Parent == nil {
		klog.Fatal("kernel: process %d has no parent to report exit to", curproc.Pid)
	}

	curproc.NS.Destroy()
	curproc.AddrSpace.Destroy()

	curproc.mu.Lock()
	children := curproc.Children
	curproc.Children = nil
	curproc.mu.Unlock()

	if len(children) > 0 {
		k.Init.mu.Lock()
		k.Init.Children = append(k.Init.Children, children...)
		k.Init.mu.Unlock()
		for _, c := range children {
			c.mu.Lock()
			c.Parent = k.Init
			c.mu.Unlock()
		}
	}

	curproc.mu.Lock()
	curproc.State = ProcDead
	curproc.ExitStatus = status
	curproc.mu.Unlock()

	k.Sched.WakeupAll(&curproc.Parent.WaitQ)
}
