// Package kernel is the glue layer: it owns the process table, wires
// internal/sched, internal/vm, and internal/vfs together into the process
// and thread lifecycle, fork, wait/exit, and the mmap/brk/page-fault
// syscalls described in spec.md §4.A/§4.B/§4.D.
package kernel

import (
	"fmt"
	"sync"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kassert"
	"github.com/sandia-minimega/minimega/internal/klog"
	"github.com/sandia-minimega/minimega/internal/sched"
	"github.com/sandia-minimega/minimega/internal/vfs"
	"github.com/sandia-minimega/minimega/internal/vm"
)

// Reserved pids, per spec.md §4.A.
const (
	PidIdle = 0
	PidInit = 1
)

// MaxProcs bounds the pid space; allocation scans for the lowest free slot
// below it, never monotonically increasing, per spec.md's "low pid reuse"
// note.
const MaxProcs = 4096

// DefaultKStackSize is a cosmetic field only: the simulation runs every
// thread as a real goroutine, so the host Go runtime -- not this value --
// actually sizes the stack. It is recorded on each Thread and copied by
// ThreadClone; nothing prints it.
const DefaultKStackSize = 8192

// ProcState mirrors spec.md §3's process lifecycle states.
type ProcState int

const (
	ProcRunning ProcState = iota
	ProcDead
)

func (s ProcState) String() string {
	if s == ProcDead {
		return "DEAD"
	}
	return "RUNNING"
}

// Process is one schedulable address space: pid, parent/child links, its
// thread list, address space, page directory, and filesystem namespace.
type Process struct {
	mu sync.Mutex

	Pid    int
	Name   string
	Parent *Process

	Children []*Process
	Threads  []*Thread

	State      ProcState
	ExitStatus int

	WaitQ sched.WaitQueue

	PageDir   hal.PageTable
	AddrSpace *vm.Map
	NS        *vfs.Namespace

	StartBrk uintptr
	Brk      uintptr
}

func (p *Process) String() string {
	return fmt.Sprintf("proc[%d] %s (%s)", p.Pid, p.Name, p.State)
}

// Thread is one schedulable execution context within a Process. It embeds
// a *sched.Thread so every internal/sched primitive (SleepOn, Cancel,
// WakeupOn, ...) operates on it directly.
type Thread struct {
	S    *sched.Thread
	Proc *Process

	KStackSize int
}

func newThread(proc *Process) *Thread {
	return &Thread{S: sched.NewThread(), Proc: proc, KStackSize: DefaultKStackSize}
}

// Kernel owns the global process table and the shared scheduler, frame
// allocator, and filesystem root every process's namespace is rooted at.
type Kernel struct {
	mu sync.Mutex

	Sched *sched.Scheduler
	Alloc hal.FrameAllocator
	Root  *vfs.Vnode

	Procs map[int]*Process

	Idle *Process
	Init *Process
}

// New creates an unbooted kernel. Call Boot to create the idle and init
// processes before scheduling anything else.
func New(alloc hal.FrameAllocator, root *vfs.Vnode) *Kernel {
	return &Kernel{
		Sched: sched.New(),
		Alloc: alloc,
		Root:  root,
		Procs: map[int]*Process{},
	}
}

func (k *Kernel) allocPid() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for pid := 0; pid < MaxProcs; pid++ {
		if _, used := k.Procs[pid]; !used {
			return pid, nil
		}
	}
	return -1, ENOMEM
}

// ProcCreate allocates a pid (lowest free slot, not monotonic), a fresh
// empty address space and page directory, and a namespace whose cwd is
// inherited from parent (or Root, for the idle process), per spec.md
// §4.A. It does not create any thread; call ThreadCreate for that.
func (k *Kernel) ProcCreate(name string, parent *Process) (*Process, error) {
	pid, err := k.allocPid()
	if err != nil {
		return nil, err
	}

	kassert.True(pid != PidIdle || parent == nil, "idle process must have no parent")
	kassert.True(pid != PidInit || (parent != nil && parent.Pid == PidIdle),
		"init process's parent must be idle")

	cwd := k.Root
	if parent != nil {
		parent.mu.Lock()
		cwd = parent.NS.Cwd
		parent.mu.Unlock()
	}

	p := &Process{
		Pid:       pid,
		Name:      name,
		Parent:    parent,
		State:     ProcRunning,
		PageDir:   hal.NewSimPageTable(),
		AddrSpace: vm.NewMap(k.Alloc),
		NS:        vfs.NewNamespace(k.Root, cwd, vfs.DefaultDescriptors),
	}
	p.AddrSpace.Owner = p

	if parent != nil {
		parent.mu.Lock()
		parent.Children = append(parent.Children, p)
		parent.mu.Unlock()
	}

	k.mu.Lock()
	k.Procs[pid] = p
	k.mu.Unlock()

	switch pid {
	case PidIdle:
		k.Idle = p
	case PidInit:
		k.Init = p
	}

	klog.Debug("kernel: created %s", p)
	return p, nil
}

// Snapshot returns a point-in-time copy of the process table, sorted by
// pid, for read-only inspection (e.g. a "ps" command).
func (k *Kernel) Snapshot() []*Process {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]*Process, 0, len(k.Procs))
	for _, p := range k.Procs {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Pid > out[j].Pid; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Lookup returns the process with the given pid, or nil.
func (k *Kernel) Lookup(pid int) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.Procs[pid]
}
