package kernel_test

import (
	"testing"
	"time"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kernel"
	"github.com/sandia-minimega/minimega/internal/sched"
	"github.com/sandia-minimega/minimega/internal/tmpfs"
	"github.com/sandia-minimega/minimega/internal/vfs"
	"github.com/sandia-minimega/minimega/internal/vm"
)

// bootTest boots a fresh kernel whose init process runs body, then blocks
// until body returns (or the deadline expires). All kernel syscalls in
// body run with the kernel lock held by init's own goroutine -- the exact
// same way a real syscall handler would run them.
func bootTest(t *testing.T, body func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread)) *kernel.Kernel {
	t.Helper()

	alloc := hal.NewSimFrameAllocator(4096)
	root := tmpfs.New(alloc).NewRoot()

	done := make(chan struct{})
	k, _, err := kernel.Boot(alloc, root, func(k *kernel.Kernel, th *kernel.Thread, a, b interface{}) {
		body(k, th.Proc, th)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for init thread body to finish")
	}
	return k
}

func TestBootCreatesIdleAndInitWithReservedPids(t *testing.T) {
	var idlePid, initPid int
	var initState kernel.ProcState
	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		idlePid = k.Idle.Pid
		initPid = proc.Pid
		initState = k.Init.State
	})
	if idlePid != kernel.PidIdle {
		t.Fatalf("idle pid = %d, want %d", idlePid, kernel.PidIdle)
	}
	if initPid != kernel.PidInit {
		t.Fatalf("init pid = %d, want %d", initPid, kernel.PidInit)
	}
	if initState != kernel.ProcRunning {
		t.Fatalf("init state while its body ran = %v, want running", initState)
	}
}

func TestDescriptorInheritanceAcrossFork(t *testing.T) {
	var childPos, parentPosAfterChild int64

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		fd, err := proc.NS.Open("/f", vfs.OWrOnly|vfs.OCreat)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := proc.NS.Write(fd, []byte("ab")); err != nil {
			t.Fatal(err)
		}

		regs := &kernel.Regs{}
		pid, forkErr := k.Fork(proc, thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
			var childErr error
			childPos, childErr = t.Proc.NS.Lseek(fd, 0, vfs.SeekCur)
			if childErr != nil {
				// NB: t here is the kernel thread, and t.Fatal would not be
				// safe from this non-test goroutine anyway, so the child
				// panics instead.
				panic(childErr)
			}
			if _, err := t.Proc.NS.Write(fd, []byte("c")); err != nil {
				panic(err)
			}
			k.Exit(t.Proc, t, 0)
		})
		if forkErr != nil {
			t.Fatal(forkErr)
		}

		if _, _, err := k.Waitpid(proc, thr, pid); err != nil {
			t.Fatal(err)
		}

		parentPosAfterChild, err = proc.NS.Lseek(fd, 0, vfs.SeekCur)
		if err != nil {
			t.Fatal(err)
		}
	})

	if childPos != 2 {
		t.Fatalf("child's inherited f_pos = %d, want 2 (shared file entry)", childPos)
	}
	if parentPosAfterChild != 3 {
		t.Fatalf("parent's f_pos after child's write = %d, want 3", parentPosAfterChild)
	}
}

func TestForkCopyOnWriteIsolation(t *testing.T) {
	var childSawAfterParentWrite, parentSawAfterChildWrite, childSawAfterOwnWrite byte

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		addr, err := k.DoMmap(proc, 0, vm.PageSize, vm.ProtRead|vm.ProtWrite, vm.FlagAnon|vm.FlagPrivate, -1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := proc.AddrSpace.Write(addr, []byte{0x55}); err != nil {
			t.Fatal(err)
		}

		regs := &kernel.Regs{}
		done := make(chan struct{})
		pid, err := k.Fork(proc, thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
			var buf [1]byte
			if err := t.Proc.AddrSpace.Read(addr, buf[:]); err != nil {
				panic(err)
			}
			childSawAfterParentWrite = buf[0]

			if err := t.Proc.AddrSpace.Write(addr, []byte{0xAA}); err != nil {
				panic(err)
			}
			if err := t.Proc.AddrSpace.Read(addr, buf[:]); err != nil {
				panic(err)
			}
			childSawAfterOwnWrite = buf[0]

			close(done)
			k.Exit(t.Proc, t, 0)
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, _, err := k.Waitpid(proc, thr, pid); err != nil {
			t.Fatal(err)
		}
		<-done

		var buf [1]byte
		if err := proc.AddrSpace.Read(addr, buf[:]); err != nil {
			t.Fatal(err)
		}
		parentSawAfterChildWrite = buf[0]
	})

	if childSawAfterParentWrite != 0x55 {
		t.Fatalf("child's initial read = %#x, want %#x (inherited parent's write)", childSawAfterParentWrite, 0x55)
	}
	if childSawAfterOwnWrite != 0xAA {
		t.Fatalf("child's read after its own write = %#x, want %#x", childSawAfterOwnWrite, 0xAA)
	}
	if parentSawAfterChildWrite != 0x55 {
		t.Fatalf("parent's read after child's write = %#x, want %#x (COW isolation)", parentSawAfterChildWrite, 0x55)
	}
}

func TestForkCOWBeforeChildScheduledSeesOriginal(t *testing.T) {
	var childSaw byte

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		addr, err := k.DoMmap(proc, 0, vm.PageSize, vm.ProtRead|vm.ProtWrite, vm.FlagAnon|vm.FlagPrivate, -1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := proc.AddrSpace.Write(addr, []byte{0x11}); err != nil {
			t.Fatal(err)
		}

		regs := &kernel.Regs{}
		pid, err := k.Fork(proc, thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
			var buf [1]byte
			if err := t.Proc.AddrSpace.Read(addr, buf[:]); err != nil {
				panic(err)
			}
			childSaw = buf[0]
			k.Exit(t.Proc, t, 0)
		})
		if err != nil {
			t.Fatal(err)
		}

		// The parent still holds the kernel lock here -- the child's
		// goroutine cannot have run yet. Writing now, before the child is
		// ever scheduled, must still leave the child observing the
		// pre-fork value: the parent's own write re-faults through its
		// own new shadow, not the child's.
		if err := proc.AddrSpace.Write(addr, []byte{0x99}); err != nil {
			t.Fatal(err)
		}

		if _, _, err := k.Waitpid(proc, thr, pid); err != nil {
			t.Fatal(err)
		}
	})

	if childSaw != 0x11 {
		t.Fatalf("child observed %#x, want original %#x (parent's post-fork write must not leak)", childSaw, 0x11)
	}
}

func TestZombieReapingAndSecondWaitIsECHILD(t *testing.T) {
	var firstPid, firstStatus int
	var firstErr, secondErr error

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		regs := &kernel.Regs{}
		pid, err := k.Fork(proc, thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
			k.Exit(t.Proc, t, 7)
		})
		if err != nil {
			t.Fatal(err)
		}

		firstPid, firstStatus, firstErr = k.Waitpid(proc, thr, kernel.WaitAny)
		_, _, secondErr = k.Waitpid(proc, thr, kernel.WaitAny)

		if pid != firstPid {
			t.Fatalf("waitpid returned pid %d, want forked child %d", firstPid, pid)
		}
	})

	if firstErr != nil {
		t.Fatalf("first waitpid: %v", firstErr)
	}
	if firstStatus != 7 {
		t.Fatalf("exit status = %d, want 7", firstStatus)
	}
	if secondErr != kernel.ECHILD {
		t.Fatalf("second waitpid err = %v, want ECHILD", secondErr)
	}
}

func TestHeapGrowthStopsBeforeNextMapping(t *testing.T) {
	var growErr, overGrowErr error

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		const startBrk = 0x08050500
		const mapStart = 0x08060000

		proc.StartBrk = startBrk
		proc.Brk = startBrk

		if _, err := k.DoMmap(proc, mapStart, vm.PageSize, vm.ProtRead,
			vm.FlagAnon|vm.FlagPrivate|vm.FlagFixed, -1, 0); err != nil {
			t.Fatal(err)
		}

		_, growErr = k.DoBrk(proc, 0x0805FFFF)
		_, overGrowErr = k.DoBrk(proc, 0x08060001)
	})

	if growErr != nil {
		t.Fatalf("brk just below the next mapping: %v, want success", growErr)
	}
	if overGrowErr != kernel.ENOMEM {
		t.Fatalf("brk into the next mapping: err = %v, want ENOMEM", overGrowErr)
	}
}

func TestBrkBelowStartBrkIsEINVAL(t *testing.T) {
	var err error
	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		proc.StartBrk = 0x1000
		proc.Brk = 0x1000
		_, err = k.DoBrk(proc, 0x500)
	})
	if err != kernel.EINVAL {
		t.Fatalf("err = %v, want EINVAL", err)
	}
}

func TestKillCancelsThreadsOfAnotherProcess(t *testing.T) {
	var reaped bool
	var sleepQ sched.WaitQueue

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		regs := &kernel.Regs{}
		pid, err := k.Fork(proc, thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
			// Sleeps cancellably forever, until Kill's Cancel wakes it.
			k.Sched.CancellableSleepOn(&sleepQ, t.S)
			k.Exit(t.Proc, t, 9)
		})
		if err != nil {
			t.Fatal(err)
		}

		child := k.Lookup(pid)
		k.Kill(child, 9, proc, thr)

		_, _, err = k.Waitpid(proc, thr, pid)
		reaped = err == nil
	})

	if !reaped {
		t.Fatal("expected the killed child to be reapable")
	}
}

func TestMmapValidation(t *testing.T) {
	var zeroLenErr, badFlagsErr, unalignedOffErr error

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		_, zeroLenErr = k.DoMmap(proc, 0, 0, vm.ProtRead, vm.FlagAnon|vm.FlagPrivate, -1, 0)
		_, badFlagsErr = k.DoMmap(proc, 0, vm.PageSize, vm.ProtRead, vm.FlagAnon|vm.FlagPrivate|vm.FlagShared, -1, 0)
		_, unalignedOffErr = k.DoMmap(proc, 0, vm.PageSize, vm.ProtRead, vm.FlagAnon|vm.FlagPrivate, -1, 1)
	})

	if zeroLenErr != kernel.EINVAL {
		t.Fatalf("zero length err = %v, want EINVAL", zeroLenErr)
	}
	if badFlagsErr != kernel.EINVAL {
		t.Fatalf("SHARED|PRIVATE together err = %v, want EINVAL", badFlagsErr)
	}
	if unalignedOffErr != kernel.EINVAL {
		t.Fatalf("unaligned offset err = %v, want EINVAL", unalignedOffErr)
	}
}

func TestMunmapThenAccessFaults(t *testing.T) {
	var readErr error

	bootTest(t, func(k *kernel.Kernel, proc *kernel.Process, thr *kernel.Thread) {
		addr, err := k.DoMmap(proc, 0, vm.PageSize, vm.ProtRead|vm.ProtWrite, vm.FlagAnon|vm.FlagPrivate, -1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := k.DoMunmap(proc, addr, vm.PageSize); err != nil {
			t.Fatal(err)
		}

		buf := make([]byte, 1)
		readErr = proc.AddrSpace.Read(addr, buf)
	})

	if readErr != kernel.EFAULT {
		t.Fatalf("err = %v, want EFAULT", readErr)
	}
}
