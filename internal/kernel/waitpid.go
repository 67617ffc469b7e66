package kernel

import (
	"github.com/sandia-minimega/minimega/internal/kassert"
	"github.com/sandia-minimega/minimega/internal/sched"
)

// WaitAny is the pid value meaning "any child", per spec.md §4.A's
// waitpid.
const WaitAny = -1

// Waitpid blocks curthr until a child matching pid (or any child, if pid
// is WaitAny) has exited, reaps it, and returns its pid and exit status.
// Returns ECHILD immediately if curproc has no matching child at all.
func (k *Kernel) Waitpid(curproc *Process, curthr *Thread, pid int) (int, int, error) {
	for {
		curproc.mu.Lock()
		if len(curproc.Children) == 0 {
			curproc.mu.Unlock()
			return -1, 0, ECHILD
		}

		var target *Process
		haveMatch := false
		for _, c := range curproc.Children {
			if pid == WaitAny || c.Pid == pid {
				haveMatch = true
				if c.State == ProcDead {
					target = c
					break
				}
			}
		}
		if !haveMatch {
			curproc.mu.Unlock()
			return -1, 0, ECHILD
		}
		curproc.mu.Unlock()

		if target != nil {
			return k.reap(curproc, target), target.ExitStatus, nil
		}

		k.Sched.SleepOn(&curproc.WaitQ, curthr.S)
	}
}

// reap removes target from curproc's child list and the global process
// table once every one of its threads has actually exited.
func (k *Kernel) reap(curproc, target *Process) int {
	target.mu.Lock()
	for _, th := range target.Threads {
		kassert.True(th.S.State() == sched.Exited, "reaped zombie has a non-exited thread")
	}
	pid := target.Pid
	target.mu.Unlock()

	curproc.mu.Lock()
	for i, c := range curproc.Children {
		if c == target {
			curproc.Children = append(curproc.Children[:i], curproc.Children[i+1:]...)
			break
		}
	}
	curproc.mu.Unlock()

	k.mu.Lock()
	delete(k.Procs, pid)
	k.mu.Unlock()

	return pid
}
