// Package sched implements the cooperative, single-CPU scheduler: one
// global runnable queue, FIFO wait queues, cancellable sleep, and the
// "big kernel lock" that makes exactly one kernel thread runnable at a
// time. There is no timer preemption; threads leave the CPU only by
// calling Switch, SleepOn, or CancellableSleepOn.
package sched

import (
	"container/list"
	"sync"

	"github.com/sandia-minimega/minimega/internal/kassert"
	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// State is a thread's scheduling state.
type State int

const (
	NoState State = iota
	Run
	Sleep
	SleepCancellable
	Exited
)

func (s State) String() string {
	switch s {
	case NoState:
		return "NO_STATE"
	case Run:
		return "RUN"
	case Sleep:
		return "SLEEP"
	case SleepCancellable:
		return "SLEEP_CANCELLABLE"
	case Exited:
		return "EXITED"
	}
	return "UNKNOWN"
}

// Thread is the minimal schedulable unit sched operates on. Higher layers
// (internal/kernel) embed this to get scheduling behavior; the goroutine
// backing a Thread is the "context" spec.md describes as saved/restored by
// Switch -- here the Go runtime itself performs that save/restore, and
// Switch's job is purely to decide who holds the kernel lock next.
type Thread struct {
	mu sync.Mutex

	state     State
	cancelled bool
	retval    int

	wchan *WaitQueue

	wake chan struct{} // buffered(1): signals this thread may run again

	elem *list.Element // this thread's node in its current queue, if any
}

// NewThread creates a thread in NoState, not yet scheduled.
func NewThread() *Thread {
	return &Thread{wake: make(chan struct{}, 1)}
}

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Thread) Retval() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retval
}

// WaitQueue is an ordered sequence of sleeping threads with FIFO wake
// semantics. The zero value is ready to use.
type WaitQueue struct {
	mu sync.Mutex
	q  list.List
}

// Scheduler owns the big kernel lock: exactly one goroutine holds it and
// is considered "running" at any time, matching spec.md's single-CPU,
// non-preemptive model.
type Scheduler struct {
	lock sync.Mutex
}

// New creates a scheduler. The caller's goroutine is expected to call
// Enter once before driving any threads.
func New() *Scheduler {
	return &Scheduler{}
}

// Enter acquires the kernel lock on behalf of t, making it the running
// thread. Used once per goroutine when a thread is first created/cloned.
func (s *Scheduler) Enter(t *Thread) {
	s.lock.Lock()
	t.mu.Lock()
	t.state = Run
	t.mu.Unlock()
}

// MakeRunnable marks t runnable and wakes its goroutine if it is parked.
// It does not itself transfer the kernel lock -- the woken goroutine
// acquires it the normal way once Switch releases it.
func (s *Scheduler) MakeRunnable(t *Thread) {
	t.mu.Lock()
	t.state = Run
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Switch releases the kernel lock and re-acquires it once the caller is
// made runnable again. Call sites: SleepOn/CancellableSleepOn (after
// enqueuing on a wait queue) and voluntary yields.
func (s *Scheduler) Switch(t *Thread) {
	s.lock.Unlock()
	<-t.wake
	s.lock.Lock()
}

// SleepOn enqueues curthr on q, marks it SLEEP, and yields the CPU until
// woken by WakeupOn.
func (s *Scheduler) SleepOn(q *WaitQueue, curthr *Thread) {
	curthr.mu.Lock()
	kassert.True(curthr.wchan == nil, "thread already on a wait queue")
	curthr.state = Sleep
	curthr.wchan = q
	curthr.mu.Unlock()

	q.mu.Lock()
	e := q.q.PushBack(curthr)
	q.mu.Unlock()
	curthr.elem = e

	s.Switch(curthr)
}

// ErrInterrupted is returned by CancellableSleepOn when the sleeper was
// cancelled instead of woken normally.
var ErrInterrupted error = kerrno.EINTR

// CancellableSleepOn is SleepOn, but a concurrent Cancel(t) may wake the
// thread early; in that case CancellableSleepOn returns ErrInterrupted. A
// thread that is already cancelled returns ErrInterrupted without sleeping.
func (s *Scheduler) CancellableSleepOn(q *WaitQueue, curthr *Thread) error {
	if curthr.Cancelled() {
		return ErrInterrupted
	}

	curthr.mu.Lock()
	kassert.True(curthr.wchan == nil, "thread already on a wait queue")
	curthr.state = SleepCancellable
	curthr.wchan = q
	curthr.mu.Unlock()

	q.mu.Lock()
	e := q.q.PushBack(curthr)
	q.mu.Unlock()
	curthr.elem = e

	s.Switch(curthr)

	if curthr.Cancelled() {
		return ErrInterrupted
	}
	return nil
}

// WakeupOn dequeues and makes runnable the head of q (FIFO), returning it,
// or nil if q is empty.
func (s *Scheduler) WakeupOn(q *WaitQueue) *Thread {
	q.mu.Lock()
	front := q.q.Front()
	if front == nil {
		q.mu.Unlock()
		return nil
	}
	q.q.Remove(front)
	q.mu.Unlock()

	t := front.Value.(*Thread)
	t.mu.Lock()
	t.wchan = nil
	t.elem = nil
	t.mu.Unlock()

	s.MakeRunnable(t)
	return t
}

// WakeupAll wakes every thread currently on q, preserving FIFO order.
func (s *Scheduler) WakeupAll(q *WaitQueue) {
	for s.WakeupOn(q) != nil {
	}
}

// Cancel marks t cancelled and, if it is sleeping cancellably, removes it
// from its wait queue and makes it runnable immediately. A thread sleeping
// non-cancellably is left alone: it must be woken by its own resource.
func (s *Scheduler) Cancel(t *Thread, retval int) {
	t.mu.Lock()
	t.cancelled = true
	t.retval = retval
	q := t.wchan
	cancellable := t.state == SleepCancellable
	elem := t.elem
	t.mu.Unlock()

	if !cancellable || q == nil {
		return
	}

	q.mu.Lock()
	if elem != nil {
		q.q.Remove(elem)
	}
	q.mu.Unlock()

	t.mu.Lock()
	t.wchan = nil
	t.elem = nil
	t.mu.Unlock()

	s.MakeRunnable(t)
}

// Exit marks t EXITED with the given retval. Called once, from the
// thread's own goroutine, right before it stops running kernel code.
func (t *Thread) Exit(retval int) {
	t.mu.Lock()
	t.state = Exited
	t.retval = retval
	t.mu.Unlock()
}

// Yield releases and immediately reacquires the kernel lock, giving other
// runnable goroutines a chance to run. It is how a thread "calls switch()"
// without sleeping on any queue.
func (s *Scheduler) Yield(curthr *Thread) {
	s.MakeRunnable(curthr)
	s.Switch(curthr)
}

// Retire releases the kernel lock for good, without re-acquiring it. Call
// this exactly once, as the last action of a thread's goroutine after it
// has marked itself Exited -- otherwise the lock stays held forever and no
// other thread can ever run again.
func (s *Scheduler) Retire() {
	s.lock.Unlock()
}
