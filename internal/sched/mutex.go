package sched

import "github.com/sandia-minimega/minimega/internal/kassert"

// Mutex is the cooperative, non-reentrant, FIFO mutex described in
// spec.md §5: on Lock, if there is no holder the caller becomes holder,
// else it sleeps on a private wait queue; Unlock wakes the head of that
// queue and transfers ownership to it atomically.
type Mutex struct {
	q      WaitQueue
	holder *Thread
}

// Lock blocks curthr until it becomes the holder. Precondition: curthr is
// not already the holder (non-reentrant).
func (m *Mutex) Lock(s *Scheduler, curthr *Thread) {
	kassert.True(m.holder != curthr, "thread already holds this mutex")

	if m.holder == nil {
		m.holder = curthr
		return
	}

	s.SleepOn(&m.q, curthr)
	// the thread that unlocked transferred ownership directly to us
	kassert.True(m.holder == curthr, "mutex ownership not transferred to waker")
}

// LockCancellable is Lock but interruptible; returns ErrInterrupted if
// cancelled while waiting, in which case the lock was not acquired.
func (m *Mutex) LockCancellable(s *Scheduler, curthr *Thread) error {
	kassert.True(m.holder != curthr, "thread already holds this mutex")

	if m.holder == nil {
		m.holder = curthr
		return nil
	}

	if err := s.CancellableSleepOn(&m.q, curthr); err != nil {
		return err
	}
	kassert.True(m.holder == curthr, "mutex ownership not transferred to waker")
	return nil
}

// Unlock transfers ownership to the next waiter (if any) and wakes it, or
// clears the holder if the queue is empty. Precondition: curthr holds the
// mutex.
func (m *Mutex) Unlock(s *Scheduler, curthr *Thread) {
	kassert.True(m.holder == curthr, "unlock by non-holder")

	m.q.mu.Lock()
	next := m.q.q.Front()
	m.q.mu.Unlock()

	if next == nil {
		m.holder = nil
		return
	}

	nt := next.Value.(*Thread)
	m.holder = nt
	s.WakeupOn(&m.q)
}
