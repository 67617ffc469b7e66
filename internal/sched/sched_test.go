package sched

import (
	"testing"
	"time"
)

func TestEnterGrantsLockExclusively(t *testing.T) {
	s := New()
	th := NewThread()
	s.Enter(th)
	if th.State() != Run {
		t.Fatalf("state = %v, want Run", th.State())
	}
	s.Retire()
}

func TestSleepOnAndWakeupOn(t *testing.T) {
	s := New()
	var q WaitQueue

	sleeper := NewThread()
	s.Enter(sleeper)

	woke := make(chan struct{})
	go func() {
		s.SleepOn(&q, sleeper)
		close(woke)
		s.Retire()
	}()

	// give the sleeper goroutine a chance to enqueue and release the lock
	time.Sleep(20 * time.Millisecond)
	if sleeper.State() != Sleep {
		t.Fatalf("state = %v, want Sleep", sleeper.State())
	}

	waker := NewThread()
	s.Enter(waker)
	woken := s.WakeupOn(&q)
	if woken != sleeper {
		t.Fatalf("WakeupOn returned %v, want sleeper", woken)
	}
	s.Retire()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never resumed")
	}
}

func TestWakeupOnEmptyQueueReturnsNil(t *testing.T) {
	s := New()
	var q WaitQueue
	th := NewThread()
	s.Enter(th)
	if w := s.WakeupOn(&q); w != nil {
		t.Fatalf("WakeupOn on empty queue = %v, want nil", w)
	}
	s.Retire()
}

func TestWakeupAllWakesEverySleeper(t *testing.T) {
	s := New()
	var q WaitQueue

	const n = 3
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		th := NewThread()
		s.Enter(th)
		go func(th *Thread, i int) {
			s.SleepOn(&q, th)
			done <- i
			s.Retire()
		}(th, i)
		time.Sleep(10 * time.Millisecond)
	}

	waker := NewThread()
	s.Enter(waker)
	s.WakeupAll(&q)
	s.Retire()

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all sleepers resumed")
		}
	}
}

func TestCancelWakesCancellableSleeperWithEINTR(t *testing.T) {
	s := New()
	var q WaitQueue

	sleeper := NewThread()
	s.Enter(sleeper)

	result := make(chan error, 1)
	go func() {
		err := s.CancellableSleepOn(&q, sleeper)
		result <- err
		s.Retire()
	}()

	time.Sleep(20 * time.Millisecond)

	canceller := NewThread()
	s.Enter(canceller)
	s.Cancel(sleeper, -1)
	s.Retire()

	select {
	case err := <-result:
		if err != ErrInterrupted {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled sleeper never resumed")
	}
	if sleeper.Retval() != -1 {
		t.Fatalf("retval = %d, want -1", sleeper.Retval())
	}
}

func TestCancelLeavesNonCancellableSleeperAsleep(t *testing.T) {
	s := New()
	var q WaitQueue

	sleeper := NewThread()
	s.Enter(sleeper)

	woke := make(chan struct{})
	go func() {
		s.SleepOn(&q, sleeper)
		close(woke)
		s.Retire()
	}()
	time.Sleep(20 * time.Millisecond)

	canceller := NewThread()
	s.Enter(canceller)
	s.Cancel(sleeper, 7)
	s.Retire()

	select {
	case <-woke:
		t.Fatal("non-cancellable sleeper was woken by Cancel")
	case <-time.After(50 * time.Millisecond):
	}
	if !sleeper.Cancelled() {
		t.Fatal("cancelled flag not set")
	}

	waker := NewThread()
	s.Enter(waker)
	s.WakeupOn(&q)
	s.Retire()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke after explicit WakeupOn")
	}
}

func TestYieldReturnsLockToCaller(t *testing.T) {
	s := New()
	th := NewThread()
	s.Enter(th)
	s.Yield(th)
	if th.State() != Run {
		t.Fatalf("state after Yield = %v, want Run", th.State())
	}
	s.Retire()
}

func TestExitSetsStateAndRetval(t *testing.T) {
	th := NewThread()
	th.Exit(42)
	if th.State() != Exited {
		t.Fatalf("state = %v, want Exited", th.State())
	}
	if th.Retval() != 42 {
		t.Fatalf("retval = %d, want 42", th.Retval())
	}
}

func TestStateStringCoversAllValues(t *testing.T) {
	cases := map[State]string{
		NoState:          "NO_STATE",
		Run:              "RUN",
		Sleep:            "SLEEP",
		SleepCancellable: "SLEEP_CANCELLABLE",
		Exited:           "EXITED",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
