package waitq

import (
	"sync/atomic"

	"ipl"
)

const mutexEv Ev = 1

// Blocker lets a Mutex suspend and resume the calling context without
// knowing what a thread is; the scheduler supplies the real
// implementation. Block returns once some other context has called Wake
// with the same Waiter.
type Blocker interface {
	Block(w *Waiter)
	Wake(w *Waiter)
}

// Mutex is a sleeping mutual-exclusion lock: a wait queue plus a count
// that is 0 when the mutex is free and 1 for the owner plus one per
// queued waiter while held. The uncontended fast path never touches the
// wait queue at all.
type Mutex struct {
	wq    Waitq
	count int32
	owner any
}

// Init binds the mutex's wait queue to the given CPU's IPL state.
func (m *Mutex) Init(cpu *ipl.State) {
	m.wq.Init(cpu)
}

// Lock acquires the mutex, blocking via blk if it is already held.
// Ownership is attributed to self, an opaque token the caller chooses
// (typically its own *Thread); Unlock must be called with the same
// token. The increment of count decides the outcome by itself: whoever
// moves it from zero owns the lock, everyone else has announced itself
// as a waiter and parks. A parked waiter receives the mutex directly
// from Unlock -- by the time Block returns, the lock is already its,
// with no second pass over count.
func (m *Mutex) Lock(self any, blk Blocker) {
	if atomic.AddInt32(&m.count, 1) == 1 {
		m.owner = self
		return
	}
	w := &Waiter{Owner: self}
	m.wq.Enqueue(w, mutexEv)
	blk.Block(w)
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock(self any) bool {
	if atomic.CompareAndSwapInt32(&m.count, 0, 1) {
		m.owner = self
		return true
	}
	return false
}

// Unlock releases the mutex. If the decrement of count leaves it
// positive there is at least one waiter, and the head of the queue is
// handed ownership directly: count still includes it, so a locker
// arriving between the decrement and the handoff sees the mutex held
// and queues behind it rather than barging in.
func (m *Mutex) Unlock(self any, blk Blocker) {
	if m.owner != self {
		panic("mutex: unlock by non-owner")
	}
	m.owner = nil
	if atomic.AddInt32(&m.count, -1) == 0 {
		return
	}
	w := m.wq.WakeOne(mutexEv)
	for w == nil {
		// A locker has made count positive but has not finished
		// linking itself into the queue yet; it is committed to
		// waiting, so spin the gap out.
		w = m.wq.WakeOne(mutexEv)
	}
	m.owner = w.Owner
	blk.Wake(w)
}

// Owner returns the token of the context currently holding the mutex,
// or nil if it is free.
func (m *Mutex) Owner() any {
	return m.owner
}
