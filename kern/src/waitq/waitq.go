// Package waitq implements the wait queue that every blocking primitive in
// the kernel is built from: condition variables, mutexes, and the
// scheduler's own sleep/wake path. A wait queue does not know what a
// thread is; it only manipulates the intrusive Waiter each blockable
// context embeds, leaving the actual decision to stop or resume running a
// thread to the scheduler.
package waitq

import "ipl"

// Result reports how a wait concluded.
type Result int

const (
	// Waiting means the wait has not yet concluded; only ever observed by
	// a caller racing a concurrent wake, never returned from Await.
	Waiting Result = -1
	Timeout Result = 0
	Interrupted Result = 1
	Event Result = 2
)

// Ev identifies a particular condition within a wait queue; its meaning is
// chosen by the queue's owner (a channel's "readable", a mutex's "free").
type Ev uintptr

// Waiter is the intrusive link a blockable context (a thread) embeds so it
// can be placed on a Waitq without the queue needing to know the
// context's own type. Owner is set by the scheduler to whatever it uses
// to identify the blocked context (typically a *proc.Thread) and is never
// interpreted by this package.
type Waiter struct {
	next, prev *Waiter
	wq         *Waitq
	ev         Ev
	res        Result
	timeout    Timeout_t
	Owner      any
}

// Timeout_t is satisfied by anything a scheduler uses to represent a
// pending callout; waitq only needs to know whether one is armed.
type Timeout_t interface {
	Armed() bool
}

// Result returns the outcome of the most recently concluded wait.
func (w *Waiter) Result() Result { return w.res }

// SetTimeout records the wait-timeout callout armed for w's current wait;
// the scheduler clears it with nil once the wait concludes.
func (w *Waiter) SetTimeout(to Timeout_t) { w.timeout = to }

// TimeoutArmed reports whether a wait-timeout callout is currently armed
// for w.
func (w *Waiter) TimeoutArmed() bool { return w.timeout != nil && w.timeout.Armed() }

// Waitq is a FIFO of waiters blocked on some shared condition.
type Waitq struct {
	lock  ipl.Spinlock
	first *Waiter
	last  *Waiter
}

// Init binds the queue to the IPL state of the CPU manipulating it.
func (q *Waitq) Init(cpu *ipl.State) {
	q.lock.Bind(cpu)
}

// Enqueue links w onto the tail of the queue awaiting ev. The caller must
// arrange for the owning thread to actually stop running; Enqueue only
// updates bookkeeping.
func (q *Waitq) Enqueue(w *Waiter, ev Ev) {
	q.lock.Lock()
	w.wq = q
	w.ev = ev
	w.res = Waiting
	w.next = nil
	w.prev = q.last
	if q.last != nil {
		q.last.next = w
	} else {
		q.first = w
	}
	q.last = w
	q.lock.Unlock()
}

// ClearWaitLocked removes w from the queue and records res as its outcome.
// Neither the waitq lock nor the thread is touched further; the caller
// (the scheduler) still owns making the thread runnable again. Matches
// thread_clearwait_locked's contract of not itself rescheduling anything.
func (q *Waitq) ClearWaitLocked(w *Waiter, ev Ev, res Result) {
	if w.wq != q {
		return
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		q.first = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		q.last = w.prev
	}
	w.next, w.prev, w.wq = nil, nil, nil
	w.res = res
}

// TimeoutExpired is called from a wait-timeout callout's deferred
// procedure once the wait's deadline passes: it dequeues w with a Timeout
// result so the scheduler can make the owning thread runnable again. It
// reports false, changing nothing, if a wake already dequeued w --
// whichever side dequeues first wins, the loser's action becoming a
// no-op.
func (q *Waitq) TimeoutExpired(w *Waiter) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if w.wq != q {
		return false
	}
	q.ClearWaitLocked(w, w.ev, Timeout)
	return true
}

// WakeOne wakes the first waiter queued on ev, if any, returning it so the
// scheduler can mark its owning thread runnable. Requires IPL Soft or
// above, mirroring waitq_wake_one's precondition.
func (q *Waitq) WakeOne(ev Ev) *Waiter {
	q.lock.Lock()
	defer q.lock.Unlock()

	for w := q.first; w != nil; w = w.next {
		if w.ev == ev {
			q.ClearWaitLocked(w, ev, Event)
			return w
		}
	}
	return nil
}

// WakeAll wakes every waiter queued on ev.
func (q *Waitq) WakeAll(ev Ev) []*Waiter {
	var woken []*Waiter
	for {
		w := q.WakeOne(ev)
		if w == nil {
			return woken
		}
		woken = append(woken, w)
	}
}
