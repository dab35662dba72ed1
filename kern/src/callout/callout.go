// Package callout implements the kernel's most fundamental timer: a
// per-CPU delta list, where every entry's Nanosecs field is relative to the
// entry before it (or to now, for the head). A single hardware one-shot
// timer only ever needs to be armed for the head's delay; everything behind
// it is woken in turn as the wheel is walked forward. Elapsed callouts are
// handed off to a DPC so the clock interrupt itself stays short.
package callout

import "ipl"
import "dpc"
import "util"

type state int

const (
	disabled state = iota
	pending
	elapsed
)

// Callout is one scheduled timeout.
type Callout struct {
	Dpc      dpc.Dpc
	Nanosecs uint64
	state    state
	next     *Callout
}

// Armed reports whether the callout is currently pending on a wheel.
func (c *Callout) Armed() bool { return c.state == pending }

// Timer abstracts the one-shot hardware timer a Wheel arms. SetNanos(0)
// disarms it.
type Timer interface {
	SetNanos(n uint64)
	RemainingNanos() uint64
}

// Wheel is one CPU's pending-callout delta list.
type Wheel struct {
	lock  ipl.Spinlock
	first *Callout
	timer Timer
	dpcq  *dpc.Queue
}

// Init binds the wheel to the CPU's IPL state, its hardware timer, and the
// DPC queue elapsed callouts are handed to.
func (w *Wheel) Init(cpu *ipl.State, timer Timer, dpcq *dpc.Queue) {
	w.lock.Bind(cpu)
	w.timer = timer
	w.dpcq = dpcq
}

// Enqueue schedules c to elapse after c.Nanosecs nanoseconds from now,
// walking the delta list to find its place and subtracting its remaining
// delay from the successor it's inserted before.
func (w *Wheel) Enqueue(c *Callout) {
	if c.Nanosecs == 0 {
		panic("callout: zero delay")
	}
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.first == nil {
		w.first = c
		c.next = nil
		c.state = pending
		w.timer.SetNanos(c.Nanosecs)
		return
	}

	remains := w.timer.RemainingNanos()
	w.first.Nanosecs = util.Min(remains, w.first.Nanosecs)

	// Walk forward, consuming each node's own delta from c's residual
	// delay, until reaching the first node whose delta doesn't fit
	// within what's left -- that node becomes c's new successor, with
	// its own delta reduced by c's now-final residual so every node
	// after it keeps its original absolute deadline.
	var prev *Callout
	co := w.first
	for co != nil && co.Nanosecs <= c.Nanosecs {
		c.Nanosecs -= co.Nanosecs
		prev = co
		co = co.next
	}
	if co != nil {
		co.Nanosecs -= c.Nanosecs
	}
	c.next = co
	c.state = pending
	if prev == nil {
		w.first = c
		w.timer.SetNanos(c.Nanosecs)
		return
	}
	prev.next = c
}

// Dequeue removes c from the wheel, whether or not it is still pending,
// reprogramming the hardware timer if c was the head.
func (w *Wheel) Dequeue(c *Callout) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.first == c {
		// c hasn't fired yet; fold its true remaining time -- not the
		// stale value from when it was last programmed -- into
		// whatever follows it, the same way remove folds an ordinary
		// node's delta into its successor.
		c.Nanosecs = w.timer.RemainingNanos()
	}
	w.remove(c)
	c.state = disabled
}

// remove unlinks c from the delta list, folding its own delta into its
// successor's so every node after it keeps its original absolute
// deadline, then reprograms the hardware timer if the head changed.
func (w *Wheel) remove(c *Callout) {
	if w.first == c {
		w.first = c.next
		if w.first != nil {
			w.first.Nanosecs += c.Nanosecs
			w.timer.SetNanos(w.first.Nanosecs)
		} else {
			w.timer.SetNanos(0)
		}
		c.next = nil
		return
	}
	for p := w.first; p != nil; p = p.next {
		if p.next == c {
			p.next = c.next
			if c.next != nil {
				c.next.Nanosecs += c.Nanosecs
			}
			c.next = nil
			return
		}
	}
}

// Interrupt is called from the timer interrupt handler: it pops the head
// callout, hands its DPC off for later execution, and reprograms the
// hardware timer for the new head if one remains.
func (w *Wheel) Interrupt() {
	w.lock.Lock()
	co := w.first
	if co == nil {
		w.lock.Unlock()
		return
	}
	w.first = co.next
	co.next = nil
	co.state = elapsed
	w.dpcq.Enqueue(&co.Dpc)
	if w.first != nil {
		w.timer.SetNanos(w.first.Nanosecs)
	}
	w.lock.Unlock()
}
