// Package dpc implements deferred procedure calls: work items queued by an
// interrupt handler to run once IPL drops back below Soft, so the handler
// itself can stay short. The design and naming follow Windows NT DPCs and
// play the role NetBSD gives softints.
package dpc

import "ipl"

// Dpc is one deferred call, linking into a per-CPU queue.
type Dpc struct {
	Fun   func(arg any)
	Arg   any
	bound bool
	next  *Dpc
}

// Queue is a single CPU's pending DPC list.
type Queue struct {
	lock  ipl.Spinlock
	first *Dpc
	last  *Dpc
}

// Bind associates the queue with the owning CPU's IPL state.
func (q *Queue) Bind(cpu *ipl.State) {
	q.lock.Bind(cpu)
}

// Enqueue schedules d to run the next time the queue is drained, unless it
// is already pending.
func (q *Queue) Enqueue(d *Dpc) {
	q.lock.Lock()
	if !d.bound {
		d.bound = true
		d.next = nil
		if q.last != nil {
			q.last.next = d
		} else {
			q.first = d
		}
		q.last = d
	}
	q.lock.Unlock()
}

// Run drains the queue, invoking each DPC's function in turn. Each dequeue
// happens under the queue's spinlock, which raises IPL to Hard only for the
// instant it takes to dequeue one item, mirroring dpcs_run's approach of
// never holding the lock while the callback itself executes (a DPC may
// enqueue further DPCs).
func (q *Queue) Run() {
	for {
		q.lock.Lock()
		first := q.first
		var fun func(arg any)
		var arg any
		if first != nil {
			first.bound = false
			q.first = first.next
			if q.first == nil {
				q.last = nil
			}
			fun = first.Fun
			arg = first.Arg
		}
		q.lock.Unlock()

		if fun == nil {
			return
		}
		fun(arg)
	}
}
