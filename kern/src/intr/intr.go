// Package intr is the per-CPU interrupt vector table: a fixed array of
// (priority, handler) pairs a CPU dispatches through, raising IPL to the
// vector's own priority for the duration of the handler and draining the
// DPC queue before returning if the level dropped back below Soft. There
// is no real hardware IDT standing behind this in a software model, but
// the dispatch discipline -- handler runs at its class's IPL, DPCs only
// ever run below Soft -- is exactly what a real one enforces.
package intr

import (
	"sync/atomic"
	"unsafe"

	"dpc"
	"ipl"
	"stats"
)

const NumVectors = 256

// Handler is one interrupt service routine.
type Handler func(arg any)

type entry struct {
	prio    ipl.Level
	handler Handler
	arg     any
}

// Table is one CPU's interrupt vector table.
type Table struct {
	vectors [NumVectors]entry
	cpu     *ipl.State
	dpcq    *dpc.Queue

	Dispatched stats.Counter_t
	Cycles     stats.Cycles_t
}

// Init binds the table to the owning CPU's IPL state and DPC queue.
func (t *Table) Init(cpu *ipl.State, dpcq *dpc.Queue) {
	t.cpu = cpu
	t.dpcq = dpcq
}

// Register installs handler at vector, to run at IPL prio. Returns false
// if the vector is already taken.
func (t *Table) Register(vector int, prio ipl.Level, handler Handler, arg any) bool {
	if t.vectors[vector].handler != nil {
		return false
	}
	t.vectors[vector] = entry{prio: prio, handler: handler, arg: arg}
	return true
}

// Alloc finds the lowest-numbered free vector whose fixed priority class
// is at least prio, the same policy md_intr_alloc uses so that vectors of
// a given priority class stay grouped together in the table.
func (t *Table) Alloc(prio ipl.Level) (int, bool) {
	base := int(prio) << 4
	for v := base; v < NumVectors; v++ {
		if t.vectors[v].handler == nil {
			return v, true
		}
	}
	return 0, false
}

// Dispatch runs the handler installed at vector, raising IPL to its
// priority class for the duration, then draining the DPC queue if IPL has
// dropped back below Soft -- the same sequence handle_int performs on
// every interrupt return.
func (t *Table) Dispatch(vector int) {
	e := t.vectors[vector]
	if e.handler == nil {
		return
	}
	start := stats.Rdtsc()
	old := t.cpu.Raise(e.prio)
	e.handler(e.arg)
	t.cpu.Lower(old)
	t.Dispatched.Inc()
	t.Cycles.Add(start)

	atomic.AddInt64((*int64)(unsafe.Pointer(&stats.Irqs)), 1)
	if vector < len(stats.Nirqs) {
		atomic.AddInt64((*int64)(unsafe.Pointer(&stats.Nirqs[vector])), 1)
	}

	if t.cpu.Get() < ipl.Soft {
		t.dpcq.Run()
	}
}

// Summary returns a printable dump of this table's dispatch counters,
// same shape as every other stats-backed component's debug output.
// Empty unless stats.Stats is compiled on.
func (t *Table) Summary() string {
	return stats.Stats2String(*t)
}
