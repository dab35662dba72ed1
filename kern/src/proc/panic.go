package proc

import (
	"fmt"
	"io"
	"os"

	"caller"
	"defs"
)

// PanicOutput is where Cpu.Panic writes its dump; tests substitute a
// buffer so they can assert on the dump's shape without capturing the
// process's real stdout.
var PanicOutput io.Writer = os.Stdout

// HandleInterrupt is the common interrupt-entry path every vector's
// thunk funnels through (handle_int in the source this tree is adapted
// from): it dispatches the vector's handler through the CPU's own
// interrupt table, then performs the interrupt-return tail -- draining
// pending DPCs if IPL fell back below Soft (handled inside Dispatch
// itself) and rescheduling if the handler left this CPU marked
// Preempted. A handler that panics is caught here and turned
// into the kernel-wide fatal dump instead of unwinding with no CPU or
// thread context attached.
func (c *Cpu) HandleInterrupt(vector int) {
	defer func() {
		if r := recover(); r != nil {
			c.Panic("interrupt vector %d: %v", vector, r)
		}
	}()

	c.Intr.Dispatch(vector)

	if c.Preempted {
		c.Preempted = false
		c.dispatchOnce()
	}
}

// Panic is the kernel-wide fatal path for kernel-space faults and
// invariant violations: a formatted dump
// including the CPU id, the thread that was running, and a symbolic
// backtrace, written to the early console before the system halts.
// There is no real console or a second CPU to halt in this model, so
// halting is approximated by letting the dump's own panic unwind the
// goroutine that called in -- the same "something no caller can recover
// from" semantics a real halt has from software's point of view.
func (c *Cpu) Panic(format string, args ...any) {
	tid := defs.Tid_t(-1)
	if c.CurThread != nil {
		tid = c.CurThread.Tid
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(PanicOutput, "panic: cpu%d thread %d: %s\n", c.Num, tid, msg)
	caller.CallerdumpTo(PanicOutput, 2)
	panic(msg)
}
