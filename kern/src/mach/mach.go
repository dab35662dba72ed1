// Package mach stands in for the handful of machine-specific hooks that the
// rest of the kernel needs but that this tree has no real hardware to back:
// a cycle counter, the number of CPUs, and the two interprocessor
// notifications (reschedule, TLB invalidate) that the scheduler and the
// virtual memory manager raise across CPUs. On real hardware these would be
// APIC/TSC accesses done inline in a handful of assembly instructions; here
// they are modeled in software so the rest of the tree can be written against
// the same shape of API.
package mach

import (
	"sync/atomic"
)

// MAXCPUS bounds the number of CPUs this tree is prepared to track. It plays
// the role of a compile-time constant sized off the host's APIC ID space.
const MAXCPUS = 64

var tsc uint64

// Rdtsc returns a monotonically increasing tick count. It has no relation to
// wall-clock time; callers only ever use it to measure elapsed ticks between
// two reads.
func Rdtsc() uint64 {
	return atomic.AddUint64(&tsc, 1)
}

// NumCPU reports how many CPUs the running configuration models.
func NumCPU() int {
	n := int(atomic.LoadInt32(&numCPU))
	if n == 0 {
		return 1
	}
	return n
}

var numCPU int32

// SetNumCPU fixes the number of CPUs for the lifetime of the process. It is
// called exactly once during boot.
func SetNumCPU(n int) {
	if n < 1 {
		n = 1
	}
	if n > MAXCPUS {
		n = MAXCPUS
	}
	atomic.StoreInt32(&numCPU, int32(n))
}

// IPIKind distinguishes the two interprocessor interrupts the kernel raises.
type IPIKind int

const (
	// IPIResched asks a remote CPU to reconsider what it is running.
	IPIResched IPIKind = iota
	// IPIInvlPG asks a remote CPU to flush a shot-down translation from its
	// TLB.
	IPIInvlPG
)

// ipiHandler is invoked on the "remote" side when an IPI of a given kind is
// delivered to a given CPU. The scheduler and VM packages install their own
// handlers at boot.
type ipiHandler func(cpu int)

var handlers [2]atomic.Value // holds ipiHandler

// RegisterIPIHandler installs the function to run when kind is delivered to
// any CPU. Only one handler per kind is supported, matching the single
// fixed vector each IPI owns on real hardware.
func RegisterIPIHandler(kind IPIKind, fn func(cpu int)) {
	handlers[kind].Store(ipiHandler(fn))
}

// SendIPI delivers an interprocessor interrupt of the given kind to cpu,
// synchronously, the way a real local APIC write eventually results in the
// target's interrupt handler running. Software TLB shootdown and cross-CPU
// reschedule both build on this.
func SendIPI(cpu int, kind IPIKind) {
	v := handlers[kind].Load()
	if v == nil {
		return
	}
	v.(ipiHandler)(cpu)
}

// AckCounter is a simple atomic counter used to confirm that every target CPU
// of a broadcast IPI has completed its handler, the same role
// invlpg_done_cnt plays for TLB shootdown.
type AckCounter struct {
	n int64
}

// Add adds delta to the counter and returns the new value.
func (a *AckCounter) Add(delta int64) int64 {
	return atomic.AddInt64(&a.n, delta)
}

// Load reads the counter.
func (a *AckCounter) Load() int64 {
	return atomic.LoadInt64(&a.n)
}
