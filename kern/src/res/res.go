// Package res tracks how much of the kernel heap budget is still available
// to bounded loops elsewhere in the tree (user-buffer copies, page-fault
// resolution, slab growth). Every iteration of such a loop must reserve one
// unit before touching the heap; reservations are given back once the loop
// completes normally. This lets a caller fail a request up front with
// ENOHEAP instead of panicking deep inside a half-finished operation when
// the heap is exhausted.
package res

import (
	"sync/atomic"

	"bounds"
	"limits"
)

// budget is the same ceiling-counted Sysatomic_t the rest of the tree uses
// for Syslimit's fields, rather than a bare atomic int64 reinventing it.
var budget limits.Sysatomic_t

func init() {
	budget.Set(1 << 20) // reservable units; reset by kmem at boot
}

// SetBudget fixes the total number of reservable units. Called once by kmem
// once the heap arena's size is known.
func SetBudget(n int64) {
	budget.Set(n)
}

var perTag [int(bounds.B_PROC_THREAD_NEW) + 1]int64

// Resadd_noblock reserves one unit of heap budget for the named call site
// without blocking. It reports false, reserving nothing, if the budget is
// already exhausted.
func Resadd_noblock(b bounds.Bounds) bool {
	if !budget.Take() {
		return false
	}
	if int(b) < len(perTag) {
		atomic.AddInt64(&perTag[b], 1)
	}
	return true
}

// Resgive gives back a previously reserved unit.
func Resgive(b bounds.Bounds) {
	budget.Give()
	if int(b) < len(perTag) {
		atomic.AddInt64(&perTag[b], -1)
	}
}

// Remaining reports the number of reservable units left.
func Remaining() int64 {
	return budget.Remaining()
}
