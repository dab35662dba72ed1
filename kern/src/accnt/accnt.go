// Package accnt keeps per-thread and per-task run-time accounting. The
// scheduler charges a thread's record for every quantum the thread
// actually runs; when the thread exits, the record is folded into its
// task's, so the task total outlives the threads that produced it.
// Fetch exports a record in the byte layout a getrusage-shaped syscall
// copies to user space: four 8-byte words, a seconds/microseconds pair
// for user time followed by one for system time.
package accnt

import (
	"sync"
	"sync/atomic"

	"util"
)

// Accnt_t is one accounting record. Userns and Sysns are nanoseconds of
// user and system time; the mutex makes snapshots and merges consistent.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd charges delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd charges delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add folds n into a: the reap-time merge of an exited thread's record
// into its task's.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// Fetch returns a consistent snapshot of the record encoded as rusage.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	defer a.Unlock()
	return a.toRusage()
}

// To_rusage encodes the record without taking the lock, for callers
// that already hold it or own the record exclusively.
func (a *Accnt_t) To_rusage() []uint8 {
	return a.toRusage()
}

func (a *Accnt_t) toRusage() []uint8 {
	ret := make([]uint8, 32)
	off := 0
	for _, nanos := range []int64{a.Userns, a.Sysns} {
		util.Writen(ret, 8, off, int(nanos/1e9))
		util.Writen(ret, 8, off+8, int(nanos%1e9/1000))
		off += 16
	}
	return ret
}
