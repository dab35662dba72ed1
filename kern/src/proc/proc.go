// Package proc is the scheduler: per-CPU run queues, the thread state
// machine, and the task that groups threads sharing an address space. It
// is grounded on the same cpu_t/thread_t/task_t design the rest of this
// tree's interrupt and timer plumbing (ipl, dpc, callout) was adapted
// from, with one deliberate substitution: that design assumes a context
// switch is a handful of assembly instructions saving and restoring a
// register file, which nothing in this module stands in for. Here a
// thread's "context" is the goroutine stack Go's own runtime already
// manages, and a switch is the scheduler handing a token to exactly one
// thread's goroutine at a time via a channel, so only ever one thread per
// CPU actually executes -- the run queue, wait queue, DPC, and IPL
// machinery above this package behave identically either way.
package proc

import (
	"sync"
	"time"

	"accnt"
	"bounds"
	"callout"
	"defs"
	"dpc"
	"intr"
	"ipl"
	"mach"
	"res"
	"vm"
	"waitq"
)

// State is a thread's position in its lifecycle.
type State int

const (
	Runnable State = iota
	Running
	Waiting
	Exiting
)

const timesliceNanos = 50_000_000 // 50ms

// ClockVector is the interrupt vector the periodic hardware timer fires,
// dispatched through the owning Cpu's own Table like any other interrupt
// rather than calling the callout wheel directly, so a clock tick gets
// the same IPL-raise/DPC-drain/panic-on-handler-fault treatment every
// other interrupt does.
const ClockVector = 0

// Thread is one schedulable context.
type Thread struct {
	waitq.Waiter

	Tid   defs.Tid_t
	Task  *Task
	Cpu   *Cpu
	state State

	// Atime tracks how much wall-clock time this thread has actually
	// spent running, accumulated by the dispatcher across every
	// scheduling quantum it was handed. There is no kernel/user mode
	// split to measure separately in this model, so a quantum is
	// counted as user time, the way Accnt_t's own field names assume
	// for a thread that isn't itself blocked in the kernel.
	Atime accnt.Accnt_t

	resumeCh chan struct{}
	doneCh   chan struct{}
	fn       func()

	mu sync.Mutex
}

// Rusage encodes the thread's accumulated accounting as the same rusage
// byte layout a getrusage-shaped syscall would copy out to user space.
func (t *Thread) Rusage() []uint8 {
	return t.Atime.Fetch()
}

// Task groups threads that share an address space. Atime accumulates the
// run time of every thread the task has already reaped, so the task
// total survives its threads.
type Task struct {
	Name    string
	Pid     defs.Pid_t
	Map     *vm.Vm_t
	Atime   accnt.Accnt_t
	mu      sync.Mutex
	threads []*Thread
}

// Cpu is one CPU's scheduling state: its run queue, its IPL level, its
// DPC queue, its callout wheel, and its interrupt vector table.
type Cpu struct {
	Num       int
	Ipl       ipl.State
	DpcQ      dpc.Queue
	Callouts  callout.Wheel
	Intr      intr.Table
	CurThread *Thread
	Preempted bool

	mu        sync.Mutex
	runq      []*Thread
	idle      *Thread
	timeslice callout.Callout
}

func init() { registerResched() }

// registerResched wires the cross-CPU reschedule IPI to the target CPU's
// preempt marker; separated out so init ordering is obvious.
func registerResched() {
	mach.RegisterIPIHandler(mach.IPIResched, func(cpu int) {
		if c := cpuTable[cpu]; c != nil {
			c.preempt()
		}
	})
}

var cpuTable [mach.MAXCPUS]*Cpu
var cpuTableMu sync.Mutex

// NewCpu creates and registers CPU number num, with an initially disarmed
// software timer backing its callout wheel. Call Cpu.Callouts.Init again
// with a real Timer implementation once boot wiring has one available.
func NewCpu(num int) *Cpu {
	c := &Cpu{Num: num}
	c.DpcQ.Bind(&c.Ipl)
	c.Callouts.Init(&c.Ipl, &nullTimer{}, &c.DpcQ)
	c.Intr.Init(&c.Ipl, &c.DpcQ)
	c.Intr.Register(ClockVector, ipl.Sched, func(any) { c.Callouts.Interrupt() }, nil)
	c.timeslice.Dpc.Fun = func(any) { c.preempt() }
	cpuTableMu.Lock()
	cpuTable[num] = c
	cpuTableMu.Unlock()
	return c
}

// nullTimer records the last arm request but never counts down or fires;
// suitable until boot installs a real Timer driven by the host's clock.
type nullTimer struct{ remaining uint64 }

func (t *nullTimer) SetNanos(n uint64)     { t.remaining = n }
func (t *nullTimer) RemainingNanos() uint64 { return t.remaining }

// ThreadNew creates a new thread belonging to task, in the Runnable state
// but not yet on any CPU's run queue.
func ThreadNew(task *Task) (*Thread, defs.Err_t) {
	if !res.Resadd_noblock(bounds.B_PROC_THREAD_NEW) {
		return nil, defs.ENOHEAP
	}
	defer res.Resgive(bounds.B_PROC_THREAD_NEW)

	t := &Thread{
		Task:     task,
		state:    Runnable,
		resumeCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	t.Waiter.Owner = t
	task.mu.Lock()
	task.threads = append(task.threads, t)
	task.mu.Unlock()
	return t, 0
}

// Goto sets the thread to run fun once scheduled, and launches the
// goroutine that will execute it each time the scheduler resumes it.
func (t *Thread) Goto(fun func()) {
	t.fn = fun
	go func() {
		<-t.resumeCh
		fun()
		t.mu.Lock()
		t.state = Exiting
		t.mu.Unlock()
		t.doneCh <- struct{}{}
	}()
}

// Run assigns the thread to cpu and marks it runnable, appending it to
// that CPU's run queue.
func (t *Thread) Run(cpu *Cpu) {
	t.mu.Lock()
	t.Cpu = cpu
	t.state = Runnable
	t.mu.Unlock()

	cpu.mu.Lock()
	cpu.runq = append(cpu.runq, t)
	cpu.mu.Unlock()
}

// Yield voluntarily gives up the CPU; if still runnable, it rejoins the
// back of its CPU's run queue. Dispatch resumes it when its turn comes
// again.
func (t *Thread) Yield() {
	cpu := t.Cpu
	t.mu.Lock()
	still := t.state == Running
	if still {
		t.state = Runnable
	}
	t.mu.Unlock()
	if still {
		cpu.mu.Lock()
		cpu.runq = append(cpu.runq, t)
		cpu.mu.Unlock()
	}
	cpu.switchAway(t)
}

// Block implements waitq.Blocker: it moves the thread to the waiting
// state and switches away from it. The thread does not run again until
// some other context calls Wake on the same waiter.
func (t *Thread) Block(w *waitq.Waiter) {
	t.mu.Lock()
	t.state = Waiting
	t.mu.Unlock()
	t.Cpu.switchAway(t)
}

// Wake marks the waiter's owning thread runnable again and enqueues it.
func (t *Thread) Wake(w *waitq.Waiter) {
	owner, _ := w.Owner.(*Thread)
	if owner == nil {
		return
	}
	owner.Run(owner.Cpu)
}

// AwaitOn is waitq_await: block t on wq until ev is signalled or nanos
// elapse, 0 meaning no deadline. The timeout is a callout on t's CPU
// whose deferred procedure dequeues the thread with a Timeout result and
// makes it runnable again; a wake racing the expiry is resolved by
// whichever side dequeues the waiter first.
func (t *Thread) AwaitOn(wq *waitq.Waitq, ev waitq.Ev, nanos uint64) waitq.Result {
	wq.Enqueue(&t.Waiter, ev)
	var co *callout.Callout
	if nanos > 0 {
		co = &callout.Callout{Nanosecs: nanos}
		co.Dpc.Fun = func(any) {
			if wq.TimeoutExpired(&t.Waiter) {
				t.Run(t.Cpu)
			}
		}
		t.Waiter.SetTimeout(co)
		t.Cpu.Callouts.Enqueue(co)
	}
	t.Block(&t.Waiter)
	if co != nil {
		t.Cpu.Callouts.Dequeue(co)
		t.Waiter.SetTimeout(nil)
	}
	return t.Waiter.Result()
}

// dispatchOnce runs exactly one runnable thread to the point where it
// yields, blocks, or exits, then returns. It is the cooperative analogue
// of thread_switchto.
func (c *Cpu) dispatchOnce() {
	c.mu.Lock()
	if len(c.runq) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.runq[0]
	c.runq = c.runq[1:]
	more := len(c.runq) > 0
	c.mu.Unlock()

	next.mu.Lock()
	next.state = Running
	next.mu.Unlock()
	c.CurThread = next

	// Only arm the quantum timer when another thread is waiting its turn;
	// a lone thread keeps the CPU until it yields or blocks on its own.
	armed := more && !c.timeslice.Armed()
	if armed {
		c.timeslice.Nanosecs = timesliceNanos
		c.Callouts.Enqueue(&c.timeslice)
	}

	start := time.Now()
	next.resumeCh <- struct{}{}
	<-next.doneCh
	next.Atime.Utadd(int(time.Since(start).Nanoseconds()))
	c.CurThread = nil

	if armed {
		c.Callouts.Dequeue(&c.timeslice)
	}

	next.mu.Lock()
	exited := next.state == Exiting
	next.mu.Unlock()
	if exited {
		c.reap(next)
	}
}

// reap finishes an exited thread: its run time is folded into its
// task's total, it is dropped from the task's thread list, and a task
// left threadless releases its address space.
func (c *Cpu) reap(t *Thread) {
	task := t.Task
	if task == nil {
		return
	}
	task.Atime.Add(&t.Atime)
	task.mu.Lock()
	for i, th := range task.threads {
		if th == t {
			task.threads = append(task.threads[:i], task.threads[i+1:]...)
			break
		}
	}
	threadless := len(task.threads) == 0
	task.mu.Unlock()
	if threadless && task.Map != nil {
		task.Map.Uvmfree()
	}
}

// Run drains the run queue, dispatching one thread at a time, until it is
// empty. A real CPU would instead idle and wait for an interrupt; this
// model has nothing to idle against, so an empty queue simply returns.
func (c *Cpu) Run() {
	for {
		c.mu.Lock()
		empty := len(c.runq) == 0
		c.mu.Unlock()
		if empty {
			return
		}
		c.dispatchOnce()
	}
}

// switchAway hands control back to the dispatcher, parking the calling
// goroutine until it is resumed (or exits, for a thread whose fn already
// returned).
func (c *Cpu) switchAway(t *Thread) {
	t.doneCh <- struct{}{}
	<-t.resumeCh
}

// preempt is invoked by the cross-CPU reschedule IPI handler and by the
// timeslice callout's DPC; on real hardware it would interrupt whatever
// is running so the scheduler is re-entered at the next safe point. Here
// it sets the marker HandleInterrupt's return tail checks.
func (c *Cpu) preempt() { c.Preempted = true }

// IPIResched asks cpu to reconsider what it's running, the cross-CPU
// counterpart of a local timeslice expiry.
func IPIResched(cpu *Cpu) {
	mach.SendIPI(cpu.Num, mach.IPIResched)
}
