// Package mem is the physical page-frame database: the single source of
// truth for what every page of physical memory is currently doing. Every
// page belongs to exactly one queue at a time (free, kmem, wired, active,
// inactive, or mapped into a pmap) and carries a reference count; the
// virtual memory manager and the kernel heap allocator both hand pages
// back and forth through this package rather than tracking frames
// themselves. The design generalizes a single free list into the full
// multi-queue lifecycle a working pager needs, the way a Mach or
// BSD-derived VM subsystem does it.
package mem

import (
	"sync"

	"mach"
)

// Pa_t is a physical address.
type Pa_t uintptr

// Pfn_t is a physical frame number: a physical address divided by the page
// size.
type Pfn_t uint32

const PageSize = 4096

// none marks the absence of a link in one of the intrusive per-queue lists.
const none = ^uint32(0)

// Queue identifies which list a page frame currently lives on.
type Queue int

const (
	// QFree pages are immediately available for allocation.
	QFree Queue = iota
	// QKmem pages back the kernel heap (vmem/kmem arenas).
	QKmem
	// QWired pages are pinned kernel allocations that are never reclaimed
	// under memory pressure (page tables, DMA buffers).
	QWired
	// QActive pages are resident and have been referenced recently.
	QActive
	// QInactive pages are resident but are reclaim candidates.
	QInactive
	// QPmap pages are currently mapped into at least one address space via
	// a pv entry, independent of active/inactive status; used for pages
	// directly handed to a pmap outside the anon/amap path (page tables
	// themselves).
	QPmap
	numQueues
)

// page is one physical frame's bookkeeping record.
type page struct {
	refcnt int32
	queue  Queue
	next   uint32
	prev   uint32
	pv     *PV
}

// Stat summarizes how many pages are on each queue, the physical-memory
// analogue of the vmstat counters a VM subsystem reports.
type Stat struct {
	Free, Kmem, Wired, Active, Inactive, Pmap int
}

// Database is the physical page-frame database covering one contiguous
// range of physical memory.
type Database struct {
	mu       sync.Mutex
	pages    []page
	bytes    [][]uint8
	startPfn Pfn_t
	heads    [numQueues]uint32
	tails    [numQueues]uint32
	counts   [numQueues]int

	pcpu [mach.MAXCPUS]pcpuFree
}

type pcpuFree struct {
	mu    sync.Mutex
	cache []uint32
}

const pcpuCacheMax = 32

// Init constructs a Database covering nframes frames starting at startPfn,
// with every frame initially on the free queue.
func (d *Database) Init(startPfn Pfn_t, nframes int) {
	d.startPfn = startPfn
	d.pages = make([]page, nframes)
	d.bytes = make([][]uint8, nframes)
	for i := range d.heads {
		d.heads[i] = none
		d.tails[i] = none
	}
	for i := range d.pages {
		d.pages[i].queue = QFree
		d.pages[i].next = none
		d.pages[i].prev = none
		d.linkTail(QFree, uint32(i))
	}
	d.counts[QFree] = nframes
}

func (d *Database) linkTail(q Queue, idx uint32) {
	d.pages[idx].prev = d.tails[q]
	d.pages[idx].next = none
	if d.tails[q] != none {
		d.pages[d.tails[q]].next = idx
	} else {
		d.heads[q] = idx
	}
	d.tails[q] = idx
}

func (d *Database) unlink(q Queue, idx uint32) {
	p := &d.pages[idx]
	if p.prev != none {
		d.pages[p.prev].next = p.next
	} else {
		d.heads[q] = p.next
	}
	if p.next != none {
		d.pages[p.next].prev = p.prev
	} else {
		d.tails[q] = p.prev
	}
	p.next, p.prev = none, none
}

// Move transfers pfn from its current queue onto q, locked.
func (d *Database) Move(pfn Pfn_t, q Queue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moveLocked(pfn, q)
}

func (d *Database) moveLocked(pfn Pfn_t, q Queue) {
	idx := uint32(pfn - d.startPfn)
	old := d.pages[idx].queue
	d.unlink(old, idx)
	d.counts[old]--
	d.pages[idx].queue = q
	d.linkTail(q, idx)
	d.counts[q]++
}

// cpuOf picks a per-CPU cache slot for cpu, clamped into range.
func (d *Database) cpuOf(cpu int) *pcpuFree {
	if cpu < 0 || cpu >= mach.MAXCPUS {
		cpu = 0
	}
	return &d.pcpu[cpu]
}

// Alloc removes one page from the free queue, places it on q with a
// reference count of 1, and returns its frame number. cpu selects which
// per-CPU free cache to try first. ok is false if no memory is available.
func (d *Database) Alloc(cpu int, q Queue) (pfn Pfn_t, ok bool) {
	pc := d.cpuOf(cpu)
	pc.mu.Lock()
	if n := len(pc.cache); n > 0 {
		idx := pc.cache[n-1]
		pc.cache = pc.cache[:n-1]
		pc.mu.Unlock()
		d.mu.Lock()
		d.pages[idx].refcnt = 1
		d.counts[QFree]--
		d.pages[idx].queue = q
		d.linkTail(q, idx)
		d.counts[q]++
		d.bytes[idx] = nil
		d.mu.Unlock()
		return d.startPfn + Pfn_t(idx), true
	}
	pc.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.heads[QFree]
	if idx == none {
		return 0, false
	}
	d.unlink(QFree, idx)
	d.counts[QFree]--
	d.pages[idx].refcnt = 1
	d.pages[idx].queue = q
	d.linkTail(q, idx)
	d.counts[q]++
	d.bytes[idx] = nil
	return d.startPfn + Pfn_t(idx), true
}

// PageBytes returns the byte contents of pfn's frame, materialized on
// first access. Alloc hands every frame out zeroed by dropping whatever
// contents its previous owner left.
func (d *Database) PageBytes(pfn Pfn_t) []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := uint32(pfn - d.startPfn)
	if d.bytes[idx] == nil {
		d.bytes[idx] = make([]uint8, PageSize)
	}
	return d.bytes[idx]
}

// Free drops pfn's reference count; once it reaches zero the frame returns
// to the free queue (via the calling CPU's cache when there's room).
func (d *Database) Free(cpu int, pfn Pfn_t) {
	idx := uint32(pfn - d.startPfn)

	d.mu.Lock()
	d.pages[idx].refcnt--
	rc := d.pages[idx].refcnt
	if rc > 0 {
		d.mu.Unlock()
		return
	}
	if rc < 0 {
		panic("mem: refcount underflow")
	}
	old := d.pages[idx].queue
	d.unlink(old, idx)
	d.counts[old]--
	d.pages[idx].queue = QFree
	d.counts[QFree]++
	d.mu.Unlock()

	pc := d.cpuOf(cpu)
	pc.mu.Lock()
	if len(pc.cache) < pcpuCacheMax {
		pc.cache = append(pc.cache, idx)
		pc.mu.Unlock()
		return
	}
	pc.mu.Unlock()

	d.mu.Lock()
	d.linkTail(QFree, idx)
	d.mu.Unlock()
}

// Refup increments pfn's reference count.
func (d *Database) Refup(pfn Pfn_t) {
	d.mu.Lock()
	d.pages[uint32(pfn-d.startPfn)].refcnt++
	d.mu.Unlock()
}

// Refcnt reports pfn's current reference count.
func (d *Database) Refcnt(pfn Pfn_t) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[uint32(pfn-d.startPfn)].refcnt
}

// Stat returns a snapshot of per-queue page counts.
func (d *Database) Stat() Stat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stat{
		Free:     d.counts[QFree],
		Kmem:     d.counts[QKmem],
		Wired:    d.counts[QWired],
		Active:   d.counts[QActive],
		Inactive: d.counts[QInactive],
		Pmap:     d.counts[QPmap],
	}
}

// ToPa converts a frame number to a physical address.
func ToPa(pfn Pfn_t) Pa_t { return Pa_t(pfn) * PageSize }

// ToPfn converts a physical address to a frame number.
func ToPfn(pa Pa_t) Pfn_t { return Pfn_t(pa / PageSize) }
