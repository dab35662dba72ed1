// Package kmem is the kernel heap: a ladder of fixed-size-class slab zones
// sitting on top of a PageSource that supplies the page-granularity
// backing space. Small object classes (at most smallSlabMax bytes) carve
// each slab from a single page; larger classes size a slab for sixteen
// objects, rounded up to whole pages. Every class, small or large, keeps
// its slab header and its free list out of line: each free buffer is
// tracked by a separate bufctl record holding the buffer's address, and
// the free list is not threaded through the buffers themselves. A bufctl
// has no pointer back to its slab; Free finds the owning slab by address.
package kmem

import (
	"sync"

	"bounds"
	"res"
	"ustr"
	"util"
)

const pageSize = 4096
const smallSlabMax = 256

// zoneSizes is the size-class ladder every allocation is rounded up to.
var zoneSizes = [...]uintptr{
	8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256,
	320, 384, 448, 512, 640, 768, 896, 1024, 1280, 1536, 1792, 2048,
	2560, 3072, 3584, 4096,
}

// PageSource supplies the kernel heap with backing pages, mapped and
// ready to use, at whatever virtual address it chooses. It is implemented
// by the kernel wired allocator in the vm package; kmem only consumes the
// interface so it never needs to import vm.
type PageSource interface {
	AllocPages(npages int) (va uintptr, ok bool)
	FreePages(va uintptr, npages int)
}

type bufctl struct {
	next *bufctl
	base uintptr // only set for large (out-of-line) slabs
}

type slab struct {
	next, prev *slab
	zone       *zone
	nfree      int
	firstFree  *bufctl
	base       uintptr // page(s) backing this slab
	npages     int
}

type zone struct {
	mu    sync.Mutex
	size  uintptr
	name  ustr.Ustr
	slabs *slab // head of a ring the allocator rotates through
}

// Heap is a complete kernel heap: one zone per size class, plus a
// large-object path that hands whole-page requests straight to the page
// source every zone also grows from.
type Heap struct {
	zones [len(zoneSizes)]zone
	pages PageSource
}

// Init wires the heap to its backing page source and tells res how much
// budget the heap can extend bounded loops with.
func (h *Heap) Init(pages PageSource, budget int64) {
	h.pages = pages
	for i, sz := range zoneSizes {
		h.zones[i].size = sz
		h.zones[i].name = ustr.Ustr("kmem").ExtendNum(uint64(sz))
	}
	res.SetBudget(budget)
}

// zoneFor returns the index of the smallest zone able to satisfy size, or
// -1 if size exceeds every zone (and must go to the page source directly).
func zoneFor(size uintptr) int {
	for i, sz := range zoneSizes {
		if size <= sz {
			return i
		}
	}
	return -1
}

// Alloc returns size bytes of kernel heap memory as a virtual address.
// Requests larger than the biggest zone bypass the zones entirely and go
// straight to the wired page source, rounded up to whole pages.
func (h *Heap) Alloc(size uintptr) (uintptr, bool) {
	if !res.Resadd_noblock(bounds.B_KMEM_ALLOC) {
		return 0, false
	}
	defer res.Resgive(bounds.B_KMEM_ALLOC)

	idx := zoneFor(size)
	if idx < 0 {
		return h.pages.AllocPages(wholePages(size))
	}
	return h.zones[idx].alloc(h)
}

// Free releases an allocation of size bytes previously returned by Alloc.
func (h *Heap) Free(va uintptr, size uintptr) {
	idx := zoneFor(size)
	if idx < 0 {
		h.pages.FreePages(va, wholePages(size))
		return
	}
	h.zones[idx].free(va)
}

func wholePages(size uintptr) int {
	return int(util.Roundup(size, uintptr(pageSize)) / pageSize)
}

func slabCapacity(size uintptr) (npages int, nbufs int) {
	if size <= smallSlabMax {
		return 1, int(pageSize / size)
	}
	total := size * 16
	npages = wholePages(total)
	nbufs = int((uintptr(npages) * pageSize) / size)
	return
}

func (z *zone) alloc(h *Heap) (uintptr, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	s := z.slabs
	if s == nil || s.nfree == 0 {
		var ok bool
		s, ok = z.growLocked(h)
		if !ok {
			return 0, false
		}
	}

	bc := s.firstFree
	s.firstFree = bc.next
	s.nfree--

	addr := bc.base

	if s.nfree == 0 {
		z.rotateToTailLocked(s)
	}
	return addr, true
}

func (z *zone) growLocked(h *Heap) (*slab, bool) {
	npages, nbufs := slabCapacity(z.size)
	base, ok := h.pages.AllocPages(npages)
	if !ok {
		return nil, false
	}
	s := &slab{zone: z, base: base, npages: npages}

	var head *bufctl
	for i := nbufs - 1; i >= 0; i-- {
		bufbase := base + uintptr(i)*z.size
		bc := &bufctl{base: bufbase, next: head}
		head = bc
	}
	s.firstFree = head
	s.nfree = nbufs

	if z.slabs != nil {
		s.next = z.slabs
		s.prev = z.slabs.prev
		z.slabs.prev.next = s
		z.slabs.prev = s
	} else {
		s.prev = s
		s.next = s
	}
	z.slabs = s
	return s, true
}

// rotateToTailLocked moves an exhausted slab to the back of the ring so
// zone.alloc's next call starts scanning from a slab more likely to have
// free buffers, the same rotation kmem_zonealloc performs.
func (z *zone) rotateToTailLocked(s *slab) {
	if z.slabs == s && s.next == s {
		return
	}
	if z.slabs == s {
		z.slabs = s.next
	}
}

func (z *zone) free(va uintptr) {
	z.mu.Lock()
	defer z.mu.Unlock()

	s := z.slabs
	if s == nil {
		panic("kmem: free to empty zone")
	}
	start := s
	for {
		pageBase := va - (va % pageSize)
		if z.size <= smallSlabMax {
			if pageBase == s.base {
				s.firstFree = &bufctl{base: va, next: s.firstFree}
				s.nfree++
				return
			}
		} else {
			if va >= s.base && va < s.base+uintptr(s.npages)*pageSize {
				s.firstFree = &bufctl{base: va, next: s.firstFree}
				s.nfree++
				return
			}
		}
		s = s.next
		if s == start {
			break
		}
	}
	panic("kmem: free of pointer not owned by any slab")
}
