package vm

import (
	"sync"

	"mem"
	"vmem"
)

// KernelWired is the kernel's own wired-page allocator: it carves virtual
// address ranges out of a vmem arena dedicated to kernel space and backs
// each page with a physical frame pinned on the wired queue, mapped
// non-swappable into the kernel's own pmap. It satisfies kmem.PageSource
// structurally, supplying the kernel heap with the pages its zones and
// large allocations are built from.
type KernelWired struct {
	mu   sync.Mutex
	va   *vmem.Arena
	phys PhysProvider
	pmap *Pmap
	cpu  int
}

// Init wires the allocator to the kernel virtual-address arena and the
// physical-memory provider pages are pulled from.
func (k *KernelWired) Init(va *vmem.Arena, phys PhysProvider, pmap *Pmap, cpu int) {
	k.va = va
	k.phys = phys
	k.pmap = pmap
	k.cpu = cpu
}

// AllocPages reserves npages contiguous pages of kernel virtual address
// space and maps each to a freshly allocated, wired physical frame.
func (k *KernelWired) AllocPages(npages int) (uintptr, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	size := uintptr(npages) * PageSize
	base, ok := k.va.Xalloc(size)
	if !ok {
		return 0, false
	}
	for i := 0; i < npages; i++ {
		pfn, ok := k.phys.Alloc(k.cpu, mem.QWired)
		if !ok {
			k.freeRangeLocked(base, i)
			k.va.Xfree(base, size)
			return 0, false
		}
		va := base + uintptr(i)*PageSize
		k.pmap.Enter(va, Pte{Pfn: pfn, Perm: PermR | PermW})
		k.phys.PVInsert(pfn, kernelToken, va)
	}
	return base, true
}

// FreePages releases npages pages previously returned by AllocPages.
func (k *KernelWired) FreePages(va uintptr, npages int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.freeRangeLocked(va, npages)
	k.va.Xfree(va, uintptr(npages)*PageSize)
}

func (k *KernelWired) freeRangeLocked(base uintptr, npages int) {
	for i := 0; i < npages; i++ {
		pageva := base + uintptr(i)*PageSize
		pte, ok := k.pmap.Walk(pageva)
		if !ok {
			continue
		}
		k.pmap.Remove(pageva)
		k.phys.PVRemove(pte.Pfn, kernelToken, pageva)
		k.phys.Free(k.cpu, pte.Pfn)
	}
}

// kernelToken identifies the kernel's own address space in pv entries, a
// fixed sentinel since there is only ever one.
const kernelToken uintptr = 1
