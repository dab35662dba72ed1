// Package boot wires the independently testable pieces of the kernel core
// -- the physical page database, the vmem arenas, the kernel heap, the
// virtual memory manager, and the scheduler -- into one running system,
// the same role a kernel's own init/main path plays in the source this
// tree was adapted from. Device, filesystem, and personality
// initialization are out of scope and have nothing to hook in here.
package boot

import (
	"kmem"
	"mach"
	"mem"
	"proc"
	"vm"
	"vmem"
)

// Kernel holds every subsystem brought up at boot.
type Kernel struct {
	Phys     mem.Database
	KernelVA *vmem.Arena
	Heap     kmem.Heap
	Wired    vm.KernelWired
	Cpus     []*proc.Cpu
}

// Config describes the physical memory layout and CPU count discovered by
// the (unmodeled) platform probe step that would normally precede this.
type Config struct {
	StartPfn  mem.Pfn_t
	NumFrames int
	NumCPUs   int
	// KernelVABase/Len describe the slice of virtual address space
	// reserved for the kernel heap and wired allocations.
	KernelVABase, KernelVALen uintptr
}

// Init brings up the kernel core in dependency order: physical pages
// first, then the kernel's own virtual address arena, then the wired
// allocator and heap built on top of it, then one scheduler CPU per
// configured core.
func Init(cfg Config) *Kernel {
	mach.SetNumCPU(cfg.NumCPUs)

	k := &Kernel{}
	k.Phys.Init(cfg.StartPfn, cfg.NumFrames)
	k.KernelVA = vmem.NewArena("kva", nil, 0)
	k.KernelVA.Add(cfg.KernelVABase, cfg.KernelVALen)

	pmap := vm.NewPmap()
	k.Wired.Init(k.KernelVA, &k.Phys, pmap, 0)

	// Reserve a generous fraction of physical memory as the heap's
	// reservable budget so bounded loops elsewhere in the tree (user
	// buffer copies, fault resolution, slab growth) can refuse cleanly
	// once it runs out instead of exhausting the heap mid-operation.
	budget := int64(cfg.NumFrames) * int64(mem.PageSize) / 4
	k.Heap.Init(&k.Wired, budget)

	k.Cpus = make([]*proc.Cpu, cfg.NumCPUs)
	for i := 0; i < cfg.NumCPUs; i++ {
		k.Cpus[i] = proc.NewCpu(i)
	}

	return k
}
