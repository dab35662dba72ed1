package vm

import (
	"sync"

	"mach"
	"mem"
)

// Pte is one page-table entry: the physical frame a virtual page is
// mapped to, plus its permission bits. A real amd64 pmap packs this into
// a single 64-bit word directly consumed by hardware; here it is a plain
// struct since nothing walks it but this package.
type Pte struct {
	Pfn  mem.Pfn_t
	Perm Perm
}

// Pmap is one address space's page table, modeled as a flat map from
// page-aligned virtual address to Pte rather than the multi-level radix tree real
// hardware requires, since nothing here walks it with a hardware table
// walker.
type Pmap struct {
	mu      sync.Mutex
	entries map[uintptr]Pte
	cpumask uint64 // CPUs that may have stale TLB entries for this map
}

// NewPmap returns an empty page table.
func NewPmap() *Pmap {
	return &Pmap{entries: make(map[uintptr]Pte)}
}

// Walk returns the entry mapping va's containing page, if any.
func (p *Pmap) Walk(va uintptr) (Pte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pte, ok := p.entries[pageOf(va)]
	return pte, ok
}

// Enter installs or overwrites the mapping for va's page.
func (p *Pmap) Enter(va uintptr, pte Pte) {
	p.mu.Lock()
	p.entries[pageOf(va)] = pte
	p.mu.Unlock()
}

// Remove deletes the mapping for va's page, if present.
func (p *Pmap) Remove(va uintptr) {
	p.mu.Lock()
	delete(p.entries, pageOf(va))
	p.mu.Unlock()
}

func pageOf(va uintptr) uintptr { return va &^ (PageSize - 1) }

// MarkCPU records that cpu has, or may have, a translation for this pmap
// cached, so a later Tlbshoot knows who to notify.
func (p *Pmap) MarkCPU(cpu int) {
	p.mu.Lock()
	p.cpumask |= 1 << uint(cpu)
	p.mu.Unlock()
}

// vmRegistry maps an address-space pv token back to its Vm_t, so a pmap
// operation that only has a pv entry (an (as, va) pair out of a page's pv
// list) can still reach the pmap that entry belongs to. Populated by
// Bind, the same place a Vm_t starts minting pv tokens for PVInsert.
var vmRegistry = struct {
	mu sync.Mutex
	m  map[uintptr]*Vm_t
}{m: make(map[uintptr]*Vm_t)}

func registerVm(tok uintptr, as *Vm_t) {
	vmRegistry.mu.Lock()
	vmRegistry.m[tok] = as
	vmRegistry.mu.Unlock()
}

func unregisterVm(tok uintptr) {
	vmRegistry.mu.Lock()
	delete(vmRegistry.m, tok)
	vmRegistry.mu.Unlock()
}

func lookupVm(tok uintptr) *Vm_t {
	vmRegistry.mu.Lock()
	defer vmRegistry.mu.Unlock()
	return vmRegistry.m[tok]
}

// ReenterAllReadonly is pmap_reenter_all_readonly: it walks every pv entry
// of pfn and downgrades that mapping to read-only in whichever pmap it
// belongs to, then shoots down the translation everywhere it might be
// cached. Fork calls this, right after amap_copy, for every resident anon
// it just shared, so no
// address space is left holding a stale writable mapping to a frame that
// is now aliased by more than one owner.
func ReenterAllReadonly(phys PhysProvider, pfn mem.Pfn_t) {
	for _, e := range phys.PVList(pfn) {
		asv := lookupVm(e.AS)
		if asv == nil {
			continue
		}
		if pte, ok := asv.Pmap.Walk(e.VA); ok && pte.Pfn == pfn {
			pte.Perm = (pte.Perm &^ (PermW | PermWasCOW)) | PermR
			asv.Pmap.Enter(e.VA, pte)
		}
		asv.Tlbshoot(e.VA, 1)
	}
}

var shootdownAcks mach.AckCounter

func init() {
	mach.RegisterIPIHandler(mach.IPIInvlPG, func(cpu int) {
		shootdownAcks.Add(1)
	})
}

// Tlbshoot invalidates the translation for va on every CPU that might have
// it cached, via an interprocessor interrupt, and blocks until every
// target has acknowledged -- the same protocol intr_invlpg and
// arch_ipi_invlpg implement with a shared atomic counter.
func (as *Vm_t) Tlbshoot(va uintptr, pgcount int) {
	p := as.Pmap
	p.mu.Lock()
	mask := p.cpumask
	p.mu.Unlock()

	if mask == 0 {
		return
	}

	want := shootdownAcks.Load()
	n := int64(0)
	for cpu := 0; cpu < mach.MAXCPUS; cpu++ {
		if mask&(1<<uint(cpu)) == 0 {
			continue
		}
		mach.SendIPI(cpu, mach.IPIInvlPG)
		n++
	}
	for shootdownAcks.Load() < want+n {
		// SendIPI is synchronous in this software model, so in practice
		// this never spins; kept to mirror the real protocol's
		// wait-for-acknowledgement step.
	}
}
