package vm

import (
	"unsafe"

	"defs"
	"mem"
)

// FaultFlags records the circumstances of a page fault: whether the page
// was present at all, whether the access was a write, and whether it
// originated from user mode.
type FaultFlags uint

const (
	FaultPresent FaultFlags = 1 << iota
	FaultWrite
	FaultUser
)

// PhysProvider is the physical-memory side of fault resolution: it hands
// out fresh zeroed frames and owns their reference counts. The mem
// package's Database satisfies it directly.
type PhysProvider interface {
	Alloc(cpu int, q mem.Queue) (mem.Pfn_t, bool)
	Free(cpu int, pfn mem.Pfn_t)
	Refup(pfn mem.Pfn_t)
	Refcnt(pfn mem.Pfn_t) int32
	PageBytes(pfn mem.Pfn_t) []uint8
	PVInsert(pfn mem.Pfn_t, as, va uintptr)
	PVRemove(pfn mem.Pfn_t, as, va uintptr)
	PVList(pfn mem.Pfn_t) []mem.PV
}

// Bind attaches the physical-memory provider and the CPU identity this
// address space's faults should be attributed to. Must be called once
// before Fault is used. Also registers the address space under its pv
// token so pmap_reenter_all_readonly can find it again from nothing more
// than a pv entry.
func (as *Vm_t) Bind(phys PhysProvider, cpu int) {
	as.phys = phys
	as.cpu = cpu
	registerVm(asToken(as), as)
}

// Fault resolves a page fault at faultva, the address-space-level
// counterpart of fault_aobj: it classifies the anon at the faulting page
// (absent, solely owned, or shared) against the access type and performs
// exactly the pmap operation that access requires -- mapping a freshly
// zeroed or file-read page in for a first touch, granting write access in
// place when the faulting thread already owns the only reference to the
// page, or copying when it does not.
func (as *Vm_t) Fault(faultva uintptr, flags FaultFlags) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := as.findRegion(faultva)
	if r == nil {
		return defs.EFAULT
	}
	if flags&FaultUser == 0 {
		// A fault from kernel mode against a user region is always a
		// kernel bug; a fault against a direct/kernel-heap region (which
		// should already be resident) likewise never legitimately
		// reaches here.
		return defs.EFAULT
	}
	if r.Obj.Kind == ObjDirect || r.Obj.Kind == ObjKernelHeap {
		return defs.EFAULT
	}
	if flags&FaultWrite != 0 && r.Perm&(PermW|PermCOW) == 0 {
		return defs.EFAULT
	}

	pgidx := (faultva - r.Start + r.Off) / PageSize
	pageva := faultva &^ (PageSize - 1)

	an := r.Obj.Amap.AnonAt(pgidx)

	if an == nil {
		pfn, ok := as.newPage(r, pgidx)
		if !ok {
			return defs.ENOMEM
		}
		an = &Anon{Refcnt: 1, Resident: true, Page: uintptr(pfn)}
		r.Obj.Amap.SetAnonAt(pgidx, an)
		as.enterMapped(pageva, Pte{Pfn: pfn, Perm: r.Perm &^ PermCOW})
		return 0
	}

	an.mu.Lock()
	defer an.mu.Unlock()

	if an.Refcnt == 1 {
		// Sole owner: map the page read-write whether the faulting
		// access was a read or a write -- there is nothing left to
		// copy, so granting write access now spares the upgrade fault
		// the next store would otherwise take. A region that was never
		// writable keeps its own protection.
		perm := r.Perm &^ PermCOW
		if r.Perm&(PermW|PermCOW) != 0 {
			perm |= PermW | PermWasCOW
		}
		as.enterMapped(pageva, Pte{Pfn: mem.Pfn_t(an.Page), Perm: perm})
		return 0
	}

	if flags&FaultWrite == 0 {
		// Read fault against a shared anon: every mapping of a shared
		// anon must exclude write, so enter read-only.
		as.enterMapped(pageva, Pte{Pfn: mem.Pfn_t(an.Page), Perm: r.Perm &^ PermW})
		return 0
	}

	// Shared page: copy it privately. The new frame carries this address
	// space's sole reference, and the old frame loses the reference this
	// anon slot held.
	newPfn, ok := as.phys.Alloc(as.cpu, mem.QActive)
	if !ok {
		return defs.ENOMEM
	}
	oldPfn := mem.Pfn_t(an.Page)
	copy(as.phys.PageBytes(newPfn), as.phys.PageBytes(oldPfn))
	an.Refcnt--
	as.phys.Free(as.cpu, oldPfn)
	newAnon := &Anon{Refcnt: 1, Resident: true, Page: uintptr(newPfn)}
	r.Obj.Amap.SetAnonAt(pgidx, newAnon)
	perm := (r.Perm &^ PermCOW) | PermW | PermWasCOW
	as.enterMapped(pageva, Pte{Pfn: newPfn, Perm: perm})
	return 0
}

// enterMapped installs pte at pageva and keeps the frame's pv list in
// step: a fresh mapping gains a pv entry, a mapping whose frame changed
// moves its pv entry to the new frame.
func (as *Vm_t) enterMapped(pageva uintptr, pte Pte) {
	old, had := as.Pmap.Walk(pageva)
	as.Pmap.Enter(pageva, pte)
	as.Pmap.MarkCPU(as.cpu)
	if as.phys == nil || (had && old.Pfn == pte.Pfn) {
		return
	}
	if had {
		as.phys.PVRemove(old.Pfn, asToken(as), pageva)
	}
	as.phys.PVInsert(pte.Pfn, asToken(as), pageva)
}

func (as *Vm_t) newPage(r *Region, pgidx uintptr) (mem.Pfn_t, bool) {
	if r.Obj.Kind == ObjFile && r.Obj.File != nil {
		pfn, err := r.Obj.File.ReadPage(r.Off + pgidx*PageSize)
		if err == nil {
			return pfn, true
		}
	}
	return as.phys.Alloc(as.cpu, mem.QActive)
}

// asToken gives every address space a stable opaque identity for pv
// entries without mem needing to know what a Vm_t is.
func asToken(as *Vm_t) uintptr {
	return uintptr(unsafe.Pointer(as))
}
