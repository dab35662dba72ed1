// Package vm implements one CPU-independent half of virtual memory
// management: per-address-space maps, anonymous copy-on-write memory, and
// the page-fault resolution logic that ties them to the physical
// page-frame database in mem. A Vm_t is one address space: an ordered,
// non-overlapping set of regions, each backed by a VM object (a direct
// physical mapping, an anonymous memory object, or the kernel heap) and,
// for anonymous and file objects, a sparse amap holding the anon of every
// page touched so far.
package vm

import (
	"sort"
	"sync"

	"mem"
	"vmem"
)

const PageSize = 4096

// SENTINEL is the vaddr_hint value meaning "let the map choose": Allocate
// and MapObject fall back to first-fit placement out of the map's own
// arena instead of reserving a caller-chosen address.
const SENTINEL = ^uintptr(0)

// Perm bits describe both the protection requested of a mapping and, via
// PermCOW/PermWasCOW, transient fault-handling state recorded in the
// pmap entry itself.
type Perm uint

const (
	PermR     Perm = 1 << iota
	PermW          // writable
	PermCOW        // copy-on-write: present but must fault-and-copy on write
	PermWasCOW     // write access granted by the fault resolver; any pending
	// copy for this mapping has already happened
	PermU // user-accessible
)

// ObjKind tags what backs a VM object.
type ObjKind int

const (
	ObjAnon ObjKind = iota
	ObjFile
	ObjDirect
	ObjKernelHeap
)

// FileBacking abstracts the one operation the fault handler needs from
// whatever supplies file-backed pages (a filesystem, which is out of
// scope for this package), so vm never needs to import one.
type FileBacking interface {
	ReadPage(offset uintptr) (mem.Pfn_t, error)
}

// Object is a VM object: something a region of address space can map.
// Exactly one of the kind-specific fields is meaningful, chosen by Kind.
type Object struct {
	mu   sync.Mutex
	Kind ObjKind

	// ObjAnon / ObjFile
	Amap *Amap
	File FileBacking

	// ObjDirect: a fixed physical range mapped 1:1, used for device
	// memory and the boot-time direct map.
	DirectBase mem.Pa_t

	refs int32
}

// Region is one entry in an address space's map: a contiguous VA range
// backed by a single object, starting at object-relative offset Off.
type Region struct {
	Start, Len uintptr
	Perm       Perm
	Obj        *Object
	Off        uintptr

	// fromArena records whether Start was reserved out of the map's own
	// Arena (by Allocate/MapObject) rather than supplied directly by a
	// caller that manages its own placement (AddAnon/AddFile called with
	// an explicit va), so Deallocate knows whether to give the range
	// back to the arena.
	fromArena bool
}

func (r *Region) end() uintptr { return r.Start + r.Len }

// Vm_t is one address space.
type Vm_t struct {
	mu      sync.Mutex
	regions []*Region // kept sorted by Start, non-overlapping

	Pmap *Pmap

	// Arena reserves the intervals Allocate/MapObject hand out, so
	// placement follows the same first-fit-or-exact discipline vmem
	// gives every other resource it manages. nil until InitArena is
	// called; maps that only ever place regions at caller-chosen
	// addresses (the kernel's own wired allocator, direct-mapped device
	// memory) never need one.
	Arena *vmem.Arena

	phys PhysProvider
	cpu  int

	pgfltaken bool
}

// Init sets up an empty address space with its own page table.
func (as *Vm_t) Init() {
	as.Pmap = NewPmap()
}

// InitArena gives this address space its own placement arena covering
// [base, base+size), the pool vm_allocate/vm_map_object reserve out of
// when a caller leaves vaddr_hint as SENTINEL.
func (as *Vm_t) InitArena(base, size uintptr) {
	as.Arena = vmem.NewArena("uvm", nil, 0)
	as.Arena.Add(base, size)
}

// findRegion returns the region containing va, if any.
func (as *Vm_t) findRegion(va uintptr) *Region {
	i := sort.Search(len(as.regions), func(i int) bool {
		return as.regions[i].end() > va
	})
	if i < len(as.regions) && as.regions[i].Start <= va {
		return as.regions[i]
	}
	return nil
}

// insertRegion inserts r, which must not overlap any existing region.
func (as *Vm_t) insertRegion(r *Region) {
	i := sort.Search(len(as.regions), func(i int) bool {
		return as.regions[i].Start >= r.Start
	})
	as.regions = append(as.regions, nil)
	copy(as.regions[i+1:], as.regions[i:])
	as.regions[i] = r
}

// AddAnon maps a fresh, zero-filled anonymous region of len bytes at va.
func (as *Vm_t) AddAnon(va, length uintptr, perm Perm) {
	as.mu.Lock()
	defer as.mu.Unlock()
	obj := &Object{Kind: ObjAnon, Amap: NewAmap(), refs: 1}
	as.insertRegion(&Region{Start: va, Len: length, Perm: perm, Obj: obj})
}

// AddFile maps a file-backed region of len bytes at va, offset into file
// by off, through backing.
func (as *Vm_t) AddFile(va, length, off uintptr, perm Perm, backing FileBacking) {
	as.mu.Lock()
	defer as.mu.Unlock()
	obj := &Object{Kind: ObjFile, Amap: NewAmap(), File: backing, refs: 1}
	as.insertRegion(&Region{Start: va, Len: length, Perm: perm, Obj: obj, Off: off})
}

// reserve picks the virtual range Allocate/MapObject install their region
// at: an exact placement at hint when hint is not SENTINEL, otherwise
// first-fit out of the map's own arena. Fails if there is no arena to
// place from, or the requested range (exact or otherwise) is unavailable.
func (as *Vm_t) reserve(hint, length uintptr) (uintptr, bool, bool) {
	if as.Arena == nil {
		if hint == SENTINEL {
			return 0, false, false
		}
		return hint, false, true
	}
	if hint == SENTINEL {
		va, ok := as.Arena.Xalloc(length)
		return va, true, ok
	}
	ok := as.Arena.XallocAt(hint, length)
	return hint, true, ok
}

// Allocate is vm_allocate: it reserves length bytes of address space for
// a fresh anonymous region, placing it exactly at hint or, if hint is
// SENTINEL, wherever the map's arena finds room first.
func (as *Vm_t) Allocate(hint, length uintptr, perm Perm) (uintptr, bool) {
	va, fromArena, ok := as.reserve(hint, length)
	if !ok {
		return 0, false
	}
	as.AddAnon(va, length, perm)
	as.markFromArena(va, fromArena)
	return va, true
}

// MapObject is vm_map_object, Allocate's file-backed counterpart.
func (as *Vm_t) MapObject(hint, length, off uintptr, perm Perm, backing FileBacking) (uintptr, bool) {
	va, fromArena, ok := as.reserve(hint, length)
	if !ok {
		return 0, false
	}
	as.AddFile(va, length, off, perm, backing)
	as.markFromArena(va, fromArena)
	return va, true
}

func (as *Vm_t) markFromArena(va uintptr, fromArena bool) {
	if !fromArena {
		return
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if r := as.findRegion(va); r != nil {
		r.fromArena = true
	}
}

// Fork produces a child address space via copy-on-write. An anonymous or
// file region's object is copied the way vm_object_copy copies one: the
// child gets its own object whose amap shares every populated anon by
// reference (amap_copy), and both sides lose PermW and gain PermCOW so
// the first write on either side faults and makes a private copy. Objects
// without an amap (direct mappings) are shared outright by reference.
func (as *Vm_t) Fork() *Vm_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := &Vm_t{Pmap: NewPmap()}
	for _, r := range as.regions {
		obj := r.Obj
		if obj.Amap != nil {
			obj = &Object{Kind: r.Obj.Kind, File: r.Obj.File, Amap: r.Obj.Amap.Copy(), refs: 1}

			// Each shared anon now accounts for one more reference to
			// its frame, and a page already resident and mapped
			// read-write by the parent must lose that write access:
			// pmap_reenter_all_readonly walks every pv entry of the
			// frame (the parent's existing PTE among them) and
			// downgrades it, followed by a TLB shootdown, so no pmap is
			// left with write access to a frame that is now shared.
			if as.phys != nil {
				obj.Amap.Each(func(_ uintptr, an *Anon) {
					an.mu.Lock()
					resident := an.Resident
					pfn := mem.Pfn_t(an.Page)
					an.mu.Unlock()
					if resident {
						as.phys.Refup(pfn)
						ReenterAllReadonly(as.phys, pfn)
					}
				})
			}
		} else {
			r.Obj.mu.Lock()
			r.Obj.refs++
			r.Obj.mu.Unlock()
		}

		cowPerm := r.Perm
		if cowPerm&PermW != 0 {
			cowPerm = (cowPerm &^ PermW) | PermCOW
		}
		nr := &Region{Start: r.Start, Len: r.Len, Perm: cowPerm, Obj: obj, Off: r.Off}
		child.regions = append(child.regions, nr)
		r.Perm = cowPerm
	}
	return child
}

// Uvmfree tears down every region in the address space: all pmap entries
// and pv records in the region's range are removed, each object loses one
// reference, and once an object's last reference is gone each of its
// anons gives up its reference to the backing frame.
func (as *Vm_t) Uvmfree() {
	as.mu.Lock()
	defer as.mu.Unlock()

	for _, r := range as.regions {
		as.unmapRange(r.Start, r.end())
		as.releaseObj(r.Obj)
	}
	as.regions = nil
	unregisterVm(asToken(as))
}

// Deallocate is vm_deallocate: it unmaps [addr, addr+length) from the
// address space. Every resident page in the range is unentered from the
// pmap (pmap_unenter), the object backing a region fully covered by the
// range loses its reference (freeing any anon whose refcount drops to
// zero as a result), and a region only partially overlapped by the range
// is split so the surviving portion keeps mapping its object at the
// right offset.
func (as *Vm_t) Deallocate(addr, length uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()

	end := addr + length
	var kept []*Region
	for _, r := range as.regions {
		rEnd := r.end()
		if rEnd <= addr || r.Start >= end {
			kept = append(kept, r)
			continue
		}

		lo, hi := max(r.Start, addr), min(rEnd, end)
		as.unmapRange(lo, hi)

		switch {
		case r.Start >= addr && rEnd <= end:
			as.releaseObj(r.Obj)
			if as.Arena != nil && r.fromArena {
				as.Arena.Xfree(r.Start, r.Len)
			}

		case r.Start < addr && rEnd > end:
			r.Obj.mu.Lock()
			r.Obj.refs++
			r.Obj.mu.Unlock()
			head := &Region{Start: r.Start, Len: addr - r.Start, Perm: r.Perm, Obj: r.Obj, Off: r.Off}
			tail := &Region{Start: end, Len: rEnd - end, Perm: r.Perm, Obj: r.Obj, Off: r.Off + (end - r.Start)}
			kept = append(kept, head, tail)

		case r.Start < addr:
			r.Len = addr - r.Start
			kept = append(kept, r)

		default:
			delta := end - r.Start
			r.Start = end
			r.Len = rEnd - end
			r.Off += delta
			kept = append(kept, r)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	as.regions = kept
}

// unmapRange unenters every page in [lo, hi) from the pmap and drops its
// pv entry, the per-page half of Deallocate that runs whether the region
// itself survives, shrinks, or disappears entirely.
func (as *Vm_t) unmapRange(lo, hi uintptr) {
	for va := lo; va < hi; va += PageSize {
		pte, ok := as.Pmap.Walk(va)
		if !ok {
			continue
		}
		if as.phys != nil {
			as.phys.PVRemove(pte.Pfn, asToken(as), va)
		}
		as.Pmap.Remove(va)
	}
}

// releaseObj drops one reference from obj. Once obj itself is no longer
// referenced by any region, every anon in its amap gives up one reference
// to its backing frame; a frame whose references hit zero returns to the
// free queue.
func (as *Vm_t) releaseObj(obj *Object) {
	obj.mu.Lock()
	obj.refs--
	last := obj.refs == 0
	obj.mu.Unlock()
	if !last || obj.Amap == nil {
		return
	}
	obj.Amap.Each(func(_ uintptr, an *Anon) {
		an.mu.Lock()
		resident := an.Resident
		pfn := mem.Pfn_t(an.Page)
		an.Refcnt--
		an.mu.Unlock()
		if resident && as.phys != nil {
			as.phys.Free(as.cpu, pfn)
		}
	})
}
