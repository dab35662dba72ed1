package mem

import "sync"

// PV is one physical-to-virtual mapping record: a page is mapped at VA
// within the address space identified by AS, an opaque token the pmap
// layer chooses (its address-space pointer, cast to uintptr) so this
// package never needs to know what an address space is. Every resident
// page carries a singly linked list of these, walked on TLB shootdown and
// on reclaim to unmap a page from everywhere it's mapped.
type PV struct {
	AS   uintptr
	VA   uintptr
	next *PV
}

var pvMu sync.Mutex

// PVInsert records that pfn is now mapped at va within as.
func (d *Database) PVInsert(pfn Pfn_t, as, va uintptr) {
	idx := uint32(pfn - d.startPfn)
	pvMu.Lock()
	defer pvMu.Unlock()
	d.pages[idx].pv = &PV{AS: as, VA: va, next: d.pages[idx].pv}
}

// PVRemove removes the single mapping record for (as, va) on pfn, if
// present.
func (d *Database) PVRemove(pfn Pfn_t, as, va uintptr) {
	idx := uint32(pfn - d.startPfn)
	pvMu.Lock()
	defer pvMu.Unlock()
	var prev *PV
	for p := d.pages[idx].pv; p != nil; p = p.next {
		if p.AS == as && p.VA == va {
			if prev != nil {
				prev.next = p.next
			} else {
				d.pages[idx].pv = p.next
			}
			return
		}
		prev = p
	}
}

// PVList returns every (as, va) pair pfn is currently mapped at.
func (d *Database) PVList(pfn Pfn_t) []PV {
	idx := uint32(pfn - d.startPfn)
	pvMu.Lock()
	defer pvMu.Unlock()
	var out []PV
	for p := d.pages[idx].pv; p != nil; p = p.next {
		out = append(out, PV{AS: p.AS, VA: p.VA})
	}
	return out
}
