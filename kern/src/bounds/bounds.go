// Package bounds enumerates the call sites that must reserve a slice of the
// kernel heap budget before touching it. Each tag names one loop or
// allocation path whose worst-case page consumption has been bounded ahead
// of time, so res can refuse it cleanly instead of letting the heap run dry
// partway through an operation that cannot be unwound.
package bounds

// Bounds identifies one budgeted call site.
type Bounds int

const (
	B_USERBUF_T__TX Bounds = iota
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_VM_SYS_PGFAULT
	B_VM_VMADD_ANON
	B_VM_VMADD_FILE
	B_VMEM_XALLOC
	B_KMEM_ALLOC
	B_KMEM_SLAB_GROW
	B_PROC_THREAD_NEW
	_boundsMax
)

var names = [...]string{
	B_USERBUF_T__TX:        "userbuf.tx",
	B_USERIOVEC_T_IOV_INIT: "useriovec.iov_init",
	B_USERIOVEC_T__TX:      "useriovec.tx",
	B_VM_SYS_PGFAULT:       "vm.sys_pgfault",
	B_VM_VMADD_ANON:        "vm.vmadd_anon",
	B_VM_VMADD_FILE:        "vm.vmadd_file",
	B_VMEM_XALLOC:          "vmem.xalloc",
	B_KMEM_ALLOC:           "kmem.alloc",
	B_KMEM_SLAB_GROW:       "kmem.slab_grow",
	B_PROC_THREAD_NEW:      "proc.thread_new",
}

// String names the call site a Bounds value guards.
func (b Bounds) String() string {
	if int(b) >= 0 && int(b) < len(names) {
		return names[b]
	}
	return "bounds(?)"
}
