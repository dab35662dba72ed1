package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
	"mem"
)

func TestFaultOnUnmappedAddressReturnsEFAULT(t *testing.T) {
	as := newAS(newDB(8))
	err := as.Fault(0x9000, FaultPresent|FaultUser)
	require.Equal(t, defs.EFAULT, err)
}

func TestFaultFromKernelModeAlwaysFaults(t *testing.T) {
	as := newAS(newDB(8))
	as.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	err := as.Fault(0x1000, FaultPresent)
	require.Equal(t, defs.EFAULT, err)
}

func TestFaultWriteWithoutWritePermissionFails(t *testing.T) {
	as := newAS(newDB(8))
	as.AddAnon(0x1000, 0x1000, PermR|PermU)
	err := as.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)
	require.Equal(t, defs.EFAULT, err)
}

func TestFaultFirstTouchAllocatesAndMaps(t *testing.T) {
	db := newDB(8)
	as := newAS(db)
	as.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)

	err := as.Fault(0x1000, FaultPresent|FaultUser)
	require.Zero(t, err)

	pte, ok := as.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.Zero(t, pte.Perm&PermCOW)
}

// S3: a shared (forked) page takes a private copy on write, dropping its
// writer's reference to the shared frame and leaving the other side's
// mapping untouched.
func TestFaultCopyOnWriteForksPrivateCopy(t *testing.T) {
	db := newDB(8)
	parent := newAS(db)
	parent.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	parent.Fault(0x1000, FaultPresent|FaultUser) // populate the page

	child := parent.Fork()
	child.Bind(db, 0)

	originalPte, _ := parent.Pmap.Walk(0x1000)
	originalPfn := originalPte.Pfn
	require.EqualValues(t, 2, db.Refcnt(originalPfn))

	err := child.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)
	require.Zero(t, err)

	childPte, ok := child.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.NotEqual(t, originalPfn, childPte.Pfn)
	require.NotZero(t, childPte.Perm&PermW)

	// the parent's mapping (and the shared frame) must be untouched.
	parentPte, _ := parent.Pmap.Walk(0x1000)
	require.Equal(t, originalPfn, parentPte.Pfn)
}

// S3 (invariant #3): forking a page already mapped read-write must
// downgrade the parent's own pmap entry to read-only, not just the
// region's metadata, since the frame is now shared (refcnt 2).
func TestForkDowngradesParentsExistingWritableMapping(t *testing.T) {
	db := newDB(8)
	parent := newAS(db)
	parent.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	parent.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)

	beforePte, ok := parent.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.NotZero(t, beforePte.Perm&PermW)

	child := parent.Fork()
	child.Bind(db, 0)

	afterPte, ok := parent.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.Zero(t, afterPte.Perm&PermW, "parent's existing PTE must lose write access once its anon is shared")
	require.Equal(t, beforePte.Pfn, afterPte.Pfn)
}

// A child's private copy starts as a byte-for-byte image of the shared
// frame, and writes through either side stay private afterwards.
func TestFaultCopyOnWriteCopiesPageContents(t *testing.T) {
	db := newDB(8)
	parent := newAS(db)
	parent.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	require.Zero(t, parent.Fault(0x1000, FaultPresent|FaultUser|FaultWrite))
	ppte, _ := parent.Pmap.Walk(0x1000)
	db.PageBytes(ppte.Pfn)[5] = 42

	child := parent.Fork()
	child.Bind(db, 0)
	require.Zero(t, child.Fault(0x1000, FaultPresent|FaultUser|FaultWrite))
	cpte, _ := child.Pmap.Walk(0x1000)
	require.NotEqual(t, ppte.Pfn, cpte.Pfn)
	require.EqualValues(t, 42, db.PageBytes(cpte.Pfn)[5])

	db.PageBytes(cpte.Pfn)[5] = 7
	require.EqualValues(t, 42, db.PageBytes(ppte.Pfn)[5])
}

// Resolution matrix: a read fault against a solely-owned anon maps the
// page read-write immediately, so the store that usually follows never
// has to fault again for the upgrade.
func TestFaultReadOnSoleOwnerMapsReadWrite(t *testing.T) {
	db := newDB(8)
	as := newAS(db)
	as.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	require.Zero(t, as.Fault(0x1000, FaultPresent|FaultUser))
	pte1, _ := as.Pmap.Walk(0x1000)

	// unmap and re-touch with a plain read: the anon (refcnt 1) is
	// still in the amap, and the new mapping must come back writable.
	as.unmapRange(0x1000, 0x2000)
	require.Zero(t, as.Fault(0x1000, FaultPresent|FaultUser))

	pte2, ok := as.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.Equal(t, pte1.Pfn, pte2.Pfn)
	require.NotZero(t, pte2.Perm&PermW)
}

// The other read row of the matrix: a shared anon's mapping must exclude
// write no matter which side reads it.
func TestFaultReadOnSharedAnonStaysReadOnly(t *testing.T) {
	db := newDB(8)
	parent := newAS(db)
	parent.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	require.Zero(t, parent.Fault(0x1000, FaultPresent|FaultUser))

	child := parent.Fork()
	child.Bind(db, 0)
	require.Zero(t, child.Fault(0x1000, FaultPresent|FaultUser))

	pte, ok := child.Pmap.Walk(0x1000)
	require.True(t, ok)
	require.Zero(t, pte.Perm&PermW)
}

func TestFaultSoleOwnerClaimsInPlaceWithoutCopying(t *testing.T) {
	db := newDB(8)
	as := newAS(db)
	as.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	as.Fault(0x1000, FaultPresent|FaultUser)

	originalPte, _ := as.Pmap.Walk(0x1000)

	err := as.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)
	require.Zero(t, err)

	pte, _ := as.Pmap.Walk(0x1000)
	require.Equal(t, originalPte.Pfn, pte.Pfn)
	require.NotZero(t, pte.Perm&PermW)
	require.NotZero(t, pte.Perm&PermWasCOW)
}

func TestFaultSecondWriteAfterWasCOWDoesNotCopyAgain(t *testing.T) {
	db := newDB(8)
	parent := newAS(db)
	parent.AddAnon(0x1000, 0x1000, PermR|PermW|PermU)
	parent.Fault(0x1000, FaultPresent|FaultUser)

	child := parent.Fork()
	child.Bind(db, 0)
	child.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)

	firstPte, _ := child.Pmap.Walk(0x1000)

	// a second write fault against the already-resolved page must just
	// re-grant write access, not allocate yet another copy.
	err := child.Fault(0x1000, FaultPresent|FaultUser|FaultWrite)
	require.Zero(t, err)
	secondPte, _ := child.Pmap.Walk(0x1000)
	require.Equal(t, firstPte.Pfn, secondPte.Pfn)
}

func TestFaultOnDirectObjectAlwaysFaults(t *testing.T) {
	as := newAS(newDB(8))
	as.mu.Lock()
	obj := &Object{Kind: ObjDirect, DirectBase: mem.Pa_t(0), refs: 1}
	as.insertRegion(&Region{Start: 0x2000, Len: 0x1000, Perm: PermR | PermU, Obj: obj})
	as.mu.Unlock()

	err := as.Fault(0x2000, FaultPresent|FaultUser)
	require.Equal(t, defs.EFAULT, err)
}
