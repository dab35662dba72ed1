package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newDB(n int) *Database {
	d := &Database{}
	d.Init(100, n)
	return d
}

// Every page starts on exactly one queue (free), and total accounted pages
// equals the frame count the database was initialized with.
func TestInitPutsEveryPageOnFreeQueue(t *testing.T) {
	d := newDB(8)
	st := d.Stat()
	require.Equal(t, 8, st.Free)
	require.Zero(t, st.Kmem+st.Wired+st.Active+st.Inactive+st.Pmap)
}

func TestAllocMovesPageOffFreeQueue(t *testing.T) {
	d := newDB(4)
	pfn, ok := d.Alloc(0, QKmem)
	require.True(t, ok)
	require.EqualValues(t, 100, pfn)

	st := d.Stat()
	require.Equal(t, 3, st.Free)
	require.Equal(t, 1, st.Kmem)
	require.EqualValues(t, 1, d.Refcnt(pfn))
}

func TestAllocExhaustionReturnsFalse(t *testing.T) {
	d := newDB(2)
	_, ok1 := d.Alloc(0, QActive)
	_, ok2 := d.Alloc(0, QActive)
	_, ok3 := d.Alloc(0, QActive)
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestFreeReturnsPageToFreeQueueWhenRefcountHitsZero(t *testing.T) {
	d := newDB(4)
	pfn, _ := d.Alloc(0, QActive)
	d.Free(0, pfn)

	// freed pages land in the calling CPU's cache rather than
	// immediately back on the global free list.
	pfn2, ok := d.Alloc(0, QActive)
	require.True(t, ok)
	require.Equal(t, pfn, pfn2)
}

func TestRefupKeepsPageAliveAcrossOneFree(t *testing.T) {
	d := newDB(4)
	pfn, _ := d.Alloc(0, QActive)
	d.Refup(pfn)
	require.EqualValues(t, 2, d.Refcnt(pfn))

	d.Free(0, pfn)
	require.EqualValues(t, 1, d.Refcnt(pfn))

	st := d.Stat()
	require.Equal(t, 1, st.Active)
}

// Alloc hands out zeroed pages: contents written by a frame's previous
// owner must not survive a free/realloc cycle, even through the per-CPU
// cache.
func TestAllocReturnsZeroedPage(t *testing.T) {
	d := newDB(4)
	pfn, _ := d.Alloc(0, QActive)
	d.PageBytes(pfn)[0] = 0xff
	d.Free(0, pfn)

	pfn2, _ := d.Alloc(0, QActive)
	require.Equal(t, pfn, pfn2)
	require.Zero(t, d.PageBytes(pfn2)[0])
}

func TestMoveTransfersBetweenQueues(t *testing.T) {
	d := newDB(4)
	pfn, _ := d.Alloc(0, QActive)
	d.Move(pfn, QInactive)

	st := d.Stat()
	require.Equal(t, 0, st.Active)
	require.Equal(t, 1, st.Inactive)
}

func TestToPaAndToPfnRoundTrip(t *testing.T) {
	pfn := Pfn_t(42)
	pa := ToPa(pfn)
	require.EqualValues(t, 42*PageSize, pa)
	require.Equal(t, pfn, ToPfn(pa))
}

func TestPVInsertRemoveAndList(t *testing.T) {
	d := newDB(2)
	pfn, _ := d.Alloc(0, QPmap)

	d.PVInsert(pfn, 0xaa, 0x1000)
	d.PVInsert(pfn, 0xbb, 0x2000)

	list := d.PVList(pfn)
	require.Len(t, list, 2)

	d.PVRemove(pfn, 0xaa, 0x1000)
	list = d.PVList(pfn)
	require.Len(t, list, 1)
	require.EqualValues(t, 0xbb, list[0].AS)
}

func TestPVRemoveOfAbsentEntryIsNoop(t *testing.T) {
	d := newDB(2)
	pfn, _ := d.Alloc(0, QPmap)
	require.NotPanics(t, func() {
		d.PVRemove(pfn, 1, 2)
	})
}
