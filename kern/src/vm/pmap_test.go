package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mach"
	"mem"
)

func TestPmapEnterWalkRemove(t *testing.T) {
	p := NewPmap()
	p.Enter(0x1000, Pte{Pfn: 7, Perm: PermR | PermW})

	pte, ok := p.Walk(0x1000)
	require.True(t, ok)
	require.EqualValues(t, 7, pte.Pfn)

	p.Remove(0x1000)
	_, ok = p.Walk(0x1000)
	require.False(t, ok)
}

func TestPmapWalkUsesContainingPage(t *testing.T) {
	p := NewPmap()
	p.Enter(0x2000, Pte{Pfn: 9, Perm: PermR})
	pte, ok := p.Walk(0x2123)
	require.True(t, ok)
	require.EqualValues(t, 9, pte.Pfn)
}

// S6: TLB shootdown broadcasts an invalidation IPI to every CPU the pmap
// has marked and blocks until each one has acknowledged.
func TestTlbshootNotifiesEveryMarkedCPU(t *testing.T) {
	db := &mem.Database{}
	db.Init(0, 8)
	as := newAS(db)

	as.Pmap.MarkCPU(1)
	as.Pmap.MarkCPU(3)

	var notified []int
	mach.RegisterIPIHandler(mach.IPIInvlPG, func(cpu int) {
		notified = append(notified, cpu)
		shootdownAcksTestHook()
	})

	as.Tlbshoot(0x1000, 1)

	require.ElementsMatch(t, []int{1, 3}, notified)
}

func TestTlbshootIsNoopWithNoMarkedCPUs(t *testing.T) {
	db := &mem.Database{}
	db.Init(0, 8)
	as := newAS(db)

	require.NotPanics(t, func() {
		as.Tlbshoot(0x1000, 1)
	})
}

// shootdownAcksTestHook lets the test's IPI handler bump the package-level
// acknowledgement counter exactly like the real one registered in init()
// does, without fighting over which handler mach keeps installed.
func shootdownAcksTestHook() {
	shootdownAcks.Add(1)
}
