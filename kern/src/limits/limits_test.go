package limits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMkSysLimitPopulatesDefaults(t *testing.T) {
	l := MkSysLimit()
	require.Equal(t, 10000, l.Sysprocs)
	require.Equal(t, 1024, l.Futexes)
}

func TestTakenSucceedsWithinLimitAndFailsBeyondIt(t *testing.T) {
	var s Sysatomic_t = 2
	require.True(t, s.Taken(1))
	require.True(t, s.Taken(1))
	require.False(t, s.Taken(1))
	require.EqualValues(t, 0, s)
}

func TestGivenRestoresCapacity(t *testing.T) {
	var s Sysatomic_t = 0
	require.False(t, s.Taken(1))
	s.Given(1)
	require.True(t, s.Taken(1))
}

func TestTakeAndGiveAreUnitVersionsOfTakenAndGiven(t *testing.T) {
	var s Sysatomic_t = 1
	require.True(t, s.Take())
	require.False(t, s.Take())
	s.Give()
	require.True(t, s.Take())
}

func TestSetPinsLimitDiscardingPriorAdjustments(t *testing.T) {
	var s Sysatomic_t
	s.Given(5)
	s.Set(2)
	require.EqualValues(t, 2, s.Remaining())
	require.True(t, s.Taken(2))
	require.False(t, s.Taken(1))
}

func TestRemainingReflectsTakeAndGive(t *testing.T) {
	var s Sysatomic_t
	s.Set(3)
	s.Take()
	require.EqualValues(t, 2, s.Remaining())
	s.Give()
	require.EqualValues(t, 3, s.Remaining())
}

func TestSyslimitGlobalIsPopulated(t *testing.T) {
	require.NotNil(t, Syslimit)
	require.Equal(t, 10000, Syslimit.Sysprocs)
}
