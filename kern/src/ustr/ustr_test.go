package ustr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEq(t *testing.T) {
	a := Ustr("abc")
	b := Ustr("abc")
	c := Ustr("abd")
	require.True(t, a.Eq(b))
	require.False(t, a.Eq(c))
	require.False(t, a.Eq(Ustr("ab")))
	require.True(t, MkUstr().Eq(Ustr{}))
}

func TestMkUstrSliceTruncatesAtNul(t *testing.T) {
	buf := []uint8{'f', 'o', 'o', 0, 'j', 'u', 'n', 'k'}
	us := MkUstrSlice(buf)
	require.Equal(t, "foo", us.String())
}

func TestMkUstrSliceNoNul(t *testing.T) {
	buf := []uint8{'b', 'a', 'r'}
	us := MkUstrSlice(buf)
	require.Equal(t, "bar", us.String())
}

func TestMkUstrNum(t *testing.T) {
	require.Equal(t, "0", MkUstrNum(0).String())
	require.Equal(t, "4096", MkUstrNum(4096).String())
	require.Equal(t, "18446744073709551615", MkUstrNum(^uint64(0)).String())
}

func TestExtendAppendsSeparatorAndSuffix(t *testing.T) {
	base := Ustr("kmem")
	got := base.Extend(Ustr("slab"))
	require.Equal(t, "kmem-slab", got.String())
	// base itself must be untouched.
	require.Equal(t, "kmem", base.String())
}

func TestExtendNumNamesSizeClasses(t *testing.T) {
	require.Equal(t, "kmem-64", Ustr("kmem").ExtendNum(64).String())
}

func TestIndexByte(t *testing.T) {
	us := Ustr("kmem-64")
	require.Equal(t, 4, us.IndexByte('-'))
	require.Equal(t, -1, us.IndexByte('z'))
}
