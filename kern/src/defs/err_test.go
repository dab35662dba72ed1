package defs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrZeroIsSuccess(t *testing.T) {
	var e Err_t
	require.True(t, e.Ok())
	require.Equal(t, "success", e.Error())
}

func TestErrNamedCodes(t *testing.T) {
	require.False(t, EFAULT.Ok())
	require.Equal(t, "bad address", EFAULT.Error())
	require.Equal(t, "timed out", ETIMEDOUT.Error())
}

func TestErrUnknownCode(t *testing.T) {
	unknown := Err_t(999)
	require.False(t, unknown.Ok())
	require.Equal(t, "err_t(999)", unknown.Error())
}

func TestTidPidAreDistinctTypes(t *testing.T) {
	var tid Tid_t = 1
	var pid Pid_t = 1
	require.EqualValues(t, tid, pid)
	require.NotEqual(t, tid, pid) // same value, different types
}
