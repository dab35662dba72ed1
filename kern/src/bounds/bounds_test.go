package bounds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringNamesKnownSite(t *testing.T) {
	require.Equal(t, "vmem.xalloc", B_VMEM_XALLOC.String())
	require.Equal(t, "kmem.alloc", B_KMEM_ALLOC.String())
}

func TestStringUnknownSite(t *testing.T) {
	require.Equal(t, "bounds(?)", _boundsMax.String())
}
