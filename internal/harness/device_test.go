package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatGuestMemoryReadWrite(t *testing.T) {
	mem := &FlatGuestMemory{Bytes: make([]byte, 16)}
	require.NoError(t, mem.WritePhys(4, []byte{1, 2, 3, 4}))

	got := make([]byte, 4)
	require.NoError(t, mem.ReadPhys(4, got))
	require.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestFlatGuestMemoryOutOfRangeErrors(t *testing.T) {
	mem := &FlatGuestMemory{Bytes: make([]byte, 4)}
	require.Error(t, mem.ReadPhys(2, make([]byte, 4)))
	require.Error(t, mem.WritePhys(2, make([]byte, 4)))
}

func TestIdentityMMUTranslatesToItself(t *testing.T) {
	phys, err := IdentityMMU{}.Translate(0xdead0000)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdead0000), phys)
}
