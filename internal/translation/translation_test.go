package translation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ret0 is `RET` — the minimal valid amd64 machine code, used so these
// tests exercise the mmap/mprotect machinery without depending on
// internal/x86asm.
var ret0 = []byte{0xc3}

func TestNewRejectsEmptyCode(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNewMapsAndClosesWithoutError(t *testing.T) {
	tr, err := New(ret0)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, err := New(ret0)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "a second Close must be a no-op, not a double-unmap")
}

func TestExecuteRunsMappedCode(t *testing.T) {
	// `RET` immediately returns; RAX is whatever it was on entry, which
	// Go zero-initializes registers for neither, so we only assert the
	// call completes without crashing the process.
	tr, err := New(ret0)
	require.NoError(t, err)
	defer tr.Close()

	registerFile := make([]byte, 64)
	tr.Execute(&registerFile[0])
}
