package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvid-dbt/corvid/internal/cache"
	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

func testCore(t *testing.T) *Core {
	t.Helper()
	m := &model.Model{
		Name: "helper-test-model",
		Registers: map[string]model.RegisterDescriptor{
			"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
		},
		RegisterFileSize: 64,
	}
	return &Core{
		Model:         m,
		Memory:        &FlatGuestMemory{Bytes: make([]byte, 4096)},
		regs:          model.NewRegisterFile(m),
		chainCache:    cache.NewDirectMappedCache[uint64](cache.ChainCacheEntries),
		virtPhysCache: cache.NewDirectMappedCache[uint64](cache.VirtPhysCacheEntries),
		wellKnown:     wellKnownRegs{pc: model.ResolveWellKnown(m, "_PC")},
	}
}

func TestGuestMemReadWriteHelpersRoundTrip(t *testing.T) {
	c := testCore(t)
	currentCore = c
	defer func() { currentCore = nil }()

	require.Equal(t, uint64(0), guestMemWriteHelper(0x100, 0xdeadbeef))
	got := guestMemReadHelper(0x100, 8)
	require.Equal(t, uint64(0xdeadbeef), got)
}

func TestGuestMemReadHelperSurfacesOutOfRangeFault(t *testing.T) {
	c := testCore(t)
	c.Memory = &FlatGuestMemory{Bytes: make([]byte, 4)}
	currentCore = c
	defer func() { currentCore = nil }()

	guestMemReadHelper(100, 8)
	require.Error(t, c.lastFault)
}

func TestPowiHelper(t *testing.T) {
	require.Equal(t, uint64(8), powiHelper(2, 3))
	require.Equal(t, uint64(1), powiHelper(5, 0))
}

func TestAssertFailedHelperRecordsFault(t *testing.T) {
	c := testCore(t)
	currentCore = c
	defer func() { currentCore = nil }()

	assertFailedHelper()
	require.ErrorIs(t, c.lastFault, errAssertFailed)
}

func TestChainDispatchHelperRecordsHit(t *testing.T) {
	c := testCore(t)
	c.wellKnown.pc.Write64(c.regs, 0x8000)
	c.chainCache.Insert(0x8000, 0x1234)
	currentCore = c
	defer func() { currentCore = nil }()

	rf := chainDispatchRegisterFilePointer(c)
	chainDispatchHelper(rf)
	require.True(t, c.lastChainHit)
}
