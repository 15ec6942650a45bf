package harness

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/corvid-dbt/corvid/internal/cache"
	"github.com/corvid-dbt/corvid/internal/model"
)

var errAssertFailed = errors.New("harness: guest assertion failed")

// wellKnownRegs caches the byte offsets of the few registers the main
// loop itself needs to read or write directly, per spec.md §6's
// "PC is well-known by name _PC; ... interrupt-mask by PSTATE_I".
type wellKnownRegs struct {
	pc   model.WellKnown
	i    model.WellKnown
	hasI bool
}

// Core runs one guest core's translate-execute loop (spec.md §4.7),
// grounded on models.rs's ModelDevice/block_exec. Per spec.md §5, a
// Core belongs to exactly one OS thread and is never shared: its block
// cache, chain cache and virt→phys cache do no internal locking.
type Core struct {
	Model  *model.Model
	Memory GuestMemory
	MMU    MMU

	regs *model.RegisterFile

	blockCache    *cache.BlockCache
	chainCache    *cache.DirectMappedCache[uint64]
	virtPhysCache *cache.DirectMappedCache[uint64]

	helpers   map[string]uintptr
	wellKnown wellKnownRegs

	// irqPending is spec.md §5's "atomic IRQ pending bit": other
	// devices (timers, interrupt controllers) set it from their own
	// goroutines; Step only ever reads and clears it between blocks,
	// never while a block is executing.
	irqPending atomic.Bool

	// lastFault/lastChainHit are scratch fields the host helper
	// functions in helpers.go write into through the ambient
	// currentCore binding during Execute, and Step consumes
	// immediately after.
	lastFault    error
	lastChainHit bool

	// BlocksExecuted counts completed Step calls, for diagnostics.
	BlocksExecuted uint64
}

// NewCore builds a Core for m, with regs zeroed and PC set to
// initialPC, mirroring ModelDevice::new's register_file.write("_PC",
// initial_pc).
func NewCore(m *model.Model, mem GuestMemory, mmu MMU, initialPC uint64) (*Core, error) {
	pc := model.ResolveWellKnown(m, "_PC")
	var i model.WellKnown
	var hasI bool
	if _, ok := m.Registers["PSTATE_I"]; ok {
		i, hasI = model.ResolveWellKnown(m, "PSTATE_I"), true
	}

	c := &Core{
		Model:         m,
		Memory:        mem,
		MMU:           mmu,
		regs:          model.NewRegisterFile(m),
		blockCache:    cache.NewBlockCache(),
		chainCache:    cache.NewDirectMappedCache[uint64](cache.ChainCacheEntries),
		virtPhysCache: cache.NewDirectMappedCache[uint64](cache.VirtPhysCacheEntries),
		helpers:       helperTable(),
		wellKnown:     wellKnownRegs{pc: pc, i: i, hasI: hasI},
	}

	// Run the interpreted boot sequence (spec.md §1.6, §4.7) before the
	// caller's initial PC is written, so an explicit initialPC always
	// wins over whatever borealis_register_init/__InitSystem left in
	// the PC register.
	if err := bootInitialize(m, c.regs); err != nil {
		return nil, fmt.Errorf("harness: booting core for model %q: %w", m.Name, err)
	}

	pc.Write64(c.regs, initialPC)
	return c, nil
}

// Registers exposes the guest register file for test setup/assertions
// and for devices that read/write guest-visible state directly.
func (c *Core) Registers() *model.RegisterFile { return c.regs }

// RaiseIRQ sets the atomic IRQ-pending bit, the IrqController-facing
// half of spec.md §5's cross-device communication channel.
func (c *Core) RaiseIRQ() { c.irqPending.Store(true) }

// RescindIRQ clears it.
func (c *Core) RescindIRQ() { c.irqPending.Store(false) }

// Step runs spec.md §4.7's six-step main loop exactly once: translate
// (or reuse a cached translation for) the block at the current guest
// PC, execute it, and act on the execution-result word.
func (c *Core) Step() error {
	virtPC := c.wellKnown.pc.Read64(c.regs)

	// Step 2: virt→phys, via cache with a guest MMU fallback.
	physPC, ok := c.virtPhysCache.Get(virtPC)
	if !ok {
		var err error
		physPC, err = c.MMU.Translate(virtPC)
		if err != nil {
			return fmt.Errorf("harness: translating guest virtual PC %#x: %w", virtPC, err)
		}
		c.virtPhysCache.Insert(virtPC, physPC)
	}

	// Step 3: block cache, on miss run the full translation pipeline.
	block, ok := c.blockCache.Get(physPC)
	if !ok {
		var opcodeBytes [4]byte
		if err := c.Memory.ReadPhys(physPC, opcodeBytes[:]); err != nil {
			return fmt.Errorf("harness: reading opcode at physical PC %#x: %w", physPC, err)
		}
		opcode := binary.LittleEndian.Uint32(opcodeBytes[:])

		var err error
		block, err = translateInstruction(c.Model, opcode, c.helpers)
		if err != nil {
			// spec.md §7's translation-failure policy: the caller
			// (cmd/dbtrun, or a future interpreted-execution fallback)
			// decides what "continue via interpretation" means; Step
			// only reports the failure and leaves the block cache
			// untouched so a later retry is possible.
			return fmt.Errorf("harness: translating block at physical PC %#x: %w", physPC, err)
		}
		c.blockCache.Insert(physPC, block)
		c.chainCache.Insert(virtPC, uint64(block.Translation.EntryAddr()))
	}

	// Step 4: execute, under the ambient binding the host helpers read.
	currentCore = c
	c.lastFault = nil
	c.lastChainHit = false
	resultWord := block.Translation.Execute(&c.regs.Bytes[0])
	currentCore = nil

	if c.lastFault != nil {
		return fmt.Errorf("harness: fault during block at guest PC %#x: %w", virtPC, c.lastFault)
	}

	needTLBInvalidate := resultWord&0x1 != 0
	interruptPending := resultWord&0x2 != 0

	// Step 5.
	if needTLBInvalidate {
		c.chainCache.Reset()
		c.virtPhysCache.Reset()
		c.blockCache.Invalidate()
	}

	// Step 6: also triggered by the polled IRQ-pending bit per
	// spec.md §5, in addition to whatever the execution-result word
	// itself reported.
	if (interruptPending || c.irqPending.Load()) && c.wellKnown.hasI && c.wellKnown.i.Read8(c.regs) == 0 {
		c.enterException()
	}

	c.BlocksExecuted++
	return nil
}

// Run calls Step in a loop until it returns an error or steps reaches
// maxSteps (0 means unbounded), matching spec.md §5's "no internal
// suspension: no yield points inside translation or allocation" —
// Step itself never blocks, so Run's only exit conditions are an error
// or the caller-supplied bound.
func (c *Core) Run(maxSteps uint64) error {
	for maxSteps == 0 || c.BlocksExecuted < maxSteps {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// enterException synthesises an ARM-style exception entry: spec.md
// §4.7 step 6's "writing the banked ELR/SPSR registers and jumping the
// PC to the vector base + offset." The concrete vector layout is
// model-specific (spec.md treats register offsets as opaque constants
// the translator never hardcodes), so this only handles the registers
// every AArch64-shaped model in this pack names the same way; a model
// without them makes this a no-op rather than a panic, since whether a
// given model implements exception entry at all is that model's
// business, not the harness's.
func (c *Core) enterException() {
	elr, elrOK := c.Model.Registers["ELR_EL1"]
	spsr, spsrOK := c.Model.Registers["SPSR_EL1_bits"]
	vbar, vbarOK := c.Model.Registers["VBAR_EL1"]
	if !elrOK || !spsrOK || !vbarOK {
		return
	}

	pc := c.wellKnown.pc.Read64(c.regs)
	c.regs.Write64(elr.Offset, pc)
	c.regs.Write64(spsr.Offset, 0) // NZCV/mode capture is a model concern this harness doesn't reach into.
	vector := c.regs.Read64(vbar.Offset) + 0x80
	c.wellKnown.pc.Write64(c.regs, vector)
}
