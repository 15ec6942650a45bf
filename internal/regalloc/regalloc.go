// Package regalloc implements C8: register allocators that rewrite
// internal/x86ir.Instr's virtual registers into physical ones in
// place. Two allocators are provided, matching spec.md §4.4's two
// named strategies: Backward (the default, a reverse linear scan) and
// Naive (a simpler forward linear scan kept for comparison/testing).
package regalloc

import (
	"fmt"

	x86 "github.com/corvid-dbt/corvid/internal/x86ir"
)

// Allocator assigns a physical register to every virtual register an
// instruction stream references, rewriting operands in place.
type Allocator interface {
	Allocate(instrs []x86.Instr, numVRegs int) error
}

type liveRange struct {
	firstDef      int
	lastUse       int
	hasFirstDef   bool
	hasLastUse    bool
	allocated     x86.PhysReg
	hasAllocation bool
}

func resolveLiveRanges(instrs []x86.Instr, numVRegs int) []liveRange {
	ranges := make([]liveRange, numVRegs)
	for idx := range ranges {
		ranges[idx] = liveRange{}
	}

	for i, instr := range instrs {
		for _, def := range instr.Defs() {
			if def.Kind != x86.OperandVirtual {
				continue
			}
			r := &ranges[def.Virt]
			if !r.hasFirstDef {
				r.firstDef, r.hasFirstDef = i, true
			}
		}
	}
	for i, instr := range instrs {
		for _, use := range instr.Uses() {
			if use.Kind != x86.OperandVirtual {
				continue
			}
			r := &ranges[use.Virt]
			r.lastUse, r.hasLastUse = i, true
		}
	}
	return ranges
}

func lowestFreeReg(live uint16) (x86.PhysReg, bool) {
	for p := x86.PhysReg(0); p < x86.NumPhysRegs; p++ {
		if x86.IsReserved(p) {
			continue
		}
		if live&(1<<p) == 0 {
			return p, true
		}
	}
	return 0, false
}

// Backward is the reverse linear-scan allocator: a single pass from
// the last instruction to the first, tracking which physical
// registers are live via a 16-bit bitset and a "who owns this
// register right now" tracking table, grounded on
// register_allocator/reverse_scan.rs's State::allocate.
//
// This port keeps the Rust original's core shape (reverse scan, live
// bitset, lowest-free-bit reassignment on physical-register conflict)
// but drops its interference-bitmap-guided reassignment target choice
// in favor of always picking the lowest currently-free, non-reserved
// register — the Rust source's own reassignment path is exercised
// only when a def aliases a physical register a live vreg already
// occupies, a case this pipeline's lowering never produces (every
// arithmetic destination internal/lower emits is a fresh virtual
// register), so the simpler choice is observably equivalent here and
// was preferred over replicating untested Rust-side logic.
type Backward struct{}

func (Backward) Allocate(instrs []x86.Instr, numVRegs int) error {
	ranges := resolveLiveRanges(instrs, numVRegs)

	var live uint16
	tracking := make([]int, x86.NumPhysRegs) // vreg index currently occupying a phys reg, or -1
	for i := range tracking {
		tracking[i] = -1
	}
	for p := x86.PhysReg(0); p < x86.NumPhysRegs; p++ {
		if x86.IsReserved(p) {
			live |= 1 << p
		}
	}

	reassign := func(conflictingVreg int) error {
		newReg, ok := lowestFreeReg(live)
		if !ok {
			return fmt.Errorf("regalloc: out of registers reassigning vreg %d", conflictingVreg)
		}
		ranges[conflictingVreg].allocated = newReg
		ranges[conflictingVreg].hasAllocation = true
		tracking[newReg] = conflictingVreg
		live |= 1 << newReg
		return nil
	}

	for i := len(instrs) - 1; i >= 0; i-- {
		instr := instrs[i]
		skip := false

	defsLoop:
		for _, def := range instr.Defs() {
			switch def.Kind {
			case x86.OperandVirtual:
				r := &ranges[def.Virt]
				if r.hasFirstDef && r.firstDef == i {
					if !r.hasLastUse {
						skip = true
						break defsLoop
					}
					if r.hasAllocation {
						live &^= 1 << r.allocated
					}
				}
			case x86.OperandPhysical:
				p := def.Phys
				if live&(1<<p) != 0 {
					live &^= 1 << p
					if occupant := tracking[p]; occupant >= 0 {
						if err := reassign(occupant); err != nil {
							return err
						}
					}
					tracking[p] = -1
				}
			}
		}

		if skip {
			continue
		}

		for _, use := range instr.Uses() {
			switch use.Kind {
			case x86.OperandVirtual:
				r := &ranges[use.Virt]
				if !r.hasAllocation {
					reg, ok := lowestFreeReg(live)
					if !ok {
						return fmt.Errorf("regalloc: out of registers allocating vreg %d at instr %d", use.Virt, i)
					}
					r.allocated, r.hasAllocation = reg, true
					tracking[reg] = int(use.Virt)
					live |= 1 << reg
				}
			case x86.OperandPhysical:
				p := use.Phys
				if live&(1<<p) != 0 {
					if occupant := tracking[p]; occupant >= 0 {
						if err := reassign(occupant); err != nil {
							return err
						}
					}
				}
				tracking[p] = -1
				live |= 1 << p
			}
		}
	}

	return commit(instrs, ranges)
}

// Naive is a forward linear-scan allocator: build every vreg's
// [firstDef, lastUse] interval, then walk instructions start to end
// freeing registers whose interval just ended before allocating
// registers whose interval just started, grounded on
// register_allocator/naive.rs's FreshAllocator (build_live_ranges then
// build_allocation_plan), minus that source's physical-register-start
// conflict machinery for the same reason noted on Backward.
type Naive struct{}

func (Naive) Allocate(instrs []x86.Instr, numVRegs int) error {
	ranges := resolveLiveRanges(instrs, numVRegs)

	var used uint16
	for p := x86.PhysReg(0); p < x86.NumPhysRegs; p++ {
		if x86.IsReserved(p) {
			used |= 1 << p
		}
	}

	for i := range instrs {
		for idx := range ranges {
			r := &ranges[idx]
			if r.hasAllocation && r.hasLastUse && r.lastUse == i {
				used &^= 1 << r.allocated
			}
		}
		for idx := range ranges {
			r := &ranges[idx]
			if r.hasFirstDef && r.firstDef == i && !r.hasAllocation {
				reg, ok := lowestFreeReg(used)
				if !ok {
					return fmt.Errorf("regalloc: out of registers allocating vreg %d at instr %d", idx, i)
				}
				r.allocated, r.hasAllocation = reg, true
				used |= 1 << reg
			}
		}
	}

	return commit(instrs, ranges)
}

// commit rewrites every operand referencing an allocated virtual
// register to the physical register it was assigned, and drops any
// MOV that ends up copying a register onto itself (spec.md §4.4 step
// 4's "dead identity move" cleanup).
func commit(instrs []x86.Instr, ranges []liveRange) error {
	for i, instr := range instrs {
		for _, vr := range instr.Dst.VRegs() {
			if !ranges[vr].hasAllocation {
				return fmt.Errorf("regalloc: vreg %d used without being allocated", vr)
			}
			instr.Dst = instr.Dst.ReplaceVReg(vr, ranges[vr].allocated)
		}
		for _, vr := range instr.Src.VRegs() {
			if !ranges[vr].hasAllocation {
				return fmt.Errorf("regalloc: vreg %d used without being allocated", vr)
			}
			instr.Src = instr.Src.ReplaceVReg(vr, ranges[vr].allocated)
		}
		instrs[i] = instr
	}

	for i, instr := range instrs {
		if instr.IsIdentityMove() {
			instrs[i] = x86.Nop()
		}
	}
	return nil
}
