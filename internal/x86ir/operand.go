// Package x86ir is the x86-64 machine IR (C6): operands and
// instructions produced by internal/lower, consumed by
// internal/regalloc and internal/x86asm. Like internal/ir.Stmt, each
// Instr is a single flattened struct covering every opcode rather than
// one Go type per mnemonic, following ssa.Instruction's rationale
// ("Since Go doesn't have union type, we use this flattened type for
// all instructions").
package x86ir

import "fmt"

// PhysReg is a physical x86-64 general-purpose register, in the
// canonical RAX..R15 encoding order isa/arm64/reg.go's regNames table
// follows for its own register set.
type PhysReg uint8

const (
	RAX PhysReg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	NumPhysRegs
)

var physRegNames = [...]string{
	RAX: "rax", RCX: "rcx", RDX: "rdx", RBX: "rbx",
	RSP: "rsp", RBP: "rbp", RSI: "rsi", RDI: "rdi",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
}

func (r PhysReg) String() string {
	if int(r) < len(physRegNames) {
		return physRegNames[r]
	}
	return fmt.Sprintf("preg%d", r)
}

// Reserved is the fixed set of physical registers internal/regalloc
// must never hand to a virtual register: RSP and RBP frame the host
// stack and the guest register-file base respectively, and R15 is the
// chain-cache scratch register the "Leave" computed-jump sequence
// uses (spec.md §3; see DESIGN.md's Open Question decision — this
// implementation does not additionally reserve R14 the way the old
// wazero JIT engine's amd64 backend did).
var Reserved = [NumPhysRegs]bool{RSP: true, RBP: true, R15: true}

// IsReserved reports whether r is off-limits to the register allocator.
func IsReserved(r PhysReg) bool { return Reserved[r] }

// VReg is a pre-allocation virtual register identifier, freshly
// minted per translation by internal/lower.
type VReg uint32

// VRegInvalid marks "no virtual register", mirroring backend.VReg's
// vRegInvalid sentinel.
const VRegInvalid VReg = ^VReg(0)

// BlockID indexes into a Program's Blocks.
type BlockID int

// NoBlock marks the absence of a block reference.
const NoBlock BlockID = -1

// OperandKind enumerates the operand forms spec.md §3 lists for the
// x86 IR: immediate, physical register, virtual register, memory, and
// block target (JMP/Jcc only).
type OperandKind uint8

const (
	OperandInvalid OperandKind = iota
	OperandImmediate
	OperandPhysical
	OperandVirtual
	OperandMemory
	OperandTarget
)

// Operand is one operand of an Instr.
type Operand struct {
	Kind  OperandKind
	Width uint8 // bits: 8, 16, 32, or 64

	Imm uint64

	Phys PhysReg
	Virt VReg

	Mem Memory

	Block BlockID
}

// Memory is a base(+index*scale)+displacement(+segment) addressing
// form. Base and Index may each independently be virtual
// (pre-allocation) or physical.
type Memory struct {
	BaseIsVirtual bool
	BasePhys      PhysReg
	BaseVirt      VReg

	HasIndex       bool
	IndexIsVirtual bool
	IndexPhys      PhysReg
	IndexVirt      VReg
	Scale          uint8 // 1, 2, 4, or 8

	Displacement int32

	HasSegment bool
	Segment    PhysReg
}

func Imm(width uint8, v uint64) Operand {
	return Operand{Kind: OperandImmediate, Width: width, Imm: v}
}

func PhysicalReg(width uint8, r PhysReg) Operand {
	return Operand{Kind: OperandPhysical, Width: width, Phys: r}
}

func VirtualReg(width uint8, v VReg) Operand {
	return Operand{Kind: OperandVirtual, Width: width, Virt: v}
}

// Target builds a block-reference operand for JMP/Jcc.
func Target(b BlockID) Operand { return Operand{Kind: OperandTarget, Block: b} }

// MemBaseDispl builds `[base + displacement]` over a physical base.
func MemBaseDispl(width uint8, base PhysReg, displacement int32) Operand {
	return Operand{Kind: OperandMemory, Width: width, Mem: Memory{BasePhys: base, Displacement: displacement}}
}

// MemBaseDisplVirtual builds `[base + displacement]` over a virtual
// base, before register allocation has run.
func MemBaseDisplVirtual(width uint8, base VReg, displacement int32) Operand {
	return Operand{Kind: OperandMemory, Width: width, Mem: Memory{BaseIsVirtual: true, BaseVirt: base, Displacement: displacement}}
}

// IsVirtual reports whether o still references an unallocated virtual
// register, directly or via a Memory base/index.
func (o Operand) IsVirtual() bool {
	switch o.Kind {
	case OperandVirtual:
		return true
	case OperandMemory:
		return o.Mem.BaseIsVirtual || (o.Mem.HasIndex && o.Mem.IndexIsVirtual)
	default:
		return false
	}
}

// VRegs returns every virtual register o references: zero for a plain
// register/immediate operand, up to two for a base+index memory form.
func (o Operand) VRegs() []VReg {
	switch o.Kind {
	case OperandVirtual:
		return []VReg{o.Virt}
	case OperandMemory:
		var out []VReg
		if o.Mem.BaseIsVirtual {
			out = append(out, o.Mem.BaseVirt)
		}
		if o.Mem.HasIndex && o.Mem.IndexIsVirtual {
			out = append(out, o.Mem.IndexVirt)
		}
		return out
	default:
		return nil
	}
}

// ReplaceVReg returns a copy of o with every occurrence of from
// rewritten to the physical register to — internal/regalloc's final
// operand-rewrite pass (spec.md §4.4 step 3).
func (o Operand) ReplaceVReg(from VReg, to PhysReg) Operand {
	switch o.Kind {
	case OperandVirtual:
		if o.Virt == from {
			return Operand{Kind: OperandPhysical, Width: o.Width, Phys: to}
		}
	case OperandMemory:
		m := o.Mem
		changed := false
		if m.BaseIsVirtual && m.BaseVirt == from {
			m.BaseIsVirtual = false
			m.BasePhys = to
			changed = true
		}
		if m.HasIndex && m.IndexIsVirtual && m.IndexVirt == from {
			m.IndexIsVirtual = false
			m.IndexPhys = to
			changed = true
		}
		if changed {
			return Operand{Kind: OperandMemory, Width: o.Width, Mem: m}
		}
	}
	return o
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandImmediate:
		return fmt.Sprintf("$0x%x", o.Imm)
	case OperandPhysical:
		return "%" + o.Phys.String()
	case OperandVirtual:
		return fmt.Sprintf("%%v%d", o.Virt)
	case OperandMemory:
		base := "?"
		if o.Mem.BaseIsVirtual {
			base = fmt.Sprintf("v%d", o.Mem.BaseVirt)
		} else {
			base = o.Mem.BasePhys.String()
		}
		return fmt.Sprintf("%d(%%%s)", o.Mem.Displacement, base)
	case OperandTarget:
		return fmt.Sprintf("block%d", o.Block)
	default:
		return "<invalid>"
	}
}
