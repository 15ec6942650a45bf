package ir

import "github.com/corvid-dbt/corvid/internal/arena"

// Op enumerates the statement taxonomy of spec.md §3. The flattened,
// single-struct-per-instruction representation (as opposed to one Go
// type per variant) follows ssa.Instruction in ssa/instructions.go:
// "Since Go doesn't have union type, we use this flattened type for
// all instructions, and therefore each field has different meaning
// depending on Opcode."
type Op uint8

const (
	OpInvalid Op = iota
	OpConstant
	OpReadRegister
	OpWriteRegister
	OpReadMemory
	OpWriteMemory
	OpBinaryOp
	OpUnaryOp
	OpShiftOp
	OpCast
	OpBitsCast
	OpBitExtract
	OpBitInsert
	OpBitReplicate
	OpReadElement
	OpAssignElement
	OpCall
	OpJump
	OpBranch
	OpReturn
	OpSelect
	OpPanic
	OpAssert
	OpCreateTuple
	OpTupleAccess
	OpMatchesUnion
	OpUnwrapUnion
	OpGetFlags
	OpReadVariable
	OpWriteVariable
	OpReadPc
	OpWritePc
	OpEnterInlineCall
	OpExitInlineCall
)

// BinaryKind/UnaryKind/ShiftKind/CastKind enumerate the Imm field of
// the corresponding Op, analogous to ssa's per-opcode "kind" constants.
type BinaryKind uint8

const (
	BinAdd BinaryKind = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinAnd
	BinOr
	BinXor
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinPowI
)

type UnaryKind uint8

const (
	UnaryNeg UnaryKind = iota
	UnaryNot
	UnaryComplement
)

type ShiftKind uint8

const (
	ShiftLeft ShiftKind = iota
	ShiftRightLogical
	ShiftRightArithmetic
	ShiftRotateLeft
	ShiftRotateRight
)

type CastKind uint8

const (
	CastZeroExtend CastKind = iota
	CastSignExtend
	CastTruncate
	CastReinterpret
	CastConvert // e.g. int<->float
)

// Ref is a handle to a value-producing Stmt within one Block's arena.
// A Ref is only meaningful paired with the Block (or Function) it came
// from, matching arena.Handle's "statically distinguished" contract.
type Ref = arena.Handle[Stmt]

// BlockRef is a handle to a Block within a Function's block arena.
type BlockRef = arena.Handle[*Block]

// Stmt is one node of the IR, see Op's doc comment for the flattened-
// union rationale. Every value-producing Stmt carries Typ, derived
// deterministically from Op and the operand types at construction time
// (spec.md §8's first quantified invariant).
type Stmt struct {
	Op  Op
	Typ Type

	// Operand value references; meaning depends on Op.
	A, B, C Ref
	// Extra holds variable-length operand lists: Call args,
	// CreateTuple elements, BitReplicate has none (uses A=pattern,
	// Imm=count).
	Extra []Ref

	// Imm carries scalar auxiliary data: register offsets, bit
	// start/width, tuple/field indices, BinaryKind/UnaryKind/ShiftKind/
	// CastKind values, and vector-element sizes.
	Imm uint64
	// Imm2 carries a second scalar when one isn't enough (e.g.
	// BitInsert's start *and* width).
	Imm2 uint64

	// ConstLo/ConstHi hold a Constant's value, little-endian, up to
	// 128 bits wide (ArbitraryLengthInteger/Rational/u128).
	ConstLo, ConstHi uint64

	// Sym names a register (ReadRegister/WriteRegister symbolic form),
	// a called function (Call), a local variable (ReadVariable/
	// WriteVariable), or a union variant (MatchesUnion/UnwrapUnion).
	// TupleAccess takes its field index from Imm, not Sym.
	Sym string

	// Targets holds block refs for control-flow statements: Jump uses
	// Targets[0]; Branch uses Targets[0] (true) and Targets[1] (false).
	Targets [2]BlockRef

	// InlineInfo is populated only for EnterInlineCall/ExitInlineCall,
	// see emitter.go's inlining protocol (spec.md §4.2).
	Inline InlineInfo
}

// InlineInfo records the four block handles EnterInlineCall/
// ExitInlineCall thread together, per spec.md §4.2 step (iii): "emit
// EnterInlineCall{pre, entry, exit, post}".
type InlineInfo struct {
	Pre, Entry, Exit, Post BlockRef
	// MangledPrefix is a 128-bit call-site identifier slot. Nothing in
	// this repository fills it in: internal/emitter namespaces an
	// inlined callee's local-variable/parameter symbols with a
	// counter-based string prefix instead.
	MangledPrefix [2]uint64
}

// HasValue reports whether this Stmt produces a usable value, i.e.
// whether other statements may reference it via A/B/C/Extra.
func (s Stmt) HasValue() bool {
	switch s.Op {
	case OpJump, OpBranch, OpReturn, OpPanic, OpAssert, OpWriteRegister,
		OpWriteMemory, OpAssignElement, OpWriteVariable, OpWritePc,
		OpEnterInlineCall, OpExitInlineCall:
		return false
	default:
		return true
	}
}

// IsTerminator reports whether s may legally be the last statement of
// a Block (spec.md §3: "the last handle is always a terminator").
func (s Stmt) IsTerminator() bool {
	switch s.Op {
	case OpJump, OpBranch, OpReturn, OpPanic, OpExitInlineCall:
		return true
	case OpCall:
		// Call in tail position, spec.md §3's Block doc comment.
		return s.Imm2 == 1
	default:
		return false
	}
}
