package ir

import "fmt"

// Builder appends statements to a single Block and derives each
// statement's Typ from its Op and operand types, enforcing spec.md
// §8's invariant: "For all IR statements s, if s.has_value(), then
// s.typ() is uniquely determined by s.kind() and the types of its
// operands." Mirrors the constructor-per-opcode style of
// ssa.Builder.AllocateInstruction + Instruction.AsXxx in builder.go,
// collapsed into one Builder bound to a Block rather than a whole
// function, since spec.md's emitter builds one Block's IR at a time.
type Builder struct {
	Block *Block
}

func NewBuilder(b *Block) *Builder { return &Builder{Block: b} }

func (bd *Builder) typeOf(r Ref) Type { return bd.Block.Get(r).Typ }

// Constant appends a Constant statement of type t with the given
// 128-bit little-endian value.
func (bd *Builder) Constant(t Type, lo, hi uint64) Ref {
	return bd.Block.Append(Stmt{Op: OpConstant, Typ: t, ConstLo: lo, ConstHi: hi})
}

func (bd *Builder) ConstantU64(t Type, v uint64) Ref { return bd.Constant(t, v, 0) }

// ReadRegister appends ReadRegister{typ, offset}.
func (bd *Builder) ReadRegister(t Type, offset uint64, name string) Ref {
	return bd.Block.Append(Stmt{Op: OpReadRegister, Typ: t, Imm: offset, Sym: name})
}

// WriteRegister appends WriteRegister{offset, value}; has no value.
func (bd *Builder) WriteRegister(offset uint64, name string, value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpWriteRegister, Imm: offset, Sym: name, A: value})
}

// ReadMemory appends ReadMemory{address, size}, typed as an unsigned
// integer of the requested byte size.
func (bd *Builder) ReadMemory(address Ref, sizeBytes uint64) Ref {
	return bd.Block.Append(Stmt{
		Op: OpReadMemory, Typ: Unsigned(Width(sizeBytes * 8)), A: address, Imm: sizeBytes,
	})
}

// WriteMemory appends WriteMemory{address, value}; has no value.
func (bd *Builder) WriteMemory(address, value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpWriteMemory, A: address, B: value})
}

// BinaryOp appends BinaryOp{kind, lhs, rhs}. Per spec.md §3, binary
// arithmetic requires operands of identical type except for explicit
// casts; comparisons produce the canonical Boolean (u1) instead.
func (bd *Builder) BinaryOp(kind BinaryKind, lhs, rhs Ref) Ref {
	lt, rt := bd.typeOf(lhs), bd.typeOf(rhs)
	if !lt.Equal(rt) {
		panic(fmt.Sprintf("ir: BinaryOp operand type mismatch: %s vs %s", lt, rt))
	}
	typ := lt
	switch kind {
	case BinEq, BinNe, BinLt, BinLe, BinGt, BinGe:
		typ = Bool
	}
	return bd.Block.Append(Stmt{Op: OpBinaryOp, Typ: typ, Imm: uint64(kind), A: lhs, B: rhs})
}

// UnaryOp appends UnaryOp, result type same as the operand.
func (bd *Builder) UnaryOp(kind UnaryKind, v Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpUnaryOp, Typ: bd.typeOf(v), Imm: uint64(kind), A: v})
}

// ShiftOp appends ShiftOp, result type same as the shifted value.
func (bd *Builder) ShiftOp(kind ShiftKind, value, amount Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpShiftOp, Typ: bd.typeOf(value), Imm: uint64(kind), A: value, B: amount})
}

// Cast appends Cast{kind, typ, value}, result type is the target typ
// as given, not derived from the operand (explicit-cast escape hatch
// from the identical-type rule).
func (bd *Builder) Cast(kind CastKind, t Type, v Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpCast, Typ: t, Imm: uint64(kind), A: v})
}

// BitsCast appends BitsCast{kind, typ, value, width} for dynamic-width
// Bits conversions.
func (bd *Builder) BitsCast(kind CastKind, t Type, v Ref, width uint64) Ref {
	return bd.Block.Append(Stmt{Op: OpBitsCast, Typ: t, Imm: uint64(kind), Imm2: width, A: v})
}

// BitExtract appends BitExtract{value, start, width}, typed as an
// unsigned integer of the extracted width (fixed-width fast path) or
// Bits() when width isn't known to be constant-foldable by the caller.
func (bd *Builder) BitExtract(value Ref, start, width uint64, resultType Type) Ref {
	return bd.Block.Append(Stmt{Op: OpBitExtract, Typ: resultType, A: value, Imm: start, Imm2: width})
}

// BitInsert appends BitInsert{target, source, start, width}, result
// type same as target.
func (bd *Builder) BitInsert(target, source Ref, start, width uint64) Ref {
	return bd.Block.Append(Stmt{Op: OpBitInsert, Typ: bd.typeOf(target), A: target, B: source, Imm: start, Imm2: width})
}

// BitReplicate appends BitReplicate{pattern, count}.
func (bd *Builder) BitReplicate(pattern Ref, count uint64, resultType Type) Ref {
	return bd.Block.Append(Stmt{Op: OpBitReplicate, Typ: resultType, A: pattern, Imm: count})
}

// ReadElement appends ReadElement of a vector/tuple at a constant index.
func (bd *Builder) ReadElement(vec Ref, index uint64, elemType Type) Ref {
	return bd.Block.Append(Stmt{Op: OpReadElement, Typ: elemType, A: vec, Imm: index})
}

// AssignElement appends AssignElement; has no value, mutates in place
// conceptually (the emitter is responsible for SSA-renaming the result).
func (bd *Builder) AssignElement(vec Ref, index uint64, value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpAssignElement, A: vec, B: value, Imm: index})
}

// Call appends Call{target, args, return_type}. isTail marks the call
// as terminating the block (spec.md §3: "Call in tail position").
func (bd *Builder) Call(target string, args []Ref, returnType Type, isTail bool) Ref {
	imm2 := uint64(0)
	if isTail {
		imm2 = 1
	}
	return bd.Block.Append(Stmt{Op: OpCall, Typ: returnType, Sym: target, Extra: args, Imm2: imm2})
}

// Jump appends Jump{target}, terminating the block.
func (bd *Builder) Jump(target BlockRef) Ref {
	s := Stmt{Op: OpJump}
	s.Targets[0] = target
	return bd.Block.Append(s)
}

// Branch appends Branch{cond, t, f}, terminating the block. cond must
// be the canonical Boolean type.
func (bd *Builder) Branch(cond Ref, t, f BlockRef) Ref {
	if ct := bd.typeOf(cond); !ct.IsBoolean() {
		panic(fmt.Sprintf("ir: Branch condition must be u1, got %s", ct))
	}
	s := Stmt{Op: OpBranch, A: cond}
	s.Targets[0], s.Targets[1] = t, f
	return bd.Block.Append(s)
}

// Return appends Return{value?}, terminating the block. Pass the zero
// Ref for a void return.
func (bd *Builder) Return(value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpReturn, A: value})
}

// Select appends Select(cond, t, f), result type same as t/f (which
// must match).
func (bd *Builder) Select(cond, t, f Ref) Ref {
	tt, ft := bd.typeOf(t), bd.typeOf(f)
	if !tt.Equal(ft) {
		panic(fmt.Sprintf("ir: Select branch type mismatch: %s vs %s", tt, ft))
	}
	return bd.Block.Append(Stmt{Op: OpSelect, Typ: tt, A: cond, B: t, C: f})
}

// Panic appends Panic, terminating the block.
func (bd *Builder) Panic(message string) Ref {
	return bd.Block.Append(Stmt{Op: OpPanic, Sym: message})
}

// Assert appends Assert(cond, message); has no control-flow effect
// unless cond is false at execution time (interpreter/lowering decide).
func (bd *Builder) Assert(cond Ref, message string) Ref {
	return bd.Block.Append(Stmt{Op: OpAssert, A: cond, Sym: message})
}

// CreateTuple appends CreateTuple(elems), typed as a Tuple of the
// elements' types in order.
func (bd *Builder) CreateTuple(elems []Ref) Ref {
	types := make([]Type, len(elems))
	for i, e := range elems {
		types[i] = bd.typeOf(e)
	}
	return bd.Block.Append(Stmt{Op: OpCreateTuple, Typ: Tuple(types...), Extra: elems})
}

// TupleAccess appends TupleAccess at a constant field index, typed per
// the tuple's declared field type.
func (bd *Builder) TupleAccess(tuple Ref, index uint64) Ref {
	tt := bd.typeOf(tuple)
	if int(index) >= len(tt.Fields) {
		panic("ir: TupleAccess index out of range")
	}
	return bd.Block.Append(Stmt{Op: OpTupleAccess, Typ: tt.Fields[index].Type, A: tuple, Imm: index})
}

// MatchesUnion appends MatchesUnion(value, variantName), typed Boolean.
func (bd *Builder) MatchesUnion(value Ref, variant string) Ref {
	return bd.Block.Append(Stmt{Op: OpMatchesUnion, Typ: Bool, A: value, Sym: variant})
}

// UnwrapUnion appends UnwrapUnion(value, variantName), typed per the
// matching field's declared type.
func (bd *Builder) UnwrapUnion(value Ref, variant string) Ref {
	ut := bd.typeOf(value)
	var ft Type = Any()
	for _, f := range ut.Fields {
		if f.Name == variant {
			ft = f.Type
			break
		}
	}
	return bd.Block.Append(Stmt{Op: OpUnwrapUnion, Typ: ft, A: value, Sym: variant})
}

// GetFlags appends GetFlags, typed as a 4-bit unsigned NZCV bundle.
func (bd *Builder) GetFlags() Ref {
	return bd.Block.Append(Stmt{Op: OpGetFlags, Typ: Unsigned(4)})
}

// ReadVariable appends ReadVariable(sym), the local-variable SSA
// bridge spec.md §3 describes alongside WriteVariable.
func (bd *Builder) ReadVariable(sym Symbol) Ref {
	return bd.Block.Append(Stmt{Op: OpReadVariable, Typ: sym.Typ, Sym: sym.Name})
}

// WriteVariable appends WriteVariable(sym, value); has no value.
func (bd *Builder) WriteVariable(sym Symbol, value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpWriteVariable, Sym: sym.Name, A: value})
}

// ReadPc appends ReadPc, typed as a 64-bit unsigned integer.
func (bd *Builder) ReadPc() Ref {
	return bd.Block.Append(Stmt{Op: OpReadPc, Typ: Unsigned(W64)})
}

// WritePc appends WritePc(value); has no value.
func (bd *Builder) WritePc(value Ref) Ref {
	return bd.Block.Append(Stmt{Op: OpWritePc, A: value})
}

// EnterInlineCall appends the inliner-scaffolding statement from
// spec.md §4.2 step (iii).
func (bd *Builder) EnterInlineCall(info InlineInfo) Ref {
	return bd.Block.Append(Stmt{Op: OpEnterInlineCall, Inline: info})
}

// ExitInlineCall appends the terminator that closes out an inlined
// callee's block, per spec.md §4.2 step (v).
func (bd *Builder) ExitInlineCall(info InlineInfo) Ref {
	return bd.Block.Append(Stmt{Op: OpExitInlineCall, Inline: info})
}
