// Package interp implements a tree-walking reference interpreter over
// internal/ir, grounded on brig/borealis/src/codegen/interpreter.rs.
// Used for register-file initialisation/feature configuration and as
// the oracle translate(instruction);execute ≡ interpret(instruction)
// tests compare against (spec.md §8).
package interp

import (
	"fmt"
	"math/bits"

	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

// Value is an interpreter-time value: a 128-bit little-endian payload
// tagged with its IR Type, mirroring ir.Stmt's ConstLo/ConstHi pair.
type Value struct {
	Typ    ir.Type
	Lo, Hi uint64
}

func u64(t ir.Type, v uint64) Value { return Value{Typ: t, Lo: v} }

func (v Value) asUint() uint64 { return v.Lo }

func boolValue(b bool) Value {
	if b {
		return Value{Typ: ir.Bool, Lo: 1}
	}
	return Value{Typ: ir.Bool, Lo: 0}
}

// Interp holds the state of one call into the interpreter: the model
// it is interpreting against, the register file it reads/writes, and
// per-call local-variable/value bindings.
type Interp struct {
	Model *model.Model
	Regs  *model.RegisterFile

	locals map[string]Value
}

// New returns an Interp bound to m/regs.
func New(m *model.Model, regs *model.RegisterFile) *Interp {
	return &Interp{Model: m, Regs: regs, locals: map[string]Value{}}
}

// Call interprets fn with the given argument values and returns its
// return value (zero Value for void functions).
func (it *Interp) Call(fn *ir.Function, args []Value) (Value, error) {
	for i, p := range fn.Params {
		it.locals[p.Name] = args[i]
	}
	for _, l := range fn.Locals {
		if _, ok := it.locals[l.Name]; !ok {
			it.locals[l.Name] = Value{Typ: l.Typ}
		}
	}
	return it.runBlock(fn, fn.Entry)
}

// CallByName resolves fn by name in it.Model and interprets it,
// mirroring the original's `interpret(model, "borealis_register_init",
// &[], register_file_ptr)` call shape.
func (it *Interp) CallByName(name string, args []Value) (Value, error) {
	fn, ok := it.Model.Functions[name]
	if !ok {
		return Value{}, fmt.Errorf("interp: unknown function %q", name)
	}
	return it.Call(fn, args)
}

func (it *Interp) runBlock(fn *ir.Function, ref ir.BlockRef) (Value, error) {
	blk := fn.Block(ref)
	values := map[ir.Ref]Value{}

	for _, sref := range blk.Order {
		s := blk.Get(sref)
		switch s.Op {
		case ir.OpConstant:
			values[sref] = Value{Typ: s.Typ, Lo: s.ConstLo, Hi: s.ConstHi}

		case ir.OpReadRegister:
			values[sref] = it.readRegister(s)

		case ir.OpWriteRegister:
			it.writeRegister(s, values[s.A])

		case ir.OpReadMemory, ir.OpWriteMemory:
			return Value{}, fmt.Errorf("interp: memory ops require a MemoryAccessor, unsupported in this reference path")

		case ir.OpBinaryOp:
			v, err := evalBinary(ir.BinaryKind(s.Imm), values[s.A], values[s.B], s.Typ)
			if err != nil {
				return Value{}, err
			}
			values[sref] = v

		case ir.OpUnaryOp:
			values[sref] = evalUnary(ir.UnaryKind(s.Imm), values[s.A], s.Typ)

		case ir.OpShiftOp:
			values[sref] = evalShift(ir.ShiftKind(s.Imm), values[s.A], values[s.B], s.Typ)

		case ir.OpCast, ir.OpBitsCast:
			values[sref] = evalCast(s.Typ, values[s.A])

		case ir.OpBitExtract:
			values[sref] = u64(s.Typ, bitExtract(values[s.A].Lo, s.Imm, s.Imm2))

		case ir.OpBitInsert:
			values[sref] = u64(s.Typ, bitInsert(values[s.A].Lo, values[s.B].Lo, s.Imm, s.Imm2))

		case ir.OpBitReplicate:
			values[sref] = u64(s.Typ, bitReplicate(values[s.A].Lo, s.Imm))

		case ir.OpSelect:
			if values[s.A].asUint() != 0 {
				values[sref] = values[s.B]
			} else {
				values[sref] = values[s.C]
			}

		case ir.OpReadVariable:
			values[sref] = it.locals[s.Sym]

		case ir.OpWriteVariable:
			it.locals[s.Sym] = values[s.A]

		case ir.OpReadPc:
			values[sref] = u64(s.Typ, it.Regs.Read64(it.Model.RegOffset("_PC")))

		case ir.OpWritePc:
			it.Regs.Write64(it.Model.RegOffset("_PC"), values[s.A].Lo)

		case ir.OpGetFlags:
			values[sref] = u64(s.Typ, it.readFlags())

		case ir.OpCall:
			callee, ok := it.Model.Functions[s.Sym]
			if !ok {
				return Value{}, fmt.Errorf("interp: call to unknown function %q", s.Sym)
			}
			args := make([]Value, len(s.Extra))
			for i, a := range s.Extra {
				args[i] = values[a]
			}
			sub := New(it.Model, it.Regs)
			ret, err := sub.Call(callee, args)
			if err != nil {
				return Value{}, err
			}
			values[sref] = ret

		case ir.OpAssert:
			if values[s.A].asUint() == 0 {
				return Value{}, fmt.Errorf("interp: assertion failed: %s", s.Sym)
			}

		case ir.OpPanic:
			return Value{}, fmt.Errorf("interp: guest panic: %s", s.Sym)

		case ir.OpJump:
			return it.runBlock(fn, s.Targets[0])

		case ir.OpBranch:
			if values[s.A].asUint() != 0 {
				return it.runBlock(fn, s.Targets[0])
			}
			return it.runBlock(fn, s.Targets[1])

		case ir.OpReturn:
			if s.A.Valid() {
				return values[s.A], nil
			}
			return Value{}, nil

		case ir.OpCreateTuple, ir.OpTupleAccess, ir.OpMatchesUnion, ir.OpUnwrapUnion,
			ir.OpReadElement, ir.OpAssignElement, ir.OpEnterInlineCall, ir.OpExitInlineCall:
			// Tuple/union/vector/inliner-scaffolding statements never
			// appear in the register-init/feature-configuration
			// functions this interpreter's documented use targets
			// (spec.md §4.7's oracle role is scoped to whole-
			// instruction semantics, exercised via internal/emitter +
			// internal/lower instead for those statement kinds).
			return Value{}, fmt.Errorf("interp: unsupported opcode %v in reference path", s.Op)

		default:
			return Value{}, fmt.Errorf("interp: unknown opcode %v", s.Op)
		}
	}
	return Value{}, fmt.Errorf("interp: block %v fell through without a terminator", ref)
}

func (it *Interp) readRegister(s ir.Stmt) Value {
	switch s.Typ.Width {
	case ir.W8:
		return u64(s.Typ, uint64(it.Regs.Read8(s.Imm)))
	case ir.W16:
		return u64(s.Typ, uint64(it.Regs.Read16(s.Imm)))
	case ir.W32:
		return u64(s.Typ, uint64(it.Regs.Read32(s.Imm)))
	default:
		return u64(s.Typ, it.Regs.Read64(s.Imm))
	}
}

func (it *Interp) writeRegister(s ir.Stmt, v Value) {
	// Width is derived from the register descriptor, not from the
	// written value itself: a guest may write a narrower value.
	rd, ok := it.regDescByOffset(s.Imm)
	width := ir.W64
	if ok {
		width = rd.Typ.Width
	}
	switch width {
	case ir.W8:
		it.Regs.Write8(s.Imm, uint8(v.Lo))
	case ir.W16:
		it.Regs.Write16(s.Imm, uint16(v.Lo))
	case ir.W32:
		it.Regs.Write32(s.Imm, uint32(v.Lo))
	default:
		it.Regs.Write64(s.Imm, v.Lo)
	}
}

func (it *Interp) regDescByOffset(offset uint64) (model.RegisterDescriptor, bool) {
	for _, rd := range it.Model.Registers {
		if rd.Offset == offset {
			return rd, true
		}
	}
	return model.RegisterDescriptor{}, false
}

// readFlags packs PSTATE_{N,Z,C,V} into a 4-bit NZCV bundle, matching
// the x86 lowering's condition-flag convention (internal/lower).
func (it *Interp) readFlags() uint64 {
	var n, z, c, v uint64
	if rd, ok := it.Model.Registers["PSTATE_N"]; ok {
		n = uint64(it.Regs.Read8(rd.Offset)) & 1
	}
	if rd, ok := it.Model.Registers["PSTATE_Z"]; ok {
		z = uint64(it.Regs.Read8(rd.Offset)) & 1
	}
	if rd, ok := it.Model.Registers["PSTATE_C"]; ok {
		c = uint64(it.Regs.Read8(rd.Offset)) & 1
	}
	if rd, ok := it.Model.Registers["PSTATE_V"]; ok {
		v = uint64(it.Regs.Read8(rd.Offset)) & 1
	}
	return n<<3 | z<<2 | c<<1 | v
}

func evalBinary(kind ir.BinaryKind, lhs, rhs Value, resultType ir.Type) (Value, error) {
	a, b := lhs.Lo, rhs.Lo
	switch kind {
	case ir.BinAdd:
		return u64(resultType, a+b), nil
	case ir.BinSub:
		return u64(resultType, a-b), nil
	case ir.BinMul:
		return u64(resultType, a*b), nil
	case ir.BinDiv:
		if b == 0 {
			return Value{}, fmt.Errorf("interp: division by zero")
		}
		return u64(resultType, a/b), nil
	case ir.BinMod:
		if b == 0 {
			return Value{}, fmt.Errorf("interp: modulo by zero")
		}
		return u64(resultType, a%b), nil
	case ir.BinAnd:
		return u64(resultType, a&b), nil
	case ir.BinOr:
		return u64(resultType, a|b), nil
	case ir.BinXor:
		return u64(resultType, a^b), nil
	case ir.BinEq:
		return boolValue(a == b), nil
	case ir.BinNe:
		return boolValue(a != b), nil
	case ir.BinLt:
		return boolValue(a < b), nil
	case ir.BinLe:
		return boolValue(a <= b), nil
	case ir.BinGt:
		return boolValue(a > b), nil
	case ir.BinGe:
		return boolValue(a >= b), nil
	default:
		return Value{}, fmt.Errorf("interp: unsupported binary kind %v", kind)
	}
}

func evalUnary(kind ir.UnaryKind, v Value, resultType ir.Type) Value {
	switch kind {
	case ir.UnaryNeg:
		return u64(resultType, uint64(-int64(v.Lo)))
	case ir.UnaryNot:
		if v.Lo == 0 {
			return u64(resultType, 1)
		}
		return u64(resultType, 0)
	case ir.UnaryComplement:
		return u64(resultType, ^v.Lo)
	default:
		return v
	}
}

func evalShift(kind ir.ShiftKind, v, amount Value, resultType ir.Type) Value {
	w := uint(resultType.Width)
	if w == 0 || w > 64 {
		w = 64
	}
	n := uint(amount.Lo) % w
	switch kind {
	case ir.ShiftLeft:
		return u64(resultType, v.Lo<<n)
	case ir.ShiftRightLogical:
		return u64(resultType, v.Lo>>n)
	case ir.ShiftRightArithmetic:
		return u64(resultType, uint64(int64(v.Lo)>>n))
	case ir.ShiftRotateLeft:
		return u64(resultType, bits.RotateLeft64(v.Lo, int(n)))
	case ir.ShiftRotateRight:
		return u64(resultType, bits.RotateLeft64(v.Lo, -int(n)))
	default:
		return v
	}
}

func evalCast(t ir.Type, v Value) Value {
	if t.Width == 0 || t.Width >= 64 {
		return u64(t, v.Lo)
	}
	mask := uint64(1)<<t.Width - 1
	return u64(t, v.Lo&mask)
}

func bitExtract(value, start, width uint64) uint64 {
	if width >= 64 {
		return value >> start
	}
	return (value >> start) & (1<<width - 1)
}

func bitInsert(target, source, start, width uint64) uint64 {
	if width >= 64 {
		return source
	}
	mask := (uint64(1)<<width - 1) << start
	cleared := target &^ mask
	shifted := (source & (1<<width - 1)) << start
	return cleared | shifted
}

func bitReplicate(pattern, count uint64) uint64 {
	// pattern's bit-width is implicit in the caller's type; callers
	// only invoke this with patterns known to be 1 bit wide in this
	// reference interpreter's supported subset (feature-register init).
	if pattern&1 == 0 {
		return 0
	}
	var out uint64
	for i := uint64(0); i < count && i < 64; i++ {
		out |= 1 << i
	}
	return out
}
