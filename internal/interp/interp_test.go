package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

func buildAddOneFunction() *ir.Function {
	xSym := ir.Symbol{Name: "x", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__AddOne", ir.Unsigned(ir.W32), []ir.Symbol{xSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	one := bd.ConstantU64(ir.Unsigned(ir.W32), 1)
	x := bd.ReadVariable(xSym)
	sum := bd.BinaryOp(ir.BinAdd, x, one)
	bd.Return(sum)
	return fn
}

func buildBranchingFunction() *ir.Function {
	xSym := ir.Symbol{Name: "x", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__SelectBigger", ir.Unsigned(ir.W32), []ir.Symbol{xSym})
	entry := fn.AddBlock()
	trueBlk := fn.AddBlock()
	falseBlk := fn.AddBlock()
	fn.Entry = entry

	bdEntry := ir.NewBuilder(fn.Block(entry))
	ten := bdEntry.ConstantU64(ir.Unsigned(ir.W32), 10)
	x := bdEntry.ReadVariable(xSym)
	cond := bdEntry.BinaryOp(ir.BinGt, x, ten)
	bdEntry.Branch(cond, trueBlk, falseBlk)

	bdTrue := ir.NewBuilder(fn.Block(trueBlk))
	big := bdTrue.ConstantU64(ir.Unsigned(ir.W32), 100)
	bdTrue.Return(big)

	bdFalse := ir.NewBuilder(fn.Block(falseBlk))
	small := bdFalse.ConstantU64(ir.Unsigned(ir.W32), 1)
	bdFalse.Return(small)

	return fn
}

func sampleModelWithRegister() *model.Model {
	return &model.Model{
		Name:      "test-isa",
		Functions: map[string]*ir.Function{},
		Registers: map[string]model.RegisterDescriptor{
			"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
			"X0":  {Name: "X0", Offset: 8, Typ: ir.Unsigned(ir.W64)},
		},
		RegisterFileSize: 4096,
	}
}

func TestCallEvaluatesArithmetic(t *testing.T) {
	m := sampleModelWithRegister()
	fn := buildAddOneFunction()
	m.Functions["__AddOne"] = fn

	regs := model.NewRegisterFile(m)
	it := New(m, regs)

	result, err := it.Call(fn, []Value{{Typ: ir.Unsigned(ir.W32), Lo: 41}})
	require.NoError(t, err)
	require.Equal(t, uint64(42), result.Lo)
}

func TestCallByNameDispatchesThroughModel(t *testing.T) {
	m := sampleModelWithRegister()
	fn := buildAddOneFunction()
	m.Functions["__AddOne"] = fn

	regs := model.NewRegisterFile(m)
	it := New(m, regs)

	result, err := it.CallByName("__AddOne", []Value{{Typ: ir.Unsigned(ir.W32), Lo: 4}})
	require.NoError(t, err)
	require.Equal(t, uint64(5), result.Lo)
}

func TestCallByNameUnknownFunctionErrors(t *testing.T) {
	m := sampleModelWithRegister()
	regs := model.NewRegisterFile(m)
	it := New(m, regs)

	_, err := it.CallByName("__DoesNotExist", nil)
	require.Error(t, err)
}

func TestBranchTakesTrueEdgeWhenConditionHolds(t *testing.T) {
	m := sampleModelWithRegister()
	fn := buildBranchingFunction()
	m.Functions["__SelectBigger"] = fn

	regs := model.NewRegisterFile(m)
	it := New(m, regs)

	result, err := it.Call(fn, []Value{{Typ: ir.Unsigned(ir.W32), Lo: 20}})
	require.NoError(t, err)
	require.Equal(t, uint64(100), result.Lo)
}

func TestBranchTakesFalseEdgeWhenConditionFails(t *testing.T) {
	m := sampleModelWithRegister()
	fn := buildBranchingFunction()
	m.Functions["__SelectBigger"] = fn

	regs := model.NewRegisterFile(m)
	it := New(m, regs)

	result, err := it.Call(fn, []Value{{Typ: ir.Unsigned(ir.W32), Lo: 2}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Lo)
}

func TestReadWriteRegisterRoundTrip(t *testing.T) {
	m := sampleModelWithRegister()
	fn := ir.NewFunction("__BumpX0", ir.Unsigned(ir.W64), nil)
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	cur := bd.ReadRegister(ir.Unsigned(ir.W64), m.RegOffset("X0"), "X0")
	one := bd.ConstantU64(ir.Unsigned(ir.W64), 1)
	next := bd.BinaryOp(ir.BinAdd, cur, one)
	bd.WriteRegister(m.RegOffset("X0"), "X0", next)
	bd.Return(next)
	m.Functions["__BumpX0"] = fn

	regs := model.NewRegisterFile(m)
	regs.Write64(m.RegOffset("X0"), 9)
	it := New(m, regs)

	result, err := it.Call(fn, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), result.Lo)
	require.Equal(t, uint64(10), regs.Read64(m.RegOffset("X0")))
}

func TestDivisionByZeroErrors(t *testing.T) {
	m := sampleModelWithRegister()
	fn := ir.NewFunction("__DivZero", ir.Unsigned(ir.W32), nil)
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	n := bd.ConstantU64(ir.Unsigned(ir.W32), 10)
	z := bd.ConstantU64(ir.Unsigned(ir.W32), 0)
	q := bd.BinaryOp(ir.BinDiv, n, z)
	bd.Return(q)

	regs := model.NewRegisterFile(m)
	it := New(m, regs)
	_, err := it.Call(fn, nil)
	require.Error(t, err)
}

func TestBitExtractAndInsert(t *testing.T) {
	require.Equal(t, uint64(0b101), bitExtract(0b1101, 0, 3))
	require.Equal(t, uint64(0b1101), bitExtract(0b1101, 0, 4))
	require.Equal(t, uint64(0b1011), bitInsert(0b1001, 0b1, 1, 1))
}
