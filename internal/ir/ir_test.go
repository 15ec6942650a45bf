package ir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeEqualityAndString(t *testing.T) {
	require.True(t, Unsigned(W32).Equal(Unsigned(W32)))
	require.False(t, Unsigned(W32).Equal(Signed(W32)))
	require.Equal(t, "u32", Unsigned(W32).String())
	require.True(t, Bool.IsBoolean())
}

func TestStructuralTypeHash(t *testing.T) {
	a := Struct(Field{Name: "n", Type: Unsigned(W8)}, Field{Name: "z", Type: Bool})
	b := Struct(Field{Name: "n", Type: Unsigned(W8)}, Field{Name: "z", Type: Bool})
	c := Struct(Field{Name: "n", Type: Unsigned(W8)}, Field{Name: "z", Type: Unsigned(W8)})
	require.Equal(t, a.structHash(), b.structHash())
	require.NotEqual(t, a.structHash(), c.structHash())
}

func TestBuilderBinaryOpRequiresIdenticalTypes(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	lhs := bd.ConstantU64(Unsigned(W32), 1)
	rhs := bd.ConstantU64(Unsigned(W64), 2)
	require.Panics(t, func() { bd.BinaryOp(BinAdd, lhs, rhs) })
}

func TestBuilderBinaryOpComparisonProducesBool(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	lhs := bd.ConstantU64(Unsigned(W32), 1)
	rhs := bd.ConstantU64(Unsigned(W32), 2)
	cmp := bd.BinaryOp(BinLt, lhs, rhs)
	require.True(t, blk.Get(cmp).Typ.IsBoolean())
}

func TestBlockTerminatorInvariant(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	v := bd.ConstantU64(Unsigned(W32), 0)
	bd.Return(v)
	require.True(t, blk.Terminator().IsTerminator())
}

func TestBranchRequiresBooleanCondition(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	cond := bd.ConstantU64(Unsigned(W32), 1) // not u1
	require.Panics(t, func() { bd.Branch(cond, BlockRef{}, BlockRef{}) })
}

func TestNextBlocksDerivedFromTerminator(t *testing.T) {
	f := NewFunction("f", Unsigned(W32), nil)
	entry := f.AddBlock()
	t1 := f.AddBlock()
	t2 := f.AddBlock()

	eb := f.Block(entry)
	bd := NewBuilder(eb)
	cond := bd.ConstantU64(Bool, 1)
	bd.Branch(cond, t1, t2)

	next := eb.NextBlocks()
	require.Equal(t, []BlockRef{t1, t2}, next)
}

func TestSelectRequiresMatchingBranchTypes(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	cond := bd.ConstantU64(Bool, 1)
	a := bd.ConstantU64(Unsigned(W32), 1)
	b := bd.ConstantU64(Unsigned(W64), 2)
	require.Panics(t, func() { bd.Select(cond, a, b) })
}

func TestWriteDOTProducesValidGraph(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	c := bd.ConstantU64(Unsigned(W32), 42)
	bd.Return(c)

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, "blk0", blk))
	out := buf.String()
	require.Contains(t, out, "digraph")
	require.Contains(t, out, "return")
	require.Contains(t, out, "constant")
}

func TestTupleAccessTypedFromFields(t *testing.T) {
	blk := NewBlock()
	bd := NewBuilder(blk)
	a := bd.ConstantU64(Unsigned(W8), 1)
	b := bd.ConstantU64(Bool, 1)
	tup := bd.CreateTuple([]Ref{a, b})
	field1 := bd.TupleAccess(tup, 1)
	require.True(t, blk.Get(field1).Typ.IsBoolean())
}
