package emitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

func buildDoubleFunction() *ir.Function {
	xSym := ir.Symbol{Name: "x", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__Double", ir.Unsigned(ir.W32), []ir.Symbol{xSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	x := bd.ReadVariable(xSym)
	two := bd.ConstantU64(ir.Unsigned(ir.W32), 2)
	bd.Return(bd.BinaryOp(ir.BinMul, x, two))
	return fn
}

func buildDecodeCallsDouble() *ir.Function {
	opSym := ir.Symbol{Name: "opcode", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__DecodeA64", ir.Unsigned(ir.W32), []ir.Symbol{opSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))

	five := bd.ConstantU64(ir.Unsigned(ir.W32), 5)
	doubled := bd.Call("__Double", []ir.Ref{five}, ir.Unsigned(ir.W32), false)
	curPC := bd.ReadRegister(ir.Unsigned(ir.W64), 0, "_PC")
	four := bd.ConstantU64(ir.Unsigned(ir.W64), 4)
	newPC := bd.BinaryOp(ir.BinAdd, curPC, four)
	bd.WriteRegister(0, "_PC", newPC)
	bd.Return(doubled)
	return fn
}

func modelWithDoubleDecode() *model.Model {
	return &model.Model{
		Name: "test",
		Functions: map[string]*ir.Function{
			"__DecodeA64": buildDecodeCallsDouble(),
			"__Double":    buildDoubleFunction(),
		},
		Registers: map[string]model.RegisterDescriptor{
			"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
		},
		RegisterFileSize: 64,
	}
}

func TestEmitInstructionInlinesCallAndTracksPCWrite(t *testing.T) {
	m := modelWithDoubleDecode()
	out := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	res, err := EmitInstruction(m, out, 0x1234)
	require.NoError(t, err)
	require.True(t, res.Entry.Valid())
	require.False(t, res.NeedsPCAdvance, "PC was written by the decode function, no synthesis needed")

	entryBlk := out.Block(res.Entry)

	var enterInfo ir.InlineInfo
	foundEnter := false
	for _, r := range entryBlk.Order {
		s := entryBlk.Get(r)
		if s.Op == ir.OpEnterInlineCall {
			enterInfo = s.Inline
			foundEnter = true
		}
	}
	require.True(t, foundEnter, "expected an EnterInlineCall marker in the entry block")
	require.True(t, enterInfo.Entry.Valid())

	last := entryBlk.Terminator()
	require.Equal(t, ir.OpJump, last.Op)
	require.Equal(t, enterInfo.Entry, last.Targets[0])

	calleeEntryBlk := out.Block(enterInfo.Entry)
	calleeTerm := calleeEntryBlk.Terminator()
	require.Equal(t, ir.OpExitInlineCall, calleeTerm.Op)
	require.True(t, calleeTerm.Inline.Post.Valid())

	postBlk := out.Block(calleeTerm.Inline.Post)
	postTerm := postBlk.Terminator()
	require.Equal(t, ir.OpReturn, postTerm.Op)

	foundPCWrite := false
	for _, r := range postBlk.Order {
		s := postBlk.Get(r)
		if s.Op == ir.OpWriteRegister && s.Imm == 0 {
			foundPCWrite = true
		}
	}
	require.True(t, foundPCWrite, "expected the PC write to land in the post-call block")
}

func buildLeafAddOne() *ir.Function {
	xSym := ir.Symbol{Name: "x", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__LeafAddOne", ir.Unsigned(ir.W32), []ir.Symbol{xSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	x := bd.ReadVariable(xSym)
	one := bd.ConstantU64(ir.Unsigned(ir.W32), 1)
	bd.Return(bd.BinaryOp(ir.BinAdd, x, one))
	return fn
}

func buildMiddleDoublesLeaf() *ir.Function {
	xSym := ir.Symbol{Name: "x", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__MiddleDouble", ir.Unsigned(ir.W32), []ir.Symbol{xSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	x := bd.ReadVariable(xSym)
	added := bd.Call("__LeafAddOne", []ir.Ref{x}, ir.Unsigned(ir.W32), false)
	two := bd.ConstantU64(ir.Unsigned(ir.W32), 2)
	bd.Return(bd.BinaryOp(ir.BinMul, added, two))
	return fn
}

func buildDecodeCallsMiddle() *ir.Function {
	opSym := ir.Symbol{Name: "opcode", Typ: ir.Unsigned(ir.W32)}
	fn := ir.NewFunction("__DecodeA64", ir.Unsigned(ir.W32), []ir.Symbol{opSym})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))

	five := bd.ConstantU64(ir.Unsigned(ir.W32), 5)
	result := bd.Call("__MiddleDouble", []ir.Ref{five}, ir.Unsigned(ir.W32), false)
	curPC := bd.ReadRegister(ir.Unsigned(ir.W64), 0, "_PC")
	four := bd.ConstantU64(ir.Unsigned(ir.W64), 4)
	newPC := bd.BinaryOp(ir.BinAdd, curPC, four)
	bd.WriteRegister(0, "_PC", newPC)
	bd.Return(result)
	return fn
}

func modelWithNestedCalls() *model.Model {
	return &model.Model{
		Name: "test",
		Functions: map[string]*ir.Function{
			"__DecodeA64":    buildDecodeCallsMiddle(),
			"__MiddleDouble": buildMiddleDoublesLeaf(),
			"__LeafAddOne":   buildLeafAddOne(),
		},
		Registers: map[string]model.RegisterDescriptor{
			"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
		},
		RegisterFileSize: 64,
	}
}

// TestEmitInstructionInlinesNestedCalls exercises a call chain two
// levels deep (Decode -> Middle -> Leaf), the scenario the §4.2 step
// (vi) exit-rewrite decision in DESIGN.md is about: Middle's own
// ExitInlineCall (from inlining Leaf) must be rewritten to continue
// into Middle's post-call block, distinct from the outer rewrite that
// points Middle's exit at Decode's post-call block.
func TestEmitInstructionInlinesNestedCalls(t *testing.T) {
	m := modelWithNestedCalls()
	out := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	res, err := EmitInstruction(m, out, 0x1234)
	require.NoError(t, err)
	require.True(t, res.Entry.Valid())

	entryBlk := out.Block(res.Entry)
	var outerEnter ir.InlineInfo
	foundOuterEnter := false
	for _, r := range entryBlk.Order {
		s := entryBlk.Get(r)
		if s.Op == ir.OpEnterInlineCall {
			outerEnter = s.Inline
			foundOuterEnter = true
		}
	}
	require.True(t, foundOuterEnter, "expected Decode's call to Middle to be inlined")

	middleEntryBlk := out.Block(outerEnter.Entry)
	var innerEnter ir.InlineInfo
	foundInnerEnter := false
	for _, r := range middleEntryBlk.Order {
		s := middleEntryBlk.Get(r)
		if s.Op == ir.OpEnterInlineCall {
			innerEnter = s.Inline
			foundInnerEnter = true
		}
	}
	require.True(t, foundInnerEnter, "expected Middle's call to Leaf to be inlined too")

	leafExitBlk := out.Block(innerEnter.Exit)
	leafExitTerm := leafExitBlk.Terminator()
	require.Equal(t, ir.OpExitInlineCall, leafExitTerm.Op)
	require.Equal(t, innerEnter.Post, leafExitTerm.Inline.Post,
		"Leaf's exit must be rewritten to Middle's own post-call block, not Decode's")
	require.NotEqual(t, outerEnter.Post, leafExitTerm.Inline.Post,
		"Leaf's post-call block is a distinct scope from Decode's outer post-call block")

	middleExitBlk := out.Block(outerEnter.Exit)
	middleExitTerm := middleExitBlk.Terminator()
	require.Equal(t, ir.OpExitInlineCall, middleExitTerm.Op)
	require.Equal(t, outerEnter.Post, middleExitTerm.Inline.Post,
		"Middle's exit must be rewritten to Decode's post-call block")
}

func buildDecodeWithFoldableBranch(offsetA uint64) *ir.Function {
	fn := ir.NewFunction("__DecodeA64", ir.Unsigned(ir.W32), []ir.Symbol{{Name: "opcode", Typ: ir.Unsigned(ir.W32)}})
	entry := fn.AddBlock()
	trueBlk := fn.AddBlock()
	falseBlk := fn.AddBlock()
	fn.Entry = entry

	bd := ir.NewBuilder(fn.Block(entry))
	a := bd.ConstantU64(ir.Unsigned(ir.W32), 5)
	b := bd.ConstantU64(ir.Unsigned(ir.W32), 5)
	cond := bd.BinaryOp(ir.BinEq, a, b)
	bd.Branch(cond, trueBlk, falseBlk)

	tbd := ir.NewBuilder(fn.Block(trueBlk))
	one := tbd.ConstantU64(ir.Unsigned(ir.W32), 1)
	tbd.WriteRegister(offsetA, "A", one)
	tbd.Return(ir.Ref{})

	fbd := ir.NewBuilder(fn.Block(falseBlk))
	twoV := fbd.ConstantU64(ir.Unsigned(ir.W32), 2)
	fbd.WriteRegister(offsetA, "A", twoV)
	fbd.Return(ir.Ref{})

	return fn
}

func TestEmitInstructionFoldsConstantBranch(t *testing.T) {
	const offsetA = 8
	m := &model.Model{
		Name:      "test",
		Functions: map[string]*ir.Function{"__DecodeA64": buildDecodeWithFoldableBranch(offsetA)},
		Registers: map[string]model.RegisterDescriptor{
			"_PC": {Name: "_PC", Offset: 0, Typ: ir.Unsigned(ir.W64)},
			"A":   {Name: "A", Offset: offsetA, Typ: ir.Unsigned(ir.W32)},
		},
		RegisterFileSize: 64,
	}
	out := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	res, err := EmitInstruction(m, out, 0)
	require.NoError(t, err)
	require.True(t, res.NeedsPCAdvance, "no PC write on either branch arm")

	entryBlk := out.Block(res.Entry)

	var writtenValue uint64
	foundWrite := false
	for _, r := range entryBlk.Order {
		s := entryBlk.Get(r)
		require.NotEqual(t, ir.OpBranch, s.Op, "the foldable branch must not survive emission")
		if s.Op == ir.OpWriteRegister && s.Imm == offsetA {
			writtenValue = entryBlk.Get(s.A).ConstLo
			foundWrite = true
		}
	}
	require.True(t, foundWrite)
	require.Equal(t, uint64(1), writtenValue, "the true arm must be the only one emitted")
}

func TestEmitInstructionMissingDecodeFunctionErrors(t *testing.T) {
	m := &model.Model{Name: "empty", Functions: map[string]*ir.Function{}, Registers: map[string]model.RegisterDescriptor{}}
	out := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	_, err := EmitInstruction(m, out, 0)
	require.Error(t, err)
}

func buildDecodeCallsMissingFunction() *ir.Function {
	fn := ir.NewFunction("__DecodeA64", ir.Unsigned(ir.W32), []ir.Symbol{{Name: "opcode", Typ: ir.Unsigned(ir.W32)}})
	entry := fn.AddBlock()
	fn.Entry = entry
	bd := ir.NewBuilder(fn.Block(entry))
	five := bd.ConstantU64(ir.Unsigned(ir.W32), 5)
	result := bd.Call("__DoesNotExist", []ir.Ref{five}, ir.Unsigned(ir.W32), false)
	bd.Return(result)
	return fn
}

func TestEmitInstructionUnknownCalleeErrors(t *testing.T) {
	m := &model.Model{
		Name:      "test",
		Functions: map[string]*ir.Function{"__DecodeA64": buildDecodeCallsMissingFunction()},
		Registers: map[string]model.RegisterDescriptor{},
	}
	out := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	_, err := EmitInstruction(m, out, 0)
	require.Error(t, err)
}
