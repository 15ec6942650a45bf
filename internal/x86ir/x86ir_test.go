package x86ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservedRegisters(t *testing.T) {
	require.True(t, IsReserved(RSP))
	require.True(t, IsReserved(RBP))
	require.True(t, IsReserved(R15))
	require.False(t, IsReserved(RAX))
	require.False(t, IsReserved(R14), "R14 is deliberately not reserved in this design")
}

func TestOperandVRegsMemoryBaseAndIndex(t *testing.T) {
	op := Operand{
		Kind: OperandMemory,
		Mem: Memory{
			BaseIsVirtual: true, BaseVirt: 3,
			HasIndex: true, IndexIsVirtual: true, IndexVirt: 7, Scale: 4,
			Displacement: 16,
		},
	}
	require.True(t, op.IsVirtual())
	require.ElementsMatch(t, []VReg{3, 7}, op.VRegs())
}

func TestOperandReplaceVRegRewritesPlainRegister(t *testing.T) {
	op := VirtualReg(64, 5)
	replaced := op.ReplaceVReg(5, RAX)
	require.Equal(t, OperandPhysical, replaced.Kind)
	require.Equal(t, RAX, replaced.Phys)
}

func TestOperandReplaceVRegRewritesMemoryBase(t *testing.T) {
	op := MemBaseDisplVirtual(64, 9, 32)
	replaced := op.ReplaceVReg(9, RBP)
	require.False(t, replaced.Mem.BaseIsVirtual)
	require.Equal(t, RBP, replaced.Mem.BasePhys)
	require.Equal(t, int32(32), replaced.Mem.Displacement)
}

func TestInstrDefsAndUses(t *testing.T) {
	dst := VirtualReg(64, 1)
	src := Imm(64, 42)
	mov := Mov(dst, src)
	require.Equal(t, []Operand{dst}, mov.Defs())
	require.Equal(t, []Operand{src}, mov.Uses())

	add := Add(dst, src)
	require.Equal(t, []Operand{dst}, add.Defs())
	require.Equal(t, []Operand{dst, src}, add.Uses())

	cmp := Cmp(dst, src)
	require.Nil(t, cmp.Defs())
	require.Equal(t, []Operand{dst, src}, cmp.Uses())
}

func TestInstrIsIdentityMove(t *testing.T) {
	identity := Mov(PhysicalReg(64, RAX), PhysicalReg(64, RAX))
	require.True(t, identity.IsIdentityMove())

	notIdentity := Mov(PhysicalReg(64, RAX), PhysicalReg(64, RBX))
	require.False(t, notIdentity.IsIdentityMove())

	notMove := Add(PhysicalReg(64, RAX), PhysicalReg(64, RAX))
	require.False(t, notMove.IsIdentityMove())
}

func TestProgramAddBlockAssignsSequentialIDs(t *testing.T) {
	p := NewProgram()
	b0 := p.AddBlock()
	b1 := p.AddBlock()
	require.Equal(t, BlockID(0), b0.ID)
	require.Equal(t, BlockID(1), b1.ID)
	require.Same(t, b1, p.Block(BlockID(1)))
}

func TestBlockTerminator(t *testing.T) {
	b := newBlock(0)
	b.Append(Mov(PhysicalReg(64, RAX), Imm(64, 1)))
	b.Append(Jmp(BlockID(3)))
	term := b.Terminator()
	require.Equal(t, JMP, term.Op)
	require.Equal(t, BlockID(3), term.Dst.Block)
}
