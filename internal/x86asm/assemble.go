// Package x86asm is C9: it turns a register-allocated
// internal/x86ir.Program into executable x86-64 machine code, using
// github.com/twitchyliquid64/golang-asm the same way the old wazero
// JIT engine's amd64 backend did (obj.Prog nodes appended to an
// asm.Builder, obj.ANOP markers standing in for labels, To.SetTarget
// resolving jumps).
package x86asm

import (
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	objx86 "github.com/twitchyliquid64/golang-asm/obj/x86"

	x86 "github.com/corvid-dbt/corvid/internal/x86ir"
)

// scratchCallReg carries a helper's address immediately before an
// indirect CALL. internal/x86ir.Instr doesn't model CALL's operands at
// all (spec.md's CALL is a bare "invoke this host helper" marker), so
// regalloc never reserves anything for it; R11 is free for this use
// because it is never a target of internal/lower's register
// allocation (regalloc only ever allocates registers requested through
// Defs()/Uses(), and CALL reports none) and it is caller-saved, so
// nothing the translation still needs survives across the call anyway.
const scratchCallReg = x86.R11

// Assemble encodes prog into machine code. helpers maps every
// CallTarget internal/lower emits (e.g. "__chain_dispatch",
// "__guest_mem_read") to the host function pointer internal/harness
// installs at translation time.
//
// prog must already have had internal/x86ir.ThreadJumps applied and
// every operand allocated to a physical register (internal/regalloc);
// Assemble does not re-run either pass.
func Assemble(prog *x86.Program, helpers map[string]uintptr) ([]byte, error) {
	order := visitOrder(prog)

	b, err := asm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("x86asm: new builder: %w", err)
	}

	// Pre-create every block's label before encoding any instruction
	// body, per spec.md §4.5 ("for each block a label is pre-created").
	// Because the full block set is already known (unlike a streaming
	// bytecode decoder, which is why the teacher's engine needed a
	// deferred onLabelStartCallbacks map for forward branches), every
	// jump target already has a resolvable *obj.Prog by the time its
	// referencing block is encoded, so no callback bookkeeping is
	// needed here.
	labels := make(map[x86.BlockID]*obj.Prog, len(order))
	for _, id := range order {
		label := b.NewProg()
		label.As = obj.ANOP
		labels[id] = label
	}

	for i, id := range order {
		b.AddInstruction(labels[id])
		var next x86.BlockID = x86.NoBlock
		if i+1 < len(order) {
			next = order[i+1]
		}
		if err := emitBlock(b, prog.Block(id), labels, helpers, next); err != nil {
			return nil, fmt.Errorf("x86asm: block %d: %w", id, err)
		}
	}

	return b.Assemble()
}

// visitOrder walks the CFG in spec.md §4.5's deterministic order:
// initial_block first, then panic_block, then a DFS of every block
// still reachable from either.
func visitOrder(prog *x86.Program) []x86.BlockID {
	var order []x86.BlockID
	visited := make(map[x86.BlockID]bool, len(prog.Blocks))

	var visit func(id x86.BlockID)
	visit = func(id x86.BlockID) {
		if id == x86.NoBlock || visited[id] {
			return
		}
		visited[id] = true
		order = append(order, id)
		for _, succ := range prog.Block(id).Succs {
			visit(succ)
		}
	}

	roots := []x86.BlockID{prog.Entry, prog.PanicBlock}
	for _, id := range roots {
		if id != x86.NoBlock && !visited[id] {
			visited[id] = true
			order = append(order, id)
		}
	}
	for _, id := range roots {
		if id != x86.NoBlock {
			for _, succ := range prog.Block(id).Succs {
				visit(succ)
			}
		}
	}
	return order
}

// emitBlock encodes every instruction in blk except a trailing
// unconditional JMP whose target is the very next block in emission
// order (spec.md §4.5's fall-through elision).
func emitBlock(b *asm.Builder, blk *x86.Block, labels map[x86.BlockID]*obj.Prog, helpers map[string]uintptr, next x86.BlockID) error {
	for i, instr := range blk.Instrs {
		last := i == len(blk.Instrs)-1
		if last && instr.Op == x86.JMP && instr.Dst.Kind == x86.OperandTarget && instr.Dst.Block == next {
			continue
		}
		if err := emitInstr(b, instr, labels, helpers); err != nil {
			return err
		}
	}
	return nil
}

func emitInstr(b *asm.Builder, instr x86.Instr, labels map[x86.BlockID]*obj.Prog, helpers map[string]uintptr) error {
	switch instr.Op {
	case x86.MOV:
		return emitTwoOperand(b, movOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.LEA:
		return emitTwoOperand(b, leaOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.ADD:
		return emitTwoOperand(b, addOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.SUB:
		return emitTwoOperand(b, subOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.IMUL:
		return emitTwoOperand(b, imulOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.AND:
		return emitTwoOperand(b, andOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.OR:
		return emitTwoOperand(b, orOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.XOR:
		return emitTwoOperand(b, xorOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.SHL:
		return emitTwoOperand(b, shlOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.SHR:
		return emitTwoOperand(b, shrOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.SAR:
		return emitTwoOperand(b, sarOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.ROL:
		return emitTwoOperand(b, rolOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.ROR:
		return emitTwoOperand(b, rorOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.CMP:
		return emitTwoOperand(b, cmpOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.TEST:
		return emitTwoOperand(b, testOp(instr.Dst.Width), instr.Dst, instr.Src)
	case x86.NOT:
		return emitOneOperand(b, notOp(instr.Dst.Width), instr.Dst)
	case x86.NEG:
		return emitOneOperand(b, negOp(instr.Dst.Width), instr.Dst)
	case x86.IDIV:
		return emitOneOperand(b, idivOp(instr.Src.Width), instr.Src)
	case x86.SETCC:
		addr, err := operandAddr(instr.Dst)
		if err != nil {
			return err
		}
		prog := b.NewProg()
		prog.As = setccOp(instr.Cond)
		prog.To = addr
		b.AddInstruction(prog)
		return nil
	case x86.JMP:
		prog := b.NewProg()
		prog.As = obj.AJMP
		prog.To.Type = obj.TYPE_BRANCH
		target, err := jumpTarget(instr.Dst, labels)
		if err != nil {
			return err
		}
		prog.To.SetTarget(target)
		b.AddInstruction(prog)
		return nil
	case x86.JCC:
		prog := b.NewProg()
		prog.As = jccOp(instr.Cond)
		prog.To.Type = obj.TYPE_BRANCH
		target, err := jumpTarget(instr.Dst, labels)
		if err != nil {
			return err
		}
		prog.To.SetTarget(target)
		b.AddInstruction(prog)
		return nil
	case x86.CALL:
		addr, ok := helpers[instr.CallTarget]
		if !ok {
			return fmt.Errorf("x86asm: no helper registered for %q", instr.CallTarget)
		}
		load := b.NewProg()
		load.As = objx86.AMOVQ
		load.From.Type = obj.TYPE_CONST
		load.From.Offset = int64(addr)
		load.To.Type = obj.TYPE_REG
		load.To.Reg = physToObj(scratchCallReg)
		b.AddInstruction(load)

		call := b.NewProg()
		call.As = obj.ACALL
		call.To.Type = obj.TYPE_REG
		call.To.Reg = physToObj(scratchCallReg)
		b.AddInstruction(call)
		return nil
	case x86.RET:
		prog := b.NewProg()
		prog.As = obj.ARET
		b.AddInstruction(prog)
		return nil
	case x86.INT3:
		prog := b.NewProg()
		prog.As = objx86.AINT
		prog.From.Type = obj.TYPE_CONST
		prog.From.Offset = 3
		b.AddInstruction(prog)
		return nil
	case x86.NOP:
		prog := b.NewProg()
		prog.As = obj.ANOP
		b.AddInstruction(prog)
		return nil
	default:
		return fmt.Errorf("x86asm: unsupported mnemonic %d", instr.Op)
	}
}

func jumpTarget(dst x86.Operand, labels map[x86.BlockID]*obj.Prog) (*obj.Prog, error) {
	if dst.Kind != x86.OperandTarget {
		return nil, fmt.Errorf("x86asm: jump instruction missing a block target")
	}
	target, ok := labels[dst.Block]
	if !ok {
		return nil, fmt.Errorf("x86asm: jump targets unknown block %d", dst.Block)
	}
	return target, nil
}

func emitTwoOperand(b *asm.Builder, op obj.As, dst, src x86.Operand) error {
	dstAddr, err := operandAddr(dst)
	if err != nil {
		return err
	}
	srcAddr, err := operandAddr(src)
	if err != nil {
		return err
	}
	prog := b.NewProg()
	prog.As = op
	prog.From = srcAddr
	prog.To = dstAddr
	b.AddInstruction(prog)
	return nil
}

func emitOneOperand(b *asm.Builder, op obj.As, operand x86.Operand) error {
	addr, err := operandAddr(operand)
	if err != nil {
		return err
	}
	prog := b.NewProg()
	prog.As = op
	prog.From = addr
	b.AddInstruction(prog)
	return nil
}

func operandAddr(o x86.Operand) (obj.Addr, error) {
	switch o.Kind {
	case x86.OperandImmediate:
		return obj.Addr{Type: obj.TYPE_CONST, Offset: int64(o.Imm)}, nil
	case x86.OperandPhysical:
		return obj.Addr{Type: obj.TYPE_REG, Reg: physToObj(o.Phys)}, nil
	case x86.OperandMemory:
		if o.Mem.BaseIsVirtual {
			return obj.Addr{}, fmt.Errorf("x86asm: memory operand base was never allocated a physical register")
		}
		addr := obj.Addr{Type: obj.TYPE_MEM, Reg: physToObj(o.Mem.BasePhys), Offset: int64(o.Mem.Displacement)}
		if o.Mem.HasIndex {
			if o.Mem.IndexIsVirtual {
				return obj.Addr{}, fmt.Errorf("x86asm: memory operand index was never allocated a physical register")
			}
			addr.Index = physToObj(o.Mem.IndexPhys)
			addr.Scale = int16(o.Mem.Scale)
		}
		return addr, nil
	case x86.OperandVirtual:
		return obj.Addr{}, fmt.Errorf("x86asm: operand %s reached the assembler unallocated", o)
	default:
		return obj.Addr{}, fmt.Errorf("x86asm: unsupported operand kind %d", o.Kind)
	}
}

func physToObj(r x86.PhysReg) int16 {
	switch r {
	case x86.RAX:
		return objx86.REG_AX
	case x86.RCX:
		return objx86.REG_CX
	case x86.RDX:
		return objx86.REG_DX
	case x86.RBX:
		return objx86.REG_BX
	case x86.RSP:
		return objx86.REG_SP
	case x86.RBP:
		return objx86.REG_BP
	case x86.RSI:
		return objx86.REG_SI
	case x86.RDI:
		return objx86.REG_DI
	case x86.R8:
		return objx86.REG_R8
	case x86.R9:
		return objx86.REG_R9
	case x86.R10:
		return objx86.REG_R10
	case x86.R11:
		return objx86.REG_R11
	case x86.R12:
		return objx86.REG_R12
	case x86.R13:
		return objx86.REG_R13
	case x86.R14:
		return objx86.REG_R14
	case x86.R15:
		return objx86.REG_R15
	default:
		panic(fmt.Sprintf("x86asm: unknown physical register %d", r))
	}
}

// widthed picks the Q/L/W/B-suffixed opcode matching width (64/32/16/8
// bits), defaulting to the 32-bit form for anything else — every
// mnemonic internal/lower emits carries one of these four widths.
func widthed(b, w, l, q obj.As, width uint8) obj.As {
	switch width {
	case 8:
		return b
	case 16:
		return w
	case 64:
		return q
	default:
		return l
	}
}

func movOp(w uint8) obj.As  { return widthed(objx86.AMOVB, objx86.AMOVW, objx86.AMOVL, objx86.AMOVQ, w) }
func leaOp(w uint8) obj.As  { return widthed(objx86.ALEAL, objx86.ALEAL, objx86.ALEAL, objx86.ALEAQ, w) }
func addOp(w uint8) obj.As  { return widthed(objx86.AADDB, objx86.AADDW, objx86.AADDL, objx86.AADDQ, w) }
func subOp(w uint8) obj.As  { return widthed(objx86.ASUBB, objx86.ASUBW, objx86.ASUBL, objx86.ASUBQ, w) }
func imulOp(w uint8) obj.As { return widthed(objx86.AIMULL, objx86.AIMULW, objx86.AIMULL, objx86.AIMULQ, w) }
func idivOp(w uint8) obj.As { return widthed(objx86.AIDIVL, objx86.AIDIVW, objx86.AIDIVL, objx86.AIDIVQ, w) }
func andOp(w uint8) obj.As  { return widthed(objx86.AANDB, objx86.AANDW, objx86.AANDL, objx86.AANDQ, w) }
func orOp(w uint8) obj.As   { return widthed(objx86.AORB, objx86.AORW, objx86.AORL, objx86.AORQ, w) }
func xorOp(w uint8) obj.As  { return widthed(objx86.AXORB, objx86.AXORW, objx86.AXORL, objx86.AXORQ, w) }
func notOp(w uint8) obj.As  { return widthed(objx86.ANOTB, objx86.ANOTW, objx86.ANOTL, objx86.ANOTQ, w) }
func negOp(w uint8) obj.As  { return widthed(objx86.ANEGB, objx86.ANEGW, objx86.ANEGL, objx86.ANEGQ, w) }
func shlOp(w uint8) obj.As  { return widthed(objx86.ASHLB, objx86.ASHLW, objx86.ASHLL, objx86.ASHLQ, w) }
func shrOp(w uint8) obj.As  { return widthed(objx86.ASHRB, objx86.ASHRW, objx86.ASHRL, objx86.ASHRQ, w) }
func sarOp(w uint8) obj.As  { return widthed(objx86.ASARB, objx86.ASARW, objx86.ASARL, objx86.ASARQ, w) }
func rolOp(w uint8) obj.As  { return widthed(objx86.AROLB, objx86.AROLW, objx86.AROLL, objx86.AROLQ, w) }
func rorOp(w uint8) obj.As  { return widthed(objx86.ARORB, objx86.ARORW, objx86.ARORL, objx86.ARORQ, w) }
func cmpOp(w uint8) obj.As  { return widthed(objx86.ACMPB, objx86.ACMPW, objx86.ACMPL, objx86.ACMPQ, w) }
func testOp(w uint8) obj.As { return widthed(objx86.ATESTB, objx86.ATESTW, objx86.ATESTL, objx86.ATESTQ, w) }

func setccOp(c x86.Cond) obj.As {
	switch c {
	case x86.CondE:
		return objx86.ASETEQ
	case x86.CondNE:
		return objx86.ASETNE
	case x86.CondL:
		return objx86.ASETLT
	case x86.CondLE:
		return objx86.ASETLE
	case x86.CondG:
		return objx86.ASETGT
	case x86.CondGE:
		return objx86.ASETGE
	case x86.CondB:
		return objx86.ASETCS
	case x86.CondBE:
		return objx86.ASETLS
	case x86.CondA:
		return objx86.ASETHI
	case x86.CondAE:
		return objx86.ASETCC
	default:
		panic(fmt.Sprintf("x86asm: unknown condition %d", c))
	}
}

func jccOp(c x86.Cond) obj.As {
	switch c {
	case x86.CondE:
		return objx86.AJEQ
	case x86.CondNE:
		return objx86.AJNE
	case x86.CondL:
		return objx86.AJLT
	case x86.CondLE:
		return objx86.AJLE
	case x86.CondG:
		return objx86.AJGT
	case x86.CondGE:
		return objx86.AJGE
	case x86.CondB:
		return objx86.AJCS
	case x86.CondBE:
		return objx86.AJLS
	case x86.CondA:
		return objx86.AJHI
	case x86.CondAE:
		return objx86.AJCC
	default:
		panic(fmt.Sprintf("x86asm: unknown condition %d", c))
	}
}
