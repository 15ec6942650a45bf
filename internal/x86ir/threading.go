package x86ir

// ThreadJumps implements spec.md §4.6's pre-assembly pass: any block
// whose only instruction is an unconditional `JMP G` is spliced out by
// rewriting every JMP/JCC that targets it to target G directly, then
// repeating to a fixed point (so chains of trivial blocks collapse in
// one call). It never deletes a Block from Program.Blocks; a
// no-longer-referenced block is simply never visited by the
// assembler's reachability-driven DFS, which has the same effect as
// "dropped from the emission order" without invalidating any other
// block's BlockID.
func ThreadJumps(prog *Program) {
	for {
		trivial := map[BlockID]BlockID{}
		for _, b := range prog.Blocks {
			if len(b.Instrs) == 1 && b.Instrs[0].Op == JMP {
				target := b.Instrs[0].Dst.Block
				if target != b.ID {
					trivial[b.ID] = target
				}
			}
		}
		if len(trivial) == 0 {
			return
		}

		changed := false
		for _, b := range prog.Blocks {
			for i := range b.Instrs {
				instr := &b.Instrs[i]
				if (instr.Op == JMP || instr.Op == JCC) && instr.Dst.Kind == OperandTarget {
					if newTarget, ok := trivial[instr.Dst.Block]; ok {
						instr.Dst.Block = newTarget
						changed = true
					}
				}
			}
			for i, succ := range b.Succs {
				if newTarget, ok := trivial[succ]; ok {
					b.Succs[i] = newTarget
					changed = true
				}
			}
		}
		if newTarget, ok := trivial[prog.Entry]; ok {
			prog.Entry = newTarget
			changed = true
		}
		if !changed {
			return
		}
	}
}
