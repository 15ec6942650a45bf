package harness

import (
	"fmt"
	"io"
	"os"

	"github.com/corvid-dbt/corvid/internal/cache"
	"github.com/corvid-dbt/corvid/internal/emitter"
	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/lower"
	"github.com/corvid-dbt/corvid/internal/model"
	"github.com/corvid-dbt/corvid/internal/regalloc"
	"github.com/corvid-dbt/corvid/internal/translation"
	x86 "github.com/corvid-dbt/corvid/internal/x86ir"
	"github.com/corvid-dbt/corvid/internal/x86asm"
)

// defaultAllocator is the internal/regalloc strategy translateInstruction
// uses for every Core; spec.md §4.4 names Backward as the default.
var defaultAllocator regalloc.Allocator = regalloc.Backward{}

// Debug enables spec.md §7's "debug build emits the offending IR as a
// DOT graph before aborting" behaviour for core invariant violations
// (an unreachable operand combination, an arena handle mismatch, a
// malformed model) surfacing as a panic partway through translation.
// Off by default; cmd/dbtrun's -debug flag turns it on.
var Debug = false

// translateInstruction runs the full emitter→lowering→allocator→
// assembler pipeline spec.md §4.7 step 3 describes for a single guest
// opcode and returns the mapped, executable TranslatedBlock.
//
// Mirrors models.rs's `translate_block`: one guest instruction decoded
// and symbolically walked per call (this pipeline's chain-dispatch
// Leave, emitted by internal/lower's emitLeave, is what turns a
// sequence of these per-instruction translations into a "block" at
// execution time, rather than the emitter itself looping over
// multiple opcodes).
func translateInstruction(m *model.Model, opcode uint32, helpers map[string]uintptr) (_ *cache.TranslatedBlock, err error) {
	fn := ir.NewFunction("__translation", ir.Unsigned(ir.W32), nil)

	if Debug {
		defer func() {
			if r := recover(); r != nil {
				dumpFunctionDOT(os.Stderr, fn)
				panic(r)
			}
		}()
	}

	result, err := emitter.EmitInstruction(m, fn, opcode)
	if err != nil {
		return nil, fmt.Errorf("harness: emitting opcode %#08x: %w", opcode, err)
	}

	lowerer := lower.New(m, fn, result.NeedsPCAdvance)
	prog, err := lowerer.Lower(result.Entry)
	if err != nil {
		return nil, fmt.Errorf("harness: lowering opcode %#08x: %w", opcode, err)
	}

	numVRegs := lowerer.NumVRegs()
	for _, b := range prog.Blocks {
		if err := defaultAllocator.Allocate(b.Instrs, numVRegs); err != nil {
			return nil, fmt.Errorf("harness: allocating registers for opcode %#08x: %w", opcode, err)
		}
	}

	x86.ThreadJumps(prog)

	code, err := x86asm.Assemble(prog, helpers)
	if err != nil {
		return nil, fmt.Errorf("harness: assembling opcode %#08x: %w", opcode, err)
	}

	tr, err := translation.New(code)
	if err != nil {
		return nil, fmt.Errorf("harness: mapping translation for opcode %#08x: %w", opcode, err)
	}

	return &cache.TranslatedBlock{Translation: tr, Opcodes: []uint32{opcode}}, nil
}

// dumpFunctionDOT writes fn's entry block to w as a Graphviz dot
// graph, best-effort, before the recovered panic is re-raised.
func dumpFunctionDOT(w io.Writer, fn *ir.Function) {
	if !fn.Entry.Valid() {
		return
	}
	fmt.Fprintf(w, "harness: dumping IR for %q before panic:\n", fn.Name)
	if err := ir.WriteDOT(w, fn.Name, fn.Block(fn.Entry)); err != nil {
		fmt.Fprintf(w, "harness: writing DOT graph: %v\n", err)
	}
}
