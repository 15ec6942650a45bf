// Package emitter implements C5: construction of one translation's IR
// CFG for a single guest instruction by symbolically walking the
// model's decode function. Every Call reachable from the decoder is
// inlined, every constant-foldable Branch condition eliminates the
// untaken side, and every WriteVariable/ReadVariable pair that crosses
// an inlined call boundary is bridged through a mangled symbol table
// (spec.md §4.2).
//
// Grounded on frontend/frontend.go's per-function Compiler.Init/
// LowerToSSA reset-and-translate shape, generalised to the inlining
// protocol spec.md §4.2 describes, and on
// brig/kernel/src/dbt/x86/emitter.rs's per-node Emitter trait
// (constant/read_register/write_register/branch/jump/leave).
package emitter

import (
	"fmt"

	"github.com/corvid-dbt/corvid/internal/ir"
	"github.com/corvid-dbt/corvid/internal/model"
)

// DecodeFunctionName is the model convention spec.md §4.2 names: "by
// convention named __DecodeA64 for AArch64".
const DecodeFunctionName = "__DecodeA64"

// funcCache records one model function's translated entry/exit blocks,
// canonical mangled prefix and return symbol, keyed by function name,
// so that re-inlining the same callee at a second call site reuses the
// existing translated body and only rewires the exit's Post target
// (spec.md §4.2: "the first time a model function is inlined, its
// translated entry block and exit block are recorded... subsequent
// calls reuse those block handles").
type funcCache struct {
	entry, exit ir.BlockRef
	prefix      string
	returnSym   string
	hasReturn   bool
}

// Emitter owns the translation-in-progress output function and the
// per-function translation cache for one EmitInstruction call.
type Emitter struct {
	Model *model.Model
	out   *ir.Function

	cache      map[string]funcCache
	nextMangle uint64

	// pcWritten is set the first time a WriteRegister targets the PC
	// offset, implementing the termination-condition flag spec.md §4.2
	// describes on "the x86 translation context" in PC bookkeeping
	// terms (here tracked directly on the IR emitter since the
	// x86-specific flag doesn't exist until lowering).
	pcWritten bool
}

// frame is one inlining scope: a source function plus the mangled
// symbol-name prefix distinguishing its locals/params from every other
// scope, and a per-frame block-translation memo so convergent/cyclic
// source CFGs are only translated once.
type frame struct {
	fn        *ir.Function
	prefix    string
	blockMap  map[ir.BlockRef]ir.BlockRef
	returnSym string
	// isRoot is true for the outermost decode-function frame, whose
	// Return statements become literal translation Returns rather than
	// ExitInlineCall bridges.
	isRoot bool
	// exitBlocks records, in order, every block this frame's own
	// translation terminated with an ExitInlineCall — the block a
	// source block's dest gets spliced into by an inner call (see
	// translateBlockInto's OpCall case) is a fresh e.out block that
	// never gets back into blockMap, so findExitBlock cannot recover it
	// by scanning blockMap the way it can for a callee with no inner
	// calls of its own.
	exitBlocks []ir.BlockRef
}

func mangledName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Result is the output of EmitInstruction: the translation's entry
// block plus the bookkeeping internal/lower needs to apply spec.md
// §4.2's PC-advance rule.
type Result struct {
	Entry ir.BlockRef
	// NeedsPCAdvance is true when no statement along the translated
	// path wrote the model's PC register, meaning the lowering pass
	// synthesises `PC <- PC + 4` itself (internal/lower's
	// emitPCAdvance); BranchTaken is not consulted.
	NeedsPCAdvance bool
}

// EmitInstruction decodes opcode by symbolically executing the
// model's top-level decode function, inlining every call it reaches,
// and returns the translation's entry block. Returns an error if the
// model has no decode function (spec.md §4.2's "None" output case).
func EmitInstruction(m *model.Model, out *ir.Function, opcode uint32) (Result, error) {
	decodeFn, ok := m.Functions[DecodeFunctionName]
	if !ok {
		return Result{}, fmt.Errorf("emitter: model %q has no %s", m.Name, DecodeFunctionName)
	}

	e := &Emitter{Model: m, out: out, cache: map[string]funcCache{}}
	entry := out.AddBlock()
	out.Entry = entry

	root := &frame{fn: decodeFn, prefix: "", blockMap: map[ir.BlockRef]ir.BlockRef{}, isRoot: true}
	root.blockMap[decodeFn.Entry] = entry

	if len(decodeFn.Params) > 0 {
		opcodeArg := ir.NewBuilder(out.Block(entry)).ConstantU64(decodeFn.Params[0].Typ, uint64(opcode))
		ir.NewBuilder(out.Block(entry)).WriteVariable(decodeFn.Params[0], opcodeArg)
	}

	if _, err := e.translateBlockInto(root, decodeFn.Entry, entry); err != nil {
		return Result{}, err
	}
	return Result{Entry: entry, NeedsPCAdvance: !e.pcWritten}, nil
}

// translateBlock translates src (from fr.fn) into a block of e.out,
// memoised per frame so a source block reached by more than one path
// (e.g. a branch's true and false arms re-converging) is translated
// exactly once.
func (e *Emitter) translateBlock(fr *frame, src ir.BlockRef) (ir.BlockRef, error) {
	if dest, ok := fr.blockMap[src]; ok {
		return dest, nil
	}
	dest := e.out.AddBlock()
	fr.blockMap[src] = dest
	// translateBlockInto's return value is wherever src's translation
	// finally terminated, which is a *different* block than dest when an
	// inner call splices the body mid-stream; callers that want a jump
	// target need the stable first fragment (dest itself), not that
	// final block, so its return value is discarded here.
	if _, err := e.translateBlockInto(fr, src, dest); err != nil {
		return ir.BlockRef{}, err
	}
	return dest, nil
}

// translateBlockInto emits src's statements into the existing dest
// block, switching to a fresh dest block mid-stream whenever an
// inlined call's post-call bridge requires one.
func (e *Emitter) translateBlockInto(fr *frame, src, dest ir.BlockRef) (ir.BlockRef, error) {
	srcBlk := fr.fn.Block(src)
	bd := ir.NewBuilder(e.out.Block(dest))
	values := map[ir.Ref]ir.Ref{}

	for _, sref := range srcBlk.Order {
		s := srcBlk.Get(sref)
		switch s.Op {
		case ir.OpConstant:
			values[sref] = bd.Constant(s.Typ, s.ConstLo, s.ConstHi)

		case ir.OpReadRegister:
			values[sref] = bd.ReadRegister(s.Typ, s.Imm, s.Sym)

		case ir.OpWriteRegister:
			if e.isPCOffset(s.Imm) {
				e.pcWritten = true
			}
			bd.WriteRegister(s.Imm, s.Sym, values[s.A])

		case ir.OpReadMemory:
			values[sref] = bd.ReadMemory(values[s.A], s.Imm)

		case ir.OpWriteMemory:
			bd.WriteMemory(values[s.A], values[s.B])

		case ir.OpBinaryOp:
			if lo, hi, ok := e.tryFoldBinary(ir.BinaryKind(s.Imm), e.out.Block(dest), values[s.A], values[s.B], s.Typ); ok {
				values[sref] = bd.Constant(s.Typ, lo, hi)
			} else {
				values[sref] = bd.BinaryOp(ir.BinaryKind(s.Imm), values[s.A], values[s.B])
			}

		case ir.OpUnaryOp:
			values[sref] = bd.UnaryOp(ir.UnaryKind(s.Imm), values[s.A])

		case ir.OpShiftOp:
			values[sref] = bd.ShiftOp(ir.ShiftKind(s.Imm), values[s.A], values[s.B])

		case ir.OpCast:
			values[sref] = bd.Cast(ir.CastKind(s.Imm), s.Typ, values[s.A])

		case ir.OpBitsCast:
			values[sref] = bd.BitsCast(ir.CastKind(s.Imm), s.Typ, values[s.A], s.Imm2)

		case ir.OpBitExtract:
			values[sref] = bd.BitExtract(values[s.A], s.Imm, s.Imm2, s.Typ)

		case ir.OpBitInsert:
			values[sref] = bd.BitInsert(values[s.A], values[s.B], s.Imm, s.Imm2)

		case ir.OpBitReplicate:
			values[sref] = bd.BitReplicate(values[s.A], s.Imm, s.Typ)

		case ir.OpReadElement:
			values[sref] = bd.ReadElement(values[s.A], s.Imm, s.Typ)

		case ir.OpAssignElement:
			bd.AssignElement(values[s.A], s.Imm, values[s.B])

		case ir.OpSelect:
			values[sref] = bd.Select(values[s.A], values[s.B], values[s.C])

		case ir.OpCreateTuple:
			elems := make([]ir.Ref, len(s.Extra))
			for i, r := range s.Extra {
				elems[i] = values[r]
			}
			values[sref] = bd.CreateTuple(elems)

		case ir.OpTupleAccess:
			values[sref] = bd.TupleAccess(values[s.A], s.Imm)

		case ir.OpMatchesUnion:
			values[sref] = bd.MatchesUnion(values[s.A], s.Sym)

		case ir.OpUnwrapUnion:
			values[sref] = bd.UnwrapUnion(values[s.A], s.Sym)

		case ir.OpGetFlags:
			values[sref] = bd.GetFlags()

		case ir.OpReadVariable:
			values[sref] = bd.ReadVariable(ir.Symbol{Name: mangledName(fr.prefix, s.Sym), Typ: s.Typ})

		case ir.OpWriteVariable:
			bd.WriteVariable(ir.Symbol{Name: mangledName(fr.prefix, s.Sym), Typ: e.out.Block(dest).Get(values[s.A]).Typ}, values[s.A])

		case ir.OpReadPc:
			values[sref] = bd.ReadPc()

		case ir.OpWritePc:
			e.pcWritten = true
			bd.WritePc(values[s.A])

		case ir.OpAssert:
			bd.Assert(values[s.A], s.Sym)

		case ir.OpPanic:
			bd.Panic(s.Sym)
			return dest, nil

		case ir.OpCall:
			args := make([]ir.Ref, len(s.Extra))
			for i, r := range s.Extra {
				args[i] = values[r]
			}
			result, postDest, postBd, err := e.inlineCall(fr, dest, bd, s.Sym, args)
			if err != nil {
				return ir.BlockRef{}, err
			}
			values[sref] = result
			dest, bd = postDest, postBd

		case ir.OpJump:
			targetDest, err := e.translateBlock(fr, s.Targets[0])
			if err != nil {
				return ir.BlockRef{}, err
			}
			bd.Jump(targetDest)
			return dest, nil

		case ir.OpBranch:
			if lo, _, ok := e.tryConst(e.out.Block(dest), values[s.A]); ok {
				taken := s.Targets[1]
				if lo != 0 {
					taken = s.Targets[0]
				}
				return e.translateBlockInto(fr, taken, dest)
			}
			trueDest, err := e.translateBlock(fr, s.Targets[0])
			if err != nil {
				return ir.BlockRef{}, err
			}
			falseDest, err := e.translateBlock(fr, s.Targets[1])
			if err != nil {
				return ir.BlockRef{}, err
			}
			bd.Branch(values[s.A], trueDest, falseDest)
			return dest, nil

		case ir.OpReturn:
			if fr.isRoot {
				if s.A.Valid() {
					bd.Return(values[s.A])
				} else {
					bd.Return(ir.Ref{})
				}
				return dest, nil
			}
			if s.A.Valid() {
				bd.WriteVariable(ir.Symbol{Name: fr.returnSym, Typ: e.out.Block(dest).Get(values[s.A]).Typ}, values[s.A])
			}
			bd.ExitInlineCall(ir.InlineInfo{Entry: fr.blockMap[fr.fn.Entry], Exit: dest})
			fr.exitBlocks = append(fr.exitBlocks, dest)
			return dest, nil

		default:
			return ir.BlockRef{}, fmt.Errorf("emitter: unsupported opcode %v", s.Op)
		}
	}
	return dest, fmt.Errorf("emitter: block fell through without a terminator")
}

// inlineCall implements the inlining protocol of spec.md §4.2: write
// arguments into the callee's mangled parameter symbols, emit
// EnterInlineCall, jump into the (possibly cached) translated body,
// and continue emission of the caller's remaining statements in a
// fresh post-call block.
func (e *Emitter) inlineCall(fr *frame, dest ir.BlockRef, bd *ir.Builder, calleeName string, args []ir.Ref) (result ir.Ref, postDest ir.BlockRef, postBd *ir.Builder, err error) {
	calleeFn, ok := e.Model.Functions[calleeName]
	if !ok {
		return ir.Ref{}, ir.BlockRef{}, nil, fmt.Errorf("emitter: call to unknown function %q", calleeName)
	}

	cached, exists := e.cache[calleeName]
	if !exists {
		e.nextMangle++
		prefix := fmt.Sprintf("__call%d_%s", e.nextMangle, calleeName)
		returnSym := mangledName(prefix, "__return")

		calleeFrame := &frame{
			fn:        calleeFn,
			prefix:    prefix,
			blockMap:  map[ir.BlockRef]ir.BlockRef{},
			returnSym: returnSym,
		}
		entryDest, terr := e.translateBlock(calleeFrame, calleeFn.Entry)
		if terr != nil {
			return ir.Ref{}, ir.BlockRef{}, nil, terr
		}
		exitDest := e.findExitBlock(calleeFrame)
		cached = funcCache{
			entry: entryDest, exit: exitDest, prefix: prefix,
			returnSym: returnSym, hasReturn: calleeFn.Return.Kind != ir.KindInvalid,
		}
		e.cache[calleeName] = cached
	}

	for i, p := range calleeFn.Params {
		if i < len(args) {
			bd.WriteVariable(ir.Symbol{Name: mangledName(cached.prefix, p.Name), Typ: p.Typ}, args[i])
		}
	}

	post := e.out.AddBlock()
	e.rewriteExitPost(cached.exit, post)

	bd.EnterInlineCall(ir.InlineInfo{Entry: cached.entry, Exit: cached.exit, Post: post})
	bd.Jump(cached.entry)

	postBuilder := ir.NewBuilder(e.out.Block(post))
	if cached.hasReturn {
		result = postBuilder.ReadVariable(ir.Symbol{Name: cached.returnSym, Typ: calleeFn.Return})
	}
	return result, post, postBuilder, nil
}

// rewriteExitPost retargets the Post field of the ExitInlineCall
// terminator in exitDest, implementing spec.md §4.2 step (vi): "when
// the post-call block is itself the target of another inlined
// function's exit, rewrite that exit reference to point at the new
// post-call block" — a function inlined more than once shares one
// translated body, and each new call site simply redirects the
// previous call's exit to continue into its own post-call block.
func (e *Emitter) rewriteExitPost(exitDest ir.BlockRef, post ir.BlockRef) {
	blk := e.out.Block(exitDest)
	last := blk.Last()
	if !last.Valid() {
		return
	}
	term := blk.Get(last)
	if term.Op != ir.OpExitInlineCall {
		return
	}
	term.Inline.Post = post
	blk.Stmts.Set(last, term)
}

// findExitBlock returns the block within calleeFrame's translation
// whose terminator is ExitInlineCall. The callee's decode-function
// subset this emitter targets has exactly one Return path per call
// (guaranteed by the model's own structure); a model with multiple
// Return sites would require folding them into a single merge block,
// which is out of scope here since inlined model helper functions in
// practice have one tail-position Return. Scanning fr.blockMap isn't
// enough on its own: when the callee's Return lands in a block spliced
// in by one of the callee's *own* inner calls (see translateBlock's
// comment), that block is never recorded in blockMap, only in
// fr.exitBlocks.
func (e *Emitter) findExitBlock(fr *frame) ir.BlockRef {
	if len(fr.exitBlocks) > 0 {
		return fr.exitBlocks[len(fr.exitBlocks)-1]
	}
	return ir.BlockRef{}
}

func (e *Emitter) isPCOffset(offset uint64) bool {
	pcOffset := e.pcOffsetOrMax()
	return pcOffset != ^uint64(0) && offset == pcOffset
}

func (e *Emitter) pcOffsetOrMax() uint64 {
	if rd, ok := e.Model.Registers["_PC"]; ok {
		return rd.Offset
	}
	return ^uint64(0)
}

func (e *Emitter) tryConst(blk *ir.Block, r ir.Ref) (lo, hi uint64, ok bool) {
	if !r.Valid() {
		return 0, 0, false
	}
	s := blk.Get(r)
	if s.Op != ir.OpConstant {
		return 0, 0, false
	}
	return s.ConstLo, s.ConstHi, true
}

// tryFoldBinary evaluates kind(a, b) at emission time when both
// operands are statically known constants, implementing spec.md
// §4.2's "every constant-folded comparison eliminates one side of a
// Branch" for the arithmetic/comparison case generally.
func (e *Emitter) tryFoldBinary(kind ir.BinaryKind, blk *ir.Block, a, b ir.Ref, resultType ir.Type) (lo, hi uint64, ok bool) {
	al, _, aok := e.tryConst(blk, a)
	bl, _, bok := e.tryConst(blk, b)
	if !aok || !bok {
		return 0, 0, false
	}
	switch kind {
	case ir.BinAdd:
		return al + bl, 0, true
	case ir.BinSub:
		return al - bl, 0, true
	case ir.BinMul:
		return al * bl, 0, true
	case ir.BinDiv:
		if bl == 0 {
			return 0, 0, false
		}
		return al / bl, 0, true
	case ir.BinMod:
		if bl == 0 {
			return 0, 0, false
		}
		return al % bl, 0, true
	case ir.BinAnd:
		return al & bl, 0, true
	case ir.BinOr:
		return al | bl, 0, true
	case ir.BinXor:
		return al ^ bl, 0, true
	case ir.BinEq:
		return boolU64(al == bl), 0, true
	case ir.BinNe:
		return boolU64(al != bl), 0, true
	case ir.BinLt:
		return boolU64(al < bl), 0, true
	case ir.BinLe:
		return boolU64(al <= bl), 0, true
	case ir.BinGt:
		return boolU64(al > bl), 0, true
	case ir.BinGe:
		return boolU64(al >= bl), 0, true
	default:
		_ = resultType
		return 0, 0, false
	}
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

