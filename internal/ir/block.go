package ir

import "github.com/corvid-dbt/corvid/internal/arena"

// Block owns its own statement arena and an ordered list of statement
// handles, the last of which is always a terminator, matching
// ssa/basic_block.go's rootInstr/currentInstr linked list except we
// keep an explicit slice of Refs rather than an intrusive list: the
// emitter repeatedly scans and mutates statement order during inlining
// (spec.md §4.2 step (vi) rewrites an exit reference after the fact),
// which is simpler to express against a slice than against prev/next
// pointers threaded through arena storage.
type Block struct {
	Stmts  *arena.Arena[Stmt]
	Order  []Ref
	// Linked is a plain flag carried with the block (and through gob).
	// Nothing in this repository sets or reads it: internal/x86asm
	// emits internal/x86ir blocks and tracks visited blocks in its own
	// map.
	Linked bool
}

// NewBlock returns an empty block with a fresh statement arena.
func NewBlock() *Block {
	return &Block{Stmts: arena.New[Stmt]()}
}

// Append inserts s at the tail of the block and returns its handle.
func (b *Block) Append(s Stmt) Ref {
	r := b.Stmts.Insert(s)
	b.Order = append(b.Order, r)
	return r
}

// Last returns the handle of the block's terminator, or the zero Ref
// if the block is empty.
func (b *Block) Last() Ref {
	if len(b.Order) == 0 {
		return Ref{}
	}
	return b.Order[len(b.Order)-1]
}

// Terminator returns the Stmt at Last(); panics if the block is empty,
// since every constructed Block must have at least one statement
// (spec.md §8).
func (b *Block) Terminator() Stmt {
	if len(b.Order) == 0 {
		panic("ir: Terminator called on an empty block")
	}
	return b.Stmts.Get(b.Last())
}

// Get dereferences r against this block's arena.
func (b *Block) Get(r Ref) Stmt { return b.Stmts.Get(r) }

// NextBlocks returns the block's control-flow successors, deterministically
// derived from its terminator (spec.md §3's next_blocks()).
func (b *Block) NextBlocks() []BlockRef {
	if len(b.Order) == 0 {
		return nil
	}
	term := b.Terminator()
	switch term.Op {
	case OpJump:
		return []BlockRef{term.Targets[0]}
	case OpBranch:
		return []BlockRef{term.Targets[0], term.Targets[1]}
	case OpExitInlineCall:
		return []BlockRef{term.Inline.Post}
	default: // Return, Panic, tail Call: no intra-translation successor
		return nil
	}
}
