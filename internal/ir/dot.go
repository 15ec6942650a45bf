package ir

import (
	"fmt"
	"io"
)

// WriteDOT renders a single Block's statement graph in Graphviz dot
// syntax, for the debug-build panic dump spec.md §7 describes:
// "debug build emits the offending IR as a DOT graph before aborting."
func WriteDOT(w io.Writer, name string, b *Block) error {
	if _, err := fmt.Fprintf(w, "digraph %q {\n  rankdir=TB;\n", name); err != nil {
		return err
	}
	for _, r := range b.Order {
		s := b.Get(r)
		label := opName(s.Op)
		if _, err := fmt.Fprintf(w, "  n%d [label=%q];\n", handleIndex(r), label); err != nil {
			return err
		}
		for _, operand := range []Ref{s.A, s.B, s.C} {
			if operand.Valid() {
				if _, err := fmt.Fprintf(w, "  n%d -> n%d;\n", handleIndex(r), handleIndex(operand)); err != nil {
					return err
				}
			}
		}
		for _, operand := range s.Extra {
			if _, err := fmt.Fprintf(w, "  n%d -> n%d;\n", handleIndex(r), handleIndex(operand)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

// handleIndex extracts a stable integer from a Ref for dot node names
// without exposing arena internals outside the package.
func handleIndex(r Ref) int {
	return r.Index()
}

func opName(op Op) string {
	names := [...]string{
		"invalid", "constant", "read_register", "write_register", "read_memory",
		"write_memory", "binary_op", "unary_op", "shift_op", "cast", "bits_cast",
		"bit_extract", "bit_insert", "bit_replicate", "read_element", "assign_element",
		"call", "jump", "branch", "return", "select", "panic", "assert",
		"create_tuple", "tuple_access", "matches_union", "unwrap_union", "get_flags",
		"read_variable", "write_variable", "read_pc", "write_pc",
		"enter_inline_call", "exit_inline_call",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}
