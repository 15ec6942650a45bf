//go:build amd64

package translation

import "unsafe"

// trampoline calls into the machine code at codeAddr, loading
// registerFile into RBP before the call so the translated code's
// RBP-relative register-file addressing (internal/lower's
// RegisterFileBase) resolves correctly, and returns whatever the code
// left in RAX. Implemented in trampoline_amd64.s — the Go-asm
// equivalent of brig's trampoline::trampoline, and grounded in the old
// wazero JIT engine's own `func jitcall(codeSegment, engine, memory
// uintptr)` stub
// (_examples/other_examples/dae1d11e_tetratelabs-wazero__wasm-jit-jit_amd64.go.go),
// which is likewise declared with no Go body.
func trampoline(codeAddr, registerFile uintptr) uint64

func codeAddr(code []byte) uintptr {
	return uintptr(unsafe.Pointer(&code[0]))
}

func ptrOf(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}
