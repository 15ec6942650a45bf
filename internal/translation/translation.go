// Package translation is C10: the Translation object a block-cache
// entry owns — a JIT-compiled code buffer backed by an mmap'd
// anonymous region, flipped from RW to RX before it is ever executed
// and back to RW (never executable again) when released. Grounded on
// brig's dbt::Translation (original_source/brig/kernel/src/dbt/mod.rs),
// translated to Go's page-protection primitives since there is no
// VirtualMemoryArea/PageTableFlags equivalent in userspace Go: mmap an
// anonymous region directly rather than flipping flags on a Vec<u8>'s
// already-allocated pages.
package translation

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Translation owns one mmap'd code buffer. The zero value is not
// usable; construct with New.
type Translation struct {
	code   []byte
	closed bool
}

// New copies code into a freshly mmap'd anonymous region and flips it
// from RW to RX, mirroring Translation::new's "remove the NOEXECUTE
// flag" step — except here the pages start out not just non-executable
// but entirely separate from any Go-managed heap allocation, since Go
// provides no way to mark a []byte's backing array executable in
// place.
func New(code []byte) (*Translation, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("translation: refusing to map empty code")
	}

	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("translation: mmap: %w", err)
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("translation: mprotect RX: %w", err)
	}

	t := &Translation{code: mem}
	// Safety net matching Rust's Drop guarantee; callers are still
	// expected to Close explicitly (spec.md §4.5: "dropping a
	// translation while it is executing is undefined, so the harness
	// never drops a translation the current block cache entry doesn't
	// own" — a finalizer only protects against a caller that forgot to
	// Close one that's genuinely unreachable).
	runtime.SetFinalizer(t, func(t *Translation) { _ = t.Close() })
	return t, nil
}

// Execute transfers control to the translated code, passing
// registerFile as the guest register-file base (internal/lower
// addresses every register through RBP+offset, so the trampoline loads
// registerFile into RBP, not an ABI argument register), and returns the
// execution-result word spec.md §4.7 step 4 describes: bit 0 is
// need_tlb_invalidate, bit 1 is interrupt_pending.
func (t *Translation) Execute(registerFile *byte) uint64 {
	result := trampoline(codeAddr(t.code), uintptr(ptrOf(registerFile)))
	// code is only reachable from Go's perspective through the raw
	// address handed to the assembly trampoline above; without this the
	// GC could treat it as garbage and unmap nothing (mmap'd memory
	// isn't GC-owned either way, but KeepAlive also protects the
	// Translation struct itself, and hence its finalizer registration,
	// across the call).
	runtime.KeepAlive(t)
	return result
}

// EntryAddr returns the mapped code's entry address, for callers (the
// chain cache) that need to record where a translation lives without
// going through Execute.
func (t *Translation) EntryAddr() uintptr {
	return codeAddr(t.code)
}

// Close returns the pages to RW (never executable again) and unmaps
// them, mirroring Translation's Drop impl.
func (t *Translation) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	runtime.SetFinalizer(t, nil)
	if err := unix.Mprotect(t.code, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("translation: mprotect RW before unmap: %w", err)
	}
	return unix.Munmap(t.code)
}
