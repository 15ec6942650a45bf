package model

import "encoding/binary"

// RegisterFile is a contiguous byte buffer sized by the model, exposing
// raw typed read/write at an offset plus a typed "well-known" handle
// that caches the offset for hot registers (PC, interrupt-mask), per
// spec.md §3.
type RegisterFile struct {
	Bytes []byte
}

// NewRegisterFile allocates a zeroed register file sized per m.
func NewRegisterFile(m *Model) *RegisterFile {
	return &RegisterFile{Bytes: make([]byte, m.RegisterFileSize)}
}

func (rf *RegisterFile) Read8(offset uint64) uint8   { return rf.Bytes[offset] }
func (rf *RegisterFile) Read16(offset uint64) uint16 { return binary.LittleEndian.Uint16(rf.Bytes[offset:]) }
func (rf *RegisterFile) Read32(offset uint64) uint32 { return binary.LittleEndian.Uint32(rf.Bytes[offset:]) }
func (rf *RegisterFile) Read64(offset uint64) uint64 { return binary.LittleEndian.Uint64(rf.Bytes[offset:]) }

func (rf *RegisterFile) Write8(offset uint64, v uint8) { rf.Bytes[offset] = v }
func (rf *RegisterFile) Write16(offset uint64, v uint16) {
	binary.LittleEndian.PutUint16(rf.Bytes[offset:], v)
}
func (rf *RegisterFile) Write32(offset uint64, v uint32) {
	binary.LittleEndian.PutUint32(rf.Bytes[offset:], v)
}
func (rf *RegisterFile) Write64(offset uint64, v uint64) {
	binary.LittleEndian.PutUint64(rf.Bytes[offset:], v)
}

// WellKnown caches the byte offset of a hot, by-name register (PC,
// PSTATE_I, ...) so the harness's per-block hot path never has to hash
// a register name again after startup, per spec.md §3.
type WellKnown struct {
	offset uint64
}

// ResolveWellKnown looks up name once and returns a cached accessor.
func ResolveWellKnown(m *Model, name string) WellKnown {
	return WellKnown{offset: m.RegOffset(name)}
}

func (w WellKnown) Read64(rf *RegisterFile) uint64     { return rf.Read64(w.offset) }
func (w WellKnown) Write64(rf *RegisterFile, v uint64)  { rf.Write64(w.offset, v) }
func (w WellKnown) Read8(rf *RegisterFile) uint8        { return rf.Read8(w.offset) }
func (w WellKnown) Write8(rf *RegisterFile, v uint8)    { rf.Write8(w.offset, v) }
func (w WellKnown) Offset() uint64                      { return w.offset }
