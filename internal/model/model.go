// Package model implements the ISA-model loader (C3): deserialising the
// self-describing encoding of a guest architecture's register layout
// and function CFGs (spec.md §6 "ISA model file format"), grounded on
// brig/kernel/src/host/dbt/models.rs's Model/RegisterDescriptor shape.
package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"

	"github.com/corvid-dbt/corvid/internal/ir"
)

// CachePolicy classifies how the translator may treat a register for
// caching purposes, per spec.md §3.
type CachePolicy uint8

const (
	CacheNone CachePolicy = iota
	CacheRead
	CacheReadWrite
	CacheConstant
)

// RegisterDescriptor is the model's description of one guest register:
// its byte offset within the register file, its IR type, and its
// CachePolicy (spec.md §3).
type RegisterDescriptor struct {
	Name   string
	Offset uint64
	Typ    ir.Type
	Cache  CachePolicy
}

// Model is a name→function map and a name→register-descriptor map
// (spec.md §6). It keeps no separate set of struct/union types; such
// types appear only inline in the ir.Type values of its functions and
// registers.
type Model struct {
	Name      string
	Functions map[string]*ir.Function
	Registers map[string]RegisterDescriptor
	// RegisterFileSize is the total byte size of the flat register
	// file this model describes.
	RegisterFileSize uint64
}

// RegOffset returns the byte offset of a named register, panicking if
// unknown — callers only ever look up well-known, model-guaranteed
// names (mirrors the original's `model.reg_offset(name)` which has the
// same unchecked-lookup contract).
func (m *Model) RegOffset(name string) uint64 {
	rd, ok := m.Registers[name]
	if !ok {
		panic(fmt.Sprintf("model: unknown register %q", name))
	}
	return rd.Offset
}

// Diff reports the differences between two models as a sorted list of
// human-readable lines, grounded on brig's workspace_diff.rs
// write_difference three-way classification (new/deleted/changed)
// applied here to a model's name/size plus its two maps instead of a
// filesystem tree. Tests use it to assert a gob round trip is lossless
// by asserting Diff(m, decoded) is empty, rather than field-by-field
// reflect.DeepEqual comparisons.
func Diff(a, b *Model) []string {
	var lines []string

	if a.Name != b.Name {
		lines = append(lines, fmt.Sprintf("name: %q != %q", a.Name, b.Name))
	}
	if a.RegisterFileSize != b.RegisterFileSize {
		lines = append(lines, fmt.Sprintf("register file size: %d != %d", a.RegisterFileSize, b.RegisterFileSize))
	}

	for name, ar := range a.Registers {
		br, ok := b.Registers[name]
		if !ok {
			lines = append(lines, fmt.Sprintf("register %s: deleted", name))
			continue
		}
		if ar.Offset != br.Offset || ar.Cache != br.Cache || ar.Typ.Kind != br.Typ.Kind || ar.Typ.Width != br.Typ.Width {
			lines = append(lines, fmt.Sprintf("register %s: %+v != %+v", name, ar, br))
		}
	}
	for name := range b.Registers {
		if _, ok := a.Registers[name]; !ok {
			lines = append(lines, fmt.Sprintf("register %s: new", name))
		}
	}

	for name, fn := range a.Functions {
		other, ok := b.Functions[name]
		if !ok {
			lines = append(lines, fmt.Sprintf("function %s: deleted", name))
			continue
		}
		if d := diffFunctionShape(name, fn, other); d != "" {
			lines = append(lines, d)
		}
	}
	for name := range b.Functions {
		if _, ok := a.Functions[name]; !ok {
			lines = append(lines, fmt.Sprintf("function %s: new", name))
		}
	}

	sort.Strings(lines)
	return lines
}

// diffFunctionShape compares the two coarse, cheaply-comparable
// properties of a decoded ir.Function that a lossy wire format would
// most plausibly get wrong: its signature and its block count. A full
// structural diff of the statement graph is deliberately out of scope
// here; Encode/Decode's own round-trip tests exercise block contents
// directly.
func diffFunctionShape(name string, a, b *ir.Function) string {
	switch {
	case a.Return.Kind != b.Return.Kind || a.Return.Width != b.Return.Width:
		return fmt.Sprintf("function %s: return type %v != %v", name, a.Return, b.Return)
	case len(a.Params) != len(b.Params):
		return fmt.Sprintf("function %s: %d params != %d params", name, len(a.Params), len(b.Params))
	case a.Blocks.Len() != b.Blocks.Len():
		return fmt.Sprintf("function %s: %d blocks != %d blocks", name, a.Blocks.Len(), b.Blocks.Len())
	default:
		return ""
	}
}

// wireModel is the gob-serializable shape of Model. ir.Function embeds
// *arena.Arena, whose unexported pages gob cannot see; arena.Arena and
// arena.Handle therefore implement GobEncode/GobDecode themselves, and
// the rest of the graph goes through gob's reflection-based codec,
// matching spec.md §6's
// requirement that "compatibility hinges on stable field ordering in
// Model, Function, Block, Statement, Type, RegisterDescriptor" — gob
// encodes exported struct fields in declaration order, the closest
// stdlib equivalent to that guarantee (see SPEC_FULL.md's DOMAIN STACK
// table for why no third-party binary codec from the retrieved pack
// was a better fit for this shape).
type wireModel struct {
	Name              string
	Functions         map[string]*ir.Function
	Registers         map[string]RegisterDescriptor
	RegisterFileSize  uint64
}

// Encode serialises m with encoding/gob.
func Encode(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	w := wireModel{m.Name, m.Functions, m.Registers, m.RegisterFileSize}
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("model: encode %s: %w", m.Name, err)
	}
	return buf.Bytes(), nil
}

// Decode deserialises a Model previously produced by Encode, then
// reclassifies every register's CachePolicy from the fixed well-known
// name table (ClassifyRegister), matching the original's load_all:
// "model.registers_mut().iter_mut().for_each(|(name, descriptor)|
// descriptor.cache = register_cache_type(*name))" — the policy is a
// property of the *loader*, not of whatever the serialized bytes said.
func Decode(data []byte) (*Model, error) {
	var w wireModel
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("model: decode: %w", err)
	}
	m := &Model{
		Name:             w.Name,
		Functions:        w.Functions,
		Registers:        w.Registers,
		RegisterFileSize: w.RegisterFileSize,
	}
	for name, rd := range m.Registers {
		rd.Cache = ClassifyRegister(name)
		m.Registers[name] = rd
	}
	return m, nil
}

// ClassifyRegister implements the fixed list of well-known register-
// name classifications spec.md §3 describes: "architectural feature
// flags are Constant, current-exception latches are ReadWrite, current
// exception level and trap controls are Read."
func ClassifyRegister(name string) CachePolicy {
	switch {
	case hasFeaturePrefix(name):
		return CacheConstant
	case name == "CurrentEL" || name == "TrapEL" || name == "SCTLR_EL1" || name == "HCR_EL2":
		return CacheRead
	case name == "ESR_EL1" || name == "FAR_EL1" || name == "EXCEPTION_PENDING":
		return CacheReadWrite
	default:
		return CacheNone
	}
}

func hasFeaturePrefix(name string) bool {
	if len(name) < 5 {
		return false
	}
	return name[:5] == "FEAT_" || name[:2] == "v8" || name[:2] == "v9"
}

// registry is the process-wide model registry, populated during
// load_all before any core starts and only ever grown afterwards
// (spec.md §9 "global mutable state").
var registry = struct {
	mu sync.RWMutex
	m  map[string]*Model
}{m: map[string]*Model{}}

// Register installs m under name, overwriting any previous model of
// the same name. Mirrors brig's register_model.
func Register(name string, m *Model) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.m[name] = m
}

// Get returns a previously Register-ed model by name.
func Get(name string) (*Model, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	m, ok := registry.m[name]
	return m, ok
}

// LoadAll decodes every (name, bytes) pair and registers the result,
// mirroring brig's load_all over a filesystem of ".postcard" files.
func LoadAll(sources map[string][]byte) error {
	for name, data := range sources {
		m, err := Decode(data)
		if err != nil {
			return fmt.Errorf("model: load %s: %w", name, err)
		}
		Register(name, m)
	}
	return nil
}
