package ir

import "github.com/corvid-dbt/corvid/internal/arena"

// Symbol is a named, typed parameter or local variable, per spec.md §3
// ("each a Symbol{name, typ}").
type Symbol struct {
	Name string
	Typ  Type
}

// Function is pure data consumed by the emitter/interpreter: a name,
// return type, ordered parameters, the set of local-variable symbols,
// a block arena, and an entry-block handle (spec.md §3).
type Function struct {
	Name       string
	Return     Type
	Params     []Symbol
	Locals     []Symbol
	Blocks     *arena.Arena[*Block]
	Entry      BlockRef
}

// NewFunction allocates an empty Function ready to receive blocks.
func NewFunction(name string, ret Type, params []Symbol) *Function {
	return &Function{
		Name:   name,
		Return: ret,
		Params: params,
		Blocks: arena.New[*Block](),
	}
}

// AddBlock inserts a new, empty Block and returns its handle.
func (f *Function) AddBlock() BlockRef {
	return f.Blocks.Insert(NewBlock())
}

// Block dereferences r against this function's block arena.
func (f *Function) Block(r BlockRef) *Block { return f.Blocks.Get(r) }

// DeclareLocal adds a new local-variable symbol and returns it.
func (f *Function) DeclareLocal(name string, t Type) Symbol {
	s := Symbol{Name: name, Typ: t}
	f.Locals = append(f.Locals, s)
	return s
}
