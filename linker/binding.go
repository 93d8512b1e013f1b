package linker

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/value"
	"github.com/wippyai/wasm-embed/wasm"
)

// Kind is the import/export kind of a Binding. The numbering is part of
// the boundary contract.
type Kind uint32

const (
	KindFunction Kind = 0
	KindGlobal   Kind = 1
	KindMemory   Kind = 2
	KindTable    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindGlobal:
		return "global"
	case KindMemory:
		return "memory"
	case KindTable:
		return "table"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// KindFromWasm converts a binary external kind.
func KindFromWasm(b byte) (Kind, bool) {
	switch b {
	case wasm.KindFunc:
		return KindFunction, true
	case wasm.KindTable:
		return KindTable, true
	case wasm.KindMemory:
		return KindMemory, true
	case wasm.KindGlobal:
		return KindGlobal, true
	default:
		return 0, false
	}
}

// FuncDef defines a host function
type FuncDef struct {
	Handler     api.GoModuleFunc
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// Binding is a shared handle to a function, memory, global or table.
// Copies refer to the same underlying resource.
//
// A Binding is either a host function, which is materialized in a host
// module when linked, or an export of a live module in the store.
type Binding struct {
	fn     *FuncDef
	owner  api.Module
	module string
	name   string
	kind   Kind
}

// Func returns a binding for a host function.
func Func(def FuncDef) (Binding, error) {
	if def.Handler == nil {
		return Binding{}, errors.NilPointer(errors.PhaseLink, "host function handler")
	}
	return Binding{kind: KindFunction, fn: &def}, nil
}

// NewFunc is Func with value kinds instead of wazero value types.
func NewFunc(handler api.GoModuleFunc, params, results []value.Kind) (Binding, error) {
	pt, err := value.ValueTypes(params)
	if err != nil {
		return Binding{}, err
	}
	rt, err := value.ValueTypes(results)
	if err != nil {
		return Binding{}, err
	}
	return Func(FuncDef{Handler: handler, ParamTypes: pt, ResultTypes: rt})
}

// Export returns a binding for the export name of a live module. Tables
// are not visible through api.Module and are taken on trust.
func Export(owner api.Module, name string, kind Kind) (Binding, error) {
	if owner == nil {
		return Binding{}, errors.NilPointer(errors.PhaseLink, "owner module")
	}
	var found bool
	switch kind {
	case KindFunction:
		found = owner.ExportedFunction(name) != nil
	case KindMemory:
		found = owner.ExportedMemory(name) != nil
	case KindGlobal:
		found = owner.ExportedGlobal(name) != nil
	case KindTable:
		found = true
	default:
		return Binding{}, errors.InvalidInput(errors.PhaseLink, "unknown binding kind "+kind.String())
	}
	if !found {
		return Binding{}, errors.NotFound(errors.PhaseLink, kind.String()+" export", name)
	}
	return Binding{kind: kind, owner: owner, module: owner.Name(), name: name}, nil
}

// Kind returns the binding kind.
func (b Binding) Kind() Kind { return b.kind }

// IsZero reports whether b refers to nothing.
func (b Binding) IsZero() bool { return b.fn == nil && b.owner == nil }

// IsHost reports whether b is a host function.
func (b Binding) IsHost() bool { return b.fn != nil }

// FuncDef returns the host function definition, nil for exports.
func (b Binding) FuncDef() *FuncDef { return b.fn }

// Module returns the name of the module that exports the resource, empty
// for host functions.
func (b Binding) Module() string { return b.module }

// Name returns the export name inside Module.
func (b Binding) Name() string { return b.name }

// Owner returns the module that exports the resource.
func (b Binding) Owner() api.Module { return b.owner }

// Function returns the exported function, nil for host functions and other kinds.
func (b Binding) Function() api.Function {
	if b.kind != KindFunction || b.owner == nil {
		return nil
	}
	return b.owner.ExportedFunction(b.name)
}

// Memory returns the exported memory, nil for other kinds.
func (b Binding) Memory() api.Memory {
	if b.kind != KindMemory || b.owner == nil {
		return nil
	}
	return b.owner.ExportedMemory(b.name)
}

// Global returns the exported global, nil for other kinds.
func (b Binding) Global() api.Global {
	if b.kind != KindGlobal || b.owner == nil {
		return nil
	}
	return b.owner.ExportedGlobal(b.name)
}

// Same reports whether a and b refer to the same resource.
func (b Binding) Same(o Binding) bool {
	if b.fn != nil || o.fn != nil {
		return b.fn == o.fn
	}
	return b.kind == o.kind && b.owner == o.owner && b.name == o.name
}

func (b Binding) String() string {
	if b.fn != nil {
		return fmt.Sprintf("host %s", b.kind)
	}
	return fmt.Sprintf("%s %s.%s", b.kind, b.module, b.name)
}
