package linker

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/value"
	"github.com/wippyai/wasm-embed/wasm"
)

// Export names of the resources created by the store constructors.
const (
	StoreMemoryExport = "memory"
	StoreGlobalExport = "global"
	StoreTableExport  = "table"
)

// NewMemory creates a standalone memory of initial pages, growable to
// maximum when maximum is non-nil.
func (l *Linker) NewMemory(ctx context.Context, initial uint32, maximum *uint32) (Binding, error) {
	limits, err := limitsOf(initial, maximum)
	if err != nil {
		return Binding{}, err
	}
	m := &wasm.Module{
		Memories: []wasm.Limits{limits},
		Exports:  []wasm.Export{{Name: StoreMemoryExport, Kind: wasm.KindMemory}},
	}
	return l.instantiateStore(ctx, m, KindMemory, StoreMemoryExport)
}

// NewTable creates a standalone funcref table.
func (l *Linker) NewTable(ctx context.Context, initial uint32, maximum *uint32) (Binding, error) {
	limits, err := limitsOf(initial, maximum)
	if err != nil {
		return Binding{}, err
	}
	m := &wasm.Module{
		Tables:  []wasm.TableType{{Limits: limits, ElemType: wasm.ValFuncRef}},
		Exports: []wasm.Export{{Name: StoreTableExport, Kind: wasm.KindTable}},
	}
	return l.instantiateStore(ctx, m, KindTable, StoreTableExport)
}

// NewGlobal creates a standalone global holding v.
func (l *Linker) NewGlobal(ctx context.Context, v value.Value, mutable bool) (Binding, error) {
	vt, err := v.Kind().ValueType()
	if err != nil {
		return Binding{}, err
	}
	t := wasm.ValType(vt)
	m := &wasm.Module{
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: t, Mutable: mutable},
			Init: wasm.ConstExpr(t, v.Bits()),
		}},
		Exports: []wasm.Export{{Name: StoreGlobalExport, Kind: wasm.KindGlobal}},
	}
	return l.instantiateStore(ctx, m, KindGlobal, StoreGlobalExport)
}

func limitsOf(initial uint32, maximum *uint32) (wasm.Limits, error) {
	l := wasm.Limits{Min: uint64(initial)}
	if maximum != nil {
		if *maximum < initial {
			return wasm.Limits{}, errors.InvalidInput(errors.PhaseLink,
				fmt.Sprintf("maximum %d is below minimum %d", *maximum, initial))
		}
		m := uint64(*maximum)
		l.Max = &m
	}
	return l, nil
}

func (l *Linker) instantiateStore(ctx context.Context, m *wasm.Module, kind Kind, export string) (Binding, error) {
	l.ownedMu.Lock()
	l.storeSeq++
	name := fmt.Sprintf("%s#%d", kind, l.storeSeq)
	l.ownedMu.Unlock()

	mod, err := l.runtime.InstantiateWithConfig(ctx, m.Encode(), wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return Binding{}, errors.New(errors.PhaseLink, errors.KindInstantiation).
			Path(name).Detail("create %s", kind).Cause(err).Build()
	}

	l.ownedMu.Lock()
	l.owned = append(l.owned, mod)
	l.ownedMu.Unlock()

	Logger().Debug("store resource created", zap.String("module", name), zap.Stringer("kind", kind))
	return Binding{kind: kind, owner: mod, module: name, name: export}, nil
}
