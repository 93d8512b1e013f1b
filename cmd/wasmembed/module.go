package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/value"
	"github.com/wippyai/wasm-embed/wasm"
)

// exportInfo describes one export of a module file.
type exportInfo struct {
	name    string
	kind    linker.Kind
	params  []value.Kind
	results []value.Kind
	// unsupported is set when the signature uses types calls cannot carry.
	unsupported bool
}

func (e exportInfo) signature() string {
	if e.kind != linker.KindFunction {
		return e.kind.String() + " " + e.name
	}
	if e.unsupported {
		return "func " + e.name + " (unsupported signature)"
	}
	s := "func " + e.name + "(" + joinKinds(e.params) + ")"
	if len(e.results) > 0 {
		s += " -> " + joinKinds(e.results)
	}
	return s
}

func joinKinds(kinds []value.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}

func loadModule(path string) ([]byte, *wasm.Module, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read module: %w", err)
	}
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, nil, errors.Load("parse "+path, err)
	}
	return bin, m, nil
}

// describeExports lists the exports of m in declaration order.
func describeExports(m *wasm.Module) []exportInfo {
	var out []exportInfo
	for _, e := range m.Exports {
		kind, ok := linker.KindFromWasm(e.Kind)
		if !ok {
			continue
		}
		info := exportInfo{name: e.Name, kind: kind}
		if kind == linker.KindFunction {
			ft, ok := m.FuncTypeOf(e.Idx)
			if !ok {
				info.unsupported = true
			} else {
				var perr, rerr error
				info.params, perr = kindsOf(ft.Params)
				info.results, rerr = kindsOf(ft.Results)
				info.unsupported = perr != nil || rerr != nil
			}
		}
		out = append(out, info)
	}
	return out
}

func kindsOf(types []wasm.ValType) ([]value.Kind, error) {
	kinds := make([]value.Kind, len(types))
	for i, t := range types {
		k, err := value.KindOf(api.ValueType(t))
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}

func findExport(exports []exportInfo, name string) (exportInfo, error) {
	for _, e := range exports {
		if e.name == name {
			if e.kind != linker.KindFunction {
				return exportInfo{}, errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
					Path(name).Detail("export is a %s, not a function", e.kind).Build()
			}
			return e, nil
		}
	}
	return exportInfo{}, errors.NotFound(errors.PhaseInvoke, "export", name)
}

// parseArgs reads one argument per parameter. An argument without a
// "kind:" prefix takes the kind of its parameter.
func parseArgs(params []value.Kind, raw []string) ([]value.Value, error) {
	if len(raw) != len(params) {
		return nil, errors.ArityMismatch(errors.PhaseInvoke, "arguments", len(params), len(raw))
	}
	args := make([]value.Value, len(raw))
	for i, s := range raw {
		if !strings.Contains(s, ":") {
			s = params[i].String() + ":" + s
		}
		v, err := value.Parse(s)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}
