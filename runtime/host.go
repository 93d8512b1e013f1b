package runtime

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/value"
)

// HostHandler implements a host function. c is the Context of the calling
// instance. A returned error traps the call.
type HostHandler func(ctx context.Context, c *Context, args []value.Value) ([]value.Value, error)

// HostFunc is a host function with a Value signature.
type HostFunc struct {
	Handler HostHandler
	Params  []value.Kind
	Results []value.Kind
}

// Bind turns fn into a binding that can be registered for import.
func (r *Runtime) Bind(fn HostFunc) (linker.Binding, error) {
	if fn.Handler == nil {
		return linker.Binding{}, errors.NilPointer(errors.PhaseLink, "host function handler")
	}
	params := append([]value.Kind(nil), fn.Params...)
	results := append([]value.Kind(nil), fn.Results...)

	return linker.NewFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		var c *Context
		if inst := r.lookup(mod); inst != nil {
			c = inst.context
		}

		args := make([]value.Value, len(params))
		for i, k := range params {
			v, err := value.FromBits(k, stack[i])
			if err != nil {
				panic(err)
			}
			args[i] = v
		}

		out, err := fn.Handler(ctx, c, args)
		if err != nil {
			panic(err)
		}
		if len(out) != len(results) {
			panic(errors.ArityMismatch(errors.PhaseInvoke, "host function results", len(results), len(out)))
		}
		for i, v := range out {
			if v.Kind() != results[i] {
				panic(errors.TypeMismatch(errors.PhaseInvoke, []string{fmt.Sprintf("result[%d]", i)},
					results[i].String(), v.Kind().String()))
			}
			stack[i] = v.Bits()
		}
	}, params, results)
}
