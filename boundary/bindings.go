package boundary

import (
	"context"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/runtime"
	"github.com/wippyai/wasm-embed/value"
)

// HostFunction implements an imported function. c is the context handle
// of the calling instance, usable with ContextDataGet and ContextMemory.
// A returned error traps the call.
type HostFunction func(ctx context.Context, c Handle, args []value.Value) ([]value.Value, error)

// NewHostFunction creates a function binding with the given signature.
func (s *Session) NewHostFunction(params, results []value.Kind, fn HostFunction, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "binding out"))
	}
	if fn == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "host function"))
	}
	b := s.b
	bind, err := b.runtime.Bind(runtime.HostFunc{
		Params:  params,
		Results: results,
		Handler: func(ctx context.Context, c *runtime.Context, args []value.Value) ([]value.Value, error) {
			var h Handle
			if c != nil {
				h = b.contextHandle(ctx, c)
			}
			return fn(ctx, h, args)
		},
	})
	if err != nil {
		return s.fail(err)
	}
	return s.insertBinding(bind, out)
}

// NewMemory creates a standalone memory of initial pages, growing up to
// maximum pages when maximum is set.
func (s *Session) NewMemory(ctx context.Context, initial uint32, maximum *uint32, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "binding out"))
	}
	bind, err := s.b.runtime.Linker().NewMemory(ctx, initial, maximum)
	if err != nil {
		return s.fail(err)
	}
	return s.insertBinding(bind, out)
}

// NewTable creates a standalone funcref table.
func (s *Session) NewTable(ctx context.Context, initial uint32, maximum *uint32, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "binding out"))
	}
	bind, err := s.b.runtime.Linker().NewTable(ctx, initial, maximum)
	if err != nil {
		return s.fail(err)
	}
	return s.insertBinding(bind, out)
}

// NewGlobal creates a standalone global holding v.
func (s *Session) NewGlobal(ctx context.Context, v value.Wire, mutable bool, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "binding out"))
	}
	val, err := value.FromWire(v)
	if err != nil {
		return s.fail(err)
	}
	bind, err := s.b.runtime.Linker().NewGlobal(ctx, val, mutable)
	if err != nil {
		return s.fail(err)
	}
	return s.insertBinding(bind, out)
}

func (s *Session) insertBinding(bind linker.Binding, out *Handle) Status {
	h := s.b.bindings.Insert(bind)
	if h == 0 {
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	*out = h
	return StatusOK
}

// BindingKind returns the kind of a binding.
func (s *Session) BindingKind(h Handle, out *linker.Kind) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "kind out"))
	}
	bind, err := s.b.binding(h)
	if err != nil {
		return s.fail(err)
	}
	*out = bind.Kind()
	return StatusOK
}

// BindingDestroy releases a binding handle. Instances already linked
// against the binding keep the resource. The zero handle is ignored.
func (s *Session) BindingDestroy(h Handle) Status {
	if h == 0 {
		return StatusOK
	}
	if _, ok := s.b.bindings.Remove(h); !ok {
		return s.fail(errors.InvalidHandle("binding", uint64(h)))
	}
	return StatusOK
}

// RegisterDefaultImport adds a binding to the default imports used by
// InstantiateWithOptions. A later registration of the same name wins.
func (s *Session) RegisterDefaultImport(module, name ByteArray, binding Handle) Status {
	if err := s.b.register(s.b.defaults, module, name, binding); err != nil {
		return s.fail(err)
	}
	return StatusOK
}
