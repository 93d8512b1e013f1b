package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/wasm"
)

// Runtime ties the engine and linker together and tracks live instances.
type Runtime struct {
	engine    *engine.Engine
	linker    *linker.Linker
	plain     *engine.Compiler
	instances sync.Map // module name → *Instance
	seq       atomic.Uint64
	closed    atomic.Bool
}

// New creates a runtime with the default engine configuration.
func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a runtime. A nil cfg selects engine.DefaultConfig.
func NewWithConfig(ctx context.Context, cfg *engine.Config) (*Runtime, error) {
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		engine: eng,
		linker: linker.New(eng.Runtime()),
		plain:  eng.Compiler(nil),
	}, nil
}

// Engine returns the underlying engine.
func (r *Runtime) Engine() *engine.Engine {
	return r.engine
}

// Linker returns the linker used to resolve imports. Store resources
// (memories, globals, tables) are created through it.
func (r *Runtime) Linker() *linker.Linker {
	return r.linker
}

// Instantiate compiles bin without instrumentation and instantiates it
// against imports.
func (r *Runtime) Instantiate(ctx context.Context, bin []byte, imports *linker.ImportObject) (*Instance, error) {
	return r.instantiate(ctx, bin, imports, r.plain, 0)
}

// InstantiateWithOptions compiles bin with the middleware chain selected by
// cfg and instantiates it against imports. With metering enabled the points
// limit is set to cfg.GasLimit before the instance is returned.
func (r *Runtime) InstantiateWithOptions(ctx context.Context, bin []byte, imports *linker.ImportObject, cfg middleware.Config) (*Instance, error) {
	gen, err := middleware.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return r.instantiate(ctx, bin, imports, r.engine.Compiler(gen), cfg.GasLimit)
}

func (r *Runtime) instantiate(ctx context.Context, bin []byte, imports *linker.ImportObject, c *engine.Compiler, gasLimit uint64) (*Instance, error) {
	if r.closed.Load() {
		return nil, errors.Closed(errors.PhaseInstantiate, "runtime")
	}
	if len(bin) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module bytes are empty")
	}

	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Load("parse module", err)
	}

	res, err := r.linker.Resolve(ctx, m, imports)
	if err != nil {
		return nil, err
	}
	original := bin
	if res.Rewritten {
		original = nil
	}

	mod, err := c.Compile(ctx, m, original)
	if err != nil {
		res.Release(ctx)
		return nil, err
	}
	defer mod.Release(ctx)

	inst := &Instance{
		runtime:    r,
		name:       fmt.Sprintf("instance-%d", r.seq.Add(1)),
		meta:       mod.Meta(),
		instr:      mod.Instrumentation(),
		resolution: res,
	}
	inst.context = &Context{instance: inst}

	// registered first: the start function may already call host functions
	r.instances.Store(inst.name, inst)

	cfg := wazero.NewModuleConfig().WithName(inst.name).WithStartFunctions()
	apiMod, err := r.engine.Runtime().InstantiateModule(ctx, mod.Compiled(), cfg)
	if err != nil {
		r.instances.Delete(inst.name)
		res.Release(ctx)
		if missing := res.MissingError(); missing != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindMissingImport).
				Detail("%s", missing.Error()).Cause(err).Build()
		}
		return nil, errors.Instantiation(err)
	}
	inst.module = apiMod
	inst.bindInstrumentation()

	if inst.Metered() {
		if err := inst.SetPointsLimit(gasLimit); err != nil {
			_ = inst.Close(ctx)
			return nil, err
		}
	}

	Logger().Info("instance created",
		zap.String("instance", inst.name),
		zap.Strings("passes", inst.instr.Passes),
		zap.Int("exports", len(mod.Exports())))
	return inst, nil
}

// lookup finds the instance a wazero module belongs to.
func (r *Runtime) lookup(mod api.Module) *Instance {
	if mod == nil {
		return nil
	}
	v, ok := r.instances.Load(mod.Name())
	if !ok {
		return nil
	}
	return v.(*Instance)
}

// Len returns the number of live instances.
func (r *Runtime) Len() int {
	n := 0
	r.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close closes every live instance, the store resources created through
// the linker and finally the engine.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	r.instances.Range(func(_, v any) bool {
		err = multierr.Append(err, v.(*Instance).Close(ctx))
		return true
	})
	err = multierr.Append(err, r.linker.Close(ctx))
	err = multierr.Append(err, r.engine.Close(ctx))
	return err
}
