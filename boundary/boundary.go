package boundary

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/runtime"
)

// handle type ids
const (
	typeInstance uint32 = iota + 1
	typeSnapshot
	typeExport
	typeBinding
	typeContext
	typeMemory
)

var typeNames = map[uint32]string{
	typeInstance: "instance",
	typeSnapshot: "exports",
	typeExport:   "export",
	typeBinding:  "binding",
	typeContext:  "context",
	typeMemory:   "memory",
}

// Boundary owns a runtime, the default import registry and every handle
// given out to the host.
type Boundary struct {
	runtime  *runtime.Runtime
	defaults *linker.Registry
	handles  *resource.Table

	instances *resource.Typed[*runtime.Instance]
	snapshots *resource.Typed[*snapshot]
	exports   *resource.Typed[runtime.NamedExport]
	bindings  *resource.Typed[linker.Binding]
	contexts  *resource.Typed[*runtime.Context]
	memories  *resource.Typed[api.Memory]

	// handles that die with an instance: its context, memories and
	// bindings taken from its exports
	derived  map[*runtime.Instance][]Handle
	ctxIndex map[*runtime.Context]Handle
	mu       sync.Mutex

	closed atomic.Bool
}

// snapshot is an export catalog plus the entry handles handed out for it.
type snapshot struct {
	exports *runtime.Exports
	entries []Handle
}

func (s *snapshot) Drop() {
	s.exports.Release()
}

// New creates a boundary over a fresh runtime. A nil cfg selects the
// engine defaults.
func New(ctx context.Context, cfg *engine.Config) (*Boundary, error) {
	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	table := resource.NewTable("boundary")
	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		Logger().Debug("handle "+e.Type.String(),
			zap.Stringer("handle", e.Handle),
			zap.String("type", typeNames[e.TypeID]))
	}))

	return &Boundary{
		runtime:   rt,
		defaults:  linker.NewRegistry(),
		handles:   table,
		instances: resource.NewTyped[*runtime.Instance](table, typeInstance),
		snapshots: resource.NewTyped[*snapshot](table, typeSnapshot),
		exports:   resource.NewTyped[runtime.NamedExport](table, typeExport),
		bindings:  resource.NewTyped[linker.Binding](table, typeBinding),
		contexts:  resource.NewTyped[*runtime.Context](table, typeContext),
		memories:  resource.NewTyped[api.Memory](table, typeMemory),
		derived:   make(map[*runtime.Instance][]Handle),
		ctxIndex:  make(map[*runtime.Context]Handle),
	}, nil
}

// Runtime returns the underlying runtime.
func (b *Boundary) Runtime() *runtime.Runtime {
	return b.runtime
}

// DefaultImports returns the registry bound by InstantiateWithOptions.
func (b *Boundary) DefaultImports() *linker.Registry {
	return b.defaults
}

// Handles returns the number of live handles of every type.
func (b *Boundary) Handles() int {
	return b.handles.Len()
}

// NewSession returns an error slot for one goroutine.
func (b *Boundary) NewSession() *Session {
	return &Session{b: b}
}

// Close invalidates every handle and closes the runtime with all its
// instances.
func (b *Boundary) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.handles.Close()

	b.mu.Lock()
	b.derived = make(map[*runtime.Instance][]Handle)
	b.ctxIndex = make(map[*runtime.Context]Handle)
	b.mu.Unlock()

	return b.runtime.Close(ctx)
}

// pending collects instances whose context was handed to a host function
// while they were still being instantiated.
type pending struct {
	instances []*runtime.Instance
}

type pendingKey struct{}

func (b *Boundary) instantiate(ctx context.Context, fn func(context.Context) (*runtime.Instance, error)) (Handle, error) {
	if b.closed.Load() {
		return 0, errors.Closed(errors.PhaseBoundary, "boundary")
	}
	p := &pending{}
	inst, err := fn(context.WithValue(ctx, pendingKey{}, p))
	if err != nil {
		for _, i := range p.instances {
			b.dropDerived(i)
		}
		return 0, err
	}
	h := b.instances.Insert(inst)
	if h == 0 {
		_ = inst.Close(ctx)
		b.dropDerived(inst)
		return 0, errors.Closed(errors.PhaseBoundary, "boundary")
	}
	return h, nil
}

// contextHandle returns the handle of c, creating it on first use.
func (b *Boundary) contextHandle(ctx context.Context, c *runtime.Context) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h, ok := b.ctxIndex[c]; ok {
		return h
	}
	h := b.contexts.Insert(c)
	if h == 0 {
		return 0
	}
	inst := c.Instance()
	b.ctxIndex[c] = h
	b.derived[inst] = append(b.derived[inst], h)
	if p, ok := ctx.Value(pendingKey{}).(*pending); ok {
		p.instances = append(p.instances, inst)
	}
	return h
}

// derive ties h to the lifetime of inst.
func (b *Boundary) derive(inst *runtime.Instance, h Handle) {
	b.mu.Lock()
	b.derived[inst] = append(b.derived[inst], h)
	b.mu.Unlock()
}

func (b *Boundary) dropDerived(inst *runtime.Instance) {
	b.mu.Lock()
	handles := b.derived[inst]
	delete(b.derived, inst)
	delete(b.ctxIndex, inst.Context())
	b.mu.Unlock()

	for _, h := range handles {
		b.handles.Remove(h)
	}
}

func (b *Boundary) instance(h Handle) (*runtime.Instance, error) {
	inst, ok := b.instances.Get(h)
	if !ok {
		return nil, errors.InvalidHandle("instance", uint64(h))
	}
	return inst, nil
}

func (b *Boundary) binding(h Handle) (linker.Binding, error) {
	bind, ok := b.bindings.Get(h)
	if !ok {
		return linker.Binding{}, errors.InvalidHandle("binding", uint64(h))
	}
	return bind, nil
}

func (b *Boundary) contextOf(h Handle) (*runtime.Context, error) {
	c, ok := b.contexts.Get(h)
	if !ok {
		return nil, errors.InvalidHandle("context", uint64(h))
	}
	return c, nil
}

func (b *Boundary) memory(h Handle) (api.Memory, error) {
	m, ok := b.memories.Get(h)
	if !ok {
		return nil, errors.InvalidHandle("memory", uint64(h))
	}
	return m, nil
}

func (b *Boundary) register(reg *linker.Registry, module, name ByteArray, h Handle) error {
	mod, err := module.text("import module name")
	if err != nil {
		return err
	}
	imp, err := name.text("import name")
	if err != nil {
		return err
	}
	bind, err := b.binding(h)
	if err != nil {
		return err
	}
	return reg.Register(mod, imp, bind)
}
