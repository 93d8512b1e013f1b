package linker

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/wasm"
)

// Linker resolves module imports inside one wazero store.
type Linker struct {
	runtime   wazero.Runtime
	hostRefs  map[string]int
	owned     []api.Module
	storeSeq  uint64
	hostModMu sync.Mutex
	ownedMu   sync.Mutex
}

// New creates a linker for rt. The linker does not own rt.
func New(rt wazero.Runtime) *Linker {
	return &Linker{
		runtime:  rt,
		hostRefs: make(map[string]int),
	}
}

// Runtime returns the wazero runtime.
func (l *Linker) Runtime() wazero.Runtime {
	return l.runtime
}

// Resolution is the outcome of linking one module. It holds references to
// the host modules the module imports from until Release.
type Resolution struct {
	linker      *Linker
	hostModules []string
	// Missing lists imports nothing supplied, in declaration order.
	Missing []errors.MissingImport
	// Rewritten is set when any import was renamed.
	Rewritten bool
	released  bool
}

// MissingError returns the missing imports as an error, nil when every
// import was resolved.
func (r *Resolution) MissingError() error {
	if r == nil || len(r.Missing) == 0 {
		return nil
	}
	return &errors.MissingImportsError{Imports: r.Missing}
}

// HostModules returns the names of the host modules the module links to.
func (r *Resolution) HostModules() []string {
	return r.hostModules
}

// Release gives back host module references. Calling it twice is a no-op.
func (r *Resolution) Release(ctx context.Context) {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.linker.releaseHostModules(ctx, r.hostModules)
}

// Resolve renames the imports of m so that they name the modules that
// actually provide each binding, and makes sure the host modules for
// function bindings exist. m is modified in place.
func (l *Linker) Resolve(ctx context.Context, m *wasm.Module, imports *ImportObject) (*Resolution, error) {
	res := &Resolution{linker: l}
	needed := make(map[string]string) // host module → namespace

	for i := range m.Imports {
		imp := &m.Imports[i]
		b, ok := imports.Lookup(imp.Module, imp.Name)
		if !ok {
			res.Missing = append(res.Missing, errors.MissingImport{
				Module: imp.Module,
				Name:   imp.Name,
				Kind:   wasm.KindName(imp.Desc.Kind),
			})
			continue
		}
		want, _ := KindFromWasm(imp.Desc.Kind)
		if b.Kind() != want {
			return nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
				Path(imp.Module, imp.Name).
				Detail("module imports a %s, binding is a %s", want, b.Kind()).
				Build()
		}

		module, name := b.Module(), b.Name()
		if b.IsHost() {
			module, name = hostModuleName(imports.ID(), imp.Module), imp.Name
			if _, ok := needed[module]; !ok {
				needed[module] = imp.Module
				res.hostModules = append(res.hostModules, module)
			}
		}
		if module != imp.Module || name != imp.Name {
			imp.Module, imp.Name = module, name
			res.Rewritten = true
		}
	}

	if len(res.Missing) > 0 {
		Logger().Debug("unresolved imports", zap.Error(res.MissingError()))
	}

	for i, name := range res.hostModules {
		ns := imports.modules[needed[name]]
		if err := l.acquireHostModule(ctx, name, ns); err != nil {
			l.releaseHostModules(ctx, res.hostModules[:i])
			return nil, err
		}
	}
	return res, nil
}

func hostModuleName(id uint64, namespace string) string {
	return fmt.Sprintf("%s#io%d", namespace, id)
}

// acquireHostModule instantiates the host module on first use and counts
// the reference.
func (l *Linker) acquireHostModule(ctx context.Context, name string, entries map[string]Binding) error {
	l.hostModMu.Lock()
	defer l.hostModMu.Unlock()

	if l.hostRefs[name] > 0 {
		l.hostRefs[name]++
		return nil
	}

	builder := l.runtime.NewHostModuleBuilder(name)
	for fname, b := range entries {
		if !b.IsHost() {
			continue
		}
		def := b.FuncDef()
		builder.NewFunctionBuilder().
			WithGoModuleFunction(def.Handler, def.ParamTypes, def.ResultTypes).
			Export(fname)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.New(errors.PhaseLink, errors.KindInstantiation).
			Path(name).Detail("host module").Cause(err).Build()
	}
	l.hostRefs[name] = 1
	Logger().Debug("host module created", zap.String("module", name))
	return nil
}

// releaseHostModules decrements reference counts and closes modules that reach zero.
func (l *Linker) releaseHostModules(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}
	l.hostModMu.Lock()
	defer l.hostModMu.Unlock()

	for _, name := range names {
		count, ok := l.hostRefs[name]
		if !ok {
			continue
		}
		count--
		if count > 0 {
			l.hostRefs[name] = count
			continue
		}
		delete(l.hostRefs, name)
		if mod := l.runtime.Module(name); mod != nil {
			if err := mod.Close(ctx); err != nil {
				Logger().Warn("close host module", zap.String("module", name), zap.Error(err))
			}
		}
		Logger().Debug("host module closed", zap.String("module", name))
	}
}

// HostModuleRefs returns the reference count of a host module.
func (l *Linker) HostModuleRefs(name string) int {
	l.hostModMu.Lock()
	defer l.hostModMu.Unlock()
	return l.hostRefs[name]
}

// Close closes every store resource created through the linker. Host
// modules still referenced stay open until their instances release them.
// Does not close the wazero runtime.
func (l *Linker) Close(ctx context.Context) error {
	l.ownedMu.Lock()
	owned := l.owned
	l.owned = nil
	l.ownedMu.Unlock()

	var err error
	for _, o := range owned {
		err = multierr.Append(err, o.Close(ctx))
	}
	return err
}
