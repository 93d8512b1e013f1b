package linker

import (
	"sort"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
)

var importObjectSeq atomic.Uint64

// Namespace maps import names to bindings for one import module name.
type Namespace struct {
	entries map[string]Binding
	name    string
	mu      sync.RWMutex
}

// NewNamespace creates an empty namespace.
func NewNamespace(name string) *Namespace {
	return &Namespace{name: name, entries: make(map[string]Binding)}
}

// Name returns the import module name.
func (ns *Namespace) Name() string {
	return ns.name
}

// Insert adds or replaces the binding for name.
// Insert overwrites any existing binding with the same name.
func (ns *Namespace) Insert(name string, b Binding) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.entries[name] = b
}

// Get returns the binding registered under name.
func (ns *Namespace) Get(name string) (Binding, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	b, ok := ns.entries[name]
	return b, ok
}

// Len returns the number of entries.
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.entries)
}

// Names returns entry names, sorted.
func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.entries))
	for name := range ns.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ns *Namespace) snapshot() map[string]Binding {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make(map[string]Binding, len(ns.entries))
	for k, v := range ns.entries {
		out[k] = v
	}
	return out
}

// Registry collects bindings by import module name. It is safe for
// concurrent use.
type Registry struct {
	namespaces map[string]*Namespace
	frozen     *ImportObject
	mu         sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[string]*Namespace)}
}

// Register inserts b as module.name. Both names must be valid UTF-8 and b
// must refer to something. Nothing is checked against any module.
func (r *Registry) Register(module, name string, b Binding) error {
	if !utf8.ValidString(module) {
		return errors.InvalidUTF8(errors.PhaseLink, "module name", []byte(module))
	}
	if !utf8.ValidString(name) {
		return errors.InvalidUTF8(errors.PhaseLink, "import name", []byte(name))
	}
	if b.IsZero() {
		return errors.New(errors.PhaseLink, errors.KindInvalidInput).
			Path(module, name).Detail("binding is empty").Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[module]
	if !ok {
		ns = NewNamespace(module)
		r.namespaces[module] = ns
	}
	ns.Insert(name, b)
	r.frozen = nil

	Logger().Debug("import registered",
		zap.String("module", module),
		zap.String("name", name),
		zap.Stringer("binding", b))
	return nil
}

// Namespace returns the namespace for module, nil if nothing was registered.
func (r *Registry) Namespace(module string) *Namespace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namespaces[module]
}

// Len returns the number of namespaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.namespaces)
}

// Finalize returns an immutable snapshot of the registry. Repeated calls
// without an intervening Register return the same ImportObject.
func (r *Registry) Finalize() *ImportObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen != nil {
		return r.frozen
	}
	io := &ImportObject{
		id:      importObjectSeq.Add(1),
		modules: make(map[string]map[string]Binding, len(r.namespaces)),
	}
	for name, ns := range r.namespaces {
		io.modules[name] = ns.snapshot()
	}
	r.frozen = io
	return io
}

// ImportObject is a frozen module name → namespace mapping. A nil
// *ImportObject is empty.
type ImportObject struct {
	modules map[string]map[string]Binding
	id      uint64
}

// ID distinguishes import objects; host modules are named after it.
func (io *ImportObject) ID() uint64 {
	if io == nil {
		return 0
	}
	return io.id
}

// Lookup returns the binding for module.name.
func (io *ImportObject) Lookup(module, name string) (Binding, bool) {
	if io == nil {
		return Binding{}, false
	}
	b, ok := io.modules[module][name]
	return b, ok
}

// Modules returns the namespace names, sorted.
func (io *ImportObject) Modules() []string {
	if io == nil {
		return nil
	}
	names := make([]string, 0, len(io.modules))
	for name := range io.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names returns the entry names of one namespace, sorted.
func (io *ImportObject) Names(module string) []string {
	if io == nil {
		return nil
	}
	ns := io.modules[module]
	names := make([]string, 0, len(ns))
	for name := range ns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of bindings.
func (io *ImportObject) Len() int {
	if io == nil {
		return 0
	}
	n := 0
	for _, ns := range io.modules {
		n += len(ns)
	}
	return n
}
