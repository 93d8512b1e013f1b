package runtime

import (
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
)

// NamedExport is one entry of an export snapshot. Its Binding shares the
// live resource of the instance and must not be used after the instance
// is closed.
type NamedExport struct {
	Binding  linker.Binding
	instance *Instance
	Name     string
	Kind     linker.Kind
}

// Instance returns the instance the export belongs to. The reference does
// not keep the instance alive.
func (e NamedExport) Instance() *Instance {
	return e.instance
}

// Exports is a snapshot of an instance's exports in declaration order.
// It is owned by the caller and released independently of the instance.
type Exports struct {
	entries  []NamedExport
	released bool
}

// Exports snapshots the instance's exports in the order the module declares
// them. Instrumentation exports are not listed.
func (i *Instance) Exports() (*Exports, error) {
	if i.closed.Load() {
		return nil, errors.Closed(errors.PhaseInvoke, "instance")
	}

	var entries []NamedExport
	for _, e := range i.meta.Exports {
		if i.instr.Injected(e.Name) {
			continue
		}
		kind, ok := linker.KindFromWasm(e.Kind)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseInvoke, "unknown export kind for "+e.Name)
		}
		b, err := linker.Export(i.module, e.Name, kind)
		if err != nil {
			return nil, err
		}
		entries = append(entries, NamedExport{Name: e.Name, Kind: kind, Binding: b, instance: i})
	}
	return &Exports{entries: entries}, nil
}

// Len returns the number of exports, 0 after Release.
func (e *Exports) Len() int {
	if e == nil || e.released {
		return 0
	}
	return len(e.entries)
}

// At returns the export at index.
func (e *Exports) At(index int) (NamedExport, bool) {
	if index < 0 || index >= e.Len() {
		return NamedExport{}, false
	}
	return e.entries[index], true
}

// Lookup returns the export called name.
func (e *Exports) Lookup(name string) (NamedExport, bool) {
	for i := 0; i < e.Len(); i++ {
		if e.entries[i].Name == name {
			return e.entries[i], true
		}
	}
	return NamedExport{}, false
}

// Names lists export names in declaration order.
func (e *Exports) Names() []string {
	names := make([]string, e.Len())
	for i := range names {
		names[i] = e.entries[i].Name
	}
	return names
}

// Release drops the snapshot. Calling it twice is a no-op.
func (e *Exports) Release() {
	if e == nil {
		return
	}
	e.released = true
	e.entries = nil
}
