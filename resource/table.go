package resource

import (
	"sync"
)

// Table maps handles to values and notifies observers.
type Table struct {
	backend   *LocalBackend
	name      string
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new table. name appears in diagnostics only.
func NewTable(name string) *Table {
	return &Table{
		backend: NewLocalBackend(),
		name:    name,
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Insert adds a value and returns its handle, 0 once the table is closed.
func (t *Table) Insert(typeID uint32, value any) Handle {
	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(handle Handle, typeID uint32) (any, bool) {
	actualTypeID, ok := t.backend.TypeID(handle)
	if !ok || actualTypeID != typeID {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Remove invalidates handle and returns (value, true) if it was live.
// A Dropper value is dropped before observers are notified.
func (t *Table) Remove(handle Handle) (any, bool) {
	value, typeID, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})

	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Handles returns every live handle.
func (t *Table) Handles() []Handle {
	var handles []Handle
	t.backend.Each(func(h Handle, _ uint32, _ any) bool {
		handles = append(handles, h)
		return true
	})
	return handles
}

// Clear removes every live handle.
func (t *Table) Clear() {
	// Collect handles first to avoid holding lock during Remove
	for _, h := range t.Handles() {
		t.Remove(h)
	}
}

// Close drops all values and stops accepting inserts.
func (t *Table) Close() {
	for _, v := range t.backend.Close() {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Typed is a Table restricted to values of one Go type.
type Typed[T any] struct {
	table  *Table
	typeID uint32
}

// NewTyped returns a typed view over table for typeID.
func NewTyped[T any](table *Table, typeID uint32) *Typed[T] {
	return &Typed[T]{table: table, typeID: typeID}
}

// Insert adds a value and returns its handle.
func (t *Typed[T]) Insert(value T) Handle {
	return t.table.Insert(t.typeID, value)
}

// Get retrieves a value by handle. Handles of another type are not found.
func (t *Typed[T]) Get(handle Handle) (T, bool) {
	var zero T
	v, ok := t.table.GetTyped(handle, t.typeID)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Remove drops a value of this type.
func (t *Typed[T]) Remove(handle Handle) (T, bool) {
	var zero T
	if _, ok := t.table.GetTyped(handle, t.typeID); !ok {
		return zero, false
	}
	v, ok := t.table.Remove(handle)
	if !ok {
		return zero, false
	}
	typed, _ := v.(T)
	return typed, true
}

// Each iterates over the live values of this type.
func (t *Typed[T]) Each(fn func(Handle, T) bool) {
	t.table.backend.Each(func(h Handle, typeID uint32, v any) bool {
		if typeID != t.typeID {
			return true
		}
		typed, ok := v.(T)
		if !ok {
			return true
		}
		return fn(h, typed)
	})
}
