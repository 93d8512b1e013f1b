package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed      = errors.New("resource backend closed")
	ErrExhausted   = errors.New("resource backend has no free slots")
	errInvalidSlot = errors.New("invalid slot")
)

const maxSlots = 1<<32 - 2

// LocalBackend is an in-memory slot store with per-slot generations.
type LocalBackend struct {
	entries  []entry
	freeList []uint32
	live     int
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value  any
	typeID uint32
	gen    uint32
	valid  bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if n := len(b.freeList); n > 0 {
		slot := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		e := &b.entries[slot]
		e.gen++
		e.typeID, e.value, e.valid = typeID, value, true
		b.live++
		return makeHandle(slot, e.gen), nil
	}

	if len(b.entries) >= maxSlots {
		return 0, ErrExhausted
	}
	b.entries = append(b.entries, entry{typeID: typeID, value: value, valid: true})
	b.live++
	return makeHandle(uint32(len(b.entries)-1), 0), nil
}

// lookup returns the entry for handle. Callers hold b.mu.
func (b *LocalBackend) lookup(handle Handle) (*entry, error) {
	if handle == 0 {
		return nil, errInvalidSlot
	}
	slot := handle.Slot()
	if int(slot) >= len(b.entries) {
		return nil, errInvalidSlot
	}
	e := &b.entries[slot]
	if !e.valid || e.gen != handle.Generation() {
		return nil, errInvalidSlot
	}
	return e, nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, err := b.lookup(handle)
	if err != nil {
		return nil, false
	}
	return e.value, true
}

// TypeID returns the type a handle was created with.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, err := b.lookup(handle)
	if err != nil {
		return 0, false
	}
	return e.typeID, true
}

// Drop invalidates handle and returns the value it held.
func (b *LocalBackend) Drop(handle Handle) (any, uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(handle)
	if err != nil {
		return nil, 0, false
	}
	value, typeID := e.value, e.typeID
	e.valid = false
	e.value = nil
	b.live--
	b.freeList = append(b.freeList, handle.Slot())
	return value, typeID, true
}

// Len returns the number of live handles.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// Each calls fn for every live handle until fn returns false. fn must not
// modify the backend.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.entries {
		e := &b.entries[i]
		if e.valid && !fn(makeHandle(uint32(i), e.gen), e.typeID, e.value) {
			return
		}
	}
}

// Close invalidates every handle and returns the values still held.
func (b *LocalBackend) Close() []any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var values []any
	for i := range b.entries {
		if b.entries[i].valid {
			values = append(values, b.entries[i].value)
		}
	}
	b.entries = nil
	b.freeList = nil
	b.live = 0
	return values
}
