package runtime

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
)

// Context is the per-instance state visible to host functions: a host
// data slot and the instance's memory. The data slot imposes no ownership
// on what it holds.
type Context struct {
	instance *Instance
	data     any
	mu       sync.RWMutex
}

// Instance returns the owning instance.
func (c *Context) Instance() *Instance {
	return c.instance
}

// Data returns the host data, nil when unset.
func (c *Context) Data() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// SetData replaces the host data.
func (c *Context) SetData(v any) {
	c.mu.Lock()
	c.data = v
	c.mu.Unlock()
}

// Memory returns the memory at index. Only index 0 exists: a module has at
// most one memory.
func (c *Context) Memory(index uint32) (api.Memory, error) {
	if index > 0 {
		return nil, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			Detail("memory index %d: only memory 0 is supported", index).Build()
	}
	if c.instance.Closed() {
		return nil, errors.Closed(errors.PhaseInvoke, "instance")
	}
	mem := c.instance.module.Memory()
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseInvoke, "memory", "0")
	}
	return mem, nil
}
