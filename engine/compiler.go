package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/wasm"
)

// Compiler compiles modules with one instrumentation configuration.
type Compiler struct {
	engine *Engine
	gen    *middleware.Generator
}

// Generator returns the chain generator, nil when uninstrumented.
func (c *Compiler) Generator() *middleware.Generator {
	return c.gen
}

// Compile instruments m with a fresh chain and compiles the result. m is
// modified in place. When original is non-nil it must be the bytes m was
// parsed from without modification; it is compiled directly if the chain
// is empty.
//
// The returned module is acquired: call Release once instances have been
// created from it.
func (c *Compiler) Compile(ctx context.Context, m *wasm.Module, original []byte) (*Module, error) {
	if c.engine.Closed() {
		return nil, errors.Closed(errors.PhaseCompile, "engine")
	}
	if m == nil {
		return nil, errors.NilPointer(errors.PhaseCompile, "module")
	}

	chain := middleware.NewChain()
	if c.gen != nil {
		chain = c.gen.Chain()
	}

	var bin []byte
	inst := &middleware.Instrumentation{}
	if chain.Len() == 0 && original != nil {
		bin = original
	} else {
		var err error
		if inst, err = chain.Apply(m); err != nil {
			return nil, err
		}
		bin = m.Encode()
	}

	key := c.cacheKey(bin)
	if cached := c.engine.lookup(key); cached != nil {
		Logger().Debug("compiled module cache hit", zap.String("key", key[:16]))
		return cached, nil
	}

	start := time.Now()
	compiled, err := c.engine.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Compilation(err)
	}
	Logger().Debug("module compiled",
		zap.String("key", key[:16]),
		zap.Strings("passes", inst.Passes),
		zap.Int("size", len(bin)),
		zap.Duration("elapsed", time.Since(start)))

	mod := &Module{
		compiled:        compiled,
		meta:            m,
		instrumentation: inst,
		key:             key,
		refs:            1,
	}
	if got := c.engine.store(mod); got != mod {
		mod.evict()
		mod.Release(ctx)
		return got, nil
	}
	return mod, nil
}

// cacheKey digests the generator fingerprint together with the compiled
// bytes, so modules built by different instrumentation never share an entry
// and its recorded Instrumentation.
func (c *Compiler) cacheKey(bin []byte) string {
	h := sha256.New()
	h.Write([]byte(c.gen.Fingerprint()))
	h.Write([]byte{0})
	h.Write(bin)
	return hex.EncodeToString(h.Sum(nil))
}

// CompileBytes parses bin and compiles it.
func (c *Compiler) CompileBytes(ctx context.Context, bin []byte) (*Module, error) {
	if len(bin) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module bytes are empty")
	}
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, errors.Load("parse module", err)
	}
	return c.Compile(ctx, m, bin)
}

// Module is a compiled module together with the parsed form it was built
// from. The parsed form is read-only once compiled.
type Module struct {
	compiled        wazero.CompiledModule
	meta            *wasm.Module
	instrumentation *middleware.Instrumentation
	key             string

	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

// Compiled returns the wazero compiled module.
func (m *Module) Compiled() wazero.CompiledModule {
	return m.compiled
}

// Meta returns the parsed module, including instrumentation globals.
func (m *Module) Meta() *wasm.Module {
	return m.meta
}

// Instrumentation describes what the middleware chain added.
func (m *Module) Instrumentation() *middleware.Instrumentation {
	return m.instrumentation
}

// Key is the cache key: a digest of the generator fingerprint and the
// compiled bytes.
func (m *Module) Key() string {
	return m.key
}

// Exports lists the exports a user sees, in declaration order.
// Instrumentation exports are omitted.
func (m *Module) Exports() []wasm.Export {
	out := make([]wasm.Export, 0, len(m.meta.Exports))
	for _, e := range m.meta.Exports {
		if !m.instrumentation.Injected(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Release gives back a reference obtained from Compile.
func (m *Module) Release(ctx context.Context) {
	m.mu.Lock()
	m.refs--
	closeNow := m.refs <= 0 && m.evicted && !m.closed
	if closeNow {
		m.closed = true
	}
	m.mu.Unlock()
	if closeNow {
		m.close(ctx)
	}
}

func (m *Module) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.refs++
	return true
}

func (m *Module) evict() {
	m.mu.Lock()
	m.evicted = true
	closeNow := m.refs <= 0 && !m.closed
	if closeNow {
		m.closed = true
	}
	m.mu.Unlock()
	if closeNow {
		m.close(context.Background())
	}
}

func (m *Module) close(ctx context.Context) {
	if err := m.compiled.Close(ctx); err != nil {
		Logger().Warn("close compiled module", zap.String("key", m.key[:16]), zap.Error(err))
	}
}
