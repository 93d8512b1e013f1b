package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bluele/gcache"
	"github.com/go-playground/validator/v10"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/middleware"
)

var validate = validator.New()

// DefaultCacheSize is the number of compiled modules kept by default.
const DefaultCacheSize = 64

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`

	// CacheSize is the number of compiled modules kept in the LRU.
	// 0 disables caching.
	CacheSize int `yaml:"cache_size" validate:"gte=0,lte=4096"`

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	// Atomic operations stay guest-only.
	EnableThreads bool `yaml:"enable_threads"`
}

// DefaultConfig returns the configuration used when New receives nil.
func DefaultConfig() Config {
	return Config{CacheSize: DefaultCacheSize}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine config")
	}
	return nil
}

// Engine owns the single wazero store every module and instance lives in.
type Engine struct {
	runtime wazero.Runtime
	cache   gcache.Cache
	cfg     Config
	mu      sync.Mutex // serializes cache fill
	closed  atomic.Bool
}

// CacheStats reports compiled-module cache activity.
type CacheStats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// New creates an engine. A nil cfg selects DefaultConfig.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	runtimeCfg := newRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     c,
	}
	if c.CacheSize > 0 {
		e.cache = gcache.New(c.CacheSize).
			LRU().
			EvictedFunc(e.evicted).
			PurgeVisitorFunc(e.evicted).
			Build()
	}

	Logger().Info("engine created",
		zap.String("backend", Backend),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.Int("cache_size", c.CacheSize))
	return e, nil
}

// Runtime returns the underlying wazero store.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Config returns the validated configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Compiler returns a compiler that instruments with chains from gen.
// A nil gen compiles without instrumentation.
func (e *Engine) Compiler(gen *middleware.Generator) *Compiler {
	return &Compiler{engine: e, gen: gen}
}

// CacheStats returns a snapshot of the compiled-module cache counters.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return CacheStats{
		Len:    e.cache.Len(false),
		Hits:   e.cache.HitCount(),
		Misses: e.cache.MissCount(),
	}
}

// PurgeCache drops every cached module. Modules still in use are closed
// once their last user releases them.
func (e *Engine) PurgeCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// Close purges the cache and closes the store together with every module
// and instance in it. Calling Close twice is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.PurgeCache()
	Logger().Info("engine closed")
	return e.runtime.Close(ctx)
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

func (e *Engine) evicted(_, v any) {
	if m, ok := v.(*Module); ok {
		m.evict()
	}
}

func (e *Engine) lookup(key string) *Module {
	if e.cache == nil {
		return nil
	}
	v, err := e.cache.Get(key)
	if err != nil {
		return nil
	}
	m := v.(*Module)
	if !m.acquire() {
		return nil
	}
	return m
}

// store caches m unless another compilation won the race, in which case the
// cached module is returned acquired and m is left for the caller to drop.
func (e *Engine) store(m *Module) *Module {
	if e.cache == nil {
		m.evict()
		return m
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, err := e.cache.Get(m.key); err == nil {
		if cached := v.(*Module); cached.acquire() {
			return cached
		}
	}
	if err := e.cache.Set(m.key, m); err != nil {
		m.evict()
	}
	return m
}
