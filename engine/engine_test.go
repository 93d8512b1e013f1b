package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/wasm"
)

func addModule() *wasm.Module {
	var body wasm.Code
	body.LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()
	return &wasm.Module{
		Types: []wasm.FuncType{{
			Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
			Results: []wasm.ValType{wasm.ValI32},
		}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: body.Bytes()}},
		Exports: []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}},
	}
}

func newEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"no cache", Config{}, false},
		{"memory limit", Config{MemoryLimitPages: 256}, false},
		{"too many pages", Config{MemoryLimitPages: 65537}, true},
		{"negative cache", Config{CacheSize: -1}, true},
		{"huge cache", Config{CacheSize: 5000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(context.Background(), &tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
				return
			}
			require.NoError(t, err)
			require.NoError(t, e.Close(context.Background()))
		})
	}
}

func TestCompileAndRun(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	bin := addModule().Encode()

	mod, err := e.Compiler(nil).CompileBytes(ctx, bin)
	require.NoError(t, err)
	defer mod.Release(ctx)

	assert.Empty(t, mod.Instrumentation().Passes)
	assert.Len(t, mod.Exports(), 1)

	inst, err := e.Runtime().InstantiateModule(ctx, mod.Compiled(), wazero.NewModuleConfig().WithName("add"))
	require.NoError(t, err)
	res, err := inst.ExportedFunction("add").Call(ctx, 2, 40)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, res)
}

func TestCompileCache(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	c := e.Compiler(nil)
	bin := addModule().Encode()

	first, err := c.CompileBytes(ctx, bin)
	require.NoError(t, err)
	second, err := c.CompileBytes(ctx, bin)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, e.CacheStats().Len)

	first.Release(ctx)
	second.Release(ctx)
	assert.False(t, first.closed)

	e.PurgeCache()
	assert.True(t, first.closed)
	assert.Equal(t, 0, e.CacheStats().Len)
}

func TestCompileInstrumentedDiffersFromPlain(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	bin := addModule().Encode()

	plain, err := e.Compiler(nil).CompileBytes(ctx, bin)
	require.NoError(t, err)
	defer plain.Release(ctx)

	gen, err := middleware.NewGenerator(middleware.Config{Metering: true})
	require.NoError(t, err)
	metered, err := e.Compiler(gen).CompileBytes(ctx, bin)
	require.NoError(t, err)
	defer metered.Release(ctx)

	assert.NotEqual(t, plain.Key(), metered.Key())
	assert.True(t, metered.Instrumentation().Metered)
	_, ok := metered.Meta().ExportByName(middleware.ExportPointsUsed)
	assert.True(t, ok)
	// user-visible exports hide the instrumentation globals
	require.Len(t, metered.Exports(), 1)
	assert.Equal(t, "add", metered.Exports()[0].Name)
}

func TestPlainCompileKeepsReservedExports(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	m := addModule()
	m.Exports = append(m.Exports, wasm.Export{Name: middleware.ExportPointsUsed, Kind: wasm.KindFunc, Idx: 0})

	mod, err := e.Compiler(nil).CompileBytes(ctx, m.Encode())
	require.NoError(t, err)
	defer mod.Release(ctx)
	assert.Len(t, mod.Exports(), 2)
	assert.Empty(t, mod.Instrumentation().Exports)
}

func TestCacheKeyIncludesFingerprint(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	bin := addModule().Encode()

	compile := func(cfg middleware.Config) *Module {
		t.Helper()
		gen, err := middleware.NewGenerator(cfg)
		require.NoError(t, err)
		mod, err := e.Compiler(gen).CompileBytes(ctx, bin)
		require.NoError(t, err)
		t.Cleanup(func() { mod.Release(ctx) })
		return mod
	}

	// add declares no locals, so both thresholds emit the same code
	a := compile(middleware.Config{Metering: true})
	b := compile(middleware.Config{Metering: true, UnmeteredLocals: 5})
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, 2, e.CacheStats().Len)

	c := compile(middleware.Config{Metering: true, GasLimit: 99})
	assert.Same(t, a, c, "gas limit is applied after compilation")
}

func TestEvictionKeepsModuleInUse(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &Config{CacheSize: 1})
	c := e.Compiler(nil)

	held, err := c.CompileBytes(ctx, addModule().Encode())
	require.NoError(t, err)

	other := addModule()
	other.Exports[0].Name = "plus"
	next, err := c.CompileBytes(ctx, other.Encode())
	require.NoError(t, err)
	defer next.Release(ctx)

	// evicted but still referenced
	assert.False(t, held.closed)
	_, err = e.Runtime().InstantiateModule(ctx, held.Compiled(), wazero.NewModuleConfig().WithName("held"))
	require.NoError(t, err)

	held.Release(ctx)
	assert.True(t, held.closed)
}

func TestNoCacheClosesOnRelease(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &Config{})
	mod, err := e.Compiler(nil).CompileBytes(ctx, addModule().Encode())
	require.NoError(t, err)
	assert.Equal(t, CacheStats{}, e.CacheStats())
	mod.Release(ctx)
	assert.True(t, mod.closed)
}

func TestCompileErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	c := e.Compiler(nil)

	_, err := c.CompileBytes(ctx, nil)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = c.CompileBytes(ctx, []byte{0x00, 0x61, 0x73})
	assert.Equal(t, errors.PhaseLoad, errors.PhaseOf(err))

	// call to a function index that does not exist
	bad := addModule()
	var body wasm.Code
	body.Call(7).End()
	bad.Code[0].Code = body.Bytes()
	_, err = c.CompileBytes(ctx, bad.Encode())
	require.Error(t, err)
	assert.Equal(t, errors.KindCompilation, errors.KindOf(err))

	_, err = c.Compile(ctx, nil, nil)
	assert.Equal(t, errors.KindNilPointer, errors.KindOf(err))
}

func TestCompileAfterClose(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	_, err = e.Compiler(nil).CompileBytes(ctx, addModule().Encode())
	assert.Equal(t, errors.KindClosed, errors.KindOf(err))
}
