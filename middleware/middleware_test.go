package middleware

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/wasm"
)

// sumModule exports sum(n) = n + (n-1) + ... + 1 computed in a loop.
// Under DefaultCostTable with no unmetered locals a call costs 12n+5.
func sumModule() *wasm.Module {
	var body wasm.Code
	body.Block(wasm.OpBlock).
		Block(wasm.OpLoop).
		LocalGet(0).Op(wasm.OpI32Eqz).BrIf(1).
		LocalGet(1).LocalGet(0).Op(wasm.OpI32Add).LocalSet(1).
		LocalGet(0).I32Const(1).Op(wasm.OpI32Sub).LocalSet(0).
		Br(0).
		End().
		End().
		LocalGet(1).
		End()

	return &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Locals: []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
			Code:   body.Bytes(),
		}},
		Exports: []wasm.Export{{Name: "sum", Kind: wasm.KindFunc, Idx: 0}},
	}
}

func instantiate(t *testing.T, bin []byte) api.Module {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	t.Cleanup(func() { _ = rt.Close(ctx) })
	mod, err := rt.Instantiate(ctx, bin)
	require.NoError(t, err)
	return mod
}

func TestGeneratorOrder(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"empty", Config{}, []string{}},
		{"metering", Config{Metering: true}, []string{"metering"}},
		{"trace only", Config{OpcodeTrace: true}, []string{"opcode_trace"}},
		{"all", Config{Metering: true, RuntimeBreakpoints: true, OpcodeTrace: true},
			[]string{"metering", "runtime_breakpoints", "opcode_trace"}},
		{"breakpoints and trace", Config{RuntimeBreakpoints: true, OpcodeTrace: true},
			[]string{"runtime_breakpoints", "opcode_trace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Chain().Names())
			assert.Equal(t, tt.cfg.Empty(), g.Empty())
		})
	}
}

func TestGeneratorRequiresCostTable(t *testing.T) {
	_, err := NewGenerator(Config{Metering: true}, WithCostTable(CostTable{}))
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = NewGenerator(Config{OpcodeTrace: true}, WithCostTable(CostTable{}))
	assert.NoError(t, err, "an empty table only matters when metering")
}

func TestEmptyChainIsPassThrough(t *testing.T) {
	g, err := NewGenerator(Config{GasLimit: 100})
	require.NoError(t, err)

	bin := sumModule().Encode()
	out, res, err := g.Chain().Instrument(bin)
	require.NoError(t, err)
	assert.Same(t, &bin[0], &out[0], "empty chain must not copy or rewrite bytes")
	assert.False(t, res.Metered)
}

func TestChainsAreIndependent(t *testing.T) {
	g, err := NewGenerator(Config{OpcodeTrace: true})
	require.NoError(t, err)

	_, first, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)
	_, second, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)

	assert.NotEmpty(t, first.Locations)
	assert.Equal(t, first.Locations, second.Locations, "trace ids must restart for every compilation")
}

func TestReservedExportRejected(t *testing.T) {
	m := sumModule()
	m.Exports = append(m.Exports, wasm.Export{Name: ExportPointsUsed, Kind: wasm.KindFunc, Idx: 0})

	g, err := NewGenerator(Config{Metering: true})
	require.NoError(t, err)
	_, err = g.Chain().Apply(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReservedPrefix)

	t.Run("empty chain leaves the module alone", func(t *testing.T) {
		res, err := NewChain().Apply(m)
		require.NoError(t, err)
		assert.Empty(t, res.Exports)
		assert.False(t, res.Injected(ExportPointsUsed))
	})
}

func TestInstrumentationExports(t *testing.T) {
	g, err := NewGenerator(Config{Metering: true, RuntimeBreakpoints: true, OpcodeTrace: true})
	require.NoError(t, err)
	_, res, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)

	assert.Equal(t, []string{ExportPointsUsed, ExportPointsLimit, ExportBreakpoint, ExportTraceLocation}, res.Exports)
	assert.True(t, res.Injected(ExportBreakpoint))
	assert.False(t, res.Injected("sum"))

	var none *Instrumentation
	assert.False(t, none.Injected(ExportPointsUsed))
}

func TestMeteringCharges(t *testing.T) {
	g, err := NewGenerator(Config{Metering: true})
	require.NoError(t, err)
	bin, res, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)
	require.True(t, res.Metered)

	mod := instantiate(t, bin)
	used := mod.ExportedGlobal(ExportPointsUsed)
	limit := mod.ExportedGlobal(ExportPointsLimit).(api.MutableGlobal)
	require.NotNil(t, used)

	out, err := mod.ExportedFunction("sum").Call(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), out[0])
	assert.Equal(t, uint64(12*3+5), used.Get())

	used.(api.MutableGlobal).Set(0)
	limit.Set(12*3 + 5)
	_, err = mod.ExportedFunction("sum").Call(context.Background(), 3)
	require.NoError(t, err, "exact budget is enough")

	used.(api.MutableGlobal).Set(0)
	limit.Set(12*3 + 4)
	_, err = mod.ExportedFunction("sum").Call(context.Background(), 3)
	require.Error(t, err)
	assert.Greater(t, used.Get(), limit.Get())
}

func TestUnmeteredLocals(t *testing.T) {
	g, err := NewGenerator(Config{Metering: true, UnmeteredLocals: 1})
	require.NoError(t, err)
	bin, _, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)

	mod := instantiate(t, bin)
	_, err = mod.ExportedFunction("sum").Call(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(12*3+4), mod.ExportedGlobal(ExportPointsUsed).Get())
}

func TestBreakpointsInterrupt(t *testing.T) {
	g, err := NewGenerator(Config{RuntimeBreakpoints: true})
	require.NoError(t, err)
	bin, res, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)
	require.True(t, res.Breakpoints)

	mod := instantiate(t, bin)
	flag := mod.ExportedGlobal(ExportBreakpoint).(api.MutableGlobal)

	flag.Set(1)
	_, err = mod.ExportedFunction("sum").Call(context.Background(), 10)
	require.Error(t, err)

	flag.Set(0)
	out, err := mod.ExportedFunction("sum").Call(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), out[0])
}

func TestOpcodeTraceLocation(t *testing.T) {
	var body wasm.Code
	body.LocalGet(0).LocalGet(1).Op(wasm.OpI32DivS).End()
	m := &wasm.Module{
		Types:   []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: body.Bytes()}},
		Exports: []wasm.Export{{Name: "div", Kind: wasm.KindFunc, Idx: 0}},
	}

	g, err := NewGenerator(Config{OpcodeTrace: true})
	require.NoError(t, err)
	bin, res, err := g.Chain().Instrument(m.Encode())
	require.NoError(t, err)
	require.Len(t, res.Locations, 3)

	mod := instantiate(t, bin)
	_, err = mod.ExportedFunction("div").Call(context.Background(), 1, 0)
	require.Error(t, err, "division by zero traps")

	id := uint32(mod.ExportedGlobal(ExportTraceLocation).Get())
	loc, ok := res.Location(id)
	require.True(t, ok)
	assert.Equal(t, wasm.OpI32DivS, loc.Opcode)
	assert.Equal(t, 2, loc.Instr)
	assert.Contains(t, loc.String(), "i32.div_s")

	_, ok = res.Location(0)
	assert.False(t, ok)
}

func TestFullChainStillComputes(t *testing.T) {
	g, err := NewGenerator(Config{Metering: true, RuntimeBreakpoints: true, OpcodeTrace: true})
	require.NoError(t, err)
	bin, res, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)

	mod := instantiate(t, bin)
	out, err := mod.ExportedFunction("sum").Call(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(5050), out[0])

	// metering saw the stream before the other passes touched it
	assert.Equal(t, uint64(12*100+5), mod.ExportedGlobal(ExportPointsUsed).Get())

	loc, ok := res.Location(uint32(mod.ExportedGlobal(ExportTraceLocation).Get()))
	require.True(t, ok)
	assert.Equal(t, wasm.OpLocalGet, loc.Opcode)
}

func TestUnmeteredLocalsAboveLocalCount(t *testing.T) {
	g, err := NewGenerator(Config{Metering: true, UnmeteredLocals: math.MaxUint64})
	require.NoError(t, err)
	bin, _, err := g.Chain().Instrument(sumModule().Encode())
	require.NoError(t, err)

	mod := instantiate(t, bin)
	_, err = mod.ExportedFunction("sum").Call(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(12*3+4), mod.ExportedGlobal(ExportPointsUsed).Get())
}

func TestFingerprint(t *testing.T) {
	a, err := NewGenerator(Config{Metering: true, GasLimit: 10})
	require.NoError(t, err)
	b, err := NewGenerator(Config{Metering: true, GasLimit: 99})
	require.NoError(t, err)
	c, err := NewGenerator(Config{Metering: true, UnmeteredLocals: 2})
	require.NoError(t, err)
	none, err := NewGenerator(Config{GasLimit: 5})
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Equal(t, "none", none.Fingerprint())
}
