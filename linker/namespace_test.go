package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/value"
)

func constFunc(t *testing.T, v int32) Binding {
	t.Helper()
	b, err := NewFunc(func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeI32(v)
	}, nil, []value.Kind{value.KindI32})
	require.NoError(t, err)
	return b
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()
	first := constFunc(t, 1)
	second := constFunc(t, 2)

	require.NoError(t, r.Register("env", "f", first))
	require.NoError(t, r.Register("env", "f", second))

	ns := r.Namespace("env")
	require.NotNil(t, ns)
	assert.Equal(t, 1, ns.Len())
	got, ok := ns.Get("f")
	require.True(t, ok)
	assert.True(t, got.Same(second))
	assert.False(t, got.Same(first))
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	r := NewRegistry()
	b := constFunc(t, 1)

	err := r.Register(string([]byte{0xff, 0xfe}), "f", b)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidUTF8, errors.KindOf(err))

	err = r.Register("env", string([]byte{0xc3, 0x28}), b)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidUTF8, errors.KindOf(err))

	err = r.Register("env", "f", Binding{})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	assert.Equal(t, 0, r.Len())
}

func TestFinalizeSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("env", "a", constFunc(t, 1)))
	require.NoError(t, r.Register("wasi", "b", constFunc(t, 2)))

	io := r.Finalize()
	assert.Same(t, io, r.Finalize())
	assert.Equal(t, []string{"env", "wasi"}, io.Modules())
	assert.Equal(t, 2, io.Len())

	require.NoError(t, r.Register("env", "c", constFunc(t, 3)))
	_, ok := io.Lookup("env", "c")
	assert.False(t, ok, "finalized object must not see later registrations")

	next := r.Finalize()
	assert.NotSame(t, io, next)
	assert.NotEqual(t, io.ID(), next.ID())
	assert.Equal(t, []string{"a", "c"}, next.Names("env"))
}

func TestNilImportObject(t *testing.T) {
	var io *ImportObject
	_, ok := io.Lookup("env", "f")
	assert.False(t, ok)
	assert.Equal(t, 0, io.Len())
	assert.Nil(t, io.Modules())
	assert.Equal(t, uint64(0), io.ID())
}

func TestBindingConstructors(t *testing.T) {
	_, err := Func(FuncDef{})
	assert.Equal(t, errors.KindNilPointer, errors.KindOf(err))

	_, err = NewFunc(func(context.Context, api.Module, []uint64) {}, []value.Kind{value.KindV128}, nil)
	assert.Equal(t, errors.KindUnsupported, errors.KindOf(err))

	_, err = Export(nil, "memory", KindMemory)
	assert.Equal(t, errors.KindNilPointer, errors.KindOf(err))

	b := constFunc(t, 1)
	assert.True(t, b.IsHost())
	assert.Equal(t, KindFunction, b.Kind())
	assert.Nil(t, b.Function())
	assert.Equal(t, "host function", b.String())
}

func TestKindNumbering(t *testing.T) {
	assert.Equal(t, Kind(0), KindFunction)
	assert.Equal(t, Kind(1), KindGlobal)
	assert.Equal(t, Kind(2), KindMemory)
	assert.Equal(t, Kind(3), KindTable)
	assert.Equal(t, "kind(9)", Kind(9).String())
}
