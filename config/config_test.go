package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
)

func TestApply(t *testing.T) {
	base := Config{
		GasLimit: null.IntFrom(100),
		Metering: null.BoolFrom(true),
	}
	over := Config{
		GasLimit:    null.IntFrom(5),
		OpcodeTrace: null.BoolFrom(true),
		Metering:    null.NewBool(false, false),
	}
	got := base.Apply(over)
	assert.Equal(t, null.IntFrom(5), got.GasLimit)
	assert.Equal(t, null.BoolFrom(true), got.Metering, "unset fields keep the lower layer")
	assert.Equal(t, null.BoolFrom(true), got.OpcodeTrace)
}

func TestParse(t *testing.T) {
	conf, err := Parse([]byte(`
gas_limit: 1000
unmetered_locals: 4
metering: true
cache_size: 0
`))
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(1000), conf.GasLimit)
	assert.Equal(t, null.IntFrom(4), conf.UnmeteredLocals)
	assert.Equal(t, null.BoolFrom(true), conf.Metering)
	assert.Equal(t, null.IntFrom(0), conf.CacheSize)
	assert.False(t, conf.OpcodeTrace.Valid)

	t.Run("empty", func(t *testing.T) {
		conf, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, Config{}, conf)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Parse([]byte("gas: 1\n"))
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidData, errors.KindOf(err))
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := Parse([]byte("metering: maybe\n"))
		require.Error(t, err)
	})

	t.Run("largest gas limit", func(t *testing.T) {
		conf, err := Parse([]byte("gas_limit: 9223372036854775807\nunmetered_locals: 9223372036854775807\n"))
		require.NoError(t, err)
		mw, err := conf.Middleware()
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxInt64), mw.GasLimit)
		assert.Equal(t, uint64(math.MaxInt64), mw.UnmeteredLocals)
	})

	t.Run("gas limit above int64", func(t *testing.T) {
		_, err := Parse([]byte("gas_limit: 18446744073709551615\n"))
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidData, errors.KindOf(err))
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WASMEMBED_GAS_LIMIT", "250")
	t.Setenv("WASMEMBED_RUNTIME_BREAKPOINTS", "true")

	conf, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(250), conf.GasLimit)
	assert.Equal(t, null.BoolFrom(true), conf.RuntimeBreakpoints)
	assert.False(t, conf.Metering.Valid)

	t.Setenv("WASMEMBED_CACHE_SIZE", "lots")
	_, err = FromEnv()
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	t.Setenv("WASMEMBED_CACHE_SIZE", "")
	t.Setenv("WASMEMBED_GAS_LIMIT", "18446744073709551615")
	_, err = FromEnv()
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestConsolidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasmembed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gas_limit: 10\nmetering: true\nunmetered_locals: 2\n"), 0o600))
	t.Setenv("WASMEMBED_GAS_LIMIT", "20")

	flags := FlagSet()
	require.NoError(t, flags.Parse([]string{"--trace", "--unmetered-locals=3"}))

	conf, err := Consolidate(path, flags)
	require.NoError(t, err)

	mw, err := conf.Middleware()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), mw.GasLimit, "environment beats file")
	assert.Equal(t, uint64(3), mw.UnmeteredLocals, "flags beat file")
	assert.True(t, mw.Metering)
	assert.True(t, mw.OpcodeTrace)
	assert.False(t, mw.RuntimeBreakpoints)

	eng, err := conf.Engine()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultCacheSize, eng.CacheSize)

	t.Run("missing file", func(t *testing.T) {
		_, err := Consolidate(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		conf Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"defaults", Default(), true},
		{"negative gas", Config{GasLimit: null.IntFrom(-1)}, false},
		{"negative unmetered locals", Config{UnmeteredLocals: null.IntFrom(-1)}, false},
		{"large unmetered locals", Config{UnmeteredLocals: null.IntFrom(math.MaxInt64)}, true},
		{"memory limit", Config{MemoryLimitPages: null.IntFrom(65537)}, false},
		{"cache size", Config{CacheSize: null.IntFrom(4096)}, true},
		{"unset invalid value ignored", Config{GasLimit: null.NewInt(-1, false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, errors.PhaseConfig, errors.PhaseOf(err))
			_, err = tt.conf.Middleware()
			assert.Error(t, err)
			_, err = tt.conf.Engine()
			assert.Error(t, err)
		})
	}
}

func TestMarshal(t *testing.T) {
	conf := Config{
		GasLimit:    null.IntFrom(42),
		OpcodeTrace: null.BoolFrom(false),
	}
	data, err := conf.Marshal()
	require.NoError(t, err)
	assert.Equal(t, "gas_limit: 42\nopcode_trace: false\n", string(data))

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, conf, back)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc struct {
		Title                string                    `json:"title"`
		AdditionalProperties bool                      `json:"additionalProperties"`
		Properties           map[string]map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "wasmembed configuration", doc.Title)
	assert.False(t, doc.AdditionalProperties)
	assert.Len(t, doc.Properties, 8)
	assert.Equal(t, "integer", doc.Properties["gas_limit"]["type"])
	assert.NotContains(t, doc.Properties["unmetered_locals"], "maximum")
	assert.Contains(t, doc.Properties["gas_limit"]["description"], "9223372036854775807")
	assert.Equal(t, "boolean", doc.Properties["metering"]["type"])
}
