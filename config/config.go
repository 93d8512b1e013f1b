// Package config consolidates compilation and engine options from
// defaults, a YAML file, the environment and command-line flags, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"io"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/middleware"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "WASMEMBED"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		switch n := field.Interface().(type) {
		case null.Int:
			if n.Valid {
				return n.Int64
			}
		case null.Bool:
			if n.Valid {
				return n.Bool
			}
		}
		return nil
	}, null.Int{}, null.Bool{})
	return v
}

// Config is a partial configuration. Unset fields do not override lower
// layers when applied.
//
// GasLimit and UnmeteredLocals are signed 64-bit in every layer, so a file,
// variable or flag can set at most math.MaxInt64 points or locals. Values
// above that fail to parse. The full uint64 range is only reachable through
// middleware.Config and the boundary CompilationOptions.
type Config struct {
	GasLimit           null.Int  `json:"gasLimit" envconfig:"gas_limit" validate:"omitempty,gte=0"`
	UnmeteredLocals    null.Int  `json:"unmeteredLocals" envconfig:"unmetered_locals" validate:"omitempty,gte=0"`
	Metering           null.Bool `json:"metering" envconfig:"metering"`
	OpcodeTrace        null.Bool `json:"opcodeTrace" envconfig:"opcode_trace"`
	RuntimeBreakpoints null.Bool `json:"runtimeBreakpoints" envconfig:"runtime_breakpoints"`

	MemoryLimitPages null.Int  `json:"memoryLimitPages" envconfig:"memory_limit_pages" validate:"omitempty,gte=0,lte=65536"`
	CacheSize        null.Int  `json:"cacheSize" envconfig:"cache_size" validate:"omitempty,gte=0,lte=4096"`
	EnableThreads    null.Bool `json:"enableThreads" envconfig:"enable_threads"`
}

// Default returns the lowest layer.
func Default() Config {
	return Config{
		GasLimit:           null.NewInt(0, false),
		UnmeteredLocals:    null.NewInt(0, false),
		Metering:           null.NewBool(false, false),
		OpcodeTrace:        null.NewBool(false, false),
		RuntimeBreakpoints: null.NewBool(false, false),
		CacheSize:          null.NewInt(engine.DefaultCacheSize, false),
	}
}

// Apply returns c overridden by every field set in cfg.
func (c Config) Apply(cfg Config) Config {
	if cfg.GasLimit.Valid {
		c.GasLimit = cfg.GasLimit
	}
	if cfg.UnmeteredLocals.Valid {
		c.UnmeteredLocals = cfg.UnmeteredLocals
	}
	if cfg.Metering.Valid {
		c.Metering = cfg.Metering
	}
	if cfg.OpcodeTrace.Valid {
		c.OpcodeTrace = cfg.OpcodeTrace
	}
	if cfg.RuntimeBreakpoints.Valid {
		c.RuntimeBreakpoints = cfg.RuntimeBreakpoints
	}
	if cfg.MemoryLimitPages.Valid {
		c.MemoryLimitPages = cfg.MemoryLimitPages
	}
	if cfg.CacheSize.Valid {
		c.CacheSize = cfg.CacheSize
	}
	if cfg.EnableThreads.Valid {
		c.EnableThreads = cfg.EnableThreads
	}
	return c
}

// Validate checks the ranges of the fields that are set.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "config")
	}
	return nil
}

// fileConfig mirrors Config with plain types; yaml cannot decode into
// the null wrappers.
type fileConfig struct {
	GasLimit           *int64 `yaml:"gas_limit,omitempty" jsonschema:"minimum=0,description=points budget of each instance (at most 9223372036854775807)"`
	UnmeteredLocals    *int64 `yaml:"unmetered_locals,omitempty" jsonschema:"minimum=0,description=free locals per function (at most 9223372036854775807)"`
	Metering           *bool  `yaml:"metering,omitempty"`
	OpcodeTrace        *bool  `yaml:"opcode_trace,omitempty"`
	RuntimeBreakpoints *bool  `yaml:"runtime_breakpoints,omitempty"`
	MemoryLimitPages   *int64 `yaml:"memory_limit_pages,omitempty" jsonschema:"minimum=0,maximum=65536"`
	CacheSize          *int64 `yaml:"cache_size,omitempty" jsonschema:"minimum=0,maximum=4096"`
	EnableThreads      *bool  `yaml:"enable_threads,omitempty"`
}

func (f fileConfig) config() Config {
	return Config{
		GasLimit:           null.IntFromPtr(f.GasLimit),
		UnmeteredLocals:    null.IntFromPtr(f.UnmeteredLocals),
		Metering:           null.BoolFromPtr(f.Metering),
		OpcodeTrace:        null.BoolFromPtr(f.OpcodeTrace),
		RuntimeBreakpoints: null.BoolFromPtr(f.RuntimeBreakpoints),
		MemoryLimitPages:   null.IntFromPtr(f.MemoryLimitPages),
		CacheSize:          null.IntFromPtr(f.CacheSize),
		EnableThreads:      null.BoolFromPtr(f.EnableThreads),
	}
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var f fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode yaml")
	}
	return f.config(), nil
}

// Marshal encodes the fields set in c as YAML.
func (c Config) Marshal() ([]byte, error) {
	f := fileConfig{
		GasLimit:           c.GasLimit.Ptr(),
		UnmeteredLocals:    c.UnmeteredLocals.Ptr(),
		Metering:           c.Metering.Ptr(),
		OpcodeTrace:        c.OpcodeTrace.Ptr(),
		RuntimeBreakpoints: c.RuntimeBreakpoints.Ptr(),
		MemoryLimitPages:   c.MemoryLimitPages.Ptr(),
		CacheSize:          c.CacheSize.Ptr(),
		EnableThreads:      c.EnableThreads.Ptr(),
	}
	return yaml.Marshal(f)
}

// LoadFile reads the YAML file at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	return Parse(data)
}

// FromEnv reads WASMEMBED_* variables, e.g. WASMEMBED_GAS_LIMIT.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "environment")
	}
	return c, nil
}

// Middleware returns the instrumentation settings.
func (c Config) Middleware() (middleware.Config, error) {
	if err := c.Validate(); err != nil {
		return middleware.Config{}, err
	}
	return middleware.Config{
		GasLimit:           uint64(c.GasLimit.Int64),
		UnmeteredLocals:    uint64(c.UnmeteredLocals.Int64),
		Metering:           c.Metering.Bool,
		OpcodeTrace:        c.OpcodeTrace.Bool,
		RuntimeBreakpoints: c.RuntimeBreakpoints.Bool,
	}, nil
}

// Engine returns the engine settings.
func (c Config) Engine() (*engine.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg := engine.DefaultConfig()
	if c.MemoryLimitPages.Valid {
		cfg.MemoryLimitPages = uint32(c.MemoryLimitPages.Int64)
	}
	if c.CacheSize.Valid {
		cfg.CacheSize = int(c.CacheSize.Int64)
	}
	cfg.EnableThreads = c.EnableThreads.Bool
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
