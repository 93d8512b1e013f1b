package middleware

import (
	"github.com/wippyai/wasm-embed/wasm"
)

// Config selects and parameterizes instrumentation. It is copied into a
// Generator and never mutated afterwards.
type Config struct {
	// GasLimit is the initial points budget applied to each instance.
	GasLimit uint64 `yaml:"gas_limit"`
	// UnmeteredLocals is the number of declared locals per function that
	// are free of charge. Any value is accepted; a threshold above a
	// function's local count charges nothing for its locals.
	UnmeteredLocals uint64 `yaml:"unmetered_locals"`

	OpcodeTrace        bool `yaml:"opcode_trace"`
	Metering           bool `yaml:"metering"`
	RuntimeBreakpoints bool `yaml:"runtime_breakpoints"`
}

// Empty reports whether no pass is enabled.
func (c Config) Empty() bool {
	return !c.Metering && !c.RuntimeBreakpoints && !c.OpcodeTrace
}

// CostTable prices instructions for the metering pass.
type CostTable struct {
	Opcodes map[byte]uint64
	Misc    map[uint32]uint64 // 0xFC sub-opcodes
	Default uint64
	// Local is charged per declared local above the unmetered threshold.
	Local uint64
}

// DefaultCostTable returns the built-in pricing: one point per instruction,
// more for calls, division and memory growth.
func DefaultCostTable() CostTable {
	return CostTable{
		Default: 1,
		Local:   1,
		Opcodes: map[byte]uint64{
			wasm.OpNop:                0,
			wasm.OpBlock:              0,
			wasm.OpLoop:               0,
			wasm.OpEnd:                0,
			wasm.OpElse:               0,
			wasm.OpCall:               10,
			wasm.OpCallIndirect:       15,
			wasm.OpReturnCall:         10,
			wasm.OpReturnCallIndirect: 15,
			wasm.OpI32DivS:            4,
			wasm.OpI32DivU:            4,
			wasm.OpI32RemS:            4,
			wasm.OpI32RemU:            4,
			wasm.OpI64DivS:            4,
			wasm.OpI64DivU:            4,
			wasm.OpI64RemS:            4,
			wasm.OpI64RemU:            4,
			wasm.OpF32Div:             4,
			wasm.OpF64Div:             4,
			wasm.OpF32Sqrt:            4,
			wasm.OpF64Sqrt:            4,
			wasm.OpMemoryGrow:         100,
		},
		Misc: map[uint32]uint64{
			wasm.MiscMemoryCopy: 50,
			wasm.MiscMemoryFill: 50,
			wasm.MiscMemoryInit: 50,
			wasm.MiscTableCopy:  50,
			wasm.MiscTableInit:  50,
			wasm.MiscTableGrow:  100,
		},
	}
}

// Empty reports whether the table prices nothing.
func (t CostTable) Empty() bool {
	return t.Default == 0 && len(t.Opcodes) == 0 && len(t.Misc) == 0
}

// Cost returns the price of one instruction.
func (t CostTable) Cost(ins wasm.Instruction) uint64 {
	if ins.Opcode == wasm.OpPrefixMisc {
		if c, ok := t.Misc[ins.Sub]; ok {
			return c
		}
		return t.Default
	}
	if c, ok := t.Opcodes[ins.Opcode]; ok {
		return c
	}
	return t.Default
}
