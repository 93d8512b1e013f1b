package middleware

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/wasm"
)

// ReservedPrefix starts the name of every export added by instrumentation.
// Modules that already export such names cannot be instrumented; plain
// instantiation leaves them alone.
const ReservedPrefix = "__wasmembed_"

// Export names of the instrumentation globals.
const (
	ExportPointsUsed    = ReservedPrefix + "points_used"
	ExportPointsLimit   = ReservedPrefix + "points_limit"
	ExportBreakpoint    = ReservedPrefix + "breakpoint"
	ExportTraceLocation = ReservedPrefix + "trace_location"
)

// IsReserved reports whether an export name starts with ReservedPrefix.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Pass is one instrumentation step.
type Pass interface {
	Name() string
	// Prepare declares module-level state, such as globals, before any
	// function is rewritten.
	Prepare(u *Unit) error
	// Instrument rewrites a single function body in place.
	Instrument(u *Unit, fn *Function) error
}

// Function is the function currently being rewritten.
type Function struct {
	Body  *wasm.FuncBody
	Type  wasm.FuncType
	Index uint32 // index in the function index space
}

// Unit is a module under instrumentation together with what the passes
// have recorded about it so far.
type Unit struct {
	Module *wasm.Module
	Result *Instrumentation
}

// AddGlobal appends a mutable global exported under name and returns its index.
func (u *Unit) AddGlobal(name string, t wasm.ValType, init uint64) uint32 {
	idx := uint32(u.Module.NumImportedGlobals() + len(u.Module.Globals))
	u.Module.Globals = append(u.Module.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: t, Mutable: true},
		Init: wasm.ConstExpr(t, init),
	})
	u.Module.Exports = append(u.Module.Exports, wasm.Export{Name: name, Kind: wasm.KindGlobal, Idx: idx})
	u.Result.Exports = append(u.Result.Exports, name)
	return idx
}

// Instrumentation describes what a chain added to a module.
type Instrumentation struct {
	Passes    []string
	Locations []Location
	// Exports lists the names added by the passes, in the order added.
	Exports []string

	Metered     bool
	Breakpoints bool
	Traced      bool
}

// Location identifies an instruction recorded by the opcode tracer.
type Location struct {
	Func   uint32 // function index
	Instr  int    // instruction index inside the traced body
	Sub    uint32
	Opcode byte
}

func (l Location) String() string {
	return fmt.Sprintf("func[%d] instr %d (%s)", l.Func, l.Instr, wasm.OpcodeName(l.Opcode, l.Sub))
}

// Injected reports whether name was exported by a pass rather than by the
// module itself.
func (i *Instrumentation) Injected(name string) bool {
	if i == nil {
		return false
	}
	for _, e := range i.Exports {
		if e == name {
			return true
		}
	}
	return false
}

// Location resolves a trace id. Zero means nothing has executed since the
// tracer was reset.
func (i *Instrumentation) Location(id uint32) (Location, bool) {
	if i == nil || id == 0 || int(id) > len(i.Locations) {
		return Location{}, false
	}
	return i.Locations[id-1], true
}

// Chain is an ordered list of passes built for one compilation.
type Chain struct {
	passes []Pass
}

// NewChain builds a chain from explicit passes, in order.
func NewChain(passes ...Pass) *Chain {
	return &Chain{passes: passes}
}

// Len returns the number of passes.
func (c *Chain) Len() int {
	return len(c.passes)
}

// Names lists the passes in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.passes))
	for i, p := range c.passes {
		names[i] = p.Name()
	}
	return names
}

// Apply instruments m in place.
func (c *Chain) Apply(m *wasm.Module) (*Instrumentation, error) {
	res := &Instrumentation{Passes: c.Names()}
	if len(c.passes) == 0 {
		return res, nil
	}

	for _, e := range m.Exports {
		if IsReserved(e.Name) {
			return nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
				Detail("export %q uses reserved prefix %q", e.Name, ReservedPrefix).Build()
		}
	}

	u := &Unit{Module: m, Result: res}
	for _, p := range c.passes {
		if err := p.Prepare(u); err != nil {
			return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "prepare "+p.Name())
		}
	}

	base := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		if int(m.Funcs[i]) >= len(m.Types) {
			return nil, errors.Load(fmt.Sprintf("function %d references missing type %d", base+uint32(i), m.Funcs[i]), nil)
		}
		fn := &Function{Body: &m.Code[i], Type: m.Types[m.Funcs[i]], Index: base + uint32(i)}
		for _, p := range c.passes {
			if err := p.Instrument(u, fn); err != nil {
				return nil, errors.New(errors.PhaseCompile, errors.KindInvalidData).
					Path(p.Name(), fmt.Sprintf("func[%d]", fn.Index)).Cause(err).Build()
			}
		}
	}
	return res, nil
}

// Instrument decodes bin, applies the chain and re-encodes it. An empty
// chain returns bin unchanged.
func (c *Chain) Instrument(bin []byte) ([]byte, *Instrumentation, error) {
	if len(c.passes) == 0 {
		return bin, &Instrumentation{}, nil
	}
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return nil, nil, errors.Load("parse module", err)
	}
	res, err := c.Apply(m)
	if err != nil {
		return nil, nil, err
	}
	return m.Encode(), res, nil
}

// Generator builds a fresh Chain for every compilation so that no pass
// state is shared between compilations.
type Generator struct {
	costs CostTable
	cfg   Config
}

// Option customizes a Generator.
type Option func(*Generator)

// WithCostTable replaces the default metering prices.
func WithCostTable(t CostTable) Option {
	return func(g *Generator) {
		g.costs = t
	}
}

// NewGenerator returns a chain generator for cfg.
func NewGenerator(cfg Config, opts ...Option) (*Generator, error) {
	g := &Generator{cfg: cfg, costs: DefaultCostTable()}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.Metering && g.costs.Empty() {
		return nil, errors.InvalidInput(errors.PhaseConfig, "metering requires a non-empty opcode cost table")
	}
	return g, nil
}

// Config returns the configuration the generator was built from.
func (g *Generator) Config() Config {
	return g.cfg
}

// Empty reports whether chains from this generator do nothing.
func (g *Generator) Empty() bool {
	return g == nil || g.cfg.Empty()
}

// Chain returns a new chain: metering, then breakpoints, then opcode trace.
func (g *Generator) Chain() *Chain {
	if g.Empty() {
		return NewChain()
	}
	var passes []Pass
	if g.cfg.Metering {
		passes = append(passes, &Metering{Costs: g.costs, UnmeteredLocals: g.cfg.UnmeteredLocals})
	}
	if g.cfg.RuntimeBreakpoints {
		passes = append(passes, &Breakpoints{})
	}
	if g.cfg.OpcodeTrace {
		passes = append(passes, &OpcodeTrace{})
	}
	return NewChain(passes...)
}

// Fingerprint identifies the instrumentation a generator produces. Two
// generators with equal fingerprints emit identical code, so compiled
// output can be shared between them. GasLimit is applied after
// instantiation and does not contribute.
func (g *Generator) Fingerprint() string {
	if g.Empty() {
		return "none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "m=%t,b=%t,t=%t", g.cfg.Metering, g.cfg.RuntimeBreakpoints, g.cfg.OpcodeTrace)
	if g.cfg.Metering {
		fmt.Fprintf(&b, ",u=%d,d=%d,l=%d", g.cfg.UnmeteredLocals, g.costs.Default, g.costs.Local)
		ops := make([]int, 0, len(g.costs.Opcodes))
		for op := range g.costs.Opcodes {
			ops = append(ops, int(op))
		}
		sort.Ints(ops)
		for _, op := range ops {
			fmt.Fprintf(&b, ",%x=%d", op, g.costs.Opcodes[byte(op)])
		}
		subs := make([]int, 0, len(g.costs.Misc))
		for sub := range g.costs.Misc {
			subs = append(subs, int(sub))
		}
		sort.Ints(subs)
		for _, sub := range subs {
			fmt.Fprintf(&b, ",fc%x=%d", sub, g.costs.Misc[uint32(sub)])
		}
	}
	return b.String()
}
