package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/value"
)

// Call invokes the exported function name. A missing export, a wrong
// argument count or kind, and any trap are returned as errors; none of
// them leave the instance unusable.
func (i *Instance) Call(ctx context.Context, name string, args []value.Value) ([]value.Value, error) {
	results, err := i.call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, len(results.kinds))
	for j, k := range results.kinds {
		out[j], _ = value.FromBits(k, results.stack[j])
	}
	return out, nil
}

// CallInto is Call writing at most len(out) results into out. It returns
// the number of results written. out is not touched when the call fails
// or produces no results.
func (i *Instance) CallInto(ctx context.Context, name string, args []value.Value, out []value.Value) (int, error) {
	results, err := i.call(ctx, name, args)
	if err != nil {
		return 0, err
	}
	n := min(len(out), len(results.kinds))
	for j := 0; j < n; j++ {
		out[j], _ = value.FromBits(results.kinds[j], results.stack[j])
	}
	return n, nil
}

type rawResults struct {
	stack []uint64
	kinds []value.Kind
}

func (i *Instance) call(ctx context.Context, name string, args []value.Value) (rawResults, error) {
	if i == nil {
		return rawResults{}, errors.NilPointer(errors.PhaseInvoke, "instance")
	}
	if i.closed.Load() {
		return rawResults{}, errors.Closed(errors.PhaseInvoke, "instance")
	}
	if name == "" {
		return rawResults{}, errors.InvalidInput(errors.PhaseInvoke, "export name is empty")
	}

	fn := i.module.ExportedFunction(name)
	if fn == nil || i.instr.Injected(name) {
		return rawResults{}, errors.NotFound(errors.PhaseInvoke, "export", name)
	}
	def := fn.Definition()

	params, err := value.KindsOf(def.ParamTypes())
	if err != nil {
		return rawResults{}, errors.New(errors.PhaseInvoke, errors.KindUnsupported).
			Path(name).Detail("parameter types").Cause(err).Build()
	}
	kinds, err := value.KindsOf(def.ResultTypes())
	if err != nil {
		return rawResults{}, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Path(name).Detail("result types").Cause(err).Build()
	}

	if len(args) != len(params) {
		return rawResults{}, errors.ArityMismatch(errors.PhaseInvoke, name, len(params), len(args))
	}
	stack := make([]uint64, max(len(params), len(kinds)))
	for j, a := range args {
		if a.Kind() != params[j] {
			return rawResults{}, errors.TypeMismatch(errors.PhaseInvoke,
				[]string{name, fmt.Sprintf("arg[%d]", j)}, params[j].String(), a.Kind().String())
		}
		stack[j] = a.Bits()
	}

	i.resetTrace()
	callErr := fn.CallWithStack(ctx, stack)
	if loc, ok := i.LastLocation(); ok {
		Logger().Debug("opcode trace",
			zap.String("instance", i.name),
			zap.String("export", name),
			zap.Stringer("location", loc))
	}
	if callErr != nil {
		return rawResults{}, i.classify(name, callErr)
	}
	return rawResults{stack: stack[:len(kinds)], kinds: kinds}, nil
}

// classify names what stopped a failed call: an exhausted budget, an
// interrupt, or any other trap.
func (i *Instance) classify(name string, err error) error {
	kind, detail := errors.KindTrap, "call trapped"
	switch {
	case i.exhausted():
		kind = errors.KindBudgetExhausted
		detail = fmt.Sprintf("points budget exhausted: used %d, limit %d", i.pointsUsed.Get(), i.pointsLimit.Get())
	case i.interrupted():
		kind, detail = errors.KindInterrupted, "interrupted by breakpoint"
	}
	b := errors.New(errors.PhaseInvoke, kind).Path(name).Cause(err)
	if loc, ok := i.LastLocation(); ok {
		return b.Detail("%s at %s", detail, loc).Value(loc).Build()
	}
	return b.Detail("%s", detail).Build()
}
