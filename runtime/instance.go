package runtime

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/wasm"
)

// Instance is a live module. It owns its Context and the host module
// references taken when it was linked.
type Instance struct {
	runtime    *Runtime
	module     api.Module
	context    *Context
	meta       *wasm.Module
	instr      *middleware.Instrumentation
	resolution *linker.Resolution

	pointsUsed  api.MutableGlobal
	pointsLimit api.MutableGlobal
	breakpoint  api.MutableGlobal
	traceLoc    api.Global

	name   string
	closed atomic.Bool
}

func (i *Instance) bindInstrumentation() {
	mutable := func(name string) api.MutableGlobal {
		if g, ok := i.module.ExportedGlobal(name).(api.MutableGlobal); ok {
			return g
		}
		return nil
	}
	if i.instr.Metered {
		i.pointsUsed = mutable(middleware.ExportPointsUsed)
		i.pointsLimit = mutable(middleware.ExportPointsLimit)
	}
	if i.instr.Breakpoints {
		i.breakpoint = mutable(middleware.ExportBreakpoint)
	}
	if i.instr.Traced {
		i.traceLoc = i.module.ExportedGlobal(middleware.ExportTraceLocation)
	}
}

// Name returns the store name of the instance.
func (i *Instance) Name() string {
	return i.name
}

// Module returns the wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// Context returns the instance context. It is valid until Close.
func (i *Instance) Context() *Context {
	return i.context
}

// SetData stores host data in the instance context.
func (i *Instance) SetData(v any) {
	i.context.SetData(v)
}

// Instrumentation describes the passes the instance was compiled with.
func (i *Instance) Instrumentation() *middleware.Instrumentation {
	return i.instr
}

// Closed reports whether Close has been called.
func (i *Instance) Closed() bool {
	return i.closed.Load()
}

// Close releases the instance and the host modules it linked against.
// Closing a nil or already closed instance is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	if i == nil || !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.runtime.instances.Delete(i.name)

	var err error
	if i.module != nil {
		err = multierr.Append(err, i.module.Close(ctx))
	}
	i.resolution.Release(ctx)

	Logger().Info("instance closed", zap.String("instance", i.name), zap.Error(err))
	return err
}

// Metered reports whether the instance counts points.
func (i *Instance) Metered() bool {
	return i.pointsUsed != nil && i.pointsLimit != nil
}

func (i *Instance) checkMetered() error {
	if i.closed.Load() {
		return errors.Closed(errors.PhaseInvoke, "instance")
	}
	if !i.Metered() {
		return errors.Unsupported(errors.PhaseInvoke, "metering is not enabled for this instance")
	}
	return nil
}

// PointsUsed returns the points consumed so far.
func (i *Instance) PointsUsed() (uint64, error) {
	if err := i.checkMetered(); err != nil {
		return 0, err
	}
	return i.pointsUsed.Get(), nil
}

// PointsLimit returns the current budget.
func (i *Instance) PointsLimit() (uint64, error) {
	if err := i.checkMetered(); err != nil {
		return 0, err
	}
	return i.pointsLimit.Get(), nil
}

// SetPointsLimit replaces the budget. Points already used still count.
func (i *Instance) SetPointsLimit(limit uint64) error {
	if err := i.checkMetered(); err != nil {
		return err
	}
	i.pointsLimit.Set(limit)
	return nil
}

// SetPointsUsed overwrites the consumed points, typically to reset them.
func (i *Instance) SetPointsUsed(used uint64) error {
	if err := i.checkMetered(); err != nil {
		return err
	}
	i.pointsUsed.Set(used)
	return nil
}

func (i *Instance) exhausted() bool {
	return i.Metered() && i.pointsUsed.Get() > i.pointsLimit.Get()
}

// Interrupt makes calls trap at their next function entry or loop
// iteration until Resume is called. A host function may call it to stop
// the call it is running in.
func (i *Instance) Interrupt() error {
	return i.setBreakpoint(1)
}

// Resume clears a pending interrupt.
func (i *Instance) Resume() error {
	return i.setBreakpoint(0)
}

func (i *Instance) setBreakpoint(v uint64) error {
	if i.closed.Load() {
		return errors.Closed(errors.PhaseInvoke, "instance")
	}
	if i.breakpoint == nil {
		return errors.Unsupported(errors.PhaseInvoke, "runtime breakpoints are not enabled for this instance")
	}
	i.breakpoint.Set(v)
	return nil
}

func (i *Instance) interrupted() bool {
	return i.breakpoint != nil && i.breakpoint.Get() != 0
}

// LastLocation reports the last instruction the most recent call reached.
// It is only available with opcode tracing.
func (i *Instance) LastLocation() (middleware.Location, bool) {
	if i.traceLoc == nil || i.closed.Load() {
		return middleware.Location{}, false
	}
	return i.instr.Location(uint32(i.traceLoc.Get()))
}

func (i *Instance) resetTrace() {
	if g, ok := i.traceLoc.(api.MutableGlobal); ok {
		g.Set(0)
	}
}
