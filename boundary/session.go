package boundary

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/runtime"
	"github.com/wippyai/wasm-embed/value"
)

// Session is the error slot of one goroutine. Only the most recent
// failure is kept.
type Session struct {
	b   *Boundary
	err error
	msg string
}

func (s *Session) fail(err error) Status {
	s.err = err
	s.msg = err.Error()
	Logger().Debug("boundary operation failed",
		zap.String("kind", string(errors.KindOf(err))),
		zap.Error(err))
	return StatusError
}

// LastError returns the most recent failure, nil when there is none.
func (s *Session) LastError() error {
	return s.err
}

// LastErrorKind returns the kind of the most recent failure.
func (s *Session) LastErrorKind() errors.Kind {
	return errors.KindOf(s.err)
}

// LastErrorLength returns the buffer size LastErrorMessage needs: the
// message length plus a NUL terminator, 0 when there is no error.
func (s *Session) LastErrorLength() int {
	if s.err == nil {
		return 0
	}
	return len(s.msg) + 1
}

// LastErrorMessage copies the most recent failure into buf, NUL
// terminated, and clears it. It returns the number of bytes written, -1
// when buf is too small (the error is kept) and 0 when there is no error.
func (s *Session) LastErrorMessage(buf []byte) int {
	if s.err == nil {
		return 0
	}
	if len(buf) < len(s.msg)+1 {
		return -1
	}
	n := copy(buf, s.msg)
	buf[n] = 0
	s.err, s.msg = nil, ""
	return n + 1
}

// Import binds one import slot to a binding handle.
type Import struct {
	Module  ByteArray
	Name    ByteArray
	Binding Handle
}

// Instantiate compiles bin without instrumentation and instantiates it
// against imports. Imports the module does not declare are ignored.
func (s *Session) Instantiate(ctx context.Context, bin []byte, imports []Import, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "instance out"))
	}
	if bin == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "wasm bytes"))
	}
	reg := linker.NewRegistry()
	for i, imp := range imports {
		if err := s.b.register(reg, imp.Module, imp.Name, imp.Binding); err != nil {
			return s.fail(errors.Wrap(errors.PhaseBoundary, errors.KindOf(err), err, fmt.Sprintf("import %d", i)))
		}
	}
	objects := reg.Finalize()

	h, err := s.b.instantiate(ctx, func(ctx context.Context) (*runtime.Instance, error) {
		return s.b.runtime.Instantiate(ctx, bin, objects)
	})
	if err != nil {
		return s.fail(err)
	}
	*out = h
	return StatusOK
}

// InstantiateWithOptions compiles bin with the instrumentation selected by
// opts and instantiates it against the default imports. With metering
// enabled the instance starts with a budget of opts.GasLimit points.
func (s *Session) InstantiateWithOptions(ctx context.Context, bin []byte, opts *CompilationOptions, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "instance out"))
	}
	if bin == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "wasm bytes"))
	}
	if opts == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "compilation options"))
	}
	cfg := opts.Middleware()
	objects := s.b.defaults.Finalize()

	h, err := s.b.instantiate(ctx, func(ctx context.Context) (*runtime.Instance, error) {
		return s.b.runtime.InstantiateWithOptions(ctx, bin, objects, cfg)
	})
	if err != nil {
		return s.fail(err)
	}
	*out = h
	return StatusOK
}

// InstanceDestroy closes the instance and invalidates its handle together
// with the context, memory and binding handles taken from it. The zero
// handle is ignored; a handle that is no longer live is an error.
func (s *Session) InstanceDestroy(ctx context.Context, h Handle) Status {
	if h == 0 {
		return StatusOK
	}
	inst, ok := s.b.instances.Remove(h)
	if !ok {
		return s.fail(errors.InvalidHandle("instance", uint64(h)))
	}
	err := inst.Close(ctx)
	s.b.dropDerived(inst)
	if err != nil {
		return s.fail(err)
	}
	return StatusOK
}

// Call invokes the exported function name. At most len(results) results
// are written. results is left untouched when the call fails or returns
// nothing.
func (s *Session) Call(ctx context.Context, h Handle, name ByteArray, args []value.Wire, results []value.Wire) Status {
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	fn, err := name.text("export name")
	if err != nil {
		return s.fail(err)
	}

	params := make([]value.Value, len(args))
	for i, w := range args {
		v, err := value.FromWire(w)
		if err != nil {
			return s.fail(errors.New(errors.PhaseMarshal, errors.KindOf(err)).
				Path(fn, fmt.Sprintf("arg[%d]", i)).Cause(err).Build())
		}
		params[i] = v
	}

	out := make([]value.Value, len(results))
	n, err := inst.CallInto(ctx, fn, params, out)
	if err != nil {
		return s.fail(err)
	}
	for i := 0; i < n; i++ {
		results[i] = out[i].ToWire()
	}
	return StatusOK
}

// InstancePointsUsed reads the points consumed by a metered instance.
func (s *Session) InstancePointsUsed(h Handle, out *uint64) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "points out"))
	}
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	used, err := inst.PointsUsed()
	if err != nil {
		return s.fail(err)
	}
	*out = used
	return StatusOK
}

// InstanceSetPointsLimit replaces the budget of a metered instance.
func (s *Session) InstanceSetPointsLimit(h Handle, limit uint64) Status {
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	if err := inst.SetPointsLimit(limit); err != nil {
		return s.fail(err)
	}
	return StatusOK
}

// InstanceExports snapshots the exports of an instance in declaration
// order. The snapshot is released with ExportsDestroy, independently of
// the instance, and must not be read after the instance is destroyed.
func (s *Session) InstanceExports(h Handle, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "exports out"))
	}
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	exports, err := inst.Exports()
	if err != nil {
		return s.fail(err)
	}
	snap := &snapshot{exports: exports, entries: make([]Handle, exports.Len())}
	sh := s.b.snapshots.Insert(snap)
	if sh == 0 {
		exports.Release()
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	*out = sh
	return StatusOK
}

// ExportsLen returns the number of entries in a snapshot.
func (s *Session) ExportsLen(h Handle, out *int) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "length out"))
	}
	snap, ok := s.b.snapshots.Get(h)
	if !ok {
		return s.fail(errors.InvalidHandle("exports", uint64(h)))
	}
	*out = snap.exports.Len()
	return StatusOK
}

// ExportsGet returns the handle of entry index. Asking twice for the same
// entry returns the same handle.
func (s *Session) ExportsGet(h Handle, index int, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "export out"))
	}
	snap, ok := s.b.snapshots.Get(h)
	if !ok {
		return s.fail(errors.InvalidHandle("exports", uint64(h)))
	}
	export, ok := snap.exports.At(index)
	if !ok {
		return s.fail(errors.New(errors.PhaseBoundary, errors.KindInvalidInput).
			Detail("export index %d out of range [0, %d)", index, snap.exports.Len()).Build())
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if eh := snap.entries[index]; eh != 0 {
		*out = eh
		return StatusOK
	}
	eh := s.b.exports.Insert(export)
	if eh == 0 {
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	snap.entries[index] = eh
	*out = eh
	return StatusOK
}

// ExportsDestroy releases a snapshot and its entry handles. The zero
// handle is ignored.
func (s *Session) ExportsDestroy(h Handle) Status {
	if h == 0 {
		return StatusOK
	}
	snap, ok := s.b.snapshots.Remove(h)
	if !ok {
		return s.fail(errors.InvalidHandle("exports", uint64(h)))
	}
	s.b.mu.Lock()
	entries := snap.entries
	snap.entries = nil
	s.b.mu.Unlock()

	for _, eh := range entries {
		if eh != 0 {
			s.b.exports.Remove(eh)
		}
	}
	return StatusOK
}

func (s *Session) export(h Handle) (runtime.NamedExport, bool) {
	e, ok := s.b.exports.Get(h)
	if !ok {
		s.fail(errors.InvalidHandle("export", uint64(h)))
	}
	return e, ok
}

// ExportName returns the name of an export entry.
func (s *Session) ExportName(h Handle, out *ByteArray) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "name out"))
	}
	e, ok := s.export(h)
	if !ok {
		return StatusError
	}
	*out = Text(e.Name)
	return StatusOK
}

// ExportKind returns the kind of an export entry.
func (s *Session) ExportKind(h Handle, out *linker.Kind) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "kind out"))
	}
	e, ok := s.export(h)
	if !ok {
		return StatusError
	}
	*out = e.Kind
	return StatusOK
}

// ExportBinding returns a binding handle sharing the exported resource.
// It can be passed as an import to another instance and is invalidated
// when the exporting instance is destroyed.
func (s *Session) ExportBinding(h Handle, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "binding out"))
	}
	e, ok := s.export(h)
	if !ok {
		return StatusError
	}
	inst := e.Instance()
	if inst.Closed() {
		return s.fail(errors.Closed(errors.PhaseBoundary, "instance"))
	}
	bh := s.b.bindings.Insert(e.Binding)
	if bh == 0 {
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	s.b.derive(inst, bh)
	*out = bh
	return StatusOK
}

// ContextGet returns the context handle of an instance. It stays valid
// until the instance is destroyed.
func (s *Session) ContextGet(h Handle, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "context out"))
	}
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	ch := s.b.contextHandle(context.Background(), inst.Context())
	if ch == 0 {
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	*out = ch
	return StatusOK
}

// ContextDataSet stores host data on the instance. The boundary does not
// own data.
func (s *Session) ContextDataSet(h Handle, data any) Status {
	inst, err := s.b.instance(h)
	if err != nil {
		return s.fail(err)
	}
	inst.SetData(data)
	return StatusOK
}

// ContextDataGet reads the host data of a context.
func (s *Session) ContextDataGet(h Handle, out *any) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "data out"))
	}
	c, err := s.b.contextOf(h)
	if err != nil {
		return s.fail(err)
	}
	*out = c.Data()
	return StatusOK
}

// ContextMemory returns a handle to memory index of the context's
// instance. Only index 0 is supported.
func (s *Session) ContextMemory(h Handle, index uint32, out *Handle) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "memory out"))
	}
	c, err := s.b.contextOf(h)
	if err != nil {
		return s.fail(err)
	}
	mem, err := c.Memory(index)
	if err != nil {
		return s.fail(err)
	}
	mh := s.b.memories.Insert(mem)
	if mh == 0 {
		return s.fail(errors.Closed(errors.PhaseBoundary, "boundary"))
	}
	s.b.derive(c.Instance(), mh)
	*out = mh
	return StatusOK
}

// MemoryLength returns the size of a memory in bytes.
func (s *Session) MemoryLength(h Handle, out *uint32) Status {
	if out == nil {
		return s.fail(errors.NilPointer(errors.PhaseBoundary, "length out"))
	}
	mem, err := s.b.memory(h)
	if err != nil {
		return s.fail(err)
	}
	*out = mem.Size()
	return StatusOK
}

// MemoryRead copies len(buf) bytes at offset into buf.
func (s *Session) MemoryRead(h Handle, offset uint32, buf []byte) Status {
	mem, err := s.b.memory(h)
	if err != nil {
		return s.fail(err)
	}
	data, ok := mem.Read(offset, uint32(len(buf)))
	if !ok {
		return s.fail(outOfRange(offset, len(buf), mem.Size()))
	}
	copy(buf, data)
	return StatusOK
}

// MemoryWrite copies data into memory at offset.
func (s *Session) MemoryWrite(h Handle, offset uint32, data []byte) Status {
	mem, err := s.b.memory(h)
	if err != nil {
		return s.fail(err)
	}
	if !mem.Write(offset, data) {
		return s.fail(outOfRange(offset, len(data), mem.Size()))
	}
	return StatusOK
}

func outOfRange(offset uint32, n int, size uint32) error {
	return errors.New(errors.PhaseBoundary, errors.KindInvalidInput).
		Detail("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(n), size).Build()
}
