package middleware

import (
	"math"

	"github.com/wippyai/wasm-embed/wasm"
)

// Metering charges every straight-line segment of a function before it
// runs. A segment ends after any instruction that can transfer control, so
// each charge covers exactly the instructions that will execute. The call
// traps with unreachable once points used exceeds the limit.
type Metering struct {
	Costs           CostTable
	UnmeteredLocals uint64

	used  uint32
	limit uint32
}

func (m *Metering) Name() string { return "metering" }

func (m *Metering) Prepare(u *Unit) error {
	m.used = u.AddGlobal(ExportPointsUsed, wasm.ValI64, 0)
	m.limit = u.AddGlobal(ExportPointsLimit, wasm.ValI64, math.MaxInt64)
	u.Result.Metered = true
	return nil
}

func (m *Metering) Instrument(_ *Unit, fn *Function) error {
	instrs, err := wasm.DecodeInstructions(fn.Body.Code)
	if err != nil {
		return err
	}

	var entry uint64
	if n := fn.Body.NumLocals(); n > m.UnmeteredLocals {
		entry = (n - m.UnmeteredLocals) * m.Costs.Local
	}

	code := fn.Body.Code
	var out wasm.Code
	for start := 0; start < len(instrs); {
		cost := entry
		entry = 0
		end := start
		for end < len(instrs) {
			ins := instrs[end]
			end++
			cost += m.Costs.Cost(ins)
			if endsSegment(ins.Opcode) {
				break
			}
		}
		if cost > 0 {
			m.charge(&out, cost)
		}
		last := instrs[end-1]
		out.Raw(code[instrs[start].Offset : last.Offset+last.Len])
		start = end
	}
	fn.Body.Code = out.Bytes()
	return nil
}

func (m *Metering) charge(c *wasm.Code, cost uint64) {
	if cost > math.MaxInt64 {
		cost = math.MaxInt64
	}
	c.GlobalGet(m.used).I64Const(int64(cost)).Op(wasm.OpI64Add).GlobalSet(m.used).
		GlobalGet(m.used).GlobalGet(m.limit).Op(wasm.OpI64GtU).
		Block(wasm.OpIf).Op(wasm.OpUnreachable).End()
}

func endsSegment(op byte) bool {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable,
		wasm.OpCall, wasm.OpCallIndirect, wasm.OpReturnCall, wasm.OpReturnCallIndirect,
		wasm.OpCallRef, wasm.OpReturnCallRef, wasm.OpBrOnNull, wasm.OpBrOnNonNull,
		wasm.OpTry, wasm.OpCatch, wasm.OpCatchAll, wasm.OpDelegate, wasm.OpThrow,
		wasm.OpRethrow, wasm.OpThrowRef, wasm.OpTryTable:
		return true
	}
	return false
}
