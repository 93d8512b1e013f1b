package middleware

import "github.com/wippyai/wasm-embed/wasm"

// OpcodeTrace stores a location id into a global before each instruction.
// After a call the host reads the global and resolves the id through
// Instrumentation.Location to find the last instruction reached.
type OpcodeTrace struct {
	loc uint32
}

func (t *OpcodeTrace) Name() string { return "opcode_trace" }

func (t *OpcodeTrace) Prepare(u *Unit) error {
	t.loc = u.AddGlobal(ExportTraceLocation, wasm.ValI32, 0)
	u.Result.Traced = true
	return nil
}

func (t *OpcodeTrace) Instrument(u *Unit, fn *Function) error {
	instrs, err := wasm.DecodeInstructions(fn.Body.Code)
	if err != nil {
		return err
	}
	code := fn.Body.Code
	var out wasm.Code
	for i, ins := range instrs {
		if ins.Opcode != wasm.OpEnd && ins.Opcode != wasm.OpElse {
			u.Result.Locations = append(u.Result.Locations, Location{
				Func:   fn.Index,
				Instr:  i,
				Sub:    ins.Sub,
				Opcode: ins.Opcode,
			})
			out.I32Const(int32(len(u.Result.Locations))).GlobalSet(t.loc)
		}
		out.Raw(code[ins.Offset : ins.Offset+ins.Len])
	}
	fn.Body.Code = out.Bytes()
	return nil
}
