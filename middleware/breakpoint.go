package middleware

import "github.com/wippyai/wasm-embed/wasm"

// Breakpoints makes running code poll a host-controlled flag on function
// entry and at the head of every loop. While the flag is non-zero the next
// poll traps, which unwinds the current call; clearing the flag lets later
// calls run normally.
type Breakpoints struct {
	flag uint32
}

func (b *Breakpoints) Name() string { return "runtime_breakpoints" }

func (b *Breakpoints) Prepare(u *Unit) error {
	b.flag = u.AddGlobal(ExportBreakpoint, wasm.ValI32, 0)
	u.Result.Breakpoints = true
	return nil
}

func (b *Breakpoints) Instrument(_ *Unit, fn *Function) error {
	instrs, err := wasm.DecodeInstructions(fn.Body.Code)
	if err != nil {
		return err
	}
	code := fn.Body.Code
	var out wasm.Code
	b.poll(&out)
	for _, ins := range instrs {
		out.Raw(code[ins.Offset : ins.Offset+ins.Len])
		if ins.Opcode == wasm.OpLoop {
			b.poll(&out)
		}
	}
	fn.Body.Code = out.Bytes()
	return nil
}

func (b *Breakpoints) poll(c *wasm.Code) {
	c.GlobalGet(b.flag).Block(wasm.OpIf).Op(wasm.OpUnreachable).End()
}
