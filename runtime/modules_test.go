package runtime

import (
	"github.com/wippyai/wasm-embed/wasm"
)

var (
	tI32 = wasm.ValI32
	tI64 = wasm.ValI64
	tF32 = wasm.ValF32
	tF64 = wasm.ValF64
)

func vals(t ...wasm.ValType) []wasm.ValType { return t }

func binop(op byte) []byte {
	var c wasm.Code
	c.LocalGet(0).LocalGet(1).Op(op).End()
	return c.Bytes()
}

// arithModule declares its exports in a fixed order that differs from
// their alphabetical order.
func arithModule() *wasm.Module {
	var f32id, noop wasm.Code
	f32id.LocalGet(0).End()
	noop.End()

	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: vals(tI32, tI32), Results: vals(tI32)},
			{Params: vals(tI64, tI64), Results: vals(tI64)},
			{Params: vals(tF64, tF64), Results: vals(tF64)},
			{Params: vals(tF32), Results: vals(tF32)},
			{},
		},
		Funcs:    []uint32{0, 1, 2, 3, 0, 4},
		Memories: []wasm.Limits{{Min: 1}},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: tI32, Mutable: true},
			Init: wasm.ConstExpr(tI32, 7),
		}},
		Code: []wasm.FuncBody{
			{Code: binop(wasm.OpI32Add)},
			{Code: binop(wasm.OpI64Mul)},
			{Code: binop(wasm.OpF64Add)},
			{Code: f32id.Bytes()},
			{Code: binop(wasm.OpI32DivS)},
			{Code: noop.Bytes()},
		},
		Exports: []wasm.Export{
			{Name: "sub_total", Kind: wasm.KindFunc, Idx: 0},
			{Name: "mul64", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
			{Name: "fadd", Kind: wasm.KindFunc, Idx: 2},
			{Name: "counter", Kind: wasm.KindGlobal, Idx: 0},
			{Name: "f32id", Kind: wasm.KindFunc, Idx: 3},
			{Name: "div", Kind: wasm.KindFunc, Idx: 4},
			{Name: "noop", Kind: wasm.KindFunc, Idx: 5},
		},
	}
}

// sumModule exports sum(n) = n + (n-1) + ... + 1 computed in a loop.
// Under the default cost table a call costs 12n+5 points.
func sumModule() *wasm.Module {
	var body wasm.Code
	body.Block(wasm.OpBlock).
		Block(wasm.OpLoop).
		LocalGet(0).Op(wasm.OpI32Eqz).BrIf(1).
		LocalGet(1).LocalGet(0).Op(wasm.OpI32Add).LocalSet(1).
		LocalGet(0).I32Const(1).Op(wasm.OpI32Sub).LocalSet(0).
		Br(0).
		End().
		End().
		LocalGet(1).
		End()

	return &wasm.Module{
		Types: []wasm.FuncType{{Params: vals(tI32), Results: vals(tI32)}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Locals: []wasm.LocalEntry{{Count: 1, ValType: tI32}},
			Code:   body.Bytes(),
		}},
		Exports: []wasm.Export{{Name: "sum", Kind: wasm.KindFunc, Idx: 0}},
	}
}

// hostCallerModule imports env.host_add(i32, i32) -> i32 and exports
// run(a, b) = host_add(a, b) plus its own memory.
func hostCallerModule() *wasm.Module {
	var body wasm.Code
	body.LocalGet(0).LocalGet(1).Call(0).End()
	return &wasm.Module{
		Types: []wasm.FuncType{{Params: vals(tI32, tI32), Results: vals(tI32)}},
		Imports: []wasm.Import{{
			Module: "env", Name: "host_add",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs:    []uint32{0},
		Memories: []wasm.Limits{{Min: 1}},
		Code:     []wasm.FuncBody{{Code: body.Bytes()}},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
	}
}

// startModule calls env.ping() from its start function.
func startModule() *wasm.Module {
	var body wasm.Code
	body.Call(0).End()
	start := uint32(1)
	return &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{{
			Module: "env", Name: "ping",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Start: &start,
		Code:  []wasm.FuncBody{{Code: body.Bytes()}},
	}
}

// memoryImporter imports env.memory and exports put(addr, v).
func memoryImporter() *wasm.Module {
	var body wasm.Code
	body.LocalGet(0).LocalGet(1).Mem(wasm.OpI32Store, 2, 0).End()
	return &wasm.Module{
		Types: []wasm.FuncType{{Params: vals(tI32, tI32)}},
		Imports: []wasm.Import{{
			Module: "env", Name: "memory",
			Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.Limits{Min: 1}},
		}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: body.Bytes()}},
		Exports: []wasm.Export{{Name: "put", Kind: wasm.KindFunc, Idx: 0}},
	}
}
