// Package wasm decodes and encodes WebAssembly core module binaries.
//
// It understands exactly as much of the format as instrumentation and
// import rewriting need: types, imports, functions, tables, memories,
// globals, exports, start and code are decoded into Go values, while
// element, data and data-count sections travel through as raw bytes.
// Function bodies keep their instruction stream encoded; DecodeInstructions
// splits a body into instruction boundaries without materializing
// immediates, so a pass can splice new instructions between existing ones
// without renumbering anything.
//
// # Parsing
//
//	m, err := wasm.ParseModule(data)
//	for _, exp := range m.Exports {
//		fmt.Println(exp.Name, wasm.KindName(exp.Kind))
//	}
//
// # Building
//
// Small modules can be assembled directly, which is how host-created
// memories, globals and tables are given a home in the store:
//
//	var body wasm.Code
//	body.LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()
//	m := &wasm.Module{
//		Types:   []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
//		Funcs:   []uint32{0},
//		Code:    []wasm.FuncBody{{Code: body.Bytes()}},
//		Exports: []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}},
//	}
//	bin := m.Encode()
package wasm
