// Package wasmembed embeds core WebAssembly modules in Go hosts, with
// optional instruction metering, interruption and tracing.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmembed/
//	├── boundary/        Handle-based embedding API with a per-session error slot
//	├── runtime/         Instances, host functions, calls and export catalogs
//	├── linker/          Import objects, standalone bindings and import resolution
//	├── engine/          wazero runtime, compiled-module cache and compilers
//	├── middleware/      Bytecode passes: metering, breakpoints, opcode trace
//	├── wasm/            Core binary decoding, encoding and instruction walking
//	├── value/           Typed values and their fixed-size wire form
//	├── resource/        Generational handle tables
//	├── config/          Layered configuration (file, environment, flags)
//	├── errors/          Structured error types for debugging
//	└── cmd/wasmembed/   Command-line front end
//
// # Quick Start
//
//	b, err := boundary.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	s := b.NewSession()
//	opts := boundary.CompilationOptions{Metering: true, GasLimit: 10_000}
//	var inst boundary.Handle
//	if s.InstantiateWithOptions(ctx, wasmBytes, &opts, &inst) != boundary.StatusOK {
//	    log.Fatal(s.LastError())
//	}
//	defer s.InstanceDestroy(ctx, inst)
//
//	args := []value.Wire{value.I32(10).ToWire()}
//	results := make([]value.Wire, 1)
//	if s.Call(ctx, inst, boundary.Text("sum"), args, results) != boundary.StatusOK {
//	    log.Fatal(s.LastError())
//	}
//
// # Thread Safety
//
// Boundary, Runtime and the compiled-module cache are safe for concurrent
// use. A Session is not; each goroutine takes its own. Calls on one
// instance must not overlap.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. A memory exported by one
// instance and imported by another is the same memory: writes through
// either are visible to both.
package wasmembed
