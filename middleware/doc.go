// Package middleware builds the bytecode instrumentation applied to a
// module before it is compiled.
//
// A Config selects up to three passes. NewGenerator turns it into a
// Generator, and every call to Generator.Chain returns a fresh Chain whose
// passes run in a fixed order:
//
//  1. metering: charges each straight-line segment of a function against a
//     points budget and traps once the budget is exceeded
//  2. breakpoints: checks a host-controlled flag on function entry and at
//     every loop header so a running call can be interrupted
//  3. opcode trace: records the location of the instruction about to run
//
// Metering sees the unmodified instruction stream; the tracer runs last and
// observes everything injected before it. A Config with every flag off
// yields an empty chain, which leaves module bytes untouched.
//
// Passes communicate with the host through mutable globals exported under
// ReservedPrefix. The Instrumentation returned by Chain.Apply names them.
package middleware
