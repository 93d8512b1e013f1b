// Package engine owns the wazero store and turns module bytes into compiled
// modules.
//
// Compilation runs in a fixed order:
//
//  1. the caller parses the bytes and, when linking requires it, rewrites
//     import names on the parsed module
//  2. a fresh middleware chain from the Compiler's generator instruments
//     every function body
//  3. the result is encoded and handed to wazero
//
// When the chain is empty and nothing was rewritten the original bytes are
// compiled untouched. Compiled modules are cached in an LRU keyed by the
// digest of the bytes wazero sees; evicted entries are closed. Instances
// created from an evicted module keep working.
//
// The backend is fixed at build time. The default is wazero's optimizing
// compiler on amd64 and arm64; building with -tags wasmembed_interpreter
// (or on any other architecture) selects the interpreter.
//
// Engine is safe for concurrent use.
package engine
