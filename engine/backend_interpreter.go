//go:build wasmembed_interpreter || !(amd64 || arm64)

package engine

import "github.com/tetratelabs/wazero"

// Backend names the execution backend compiled into this binary.
const Backend = "interpreter"

func newRuntimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfigInterpreter()
}
