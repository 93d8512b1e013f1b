// Command wasmembed lists, calls and interactively explores the exports of
// a WebAssembly module.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
