// Package errors provides structured error types for the wasm-embed library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The boundary layer still reports only OK or ERROR to its caller,
// but the Kind of the last failure stays available for hosts that want to
// tell a missing export from a trap or an exhausted budget.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
//		Path("add", "arg0").
//		Detail("expected i32, got f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseInvoke, "export", "run")
//	err := errors.InvalidUTF8(errors.PhaseLink, "import_name", raw)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
