// Package boundary is the handle-based embedding surface.
//
// Everything a host touches is an opaque Handle: instances, export
// snapshots and their entries, bindings, contexts and memories. Handles
// carry a generation, so a destroyed or foreign handle is reported as
// invalid instead of reaching freed state.
//
// Every operation is a Session method returning a Status. On StatusError
// the output parameters are left untouched and the session holds the
// failure until the next one overwrites it:
//
//	s := b.NewSession()
//	var inst boundary.Handle
//	if s.Instantiate(ctx, wasmBytes, nil, &inst) != boundary.StatusOK {
//	    buf := make([]byte, s.LastErrorLength())
//	    s.LastErrorMessage(buf)
//	}
//
// A Session is not safe for concurrent use. Give each goroutine its own;
// the sessions of one Boundary share every handle.
package boundary
