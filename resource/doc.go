// Package resource maps opaque integer handles to Go values.
//
// Handles carry a generation so that a handle outlives the value it named
// without ever resolving to a different value later stored in the same
// slot:
//
//	table := resource.NewTable("instance")
//	h := table.Insert(TypeInstance, inst)
//	table.Remove(h)          // ok
//	table.Remove(h)          // false: stale generation
//	h2 := table.Insert(...)  // may reuse the slot, never the handle
//
// Handle 0 is never issued. Values implementing Dropper are dropped when
// removed or when the table closes.
//
// # Observers
//
// Subscribe registers an Observer that is told about every insert and
// removal.
//
// # Thread Safety
//
// Table is safe for concurrent use.
package resource
