// Package event provides the in-process event plumbing for the
// monitoring core: a closed set of event names, typed payloads, and a
// synchronous publish/subscribe bus.
//
// Delivery semantics are deliberately simple:
//   - Handlers run on the publisher's goroutine, in registration order.
//   - A handler error or panic is reported to the bus error hook and
//     swallowed; remaining handlers still run.
//   - There is no wildcard matching and no delivery guarantee beyond
//     best effort within the current process.
//
// The name set is closed: Publish and Subscribe reject names that are
// not part of the enumerated constants, which catches typos at the
// call site instead of silently dropping events.
package event
