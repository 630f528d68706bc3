// Package thread coordinates a thread's lifecycle across two backends: the
// conversation-state service, which owns message content, and the cloud
// registry, which owns listing metadata.
//
// # Identifiers
//
// A thread starts with a pending placeholder id (see NewPendingID) and
// gains a durable id when Create succeeds. Registration adds a registry
// id. The mapping is kept in a store.Store and only the Coordinator
// writes it.
//
// # Consistency
//
// Create propagates any failure to mint a durable id. Registration is best
// effort.
//
// Delete removes content first. If that fails nothing else is touched and
// the error is returned. Registry removal after that is best effort and a
// failure is logged as an orphan. BulkDelete applies Delete to each id
// independently and reports successes and failures separately.
package thread
