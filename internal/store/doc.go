// Package store persists the mapping between locally visible thread ids and
// the ids assigned by the two remote services.
//
// # Data Model
//
// A ThreadLink holds:
//
//   - LocalID: the id shown to the user, possibly a pending placeholder
//   - ExternalID: the durable conversation-state id, empty while pending
//   - RegistryID: the cloud registry entry id, empty when not registered
//   - Status: pending, active, or failed
//
// External and registry ids are unique across links when set. Several
// pending links can coexist because their external id is empty.
//
// Only the thread lifecycle coordinator writes links. Other components read
// them to find a thread's durable id.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no CGO) in WAL mode. The
// schema is created on open and older databases are migrated in place:
//
//	s, err := store.NewSQLiteStore("~/.local/share/threadsync/threads.db")
//
// MockStore is an in-memory implementation for tests. Setting its Err field
// makes every call fail.
//
// # Errors
//
//   - ErrNotFound: no link with the requested id
//   - ErrDuplicateLink: a local, external, or registry id is already linked
package store
