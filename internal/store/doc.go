// Package store provides the scoped key/value storage used by the OAuth
// subsystem.
//
// Two implementations exist: SQLiteStore persists records to a local
// database file, and MemoryStore keeps them in process memory. Open selects
// between them: it prefers the durable store and silently degrades to memory
// when the file cannot be opened, so callers never need to care which one
// they got.
package store
