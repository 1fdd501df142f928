// Package registry is the persistent store of proxy health records.
//
// Records live in a SQLite database opened in WAL mode through gorm, so the
// read API keeps serving a stable snapshot while the scheduler commits probe
// results. Writes are serialized inside the registry and retried with
// exponential backoff; a write or read that keeps failing surfaces as a
// *PersistenceError.
//
// Health transitions are applied by Upsert:
//
//   - a success sets working, resets failed_count and stores the latency
//   - a failure increments failed_count and clears working once it reaches
//     MaxFailures
//   - a record first seen through a failure starts out not working
//
// Records are keyed by their normalized url (see NormalizeURL).
package registry
