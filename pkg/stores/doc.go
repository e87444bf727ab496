// Package stores provides the persistence layer for study runs.
// It includes a SQLite-based store with embedded migrations, WAL mode for
// on-disk databases, and CRUD operations for runs, their registered
// parameters, recorded cases and the event log. Deleting a run removes its
// parameters, cases and events.
package stores
