// Package history persists the outcome of flash jobs in SQLite.
//
// Each job is one row keyed by its ID. Cancelled and failed writes mark the
// device incomplete so a later listing can warn that the disk holds a
// partial image. The database is a local log, not a coordination point:
// schema changes bump schemaVersion and users delete history.db to adopt
// them.
package history
