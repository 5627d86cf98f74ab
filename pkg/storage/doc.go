/*
Package storage owns the workspace SQLite database: schema creation,
the versioned migration ladder, the FTS5 external-content virtual
table and its sync triggers, and the row-level read/write methods
pkg/dbwriter drives through the dbwriter.Store interface.

Every write path goes through a single *sql.DB using modernc.org/sqlite
so the daemon binary stays cgo-free. Open sets no pool limits (the
database/sql defaults apply); writes are serialized by pkg/dbwriter's
single writer goroutine, not by the pool.
*/
package storage
