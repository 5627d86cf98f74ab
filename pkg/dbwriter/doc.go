/*
Package dbwriter serializes every mutation of a workspace's SQLite
database through one dedicated writer goroutine.

Tasks are drained off an internal channel in batches (bounded by count
and a max-wait timeout), dispatched against the Store interface in a
fixed canonical order within a single transaction, and — only after
that transaction commits — mirrored into the search Engine so the FTS
index and the row-level storage never observably disagree. A batch
that fails is retried up to a bounded number of times before its tasks
are dropped and counted.
*/
package dbwriter
