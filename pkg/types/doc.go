/*
Package types defines the core data structures shared across sari's
indexing pipeline: roots, files, symbols, relations, and the in-memory
task shapes that flow between the watcher, coalesce queue, indexer, and
database writer.

These types carry no behavior beyond what is needed by callers to build
canonical keys (db_path, symbol_id) and are safe to pass by value across
goroutine boundaries; mutation is the caller's responsibility.
*/
package types
