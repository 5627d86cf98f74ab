// Package daemon wires the pipeline packages — watcher, coalesce,
// indexer, dbwriter, search, registry, lock — into one process
// lifecycle behind a single Start/Stop.
package daemon
