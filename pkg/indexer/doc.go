/*
Package indexer turns coalesced filesystem paths into fully materialized
database mutations: it walks roots, classifies files through the size,
binary, minified, and sampling gates, runs redaction and the parser
registry, and hands the result to the DB writer and search engine.

Worker exposes the same four operations as the watcher's driving loop:
ScanOnce, RequestRescan, RunForever, and Stop.
*/
package indexer
