/*
Package search implements the search engine adapter: a uniform search
interface over two backing modes (SQLite FTS5 keyword match, always
available, and an embedded bleve full-text index for richer scoring),
a Router that dispatches per-root when multiple workspace roots are
active, and the fallback-governance bookkeeping that records every
embedded-to-SQLite downgrade.

pkg/dbwriter drives Engine.UpsertDocuments/DeleteDocuments after each
successful DB commit; pkg/api drives Engine.Search and Engine.Status
directly.
*/
package search
